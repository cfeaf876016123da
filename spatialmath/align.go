package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// AlignPointSets finds the rigid transform dst_from_src minimizing the summed squared distance
// between dst[i] and the transformed src[i] (Kabsch). At least three non-collinear pairs are needed
// for a unique answer.
func AlignPointSets(src, dst []r3.Vector) (Rigid3, error) {
	if len(src) != len(dst) {
		return Rigid3{}, errors.Errorf("point sets differ in size: %d != %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return Rigid3{}, errors.Errorf("need at least 3 point pairs, got %d", len(src))
	}

	n := float64(len(src))
	var srcMean, dstMean r3.Vector
	for i := range src {
		srcMean = srcMean.Add(src[i])
		dstMean = dstMean.Add(dst[i])
	}
	srcMean = srcMean.Mul(1 / n)
	dstMean = dstMean.Mul(1 / n)

	// cross covariance H = sum (s - s̄)(d - d̄)ᵀ
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcMean)
		d := dst[i].Sub(dstMean)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Rigid3{}, errors.New("failed to factorize cross covariance")
	}
	values := svd.Values(nil)
	if values[1] < 1e-12*(1+values[0]) {
		return Rigid3{}, errors.New("point sets are degenerate (collinear or coincident)")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·diag(1, 1, det(V·Uᵀ))·Uᵀ
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vut) < 0 {
		d.SetDiag(2, -1)
	}
	var rot mat.Dense
	rot.Mul(&v, d)
	rot.Mul(&rot, u.T())

	rm, err := NewRotationMatrix(rot.RawMatrix().Data)
	if err != nil {
		return Rigid3{}, err
	}
	q := rm.Quaternion()
	t := dstMean.Sub(RotateVector(q, srcMean))
	return Rigid3{Rotation: q, Translation: t}, nil
}
