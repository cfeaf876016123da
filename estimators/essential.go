package estimators

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/spatialmath"
)

// EssentialMatrixEstimator estimates the relative pose of two central cameras from bearing
// correspondences with the eight point algorithm. Rays need not lie in front of the camera, so it
// also serves panoramic rigs whose rays span the full sphere. The model is cam2_from_cam1 with a
// unit translation.
type EssentialMatrixEstimator struct{}

// MinNumSamples implements ransac.Estimator.
func (EssentialMatrixEstimator) MinNumSamples() int {
	return 8
}

// Estimate implements ransac.Estimator. It accepts eight or more correspondences.
func (EssentialMatrixEstimator) Estimate(rays1, rays2 []r3.Vector) []spatialmath.Rigid3 {
	if len(rays1) < 8 || len(rays1) != len(rays2) || !allNonZero(rays1) || !allNonZero(rays2) {
		return nil
	}
	essMat, err := EssentialMatrixFromRays(rays1, rays2)
	if err != nil {
		return nil
	}
	pose, ok := PoseFromEssentialMatrix(essMat, rays1, rays2)
	if !ok {
		return nil
	}
	return []spatialmath.Rigid3{pose}
}

// Residuals implements ransac.Estimator with SampsonResidual.
func (EssentialMatrixEstimator) Residuals(rays1, rays2 []r3.Vector, cam2FromCam1 spatialmath.Rigid3, residuals []float64) {
	for i := range rays1 {
		residuals[i] = SampsonResidual(rays1[i], rays2[i], cam2FromCam1)
	}
}

// SampsonResidual is the squared Sampson distance of a pair of unit bearings to the epipolar
// geometry of cam2_from_cam1, E = [t]x·R:
//
//	(x2ᵀ·E·x1)² / (|E·x1|² + |Eᵀ·x2|²)
//
// Zero rays and a degenerate (zero translation) pose give an infinite residual.
func SampsonResidual(ray1, ray2 r3.Vector, cam2FromCam1 spatialmath.Rigid3) float64 {
	if ray1 == (r3.Vector{}) || ray2 == (r3.Vector{}) {
		return math.Inf(1)
	}
	x1 := ray1.Normalize()
	x2 := ray2.Normalize()
	t := cam2FromCam1.Translation
	ex1 := t.Cross(spatialmath.RotateVector(cam2FromCam1.Rotation, x1))
	// |Eᵀ·x2| = |Rᵀ·(x2 × t)| = |x2 × t|
	etx2 := x2.Cross(t)
	denom := ex1.Norm2() + etx2.Norm2()
	if denom == 0 {
		return math.Inf(1)
	}
	num := x2.Dot(ex1)
	return num * num / denom
}

// EssentialMatrixFromRays solves x2ᵀ·E·x1 = 0 in the least squares sense and projects the result
// onto the essential manifold (two equal singular values, one zero).
func EssentialMatrixFromRays(rays1, rays2 []r3.Vector) (*mat.Dense, error) {
	if len(rays1) != len(rays2) {
		return nil, errors.New("sets of rays must have the same number of elements")
	}
	if len(rays1) < 8 {
		return nil, errors.New("sets of rays must have at least 8 elements")
	}
	m := mat.NewDense(len(rays1), 9, nil)
	for i := range rays1 {
		v1 := rays1[i].Normalize()
		v2 := rays2[i].Normalize()
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X * v1.Z,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y * v1.Z,
			v2.Z * v1.X, v2.Z * v1.Y, v2.Z * v1.Z,
		})
	}
	mats1 := performSVD(m)
	if mats1 == nil {
		return nil, errors.New("failed to factorize the epipolar constraints")
	}
	lastColV := mats1.V.ColView(8)
	data := make([]float64, 9)
	for i := range data {
		data[i] = lastColV.AtVec(i)
	}
	essMat := mat.NewDense(3, 3, data)

	// enforce singular values (1, 1, 0)
	mats2 := performSVD(essMat)
	if mats2 == nil {
		return nil, errors.New("failed to factorize the essential matrix")
	}
	s := mat.NewDiagDense(3, []float64{1, 1, 0})
	essMat.Mul(mats2.U, s)
	essMat.Mul(essMat, mats2.VT)
	return essMat, nil
}

// DecomposeEssentialMatrix decomposes the essential matrix into its two possible rotations and
// the unit translation direction (defined up to sign).
func DecomposeEssentialMatrix(essMat mat.Matrix) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	mats := performSVD(mat.DenseCopyOf(essMat))
	if mats == nil {
		return nil, nil, r3.Vector{}, errors.New("failed to factorize the essential matrix")
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	w := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var r1, r2 mat.Dense
	// U·W·Vᵀ
	r1.Mul(mats.U, w)
	r1.Mul(&r1, mats.VT)
	// U·Wᵀ·Vᵀ
	r2.Mul(mats.U, w.T())
	r2.Mul(&r2, mats.VT)
	t := r3.Vector{X: mats.U.At(0, 2), Y: mats.U.At(1, 2), Z: mats.U.At(2, 2)}
	return &r1, &r2, t, nil
}

// PoseFromEssentialMatrix picks, among the four decompositions of the essential matrix, the
// pose that places the most triangulated correspondences in front of both cameras.
func PoseFromEssentialMatrix(essMat mat.Matrix, rays1, rays2 []r3.Vector) (spatialmath.Rigid3, bool) {
	r1, r2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return spatialmath.Rigid3{}, false
	}
	best := spatialmath.Rigid3{}
	bestCount := 0
	for _, r := range []*mat.Dense{r1, r2} {
		rm, err := spatialmath.NewRotationMatrix(r.RawMatrix().Data)
		if err != nil {
			continue
		}
		q := rm.Quaternion()
		for _, sign := range []float64{1, -1} {
			candidate := spatialmath.Rigid3{Rotation: q, Translation: t.Mul(sign)}
			if count := CountPositiveDepth(candidate, rays1, rays2); count > bestCount {
				best, bestCount = candidate, count
			}
		}
	}
	return best, bestCount > 0
}

// CountPositiveDepth returns the number of correspondences that triangulate in front of both
// cameras, measuring depth along each ray.
func CountPositiveDepth(cam2FromCam1 spatialmath.Rigid3, rays1, rays2 []r3.Vector) int {
	count := 0
	for i := range rays1 {
		if inFrontOfBoth(cam2FromCam1, rays1[i], rays2[i]) {
			count++
		}
	}
	return count
}

// inFrontOfBoth reports whether the triangulated point of the two rays has positive depth in both
// cameras.
func inFrontOfBoth(cam2FromCam1 spatialmath.Rigid3, ray1, ray2 r3.Vector) bool {
	point, ok := triangulateRays(cam2FromCam1, ray1, ray2)
	if !ok {
		return false
	}
	return point.Dot(ray1) > 0 && cam2FromCam1.Apply(point).Dot(ray2) > 0
}

// triangulateRays computes the point seen along ray1 from camera 1 and ray2 from camera 2 with the
// linear method, expressed in the frame of camera 1.
func triangulateRays(cam2FromCam1 spatialmath.Rigid3, ray1, ray2 r3.Vector) (r3.Vector, bool) {
	p := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	rm := cam2FromCam1.RotationMatrix()
	t := cam2FromCam1.Translation
	pDash := mat.NewDense(3, 4, []float64{
		rm.At(0, 0), rm.At(0, 1), rm.At(0, 2), t.X,
		rm.At(1, 0), rm.At(1, 1), rm.At(1, 2), t.Y,
		rm.At(2, 0), rm.At(2, 1), rm.At(2, 2), t.Z,
	})
	var p1CrossP, p2CrossPdash mat.Dense
	p1CrossP.Mul(spatialmath.SkewSymmetric(ray1), p)
	p2CrossPdash.Mul(spatialmath.SkewSymmetric(ray2), pDash)
	var a mat.Dense
	a.Stack(&p1CrossP, &p2CrossPdash)

	var svd mat.SVD
	if ok := svd.Factorize(&a, mat.SVDFull); !ok {
		return r3.Vector{}, false
	}
	// Determine the rank of the A matrix with a near zero condition threshold.
	const rcond = 1e-15
	if svd.Rank(rcond) == 0 {
		return r3.Vector{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) < 1e-12 {
		// at infinity: no depth to test
		return r3.Vector{}, false
	}
	return r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}, true
}

// EstimateRelativePose robustly estimates cam2_from_cam1 from bearing correspondences of two
// central cameras. The translation has unit norm.
func EstimateRelativePose(opts ransac.Options, rays1, rays2 []r3.Vector) (*ransac.Report[spatialmath.Rigid3], error) {
	engine, err := ransac.NewLORANSAC[r3.Vector, r3.Vector, spatialmath.Rigid3](
		opts, EssentialMatrixEstimator{}, EssentialMatrixEstimator{}, ransac.InlierSupportMeasurer{})
	if err != nil {
		return nil, err
	}
	return engine.Estimate(rays1, rays2)
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U and V from the decomposition.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}
	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	return &matsSVD{u, v, vt}
}
