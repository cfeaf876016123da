package estimators

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/spatialmath"
)

// Generalized relative pose: each observation is a line in its rig frame through the camera center
// c along the ray d. With rig2_from_rig1 = (R, t), the line of rig 1 mapped into rig 2 must meet the
// corresponding line of rig 2:
//
//	f = (R·c1 + t - c2) · ((R·d1) × d2) = 0
//
// f is linear in t for a fixed R. Both solvers seed R, solve t linearly and polish (R, t) with
// damped Gauss-Newton on f. f vanishes for any rays once every camera pair has a zero baseline, so
// polished candidates are ranked by cheirality and Sampson error instead of by f.

// GR6PEstimator is the minimal generalized relative pose solver. It may return several models.
// The model is rig2_from_rig1.
type GR6PEstimator struct{}

// MinNumSamples implements ransac.Estimator.
func (GR6PEstimator) MinNumSamples() int {
	return 6
}

// Estimate implements ransac.Estimator.
func (GR6PEstimator) Estimate(obs1, obs2 []RigObservation) []spatialmath.Rigid3 {
	lp, ok := newLinePairs(obs1, obs2)
	if !ok || len(lp.lines) < 6 {
		return nil
	}
	tol := 1e-8 * lp.scale
	var models []spatialmath.Rigid3
	for _, seed := range rotationSeeds() {
		t, ok := lp.translationGivenRotation(seed)
		if !ok {
			continue
		}
		model, cost := lp.polish(spatialmath.Rigid3{Rotation: seed, Translation: t})
		if math.Sqrt(cost/float64(len(lp.lines))) > tol {
			continue
		}
		if score, ok := lp.score(model); !ok || score.numInFront < score.numPairs {
			continue
		}
		models = appendDistinct(models, model, 1e-6)
	}
	return models
}

// Residuals implements ransac.Estimator with GeneralizedRelativeResiduals.
func (GR6PEstimator) Residuals(obs1, obs2 []RigObservation, rig2FromRig1 spatialmath.Rigid3, residuals []float64) {
	GeneralizedRelativeResiduals(obs1, obs2, rig2FromRig1, residuals)
}

// GR8PEstimator is the non-minimal generalized relative pose solver used for local optimization.
// It returns the single model with the most correspondences in front of both cameras, ties broken
// by the smallest summed Sampson error.
type GR8PEstimator struct{}

// MinNumSamples implements ransac.Estimator.
func (GR8PEstimator) MinNumSamples() int {
	return 8
}

// Estimate implements ransac.Estimator. With 17 or more correspondences the linear solution of the
// generalized epipolar constraint is tried as an additional seed.
func (GR8PEstimator) Estimate(obs1, obs2 []RigObservation) []spatialmath.Rigid3 {
	lp, ok := newLinePairs(obs1, obs2)
	if !ok || len(lp.lines) < 8 {
		return nil
	}
	seeds := rotationSeeds()
	if len(lp.lines) >= 17 {
		if r, ok := lp.linearRotation(); ok {
			seeds = append([]quat.Number{r}, seeds...)
		}
	}
	return lp.best(seeds, nil)
}

// EstimateFrom implements ransac.LocalEstimator by polishing the given hypothesis on the samples.
func (GR8PEstimator) EstimateFrom(obs1, obs2 []RigObservation, initial spatialmath.Rigid3) []spatialmath.Rigid3 {
	lp, ok := newLinePairs(obs1, obs2)
	if !ok || len(lp.lines) < 8 {
		return nil
	}
	return lp.best(nil, &initial)
}

// Residuals implements ransac.Estimator with GeneralizedRelativeResiduals.
func (GR8PEstimator) Residuals(obs1, obs2 []RigObservation, rig2FromRig1 spatialmath.Rigid3, residuals []float64) {
	GeneralizedRelativeResiduals(obs1, obs2, rig2FromRig1, residuals)
}

// GeneralizedRelativeResiduals computes, per correspondence, the Sampson residual of the two rays
// under the relative pose of the two observing cameras,
// cam2_from_cam1 = cam2_from_rig2 · rig2_from_rig1 · rig1_from_cam1.
func GeneralizedRelativeResiduals(obs1, obs2 []RigObservation, rig2FromRig1 spatialmath.Rigid3, residuals []float64) {
	for i := range obs1 {
		if !obs1[i].IsValid() || !obs2[i].IsValid() {
			residuals[i] = math.Inf(1)
			continue
		}
		cam2FromCam1 := spatialmath.Compose(obs2[i].CamFromRig,
			spatialmath.Compose(rig2FromRig1, obs1[i].CamFromRig.Inverse()))
		residuals[i] = SampsonResidual(obs1[i].RayInCam, obs2[i].RayInCam, cam2FromCam1)
	}
}

type linePair struct {
	c1, d1, c2, d2 r3.Vector
}

type linePairs struct {
	obs1, obs2 []RigObservation
	lines      []linePair
	// typical magnitude of a camera center, sets the tolerances
	scale float64
}

func newLinePairs(obs1, obs2 []RigObservation) (linePairs, bool) {
	if len(obs1) != len(obs2) || len(obs1) == 0 || !allValid(obs1) || !allValid(obs2) {
		return linePairs{}, false
	}
	lines := make([]linePair, len(obs1))
	sum := 0.0
	for i := range obs1 {
		lines[i] = linePair{
			c1: obs1[i].CenterInRig(),
			d1: obs1[i].RayInRig().Normalize(),
			c2: obs2[i].CenterInRig(),
			d2: obs2[i].RayInRig().Normalize(),
		}
		sum += lines[i].c1.Norm() + lines[i].c2.Norm()
	}
	return linePairs{obs1: obs1, obs2: obs2, lines: lines, scale: 1 + sum/float64(2*len(lines))}, true
}

// candidateScore ranks a polished hypothesis on the correspondences it was estimated from. Pairs
// of cameras whose baseline vanishes under the hypothesis carry no epipolar information and are
// left out.
type candidateScore struct {
	numPairs   int
	numInFront int
	sampson    float64
}

func (s candidateScore) betterThan(other candidateScore) bool {
	if s.numInFront != other.numInFront {
		return s.numInFront > other.numInFront
	}
	return s.sampson < other.sampson
}

// score evaluates rig2_from_rig1. It reports false when no camera pair keeps a baseline, which is
// the degenerate family of motions mapping every camera center onto its partner.
func (lp linePairs) score(rig2FromRig1 spatialmath.Rigid3) (candidateScore, bool) {
	var s candidateScore
	minBaseline := 1e-9 * lp.scale
	for i := range lp.obs1 {
		o1, o2 := lp.obs1[i], lp.obs2[i]
		cam2FromCam1 := spatialmath.Compose(o2.CamFromRig,
			spatialmath.Compose(rig2FromRig1, o1.CamFromRig.Inverse()))
		if cam2FromCam1.Translation.Norm() <= minBaseline {
			continue
		}
		s.numPairs++
		s.sampson += SampsonResidual(o1.RayInCam, o2.RayInCam, cam2FromCam1)
		if inFrontOfBoth(cam2FromCam1, o1.RayInCam, o2.RayInCam) {
			s.numInFront++
		}
	}
	if s.numPairs == 0 || math.IsNaN(s.sampson) || math.IsInf(s.sampson, 0) {
		return s, false
	}
	return s, true
}

// translationGivenRotation solves the constraints for t in the least squares sense.
func (lp linePairs) translationGivenRotation(q quat.Number) (r3.Vector, bool) {
	ata := mat.NewSymDense(3, nil)
	atb := mat.NewVecDense(3, nil)
	for _, l := range lp.lines {
		u := spatialmath.RotateVector(q, l.c1)
		g := spatialmath.RotateVector(q, l.d1).Cross(l.d2)
		// g·t = -(u - c2)·g
		rhs := -u.Sub(l.c2).Dot(g)
		gv := [3]float64{g.X, g.Y, g.Z}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				ata.SetSym(r, c, ata.At(r, c)+gv[r]*gv[c])
			}
			atb.SetVec(r, atb.AtVec(r)+gv[r]*rhs)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return r3.Vector{}, false
	}
	var t mat.VecDense
	if err := chol.SolveVecTo(&t, atb); err != nil {
		return r3.Vector{}, false
	}
	return r3.Vector{X: t.AtVec(0), Y: t.AtVec(1), Z: t.AtVec(2)}, true
}

// evaluate writes f for every line pair and, when jac is non-nil, the derivative of f with respect
// to a left rotation increment (columns 0-2) and a translation increment (columns 3-5).
func (lp linePairs) evaluate(model spatialmath.Rigid3, f []float64, jac *mat.Dense) {
	for i, l := range lp.lines {
		u := spatialmath.RotateVector(model.Rotation, l.c1)
		v := spatialmath.RotateVector(model.Rotation, l.d1)
		g := v.Cross(l.d2)
		h := u.Add(model.Translation).Sub(l.c2)
		f[i] = h.Dot(g)
		if jac == nil {
			continue
		}
		jr := u.Cross(g).Add(v.Cross(l.d2.Cross(h)))
		jac.SetRow(i, []float64{jr.X, jr.Y, jr.Z, g.X, g.Y, g.Z})
	}
}

// polish runs Levenberg-Marquardt on f from the given model and returns the result with its cost.
func (lp linePairs) polish(model spatialmath.Rigid3) (spatialmath.Rigid3, float64) {
	const maxIterations = 100
	n := len(lp.lines)
	f := make([]float64, n)
	fNext := make([]float64, n)
	jac := mat.NewDense(n, 6, nil)

	lp.evaluate(model, f, jac)
	cost := floats.Dot(f, f)
	lambda := 1e-4
	for iter := 0; iter < maxIterations && cost > 0; iter++ {
		jtj := mat.NewSymDense(6, nil)
		jtj.SymOuterK(1, jac.T())
		jtf := mat.NewVecDense(6, nil)
		jtf.MulVec(jac.T(), mat.NewVecDense(n, f))

		improved := false
		for attempt := 0; attempt < 10 && !improved; attempt++ {
			damped := mat.NewSymDense(6, nil)
			damped.CopySym(jtj)
			for k := 0; k < 6; k++ {
				damped.SetSym(k, k, jtj.At(k, k)*(1+lambda)+1e-12)
			}
			var chol mat.Cholesky
			var step mat.VecDense
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(&step, jtf); err != nil {
				lambda *= 10
				continue
			}
			dq := spatialmath.QuatFromR3(r3.Vector{X: -step.AtVec(0), Y: -step.AtVec(1), Z: -step.AtVec(2)})
			candidate := spatialmath.NewRigid3(
				quat.Mul(dq, model.Rotation),
				model.Translation.Sub(r3.Vector{X: step.AtVec(3), Y: step.AtVec(4), Z: step.AtVec(5)}),
			)
			lp.evaluate(candidate, fNext, nil)
			nextCost := floats.Dot(fNext, fNext)
			if nextCost >= cost {
				lambda *= 10
				continue
			}
			improved = true
			stepNorm := mat.Norm(&step, 2)
			relDecrease := (cost - nextCost) / cost
			model, cost = candidate, nextCost
			lambda = math.Max(lambda/10, 1e-12)
			if stepNorm < 1e-12*lp.scale || relDecrease < 1e-14 {
				return model, cost
			}
		}
		if !improved {
			break
		}
		lp.evaluate(model, f, jac)
	}
	return model, cost
}

// best polishes the optional initial model and every seed and returns the best scoring model.
func (lp linePairs) best(seeds []quat.Number, initial *spatialmath.Rigid3) []spatialmath.Rigid3 {
	var (
		bestModel spatialmath.Rigid3
		bestScore candidateScore
		found     bool
	)
	try := func(start spatialmath.Rigid3) {
		model, _ := lp.polish(start)
		score, ok := lp.score(model)
		if !ok {
			return
		}
		if !found || score.betterThan(bestScore) {
			bestModel, bestScore, found = model, score, true
		}
	}
	if initial != nil {
		try(*initial)
	}
	for _, seed := range seeds {
		if t, ok := lp.translationGivenRotation(seed); ok {
			try(spatialmath.Rigid3{Rotation: seed, Translation: t})
		}
	}
	if !found {
		return nil
	}
	return []spatialmath.Rigid3{bestModel}
}

// linearRotation solves the 17 point linear form of the generalized epipolar constraint in
// Plücker coordinates,
//
//	d2ᵀ·E·d1 + d2ᵀ·R·m1 + m2ᵀ·R·d1 = 0, m = c × d,
//
// and returns the rotation block projected onto SO(3).
func (lp linePairs) linearRotation() (quat.Number, bool) {
	n := len(lp.lines)
	a := mat.NewDense(n, 18, nil)
	for i, l := range lp.lines {
		m1 := l.c1.Cross(l.d1)
		m2 := l.c2.Cross(l.d2)
		d1 := [3]float64{l.d1.X, l.d1.Y, l.d1.Z}
		d2 := [3]float64{l.d2.X, l.d2.Y, l.d2.Z}
		mm1 := [3]float64{m1.X, m1.Y, m1.Z}
		mm2 := [3]float64{m2.X, m2.Y, m2.Z}
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				a.Set(i, 3*j+k, d2[j]*d1[k])
				a.Set(i, 9+3*j+k, d2[j]*mm1[k]+mm2[j]*d1[k])
			}
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return quat.Number{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	rot := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		for k := 0; k < 3; k++ {
			rot.Set(j, k, v.At(9+3*j+k, 17))
		}
	}
	det := mat.Det(rot)
	if math.Abs(det) < 1e-12 {
		return quat.Number{}, false
	}
	rot.Scale(1/math.Cbrt(det), rot)
	rm, err := spatialmath.NewRotationMatrixFromDense(rot)
	if err != nil {
		return quat.Number{}, false
	}
	return rm.Quaternion(), true
}

// rotationSeeds returns identity and rotations about the coordinate axes covering the circle.
func rotationSeeds() []quat.Number {
	seeds := []quat.Number{{Real: 1}}
	axes := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	angles := []float64{math.Pi / 6, -math.Pi / 6, math.Pi / 3, -math.Pi / 3, math.Pi / 2, -math.Pi / 2, math.Pi}
	for _, axis := range axes {
		for _, angle := range angles {
			seeds = append(seeds, spatialmath.QuatFromR3(axis.Mul(angle)))
		}
	}
	return seeds
}
