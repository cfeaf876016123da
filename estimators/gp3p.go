package estimators

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rigpose/spatialmath"
)

// GP3PEstimator solves the generalized absolute pose problem from three rig observations of known
// world points. The model is rig_from_world.
//
// Writing each point in the rig frame as p_i = c_i + λ_i·d_i, where c_i is the observing camera's
// center and d_i its ray in the rig frame, the pairwise distances |p_i - p_j| must equal the
// distances between the world points. The three resulting quadrics are reduced to a univariate
// polynomial of degree 8 in λ_1, the remaining depths are recovered per root and the pose is the
// rigid alignment of the world points onto the p_i.
type GP3PEstimator struct{}

// MinNumSamples implements ransac.Estimator.
func (GP3PEstimator) MinNumSamples() int {
	return 3
}

// pairTerms holds the coefficients of
//
//	λ_i² + λ_j² - 2·a·λ_i·λ_j + bi·λ_i + bj·λ_j + k = 0.
type pairTerms struct {
	a, bi, bj, k float64
}

func newPairTerms(ci, di, cj, dj, xi, xj r3.Vector) pairTerms {
	e := ci.Sub(cj)
	dist := xi.Sub(xj).Norm2()
	return pairTerms{
		a:  di.Dot(dj),
		bi: 2 * di.Dot(e),
		bj: -2 * dj.Dot(e),
		k:  e.Norm2() - dist,
	}
}

func (p pairTerms) eval(li, lj float64) float64 {
	return li*li + lj*lj - 2*p.a*li*lj + p.bi*li + p.bj*lj + p.k
}

// Estimate implements ransac.Estimator.
func (GP3PEstimator) Estimate(obs []RigObservation, points3D []r3.Vector) []spatialmath.Rigid3 {
	if len(obs) < 3 || len(points3D) < 3 || !allValid(obs[:3]) {
		return nil
	}
	var c, d [3]r3.Vector
	for i := 0; i < 3; i++ {
		c[i] = obs[i].CenterInRig()
		d[i] = obs[i].RayInRig().Normalize()
	}
	x := points3D[:3]

	p12 := newPairTerms(c[0], d[0], c[1], d[1], x[0], x[1])
	p13 := newPairTerms(c[0], d[0], c[2], d[2], x[0], x[2])
	p23 := newPairTerms(c[1], d[1], c[2], d[2], x[1], x[2])

	// E12 + E13 - E23 has no λ2² or λ3² terms and is linear in λ3 given λ1, λ2:
	//   λ3·M + R = 0, M = m1·λ2 + m0, -R = n1·λ2 + n0 (coefficients are polynomials in λ1)
	kk := p12.k + p13.k - p23.k
	n1 := poly{-(p12.bj - p23.bi), 2 * p12.a}
	n0 := poly{-kk, -(p12.bi + p13.bi), -2}
	m1 := poly{2 * p23.a}
	m0 := poly{p13.bj - p23.bj, -2 * p13.a}

	// Substituting λ3 = N/M into E13 and clearing M² gives A2·λ2² + A1·λ2 + A0 = 0.
	pp := poly{p13.k, p13.bi, 1}
	rr := poly{p13.bj, -2 * p13.a}
	a2 := pp.mul(m1).mul(m1).add(n1.mul(n1)).add(rr.mul(n1).mul(m1))
	a1 := pp.mul(m1).mul(m0).scale(2).add(n1.mul(n0).scale(2)).add(rr.mul(n1.mul(m0).add(n0.mul(m1))))
	a0 := pp.mul(m0).mul(m0).add(n0.mul(n0)).add(rr.mul(n0).mul(m0))

	// E12 as a quadratic in λ2: λ2² + B1·λ2 + B0 = 0.
	b1 := poly{p12.bj, -2 * p12.a}
	b0 := poly{p12.k, p12.bi, 1}

	// Resultant of the two quadratics in λ2 (B2 = 1) is an octic in λ1.
	lhs := a2.mul(b0).sub(a0)
	res := lhs.mul(lhs).sub(a2.mul(b1).sub(a1).mul(a1.mul(b0).sub(a0.mul(b1))))

	scale := 1 + x[0].Sub(x[1]).Norm2() + x[0].Sub(x[2]).Norm2() + x[1].Sub(x[2]).Norm2()
	var models []spatialmath.Rigid3
	for _, l1 := range res.realRoots() {
		if l1 <= 0 {
			continue
		}
		for _, l2 := range quadraticRoots(1, b1.eval(l1), b0.eval(l1)) {
			if l2 <= 0 {
				continue
			}
			for _, l3 := range quadraticRoots(1, p13.bj-2*p13.a*l1, l1*l1+p13.bi*l1+p13.k) {
				if l3 <= 0 {
					continue
				}
				lambda := polishDepths([3]float64{l1, l2, l3}, p12, p13, p23)
				if math.Abs(p12.eval(lambda[0], lambda[1]))+
					math.Abs(p13.eval(lambda[0], lambda[2]))+
					math.Abs(p23.eval(lambda[1], lambda[2])) > 1e-8*scale {
					continue
				}
				if lambda[0] <= 0 || lambda[1] <= 0 || lambda[2] <= 0 {
					continue
				}
				pointsInRig := []r3.Vector{
					c[0].Add(d[0].Mul(lambda[0])),
					c[1].Add(d[1].Mul(lambda[1])),
					c[2].Add(d[2].Mul(lambda[2])),
				}
				rigFromWorld, err := spatialmath.AlignPointSets(x, pointsInRig)
				if err != nil {
					continue
				}
				models = appendDistinct(models, rigFromWorld, 1e-9)
			}
		}
	}
	return models
}

// polishDepths runs a few Newton steps on the three distance equations.
func polishDepths(l [3]float64, p12, p13, p23 pairTerms) [3]float64 {
	for iter := 0; iter < 5; iter++ {
		f := [3]float64{p12.eval(l[0], l[1]), p13.eval(l[0], l[2]), p23.eval(l[1], l[2])}
		// rows: d/dλ of E12, E13, E23
		j := [3][3]float64{
			{2*l[0] - 2*p12.a*l[1] + p12.bi, 2*l[1] - 2*p12.a*l[0] + p12.bj, 0},
			{2*l[0] - 2*p13.a*l[2] + p13.bi, 0, 2*l[2] - 2*p13.a*l[0] + p13.bj},
			{0, 2*l[1] - 2*p23.a*l[2] + p23.bi, 2*l[2] - 2*p23.a*l[1] + p23.bj},
		}
		step, ok := solve3(j, f)
		if !ok {
			break
		}
		for i := range l {
			l[i] -= step[i]
		}
		if math.Abs(step[0])+math.Abs(step[1])+math.Abs(step[2]) < 1e-15*(1+math.Abs(l[0])) {
			break
		}
	}
	return l
}

// solve3 solves a 3x3 linear system with Cramer's rule.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
	if det == 0 || math.IsNaN(det) {
		return [3]float64{}, false
	}
	var out [3]float64
	for col := 0; col < 3; col++ {
		m := a
		for row := 0; row < 3; row++ {
			m[row][col] = b[row]
		}
		out[col] = (m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
			m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
			m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])) / det
	}
	return out, true
}

func appendDistinct(models []spatialmath.Rigid3, model spatialmath.Rigid3, tol float64) []spatialmath.Rigid3 {
	for _, m := range models {
		if spatialmath.Rigid3AlmostEqual(m, model, tol) {
			return models
		}
	}
	return append(models, model)
}

// Residuals implements ransac.Estimator. The residual is the squared distance between the
// observed and the projected point on the normalized image plane of the observing camera. Zero
// rays and points behind the camera get an infinite residual.
func (GP3PEstimator) Residuals(
	obs []RigObservation,
	points3D []r3.Vector,
	rigFromWorld spatialmath.Rigid3,
	residuals []float64,
) {
	for i := range obs {
		ray := obs[i].RayInCam
		pointInCam := obs[i].CamFromRig.Apply(rigFromWorld.Apply(points3D[i]))
		if !obs[i].IsValid() || ray.Z <= 0 || pointInCam.Z <= 0 {
			residuals[i] = math.Inf(1)
			continue
		}
		dx := pointInCam.X/pointInCam.Z - ray.X/ray.Z
		dy := pointInCam.Y/pointInCam.Z - ray.Y/ray.Z
		residuals[i] = dx*dx + dy*dy
	}
}
