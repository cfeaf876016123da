package camera

import "math"

// brownConrady holds radial (k1, k2, k3) and tangential (p1, p2) distortion terms. The zero value
// is the identity.
//
// The forward model is:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type brownConrady struct {
	k1, k2, k3 float64
	p1, p2     float64
}

func (bc brownConrady) isZero() bool {
	return bc == brownConrady{}
}

// distort maps undistorted normalized coordinates to distorted ones.
func (bc brownConrady) distort(xu, yu float64) (float64, float64) {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	r6 := r4 * r2
	radDist := 1.0 + bc.k1*r2 + bc.k2*r4 + bc.k3*r6
	tanDistX := 2.0*bc.p1*xu*yu + bc.p2*(r2+2.0*xu*xu)
	tanDistY := 2.0*bc.p2*xu*yu + bc.p1*(r2+2.0*yu*yu)
	return xu*radDist + tanDistX, yu*radDist + tanDistY
}

// jacobian returns the partial derivatives of distort at (xu, yu) and the radial factor.
func (bc brownConrady) jacobian(xu, yu float64) (dxdDxu, dxdDyu, dydDxu, dydDyu, radDist float64) {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	radDist = 1.0 + bc.k1*r2 + bc.k2*r4 + bc.k3*r4*r2
	dRadDistDxu := 2.0 * xu * (bc.k1 + 2.0*bc.k2*r2 + 3.0*bc.k3*r4)
	dRadDistDyu := 2.0 * yu * (bc.k1 + 2.0*bc.k2*r2 + 3.0*bc.k3*r4)

	dxdDxu = radDist + xu*dRadDistDxu + 2.0*bc.p1*yu + bc.p2*6.0*xu
	dxdDyu = xu*dRadDistDyu + 2.0*bc.p1*xu + bc.p2*2.0*yu
	dydDxu = yu*dRadDistDxu + 2.0*bc.p2*yu + bc.p1*2.0*xu
	dydDyu = radDist + yu*dRadDistDyu + 2.0*bc.p2*xu + bc.p1*6.0*yu
	return dxdDxu, dxdDyu, dydDxu, dydDyu, radDist
}

// inDomain reports whether (xu, yu) lies in the region where distort is a valid, orientation
// preserving map: a positive radial factor and a positive Jacobian determinant. Roots found
// beyond the turning radius of a barrel distortion fail this test.
func (bc brownConrady) inDomain(xu, yu float64) bool {
	dxdDxu, dxdDyu, dydDxu, dydDyu, radDist := bc.jacobian(xu, yu)
	return radDist > 0 && dxdDxu*dydDyu-dxdDyu*dydDxu > 0
}

// undistort inverts distort with Newton-Raphson iterations. It reports false when the iteration
// does not reach the distorted point or ends outside the domain of the forward model.
func (bc brownConrady) undistort(xd, yd float64) (float64, float64, bool) {
	if math.IsNaN(xd) || math.IsNaN(yd) || math.IsInf(xd, 0) || math.IsInf(yd, 0) {
		return 0, 0, false
	}
	if bc.isZero() {
		return xd, yd, true
	}

	xu, yu := xd, yd

	const maxIterations = 100
	const tolerance = 1e-12

	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst := bc.distort(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			return xu, yu, bc.inDomain(xu, yu)
		}

		dxdDxu, dxdDyu, dydDxu, dydDyu, _ := bc.jacobian(xu, yu)
		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			return 0, 0, false
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
		if math.IsNaN(xu) || math.IsNaN(yu) || math.IsInf(xu, 0) || math.IsInf(yu, 0) {
			return 0, 0, false
		}
	}

	xdEst, ydEst := bc.distort(xu, yu)
	errX, errY := xdEst-xd, ydEst-yd
	// accept slow convergence as long as the residual is negligible relative to the point
	scale := 1 + math.Hypot(xd, yd)
	if math.Hypot(errX, errY) > 1e-9*scale {
		return 0, 0, false
	}
	return xu, yu, bc.inDomain(xu, yu)
}
