package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Normalize returns q scaled to unit norm with a non-negative real part. The zero quaternion is
// returned as identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/norm, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// RotateVector rotates v by the unit quaternion q, q·v·q*.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// QuaternionAlmostEqual is an equality test for unit quaternions that treats q and -q as equal.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	same := math.Abs(a.Real-b.Real) <= tol && math.Abs(a.Imag-b.Imag) <= tol &&
		math.Abs(a.Jmag-b.Jmag) <= tol && math.Abs(a.Kmag-b.Kmag) <= tol
	flipped := math.Abs(a.Real+b.Real) <= tol && math.Abs(a.Imag+b.Imag) <= tol &&
		math.Abs(a.Jmag+b.Jmag) <= tol && math.Abs(a.Kmag+b.Kmag) <= tol
	return same || flipped
}

// QuatAngleBetween returns the angle in radians of the rotation taking a onto b.
func QuatAngleBetween(a, b quat.Number) float64 {
	d := math.Abs(a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag)
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
