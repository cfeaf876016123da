package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An orientation can be expressed by an axis on the unit sphere, (rx, ry, rz), and a rotation around
// that axis, theta. These four numbers can be used as-is (R4), or converted to R3 where theta scales
// the axis, giving a vector whose length is theta. The R3 form is the tangent space used by the
// quaternion manifold in the least squares solver.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates an empty R4AA struct.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion.
func (r4 *R4AA) ToQuat() quat.Number {
	sinA := math.Sin(r4.Theta / 2)
	r4.Normalize()

	ax := r4.RX * sinA
	ay := r4.RY * sinA
	az := r4.RZ * sinA
	w := math.Cos(r4.Theta / 2)
	return quat.Number{Real: w, Imag: ax, Jmag: ay, Kmag: az}
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere.
// A zero axis is replaced by the z axis.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0.0 {
		r4.RX, r4.RY, r4.RZ = 0, 0, 1
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// QuatFromR3 is the exponential map from an R3 axis angle to a unit quaternion. It stays accurate
// for very small angles, which the manifold update relies on.
func QuatFromR3(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < 1e-12 {
		return Normalize(quat.Number{Real: 1, Imag: aa.X / 2, Jmag: aa.Y / 2, Kmag: aa.Z / 2})
	}
	return R3ToR4(aa).ToQuat()
}

// QuatToR3 is the logarithm map from a unit quaternion to an R3 axis angle with angle in [0, pi].
func QuatToR3(q quat.Number) r3.Vector {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	imag := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := imag.Norm()
	if sinHalf < 1e-12 {
		return imag.Mul(2)
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return imag.Mul(theta / sinHalf)
}
