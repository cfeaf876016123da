// Package spatialmath defines the rigid-body math shared by the rig estimators: unit quaternion
// rotations, rigid transforms and point-set alignment.
package spatialmath

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Rigid3 maps points from a source frame into a target frame as y = R·x + t. Variables holding a
// Rigid3 are named target_from_source, e.g. camFromRig or rigFromWorld.
type Rigid3 struct {
	Rotation    quat.Number
	Translation r3.Vector
}

// NewRigid3 returns a transform with the given rotation (normalized to unit length) and translation.
func NewRigid3(rotation quat.Number, translation r3.Vector) Rigid3 {
	return Rigid3{Rotation: Normalize(rotation), Translation: translation}
}

// NewZeroRigid3 returns the identity transform.
func NewZeroRigid3() Rigid3 {
	return Rigid3{Rotation: quat.Number{Real: 1}}
}

// Apply transforms a point from the source frame into the target frame.
func (r Rigid3) Apply(p r3.Vector) r3.Vector {
	return RotateVector(r.Rotation, p).Add(r.Translation)
}

// Inverse returns source_from_target.
func (r Rigid3) Inverse() Rigid3 {
	inv := quat.Conj(r.Rotation)
	return Rigid3{Rotation: inv, Translation: RotateVector(inv, r.Translation).Mul(-1)}
}

// Origin returns the position of the target frame's origin expressed in the source frame,
// -R⁻¹·t. For camFromRig this is the camera's optical center in rig coordinates.
func (r Rigid3) Origin() r3.Vector {
	return RotateVector(quat.Conj(r.Rotation), r.Translation).Mul(-1)
}

// RotationMatrix returns the rotation part as a rotation matrix.
func (r Rigid3) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(r.Rotation)
}

// String implements fmt.Stringer.
func (r Rigid3) String() string {
	return fmt.Sprintf("Rigid3(q=[%.6f %.6f %.6f %.6f] t=[%.6f %.6f %.6f])",
		r.Rotation.Real, r.Rotation.Imag, r.Rotation.Jmag, r.Rotation.Kmag,
		r.Translation.X, r.Translation.Y, r.Translation.Z)
}

// Compose returns a∘b, the transform that applies b first and then a. Composing
// c_from_b with b_from_a yields c_from_a.
func Compose(a, b Rigid3) Rigid3 {
	return Rigid3{
		Rotation:    Normalize(quat.Mul(a.Rotation, b.Rotation)),
		Translation: a.Apply(b.Translation),
	}
}

// Rigid3AlmostEqual reports whether two transforms agree within tol, comparing rotations up to
// quaternion sign and translations componentwise.
func Rigid3AlmostEqual(a, b Rigid3, tol float64) bool {
	return QuaternionAlmostEqual(a.Rotation, b.Rotation, tol) &&
		math.Abs(a.Translation.X-b.Translation.X) <= tol &&
		math.Abs(a.Translation.Y-b.Translation.Y) <= tol &&
		math.Abs(a.Translation.Z-b.Translation.Z) <= tol
}

type rigid3JSON struct {
	Rotation    []float64 `json:"rotation"`
	Translation []float64 `json:"translation"`
}

// MarshalJSON encodes the rotation as [w, x, y, z] and the translation as [x, y, z].
func (r Rigid3) MarshalJSON() ([]byte, error) {
	return json.Marshal(rigid3JSON{
		Rotation:    []float64{r.Rotation.Real, r.Rotation.Imag, r.Rotation.Jmag, r.Rotation.Kmag},
		Translation: []float64{r.Translation.X, r.Translation.Y, r.Translation.Z},
	})
}

// UnmarshalJSON decodes the format written by MarshalJSON. A missing rotation means identity.
func (r *Rigid3) UnmarshalJSON(data []byte) error {
	var raw rigid3JSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := NewZeroRigid3()
	switch len(raw.Rotation) {
	case 0:
	case 4:
		q := quat.Number{Real: raw.Rotation[0], Imag: raw.Rotation[1], Jmag: raw.Rotation[2], Kmag: raw.Rotation[3]}
		if quat.Abs(q) == 0 {
			return errors.New("rotation quaternion has zero norm")
		}
		out.Rotation = Normalize(q)
	default:
		return errors.Errorf("rotation must have 4 elements [w, x, y, z], got %d", len(raw.Rotation))
	}
	switch len(raw.Translation) {
	case 0:
	case 3:
		out.Translation = r3.Vector{X: raw.Translation[0], Y: raw.Translation[1], Z: raw.Translation[2]}
	default:
		return errors.Errorf("translation must have 3 elements, got %d", len(raw.Translation))
	}
	*r = out
	return nil
}
