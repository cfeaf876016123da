// Package estimators contains the minimal and non-minimal geometric solvers used by the rig pose
// estimators, together with their residual functions. Every estimator satisfies
// ransac.Estimator so it can be plugged into the consensus engines.
package estimators

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/spatialmath"
)

// RigObservation is a bearing observed by one camera of a rig. RayInCam is a unit vector in the
// camera frame, or exactly zero when the pixel could not be unprojected. A zero ray never
// contributes to a model and always produces an infinite residual.
type RigObservation struct {
	RayInCam   r3.Vector
	CamFromRig spatialmath.Rigid3
}

// IsValid reports whether the observation carries a usable ray.
func (obs RigObservation) IsValid() bool {
	return obs.RayInCam != (r3.Vector{})
}

// RayInRig returns the ray direction expressed in the rig frame.
func (obs RigObservation) RayInRig() r3.Vector {
	return spatialmath.RotateVector(quat.Conj(obs.CamFromRig.Rotation), obs.RayInCam)
}

// CenterInRig returns the observing camera's optical center in the rig frame.
func (obs RigObservation) CenterInRig() r3.Vector {
	return obs.CamFromRig.Origin()
}

func allValid(obs []RigObservation) bool {
	for _, o := range obs {
		if !o.IsValid() {
			return false
		}
	}
	return true
}

func allNonZero(rays []r3.Vector) bool {
	for _, r := range rays {
		if r == (r3.Vector{}) {
			return false
		}
	}
	return true
}
