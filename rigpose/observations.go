// Package rigpose estimates and refines the pose of a multi-camera rig from correspondences
// gathered across its cameras. Absolute pose is solved against known 3D points, relative pose
// against a second rig observation, and an absolute pose can be refined jointly with the camera
// intrinsics.
package rigpose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/estimators"
	"go.viam.com/rigpose/spatialmath"
)

// BuildRigObservations unprojects every pixel through its camera and pairs the resulting unit ray
// with the camera's extrinsic. Pixels outside the camera model's domain get a zero ray so that the
// output stays aligned with the input.
func BuildRigObservations(
	points2D []r2.Point,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) []estimators.RigObservation {
	obs := make([]estimators.RigObservation, len(points2D))
	for i, pt := range points2D {
		idx := cameraIdxs[i]
		obs[i].CamFromRig = camsFromRig[idx]
		if ray, ok := cameras[idx].RayFromImg(pt); ok {
			obs[i].RayInCam = ray
		}
	}
	return obs
}

// buildRigRays is like BuildRigObservations but rotates each ray into the rig frame, dropping the
// camera's translation. It is only meaningful for panoramic rigs.
func buildRigRays(
	points2D []r2.Point,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) []r3.Vector {
	rays := make([]r3.Vector, len(points2D))
	for i, obs := range BuildRigObservations(points2D, cameraIdxs, camsFromRig, cameras) {
		if obs.IsValid() {
			rays[i] = obs.RayInRig()
		}
	}
	return rays
}
