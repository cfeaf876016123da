package rigpose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/spatialmath"
)

// ReprojectionErrors returns, for every correspondence, the pixel distance between the observed
// point and the projection of its 3D point through the rig at rigFromWorld. Points behind their
// camera get +Inf.
func ReprojectionErrors(
	points2D []r2.Point,
	points3D []r3.Vector,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	rigFromWorld spatialmath.Rigid3,
	cameras []camera.Camera,
) []float64 {
	checkEqualLen("points2D", len(points2D), "points3D", len(points3D))
	checkEqualLen("points2D", len(points2D), "cameraIdxs", len(cameraIdxs))
	checkCameras(cameraIdxs, camsFromRig, cameras)

	errs := make([]float64, len(points2D))
	for i, pt := range points3D {
		idx := cameraIdxs[i]
		inCam := camsFromRig[idx].Apply(rigFromWorld.Apply(pt))
		if inCam.Z <= 0 {
			errs[i] = math.Inf(1)
			continue
		}
		projected := cameras[idx].ImgFromCam(r2.Point{X: inCam.X / inCam.Z, Y: inCam.Y / inCam.Z})
		errs[i] = projected.Sub(points2D[i]).Norm()
	}
	return errs
}
