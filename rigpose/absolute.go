package rigpose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/estimators"
	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/spatialmath"
)

// AbsolutePose is the result of a generalized absolute pose estimation.
type AbsolutePose struct {
	RigFromWorld spatialmath.Rigid3
	// NumInliers counts distinct 3D points among the inliers.
	NumInliers int
	// InlierMask is aligned with the input correspondences.
	InlierMask []bool
}

// checkCameras panics unless the cameras and extrinsics are consistent and every index is in range.
func checkCameras(cameraIdxs []int, camsFromRig []spatialmath.Rigid3, cameras []camera.Camera) {
	check(len(cameras) > 0, "no cameras")
	checkEqualLen("camsFromRig", len(camsFromRig), "cameras", len(cameras))
	for i, idx := range cameraIdxs {
		check(idx >= 0 && idx < len(cameras), "camera index %d at %d out of range [0, %d)", idx, i, len(cameras))
	}
}

// meanCamFromImgThreshold converts a pixel threshold into normalized camera units for every
// distinct camera referenced and averages the results.
func meanCamFromImgThreshold(cameraIdxs []int, cameras []camera.Camera, maxErrorPx float64) float64 {
	check(maxErrorPx > 0, "max_error must be positive, got %v", maxErrorPx)
	idxs := distinctCameraIdxs(cameraIdxs)
	sum := 0.0
	for _, idx := range idxs {
		sum += cameras[idx].CamFromImgThreshold(maxErrorPx)
	}
	return sum / float64(len(idxs))
}

// EstimateGeneralizedAbsolutePose robustly estimates rig_from_world from pixels observed by the
// cameras of a rig and their corresponding 3D points. opts.MaxError is in pixels. A 3D point seen
// by several cameras votes once. It panics with *InvariantViolation on inconsistent inputs and
// returns ErrNoCorrespondences or ErrEstimationFailed when no pose can be estimated.
func EstimateGeneralizedAbsolutePose(
	opts ransac.Options,
	points2D []r2.Point,
	points3D []r3.Vector,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*AbsolutePose, error) {
	return defaultEstimator().EstimateGeneralizedAbsolutePose(opts, points2D, points3D, cameraIdxs, camsFromRig, cameras)
}

// EstimateGeneralizedAbsolutePoseWithIds is EstimateGeneralizedAbsolutePose with caller supplied
// unique point ids, e.g. ids of a reconstruction's 3D points.
func EstimateGeneralizedAbsolutePoseWithIds(
	opts ransac.Options,
	points2D []r2.Point,
	points3D []r3.Vector,
	uniquePointIds []int,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*AbsolutePose, error) {
	return defaultEstimator().EstimateGeneralizedAbsolutePoseWithIds(
		opts, points2D, points3D, uniquePointIds, cameraIdxs, camsFromRig, cameras)
}

// EstimateGeneralizedAbsolutePose is the logging variant of the package function.
func (e *Estimator) EstimateGeneralizedAbsolutePose(
	opts ransac.Options,
	points2D []r2.Point,
	points3D []r3.Vector,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*AbsolutePose, error) {
	checkEqualLen("points2D", len(points2D), "points3D", len(points3D))
	return e.EstimateGeneralizedAbsolutePoseWithIds(
		opts, points2D, points3D, ComputeUniquePointIds(points3D), cameraIdxs, camsFromRig, cameras)
}

// EstimateGeneralizedAbsolutePoseWithIds is the logging variant of the package function.
func (e *Estimator) EstimateGeneralizedAbsolutePoseWithIds(
	opts ransac.Options,
	points2D []r2.Point,
	points3D []r3.Vector,
	uniquePointIds []int,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*AbsolutePose, error) {
	checkEqualLen("points2D", len(points2D), "points3D", len(points3D))
	checkEqualLen("points2D", len(points2D), "cameraIdxs", len(cameraIdxs))
	checkEqualLen("points3D", len(points3D), "uniquePointIds", len(uniquePointIds))
	checkCameras(cameraIdxs, camsFromRig, cameras)
	checkNoError(opts.Check(), "invalid ransac options")
	if len(points2D) == 0 {
		return nil, ErrNoCorrespondences
	}

	obs := BuildRigObservations(points2D, cameraIdxs, camsFromRig, cameras)

	camOpts := opts
	camOpts.MaxError = meanCamFromImgThreshold(cameraIdxs, cameras, opts.MaxError)
	e.logger.Debugw("absolute pose threshold", "max_error_px", opts.MaxError, "max_error_cam", camOpts.MaxError)

	engine, err := ransac.New[estimators.RigObservation, r3.Vector, spatialmath.Rigid3](
		camOpts, estimators.GP3PEstimator{}, ransac.NewUniqueInlierSupportMeasurer(uniquePointIds))
	checkNoError(err, "invalid ransac options")
	report, err := engine.Estimate(obs, points3D)
	if err != nil {
		e.logger.Debugw("absolute pose estimation failed", "error", err)
		return nil, errors.Wrap(ErrEstimationFailed, err.Error())
	}
	e.logger.Debugw("estimated absolute pose",
		"num_trials", report.NumTrials,
		"num_inliers", report.Support.NumInliers,
		"num_unique_inliers", report.Support.NumUniqueInliers)
	return &AbsolutePose{
		RigFromWorld: report.Model,
		NumInliers:   report.Support.NumUniqueInliers,
		InlierMask:   report.InlierMask,
	}, nil
}
