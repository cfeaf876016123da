package rigpose

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/estimators"
	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/spatialmath"
)

// RelativeMotion is the motion between two rig observations. It is either a RigMotion or a
// PanoMotion.
type RelativeMotion interface {
	isRelativeMotion()
}

// RigMotion is the metric motion of a rig whose cameras do not share an optical center.
type RigMotion struct {
	Rig2FromRig1 spatialmath.Rigid3
}

// PanoMotion is the motion of a panoramic rig. Its translation has unit norm since the scale is
// not observable.
type PanoMotion struct {
	Pano2FromPano1 spatialmath.Rigid3
}

func (RigMotion) isRelativeMotion()  {}
func (PanoMotion) isRelativeMotion() {}

// RelativePose is the result of a generalized relative pose estimation.
type RelativePose struct {
	Motion     RelativeMotion
	NumInliers int
	// InlierMask is aligned with the input correspondences.
	InlierMask []bool
}

// EstimateGeneralizedRelativePose robustly estimates the motion of a rig between two observations
// from pixel correspondences, each side observed by any camera of the rig. When the cameras used
// on both sides share an optical center the rig is solved as one central camera and the result is
// a PanoMotion; otherwise it is a RigMotion. opts.MaxError is in normalized camera units. It
// panics with *InvariantViolation on inconsistent inputs and returns ErrNoCorrespondences or
// ErrEstimationFailed when no motion can be estimated.
func EstimateGeneralizedRelativePose(
	opts ransac.Options,
	points2D1, points2D2 []r2.Point,
	cameraIdxs1, cameraIdxs2 []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*RelativePose, error) {
	return defaultEstimator().EstimateGeneralizedRelativePose(
		opts, points2D1, points2D2, cameraIdxs1, cameraIdxs2, camsFromRig, cameras)
}

// EstimateGeneralizedRelativePose is the logging variant of the package function.
func (e *Estimator) EstimateGeneralizedRelativePose(
	opts ransac.Options,
	points2D1, points2D2 []r2.Point,
	cameraIdxs1, cameraIdxs2 []int,
	camsFromRig []spatialmath.Rigid3,
	cameras []camera.Camera,
) (*RelativePose, error) {
	checkEqualLen("points2D1", len(points2D1), "points2D2", len(points2D2))
	checkEqualLen("points2D1", len(points2D1), "cameraIdxs1", len(cameraIdxs1))
	checkEqualLen("points2D2", len(points2D2), "cameraIdxs2", len(cameraIdxs2))
	checkCameras(cameraIdxs1, camsFromRig, cameras)
	checkCameras(cameraIdxs2, camsFromRig, cameras)
	checkNoError(opts.Check(), "invalid ransac options")
	if len(points2D1) == 0 {
		return nil, ErrNoCorrespondences
	}

	if IsPanoramicRig(cameraIdxs1, camsFromRig) && IsPanoramicRig(cameraIdxs2, camsFromRig) {
		e.logger.Debugw("solving relative pose of a panoramic rig", "num_correspondences", len(points2D1))
		rays1 := buildRigRays(points2D1, cameraIdxs1, camsFromRig, cameras)
		rays2 := buildRigRays(points2D2, cameraIdxs2, camsFromRig, cameras)
		report, err := estimators.EstimateRelativePose(opts, rays1, rays2)
		if err != nil {
			e.logger.Debugw("panoramic relative pose estimation failed", "error", err)
			return nil, errors.Wrap(ErrEstimationFailed, err.Error())
		}
		return &RelativePose{
			Motion:     PanoMotion{Pano2FromPano1: report.Model},
			NumInliers: report.Support.NumInliers,
			InlierMask: report.InlierMask,
		}, nil
	}

	e.logger.Debugw("solving generalized relative pose", "num_correspondences", len(points2D1))
	obs1 := BuildRigObservations(points2D1, cameraIdxs1, camsFromRig, cameras)
	obs2 := BuildRigObservations(points2D2, cameraIdxs2, camsFromRig, cameras)
	engine, err := ransac.NewLORANSAC[estimators.RigObservation, estimators.RigObservation, spatialmath.Rigid3](
		opts, estimators.GR6PEstimator{}, estimators.GR8PEstimator{}, ransac.InlierSupportMeasurer{})
	checkNoError(err, "invalid ransac options")
	report, err := engine.Estimate(obs1, obs2)
	if err != nil {
		e.logger.Debugw("generalized relative pose estimation failed", "error", err)
		return nil, errors.Wrap(ErrEstimationFailed, err.Error())
	}
	e.logger.Debugw("estimated generalized relative pose",
		"num_trials", report.NumTrials, "num_inliers", report.Support.NumInliers)
	return &RelativePose{
		Motion:     RigMotion{Rig2FromRig1: report.Model},
		NumInliers: report.Support.NumInliers,
		InlierMask: report.InlierMask,
	}, nil
}
