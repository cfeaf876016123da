package rigpose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/leastsquares"
	"go.viam.com/rigpose/logging"
	"go.viam.com/rigpose/spatialmath"
)

// RefinedPose is the result of a generalized absolute pose refinement.
type RefinedPose struct {
	RigFromWorld spatialmath.Rigid3
	// Cameras are copies of the input cameras with refined intrinsics.
	Cameras []camera.Camera
	// Covariance of RigFromWorld in its tangent space, rotation then translation. Only set when
	// requested.
	Covariance *mat.SymDense
	Summary    *leastsquares.Summary
}

// RefineGeneralizedAbsolutePose refines rig_from_world, and optionally the focal lengths and extra
// parameters of the cameras involved, by minimizing the robustified reprojection error of the
// inlier correspondences. The 3D points, the rig extrinsics and the principal points stay fixed.
// The input cameras are not modified; refined copies are returned.
//
// It panics with *InvariantViolation on inconsistent inputs. It returns ErrNoResiduals when the
// mask selects nothing, ErrRefinementFailed when the solver fails and ErrCovarianceFailed when the
// requested covariance cannot be computed. A nil logger discards logs.
func RefineGeneralizedAbsolutePose(
	opts RefinementOptions,
	inlierMask []bool,
	points2D []r2.Point,
	points3D []r3.Vector,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	rigFromWorld spatialmath.Rigid3,
	cameras []camera.Camera,
	logger logging.Logger,
) (*RefinedPose, error) {
	if logger == nil {
		return defaultEstimator().RefineGeneralizedAbsolutePose(
			opts, inlierMask, points2D, points3D, cameraIdxs, camsFromRig, rigFromWorld, cameras)
	}
	return NewEstimator(logger).RefineGeneralizedAbsolutePose(
		opts, inlierMask, points2D, points3D, cameraIdxs, camsFromRig, rigFromWorld, cameras)
}

// RefineGeneralizedAbsolutePose is the logging variant of the package function.
func (e *Estimator) RefineGeneralizedAbsolutePose(
	opts RefinementOptions,
	inlierMask []bool,
	points2D []r2.Point,
	points3D []r3.Vector,
	cameraIdxs []int,
	camsFromRig []spatialmath.Rigid3,
	rigFromWorld spatialmath.Rigid3,
	cameras []camera.Camera,
) (*RefinedPose, error) {
	checkEqualLen("points2D", len(points2D), "inlierMask", len(inlierMask))
	checkEqualLen("points2D", len(points2D), "points3D", len(points3D))
	checkEqualLen("points2D", len(points2D), "cameraIdxs", len(cameraIdxs))
	checkCameras(cameraIdxs, camsFromRig, cameras)
	checkNoError(opts.Check(), "invalid refinement options")

	refined := make([]camera.Camera, len(cameras))
	for i := range cameras {
		refined[i] = cameras[i].Copy()
	}
	pose := newRigid3Blocks(rigFromWorld)
	extrinsics := make([]*rigid3Blocks, len(cameras))
	loss := leastsquares.NewCauchyLoss(opts.LossFunctionScale)

	problem := leastsquares.NewProblem()
	for i, inlier := range inlierMask {
		if !inlier {
			continue
		}
		idx := cameraIdxs[i]
		if extrinsics[idx] == nil {
			blocks := newRigid3Blocks(camsFromRig[idx])
			extrinsics[idx] = &blocks
		}
		cost, err := NewRigReprojectionCost(refined[idx].Model, points2D[i])
		checkNoError(err, "invalid camera")
		point := []float64{points3D[i].X, points3D[i].Y, points3D[i].Z}
		checkNoError(problem.AddResidualBlock(cost, loss,
			extrinsics[idx].rotation,
			extrinsics[idx].translation,
			pose.rotation,
			pose.translation,
			point,
			refined[idx].Params,
		), "invalid residual block")
		problem.SetParameterBlockConstant(point)
	}
	if problem.NumResiduals() == 0 {
		return nil, ErrNoResiduals
	}

	if err := problem.SetManifold(pose.rotation, leastsquares.QuaternionManifold{}); err != nil {
		return nil, errors.Wrap(ErrRefinementFailed, err.Error())
	}
	for idx, blocks := range extrinsics {
		if blocks == nil {
			continue
		}
		problem.SetParameterBlockConstant(blocks.rotation)
		problem.SetParameterBlockConstant(blocks.translation)
		if err := e.setIntrinsicsConstraint(problem, opts, &refined[idx]); err != nil {
			return nil, errors.Wrap(ErrRefinementFailed, err.Error())
		}
	}

	solverOpts := leastsquares.DefaultSolverOptions()
	solverOpts.MaxNumIterations = opts.MaxNumIterations
	solverOpts.GradientTolerance = opts.GradientTolerance
	solverOpts.Logger = e.logger.Sublogger("solver")
	summary := leastsquares.Solve(solverOpts, problem)
	if opts.PrintSummary {
		e.logger.Infof("Generalized pose refinement report\n%s", summary)
	} else {
		e.logger.Debugf("Generalized pose refinement report\n%s", summary)
	}
	if !summary.IsSolutionUsable() {
		return nil, errors.Wrapf(ErrRefinementFailed, "%s: %s", summary.Termination, summary.Message)
	}

	result := &RefinedPose{
		RigFromWorld: spatialmath.NewRigid3(pose.rigid3().Rotation, pose.rigid3().Translation),
		Cameras:      refined,
		Summary:      summary,
	}
	if opts.ComputeCovariance {
		cov, err := leastsquares.ComputeCovariance(problem, pose.rotation, pose.translation)
		if err != nil {
			return nil, errors.Wrap(ErrCovarianceFailed, err.Error())
		}
		result.Covariance = cov
	}
	return result, nil
}

// setIntrinsicsConstraint freezes the intrinsics of a camera that are not refined. The principal
// point is always frozen since it is degenerate with the pose translation.
func (e *Estimator) setIntrinsicsConstraint(
	problem *leastsquares.Problem,
	opts RefinementOptions,
	cam *camera.Camera,
) error {
	if !opts.RefineFocalLength && !opts.RefineExtraParams {
		problem.SetParameterBlockConstant(cam.Params)
		return nil
	}
	constant := append([]int{}, cam.PrincipalPointIdxs()...)
	if !opts.RefineFocalLength {
		constant = append(constant, cam.FocalLengthIdxs()...)
	}
	if !opts.RefineExtraParams {
		constant = append(constant, cam.ExtraParamsIdxs()...)
	}
	if len(constant) == len(cam.Params) {
		problem.SetParameterBlockConstant(cam.Params)
		return nil
	}
	manifold, err := leastsquares.NewSubsetManifold(len(cam.Params), constant)
	if err != nil {
		return err
	}
	e.logger.Debugw("refining camera intrinsics", "camera_id", cam.ID, "num_free", manifold.TangentSize())
	return problem.SetManifold(cam.Params, manifold)
}
