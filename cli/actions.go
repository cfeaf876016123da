package cli

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/rigpose/config"
	"go.viam.com/rigpose/logging"
	"go.viam.com/rigpose/rigpose"
	"go.viam.com/rigpose/spatialmath"
)

// newLogger returns the command's logger and a function closing its log file, if any.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	logger := logging.NewBlankLogger("rigpose")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	path := c.String(flagLogFile)
	if path == "" {
		return logger, func() {}
	}
	logFile := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64,
		MaxBackups: 2,
	}
	logger.AddAppender(logging.NewWriterAppender(logFile))
	return logger, func() {
		utils.UncheckedError(logFile.Close())
	}
}

func readConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.ReadConfig(path)
}

// absoluteResult is what the absolute command reports.
type absoluteResult struct {
	pose    *rigpose.AbsolutePose
	refined *rigpose.RefinedPose
	// per correspondence reprojection errors at the final pose
	errors []float64
}

// solveAbsolute estimates the rig pose of a problem and optionally refines it. A problem with an
// initial pose skips estimation and refines that pose on every correspondence.
func solveAbsolute(
	estimator *rigpose.Estimator,
	cfg *config.Config,
	problem *config.Problem,
	refine bool,
	logger logging.Logger,
) (*absoluteResult, error) {
	if problem.Absolute == nil {
		return nil, errors.Errorf("problem %q has no absolute correspondences", problem.FilePath)
	}
	points2D, points3D, cameraIdxs := problem.Absolute.AbsoluteInputs()
	rig := &problem.Rig

	var pose *rigpose.AbsolutePose
	if problem.InitialRigFromWorld != nil {
		mask := make([]bool, len(points2D))
		for i := range mask {
			mask[i] = true
		}
		pose = &rigpose.AbsolutePose{
			RigFromWorld: spatialmath.NewRigid3(problem.InitialRigFromWorld.Rotation, problem.InitialRigFromWorld.Translation),
			NumInliers:   len(points2D),
			InlierMask:   mask,
		}
		refine = true
	} else {
		var err error
		pose, err = estimator.EstimateGeneralizedAbsolutePose(cfg.RANSAC, points2D, points3D, cameraIdxs, rig.CamsFromRig, rig.Cameras)
		if err != nil {
			return nil, err
		}
	}

	result := &absoluteResult{pose: pose}
	final, cameras := pose.RigFromWorld, rig.Cameras
	if refine {
		refined, err := rigpose.RefineGeneralizedAbsolutePose(cfg.Refinement, pose.InlierMask,
			points2D, points3D, cameraIdxs, rig.CamsFromRig, pose.RigFromWorld, rig.Cameras, logger)
		if err != nil {
			return nil, err
		}
		result.refined = refined
		final, cameras = refined.RigFromWorld, refined.Cameras
	}
	result.errors = rigpose.ReprojectionErrors(points2D, points3D, cameraIdxs, rig.CamsFromRig, final, cameras)
	return result, nil
}

func solveRelative(estimator *rigpose.Estimator, cfg *config.Config, problem *config.Problem) (*rigpose.RelativePose, error) {
	if problem.Relative == nil {
		return nil, errors.Errorf("problem %q has no relative correspondences", problem.FilePath)
	}
	points2D1, points2D2, cameraIdxs1, cameraIdxs2 := problem.Relative.RelativeInputs()
	return estimator.EstimateGeneralizedRelativePose(cfg.RelativeRANSAC,
		points2D1, points2D2, cameraIdxs1, cameraIdxs2, problem.Rig.CamsFromRig, problem.Rig.Cameras)
}

// AbsoluteAction estimates, and optionally refines, the absolute pose of the rig of a problem.
func AbsoluteAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	problem, err := config.ReadProblem(c.String(flagProblem))
	if err != nil {
		return err
	}
	refine := c.Bool(flagRefine)
	if c.Bool(flagCovariance) {
		cfg.Refinement.ComputeCovariance = true
		refine = true
	}

	result, err := solveAbsolute(rigpose.NewEstimator(logger), cfg, problem, refine, logger.Sublogger("refine"))
	if err != nil {
		return errors.Wrap(err, "absolute pose")
	}
	printf(c.App.Writer, "%s", renderAbsolute(result))
	if path := c.String(flagPlot); path != "" {
		if err := saveErrorHistogram(path, inlierErrors(result.errors, result.pose.InlierMask)); err != nil {
			return err
		}
		logger.Infow("saved reprojection error histogram", "path", path)
	}
	return nil
}

// RelativeAction estimates the motion of the rig between the two observations of a problem.
func RelativeAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	problem, err := config.ReadProblem(c.String(flagProblem))
	if err != nil {
		return err
	}
	pose, err := solveRelative(rigpose.NewEstimator(logger), cfg, problem)
	if err != nil {
		return errors.Wrap(err, "relative pose")
	}
	printf(c.App.Writer, "%s", renderRelative(pose, len(problem.Relative.Points2D1)))
	return nil
}

// batchResult is one row of the batch report.
type batchResult struct {
	name     string
	absolute *absoluteResult
	relative *rigpose.RelativePose
	// estimation failures are reported per problem instead of aborting the batch
	failure error
}

// BatchAction solves every problem file given as argument and prints one summary row per file.
// Unreadable or invalid files abort the batch; estimation failures are reported in the table.
func BatchAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return errors.New("no problem files given")
	}
	parallel := c.Int(flagParallel)
	if parallel < 1 {
		return errors.Errorf("--%s must be positive, got %d", flagParallel, parallel)
	}

	debugProblems := c.StringSlice(flagDebugProblem)

	results := make([]batchResult, len(paths))
	group, ctx := errgroup.WithContext(c.Context)
	group.SetLimit(parallel)
	for i, path := range paths {
		i, path := i, path
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			problemCtx := ctx
			if slices.Contains(debugProblems, filepath.Base(path)) {
				problemCtx = logging.EnableDebugMode(ctx, filepath.Base(path))
			}
			result, err := solveProblemFile(problemCtx, cfg, path, c.Bool(flagRefine), logger)
			if err != nil {
				return err
			}
			results[i] = *result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	printf(c.App.Writer, "%s", renderBatch(results))
	for _, r := range results {
		if r.failure != nil {
			warningf(c.App.ErrWriter, "%s: %v", r.name, r.failure)
		}
	}
	return nil
}

func solveProblemFile(
	ctx context.Context,
	cfg *config.Config,
	path string,
	refine bool,
	logger logging.Logger,
) (*batchResult, error) {
	name := filepath.Base(path)
	problem, err := config.ReadProblem(path)
	if err != nil {
		return nil, err
	}
	logger = logger.Sublogger(name)
	if logging.IsDebugMode(ctx) {
		logger.SetLevel(logging.DEBUG)
	}
	logger.CDebugw(ctx, "solving problem", "path", path,
		"has_absolute", problem.Absolute != nil, "has_relative", problem.Relative != nil)

	estimator := rigpose.NewEstimator(logger)
	result := &batchResult{name: name}
	if problem.Absolute != nil {
		abs, err := solveAbsolute(estimator, cfg, problem, refine, logger)
		if err != nil {
			result.failure = err
			return result, nil
		}
		result.absolute = abs
	}
	if problem.Relative != nil {
		rel, err := solveRelative(estimator, cfg, problem)
		if err != nil {
			result.failure = err
			return result, nil
		}
		result.relative = rel
	}
	return result, nil
}
