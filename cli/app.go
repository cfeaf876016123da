// Package cli contains the rigpose command line interface.
package cli

import (
	"io"
	"runtime"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig     = "config"
	flagDebug      = "debug"
	flagProblem    = "problem"
	flagRefine     = "refine"
	flagCovariance = "covariance"
	flagParallel   = "parallel"
	flagPlot       = "plot"
	flagLogFile    = "log-file"

	flagDebugProblem = "debug-problem"
)

var configFlag = &cli.StringFlag{
	Name:    flagConfig,
	Aliases: []string{"c"},
	Usage:   "load estimation options from `FILE`",
}

var problemFlag = &cli.StringFlag{
	Name:     flagProblem,
	Aliases:  []string{"p"},
	Usage:    "read the rig and correspondences from `FILE`",
	Required: true,
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "rigpose",
		Usage:           "estimate the pose of a multi-camera rig",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated when it grows large",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "absolute",
				Usage:     "estimate the rig pose from 2D-3D correspondences",
				UsageText: "rigpose absolute --problem <problem.json> [--config <config.json>] [--refine] [--covariance] [--plot <errors.png>]",
				Flags: []cli.Flag{
					problemFlag,
					configFlag,
					&cli.BoolFlag{
						Name:  flagRefine,
						Usage: "refine the estimated pose and camera intrinsics",
					},
					&cli.BoolFlag{
						Name:  flagCovariance,
						Usage: "report the covariance of the refined pose (implies --refine)",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save a histogram of the inlier reprojection errors to `FILE` (.png, .svg or .pdf)",
					},
				},
				Action: AbsoluteAction,
			},
			{
				Name:      "relative",
				Usage:     "estimate the rig motion between two observations",
				UsageText: "rigpose relative --problem <problem.json> [--config <config.json>]",
				Flags:     []cli.Flag{problemFlag, configFlag},
				Action:    RelativeAction,
			},
			{
				Name:      "batch",
				Usage:     "solve many problem files concurrently",
				UsageText: "rigpose batch [--config <config.json>] [--refine] <problem.json>...",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  flagRefine,
						Usage: "refine every estimated absolute pose",
					},
					&cli.IntFlag{
						Name:  flagParallel,
						Usage: "number of problems solved at once",
						Value: runtime.NumCPU(),
					},
					&cli.StringSliceFlag{
						Name:  flagDebugProblem,
						Usage: "enable debug logging for the problem file named `NAME` only",
					},
				},
				Action: BatchAction,
			},
		},
	}
}
