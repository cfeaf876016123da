package cli

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/rigpose"
	"go.viam.com/rigpose/utils"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a highlighted warning.
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.FgYellow, color.Bold).Fprintf(w, "Warning: ")
	printf(w, format, a...)
}

func formatRotation(q quat.Number) string {
	return fmt.Sprintf("[%.6f, %.6f, %.6f, %.6f]", q.Real, q.Imag, q.Jmag, q.Kmag)
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("[%.6f, %.6f, %.6f]", v.X, v.Y, v.Z)
}

// inlierErrors returns the reprojection errors of the inliers.
func inlierErrors(errs []float64, mask []bool) []float64 {
	return lo.Filter(errs, func(_ float64, i int) bool {
		return mask[i]
	})
}

func renderAbsolute(result *absoluteResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Absolute pose", ""})
	pose := result.pose.RigFromWorld
	if result.refined != nil {
		pose = result.refined.RigFromWorld
	}
	t.AppendRows([]table.Row{
		{"Rotation (w, x, y, z)", formatRotation(pose.Rotation)},
		{"Translation", formatVector(pose.Translation)},
		{"Inliers", fmt.Sprintf("%d unique of %d correspondences", result.pose.NumInliers, len(result.pose.InlierMask))},
	})
	stats, err := utils.ComputeResidualStats(inlierErrors(result.errors, result.pose.InlierMask))
	if err == nil {
		t.AppendRow(table.Row{"Inlier reprojection error (px)", stats.String()})
	}
	if refined := result.refined; refined != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Refinement", fmt.Sprintf("%s in %d iterations", refined.Summary.Termination, refined.Summary.NumIterations)})
		t.AppendRow(table.Row{"Cost", fmt.Sprintf("%.6e -> %.6e", refined.Summary.InitialCost, refined.Summary.FinalCost)})
		for _, cam := range refined.Cameras {
			t.AppendRow(table.Row{fmt.Sprintf("Camera %d (%s)", cam.ID, cam.Model), formatParams(cam.Params)})
		}
		if cov := refined.Covariance; cov != nil {
			sigmas := make([]string, cov.SymmetricDim())
			for i := range sigmas {
				sigmas[i] = fmt.Sprintf("%.3e", math.Sqrt(cov.At(i, i)))
			}
			t.AppendRow(table.Row{"Pose std dev (rotation, translation)", strings.Join(sigmas, " ")})
		}
	}
	return t.Render()
}

func formatParams(params []float64) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprintf("%.4f", p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderRelative(pose *rigpose.RelativePose, numCorrespondences int) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Relative pose", ""})
	switch motion := pose.Motion.(type) {
	case rigpose.RigMotion:
		t.AppendRows([]table.Row{
			{"Kind", "rig2_from_rig1"},
			{"Rotation (w, x, y, z)", formatRotation(motion.Rig2FromRig1.Rotation)},
			{"Translation", formatVector(motion.Rig2FromRig1.Translation)},
		})
	case rigpose.PanoMotion:
		t.AppendRows([]table.Row{
			{"Kind", "pano2_from_pano1 (translation up to scale)"},
			{"Rotation (w, x, y, z)", formatRotation(motion.Pano2FromPano1.Rotation)},
			{"Translation", formatVector(motion.Pano2FromPano1.Translation)},
		})
	}
	t.AppendRow(table.Row{"Inliers", fmt.Sprintf("%d of %d correspondences", pose.NumInliers, numCorrespondences)})
	return t.Render()
}

func renderBatch(results []batchResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Problem", "Absolute inliers", "Median error (px)", "Relative", "Relative inliers", "Status"})
	for i, r := range results {
		row := table.Row{i + 1, r.name, "-", "-", "-", "-", "ok"}
		if r.absolute != nil {
			row[2] = r.absolute.pose.NumInliers
			if stats, err := utils.ComputeResidualStats(inlierErrors(r.absolute.errors, r.absolute.pose.InlierMask)); err == nil {
				row[3] = fmt.Sprintf("%.4f", stats.Median)
			}
		}
		if r.relative != nil {
			switch r.relative.Motion.(type) {
			case rigpose.RigMotion:
				row[4] = "rig"
			case rigpose.PanoMotion:
				row[4] = "panoramic"
			}
			row[5] = r.relative.NumInliers
		}
		if r.failure != nil {
			row[6] = r.failure.Error()
		}
		t.AppendRow(row)
	}
	return t.Render()
}
