package cli

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const histogramBins = 20

// saveErrorHistogram plots the finite reprojection errors as a histogram. The image format
// follows the file extension.
func saveErrorHistogram(path string, errs []float64) error {
	var values plotter.Values
	for _, e := range errs {
		if !math.IsInf(e, 0) && !math.IsNaN(e) {
			values = append(values, e)
		}
	}
	if len(values) == 0 {
		return errors.New("no finite reprojection errors to plot")
	}

	p := plot.New()
	p.Title.Text = "Inlier reprojection error"
	p.X.Label.Text = "error (px)"
	p.Y.Label.Text = "correspondences"
	hist, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return errors.Wrap(err, "failed to bin reprojection errors")
	}
	p.Add(hist)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", path)
	}
	return nil
}
