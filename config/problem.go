package config

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/spatialmath"
)

// AbsoluteCorrespondences are pixels matched to known 3D points.
type AbsoluteCorrespondences struct {
	Points2D   [][2]float64 `json:"points2D"`
	Points3D   [][3]float64 `json:"points3D"`
	CameraIdxs []int        `json:"camera_idxs"`
}

// RelativeCorrespondences are pixels matched between two observations of the rig.
type RelativeCorrespondences struct {
	Points2D1   [][2]float64 `json:"points2D1"`
	Points2D2   [][2]float64 `json:"points2D2"`
	CameraIdxs1 []int        `json:"camera_idxs1"`
	CameraIdxs2 []int        `json:"camera_idxs2"`
}

// A Problem is a rig together with the correspondences to estimate its pose from.
type Problem struct {
	Rig      camera.Rig               `json:"rig"`
	Absolute *AbsoluteCorrespondences `json:"absolute,omitempty"`
	Relative *RelativeCorrespondences `json:"relative,omitempty"`
	// InitialRigFromWorld, when set, is refined directly instead of being estimated first.
	InitialRigFromWorld *spatialmath.Rigid3 `json:"initial_rig_from_world,omitempty"`

	// set by ReadProblem
	FilePath string `json:"-"`
}

// Validate checks that the problem can be handed to the estimators without violating their
// preconditions.
func (p *Problem) Validate(path string) error {
	if err := p.Rig.CheckValid(); err != nil {
		return utils.NewConfigValidationError(fmt.Sprintf("%s.rig", path), err)
	}
	if p.Absolute == nil && p.Relative == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "absolute")
	}
	numCams := len(p.Rig.Cameras)
	var errs error
	if a := p.Absolute; a != nil {
		path := fmt.Sprintf("%s.absolute", path)
		errs = multierr.Combine(errs,
			checkLen(path, "points3D", len(a.Points3D), len(a.Points2D)),
			checkLen(path, "camera_idxs", len(a.CameraIdxs), len(a.Points2D)),
			checkCameraIdxs(path, "camera_idxs", a.CameraIdxs, numCams),
		)
	}
	if r := p.Relative; r != nil {
		path := fmt.Sprintf("%s.relative", path)
		errs = multierr.Combine(errs,
			checkLen(path, "points2D2", len(r.Points2D2), len(r.Points2D1)),
			checkLen(path, "camera_idxs1", len(r.CameraIdxs1), len(r.Points2D1)),
			checkLen(path, "camera_idxs2", len(r.CameraIdxs2), len(r.Points2D1)),
			checkCameraIdxs(path, "camera_idxs1", r.CameraIdxs1, numCams),
			checkCameraIdxs(path, "camera_idxs2", r.CameraIdxs2, numCams),
		)
	}
	return errs
}

func checkLen(path, field string, got, want int) error {
	if got != want {
		return utils.NewConfigValidationError(path, errors.Errorf("%s has %d entries, expected %d", field, got, want))
	}
	return nil
}

func checkCameraIdxs(path, field string, idxs []int, numCams int) error {
	for i, idx := range idxs {
		if idx < 0 || idx >= numCams {
			return utils.NewConfigValidationError(path,
				errors.Errorf("%s[%d] = %d is not a camera of the rig (%d cameras)", field, i, idx, numCams))
		}
	}
	return nil
}

// AbsoluteInputs returns the absolute correspondences in the form the estimators take.
func (a *AbsoluteCorrespondences) AbsoluteInputs() ([]r2.Point, []r3.Vector, []int) {
	points3D := make([]r3.Vector, len(a.Points3D))
	for i, p := range a.Points3D {
		points3D[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}
	return toPoints2D(a.Points2D), points3D, a.CameraIdxs
}

// RelativeInputs returns the relative correspondences in the form the estimators take.
func (r *RelativeCorrespondences) RelativeInputs() (points2D1, points2D2 []r2.Point, cameraIdxs1, cameraIdxs2 []int) {
	return toPoints2D(r.Points2D1), toPoints2D(r.Points2D2), r.CameraIdxs1, r.CameraIdxs2
}

// NewAbsoluteCorrespondences converts estimator inputs into their file form.
func NewAbsoluteCorrespondences(points2D []r2.Point, points3D []r3.Vector, cameraIdxs []int) *AbsoluteCorrespondences {
	a := &AbsoluteCorrespondences{
		Points2D:   fromPoints2D(points2D),
		Points3D:   make([][3]float64, len(points3D)),
		CameraIdxs: append([]int{}, cameraIdxs...),
	}
	for i, p := range points3D {
		a.Points3D[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return a
}

// NewRelativeCorrespondences converts estimator inputs into their file form.
func NewRelativeCorrespondences(points2D1, points2D2 []r2.Point, cameraIdxs1, cameraIdxs2 []int) *RelativeCorrespondences {
	return &RelativeCorrespondences{
		Points2D1:   fromPoints2D(points2D1),
		Points2D2:   fromPoints2D(points2D2),
		CameraIdxs1: append([]int{}, cameraIdxs1...),
		CameraIdxs2: append([]int{}, cameraIdxs2...),
	}
}

func toPoints2D(points [][2]float64) []r2.Point {
	out := make([]r2.Point, len(points))
	for i, p := range points {
		out[i] = r2.Point{X: p[0], Y: p[1]}
	}
	return out
}

func fromPoints2D(points []r2.Point) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}
