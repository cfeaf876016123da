package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrInvalidCamera is wrapped by every camera validation failure.
var ErrInvalidCamera = errors.New("invalid camera")

// NewInvalidCameraError is used when a camera's model or parameters are unusable.
func NewInvalidCameraError(msg string) error {
	return errors.Wrap(ErrInvalidCamera, msg)
}

// Camera is a single camera of a rig: a projection model and its parameter vector.
type Camera struct {
	ID     uint32    `json:"camera_id"`
	Model  ModelID   `json:"model"`
	Width  int       `json:"width_px"`
	Height int       `json:"height_px"`
	Params []float64 `json:"params"`
}

// NewCamera returns a validated camera.
func NewCamera(id uint32, model ModelID, width, height int, params []float64) (Camera, error) {
	cam := Camera{ID: id, Model: model, Width: width, Height: height, Params: append([]float64(nil), params...)}
	if err := cam.CheckValid(); err != nil {
		return Camera{}, err
	}
	return cam, nil
}

// CheckValid checks that the model is known and the parameter vector is usable.
func (cam *Camera) CheckValid() error {
	if cam == nil {
		return NewInvalidCameraError("camera does not exist")
	}
	if !cam.Model.IsValid() {
		return NewInvalidCameraError(fmt.Sprintf("unknown model %q", cam.Model))
	}
	if len(cam.Params) != cam.Model.NumParams() {
		return NewInvalidCameraError(fmt.Sprintf("model %q expects %d params, got %d",
			cam.Model, cam.Model.NumParams(), len(cam.Params)))
	}
	var errs error
	if cam.Width < 0 || cam.Height < 0 {
		errs = multierr.Append(errs, NewInvalidCameraError(fmt.Sprintf("invalid size (%d, %d)", cam.Width, cam.Height)))
	}
	for _, idx := range cam.FocalLengthIdxs() {
		if !(cam.Params[idx] > 0) {
			errs = multierr.Append(errs, NewInvalidCameraError(fmt.Sprintf("invalid focal length %v", cam.Params[idx])))
		}
	}
	for i, p := range cam.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			errs = multierr.Append(errs, NewInvalidCameraError(fmt.Sprintf("param %d is not finite", i)))
		}
	}
	return errs
}

// Copy returns a deep copy of the camera.
func (cam Camera) Copy() Camera {
	cam.Params = append([]float64(nil), cam.Params...)
	return cam
}

// FocalLengthIdxs returns the indices of the focal length parameters.
func (cam *Camera) FocalLengthIdxs() []int {
	return cam.Model.spec().focalLengthIdxs
}

// PrincipalPointIdxs returns the indices of the principal point parameters.
func (cam *Camera) PrincipalPointIdxs() []int {
	return cam.Model.spec().principalPointIdxs
}

// ExtraParamsIdxs returns the indices of the distortion parameters.
func (cam *Camera) ExtraParamsIdxs() []int {
	return cam.Model.spec().extraParamsIdxs
}

// MeanFocalLength returns the average of the focal length parameters.
func (cam *Camera) MeanFocalLength() float64 {
	idxs := cam.FocalLengthIdxs()
	sum := 0.0
	for _, idx := range idxs {
		sum += cam.Params[idx]
	}
	return sum / float64(len(idxs))
}

// CamFromImg converts a pixel into normalized camera coordinates (the point (x, y) on the z=1
// plane). It returns false when the pixel lies outside the domain of the model.
func (cam *Camera) CamFromImg(pt r2.Point) (r2.Point, bool) {
	in := unpack(cam.Model, cam.Params)
	if in.fx == 0 || in.fy == 0 {
		return r2.Point{}, false
	}
	xd := (pt.X - in.cx) / in.fx
	yd := (pt.Y - in.cy) / in.fy
	xu, yu, ok := in.dist.undistort(xd, yd)
	if !ok {
		return r2.Point{}, false
	}
	return r2.Point{X: xu, Y: yu}, true
}

// RayFromImg converts a pixel into a unit bearing vector in the camera frame. It returns false when
// the pixel lies outside the domain of the model.
func (cam *Camera) RayFromImg(pt r2.Point) (r3.Vector, bool) {
	p, ok := cam.CamFromImg(pt)
	if !ok {
		return r3.Vector{}, false
	}
	return r3.Vector{X: p.X, Y: p.Y, Z: 1}.Normalize(), true
}

// ImgFromCam projects normalized camera coordinates into pixels.
func (cam *Camera) ImgFromCam(pt r2.Point) r2.Point {
	return ImgFromCam(cam.Model, cam.Params, pt)
}

// CamFromImgThreshold converts a pixel-space error threshold into normalized camera units.
func (cam *Camera) CamFromImgThreshold(thresholdPx float64) float64 {
	return thresholdPx / cam.MeanFocalLength()
}

// ImgFromCam projects normalized camera coordinates into pixels using an explicit parameter vector
// for the model. The least squares cost functions call this with the parameter block being
// optimized.
func ImgFromCam(model ModelID, params []float64, pt r2.Point) r2.Point {
	in := unpack(model, params)
	xd, yd := in.dist.distort(pt.X, pt.Y)
	return r2.Point{X: in.fx*xd + in.cx, Y: in.fy*yd + in.cy}
}
