// Package camera contains the per-camera projection models used by the rig estimators: the
// conversion between pixels and normalized camera coordinates, the parameter layouts and the
// named parameter index groups.
package camera

import (
	"github.com/pkg/errors"
)

// ModelID is the name of a camera projection model.
type ModelID string

const (
	// SimplePinholeModel has parameters f, cx, cy.
	SimplePinholeModel = ModelID("simple_pinhole")
	// PinholeModel has parameters fx, fy, cx, cy.
	PinholeModel = ModelID("pinhole")
	// SimpleRadialModel has parameters f, cx, cy, k and a single radial distortion term.
	SimpleRadialModel = ModelID("simple_radial")
	// RadialModel has parameters f, cx, cy, k1, k2.
	RadialModel = ModelID("radial")
	// OpenCVModel has parameters fx, fy, cx, cy, k1, k2, p1, p2 (Brown-Conrady with two radial and
	// two tangential terms).
	OpenCVModel = ModelID("opencv")
)

// modelSpec describes the parameter layout of a model.
type modelSpec struct {
	numParams          int
	focalLengthIdxs    []int
	principalPointIdxs []int
	extraParamsIdxs    []int
}

var modelSpecs = map[ModelID]modelSpec{
	SimplePinholeModel: {3, []int{0}, []int{1, 2}, []int{}},
	PinholeModel:       {4, []int{0, 1}, []int{2, 3}, []int{}},
	SimpleRadialModel:  {4, []int{0}, []int{1, 2}, []int{3}},
	RadialModel:        {5, []int{0}, []int{1, 2}, []int{3, 4}},
	OpenCVModel:        {8, []int{0, 1}, []int{2, 3}, []int{4, 5, 6, 7}},
}

// Models returns every supported model.
func Models() []ModelID {
	return []ModelID{SimplePinholeModel, PinholeModel, SimpleRadialModel, RadialModel, OpenCVModel}
}

// IsValid reports whether the model is one of the supported models.
func (m ModelID) IsValid() bool {
	_, ok := modelSpecs[m]
	return ok
}

// NumParams returns the length of the parameter vector for the model.
func (m ModelID) NumParams() int {
	return modelSpecs[m].numParams
}

func (m ModelID) spec() modelSpec {
	spec, ok := modelSpecs[m]
	if !ok {
		panic(errors.Errorf("unknown camera model %q", m))
	}
	return spec
}

// intrinsics is the model-independent view of a parameter vector.
type intrinsics struct {
	fx, fy, cx, cy float64
	dist           brownConrady
}

// unpack maps a parameter vector of the given model onto focal lengths, principal point and
// distortion terms. The switch is the single place where models differ.
func unpack(model ModelID, params []float64) intrinsics {
	switch model {
	case SimplePinholeModel:
		return intrinsics{fx: params[0], fy: params[0], cx: params[1], cy: params[2]}
	case PinholeModel:
		return intrinsics{fx: params[0], fy: params[1], cx: params[2], cy: params[3]}
	case SimpleRadialModel:
		return intrinsics{
			fx: params[0], fy: params[0], cx: params[1], cy: params[2],
			dist: brownConrady{k1: params[3]},
		}
	case RadialModel:
		return intrinsics{
			fx: params[0], fy: params[0], cx: params[1], cy: params[2],
			dist: brownConrady{k1: params[3], k2: params[4]},
		}
	case OpenCVModel:
		return intrinsics{
			fx: params[0], fy: params[1], cx: params[2], cy: params[3],
			dist: brownConrady{k1: params[4], k2: params[5], p1: params[6], p2: params[7]},
		}
	default:
		panic(errors.Errorf("unknown camera model %q", model))
	}
}
