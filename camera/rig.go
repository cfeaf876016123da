package camera

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/rigpose/spatialmath"
)

// Rig is a set of cameras with fixed, known extrinsics. CamsFromRig[i] maps rig coordinates into
// the frame of Cameras[i].
type Rig struct {
	Cameras     []Camera             `json:"cameras"`
	CamsFromRig []spatialmath.Rigid3 `json:"cams_from_rig"`
}

// CheckValid checks that the rig is non-empty, that every camera has an extrinsic and that every
// camera is valid.
func (rig *Rig) CheckValid() error {
	if rig == nil || len(rig.Cameras) == 0 {
		return errors.New("rig has no cameras")
	}
	if len(rig.CamsFromRig) != len(rig.Cameras) {
		return errors.Errorf("rig has %d cameras but %d extrinsics", len(rig.Cameras), len(rig.CamsFromRig))
	}
	var errs error
	for i := range rig.Cameras {
		if err := rig.Cameras[i].CheckValid(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "camera %d", i))
		}
	}
	return errs
}

// CopyCameras returns deep copies of the rig's cameras.
func (rig *Rig) CopyCameras() []Camera {
	out := make([]Camera, len(rig.Cameras))
	for i := range rig.Cameras {
		out[i] = rig.Cameras[i].Copy()
	}
	return out
}

// String implements fmt.Stringer.
func (rig *Rig) String() string {
	return fmt.Sprintf("Rig(%d cameras)", len(rig.Cameras))
}

// NewRigFromJSONFile reads a rig definition from a JSON file and validates it.
func NewRigFromJSONFile(jsonPath string) (*Rig, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	rig := &Rig{}
	if err := json.Unmarshal(byteValue, rig); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := rig.CheckValid(); err != nil {
		return nil, err
	}
	return rig, nil
}
