package rigpose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/leastsquares"
	"go.viam.com/rigpose/spatialmath"
)

// RigReprojectionCost is the pixel reprojection error of a 3D point observed by one camera of a
// rig. Its parameter blocks are, in order:
//
//	cam_from_rig rotation [w, x, y, z], cam_from_rig translation,
//	rig_from_world rotation [w, x, y, z], rig_from_world translation,
//	point3D, camera params.
type RigReprojectionCost struct {
	model    camera.ModelID
	observed r2.Point
}

// NewRigReprojectionCost returns the cost for a pixel observed by a camera of the given model.
func NewRigReprojectionCost(model camera.ModelID, observed r2.Point) (*RigReprojectionCost, error) {
	if !model.IsValid() {
		return nil, errors.Errorf("unknown camera model %q", model)
	}
	return &RigReprojectionCost{model: model, observed: observed}, nil
}

// NumResiduals implements leastsquares.CostFunction.
func (c *RigReprojectionCost) NumResiduals() int {
	return 2
}

// ParameterBlockSizes implements leastsquares.CostFunction.
func (c *RigReprojectionCost) ParameterBlockSizes() []int {
	return []int{4, 3, 4, 3, 3, c.model.NumParams()}
}

// Evaluate implements leastsquares.CostFunction. It fails for points on the camera plane.
func (c *RigReprojectionCost) Evaluate(params [][]float64, residuals []float64) bool {
	camFromRig := rigid3FromBlocks(params[0], params[1])
	rigFromWorld := rigid3FromBlocks(params[2], params[3])
	point := r3.Vector{X: params[4][0], Y: params[4][1], Z: params[4][2]}
	pointInCam := camFromRig.Apply(rigFromWorld.Apply(point))
	if pointInCam.Z == 0 {
		return false
	}
	projected := camera.ImgFromCam(c.model, params[5], r2.Point{X: pointInCam.X / pointInCam.Z, Y: pointInCam.Y / pointInCam.Z})
	residuals[0] = projected.X - c.observed.X
	residuals[1] = projected.Y - c.observed.Y
	return true
}

var _ leastsquares.CostFunction = (*RigReprojectionCost)(nil)

// rigid3Blocks holds a Rigid3 as the two parameter blocks the solver optimizes.
type rigid3Blocks struct {
	rotation    []float64
	translation []float64
}

func newRigid3Blocks(r spatialmath.Rigid3) rigid3Blocks {
	return rigid3Blocks{
		rotation:    []float64{r.Rotation.Real, r.Rotation.Imag, r.Rotation.Jmag, r.Rotation.Kmag},
		translation: []float64{r.Translation.X, r.Translation.Y, r.Translation.Z},
	}
}

func (b rigid3Blocks) rigid3() spatialmath.Rigid3 {
	return rigid3FromBlocks(b.rotation, b.translation)
}

func rigid3FromBlocks(rotation, translation []float64) spatialmath.Rigid3 {
	return spatialmath.Rigid3{
		Rotation:    quat.Number{Real: rotation[0], Imag: rotation[1], Jmag: rotation[2], Kmag: rotation[3]},
		Translation: r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]},
	}
}
