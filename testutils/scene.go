package testutils

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/spatialmath"
)

// NewTestCamera returns a 640x480 simple radial camera with a mild distortion term.
func NewTestCamera(id uint32) camera.Camera {
	return camera.Camera{
		ID:     id,
		Model:  camera.SimpleRadialModel,
		Width:  640,
		Height: 480,
		Params: []float64{500, 320, 240, 0.01},
	}
}

// NewTestRig returns a rig of numCams cameras spread along the rig x axis and slightly yawed, so
// their optical centers differ.
func NewTestRig(numCams int) *camera.Rig {
	rig := &camera.Rig{}
	for i := 0; i < numCams; i++ {
		rig.Cameras = append(rig.Cameras, NewTestCamera(uint32(i)))
		yaw := 0.1 * float64(i)
		rig.CamsFromRig = append(rig.CamsFromRig, spatialmath.NewRigid3(
			spatialmath.QuatFromR3(r3.Vector{Y: yaw}),
			r3.Vector{X: -0.3 * float64(i), Y: 0.05 * float64(i)},
		))
	}
	return rig
}

// NewPanoramicTestRig returns a rig of numCams cameras sharing one optical center and rotated
// about the rig y axis.
func NewPanoramicTestRig(numCams int) *camera.Rig {
	rig := &camera.Rig{}
	center := r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}
	for i := 0; i < numCams; i++ {
		rig.Cameras = append(rig.Cameras, NewTestCamera(uint32(i)))
		rotation := spatialmath.QuatFromR3(r3.Vector{Y: 0.15 * float64(i)})
		// t = -R*c keeps the center at c.
		translation := spatialmath.RotateVector(rotation, center).Mul(-1)
		rig.CamsFromRig = append(rig.CamsFromRig, spatialmath.NewRigid3(rotation, translation))
	}
	return rig
}

// TestRigFromWorld is the pose synthetic scenes are observed from.
func TestRigFromWorld() spatialmath.Rigid3 {
	return spatialmath.NewRigid3(
		spatialmath.QuatFromR3(r3.Vector{X: 0.05, Y: -0.1, Z: 0.2}),
		r3.Vector{X: 0.2, Y: -0.1, Z: 0.3},
	)
}

// Correspondences are 2D-3D matches observed by the cameras of a rig.
type Correspondences struct {
	Points2D   []r2.Point
	Points3D   []r3.Vector
	CameraIdxs []int
}

// Append adds one correspondence.
func (c *Correspondences) Append(pt2D r2.Point, pt3D r3.Vector, cameraIdx int) {
	c.Points2D = append(c.Points2D, pt2D)
	c.Points3D = append(c.Points3D, pt3D)
	c.CameraIdxs = append(c.CameraIdxs, cameraIdx)
}

// Len returns the number of correspondences.
func (c *Correspondences) Len() int {
	return len(c.Points2D)
}

// RandomPointsInFront returns n world points that lie between 4 and 8 units in front of every
// camera of the given rig placed at rigFromWorld, within a narrow cone.
func RandomPointsInFront(rng *rand.Rand, n int, rigFromWorld spatialmath.Rigid3) []r3.Vector {
	worldFromRig := rigFromWorld.Inverse()
	points := make([]r3.Vector, n)
	for i := range points {
		inRig := r3.Vector{
			X: rng.Float64()*2 - 1,
			Y: rng.Float64()*2 - 1,
			Z: 4 + 4*rng.Float64(),
		}
		points[i] = worldFromRig.Apply(inRig)
	}
	return points
}

// Project returns the pixel of a world point seen by camera idx of a rig at rigFromWorld and
// whether the point is in front of the camera.
func Project(rig *camera.Rig, idx int, rigFromWorld spatialmath.Rigid3, point r3.Vector) (r2.Point, bool) {
	inCam := rig.CamsFromRig[idx].Apply(rigFromWorld.Apply(point))
	if inCam.Z <= 0 {
		return r2.Point{}, false
	}
	cam := rig.Cameras[idx]
	return cam.ImgFromCam(r2.Point{X: inCam.X / inCam.Z, Y: inCam.Y / inCam.Z}), true
}

// ObserveWithEveryCamera projects every point into every camera of the rig, so each point is
// observed len(rig.Cameras) times.
func ObserveWithEveryCamera(rig *camera.Rig, rigFromWorld spatialmath.Rigid3, points []r3.Vector) *Correspondences {
	c := &Correspondences{}
	for idx := range rig.Cameras {
		for _, pt := range points {
			if px, ok := Project(rig, idx, rigFromWorld, pt); ok {
				c.Append(px, pt, idx)
			}
		}
	}
	return c
}

// ObserveRoundRobin projects point i into camera i % len(rig.Cameras).
func ObserveRoundRobin(rig *camera.Rig, rigFromWorld spatialmath.Rigid3, points []r3.Vector) *Correspondences {
	c := &Correspondences{}
	for i, pt := range points {
		idx := i % len(rig.Cameras)
		if px, ok := Project(rig, idx, rigFromWorld, pt); ok {
			c.Append(px, pt, idx)
		}
	}
	return c
}

// Perturb returns pose rotated by a small angle about a fixed axis and shifted by the given
// offset.
func Perturb(pose spatialmath.Rigid3, angle float64, offset r3.Vector) spatialmath.Rigid3 {
	delta := spatialmath.QuatFromR3(r3.Vector{X: 1, Y: -1, Z: 0.5}.Normalize().Mul(angle))
	return spatialmath.NewRigid3(quat.Mul(delta, pose.Rotation), pose.Translation.Add(offset))
}
