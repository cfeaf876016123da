package rigpose

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/leastsquares"
	"go.viam.com/rigpose/logging"
	"go.viam.com/rigpose/spatialmath"
	"go.viam.com/rigpose/testutils"
)

type refineScene struct {
	rig          *camera.Rig
	rigFromWorld spatialmath.Rigid3
	corrs        *testutils.Correspondences
	mask         []bool
}

func newRefineScene(numCams, numPoints int, seed int64) *refineScene {
	rig := testutils.NewTestRig(numCams)
	rigFromWorld := testutils.TestRigFromWorld()
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(seed)), numPoints, rigFromWorld)
	corrs := testutils.ObserveWithEveryCamera(rig, rigFromWorld, points)
	mask := make([]bool, corrs.Len())
	for i := range mask {
		mask[i] = true
	}
	return &refineScene{rig: rig, rigFromWorld: rigFromWorld, corrs: corrs, mask: mask}
}

func testRefinementOptions() RefinementOptions {
	opts := DefaultRefinementOptions()
	opts.GradientTolerance = 1e-10
	opts.RefineFocalLength = false
	opts.RefineExtraParams = false
	return opts
}

func TestRefineGeneralizedAbsolutePose(t *testing.T) {
	scene := newRefineScene(2, 30, 7)
	initial := testutils.Perturb(scene.rigFromWorld, 0.02, r3.Vector{X: 0.05, Y: -0.03, Z: 0.04})

	refined, err := RefineGeneralizedAbsolutePose(testRefinementOptions(), scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, initial, scene.rig.Cameras, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.Rigid3AlmostEqual(refined.RigFromWorld, scene.rigFromWorld, 1e-6), test.ShouldBeTrue)
	test.That(t, refined.Summary.IsSolutionUsable(), test.ShouldBeTrue)
	test.That(t, refined.Summary.FinalCost, test.ShouldBeLessThan, refined.Summary.InitialCost)
	test.That(t, refined.Summary.NumResidualBlocks, test.ShouldEqual, scene.corrs.Len())
	// only the pose is variable
	test.That(t, refined.Summary.NumEffectiveParameters, test.ShouldEqual, 6)
	test.That(t, refined.Covariance, test.ShouldBeNil)
	test.That(t, refined.Cameras, test.ShouldResemble, scene.rig.Cameras)
}

func TestRefineFocalLength(t *testing.T) {
	scene := newRefineScene(2, 40, 8)
	cameras := scene.rig.CopyCameras()
	cameras[0].Params[0] = 520

	opts := testRefinementOptions()
	opts.RefineFocalLength = true
	refined, err := RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Cameras[0].Params[0], test.ShouldAlmostEqual, 500, 1e-3)
	test.That(t, refined.Cameras[1].Params[0], test.ShouldAlmostEqual, 500, 1e-3)
	test.That(t, spatialmath.Rigid3AlmostEqual(refined.RigFromWorld, scene.rigFromWorld, 1e-5), test.ShouldBeTrue)

	// principal point and distortion stay put, and the input is untouched
	test.That(t, refined.Cameras[0].Params[1:], test.ShouldResemble, cameras[0].Params[1:])
	test.That(t, cameras[0].Params[0], test.ShouldEqual, 520)
	// 6 pose parameters and one focal length per camera
	test.That(t, refined.Summary.NumEffectiveParameters, test.ShouldEqual, 8)
}

func TestRefineLeavesUnobservedCameras(t *testing.T) {
	scene := newRefineScene(2, 20, 9)
	// a third camera that no correspondence references
	cameras := append(scene.rig.CopyCameras(), testutils.NewTestCamera(2))
	cameras[2].Params[0] = 700
	camsFromRig := append(append([]spatialmath.Rigid3{}, scene.rig.CamsFromRig...), spatialmath.NewZeroRigid3())

	opts := testRefinementOptions()
	opts.RefineFocalLength = true
	opts.RefineExtraParams = true
	refined, err := RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		camsFromRig, scene.rigFromWorld, cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Cameras, test.ShouldHaveLength, 3)
	test.That(t, refined.Cameras[2], test.ShouldResemble, cameras[2])
}

func TestRefineCovariance(t *testing.T) {
	scene := newRefineScene(2, 30, 10)
	opts := testRefinementOptions()
	opts.ComputeCovariance = true
	refined, err := RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Covariance, test.ShouldNotBeNil)
	test.That(t, refined.Covariance.SymmetricDim(), test.ShouldEqual, 6)
	for i := 0; i < 6; i++ {
		test.That(t, refined.Covariance.At(i, i), test.ShouldBeGreaterThan, 0)
		for j := 0; j < 6; j++ {
			test.That(t, refined.Covariance.At(i, j), test.ShouldEqual, refined.Covariance.At(j, i))
		}
	}
}

func TestRefineCovarianceFailure(t *testing.T) {
	// a single point seen by two cameras leaves the pose underdetermined
	scene := newRefineScene(2, 1, 13)
	test.That(t, scene.corrs.Len(), test.ShouldEqual, 2)

	opts := testRefinementOptions()
	refined, err := RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Covariance, test.ShouldBeNil)

	opts.ComputeCovariance = true
	refined, err = RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
	test.That(t, refined, test.ShouldBeNil)
	test.That(t, errors.Is(err, ErrCovarianceFailed), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrRefinementFailed), test.ShouldBeFalse)
}

func TestRefineExtraParamsOnly(t *testing.T) {
	scene := newRefineScene(2, 40, 14)
	cameras := scene.rig.CopyCameras()
	cameras[0].Params[3] = 0.03

	opts := testRefinementOptions()
	opts.RefineExtraParams = true
	refined, err := RefineGeneralizedAbsolutePose(opts, scene.mask,
		scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	// 6 pose parameters and one radial coefficient per camera
	test.That(t, refined.Summary.NumEffectiveParameters, test.ShouldEqual, 8)
	test.That(t, refined.Cameras[0].Params[3], test.ShouldAlmostEqual, 0.01, 1e-4)
	for i, cam := range refined.Cameras {
		test.That(t, cam.Params[:3], test.ShouldResemble, cameras[i].Params[:3])
	}
	test.That(t, cameras[0].Params[3], test.ShouldEqual, 0.03)
}

func TestRefineFreezesCamerasWithoutFreeIntrinsics(t *testing.T) {
	rig := testutils.NewTestRig(2)
	for i := range rig.Cameras {
		rig.Cameras[i].Model = camera.PinholeModel
		rig.Cameras[i].Params = []float64{500, 510, 320, 240}
	}
	rigFromWorld := testutils.TestRigFromWorld()
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(15)), 20, rigFromWorld)
	corrs := testutils.ObserveWithEveryCamera(rig, rigFromWorld, points)
	mask := make([]bool, corrs.Len())
	for i := range mask {
		mask[i] = true
	}
	initial := testutils.Perturb(rigFromWorld, 0.01, r3.Vector{X: 0.02})

	// pinhole has no extra parameters, so with the focal length frozen nothing is left to refine
	opts := testRefinementOptions()
	opts.RefineExtraParams = true
	refined, err := RefineGeneralizedAbsolutePose(opts, mask,
		corrs.Points2D, corrs.Points3D, corrs.CameraIdxs,
		rig.CamsFromRig, initial, rig.Cameras, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Summary.NumEffectiveParameters, test.ShouldEqual, 6)
	test.That(t, refined.Cameras, test.ShouldResemble, rig.Cameras)
	test.That(t, spatialmath.Rigid3AlmostEqual(refined.RigFromWorld, rigFromWorld, 1e-6), test.ShouldBeTrue)
}

func TestRefineWithOutlier(t *testing.T) {
	scene := newRefineScene(2, 30, 11)
	points2D := append([]r2.Point{}, scene.corrs.Points2D...)
	points2D[0] = points2D[0].Add(r2.Point{X: 80, Y: -60})

	t.Run("masked out", func(t *testing.T) {
		mask := append([]bool{}, scene.mask...)
		mask[0] = false
		refined, err := RefineGeneralizedAbsolutePose(testRefinementOptions(), mask,
			points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
			scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, refined.Summary.NumResidualBlocks, test.ShouldEqual, scene.corrs.Len()-1)
		test.That(t, spatialmath.Rigid3AlmostEqual(refined.RigFromWorld, scene.rigFromWorld, 1e-6), test.ShouldBeTrue)
	})

	t.Run("robust loss", func(t *testing.T) {
		refined, err := RefineGeneralizedAbsolutePose(testRefinementOptions(), scene.mask,
			points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
			scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, spatialmath.Rigid3AlmostEqual(refined.RigFromWorld, scene.rigFromWorld, 1e-2), test.ShouldBeTrue)
	})
}

func TestRefineFailures(t *testing.T) {
	scene := newRefineScene(2, 10, 12)

	t.Run("empty mask", func(t *testing.T) {
		mask := make([]bool, scene.corrs.Len())
		refined, err := RefineGeneralizedAbsolutePose(testRefinementOptions(), mask,
			scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
			scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
		test.That(t, refined, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrNoResiduals), test.ShouldBeTrue)
	})

	t.Run("mask length", func(t *testing.T) {
		test.That(t, func() {
			//nolint:errcheck
			RefineGeneralizedAbsolutePose(testRefinementOptions(), scene.mask[1:],
				scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
				scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
		}, test.ShouldPanic)
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := testRefinementOptions()
		opts.MaxNumIterations = -1
		test.That(t, func() {
			//nolint:errcheck
			RefineGeneralizedAbsolutePose(opts, scene.mask,
				scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
				scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras, nil)
		}, test.ShouldPanic)
	})
}

func TestRefinementOptionsCheck(t *testing.T) {
	test.That(t, DefaultRefinementOptions().Check(), test.ShouldBeNil)
	opts := RefinementOptions{LossFunctionScale: -1, GradientTolerance: -1, MaxNumIterations: -1}
	err := opts.Check()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "loss_function_scale")
	test.That(t, err.Error(), test.ShouldContainSubstring, "gradient_tolerance")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_num_iterations")
}

func TestRigReprojectionCost(t *testing.T) {
	rig := testutils.NewTestRig(2)
	rigFromWorld := testutils.TestRigFromWorld()
	point := testutils.RandomPointsInFront(rand.New(rand.NewSource(13)), 1, rigFromWorld)[0]
	px, ok := testutils.Project(rig, 1, rigFromWorld, point)
	test.That(t, ok, test.ShouldBeTrue)

	cost, err := NewRigReprojectionCost(rig.Cameras[1].Model, px)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cost.NumResiduals(), test.ShouldEqual, 2)
	test.That(t, cost.ParameterBlockSizes(), test.ShouldResemble, []int{4, 3, 4, 3, 3, 4})

	extrinsic := newRigid3Blocks(rig.CamsFromRig[1])
	pose := newRigid3Blocks(rigFromWorld)
	params := [][]float64{
		extrinsic.rotation, extrinsic.translation,
		pose.rotation, pose.translation,
		{point.X, point.Y, point.Z},
		rig.Cameras[1].Params,
	}
	residuals := make([]float64, 2)
	test.That(t, cost.Evaluate(params, residuals), test.ShouldBeTrue)
	test.That(t, residuals[0], test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, residuals[1], test.ShouldAlmostEqual, 0, 1e-9)

	params[5] = []float64{510, 320, 240, 0.01}
	test.That(t, cost.Evaluate(params, residuals), test.ShouldBeTrue)
	test.That(t, r2.Point{X: residuals[0], Y: residuals[1]}.Norm(), test.ShouldBeGreaterThan, 0)

	t.Run("point on the camera plane", func(t *testing.T) {
		identity := newRigid3Blocks(spatialmath.NewZeroRigid3())
		onPlane := [][]float64{
			identity.rotation, identity.translation,
			identity.rotation, identity.translation,
			{1, 0, 0},
			rig.Cameras[1].Params,
		}
		test.That(t, cost.Evaluate(onPlane, residuals), test.ShouldBeFalse)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := NewRigReprojectionCost(camera.ModelID("fisheye"), px)
		test.That(t, err, test.ShouldNotBeNil)
	})

	var _ leastsquares.CostFunction = cost
}

func TestReprojectionErrors(t *testing.T) {
	scene := newRefineScene(2, 5, 14)
	errs := ReprojectionErrors(scene.corrs.Points2D, scene.corrs.Points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras)
	test.That(t, errs, test.ShouldHaveLength, scene.corrs.Len())
	for _, e := range errs {
		test.That(t, e, test.ShouldBeLessThan, 1e-9)
	}

	points2D := append([]r2.Point{}, scene.corrs.Points2D...)
	points2D[1] = points2D[1].Add(r2.Point{X: 3, Y: 4})
	points3D := append([]r3.Vector{}, scene.corrs.Points3D...)
	// mirror a point behind the rig
	points3D[2] = scene.rigFromWorld.Inverse().Apply(scene.rigFromWorld.Apply(points3D[2]).Mul(-1))
	errs = ReprojectionErrors(points2D, points3D, scene.corrs.CameraIdxs,
		scene.rig.CamsFromRig, scene.rigFromWorld, scene.rig.Cameras)
	test.That(t, errs[1], test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, math.IsInf(errs[2], 1), test.ShouldBeTrue)
}
