package rigpose

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rigpose/camera"
	"go.viam.com/rigpose/logging"
	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/spatialmath"
	"go.viam.com/rigpose/testutils"
)

func testRig2FromRig1() spatialmath.Rigid3 {
	return spatialmath.NewRigid3(
		spatialmath.QuatFromR3(r3.Vector{X: 0.02, Y: -0.05, Z: 0.03}),
		r3.Vector{X: 0.4, Y: -0.1, Z: 0.2},
	)
}

// twoViewCorrespondences observes n points from the rig at identity and at rig2FromRig1. Point i
// is seen by camera i on the first side and camera i+1 on the second, modulo the rig size.
func twoViewCorrespondences(
	rig *camera.Rig,
	rig2FromRig1 spatialmath.Rigid3,
	n int,
	seed int64,
) (points2D1, points2D2 []r2.Point, cameraIdxs1, cameraIdxs2 []int) {
	numCams := len(rig.Cameras)
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(seed)), n, spatialmath.NewZeroRigid3())
	for i, pt := range points {
		idx1, idx2 := i%numCams, (i+1)%numCams
		px1, ok1 := testutils.Project(rig, idx1, spatialmath.NewZeroRigid3(), pt)
		px2, ok2 := testutils.Project(rig, idx2, rig2FromRig1, pt)
		if !ok1 || !ok2 {
			continue
		}
		points2D1 = append(points2D1, px1)
		points2D2 = append(points2D2, px2)
		cameraIdxs1 = append(cameraIdxs1, idx1)
		cameraIdxs2 = append(cameraIdxs2, idx2)
	}
	return points2D1, points2D2, cameraIdxs1, cameraIdxs2
}

func relativeTestOptions() ransac.Options {
	opts := ransac.DefaultOptions()
	opts.MaxError = 1e-3
	opts.RandomSeed = 0
	return opts
}

func TestEstimateGeneralizedRelativePose(t *testing.T) {
	rig := testutils.NewTestRig(2)
	rig2FromRig1 := testRig2FromRig1()
	points2D1, points2D2, idxs1, idxs2 := twoViewCorrespondences(rig, rig2FromRig1, 40, 4)
	test.That(t, points2D1, test.ShouldHaveLength, 40)

	estimator := NewEstimator(logging.NewTestLogger(t))
	pose, err := estimator.EstimateGeneralizedRelativePose(
		relativeTestOptions(), points2D1, points2D2, idxs1, idxs2, rig.CamsFromRig, rig.Cameras)
	test.That(t, err, test.ShouldBeNil)
	motion, ok := pose.Motion.(RigMotion)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.Rigid3AlmostEqual(motion.Rig2FromRig1, rig2FromRig1, 1e-4), test.ShouldBeTrue)
	test.That(t, pose.NumInliers, test.ShouldEqual, 40)
	test.That(t, pose.InlierMask, test.ShouldHaveLength, 40)
}

func TestEstimateGeneralizedRelativePoseWithOutliers(t *testing.T) {
	rig := testutils.NewTestRig(2)
	rig2FromRig1 := testRig2FromRig1()
	points2D1, points2D2, idxs1, idxs2 := twoViewCorrespondences(rig, rig2FromRig1, 50, 6)
	test.That(t, points2D1, test.ShouldHaveLength, 50)
	for i := 40; i < 50; i++ {
		points2D2[i] = points2D2[i].Add(r2.Point{X: 35 + float64(i), Y: -60 + 2*float64(i)})
	}

	pose, err := EstimateGeneralizedRelativePose(
		relativeTestOptions(), points2D1, points2D2, idxs1, idxs2, rig.CamsFromRig, rig.Cameras)
	test.That(t, err, test.ShouldBeNil)
	motion, ok := pose.Motion.(RigMotion)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.Rigid3AlmostEqual(motion.Rig2FromRig1, rig2FromRig1, 1e-4), test.ShouldBeTrue)
	for i := 0; i < 40; i++ {
		test.That(t, pose.InlierMask[i], test.ShouldBeTrue)
	}
	test.That(t, pose.NumInliers, test.ShouldBeGreaterThanOrEqualTo, 40)
	test.That(t, pose.NumInliers, test.ShouldBeLessThan, 50)
}

func TestEstimateGeneralizedRelativePosePanoramic(t *testing.T) {
	rig := testutils.NewPanoramicTestRig(2)
	rig2FromRig1 := testRig2FromRig1()
	points2D1, points2D2, idxs1, idxs2 := twoViewCorrespondences(rig, rig2FromRig1, 40, 5)

	pose, err := EstimateGeneralizedRelativePose(
		relativeTestOptions(), points2D1, points2D2, idxs1, idxs2, rig.CamsFromRig, rig.Cameras)
	test.That(t, err, test.ShouldBeNil)
	motion, ok := pose.Motion.(PanoMotion)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.NumInliers, test.ShouldEqual, len(points2D1))

	// the shared center c moves to R*c + t, so the translation between the centers is known up to
	// scale
	center := rig.CamsFromRig[0].Origin()
	expected := spatialmath.RotateVector(rig2FromRig1.Rotation, center).Add(rig2FromRig1.Translation).Sub(center)
	test.That(t, spatialmath.QuatAngleBetween(motion.Pano2FromPano1.Rotation, rig2FromRig1.Rotation),
		test.ShouldBeLessThan, 1e-4)
	test.That(t, motion.Pano2FromPano1.Translation.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, motion.Pano2FromPano1.Translation.Angle(expected).Radians(), test.ShouldBeLessThan, 1e-3)
}

func TestEstimateGeneralizedRelativePoseFailures(t *testing.T) {
	rig := testutils.NewTestRig(2)

	t.Run("no correspondences", func(t *testing.T) {
		pose, err := EstimateGeneralizedRelativePose(relativeTestOptions(), nil, nil, nil, nil, rig.CamsFromRig, rig.Cameras)
		test.That(t, pose, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrNoCorrespondences), test.ShouldBeTrue)
	})

	t.Run("too few correspondences", func(t *testing.T) {
		points2D1, points2D2, idxs1, idxs2 := twoViewCorrespondences(rig, testRig2FromRig1(), 5, 6)
		pose, err := EstimateGeneralizedRelativePose(
			relativeTestOptions(), points2D1, points2D2, idxs1, idxs2, rig.CamsFromRig, rig.Cameras)
		test.That(t, pose, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrEstimationFailed), test.ShouldBeTrue)
	})

	t.Run("mismatched sides", func(t *testing.T) {
		test.That(t, func() {
			//nolint:errcheck
			EstimateGeneralizedRelativePose(relativeTestOptions(),
				[]r2.Point{{X: 1, Y: 1}}, nil, []int{0}, nil, rig.CamsFromRig, rig.Cameras)
		}, test.ShouldPanic)
	})

	t.Run("camera index out of range", func(t *testing.T) {
		test.That(t, func() {
			//nolint:errcheck
			EstimateGeneralizedRelativePose(relativeTestOptions(),
				[]r2.Point{{X: 1, Y: 1}}, []r2.Point{{X: 1, Y: 1}}, []int{0}, []int{-1}, rig.CamsFromRig, rig.Cameras)
		}, test.ShouldPanic)
	})
}
