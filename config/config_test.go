package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"

	"go.viam.com/rigpose/ransac"
	"go.viam.com/rigpose/rigpose"
	"go.viam.com/rigpose/spatialmath"
	"go.viam.com/rigpose/testutils"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)
	test.That(t, cfg.RANSAC, test.ShouldResemble, ransac.DefaultOptions())
	test.That(t, cfg.RelativeRANSAC.MaxError, test.ShouldEqual, DefaultRelativeMaxError)
	test.That(t, cfg.Refinement, test.ShouldResemble, rigpose.DefaultRefinementOptions())
}

func TestFromAttributes(t *testing.T) {
	t.Run("overrides keep defaults", func(t *testing.T) {
		cfg, err := FromAttributes(map[string]interface{}{
			"ransac": map[string]interface{}{
				"max_error":      12.0,
				"max_num_trials": 500.0,
				"random_seed":    "7",
			},
			"refinement": map[string]interface{}{
				"refine_focal_length": false,
				"compute_covariance":  true,
			},
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.RANSAC.MaxError, test.ShouldEqual, 12.0)
		test.That(t, cfg.RANSAC.MaxNumTrials, test.ShouldEqual, 500)
		test.That(t, cfg.RANSAC.RandomSeed, test.ShouldEqual, int64(7))
		test.That(t, cfg.RANSAC.Confidence, test.ShouldEqual, ransac.DefaultOptions().Confidence)
		test.That(t, cfg.Refinement.RefineFocalLength, test.ShouldBeFalse)
		test.That(t, cfg.Refinement.RefineExtraParams, test.ShouldBeTrue)
		test.That(t, cfg.Refinement.ComputeCovariance, test.ShouldBeTrue)
		test.That(t, cfg.RelativeRANSAC.MaxError, test.ShouldEqual, DefaultRelativeMaxError)
	})

	t.Run("empty", func(t *testing.T) {
		cfg, err := FromAttributes(nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg, test.ShouldResemble, Default())
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := FromAttributes(map[string]interface{}{"ransac": map[string]interface{}{"max_eror": 1.0}})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "max_eror")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := FromAttributes(map[string]interface{}{
			"ransac":     map[string]interface{}{"max_error": -1.0},
			"refinement": map[string]interface{}{"max_num_iterations": -3},
		})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "config.ransac")
		test.That(t, err.Error(), test.ShouldContainSubstring, "max_error must be positive")
		test.That(t, err.Error(), test.ShouldContainSubstring, "config.refinement")
	})
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	test.That(t, os.WriteFile(path, []byte(`{"relative_ransac": {"max_error": 0.01}}`), 0o600), test.ShouldBeNil)
	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.RelativeRANSAC.MaxError, test.ShouldEqual, 0.01)

	_, err = ReadConfig(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"ransac": `), 0o600), test.ShouldBeNil)
	_, err = ReadConfig(bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func testProblem() *Problem {
	rig := testutils.NewTestRig(2)
	rigFromWorld := testutils.TestRigFromWorld()
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(1)), 5, rigFromWorld)
	corrs := testutils.ObserveWithEveryCamera(rig, rigFromWorld, points)
	return &Problem{
		Rig:                 *rig,
		Absolute:            NewAbsoluteCorrespondences(corrs.Points2D, corrs.Points3D, corrs.CameraIdxs),
		InitialRigFromWorld: &rigFromWorld,
	}
}

func TestProblemRoundTrip(t *testing.T) {
	problem := testProblem()
	path := filepath.Join(t.TempDir(), "problem.json")
	test.That(t, WriteProblem(path, problem), test.ShouldBeNil)

	read, err := ReadProblem(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.FilePath, test.ShouldEqual, path)
	test.That(t, cmp.Diff(read.Rig.Cameras, problem.Rig.Cameras), test.ShouldBeEmpty)
	test.That(t, cmp.Equal(read.Rig.CamsFromRig, problem.Rig.CamsFromRig, cmpopts.EquateApprox(0, 1e-12)), test.ShouldBeTrue)
	test.That(t, read.Relative, test.ShouldBeNil)
	test.That(t, spatialmath.Rigid3AlmostEqual(*read.InitialRigFromWorld, *problem.InitialRigFromWorld, 1e-12),
		test.ShouldBeTrue)

	points2D, points3D, idxs := read.Absolute.AbsoluteInputs()
	wantPoints2D, wantPoints3D, wantIdxs := problem.Absolute.AbsoluteInputs()
	test.That(t, points2D, test.ShouldResemble, wantPoints2D)
	test.That(t, points3D, test.ShouldResemble, wantPoints3D)
	test.That(t, idxs, test.ShouldResemble, wantIdxs)
}

func TestProblemValidate(t *testing.T) {
	test.That(t, testProblem().Validate("problem"), test.ShouldBeNil)

	t.Run("no correspondences", func(t *testing.T) {
		problem := testProblem()
		problem.Absolute = nil
		err := problem.Validate("problem")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "absolute")
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		problem := testProblem()
		problem.Absolute.Points3D = problem.Absolute.Points3D[1:]
		err := problem.Validate("problem")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "points3D")
	})

	t.Run("camera out of range", func(t *testing.T) {
		problem := testProblem()
		points2D, _, idxs := problem.Absolute.AbsoluteInputs()
		problem.Relative = NewRelativeCorrespondences(points2D, points2D, idxs, append([]int{5}, idxs[1:]...))
		err := problem.Validate("problem")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "camera_idxs2[0] = 5")
	})

	t.Run("invalid rig", func(t *testing.T) {
		problem := testProblem()
		problem.Rig.CamsFromRig = problem.Rig.CamsFromRig[:1]
		test.That(t, problem.Validate("problem"), test.ShouldNotBeNil)
	})
}
