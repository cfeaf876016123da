package cli

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rigpose/config"
	"go.viam.com/rigpose/spatialmath"
	"go.viam.com/rigpose/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

func writeAbsoluteProblem(t *testing.T, dir, name string, numPoints int, seed int64) string {
	t.Helper()
	rig := testutils.NewTestRig(2)
	rigFromWorld := testutils.TestRigFromWorld()
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(seed)), numPoints, rigFromWorld)
	corrs := testutils.ObserveWithEveryCamera(rig, rigFromWorld, points)
	path := filepath.Join(dir, name)
	test.That(t, config.WriteProblem(path, &config.Problem{
		Rig:      *rig,
		Absolute: config.NewAbsoluteCorrespondences(corrs.Points2D, corrs.Points3D, corrs.CameraIdxs),
	}), test.ShouldBeNil)
	return path
}

func writeRelativeProblem(t *testing.T, dir, name string, seed int64) string {
	t.Helper()
	rig := testutils.NewTestRig(2)
	rig2FromRig1 := spatialmath.NewRigid3(
		spatialmath.QuatFromR3(testutils.TestRigFromWorld().Translation.Mul(0.1)),
		testutils.TestRigFromWorld().Translation,
	)
	points := testutils.RandomPointsInFront(rand.New(rand.NewSource(seed)), 40, spatialmath.NewZeroRigid3())
	relative := &config.RelativeCorrespondences{}
	for i, pt := range points {
		idx1, idx2 := i%2, (i+1)%2
		px1, ok1 := testutils.Project(rig, idx1, spatialmath.NewZeroRigid3(), pt)
		px2, ok2 := testutils.Project(rig, idx2, rig2FromRig1, pt)
		test.That(t, ok1 && ok2, test.ShouldBeTrue)
		relative.Points2D1 = append(relative.Points2D1, [2]float64{px1.X, px1.Y})
		relative.Points2D2 = append(relative.Points2D2, [2]float64{px2.X, px2.Y})
		relative.CameraIdxs1 = append(relative.CameraIdxs1, idx1)
		relative.CameraIdxs2 = append(relative.CameraIdxs2, idx2)
	}
	path := filepath.Join(dir, name)
	test.That(t, config.WriteProblem(path, &config.Problem{Rig: *rig, Relative: relative}), test.ShouldBeNil)
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	cfg := `{
		"ransac": {"max_error": 1, "random_seed": 0},
		"relative_ransac": {"random_seed": 0},
		"refinement": {"gradient_tolerance": 1e-10, "refine_extra_params": false}
	}`
	test.That(t, os.WriteFile(path, []byte(cfg), 0o600), test.ShouldBeNil)
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"rigpose"}, args...))
	return out.String(), errOut.String(), err
}

func TestAbsoluteAction(t *testing.T) {
	dir := t.TempDir()
	problem := writeAbsoluteProblem(t, dir, "absolute.json", 20, 1)
	cfg := writeConfig(t, dir)

	out, _, err := runApp(t, "absolute", "--problem", problem, "--config", cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "ABSOLUTE POSE")
	test.That(t, out, test.ShouldContainSubstring, "20 unique of 40 correspondences")
	test.That(t, strings.Contains(out, "Refinement"), test.ShouldBeFalse)

	t.Run("refine with covariance", func(t *testing.T) {
		out, _, err := runApp(t, "absolute", "--problem", problem, "--config", cfg, "--covariance")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "Refinement")
		test.That(t, out, test.ShouldContainSubstring, "Camera 1 (simple_radial)")
		test.That(t, out, test.ShouldContainSubstring, "Pose std dev")
	})

	t.Run("plot and log file", func(t *testing.T) {
		plotPath := filepath.Join(dir, "errors.png")
		logPath := filepath.Join(dir, "rigpose.log")
		_, _, err := runApp(t, "--log-file", logPath, "absolute", "--problem", problem, "--config", cfg, "--plot", plotPath)
		test.That(t, err, test.ShouldBeNil)
		info, err := os.Stat(plotPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
		logged, err := os.ReadFile(logPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(logged), test.ShouldContainSubstring, "saved reprojection error histogram")
	})

	t.Run("debug logging", func(t *testing.T) {
		_, errOut, err := runApp(t, "--debug", "absolute", "--problem", problem, "--config", cfg, "--refine")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, errOut, test.ShouldContainSubstring, "estimated absolute pose")
	})

	t.Run("missing problem", func(t *testing.T) {
		_, _, err := runApp(t, "absolute", "--problem", filepath.Join(dir, "missing.json"))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("no absolute correspondences", func(t *testing.T) {
		relative := writeRelativeProblem(t, dir, "relative_only.json", 2)
		_, _, err := runApp(t, "absolute", "--problem", relative)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no absolute correspondences")
	})
}

func TestRelativeAction(t *testing.T) {
	dir := t.TempDir()
	problem := writeRelativeProblem(t, dir, "relative.json", 3)
	out, _, err := runApp(t, "relative", "--problem", problem, "--config", writeConfig(t, dir))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "rig2_from_rig1")
	test.That(t, out, test.ShouldContainSubstring, "40 of 40 correspondences")
}

func TestBatchAction(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	good := writeAbsoluteProblem(t, dir, "good.json", 15, 4)
	// two points seen by two cameras are not enough for a minimal sample of distinct points
	tooSmall := writeAbsoluteProblem(t, dir, "small.json", 1, 5)
	relative := writeRelativeProblem(t, dir, "relative.json", 6)

	out, errOut, err := runApp(t, "batch", "--config", cfg, "--parallel", "2", "--debug-problem", "good.json",
		good, tooSmall, relative)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "good.json")
	test.That(t, out, test.ShouldContainSubstring, "small.json")
	test.That(t, out, test.ShouldContainSubstring, "robust estimation failed")
	test.That(t, errOut, test.ShouldContainSubstring, "solving problem")
	test.That(t, errOut, test.ShouldContainSubstring, "Warning: small.json")

	t.Run("no files", func(t *testing.T) {
		_, _, err := runApp(t, "batch")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("invalid file aborts", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		test.That(t, os.WriteFile(bad, []byte(`{"rig": {"cameras": []}}`), 0o600), test.ShouldBeNil)
		_, _, err := runApp(t, "batch", good, bad)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "bad.json")
	})
}
