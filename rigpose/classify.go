package rigpose

import (
	"sort"

	"github.com/samber/lo"

	"go.viam.com/rigpose/spatialmath"
)

// panoramicTolerance is the largest distance between two camera centers considered coincident.
const panoramicTolerance = 1e-6

// IsPanoramicRig reports whether all cameras referenced by cameraIdxs share one optical center, in
// which case relative motion can be solved as a single central camera. An empty set is panoramic.
func IsPanoramicRig(cameraIdxs []int, camsFromRig []spatialmath.Rigid3) bool {
	idxs := distinctCameraIdxs(cameraIdxs)
	if len(idxs) == 0 {
		return true
	}
	first := camsFromRig[idxs[0]].Origin()
	for _, idx := range idxs[1:] {
		if camsFromRig[idx].Origin().Distance(first) > panoramicTolerance {
			return false
		}
	}
	return true
}

// distinctCameraIdxs returns the distinct indices in ascending order.
func distinctCameraIdxs(cameraIdxs []int) []int {
	idxs := lo.Uniq(cameraIdxs)
	sort.Ints(idxs)
	return idxs
}
