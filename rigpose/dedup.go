package rigpose

import (
	"sort"

	"github.com/golang/geo/r3"
)

// uniquePointTolerance is the distance under which two 3D points are the same point.
const uniquePointTolerance = 1e-5

// ComputeUniquePointIds assigns an id to every point such that points repeated across cameras of
// the rig share an id. Points are sorted lexicographically by (x, y, z) and swept once: a run
// continues while each point lies within tolerance of the run's first point, and every member of
// a run gets the run's starting position in sort order as its id.
//
// Membership is decided against the run's first point only, so this is not a clustering: two
// nearby points get different ids when a distant point sorts between them.
func ComputeUniquePointIds(points3D []r3.Vector) []int {
	order := make([]int, len(points3D))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lessVector(points3D[order[a]], points3D[order[b]])
	})

	ids := make([]int, len(points3D))
	runStart := 0
	for pos, idx := range order {
		if points3D[order[runStart]].Distance(points3D[idx]) > uniquePointTolerance {
			runStart = pos
		}
		ids[idx] = runStart
	}
	return ids
}

func lessVector(a, b r3.Vector) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
