package ransac

// Support summarizes how well a model explains the data.
type Support struct {
	NumInliers int
	// NumUniqueInliers counts distinct ids among the inliers. It equals NumInliers for measurers
	// that do not deduplicate.
	NumUniqueInliers int
	// ResidualSum is the sum of inlier residuals.
	ResidualSum float64
}

// A SupportMeasurer scores a residual vector and orders scores.
type SupportMeasurer interface {
	// Measure scores residuals, treating residual <= maxResidual as inlying.
	Measure(residuals []float64, maxResidual float64) Support
	// IsLeftBetter reports whether left is strictly better than right.
	IsLeftBetter(left, right Support) bool
}

// InlierSupportMeasurer prefers more inliers, then a smaller residual sum.
type InlierSupportMeasurer struct{}

// Measure implements SupportMeasurer.
func (InlierSupportMeasurer) Measure(residuals []float64, maxResidual float64) Support {
	var support Support
	for _, r := range residuals {
		if r <= maxResidual {
			support.NumInliers++
			support.ResidualSum += r
		}
	}
	support.NumUniqueInliers = support.NumInliers
	return support
}

// IsLeftBetter implements SupportMeasurer.
func (InlierSupportMeasurer) IsLeftBetter(left, right Support) bool {
	if left.NumInliers > right.NumInliers {
		return true
	}
	return left.NumInliers == right.NumInliers && left.ResidualSum < right.ResidualSum
}

// UniqueInlierSupportMeasurer counts an inlier once per distinct id, so that repeated
// observations of one entity vote once. UniqueIDs must be aligned with the residuals.
type UniqueInlierSupportMeasurer struct {
	UniqueIDs []int
}

// NewUniqueInlierSupportMeasurer returns a measurer over the given ids.
func NewUniqueInlierSupportMeasurer(uniqueIDs []int) *UniqueInlierSupportMeasurer {
	return &UniqueInlierSupportMeasurer{UniqueIDs: uniqueIDs}
}

// Measure implements SupportMeasurer.
func (m *UniqueInlierSupportMeasurer) Measure(residuals []float64, maxResidual float64) Support {
	var support Support
	seen := make(map[int]struct{}, len(residuals))
	for i, r := range residuals {
		if r <= maxResidual {
			support.NumInliers++
			support.ResidualSum += r
			seen[m.UniqueIDs[i]] = struct{}{}
		}
	}
	support.NumUniqueInliers = len(seen)
	return support
}

// IsLeftBetter prefers more unique inliers, then more inliers, then a smaller residual sum.
func (m *UniqueInlierSupportMeasurer) IsLeftBetter(left, right Support) bool {
	if left.NumUniqueInliers != right.NumUniqueInliers {
		return left.NumUniqueInliers > right.NumUniqueInliers
	}
	if left.NumInliers != right.NumInliers {
		return left.NumInliers > right.NumInliers
	}
	return left.ResidualSum < right.ResidualSum
}
