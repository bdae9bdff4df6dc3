package volatility

import "math"

// GridParams tunes the continuous grid-resize formula.
type GridParams struct {
	BaseGrid  float64
	VolCenter float64
	K         float64
	GridMin   float64
	GridMax   float64
}

// minChangeThreshold is the churn guard: grid_size only updates when
// the absolute change exceeds this many percentage points.
const minChangeThreshold = 0.01

// ResizeGrid applies the continuous grid-resize formula to a smoothed
// volatility sample, clamped to [GridMin, GridMax]. Returns the new
// grid size and whether it differs from currentGrid by enough to be
// worth persisting.
func ResizeGrid(params GridParams, currentGrid, smoothedVol float64) (newGrid float64, changed bool) {
	newGrid = params.BaseGrid + params.K*(smoothedVol-params.VolCenter)
	newGrid = clamp(newGrid, params.GridMin, params.GridMax)
	changed = math.Abs(newGrid-currentGrid) > minChangeThreshold
	return newGrid, changed
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
