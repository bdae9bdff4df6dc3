package volatility

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultGridParams() GridParams {
	return GridParams{BaseGrid: 2.5, VolCenter: 0.25, K: 10.0, GridMin: 1.0, GridMax: 4.0}
}

func TestResizeGrid_AtCenterMatchesBase(t *testing.T) {
	newGrid, changed := ResizeGrid(defaultGridParams(), 2.5, 0.25)
	assert.InDelta(t, 2.5, newGrid, 1e-9)
	assert.False(t, changed)
}

func TestResizeGrid_ClampsToMax(t *testing.T) {
	newGrid, _ := ResizeGrid(defaultGridParams(), 2.5, 1.0)
	assert.Equal(t, 4.0, newGrid)
}

func TestResizeGrid_ClampsToMin(t *testing.T) {
	newGrid, _ := ResizeGrid(defaultGridParams(), 2.5, -1.0)
	assert.Equal(t, 1.0, newGrid)
}

func TestResizeGrid_IgnoresTinyChange(t *testing.T) {
	_, changed := ResizeGrid(defaultGridParams(), 2.5005, 0.25)
	assert.False(t, changed)
}

func TestResizeGrid_FlagsRealChange(t *testing.T) {
	newGrid, changed := ResizeGrid(defaultGridParams(), 2.5, 0.30)
	assert.True(t, changed)
	assert.InDelta(t, 3.0, newGrid, 1e-9)
}
