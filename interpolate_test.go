package dem_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/twpayne/go-dem"
)

func TestInterpolate(t *testing.T) {
	simpleGrid := mat.NewDense(3, 3, []float64{
		0, 1, 2,
		2, 3, 4,
		4, 5, 6,
	})
	for _, tc := range []struct {
		name             string
		coords           [][]float64
		expectedBilinear []float64
		expectedNearest  []float64
	}{
		{
			name: "centers",
			coords: [][]float64{
				{0, 0},
				{1, 0},
				{0, 1},
				{1, 1},
				{2, 2},
			},
			expectedBilinear: []float64{0, 1, 2, 3, 6},
			expectedNearest:  []float64{0, 1, 2, 3, 6},
		},
		{
			name: "between",
			coords: [][]float64{
				{0.5, 0.5},
				{0.5, 0},
				{0, 0.5},
				{1, 0.5},
				{0.5, 1},
				{1.25, 1.75},
			},
			expectedBilinear: []float64{1.5, 0.5, 1, 2, 2.5, 4.75},
			expectedNearest:  []float64{3, 1, 2, 3, 3, 5},
		},
		{
			name: "edges",
			coords: [][]float64{
				{-0.5, -0.5},
				{2.5, 2.5},
				{2.25, 0},
			},
			expectedBilinear: []float64{0, 6, 2},
			expectedNearest:  []float64{0, 6, 2},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedBilinear, dem.InterpolateBilinear(simpleGrid, tc.coords))
			assert.Equal(t, tc.expectedNearest, dem.InterpolateNearest(simpleGrid, tc.coords))
		})
	}
}

func TestInterpolateOutside(t *testing.T) {
	grid := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	coords := [][]float64{
		{-0.6, 0},
		{0, 1.6},
		{math.NaN(), 0},
	}
	for _, interpolate := range []func(mat.Matrix, [][]float64) []float64{
		dem.InterpolateBilinear,
		dem.InterpolateNearest,
	} {
		for _, value := range interpolate(grid, coords) {
			assert.True(t, math.IsNaN(value))
		}
	}
}

func TestInterpolateNaN(t *testing.T) {
	grid := mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4})
	assert.True(t, math.IsNaN(dem.InterpolateBilinear(grid, [][]float64{{0.5, 0.5}})[0]))
	assert.Equal(t, []float64{3}, dem.InterpolateNearest(grid, [][]float64{{0.4, 0.6}}))
}
