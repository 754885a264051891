package dem

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// InterpolateBilinear returns the bilinear interpolation of m at each of
// coords, which are fractional (column, row) pixel coordinates where integer
// values are pixel centers. Coordinates more than half a pixel outside m, or
// whose neighborhood contains NaN, yield NaN.
func InterpolateBilinear(m mat.Matrix, coords [][]float64) []float64 {
	rows, cols := m.Dims()
	result := make([]float64, len(coords))
	for i, coord := range coords {
		x, y := coord[0], coord[1]
		if !insidePixels(x, y, rows, cols) {
			result[i] = math.NaN()
			continue
		}
		x = max(0, min(x, float64(cols-1)))
		y = max(0, min(y, float64(rows-1)))
		x0, y0 := int(x), int(y)
		x1, y1 := min(x0+1, cols-1), min(y0+1, rows-1)
		dx := x - float64(x0)
		dy := y - float64(y0)
		result[i] = 0 +
			m.At(y0, x0)*(1-dx)*(1-dy) +
			m.At(y0, x1)*dx*(1-dy) +
			m.At(y1, x0)*(1-dx)*dy +
			m.At(y1, x1)*dx*dy
	}
	return result
}

// InterpolateNearest returns the value of the pixel nearest to each of
// coords, with the same conventions as InterpolateBilinear.
func InterpolateNearest(m mat.Matrix, coords [][]float64) []float64 {
	rows, cols := m.Dims()
	result := make([]float64, len(coords))
	for i, coord := range coords {
		x, y := coord[0], coord[1]
		if !insidePixels(x, y, rows, cols) {
			result[i] = math.NaN()
			continue
		}
		c := max(0, min(int(math.Round(x)), cols-1))
		r := max(0, min(int(math.Round(y)), rows-1))
		result[i] = m.At(r, c)
	}
	return result
}

func insidePixels(x, y float64, rows, cols int) bool {
	return -0.5 <= x && x <= float64(cols)-0.5 && -0.5 <= y && y <= float64(rows)-0.5
}
