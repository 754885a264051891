package dem

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"gonum.org/v1/gonum/mat"
)

// A DecodeFunc decodes a tile payload into a grid of elevations in meters,
// with NaN for nodata.
type DecodeFunc func(data []byte) (*mat.Dense, error)

// DecodeTerrarium decodes a Terrarium-encoded PNG, where elevation is
// (red*256 + green + blue/256) - 32768.
func DecodeTerrarium(data []byte) (*mat.Dense, error) {
	return decodeRGB(data, func(r, g, b uint32) float64 {
		return float64(r)*256 + float64(g) + float64(b)/256 - 32768
	})
}

// DecodeTerrainRGB decodes a Mapbox Terrain-RGB PNG, where elevation is
// -10000 + (red*256*256 + green*256 + blue)*0.1.
func DecodeTerrainRGB(data []byte) (*mat.Dense, error) {
	return decodeRGB(data, func(r, g, b uint32) float64 {
		return -10000 + float64(r*256*256+g*256+b)*0.1
	})
}

// decodeRGB decodes a PNG and converts each pixel's 8-bit red, green, and
// blue components into an elevation with elevationFunc.
func decodeRGB(data []byte, elevationFunc func(r, g, b uint32) float64) (*mat.Dense, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	bounds := img.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("decode png: empty %dx%d image", cols, rows)
	}
	samples := make([]float64, 0, rows*cols)
	switch img := img.(type) {
	case *image.NRGBA:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				i := img.PixOffset(x, y)
				pix := img.Pix[i : i+3]
				samples = append(samples, elevationFunc(uint32(pix[0]), uint32(pix[1]), uint32(pix[2])))
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				samples = append(samples, elevationFunc(r>>8, g>>8, b>>8))
			}
		}
	}
	return mat.NewDense(rows, cols, samples), nil
}
