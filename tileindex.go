package dem

import (
	"fmt"
	"math"
)

// TileIndex returns the tiles at zoom whose footprints cover bbox, in
// row-major order. bbox must be in TileCRS.
func TileIndex(bbox BoundingBox, zoom, maxZoom int) ([]TileCoord, error) {
	minC, minR, maxC, maxR, err := tileRange(bbox, zoom, maxZoom)
	if err != nil {
		return nil, err
	}
	tileCoords := make([]TileCoord, 0, (maxC-minC+1)*(maxR-minR+1))
	for r := minR; r <= maxR; r++ {
		for c := minC; c <= maxC; c++ {
			tileCoords = append(tileCoords, TileCoord{Z: zoom, C: c, R: r})
		}
	}
	return tileCoords, nil
}

// TileCount returns the number of tiles that TileIndex would return.
func TileCount(bbox BoundingBox, zoom, maxZoom int) (int, error) {
	minC, minR, maxC, maxR, err := tileRange(bbox, zoom, maxZoom)
	if err != nil {
		return 0, err
	}
	return (maxC - minC + 1) * (maxR - minR + 1), nil
}

// tileRange returns the inclusive range of tile columns and rows covering
// bbox at zoom. Upper edges lying exactly on a tile boundary do not include
// the following tile.
func tileRange(bbox BoundingBox, zoom, maxZoom int) (minC, minR, maxC, maxR int, err error) {
	if zoom < 0 || zoom > maxZoom {
		err = &UnsupportedZoomError{Zoom: zoom, MaxZoom: maxZoom}
		return
	}
	if !sameCRS(bbox.CRS, TileCRS) {
		err = &ConfigurationError{Reason: fmt.Sprintf("bounding box is in %s, not %s", bbox.CRS, TileCRS)}
		return
	}
	n := 1 << zoom
	span := tileSpan(zoom)
	minC = clampIndex(math.Floor((bbox.MinX+earthHalfCircum)/span), 0, n-1)
	maxC = clampIndex(math.Ceil((bbox.MaxX+earthHalfCircum)/span)-1, minC, n-1)
	minR = clampIndex(math.Floor((earthHalfCircum-bbox.MaxY)/span), 0, n-1)
	maxR = clampIndex(math.Ceil((earthHalfCircum-bbox.MinY)/span)-1, minR, n-1)
	return
}

func clampIndex(f float64, lo, hi int) int {
	switch {
	case math.IsNaN(f) || f < float64(lo):
		return lo
	case f > float64(hi):
		return hi
	default:
		return int(f)
	}
}
