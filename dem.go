// Package dem retrieves elevation data from remote providers, either as
// elevations at points or as a single raster mosaicked from Web Mercator
// tiles.
package dem

import (
	"fmt"
	"math"
	"strings"
)

// TileCRS is the CRS of every tile provider's grids.
const TileCRS = "EPSG:3857"

// GeographicCRS is the CRS in which point providers are queried.
const GeographicCRS = "EPSG:4326"

const (
	earthRadius      = 6378137
	earthHalfCircum  = math.Pi * earthRadius
	earthCircum      = 2 * earthHalfCircum
	maxMercatorLat   = 85.0511287798066
	defaultMaxTiles  = 512
	defaultZoom      = 10
	defaultWorkers   = 8
	elevationColName = "elevation"
)

// A TileCoord is a tile coordinate.
type TileCoord struct {
	Z int // Zoom.
	C int // Column.
	R int // Row.
}

func (c TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.C, c.R)
}

// Span returns the width and height of tiles at c's zoom level, in meters.
func (c TileCoord) Span() float64 {
	return tileSpan(c.Z)
}

// Bounds returns c's footprint in TileCRS.
func (c TileCoord) Bounds() BoundingBox {
	span := c.Span()
	return BoundingBox{
		MinX: -earthHalfCircum + float64(c.C)*span,
		MinY: earthHalfCircum - float64(c.R+1)*span,
		MaxX: -earthHalfCircum + float64(c.C+1)*span,
		MaxY: earthHalfCircum - float64(c.R)*span,
		CRS:  TileCRS,
	}
}

// A BoundingBox is an axis-aligned rectangle in a CRS.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	CRS  string
}

// NewBoundingBox returns a new BoundingBox, checking that it is well formed.
func NewBoundingBox(minX, minY, maxX, maxY float64, crs string) (BoundingBox, error) {
	switch {
	case crs == "":
		return BoundingBox{}, &ConfigurationError{Reason: "bounding box has no CRS"}
	case math.IsNaN(minX) || math.IsNaN(minY) || math.IsNaN(maxX) || math.IsNaN(maxY):
		return BoundingBox{}, &ConfigurationError{Reason: "bounding box has NaN coordinates"}
	case minX > maxX || minY > maxY:
		return BoundingBox{}, &ConfigurationError{
			Reason: fmt.Sprintf("bounding box minimum (%g, %g) exceeds maximum (%g, %g)", minX, minY, maxX, maxY),
		}
	}
	return BoundingBox{
		MinX: minX,
		MinY: minY,
		MaxX: maxX,
		MaxY: maxY,
		CRS:  crs,
	}, nil
}

// Width returns b's width.
func (b BoundingBox) Width() float64 {
	return b.MaxX - b.MinX
}

// Height returns b's height.
func (b BoundingBox) Height() float64 {
	return b.MaxY - b.MinY
}

// Intersects returns whether b and other overlap or touch. The CRSs are not
// compared.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX &&
		b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// sameCRS returns whether a and b name the same CRS.
func sameCRS(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// tileSpan returns the width of a tile at zoom in meters.
func tileSpan(zoom int) float64 {
	return earthCircum / float64(uint64(1)<<zoom)
}
