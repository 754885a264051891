package dem

import (
	"math"

	"github.com/paulmach/orb"
)

// densifySegments is the number of segments each edge of a bounding box is
// split into before it is transformed.
const densifySegments = 16

// A CRSGeometry is a geometry with an attached CRS.
type CRSGeometry struct {
	orb.Geometry
	CRS string
}

// resolveCRS returns the CRS of geom. An explicit crs takes precedence over a
// CRS attached to geom.
func resolveCRS(geom orb.Geometry, crs string) (string, error) {
	if crs != "" {
		return crs, nil
	}
	switch g := geom.(type) {
	case CRSGeometry:
		if g.CRS != "" {
			return g.CRS, nil
		}
	case *CRSGeometry:
		if g != nil && g.CRS != "" {
			return g.CRS, nil
		}
	}
	return "", &ConfigurationError{Reason: "no CRS given and none attached to input"}
}

// NormalizeBounds returns the envelope of geom, expanded by expand on every
// side, in TileCRS. The CRS of geom is crs if it is not empty, otherwise the
// CRS attached to geom.
func NormalizeBounds(projector Projector, geom orb.Geometry, crs string, expand float64) (BoundingBox, error) {
	if geom == nil {
		return BoundingBox{}, &ConfigurationError{Reason: "no geometry"}
	}
	srcCRS, err := resolveCRS(geom, crs)
	if err != nil {
		return BoundingBox{}, err
	}
	bound := geom.Bound()
	if bound.IsEmpty() {
		return BoundingBox{}, &ConfigurationError{Reason: "empty geometry"}
	}
	if expand < 0 || math.IsNaN(expand) {
		return BoundingBox{}, &ConfigurationError{Reason: "expand must be non-negative"}
	}
	bbox, err := NewBoundingBox(
		bound.Min[0]-expand, bound.Min[1]-expand,
		bound.Max[0]+expand, bound.Max[1]+expand,
		srcCRS,
	)
	if err != nil {
		return BoundingBox{}, err
	}
	tileBBox, err := transformBounds(projector, bbox, TileCRS)
	if err != nil {
		return BoundingBox{}, err
	}
	tileBBox.MinX = max(tileBBox.MinX, -earthHalfCircum)
	tileBBox.MinY = max(tileBBox.MinY, -earthHalfCircum)
	tileBBox.MaxX = min(tileBBox.MaxX, earthHalfCircum)
	tileBBox.MaxY = min(tileBBox.MaxY, earthHalfCircum)
	return tileBBox, nil
}

// transformBounds returns the envelope of bbox transformed into dstCRS. The
// edges of bbox are densified so that curved edges are enclosed.
func transformBounds(projector Projector, bbox BoundingBox, dstCRS string) (BoundingBox, error) {
	if sameCRS(bbox.CRS, dstCRS) {
		bbox.CRS = dstCRS
		return bbox, nil
	}

	coords := make([][]float64, 0, 4*densifySegments)
	for i := range densifySegments {
		f := float64(i) / densifySegments
		x := bbox.MinX + f*bbox.Width()
		y := bbox.MinY + f*bbox.Height()
		coords = append(coords,
			[]float64{x, bbox.MinY},
			[]float64{bbox.MaxX, y},
			[]float64{bbox.MaxX - f*bbox.Width(), bbox.MaxY},
			[]float64{bbox.MinX, bbox.MaxY - f*bbox.Height()},
		)
	}
	if err := projector.Transform(bbox.CRS, dstCRS, coords); err != nil {
		return BoundingBox{}, err
	}

	result := BoundingBox{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
		CRS:  dstCRS,
	}
	for _, coord := range coords {
		if math.IsNaN(coord[0]) || math.IsNaN(coord[1]) || math.IsInf(coord[0], 0) || math.IsInf(coord[1], 0) {
			continue
		}
		result.MinX = min(result.MinX, coord[0])
		result.MinY = min(result.MinY, coord[1])
		result.MaxX = max(result.MaxX, coord[0])
		result.MaxY = max(result.MaxY, coord[1])
	}
	if result.MinX > result.MaxX || result.MinY > result.MaxY {
		return BoundingBox{}, &ConfigurationError{Reason: "bounding box cannot be transformed to " + dstCRS}
	}
	return result, nil
}
