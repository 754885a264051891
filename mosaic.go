package dem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// A Mosaic is a single raster assembled from tiles.
type Mosaic struct {
	Grid    *mat.Dense // Row 0 is the northern edge.
	Extent  BoundingBox
	ResX    float64
	ResY    float64
	NoData  float64
	Missing []TileFailure
}

// CRS returns m's CRS.
func (m *Mosaic) CRS() string {
	return m.Extent.CRS
}

// Dims returns the number of rows and columns in m.
func (m *Mosaic) Dims() (int, int) {
	return m.Grid.Dims()
}

// IsNoData returns whether value is nodata.
func (m *Mosaic) IsNoData(value float64) bool {
	return math.IsNaN(value) || value == m.NoData
}

// Sample returns the value of the cell containing (x, y) in m's CRS, or NaN
// if (x, y) is outside m.
func (m *Mosaic) Sample(x, y float64) float64 {
	return InterpolateNearest(m.Grid, [][]float64{m.pixelCoord(x, y)})[0]
}

// SampleBilinear returns the bilinear interpolation of m at (x, y).
func (m *Mosaic) SampleBilinear(x, y float64) float64 {
	return InterpolateBilinear(m.Grid, [][]float64{m.pixelCoord(x, y)})[0]
}

// pixelCoord returns the fractional (column, row) of (x, y), where integers
// are pixel centers.
func (m *Mosaic) pixelCoord(x, y float64) []float64 {
	return []float64{
		(x-m.Extent.MinX)/m.ResX - 0.5,
		(m.Extent.MaxY-y)/m.ResY - 0.5,
	}
}

// AssembleMosaic assembles the tiles in result into a single raster cropped
// to bbox, which must be in TileCRS. Cells covered by failed tiles are NaN.
// If a target CRS is configured then the raster is resampled into it.
func AssembleMosaic(result *FetchResult, bbox BoundingBox, options ...Option) (*Mosaic, error) {
	return assembleMosaic(NewConfig(options...), result, bbox)
}

func assembleMosaic(cfg *Config, result *FetchResult, bbox BoundingBox) (*Mosaic, error) {
	if len(result.Tiles) == 0 {
		emptyMosaics.Inc()
		return nil, &EmptyMosaicError{Failures: result.Failed}
	}
	if !sameCRS(bbox.CRS, TileCRS) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("bounding box is in %s, not %s", bbox.CRS, TileCRS)}
	}

	union, placed, missing, err := placeTiles(result)
	if err != nil {
		return nil, err
	}
	if placed == 0 {
		emptyMosaics.Inc()
		return nil, &EmptyMosaicError{Failures: missing}
	}
	mosaic := union.crop(bbox)
	mosaic.Missing = missing

	if cfg.NegativeToNoData {
		mosaic.Grid.Apply(func(_, _ int, v float64) float64 {
			if v < 0 {
				return math.NaN()
			}
			return v
		}, mosaic.Grid)
	}

	if cfg.TargetCRS == "" || sameCRS(cfg.TargetCRS, TileCRS) {
		return mosaic, nil
	}
	projector, err := cfg.projector()
	if err != nil {
		return nil, err
	}
	return mosaic.resample(projector, cfg.TargetCRS, cfg.Resampling)
}

// placeTiles returns a mosaic covering every requested tile in result, with
// the fetched tiles placed into it, and the number of tiles placed.
func placeTiles(result *FetchResult) (*Mosaic, int, []TileFailure, error) {
	tileSize, _ := result.Tiles[0].Grid.Dims()
	zoom := result.Tiles[0].Coord.Z

	minC, minR := math.MaxInt, math.MaxInt
	maxC, maxR := math.MinInt, math.MinInt
	tileCoords := result.Coords
	if len(tileCoords) == 0 {
		for _, tile := range result.Tiles {
			tileCoords = append(tileCoords, tile.Coord)
		}
	}
	for _, tileCoord := range tileCoords {
		if tileCoord.Z != zoom {
			return nil, 0, nil, fmt.Errorf("%s: zoom differs from %d", tileCoord, zoom)
		}
		minC, minR = min(minC, tileCoord.C), min(minR, tileCoord.R)
		maxC, maxR = max(maxC, tileCoord.C), max(maxR, tileCoord.R)
	}

	rows := (maxR - minR + 1) * tileSize
	cols := (maxC - minC + 1) * tileSize
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	grid := mat.NewDense(rows, cols, data)

	placed := 0
	missing := append([]TileFailure(nil), result.Failed...)
	for _, tile := range result.Tiles {
		tileRows, tileCols := tile.Grid.Dims()
		if tileRows != tileSize || tileCols != tileSize || tile.Coord.Z != zoom ||
			tile.Coord.C < minC || maxC < tile.Coord.C || tile.Coord.R < minR || maxR < tile.Coord.R {
			missing = append(missing, TileFailure{
				Coord: tile.Coord,
				Err:   fmt.Errorf("%s: tile does not fit mosaic", tile.Coord),
			})
			continue
		}
		r0 := (tile.Coord.R - minR) * tileSize
		c0 := (tile.Coord.C - minC) * tileSize
		slot := grid.Slice(r0, r0+tileSize, c0, c0+tileSize).(*mat.Dense)
		slot.Copy(tile.Grid)
		if !math.IsNaN(tile.NoData) {
			slot.Apply(func(_, _ int, v float64) float64 {
				if v == tile.NoData {
					return math.NaN()
				}
				return v
			}, slot)
		}
		placed++
	}

	topLeft := TileCoord{Z: zoom, C: minC, R: minR}.Bounds()
	res := tileSpan(zoom) / float64(tileSize)
	return &Mosaic{
		Grid: grid,
		Extent: BoundingBox{
			MinX: topLeft.MinX,
			MinY: topLeft.MaxY - float64(rows)*res,
			MaxX: topLeft.MinX + float64(cols)*res,
			MaxY: topLeft.MaxY,
			CRS:  TileCRS,
		},
		ResX:   res,
		ResY:   res,
		NoData: math.NaN(),
	}, placed, missing, nil
}

// crop returns the smallest window of whole pixels of m that contains bbox.
func (m *Mosaic) crop(bbox BoundingBox) *Mosaic {
	rows, cols := m.Grid.Dims()
	c0 := clampIndex(math.Floor((bbox.MinX-m.Extent.MinX)/m.ResX), 0, cols-1)
	c1 := clampIndex(math.Ceil((bbox.MaxX-m.Extent.MinX)/m.ResX), c0+1, cols)
	r0 := clampIndex(math.Floor((m.Extent.MaxY-bbox.MaxY)/m.ResY), 0, rows-1)
	r1 := clampIndex(math.Ceil((m.Extent.MaxY-bbox.MinY)/m.ResY), r0+1, rows)
	grid := mat.DenseCopyOf(m.Grid.Slice(r0, r1, c0, c1))
	return &Mosaic{
		Grid: grid,
		Extent: BoundingBox{
			MinX: m.Extent.MinX + float64(c0)*m.ResX,
			MinY: m.Extent.MaxY - float64(r1)*m.ResY,
			MaxX: m.Extent.MinX + float64(c1)*m.ResX,
			MaxY: m.Extent.MaxY - float64(r0)*m.ResY,
			CRS:  m.Extent.CRS,
		},
		ResX:   m.ResX,
		ResY:   m.ResY,
		NoData: m.NoData,
	}
}

// resample returns m resampled onto a regular grid in dstCRS with the same
// number of rows and columns.
func (m *Mosaic) resample(projector Projector, dstCRS string, resampling Resampling) (*Mosaic, error) {
	extent, err := transformBounds(projector, m.Extent, dstCRS)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Grid.Dims()
	resX := extent.Width() / float64(cols)
	resY := extent.Height() / float64(rows)

	coords := make([][]float64, 0, rows*cols)
	for r := range rows {
		y := extent.MaxY - (float64(r)+0.5)*resY
		for c := range cols {
			x := extent.MinX + (float64(c)+0.5)*resX
			coords = append(coords, []float64{x, y})
		}
	}
	if err := projector.Transform(dstCRS, m.Extent.CRS, coords); err != nil {
		return nil, err
	}
	for _, coord := range coords {
		pixelCoord := m.pixelCoord(coord[0], coord[1])
		coord[0], coord[1] = pixelCoord[0], pixelCoord[1]
	}

	var samples []float64
	switch resampling {
	case ResampleBilinear:
		samples = InterpolateBilinear(m.Grid, coords)
	default:
		samples = InterpolateNearest(m.Grid, coords)
	}

	return &Mosaic{
		Grid:    mat.NewDense(rows, cols, samples),
		Extent:  extent,
		ResX:    resX,
		ResY:    resY,
		NoData:  m.NoData,
		Missing: m.Missing,
	}, nil
}
