package dem

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/time/rate"
)

// A TilePointProvider is a PointProvider that samples tiles from a
// TileProvider at a fixed zoom level.
type TilePointProvider struct {
	cfg          *Config
	tileProvider TileProvider
	zoom         int
}

// NewTilePointProvider returns a new TilePointProvider that samples tiles
// from tileProvider at cfg's zoom level.
func NewTilePointProvider(tileProvider TileProvider, cfg *Config) (*TilePointProvider, error) {
	if cfg.Zoom < 0 || cfg.Zoom > tileProvider.MaxZoom() {
		return nil, &UnsupportedZoomError{Zoom: cfg.Zoom, MaxZoom: tileProvider.MaxZoom()}
	}
	return &TilePointProvider{
		cfg:          cfg,
		tileProvider: tileProvider,
		zoom:         cfg.Zoom,
	}, nil
}

func (p *TilePointProvider) Name() string   { return p.tileProvider.Name() }
func (p *TilePointProvider) BatchSize() int { return 0 }

// RateLimit implements PointProvider.RateLimit. Tile fetches are paced
// separately.
func (p *TilePointProvider) RateLimit() rate.Limit { return rate.Inf }

// Elevations implements PointProvider.Elevations.
func (p *TilePointProvider) Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error) {
	elevations := make([]float64, len(lonLats))
	errs := make([]error, len(lonLats))

	// Group indexes by tile coord.
	indexesByTileCoord := make(map[TileCoord][]int)
	var tileCoords []TileCoord
	for index, lonLat := range lonLats {
		tile := maptile.At(orb.Point{lonLat[0], lonLat[1]}, maptile.Zoom(p.zoom))
		tileCoord := TileCoord{Z: p.zoom, C: int(tile.X), R: int(tile.Y)}
		if _, ok := indexesByTileCoord[tileCoord]; !ok {
			tileCoords = append(tileCoords, tileCoord)
		}
		indexesByTileCoord[tileCoord] = append(indexesByTileCoord[tileCoord], index)
	}

	result := fetchTiles(ctx, p.cfg, p.tileProvider, tileCoords)
	for _, failure := range result.Failed {
		for _, index := range indexesByTileCoord[failure.Coord] {
			elevations[index] = math.NaN()
			errs[index] = failure.Err
		}
	}

	// Sample one tile at a time.
	mercatorCoords := make([][]float64, len(lonLats))
	for index, lonLat := range lonLats {
		mercatorCoords[index] = []float64{lonLat[0], lonLat[1]}
	}
	transformWebMercator(GeographicCRS, TileCRS, mercatorCoords)
	for _, tile := range result.Tiles {
		indexes := indexesByTileCoord[tile.Coord]
		bounds := tile.Coord.Bounds()
		rows, cols := tile.Grid.Dims()
		res := bounds.Width() / float64(cols)
		pixelCoords := make([][]float64, len(indexes))
		for i, index := range indexes {
			pixelCoords[i] = []float64{
				max(0, min((mercatorCoords[index][0]-bounds.MinX)/res-0.5, float64(cols-1))),
				max(0, min((bounds.MaxY-mercatorCoords[index][1])/res-0.5, float64(rows-1))),
			}
		}
		var samples []float64
		if p.cfg.Resampling == ResampleBilinear {
			samples = InterpolateBilinear(tile.Grid, pixelCoords)
		} else {
			samples = InterpolateNearest(tile.Grid, pixelCoords)
		}
		for i, index := range indexes {
			elevations[index] = p.cfg.Units.fromMeters(samples[i])
		}
	}

	if len(result.Failed) == 0 {
		return elevations, nil
	}
	return elevations, &BatchError{Errs: errs}
}
