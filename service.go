package dem

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/twpayne/go-dem/internal/logger"
)

// GetRaster returns a mosaic of elevations covering geom, which may be any
// geometry, including a CRSGeometry or the Geometry of a PointSet.
func GetRaster(ctx context.Context, geom orb.Geometry, options ...Option) (*Mosaic, error) {
	cfg := NewConfig(options...)
	ctx, cfg.Logger = logger.FromContext(ctx, cfg.Logger)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	tileProvider, err := NewTileProvider(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.With().Str("provider", tileProvider.Name()).Int("zoom", cfg.Zoom).Logger()

	if _, err := resolveCRS(geom, cfg.SourceCRS); err != nil {
		return nil, err
	}
	projector, err := cfg.projector()
	if err != nil {
		return nil, err
	}
	bbox, err := NormalizeBounds(projector, geom, cfg.SourceCRS, cfg.Expand)
	if err != nil {
		return nil, err
	}

	tileCount, err := TileCount(bbox, cfg.Zoom, tileProvider.MaxZoom())
	if err != nil {
		return nil, err
	}
	if cfg.MaxTiles > 0 && tileCount > cfg.MaxTiles {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("request needs %d tiles, more than the maximum of %d: reduce the zoom or raise the maximum", tileCount, cfg.MaxTiles),
		}
	}
	tileCoords, err := TileIndex(bbox, cfg.Zoom, tileProvider.MaxZoom())
	if err != nil {
		return nil, err
	}

	result := fetchTiles(ctx, cfg, tileProvider, tileCoords)
	result.logSummary(cfg.Logger)
	return assembleMosaic(cfg, result, bbox)
}

// GetPoints returns the elevation of each of points, in the same order and
// with the same attributes.
func GetPoints(ctx context.Context, points *PointSet, options ...Option) ([]ElevatedPoint, error) {
	cfg := NewConfig(options...)
	ctx, cfg.Logger = logger.FromContext(ctx, cfg.Logger)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	requests, err := NewPointRequests(points, cfg.SourceCRS)
	if err != nil {
		return nil, err
	}
	pointProvider, err := NewPointProvider(cfg)
	if err != nil {
		return nil, err
	}
	results, err := resolvePoints(ctx, cfg, pointProvider, requests)
	if err != nil {
		return nil, err
	}
	return mergePoints(cfg, points, results), nil
}
