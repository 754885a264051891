package dem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"
)

// A TileProvider retrieves elevation tiles in TileCRS.
type TileProvider interface {
	Name() string
	MaxZoom() int
	TileSize() int
	// RateLimit returns the maximum sustained request rate, or rate.Inf.
	RateLimit() rate.Limit
	FetchTile(ctx context.Context, tileCoord TileCoord) (*TilePayload, error)
}

// A TilePayload is the elevation grid of a single tile. Row 0 of Grid is the
// northern edge of the tile.
type TilePayload struct {
	Coord  TileCoord
	Grid   *mat.Dense
	NoData float64
}

// A TileFailure records the failure to fetch a tile.
type TileFailure struct {
	Coord TileCoord
	Err   error
}

// A FetchResult is the result of fetching a set of tiles.
type FetchResult struct {
	Coords []TileCoord    // Requested tile coordinates.
	Tiles  []*TilePayload // Successfully fetched tiles, in request order.
	Failed []TileFailure  // Failed tiles, in request order.
}

// FetchTiles fetches tileCoords from provider. Failures are recorded in the
// result and never abort the other fetches. If ctx is cancelled then
// outstanding fetches are recorded as failures.
func FetchTiles(ctx context.Context, provider TileProvider, tileCoords []TileCoord, options ...Option) *FetchResult {
	return fetchTiles(ctx, NewConfig(options...), provider, tileCoords)
}

func fetchTiles(ctx context.Context, cfg *Config, provider TileProvider, tileCoords []TileCoord) *FetchResult {
	logger := cfg.Logger.With().Str("provider", provider.Name()).Logger()
	limiter := newLimiter(provider.RateLimit())
	tileSize := provider.TileSize()

	tiles := make([]*TilePayload, len(tileCoords))
	errs := make([]error, len(tileCoords))
	g := &errgroup.Group{}
	g.SetLimit(cfg.Concurrency)
	for index, tileCoord := range tileCoords {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				errs[index] = err
				return nil
			}
			start := time.Now()
			tile, err := provider.FetchTile(ctx, tileCoord)
			tileFetchDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
			if err == nil {
				err = checkTile(tile, tileCoord, tileSize)
			}
			if err != nil {
				errs[index] = err
				return nil
			}
			logger.Debug().
				Stringer("tile", tileCoord).
				Dur("duration", time.Since(start)).
				Msg("fetched tile")
			tiles[index] = tile
			return nil
		})
	}
	_ = g.Wait()

	result := &FetchResult{
		Coords: tileCoords,
	}
	for index, tile := range tiles {
		if tile != nil {
			result.Tiles = append(result.Tiles, tile)
			tileFetches.WithLabelValues(provider.Name(), "success").Inc()
			continue
		}
		err := errs[index]
		result.Failed = append(result.Failed, TileFailure{
			Coord: tileCoords[index],
			Err:   err,
		})
		outcome := "error"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
		tileFetches.WithLabelValues(provider.Name(), outcome).Inc()
		logger.Warn().
			Err(err).
			Stringer("tile", tileCoords[index]).
			Msg("tile fetch failed")
	}
	return result
}

// checkTile checks that tile has the expected coordinate and dimensions.
func checkTile(tile *TilePayload, tileCoord TileCoord, tileSize int) error {
	if tile == nil || tile.Grid == nil {
		return fmt.Errorf("%s: no grid", tileCoord)
	}
	if tile.Coord != tileCoord {
		return fmt.Errorf("%s: got tile %s", tileCoord, tile.Coord)
	}
	if rows, cols := tile.Grid.Dims(); rows != tileSize || cols != tileSize {
		return fmt.Errorf("%s: got %dx%d grid, expected %dx%d", tileCoord, cols, rows, tileSize, tileSize)
	}
	return nil
}

// newLimiter returns a rate limiter allowing limit requests per second.
func newLimiter(limit rate.Limit) *rate.Limiter {
	if limit <= 0 {
		limit = rate.Inf
	}
	return rate.NewLimiter(limit, 1)
}

// logSummary logs a summary of a fetch result.
func (r *FetchResult) logSummary(logger zerolog.Logger) {
	logger.Info().
		Int("requested", len(r.Coords)).
		Int("fetched", len(r.Tiles)).
		Int("failed", len(r.Failed)).
		Msg("fetched tiles")
}
