package dem_test

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-dem"
)

func tileCoordsAt(zoom, minC, minR, maxC, maxR int) []dem.TileCoord {
	var tileCoords []dem.TileCoord
	for r := minR; r <= maxR; r++ {
		for c := minC; c <= maxC; c++ {
			tileCoords = append(tileCoords, dem.TileCoord{Z: zoom, C: c, R: r})
		}
	}
	return tileCoords
}

func TestFetchTiles(t *testing.T) {
	tileCoords := tileCoordsAt(8, 10, 20, 13, 22)
	provider := newFakeTileProvider(4)
	failed := []dem.TileCoord{tileCoords[1], tileCoords[7]}
	for _, tileCoord := range failed {
		provider.fail[tileCoord] = tileError(tileCoord)
	}

	result := dem.FetchTiles(t.Context(), provider, tileCoords, dem.WithConcurrency(3))
	assert.Equal(t, tileCoords, result.Coords)
	assert.Equal(t, len(tileCoords), len(provider.fetched))
	assert.True(t, provider.maxFlight.Load() <= 3)

	assert.Equal(t, len(failed), len(result.Failed))
	for i, failure := range result.Failed {
		assert.Equal(t, failed[i], failure.Coord)
		assert.IsError(t, failure.Err, errFake)
	}

	assert.Equal(t, len(tileCoords)-len(failed), len(result.Tiles))
	expectedIndex := 0
	for _, tile := range result.Tiles {
		for tileCoords[expectedIndex] == failed[0] || tileCoords[expectedIndex] == failed[1] {
			expectedIndex++
		}
		assert.Equal(t, tileCoords[expectedIndex], tile.Coord)
		assert.Equal(t, tileValue(tile.Coord), tile.Grid.At(0, 0))
		expectedIndex++
	}
}

func TestFetchTilesWrongSize(t *testing.T) {
	provider := newFakeTileProvider(4)
	tileCoords := tileCoordsAt(3, 0, 0, 1, 0)
	result := dem.FetchTiles(t.Context(), &wrongSizeTileProvider{provider}, tileCoords)
	assert.Equal(t, 0, len(result.Tiles))
	assert.Equal(t, 2, len(result.Failed))
}

func TestFetchTilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	provider := newFakeTileProvider(4)
	tileCoords := tileCoordsAt(5, 0, 0, 3, 3)
	result := dem.FetchTiles(ctx, provider, tileCoords)
	assert.Equal(t, 0, len(result.Tiles))
	assert.Equal(t, len(tileCoords), len(result.Failed))
	for _, failure := range result.Failed {
		assert.IsError(t, failure.Err, context.Canceled)
	}
}

func TestFetchTilesTimeout(t *testing.T) {
	provider := newFakeTileProvider(4)
	tileCoords := tileCoordsAt(5, 0, 0, 3, 1)
	blocked := []dem.TileCoord{tileCoords[2], tileCoords[5]}
	provider.block = map[dem.TileCoord]bool{
		blocked[0]: true,
		blocked[1]: true,
	}

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	result := dem.FetchTiles(ctx, provider, tileCoords, dem.WithConcurrency(len(tileCoords)))

	assert.Equal(t, len(tileCoords)-len(blocked), len(result.Tiles))
	for _, tile := range result.Tiles {
		assert.True(t, tile.Coord != blocked[0] && tile.Coord != blocked[1])
		assert.Equal(t, tileValue(tile.Coord), tile.Grid.At(0, 0))
	}
	assert.Equal(t, len(blocked), len(result.Failed))
	for i, failure := range result.Failed {
		assert.Equal(t, blocked[i], failure.Coord)
		assert.IsError(t, failure.Err, context.DeadlineExceeded)
	}
}

func TestFetchTilesEmpty(t *testing.T) {
	result := dem.FetchTiles(t.Context(), newFakeTileProvider(4), nil)
	assert.Equal(t, 0, len(result.Tiles))
	assert.Equal(t, 0, len(result.Failed))
}

// A wrongSizeTileProvider reports a different tile size to the tiles it
// returns.
type wrongSizeTileProvider struct {
	*fakeTileProvider
}

func (p *wrongSizeTileProvider) TileSize() int {
	return 2 * p.fakeTileProvider.TileSize()
}
