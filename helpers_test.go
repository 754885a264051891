package dem_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/twpayne/go-dem"
)

// constantGrid returns a size×size grid with every cell set to value.
func constantGrid(size int, value float64) *mat.Dense {
	data := make([]float64, size*size)
	for i := range data {
		data[i] = value
	}
	return mat.NewDense(size, size, data)
}

// tileValue returns a value unique to tileCoord.
func tileValue(tileCoord dem.TileCoord) float64 {
	return float64(100*tileCoord.C + tileCoord.R)
}

// A fakeTileProvider returns constant tiles, failing for the tile
// coordinates in fail and blocking until its context is done for the tile
// coordinates in block.
type fakeTileProvider struct {
	tileSize  int
	maxZoom   int
	rateLimit rate.Limit
	fail      map[dem.TileCoord]error
	block     map[dem.TileCoord]bool

	mu        sync.Mutex
	fetched   []dem.TileCoord
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeTileProvider(tileSize int) *fakeTileProvider {
	return &fakeTileProvider{
		tileSize:  tileSize,
		maxZoom:   15,
		rateLimit: rate.Inf,
		fail:      make(map[dem.TileCoord]error),
	}
}

func (p *fakeTileProvider) Name() string          { return "fake" }
func (p *fakeTileProvider) MaxZoom() int          { return p.maxZoom }
func (p *fakeTileProvider) TileSize() int         { return p.tileSize }
func (p *fakeTileProvider) RateLimit() rate.Limit { return p.rateLimit }

func (p *fakeTileProvider) FetchTile(ctx context.Context, tileCoord dem.TileCoord) (*dem.TilePayload, error) {
	inFlight := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		maxFlight := p.maxFlight.Load()
		if inFlight <= maxFlight || p.maxFlight.CompareAndSwap(maxFlight, inFlight) {
			break
		}
	}

	p.mu.Lock()
	p.fetched = append(p.fetched, tileCoord)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := p.fail[tileCoord]; ok {
		return nil, err
	}
	if p.block[tileCoord] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &dem.TilePayload{
		Coord:  tileCoord,
		Grid:   constantGrid(p.tileSize, tileValue(tileCoord)),
		NoData: math.NaN(),
	}, nil
}

// A fakePointProvider returns elevations computed from coordinates, failing
// for the coordinates in fail.
type fakePointProvider struct {
	batchSize int
	fail      map[[2]float64]error

	mu      sync.Mutex
	batches [][][]float64
}

func (p *fakePointProvider) Name() string          { return "fake" }
func (p *fakePointProvider) BatchSize() int        { return p.batchSize }
func (p *fakePointProvider) RateLimit() rate.Limit { return rate.Inf }

func (p *fakePointProvider) Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error) {
	p.mu.Lock()
	p.batches = append(p.batches, lonLats)
	p.mu.Unlock()

	elevations := make([]float64, len(lonLats))
	errs := make([]error, len(lonLats))
	failed := false
	for i, lonLat := range lonLats {
		if err, ok := p.fail[[2]float64{lonLat[0], lonLat[1]}]; ok {
			errs[i] = err
			elevations[i] = math.NaN()
			failed = true
			continue
		}
		elevations[i] = pointElevation(lonLat[0], lonLat[1])
	}
	if failed {
		return elevations, &dem.BatchError{Errs: errs}
	}
	return elevations, nil
}

func pointElevation(lon, lat float64) float64 {
	return math.Round(1000*lon + lat)
}

// terrariumPNG returns a Terrarium-encoded PNG of a size×size tile where
// every pixel has elevation.
func terrariumPNG(t *testing.T, size int, elevation float64) []byte {
	t.Helper()
	v := elevation + 32768
	r := math.Floor(v / 256)
	g := math.Floor(v - 256*r)
	b := math.Round((v - 256*r - g) * 256)
	return encodePNG(t, size, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff})
}

// terrainRGBPNG returns a Mapbox Terrain-RGB PNG of a size×size tile where
// every pixel has elevation.
func terrainRGBPNG(t *testing.T, size int, elevation float64) []byte {
	t.Helper()
	v := uint32(math.Round((elevation + 10000) * 10))
	return encodePNG(t, size, color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff})
}

func encodePNG(t *testing.T, size int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.SetNRGBA(x, y, c)
		}
	}
	buffer := &bytes.Buffer{}
	assert.NoError(t, png.Encode(buffer, img))
	return buffer.Bytes()
}

var errFake = errors.New("fake")

func tileError(tileCoord dem.TileCoord) error {
	return fmt.Errorf("%s: %w", tileCoord, errFake)
}
