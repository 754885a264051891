package dem_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/time/rate"

	"github.com/twpayne/go-dem"
)

// newEPQSServer returns a server that mimics the EPQS for points whose x
// coordinate is -120+index/10. The first request for each index in
// transient fails with 503 Service Unavailable, requests for each index in
// broken always fail, points at indexes in outside are outside coverage, and
// points at indexes in noData have a null value.
func newEPQSServer(t *testing.T, transient, broken, outside, noData []int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	requests := make(map[int]int)
	contains := func(indexes []int, index int) bool {
		for _, i := range indexes {
			if i == index {
				return true
			}
		}
		return false
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("wkid") != "4326" {
			http.Error(w, "bad wkid", http.StatusBadRequest)
			return
		}
		x, err := strconv.ParseFloat(query.Get("x"), 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		index := int(math.Round((x + 120) * 10))

		mu.Lock()
		requests[index]++
		n := requests[index]
		mu.Unlock()

		switch {
		case contains(broken, index):
			http.Error(w, "broken", http.StatusInternalServerError)
			return
		case contains(transient, index) && n == 1:
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}

		value := any(100 + index)
		switch {
		case contains(outside, index):
			value = dem.EPQSOutsideCoverage
		case contains(noData, index):
			value = nil
		case index%2 == 1:
			value = strconv.Itoa(100 + index)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"location": map[string]any{"x": x},
			"value":    value,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testPointSet(n int) *dem.PointSet {
	points := &dem.PointSet{
		CRS: dem.GeographicCRS,
	}
	for i := range n {
		points.Records = append(points.Records, dem.PointRecord{
			X: -120 + float64(i)/10,
			Y: 40 + float64(i)/10,
			Attributes: []dem.Attribute{
				{Name: "id", Value: i},
				{Name: "category", Value: fmt.Sprintf("category-%d", i%3)},
			},
		})
	}
	return points
}

func newTestHTTPTransport() *dem.HTTPTransport {
	return dem.NewHTTPTransport(
		dem.WithRetryMax(2),
		dem.WithRetryWait(time.Millisecond, 2*time.Millisecond),
	)
}

func TestResolvePointsEPQS(t *testing.T) {
	server := newEPQSServer(t, []int{5}, nil, []int{7}, []int{3})
	provider := dem.NewEPQSProvider(newTestHTTPTransport(), dem.WithEPQSBaseURL(server.URL))
	points := testPointSet(10)

	requests, err := dem.NewPointRequests(points, "")
	assert.NoError(t, err)
	results, err := dem.ResolvePoints(t.Context(), provider, requests, dem.WithConcurrency(4))
	assert.NoError(t, err)
	assert.Equal(t, 10, len(results))

	for i, result := range results {
		assert.Equal(t, i, result.Index)
		assert.NoError(t, result.Err)
		switch i {
		case 3:
			assert.True(t, math.IsNaN(result.Elevation))
		case 7:
			assert.Equal(t, float64(dem.EPQSOutsideCoverage), result.Elevation)
		default:
			assert.Equal(t, float64(100+i), result.Elevation)
		}
	}

	elevatedPoints := dem.MergePoints(points, results)
	assert.Equal(t, 10, len(elevatedPoints))
	for i, elevatedPoint := range elevatedPoints {
		assert.Equal(t, points.Records[i], elevatedPoint.PointRecord)
		if i == 3 {
			continue
		}
		assert.Equal(t, []dem.Attribute{
			{Name: "id", Value: i},
			{Name: "category", Value: fmt.Sprintf("category-%d", i%3)},
			{Name: "elevation", Value: results[i].Elevation},
		}, elevatedPoint.Columns())
	}
}

func TestResolvePointsEPQSFailure(t *testing.T) {
	server := newEPQSServer(t, nil, []int{2}, nil, nil)
	provider := dem.NewEPQSProvider(newTestHTTPTransport(), dem.WithEPQSBaseURL(server.URL))

	requests, err := dem.NewPointRequests(testPointSet(4), "")
	assert.NoError(t, err)
	results, err := dem.ResolvePoints(t.Context(), provider, requests)
	assert.NoError(t, err)

	for i, result := range results {
		if i != 2 {
			assert.NoError(t, result.Err)
			assert.Equal(t, float64(100+i), result.Elevation)
			continue
		}
		assert.IsError(t, result.Err, dem.ErrResolution)
		assert.IsError(t, result.Err, dem.ErrTransport)
		assert.True(t, math.IsNaN(result.Elevation))
		assert.True(t, strings.Contains(result.Err.Error(), "500"))
	}
}

func TestResolvePointsBatches(t *testing.T) {
	points := testPointSet(10)
	failLonLat := [2]float64{points.Records[4].X, points.Records[4].Y}
	provider := &fakePointProvider{
		batchSize: 3,
		fail: map[[2]float64]error{
			failLonLat: errFake,
		},
	}

	requests, err := dem.NewPointRequests(points, "")
	assert.NoError(t, err)
	results, err := dem.ResolvePoints(t.Context(), provider, requests, dem.WithConcurrency(2))
	assert.NoError(t, err)

	assert.Equal(t, 4, len(provider.batches))
	for _, batch := range provider.batches {
		assert.True(t, len(batch) <= 3)
	}
	for i, result := range results {
		assert.Equal(t, i, result.Index)
		if i == 4 {
			assert.IsError(t, result.Err, errFake)
			assert.True(t, math.IsNaN(result.Elevation))
			continue
		}
		assert.NoError(t, result.Err)
		assert.Equal(t, pointElevation(points.Records[i].X, points.Records[i].Y), result.Elevation)
	}
}

func TestResolvePointsProjected(t *testing.T) {
	lonLats := [][]float64{{6.6771972, 45.5052883}, {-31.216667, 39.466667}}
	mercator := [][]float64{{lonLats[0][0], lonLats[0][1]}, {lonLats[1][0], lonLats[1][1]}}
	assert.NoError(t, dem.WebMercatorProjector{}.Transform(dem.GeographicCRS, dem.TileCRS, mercator))

	requests := []dem.PointRequest{
		{Index: 0, X: mercator[0][0], Y: mercator[0][1], CRS: dem.TileCRS},
		{Index: 1, X: lonLats[1][0], Y: lonLats[1][1], CRS: dem.GeographicCRS},
		{Index: 2, X: math.NaN(), Y: 45, CRS: dem.GeographicCRS},
	}
	provider := &lonLatPointProvider{}
	results, err := dem.ResolvePoints(t.Context(), provider, requests, dem.WithProjector(dem.WebMercatorProjector{}))
	assert.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.True(t, math.Abs(results[0].Elevation-lonLats[0][0]) < 1e-9)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, lonLats[1][0], results[1].Elevation)
	assert.IsError(t, results[2].Err, dem.ErrResolution)
	assert.True(t, math.IsNaN(results[2].Elevation))
	assert.Equal(t, 2, provider.points)
}

func TestResolvePointsTransformFailure(t *testing.T) {
	projector := &failingProjector{
		crs:  "EPSG:32633",
		badX: 600000,
	}
	requests := []dem.PointRequest{
		{Index: 0, X: 500000, Y: 5000000, CRS: "EPSG:32633"},
		{Index: 1, X: 600000, Y: 5000000, CRS: "EPSG:32633"},
		{Index: 2, X: math.NaN(), Y: 5000000, CRS: "EPSG:32633"},
		{Index: 3, X: 700000, Y: 5000000, CRS: "EPSG:32633"},
		{Index: 4, X: 7, Y: 45, CRS: dem.GeographicCRS},
	}
	provider := &lonLatPointProvider{}
	results, err := dem.ResolvePoints(t.Context(), provider, requests, dem.WithProjector(projector))
	assert.NoError(t, err)

	assert.Equal(t, 5, len(results))
	for i, expected := range []float64{5, math.NaN(), math.NaN(), 7, 7} {
		assert.Equal(t, i, results[i].Index)
		if math.IsNaN(expected) {
			assert.IsError(t, results[i].Err, dem.ErrResolution)
			assert.True(t, math.IsNaN(results[i].Elevation))
			continue
		}
		assert.NoError(t, results[i].Err)
		assert.Equal(t, expected, results[i].Elevation)
	}
	assert.IsError(t, results[1].Err, errBadCoord)
	assert.Equal(t, 3, provider.points)
	for _, coords := range projector.calls {
		for _, coord := range coords {
			assert.False(t, math.IsNaN(coord[0]))
		}
	}
}

func TestResolvePointsUnknownCRS(t *testing.T) {
	requests := []dem.PointRequest{
		{Index: 0, X: 500000, Y: 5000000, CRS: "EPSG:32633"},
	}
	_, err := dem.ResolvePoints(t.Context(), &lonLatPointProvider{}, requests, dem.WithProjector(dem.WebMercatorProjector{}))
	assert.IsError(t, err, dem.ErrConfiguration)
}

func TestResolvePointsEmpty(t *testing.T) {
	results, err := dem.ResolvePoints(t.Context(), &fakePointProvider{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(results))
}

func TestResolvePointsNoCRS(t *testing.T) {
	_, err := dem.NewPointRequests(&dem.PointSet{Records: []dem.PointRecord{{X: 1, Y: 2}}}, "")
	assert.IsError(t, err, dem.ErrConfiguration)

	requests, err := dem.NewPointRequests(&dem.PointSet{Records: []dem.PointRecord{{X: 1, Y: 2}}}, dem.GeographicCRS)
	assert.NoError(t, err)
	assert.Equal(t, dem.GeographicCRS, requests[0].CRS)

	_, err = dem.ResolvePoints(t.Context(), &fakePointProvider{}, []dem.PointRequest{{X: 1, Y: 2}})
	assert.IsError(t, err, dem.ErrConfiguration)
}

func TestElevatedPointColumns(t *testing.T) {
	elevatedPoint := dem.ElevatedPoint{
		PointRecord: dem.PointRecord{
			Attributes: []dem.Attribute{
				{Name: "name", Value: "summit"},
				{Name: "elevation", Value: "unknown"},
				{Name: "category", Value: "peak"},
			},
		},
		Elevation: 4808,
	}
	assert.Equal(t, []dem.Attribute{
		{Name: "name", Value: "summit"},
		{Name: "elevation", Value: 4808.0},
		{Name: "category", Value: "peak"},
	}, elevatedPoint.Columns())
	elevatedPoint.ElevationColumn = "height"
	assert.Equal(t, []dem.Attribute{
		{Name: "name", Value: "summit"},
		{Name: "elevation", Value: "unknown"},
		{Name: "category", Value: "peak"},
		{Name: "height", Value: 4808.0},
	}, elevatedPoint.Columns())
}

func TestMergePointsMissingResult(t *testing.T) {
	points := testPointSet(3)
	elevatedPoints := dem.MergePoints(points, []dem.PointResult{
		{Index: 0, Elevation: 1},
		{Index: 2, Elevation: 3},
	})
	assert.NoError(t, elevatedPoints[0].Err)
	assert.IsError(t, elevatedPoints[1].Err, dem.ErrResolution)
	assert.True(t, math.IsNaN(elevatedPoints[1].Elevation))
	assert.Equal(t, 3.0, elevatedPoints[2].Elevation)
	assert.Equal(t, "elevation", elevatedPoints[2].ElevationColumn)

	elevatedPoints = dem.MergePoints(points, nil, dem.WithElevationColumn("z"))
	assert.Equal(t, "z", elevatedPoints[0].ElevationColumn)
	assert.Equal(t, "z", elevatedPoints[0].Columns()[2].Name)
}

// A lonLatPointProvider returns each point's longitude as its elevation.
type lonLatPointProvider struct {
	mu     sync.Mutex
	points int
}

func (p *lonLatPointProvider) Name() string          { return "lonlat" }
func (p *lonLatPointProvider) BatchSize() int        { return 0 }
func (p *lonLatPointProvider) RateLimit() rate.Limit { return rate.Inf }

func (p *lonLatPointProvider) Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error) {
	p.mu.Lock()
	p.points += len(lonLats)
	p.mu.Unlock()
	elevations := make([]float64, len(lonLats))
	for i, lonLat := range lonLats {
		elevations[i] = lonLat[0]
	}
	return elevations, nil
}

var errBadCoord = errors.New("bad coordinate")

// A failingProjector transforms from crs to GeographicCRS by dividing x by
// 100000 and setting y to 45. It fails the whole transformation if any
// coordinate has x equal to badX.
type failingProjector struct {
	crs   string
	badX  float64
	mu    sync.Mutex
	calls [][][]float64
}

func (p *failingProjector) Transform(srcCRS, dstCRS string, coords [][]float64) error {
	if srcCRS != p.crs || dstCRS != dem.GeographicCRS {
		return &dem.ConfigurationError{Reason: srcCRS + " to " + dstCRS}
	}
	p.mu.Lock()
	p.calls = append(p.calls, coords)
	p.mu.Unlock()
	for _, coord := range coords {
		if coord[0] == p.badX {
			return errBadCoord
		}
	}
	for _, coord := range coords {
		coord[0], coord[1] = coord[0]/100000, 45
	}
	return nil
}
