package dem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// A PointProvider resolves elevations at points in GeographicCRS.
type PointProvider interface {
	Name() string
	// BatchSize returns the maximum number of points per request, 1 for
	// providers that only accept single points, or 0 for no limit.
	BatchSize() int
	// RateLimit returns the maximum sustained request rate, or rate.Inf.
	RateLimit() rate.Limit
	// Elevations returns the elevation at each of lonLats. Provider-specific
	// sentinel values are returned unchanged. If only some points fail then
	// it returns the elevations it could resolve and a *BatchError.
	Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error)
}

// An Attribute is a named value attached to a point.
type Attribute struct {
	Name  string
	Value any
}

// A PointRecord is a caller's point with its attributes.
type PointRecord struct {
	X          float64
	Y          float64
	Attributes []Attribute
}

// A PointSet is an ordered set of points in a single CRS.
type PointSet struct {
	CRS     string
	Records []PointRecord
}

// Geometry returns the points in s as a geometry with s's CRS attached.
func (s *PointSet) Geometry() CRSGeometry {
	multiPoint := make(orb.MultiPoint, 0, len(s.Records))
	for _, record := range s.Records {
		multiPoint = append(multiPoint, orb.Point{record.X, record.Y})
	}
	return CRSGeometry{
		Geometry: multiPoint,
		CRS:      s.CRS,
	}
}

// A PointRequest is a request for the elevation of a single point.
type PointRequest struct {
	Index      int
	X          float64
	Y          float64
	CRS        string
	Attributes []Attribute
}

// A PointResult is the elevation of a single point. Err is a
// *ResolutionError if the elevation could not be resolved, in which case
// Elevation is NaN.
type PointResult struct {
	Index     int
	Elevation float64
	Err       error
}

// An ElevatedPoint is a PointRecord with its resolved elevation.
type ElevatedPoint struct {
	PointRecord
	Index           int
	Elevation       float64
	Err             error
	ElevationColumn string
}

// Columns returns p's attributes with the elevation appended as
// p.ElevationColumn. An existing attribute with the same name is replaced in
// place.
func (p *ElevatedPoint) Columns() []Attribute {
	elevationColumn := p.ElevationColumn
	if elevationColumn == "" {
		elevationColumn = elevationColName
	}
	columns := make([]Attribute, 0, len(p.Attributes)+1)
	replaced := false
	for _, attribute := range p.Attributes {
		if attribute.Name == elevationColumn {
			attribute.Value = p.Elevation
			replaced = true
		}
		columns = append(columns, attribute)
	}
	if !replaced {
		columns = append(columns, Attribute{Name: elevationColumn, Value: p.Elevation})
	}
	return columns
}

// NewPointRequests returns a PointRequest for each record in points. The CRS
// of the points is crs if it is not empty, otherwise points.CRS.
func NewPointRequests(points *PointSet, crs string) ([]PointRequest, error) {
	if crs == "" {
		crs = points.CRS
	}
	if crs == "" {
		return nil, &ConfigurationError{Reason: "no CRS given and none attached to points"}
	}
	requests := make([]PointRequest, len(points.Records))
	for i, record := range points.Records {
		requests[i] = PointRequest{
			Index:      i,
			X:          record.X,
			Y:          record.Y,
			CRS:        crs,
			Attributes: record.Attributes,
		}
	}
	return requests, nil
}

// ResolvePoints resolves the elevation of each of requests with provider.
// The results are in the same order as requests. Failures to resolve
// individual points are returned in the results. An error is only returned
// if the requests cannot be satisfied at all.
func ResolvePoints(ctx context.Context, provider PointProvider, requests []PointRequest, options ...Option) ([]PointResult, error) {
	return resolvePoints(ctx, NewConfig(options...), provider, requests)
}

func resolvePoints(ctx context.Context, cfg *Config, provider PointProvider, requests []PointRequest) ([]PointResult, error) {
	logger := cfg.Logger.With().Str("provider", provider.Name()).Logger()

	results := make([]PointResult, len(requests))
	for i, request := range requests {
		results[i] = PointResult{
			Index:     request.Index,
			Elevation: math.NaN(),
		}
	}
	if len(requests) == 0 {
		return results, nil
	}

	lonLats, errs, err := projectPoints(cfg, requests)
	if err != nil {
		return nil, err
	}

	// Only points with valid coordinates are sent to the provider.
	positions := make([]int, 0, len(requests))
	for i, err := range errs {
		if err != nil {
			results[i].Err = &ResolutionError{
				Index: requests[i].Index,
				Err:   err,
			}
			continue
		}
		positions = append(positions, i)
	}

	batchSize := provider.BatchSize()
	if batchSize <= 0 {
		batchSize = len(positions)
	}
	limiter := newLimiter(provider.RateLimit())
	g := &errgroup.Group{}
	g.SetLimit(cfg.Concurrency)
	for start := 0; start < len(positions); start += batchSize {
		batch := positions[start:min(start+batchSize, len(positions))]
		g.Go(func() error {
			resolveBatch(ctx, provider, limiter, requests, lonLats, batch, results)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			pointResolutions.WithLabelValues(provider.Name(), "error").Inc()
		} else {
			pointResolutions.WithLabelValues(provider.Name(), "success").Inc()
		}
	}
	logger.Info().
		Int("points", len(requests)).
		Int("failed", failed).
		Msg("resolved points")
	return results, nil
}

// resolveBatch resolves the points at positions in batch and writes them into
// the same positions in results.
func resolveBatch(ctx context.Context, provider PointProvider, limiter *rate.Limiter, requests []PointRequest, lonLats [][]float64, batch []int, results []PointResult) {
	fail := func(position int, err error) {
		results[position].Elevation = math.NaN()
		results[position].Err = &ResolutionError{
			Index: requests[position].Index,
			Err:   err,
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		for _, position := range batch {
			fail(position, err)
		}
		return
	}

	batchLonLats := make([][]float64, len(batch))
	for i, position := range batch {
		batchLonLats[i] = lonLats[position]
	}
	start := time.Now()
	elevations, err := provider.Elevations(ctx, batchLonLats)
	pointBatchDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())

	var batchErr *BatchError
	switch {
	case errors.As(err, &batchErr) && len(batchErr.Errs) == len(batch) && len(elevations) == len(batch):
		for i, position := range batch {
			if batchErr.Errs[i] != nil {
				fail(position, batchErr.Errs[i])
			} else {
				results[position].Elevation = elevations[i]
			}
		}
	case err != nil:
		for _, position := range batch {
			fail(position, err)
		}
	case len(elevations) != len(batch):
		err := fmt.Errorf("%s returned %d elevations for %d points", provider.Name(), len(elevations), len(batch))
		for _, position := range batch {
			fail(position, err)
		}
	default:
		for i, position := range batch {
			results[position].Elevation = elevations[i]
		}
	}
}

// projectPoints returns the coordinates of requests in GeographicCRS. Points
// with invalid coordinates, or that cannot be transformed, have a non-nil
// error at the same position in errs. err is only non-nil if no points can be
// transformed because of the configuration.
func projectPoints(cfg *Config, requests []PointRequest) (lonLats [][]float64, errs []error, err error) {
	lonLats = make([][]float64, len(requests))
	errs = make([]error, len(requests))
	positionsByCRS := make(map[string][]int)
	var crss []string
	for i, request := range requests {
		if request.CRS == "" {
			return nil, nil, &ConfigurationError{Reason: fmt.Sprintf("point %d has no CRS", request.Index)}
		}
		lonLats[i] = []float64{request.X, request.Y}
		if !validCoord(request.X, request.Y) {
			errs[i] = fmt.Errorf("invalid coordinate (%g, %g)", request.X, request.Y)
			continue
		}
		if _, ok := positionsByCRS[request.CRS]; !ok {
			crss = append(crss, request.CRS)
		}
		positionsByCRS[request.CRS] = append(positionsByCRS[request.CRS], i)
	}

	for _, crs := range crss {
		if sameCRS(crs, GeographicCRS) {
			continue
		}
		projector, err := cfg.projector()
		if err != nil {
			return nil, nil, err
		}
		positions := positionsByCRS[crs]
		coords := make([][]float64, len(positions))
		for i, position := range positions {
			coords[i] = []float64{requests[position].X, requests[position].Y}
		}
		switch err := projector.Transform(crs, GeographicCRS, coords); {
		case errors.Is(err, ErrConfiguration):
			return nil, nil, err
		case err == nil:
			for i, position := range positions {
				lonLats[position] = coords[i]
			}
			continue
		}

		// A failed transformation may fail the whole group, so transform
		// each point separately to find which ones fail.
		for _, position := range positions {
			coord := [][]float64{{requests[position].X, requests[position].Y}}
			switch err := projector.Transform(crs, GeographicCRS, coord); {
			case errors.Is(err, ErrConfiguration):
				return nil, nil, err
			case err != nil:
				errs[position] = fmt.Errorf("transform (%g, %g) from %s: %w", requests[position].X, requests[position].Y, crs, err)
			default:
				lonLats[position] = coord[0]
			}
		}
	}

	for i, lonLat := range lonLats {
		if errs[i] == nil && !validCoord(lonLat[0], lonLat[1]) {
			errs[i] = fmt.Errorf("invalid coordinate (%g, %g)", requests[i].X, requests[i].Y)
		}
	}
	return lonLats, errs, nil
}

func validCoord(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsInf(x, 0) && !math.IsInf(y, 0)
}

// MergePoints merges results into the records of points, preserving their
// order and attributes. The elevation column is set by WithElevationColumn.
func MergePoints(points *PointSet, results []PointResult, options ...Option) []ElevatedPoint {
	return mergePoints(NewConfig(options...), points, results)
}

func mergePoints(cfg *Config, points *PointSet, results []PointResult) []ElevatedPoint {
	elevatedPoints := make([]ElevatedPoint, len(points.Records))
	for i, record := range points.Records {
		elevatedPoints[i] = ElevatedPoint{
			PointRecord:     record,
			Index:           i,
			Elevation:       math.NaN(),
			Err:             &ResolutionError{Index: i, Err: errors.New("no result")},
			ElevationColumn: cfg.ElevationColumn,
		}
	}
	for _, result := range results {
		if result.Index < 0 || result.Index >= len(elevatedPoints) {
			continue
		}
		elevatedPoints[result.Index].Elevation = result.Elevation
		elevatedPoints[result.Index].Err = result.Err
	}
	return elevatedPoints
}
