package dem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// EPQSOutsideCoverage is the value returned by the USGS Elevation Point
// Query Service for points outside its coverage.
const EPQSOutsideCoverage = -1000000

const epqsURL = "https://epqs.nationalmap.gov/v1/json"

// An EPQSProvider is a PointProvider for the USGS Elevation Point Query
// Service, which resolves a single point per request.
type EPQSProvider struct {
	transport Transport
	baseURL   string
	units     Units
}

// An EPQSProviderOption sets an option on an EPQSProvider.
type EPQSProviderOption func(*EPQSProvider)

// NewEPQSProvider returns a new EPQSProvider.
func NewEPQSProvider(transport Transport, options ...EPQSProviderOption) *EPQSProvider {
	p := &EPQSProvider{
		transport: transport,
		baseURL:   epqsURL,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// WithEPQSBaseURL sets the service URL.
func WithEPQSBaseURL(baseURL string) EPQSProviderOption {
	return func(p *EPQSProvider) {
		p.baseURL = baseURL
	}
}

// WithEPQSUnits sets the units in which the service returns elevations.
func WithEPQSUnits(units Units) EPQSProviderOption {
	return func(p *EPQSProvider) {
		p.units = units
	}
}

func (p *EPQSProvider) Name() string          { return "epqs" }
func (p *EPQSProvider) BatchSize() int        { return 1 }
func (p *EPQSProvider) RateLimit() rate.Limit { return rate.Inf }

type epqsResponse struct {
	Value json.RawMessage `json:"value"`
}

// Elevations implements PointProvider.Elevations.
func (p *EPQSProvider) Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error) {
	elevations := make([]float64, len(lonLats))
	errs := make([]error, len(lonLats))
	failed := 0
	for i, lonLat := range lonLats {
		elevations[i], errs[i] = p.elevation(ctx, lonLat[0], lonLat[1])
		if errs[i] != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		return elevations, nil
	case len(lonLats) == 1:
		return nil, errs[0]
	default:
		return elevations, &BatchError{Errs: errs}
	}
}

func (p *EPQSProvider) elevation(ctx context.Context, lon, lat float64) (float64, error) {
	units := "Meters"
	if p.units == Feet {
		units = "Feet"
	}
	query := url.Values{}
	query.Set("x", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("y", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("wkid", "4326")
	query.Set("units", units)
	query.Set("includeDate", "false")
	rawURL := p.baseURL + "?" + query.Encode()

	data, err := fetchOrDescribe(ctx, p.transport, &Request{
		URL:     rawURL,
		Header:  acceptJSON(),
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return 0, err
	}
	var response epqsResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return 0, fmt.Errorf("epqs: %w", err)
	}
	return parseEPQSValue(response.Value)
}

// parseEPQSValue parses a value that the service returns either as a JSON
// number or as a string. A null value, returned where the service has no
// data, is NaN.
func parseEPQSValue(raw json.RawMessage) (float64, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return math.NaN(), nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("epqs: invalid value %s", raw)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("epqs: invalid value %q", s)
	}
	return value, nil
}
