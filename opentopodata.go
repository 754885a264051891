package dem

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

const (
	openTopoDataURL       = "https://api.opentopodata.org/v1/"
	openTopoDataDataset   = "srtm90m"
	openTopoDataBatchSize = 100
)

// An OpenTopoDataProvider is a PointProvider for Open Topo Data, which
// resolves up to 100 points per request and allows one request per second.
// Points without data are returned as NaN.
type OpenTopoDataProvider struct {
	transport Transport
	baseURL   string
	dataset   string
	units     Units
}

// An OpenTopoDataProviderOption sets an option on an OpenTopoDataProvider.
type OpenTopoDataProviderOption func(*OpenTopoDataProvider)

// NewOpenTopoDataProvider returns a new OpenTopoDataProvider.
func NewOpenTopoDataProvider(transport Transport, options ...OpenTopoDataProviderOption) *OpenTopoDataProvider {
	p := &OpenTopoDataProvider{
		transport: transport,
		baseURL:   openTopoDataURL,
		dataset:   openTopoDataDataset,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func WithOpenTopoDataBaseURL(baseURL string) OpenTopoDataProviderOption {
	return func(p *OpenTopoDataProvider) {
		p.baseURL = baseURL
	}
}

func WithOpenTopoDataDataset(dataset string) OpenTopoDataProviderOption {
	return func(p *OpenTopoDataProvider) {
		if dataset != "" {
			p.dataset = dataset
		}
	}
}

func WithOpenTopoDataUnits(units Units) OpenTopoDataProviderOption {
	return func(p *OpenTopoDataProvider) {
		p.units = units
	}
}

func (p *OpenTopoDataProvider) Name() string          { return "opentopodata" }
func (p *OpenTopoDataProvider) BatchSize() int        { return openTopoDataBatchSize }
func (p *OpenTopoDataProvider) RateLimit() rate.Limit { return 1 }

type openTopoDataResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// Elevations implements PointProvider.Elevations.
func (p *OpenTopoDataProvider) Elevations(ctx context.Context, lonLats [][]float64) ([]float64, error) {
	locations := make([]string, len(lonLats))
	for i, lonLat := range lonLats {
		locations[i] = strconv.FormatFloat(lonLat[1], 'f', -1, 64) + "," + strconv.FormatFloat(lonLat[0], 'f', -1, 64)
	}
	query := url.Values{}
	query.Set("locations", strings.Join(locations, "|"))
	rawURL := strings.TrimSuffix(p.baseURL, "/") + "/" + url.PathEscape(p.dataset) + "?" + query.Encode()

	data, err := fetchOrDescribe(ctx, p.transport, &Request{
		URL:     rawURL,
		Header:  acceptJSON(),
		Timeout: defaultRequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	var response openTopoDataResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("opentopodata: %w", err)
	}
	if response.Status != "OK" {
		return nil, fmt.Errorf("opentopodata: %s: %s", response.Status, response.Error)
	}
	if len(response.Results) != len(lonLats) {
		return nil, fmt.Errorf("opentopodata: got %d results for %d points", len(response.Results), len(lonLats))
	}
	elevations := make([]float64, len(lonLats))
	for i, result := range response.Results {
		if result.Elevation == nil {
			elevations[i] = math.NaN()
			continue
		}
		elevations[i] = p.units.fromMeters(*result.Elevation)
	}
	return elevations, nil
}
