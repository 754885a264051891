package dem

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// AWS Terrain Tiles URL templates.
const (
	awsTerrariumURLTemplate = "https://s3.amazonaws.com/elevation-tiles-prod/terrarium/%d/%d/%d.png"
	awsGeoTIFFURLTemplate   = "https://s3.amazonaws.com/elevation-tiles-prod/geotiff/%d/%d/%d.tif"
	mapboxURLTemplate       = "https://api.mapbox.com/v4/mapbox.terrain-rgb/%d/%d/%d.pngraw"
)

// A URLFunc returns the URL of the tile at a tile coordinate.
type URLFunc func(TileCoord) string

// An HTTPTileProvider is a TileProvider that fetches tiles through a
// Transport and decodes them.
type HTTPTileProvider struct {
	name           string
	transport      Transport
	urlFunc        URLFunc
	decode         DecodeFunc
	maxZoom        int
	tileSize       int
	rateLimit      rate.Limit
	requestTimeout time.Duration
}

// An HTTPTileProviderOption sets an option on an HTTPTileProvider.
type HTTPTileProviderOption func(*HTTPTileProvider)

// NewHTTPTileProvider returns a new HTTPTileProvider.
func NewHTTPTileProvider(name string, transport Transport, urlFunc URLFunc, decode DecodeFunc, options ...HTTPTileProviderOption) *HTTPTileProvider {
	p := &HTTPTileProvider{
		name:           name,
		transport:      transport,
		urlFunc:        urlFunc,
		decode:         decode,
		maxZoom:        15,
		tileSize:       256,
		rateLimit:      rate.Inf,
		requestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func WithMaxZoom(maxZoom int) HTTPTileProviderOption {
	return func(p *HTTPTileProvider) {
		p.maxZoom = maxZoom
	}
}

func WithTileSize(tileSize int) HTTPTileProviderOption {
	return func(p *HTTPTileProvider) {
		p.tileSize = tileSize
	}
}

func WithRateLimit(rateLimit rate.Limit) HTTPTileProviderOption {
	return func(p *HTTPTileProvider) {
		p.rateLimit = rateLimit
	}
}

// WithRequestTimeout sets the timeout for fetching a single tile.
func WithRequestTimeout(requestTimeout time.Duration) HTTPTileProviderOption {
	return func(p *HTTPTileProvider) {
		p.requestTimeout = requestTimeout
	}
}

// NewAWSTerrariumProvider returns a TileProvider for the Terrarium PNG
// encoding of AWS Terrain Tiles.
func NewAWSTerrariumProvider(transport Transport, options ...HTTPTileProviderOption) *HTTPTileProvider {
	return NewHTTPTileProvider("aws", transport, func(tileCoord TileCoord) string {
		return fmt.Sprintf(awsTerrariumURLTemplate, tileCoord.Z, tileCoord.C, tileCoord.R)
	}, DecodeTerrarium, options...)
}

// NewAWSGeoTIFFProvider returns a TileProvider for the GeoTIFF encoding of
// AWS Terrain Tiles.
func NewAWSGeoTIFFProvider(transport Transport, options ...HTTPTileProviderOption) *HTTPTileProvider {
	return NewHTTPTileProvider("aws-geotiff", transport, func(tileCoord TileCoord) string {
		return fmt.Sprintf(awsGeoTIFFURLTemplate, tileCoord.Z, tileCoord.C, tileCoord.R)
	}, DecodeGeoTIFF, append([]HTTPTileProviderOption{WithTileSize(512), WithMaxZoom(14)}, options...)...)
}

// NewMapboxTerrainRGBProvider returns a TileProvider for Mapbox Terrain-RGB
// tiles.
func NewMapboxTerrainRGBProvider(transport Transport, accessToken string, options ...HTTPTileProviderOption) *HTTPTileProvider {
	return NewHTTPTileProvider("mapbox", transport, func(tileCoord TileCoord) string {
		return fmt.Sprintf(mapboxURLTemplate, tileCoord.Z, tileCoord.C, tileCoord.R) +
			"?access_token=" + url.QueryEscape(accessToken)
	}, DecodeTerrainRGB, options...)
}

func (p *HTTPTileProvider) Name() string          { return p.name }
func (p *HTTPTileProvider) MaxZoom() int          { return p.maxZoom }
func (p *HTTPTileProvider) TileSize() int         { return p.tileSize }
func (p *HTTPTileProvider) RateLimit() rate.Limit { return p.rateLimit }

// FetchTile implements TileProvider.FetchTile.
func (p *HTTPTileProvider) FetchTile(ctx context.Context, tileCoord TileCoord) (*TilePayload, error) {
	if tileCoord.Z < 0 || tileCoord.Z > p.maxZoom {
		return nil, &UnsupportedZoomError{Zoom: tileCoord.Z, MaxZoom: p.maxZoom}
	}
	data, err := fetchOrDescribe(ctx, p.transport, &Request{
		URL:     p.urlFunc(tileCoord),
		Timeout: p.requestTimeout,
	})
	if err != nil {
		return nil, err
	}
	grid, err := p.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tileCoord, err)
	}
	return &TilePayload{
		Coord:  tileCoord,
		Grid:   grid,
		NoData: math.NaN(),
	}, nil
}
