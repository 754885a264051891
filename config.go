package dem

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// A Resampling is a strategy for resampling a mosaic into another CRS.
type Resampling int

// Resamplings.
const (
	ResampleNearest Resampling = iota
	ResampleBilinear
)

func (r Resampling) String() string {
	switch r {
	case ResampleNearest:
		return "nearest"
	case ResampleBilinear:
		return "bilinear"
	default:
		return "unknown"
	}
}

// ParseResampling parses a resampling name.
func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "", "nearest":
		return ResampleNearest, nil
	case "bilinear":
		return ResampleBilinear, nil
	default:
		return 0, &ConfigurationError{Reason: "unknown resampling " + s}
	}
}

// A Units is a unit of elevation.
type Units int

// Units.
const (
	Meters Units = iota
	Feet
)

const feetPerMeter = 3.280839895

func (u Units) String() string {
	if u == Feet {
		return "feet"
	}
	return "meters"
}

// ParseUnits parses a units name.
func ParseUnits(s string) (Units, error) {
	switch s {
	case "", "m", "meters":
		return Meters, nil
	case "ft", "feet":
		return Feet, nil
	default:
		return 0, &ConfigurationError{Reason: "unknown units " + s}
	}
}

// fromMeters converts meters to u.
func (u Units) fromMeters(meters float64) float64 {
	if u == Feet {
		return meters * feetPerMeter
	}
	return meters
}

// A Config is the resolved configuration of a single request.
type Config struct {
	APIKey           string
	Provider         string
	Zoom             int
	Resampling       Resampling
	SourceCRS        string
	TargetCRS        string
	Concurrency      int
	Timeout          time.Duration
	MaxTiles         int
	Expand           float64
	NegativeToNoData bool
	Units            Units
	Dataset          string
	ElevationColumn  string
	Logger           zerolog.Logger
	Transport        Transport
	Projector        Projector
	Getenv           func(string) string
}

// An Option sets an option on a Config.
type Option func(*Config)

// NewConfig returns a new Config with the given options applied over the
// defaults.
func NewConfig(options ...Option) *Config {
	c := &Config{
		Zoom:            defaultZoom,
		Concurrency:     defaultWorkers,
		MaxTiles:        defaultMaxTiles,
		ElevationColumn: elevationColName,
		Logger:          zerolog.Nop(),
		Getenv:          os.Getenv,
	}
	for _, option := range options {
		option(c)
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return c
}

// WithAPIKey sets the API key, overriding any key in the environment.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithProvider selects the provider by name.
func WithProvider(provider string) Option {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithZoom sets the zoom level used for rasters and for tile-backed point
// providers.
func WithZoom(zoom int) Option {
	return func(c *Config) {
		c.Zoom = zoom
	}
}

func WithResampling(resampling Resampling) Option {
	return func(c *Config) {
		c.Resampling = resampling
	}
}

// WithSourceCRS sets the CRS of the input geometry or points. It takes
// precedence over any CRS attached to the input.
func WithSourceCRS(crs string) Option {
	return func(c *Config) {
		c.SourceCRS = crs
	}
}

// WithTargetCRS sets the CRS of returned mosaics. The default is TileCRS.
func WithTargetCRS(crs string) Option {
	return func(c *Config) {
		c.TargetCRS = crs
	}
}

// WithConcurrency sets the maximum number of concurrent requests.
func WithConcurrency(concurrency int) Option {
	return func(c *Config) {
		c.Concurrency = concurrency
	}
}

// WithTimeout sets a timeout for the whole request. Work completed before the
// timeout is still returned.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxTiles sets the maximum number of tiles a raster request may fetch.
func WithMaxTiles(maxTiles int) Option {
	return func(c *Config) {
		c.MaxTiles = maxTiles
	}
}

// WithExpand expands the input envelope by expand, in units of the source
// CRS, on every side.
func WithExpand(expand float64) Option {
	return func(c *Config) {
		c.Expand = expand
	}
}

// WithNegativeToNoData replaces negative elevations in mosaics with nodata.
func WithNegativeToNoData(negativeToNoData bool) Option {
	return func(c *Config) {
		c.NegativeToNoData = negativeToNoData
	}
}

func WithUnits(units Units) Option {
	return func(c *Config) {
		c.Units = units
	}
}

// WithDataset selects the dataset for providers that serve several.
func WithDataset(dataset string) Option {
	return func(c *Config) {
		c.Dataset = dataset
	}
}

// WithElevationColumn sets the name of the column appended to points.
func WithElevationColumn(name string) Option {
	return func(c *Config) {
		c.ElevationColumn = name
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithTransport(transport Transport) Option {
	return func(c *Config) {
		c.Transport = transport
	}
}

func WithProjector(projector Projector) Option {
	return func(c *Config) {
		c.Projector = projector
	}
}

// WithGetenv sets the function used to read credentials from the
// environment.
func WithGetenv(getenv func(string) string) Option {
	return func(c *Config) {
		c.Getenv = getenv
	}
}

// resolveAPIKey returns the API key for a provider that reads it from
// envVar.
func (c *Config) resolveAPIKey(envVar string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if envVar == "" || c.Getenv == nil {
		return ""
	}
	return c.Getenv(envVar)
}

// transport returns c's transport, creating a default one if needed.
func (c *Config) transport() Transport {
	if c.Transport == nil {
		c.Transport = NewHTTPTransport(WithTransportLogger(c.Logger))
	}
	return c.Transport
}

// projector returns c's projector, creating a default one if needed.
func (c *Config) projector() (Projector, error) {
	if c.Projector == nil {
		projector, err := NewProjProjector()
		if err != nil {
			return nil, err
		}
		c.Projector = projector
	}
	return c.Projector, nil
}
