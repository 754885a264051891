package dem

import (
	"sort"
	"strconv"
	"strings"
)

// Provider names.
const (
	ProviderAWS          = "aws"
	ProviderAWSGeoTIFF   = "aws-geotiff"
	ProviderMapbox       = "mapbox"
	ProviderEPQS         = "epqs"
	ProviderOpenTopoData = "opentopodata"
)

// Default providers.
const (
	DefaultRasterProvider = ProviderAWS
	DefaultPointProvider  = ProviderEPQS
)

// A providerInfo describes how to construct a provider.
type providerInfo struct {
	apiKeyEnv        string
	newTileProvider  func(cfg *Config, apiKey string) TileProvider
	newPointProvider func(cfg *Config, apiKey string) (PointProvider, error)
}

var providerInfos = map[string]providerInfo{
	ProviderAWS: {
		newTileProvider: func(cfg *Config, _ string) TileProvider {
			return NewAWSTerrariumProvider(cfg.transport())
		},
		newPointProvider: func(cfg *Config, _ string) (PointProvider, error) {
			return NewTilePointProvider(NewAWSTerrariumProvider(cfg.transport()), cfg)
		},
	},
	ProviderAWSGeoTIFF: {
		newTileProvider: func(cfg *Config, _ string) TileProvider {
			return NewAWSGeoTIFFProvider(cfg.transport())
		},
		newPointProvider: func(cfg *Config, _ string) (PointProvider, error) {
			return NewTilePointProvider(NewAWSGeoTIFFProvider(cfg.transport()), cfg)
		},
	},
	ProviderMapbox: {
		apiKeyEnv: "MAPBOX_API_KEY",
		newTileProvider: func(cfg *Config, apiKey string) TileProvider {
			return NewMapboxTerrainRGBProvider(cfg.transport(), apiKey)
		},
		newPointProvider: func(cfg *Config, apiKey string) (PointProvider, error) {
			return NewTilePointProvider(NewMapboxTerrainRGBProvider(cfg.transport(), apiKey), cfg)
		},
	},
	ProviderEPQS: {
		newPointProvider: func(cfg *Config, _ string) (PointProvider, error) {
			return NewEPQSProvider(cfg.transport(), WithEPQSUnits(cfg.Units)), nil
		},
	},
	ProviderOpenTopoData: {
		newPointProvider: func(cfg *Config, _ string) (PointProvider, error) {
			return NewOpenTopoDataProvider(
				cfg.transport(),
				WithOpenTopoDataDataset(cfg.Dataset),
				WithOpenTopoDataUnits(cfg.Units),
			), nil
		},
	},
}

// TileProviders returns the names of the tile providers.
func TileProviders() []string {
	return providerNames(func(info providerInfo) bool { return info.newTileProvider != nil })
}

// PointProviders returns the names of the point providers.
func PointProviders() []string {
	return providerNames(func(info providerInfo) bool { return info.newPointProvider != nil })
}

func providerNames(f func(providerInfo) bool) []string {
	var names []string
	for name, info := range providerInfos {
		if f(info) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewTileProvider returns the tile provider selected by cfg.
func NewTileProvider(cfg *Config) (TileProvider, error) {
	name := cfg.Provider
	if name == "" {
		name = DefaultRasterProvider
	}
	info, ok := providerInfos[name]
	if !ok || info.newTileProvider == nil {
		return nil, &ConfigurationError{Reason: "unknown tile provider " + name + ", expected one of " + quoteList(TileProviders())}
	}
	apiKey, err := cfg.requireAPIKey(name, info.apiKeyEnv)
	if err != nil {
		return nil, err
	}
	return info.newTileProvider(cfg, apiKey), nil
}

// NewPointProvider returns the point provider selected by cfg.
func NewPointProvider(cfg *Config) (PointProvider, error) {
	name := cfg.Provider
	if name == "" {
		name = DefaultPointProvider
	}
	info, ok := providerInfos[name]
	if !ok || info.newPointProvider == nil {
		return nil, &ConfigurationError{Reason: "unknown point provider " + name + ", expected one of " + quoteList(PointProviders())}
	}
	apiKey, err := cfg.requireAPIKey(name, info.apiKeyEnv)
	if err != nil {
		return nil, err
	}
	return info.newPointProvider(cfg, apiKey)
}

// requireAPIKey returns the API key for the provider called name, if it
// needs one.
func (c *Config) requireAPIKey(name, envVar string) (string, error) {
	if envVar == "" {
		return "", nil
	}
	apiKey := c.resolveAPIKey(envVar)
	if apiKey == "" {
		return "", &ConfigurationError{Reason: name + " requires an API key, set " + envVar + " or pass one explicitly"}
	}
	return apiKey, nil
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = strconv.Quote(name)
	}
	return strings.Join(quoted, ", ")
}
