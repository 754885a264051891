package dem

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

// A GeoKey is a GeoTIFF GeoKey identifier.
type GeoKey uint16

// GeoKeys.
const (
	GeoKeyGTModelType   GeoKey = 1024
	GeoKeyGTRasterType  GeoKey = 1025
	GeoKeyGTCitation    GeoKey = 1026
	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeogCitation  GeoKey = 2049
	GeoKeyGeodeticDatum GeoKey = 2050
	GeoKeyPrimeMeridian GeoKey = 2051
	GeoKeyAngularUnits  GeoKey = 2054
	GeoKeyEllipsoid     GeoKey = 2056
	GeoKeyProjectedCRS  GeoKey = 3072
	GeoKeyPCSCitation   GeoKey = 3073
	GeoKeyProjection    GeoKey = 3074
	GeoKeyProjMethod    GeoKey = 3075
	GeoKeyLinearUnits   GeoKey = 3076
	GeoKeyVertical      GeoKey = 4096
)

// Values of GeoKeyGTModelType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
)

// userDefined is the GeoKey value for a user-defined CRS.
const userDefined = 32767

// GeoTIFF tag locations of GeoKey values.
const (
	geoKeyLocationInline       = 0
	geoKeyLocationDoubleParams = 34736
	geoKeyLocationASCIIParams  = 34737
)

// GeoKeys are the GeoKeys of a GeoTIFF.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated
// GeoDoubleParamsTag and GeoASCIIParamsTag.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, fmt.Errorf("%w: short GeoKey directory", errParse)
	}
	if version, revision, minorRevision := directory[0], directory[1], directory[2]; version != 1 || revision != 1 || minorRevision > 1 {
		return nil, fmt.Errorf("%w: GeoKey directory version %d.%d.%d", errParse, version, revision, minorRevision)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%w: GeoKey directory has %d entries, expected %d", errParse, len(directory), 4+4*numberOfKeys)
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		entry := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(entry[0])
		location, count, valueOrIndex := int(entry[1]), int(entry[2]), int(entry[3])
		switch location {
		case geoKeyLocationInline:
			if count != 1 {
				return nil, fmt.Errorf("%w: GeoKey %d: inline count %d", errParse, key, count)
			}
			geoKeys.Params[key] = valueOrIndex
		case geoKeyLocationDoubleParams:
			if count != 1 {
				return nil, fmt.Errorf("GeoKey %d: %w", key, errors.ErrUnsupported)
			}
			if valueOrIndex >= len(doubleParams) {
				return nil, fmt.Errorf("%w: GeoKey %d: double index %d out of range", errParse, key, valueOrIndex)
			}
			geoKeys.DoubleParams[key] = doubleParams[valueOrIndex]
		case geoKeyLocationASCIIParams:
			if valueOrIndex+count > len(asciiParams) {
				return nil, fmt.Errorf("%w: GeoKey %d: ASCII range out of range", errParse, key)
			}
			geoKeys.ASCIIParams[key] = string(asciiParams[valueOrIndex : valueOrIndex+count])
		default:
			return nil, fmt.Errorf("GeoKey %d: location %d: %w", key, location, errors.ErrUnsupported)
		}
	}
	return geoKeys, nil
}

// EPSG returns the EPSG code of the CRS described by k, if it is not user
// defined.
func (k *GeoKeys) EPSG() (int, bool) {
	var key GeoKey
	switch k.Params[GeoKeyGTModelType] {
	case ModelTypeProjected:
		key = GeoKeyProjectedCRS
	case ModelTypeGeographic:
		key = GeoKeyGeodeticCRS
	default:
		return 0, false
	}
	code, ok := k.Params[key]
	if !ok || code == userDefined {
		return 0, false
	}
	return code, true
}
