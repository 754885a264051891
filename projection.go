package dem

import (
	"fmt"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/twpayne/go-proj/v10"
)

// A Projector transforms coordinates between CRSs. Coordinates are in
// traditional GIS order, i.e. longitude before latitude, easting before
// northing. Transform must leave coords unchanged when srcCRS and dstCRS are
// the same.
type Projector interface {
	Transform(srcCRS, dstCRS string, coords [][]float64) error
}

// A WebMercatorProjector is a Projector that only transforms between
// GeographicCRS and TileCRS. It does not require PROJ.
type WebMercatorProjector struct{}

// Transform implements Projector.Transform.
func (WebMercatorProjector) Transform(srcCRS, dstCRS string, coords [][]float64) error {
	if sameCRS(srcCRS, dstCRS) {
		return nil
	}
	if !transformWebMercator(srcCRS, dstCRS, coords) {
		return &ConfigurationError{
			Reason: fmt.Sprintf("cannot transform from %s to %s without PROJ", srcCRS, dstCRS),
		}
	}
	return nil
}

type crsPair struct {
	src string
	dst string
}

// A ProjProjector is a Projector that uses PROJ. Compiled transformations
// are kept in an LRU cache.
type ProjProjector struct {
	cacheSize int
	pjCache   *lru.Cache[crsPair, *proj.PJ]
}

// A ProjProjectorOption sets an option on a ProjProjector.
type ProjProjectorOption func(*ProjProjector)

// NewProjProjector returns a new ProjProjector with the given options.
func NewProjProjector(options ...ProjProjectorOption) (*ProjProjector, error) {
	p := &ProjProjector{
		cacheSize: 16,
	}
	for _, option := range options {
		option(p)
	}
	var err error
	p.pjCache, err = lru.New[crsPair, *proj.PJ](p.cacheSize)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func WithTransformCacheSize(cacheSize int) ProjProjectorOption {
	return func(p *ProjProjector) {
		p.cacheSize = cacheSize
	}
}

// Transform implements Projector.Transform.
func (p *ProjProjector) Transform(srcCRS, dstCRS string, coords [][]float64) error {
	if sameCRS(srcCRS, dstCRS) {
		return nil
	}
	if transformWebMercator(srcCRS, dstCRS, coords) {
		return nil
	}
	pj, err := p.getPJCached(srcCRS, dstCRS)
	if err != nil {
		return err
	}
	return pj.ForwardFloat64Slices(coords)
}

// getPJCached returns the transformation from srcCRS to dstCRS, using the
// cache if possible.
func (p *ProjProjector) getPJCached(srcCRS, dstCRS string) (*proj.PJ, error) {
	key := crsPair{
		src: strings.ToUpper(strings.TrimSpace(srcCRS)),
		dst: strings.ToUpper(strings.TrimSpace(dstCRS)),
	}
	if pj, ok := p.pjCache.Get(key); ok {
		transformCacheHits.Inc()
		return pj, nil
	}
	transformCacheMisses.Inc()

	pj, err := proj.NewCRSToCRS(key.src, key.dst, nil)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("%s to %s: %v", srcCRS, dstCRS, err)}
	}
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("%s to %s: %v", srcCRS, dstCRS, err)}
	}
	p.pjCache.Add(key, normalizedPJ)
	return normalizedPJ, nil
}

// transformWebMercator transforms coords in place if the transformation is
// between GeographicCRS and TileCRS, and returns whether it did.
func transformWebMercator(srcCRS, dstCRS string, coords [][]float64) bool {
	var projection orb.Projection
	switch {
	case sameCRS(srcCRS, GeographicCRS) && sameCRS(dstCRS, TileCRS):
		projection = func(p orb.Point) orb.Point {
			p[1] = max(-maxMercatorLat, min(p[1], maxMercatorLat))
			return project.WGS84.ToMercator(p)
		}
	case sameCRS(srcCRS, TileCRS) && sameCRS(dstCRS, GeographicCRS):
		projection = project.Mercator.ToWGS84
	default:
		return false
	}
	for _, coord := range coords {
		if math.IsNaN(coord[0]) || math.IsNaN(coord[1]) {
			continue
		}
		point := projection(orb.Point{coord[0], coord[1]})
		coord[0], coord[1] = point[0], point[1]
	}
	return true
}
