package dem

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Transport when the requested resource
	// does not exist, for example a tile outside a provider's coverage.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is returned by a Transport when the provider rejected
	// the request because of its rate limit.
	ErrRateLimited = errors.New("rate limited")

	// The following match the corresponding error types with errors.Is.
	ErrConfiguration   = errors.New("configuration error")
	ErrUnsupportedZoom = errors.New("unsupported zoom")
	ErrEmptyMosaic     = errors.New("empty mosaic")
	ErrResolution      = errors.New("resolution error")
	ErrTransport       = errors.New("transport error")
)

// A ConfigurationError is returned when a request cannot be satisfied because
// of its configuration, for example a missing CRS or an unknown provider.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// An UnsupportedZoomError is returned when a zoom level is outside a
// provider's range.
type UnsupportedZoomError struct {
	Zoom    int
	MaxZoom int
}

func (e *UnsupportedZoomError) Error() string {
	return fmt.Sprintf("unsupported zoom %d: must be between 0 and %d", e.Zoom, e.MaxZoom)
}

func (e *UnsupportedZoomError) Is(target error) bool {
	return target == ErrUnsupportedZoom
}

// A TransportError is a failed retrieval of a single tile or batch of points.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// An EmptyMosaicError is returned when none of the tiles needed for a mosaic
// could be retrieved.
type EmptyMosaicError struct {
	Failures []TileFailure
}

func (e *EmptyMosaicError) Error() string {
	return fmt.Sprintf("empty mosaic: all %d tiles failed", len(e.Failures))
}

func (e *EmptyMosaicError) Is(target error) bool {
	return target == ErrEmptyMosaic
}

// A ResolutionError records the failure to resolve the elevation of a single
// point.
type ResolutionError struct {
	Index int
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("point %d: %v", e.Index, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

// A BatchError is returned by a PointProvider when some, but not all, points
// in a batch failed. Errs has one entry per point, nil for points that
// succeeded.
type BatchError struct {
	Errs []error
}

func (e *BatchError) Error() string {
	n := 0
	for _, err := range e.Errs {
		if err != nil {
			n++
		}
	}
	return fmt.Sprintf("%d of %d points failed", n, len(e.Errs))
}
