// Package server serves elevations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/twpayne/go-dem"
	"github.com/twpayne/go-dem/internal/logger"
)

const requestIDHeader = "X-Request-Id"

// maxPointsBodySize is the maximum size of a points request body.
const maxPointsBodySize = 16 << 20

// A Server handles elevation requests.
type Server struct {
	logger  zerolog.Logger
	options []dem.Option
}

// New returns a new Server. options are applied to every request before the
// request's own parameters.
func New(zl zerolog.Logger, options ...dem.Option) *Server {
	return &Server{
		logger:  zl,
		options: options,
	}
}

// Handler returns s's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogging)

	r.Get("/healthz", liveness)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/points", s.handlePoints)
	r.Get("/v1/raster", s.handleRaster)
	return r
}

// Run serves handler on addr until ctx is done.
func Run(ctx context.Context, addr string, handler http.Handler, zl zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info().Str("addr", addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequestID(r.Context(), r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, logger.RequestID(ctx))
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.Debug().
			Str("request_id", logger.RequestID(ctx)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type attributeJSON struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type pointJSON struct {
	X          float64         `json:"x"`
	Y          float64         `json:"y"`
	Attributes []attributeJSON `json:"attributes,omitempty"`
}

type pointsRequest struct {
	CRS             string      `json:"crs"`
	Provider        string      `json:"provider"`
	Zoom            *int        `json:"zoom"`
	Units           string      `json:"units"`
	Resampling      string      `json:"resampling"`
	Dataset         string      `json:"dataset"`
	ElevationColumn string      `json:"elevation_column"`
	Points          []pointJSON `json:"points"`
}

type elevatedPointJSON struct {
	Index      int             `json:"index"`
	X          float64         `json:"x"`
	Y          float64         `json:"y"`
	Elevation  *float64        `json:"elevation"`
	Error      string          `json:"error,omitempty"`
	Attributes []attributeJSON `json:"attributes"`
}

type pointsResponse struct {
	Points []elevatedPointJSON `json:"points"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	var request pointsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPointsBodySize)).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	options := s.requestOptions()
	if request.Provider != "" {
		options = append(options, dem.WithProvider(request.Provider))
	}
	if request.Dataset != "" {
		options = append(options, dem.WithDataset(request.Dataset))
	}
	if request.Zoom != nil {
		options = append(options, dem.WithZoom(*request.Zoom))
	}
	if request.Units != "" {
		units, err := dem.ParseUnits(request.Units)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		options = append(options, dem.WithUnits(units))
	}
	if request.Resampling != "" {
		resampling, err := dem.ParseResampling(request.Resampling)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		options = append(options, dem.WithResampling(resampling))
	}
	if request.ElevationColumn != "" {
		options = append(options, dem.WithElevationColumn(request.ElevationColumn))
	}

	points := &dem.PointSet{
		CRS:     request.CRS,
		Records: make([]dem.PointRecord, len(request.Points)),
	}
	for i, point := range request.Points {
		attributes := make([]dem.Attribute, len(point.Attributes))
		for j, attribute := range point.Attributes {
			attributes[j] = dem.Attribute{Name: attribute.Name, Value: attribute.Value}
		}
		points.Records[i] = dem.PointRecord{X: point.X, Y: point.Y, Attributes: attributes}
	}

	elevatedPoints, err := dem.GetPoints(r.Context(), points, options...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := pointsResponse{
		Points: make([]elevatedPointJSON, len(elevatedPoints)),
	}
	for i, elevatedPoint := range elevatedPoints {
		columns := elevatedPoint.Columns()
		attributes := make([]attributeJSON, len(columns))
		for j, column := range columns {
			attributes[j] = attributeJSON{Name: column.Name, Value: jsonValue(column.Value)}
		}
		response.Points[i] = elevatedPointJSON{
			Index:      elevatedPoint.Index,
			X:          elevatedPoint.X,
			Y:          elevatedPoint.Y,
			Attributes: attributes,
		}
		if !math.IsNaN(elevatedPoint.Elevation) {
			elevation := elevatedPoint.Elevation
			response.Points[i].Elevation = &elevation
		}
		if elevatedPoint.Err != nil {
			response.Points[i].Error = elevatedPoint.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRaster(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	bound, err := parseBBox(query.Get("bbox"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	options := s.requestOptions()
	if crs := query.Get("crs"); crs != "" {
		options = append(options, dem.WithSourceCRS(crs))
	}
	if provider := query.Get("provider"); provider != "" {
		options = append(options, dem.WithProvider(provider))
	}
	if targetCRS := query.Get("target_crs"); targetCRS != "" {
		options = append(options, dem.WithTargetCRS(targetCRS))
	}
	if z := query.Get("z"); z != "" {
		zoom, err := strconv.Atoi(z)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "z: " + err.Error()})
			return
		}
		options = append(options, dem.WithZoom(zoom))
	}
	if expandStr := query.Get("expand"); expandStr != "" {
		expand, err := strconv.ParseFloat(expandStr, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expand: " + err.Error()})
			return
		}
		options = append(options, dem.WithExpand(expand))
	}
	if resamplingStr := query.Get("resampling"); resamplingStr != "" {
		resampling, err := dem.ParseResampling(resamplingStr)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		options = append(options, dem.WithResampling(resampling))
	}

	mosaic, err := dem.GetRaster(r.Context(), bound, options...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Dem-Crs", mosaic.CRS())
	w.Header().Set("X-Dem-Missing-Tiles", strconv.Itoa(len(mosaic.Missing)))
	w.WriteHeader(http.StatusOK)
	if err := dem.WriteASCIIGrid(w, mosaic); err != nil {
		s.logger.Warn().Err(err).Msg("write raster")
	}
}

// requestOptions returns the options common to all requests.
func (s *Server) requestOptions() []dem.Option {
	options := make([]dem.Option, 0, len(s.options)+8)
	options = append(options, dem.WithLogger(s.logger))
	return append(options, s.options...)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusCode(err)
	event := s.logger.Warn()
	if statusCode >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("request_id", logger.RequestID(r.Context())).
		Int("status", statusCode).
		Msg("request failed")
	writeJSON(w, statusCode, errorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, dem.ErrConfiguration), errors.Is(err, dem.ErrUnsupportedZoom):
		return http.StatusBadRequest
	case errors.Is(err, dem.ErrEmptyMosaic):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

// jsonValue returns value with non-finite floats replaced by nil.
func jsonValue(value any) any {
	if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return value
}

// parseBBox parses a bounding box of the form minX,minY,maxX,maxY.
func parseBBox(s string) (orb.Bound, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox: expected minX,minY,maxX,maxY, got %q", s)
	}
	var values [4]float64
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox: %w", err)
		}
		values[i] = value
	}
	if values[0] > values[2] || values[1] > values[3] {
		return orb.Bound{}, fmt.Errorf("bbox: minimum exceeds maximum in %q", s)
	}
	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}
