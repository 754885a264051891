package dem_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-dem"
)

func TestHTTPTransport(t *testing.T) {
	var flaky atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/rate-limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/bad-request":
			w.WriteHeader(http.StatusBadRequest)
		case "/flaky":
			if flaky.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte("recovered"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	transport := dem.NewHTTPTransport(
		dem.WithRetryMax(1),
		dem.WithRetryWait(0, 0),
		dem.WithUserAgent("go-dem-test"),
	)

	for _, tc := range []struct {
		name               string
		path               string
		expected           string
		expectedErr        error
		expectedStatusCode int
	}{
		{
			name:     "ok",
			path:     "/ok",
			expected: "go-dem-test",
		},
		{
			name:               "not_found",
			path:               "/missing",
			expectedErr:        dem.ErrNotFound,
			expectedStatusCode: http.StatusNotFound,
		},
		{
			name:               "forbidden",
			path:               "/forbidden",
			expectedErr:        dem.ErrNotFound,
			expectedStatusCode: http.StatusForbidden,
		},
		{
			name:               "rate_limited",
			path:               "/rate-limited",
			expectedErr:        dem.ErrRateLimited,
			expectedStatusCode: http.StatusTooManyRequests,
		},
		{
			name:               "bad_request",
			path:               "/bad-request",
			expectedErr:        dem.ErrTransport,
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:     "flaky",
			path:     "/flaky",
			expected: "recovered",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data, err := transport.Fetch(t.Context(), &dem.Request{URL: server.URL + tc.path})
			if tc.expectedErr != nil {
				assert.IsError(t, err, tc.expectedErr)
				assert.IsError(t, err, dem.ErrTransport)
				var transportErr *dem.TransportError
				assert.True(t, errors.As(err, &transportErr))
				assert.Equal(t, tc.expectedStatusCode, transportErr.StatusCode)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, string(data))
		})
	}
}

func TestHTTPTransportRedactsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	transport := dem.NewHTTPTransport(dem.WithRetryMax(0))
	_, err := transport.Fetch(t.Context(), &dem.Request{URL: server.URL + "/tile.png?access_token=secret&style=x"})
	assert.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "secret"))
	assert.True(t, strings.Contains(err.Error(), "REDACTED"))
}

func TestHTTPTransportCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := dem.NewHTTPTransport().Fetch(ctx, &dem.Request{URL: server.URL})
	assert.IsError(t, err, context.Canceled)
}

func TestHTTPTransportRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(r.Header.Get("Accept")))
	}))
	defer server.Close()

	transport := dem.NewHTTPTransport(dem.WithRetryMax(0))
	data, err := transport.Fetch(t.Context(), &dem.Request{
		URL:    server.URL + "/fast",
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	assert.NoError(t, err)
	assert.Equal(t, "application/json", string(data))

	start := time.Now()
	_, err = transport.Fetch(t.Context(), &dem.Request{
		URL:     server.URL + "/slow",
		Timeout: 50 * time.Millisecond,
	})
	assert.IsError(t, err, context.DeadlineExceeded)
	assert.IsError(t, err, dem.ErrTransport)
	assert.True(t, time.Since(start) < 5*time.Second)
}

func TestProviderRequests(t *testing.T) {
	transport := &recordingTransport{
		data: map[string][]byte{
			"terrarium": terrariumPNG(t, 256, 100),
			"epqs":      []byte(`{"value":100}`),
			"opentopo":  []byte(`{"status":"OK","results":[{"elevation":100}]}`),
		},
	}

	_, err := dem.NewAWSTerrariumProvider(transport, dem.WithRequestTimeout(time.Second)).FetchTile(t.Context(), dem.TileCoord{Z: 1})
	assert.NoError(t, err)
	_, err = dem.NewEPQSProvider(transport).Elevations(t.Context(), [][]float64{{6.7, 45.5}})
	assert.NoError(t, err)
	_, err = dem.NewOpenTopoDataProvider(transport, dem.WithOpenTopoDataBaseURL("https://opentopo.example.com/v1/")).Elevations(t.Context(), [][]float64{{6.7, 45.5}})
	assert.NoError(t, err)

	assert.Equal(t, 3, len(transport.requests))
	assert.Equal(t, time.Second, transport.requests[0].Timeout)
	for _, req := range transport.requests[1:] {
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		assert.True(t, req.Timeout > 0)
	}
}

// A recordingTransport records requests and returns the data of the first
// key in data that the request URL contains.
type recordingTransport struct {
	data     map[string][]byte
	mu       sync.Mutex
	requests []*dem.Request
}

func (t *recordingTransport) Fetch(ctx context.Context, req *dem.Request) ([]byte, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	for key, data := range t.data {
		if strings.Contains(req.URL, key) {
			return data, nil
		}
	}
	return nil, &dem.TransportError{URL: req.URL, Err: dem.ErrNotFound}
}

func TestFSTransport(t *testing.T) {
	transport := dem.NewFSTransport(fstest.MapFS{
		"terrarium/1/0/1.png": &fstest.MapFile{Data: []byte("tile")},
	})

	data, err := transport.Fetch(t.Context(), &dem.Request{URL: "https://example.com/terrarium/1/0/1.png"})
	assert.NoError(t, err)
	assert.Equal(t, "tile", string(data))

	_, err = transport.Fetch(t.Context(), &dem.Request{URL: "https://example.com/terrarium/1/1/1.png"})
	assert.IsError(t, err, dem.ErrNotFound)
	assert.IsError(t, err, dem.ErrTransport)
}
