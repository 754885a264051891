package dem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/twpayne/go-dem/internal/logger"
)

// defaultRequestTimeout is the timeout of a single request to a provider,
// including retries.
const defaultRequestTimeout = 30 * time.Second

// A Request is a request for a single resource from a provider.
type Request struct {
	URL     string
	Header  http.Header
	Timeout time.Duration
}

// A Transport retrieves raw payloads. Implementations return ErrNotFound for
// missing resources, ErrRateLimited when the provider rejects the request
// because of its rate limit, and a *TransportError for other failures.
type Transport interface {
	Fetch(ctx context.Context, req *Request) ([]byte, error)
}

// An HTTPTransport is a Transport that retrieves resources over HTTP,
// retrying transient failures.
type HTTPTransport struct {
	client    *retryablehttp.Client
	userAgent string
}

// An HTTPTransportOption sets an option on an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport returns a new HTTPTransport with the given options.
func NewHTTPTransport(options ...HTTPTransportOption) *HTTPTransport {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	t := &HTTPTransport{
		client:    client,
		userAgent: "go-dem",
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.HTTPClient = httpClient
	}
}

func WithRetryMax(retryMax int) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.RetryMax = retryMax
	}
}

func WithRetryWait(retryWaitMin, retryWaitMax time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.RetryWaitMin = retryWaitMin
		t.client.RetryWaitMax = retryWaitMax
	}
}

func WithUserAgent(userAgent string) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.userAgent = userAgent
	}
}

// WithTransportLogger logs retries to zl.
func WithTransportLogger(zl zerolog.Logger) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client.Logger = logger.NewRetryableLogger(zl)
	}
}

// Fetch implements Transport.Fetch.
func (t *HTTPTransport) Fetch(ctx context.Context, req *Request) ([]byte, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	redactedURL := redactURL(req.URL)
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &TransportError{URL: redactedURL, Err: err}
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if t.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &TransportError{URL: redactedURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	// S3 returns 403 Forbidden for missing keys in buckets that cannot be
	// listed.
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, &TransportError{URL: redactedURL, StatusCode: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{URL: redactedURL, StatusCode: resp.StatusCode, Err: ErrRateLimited}
	case resp.StatusCode < 200 || 300 <= resp.StatusCode:
		return nil, &TransportError{URL: redactedURL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: redactedURL, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

// An FSTransport is a Transport that reads resources from a mirror of a
// provider's URL paths in a filesystem.
type FSTransport struct {
	fsys fs.FS
}

// NewFSTransport returns a new FSTransport reading from fsys.
func NewFSTransport(fsys fs.FS) *FSTransport {
	return &FSTransport{
		fsys: fsys,
	}
}

// Fetch implements Transport.Fetch.
func (t *FSTransport) Fetch(ctx context.Context, req *Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	name := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	switch data, err := fs.ReadFile(t.fsys, name); {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &TransportError{URL: name, Err: ErrNotFound}
	case err != nil:
		return nil, &TransportError{URL: name, Err: err}
	default:
		return data, nil
	}
}

// acceptJSON returns the headers of a request for a JSON response.
func acceptJSON() http.Header {
	return http.Header{
		"Accept": []string{"application/json"},
	}
}

var secretQueryParams = []string{"access_token", "api_key", "API_Key", "key"}

// redactURL returns rawURL with credentials removed.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.Query()
	redacted := false
	for _, param := range secretQueryParams {
		if query.Has(param) {
			query.Set(param, "REDACTED")
			redacted = true
		}
	}
	if !redacted {
		return rawURL
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// fetchOrDescribe wraps errors from transports that do not return a
// *TransportError.
func fetchOrDescribe(ctx context.Context, transport Transport, req *Request) ([]byte, error) {
	data, err := transport.Fetch(ctx, req)
	if err == nil {
		return data, nil
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return nil, err
	}
	return nil, &TransportError{URL: redactURL(req.URL), Err: fmt.Errorf("fetch: %w", err)}
}
