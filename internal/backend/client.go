// Package backend is the typed client for the commerce backend's REST API.
// Every response is decoded and checked against its contract before use.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultTimeout      = 10 * time.Second
	maxResponseBytes    = 4 << 20
	maxErrorBodyBytes   = 1 << 10
	idempotencyHeader   = "Idempotency-Key"
	defaultBreakerTrips = 5
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("backend: unavailable")

// Error reports a transport failure or a non-2xx response.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("backend: %s: status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError reports a response that does not match its contract.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backend: %s: invalid response: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Status == http.StatusNotFound
}

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// CallObserver receives one notification per backend call.
type CallObserver interface {
	ObserveBackendCall(op string, started time.Time, err error)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBreaker configures the circuit breaker: it opens after consecutive
// failures and probes again after openTimeout.
func WithBreaker(consecutiveFailures int, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breakerTrips = consecutiveFailures
		c.breakerOpen = openTimeout
	}
}

// WithObserver records call latency and outcome.
func WithObserver(o CallObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the commerce backend.
type Client struct {
	base         *url.URL
	http         HTTPClient
	timeout      time.Duration
	breakerTrips int
	breakerOpen  time.Duration
	breaker      *gobreaker.CircuitBreaker[*rawResponse]
	validate     *validator.Validate
	observer     CallObserver
	logger       *zap.Logger
}

// NewClient builds a client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("backend: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("backend: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend: base URL %q must be absolute", baseURL)
	}

	c := &Client{
		base:         parsed,
		timeout:      defaultTimeout,
		breakerTrips: defaultBreakerTrips,
		breakerOpen:  30 * time.Second,
		validate:     newValidator(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	trips := uint32(c.breakerTrips)
	if c.breakerTrips <= 0 {
		trips = defaultBreakerTrips
	}
	c.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:    "backend",
		Timeout: c.breakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("backend circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

type rawResponse struct {
	status int
	body   []byte
}

type request struct {
	op       string
	method   string
	endpoint string
	params   url.Values
	body     any
	headers  map[string]string
}

// call sends req through the breaker and returns the body of a 2xx response.
// 5xx responses and transport errors count against the breaker; 4xx do not.
func (c *Client) call(ctx context.Context, req request) ([]byte, error) {
	started := time.Now()
	body, err := c.send(ctx, req)
	if c.observer != nil {
		c.observer.ObserveBackendCall(req.op, started, err)
	}
	if err != nil {
		requestctx.Logger(ctx).Debug("backend call failed",
			zap.String("op", req.op),
			zap.Duration("latency", time.Since(started)),
			zap.Error(err),
		)
	}
	return body, err
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, &Error{Op: req.op, Err: err}
	}

	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		raw := &rawResponse{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return raw, fmt.Errorf("status %d", resp.StatusCode)
		}
		return raw, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &Error{Op: req.op, Status: http.StatusServiceUnavailable, Message: "circuit open", Err: ErrUnavailable}
	case resp != nil && resp.status >= http.StatusBadRequest:
		return nil, errorFromResponse(req.op, resp)
	case err != nil:
		return nil, &Error{Op: req.op, Err: err}
	}
	if resp.status < http.StatusOK || resp.status >= http.StatusMultipleChoices {
		return nil, errorFromResponse(req.op, resp)
	}
	return resp.body, nil
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	var body io.Reader
	if req.body != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(req.body); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = &buf
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.resolve(req.endpoint, req.params), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

// resolve joins endpoint onto the base URL. Empty parameter values are dropped.
func (c *Client) resolve(endpoint string, params url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	u := c.base.ResolveReference(ref)
	if len(params) > 0 {
		query := url.Values{}
		for key, values := range params {
			for _, v := range values {
				if v != "" {
					query.Add(key, v)
				}
			}
		}
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func errorFromResponse(op string, resp *rawResponse) error {
	body := resp.body
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	message := ""
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err == nil {
			message = payload.Message
			if message == "" {
				message = payload.Error
			}
		}
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
	}
	if message == "" {
		message = http.StatusText(resp.status)
	}
	return &Error{Op: op, Status: resp.status, Message: message}
}

// decode unmarshals data into out and validates the result. Slices are
// validated element by element.
func (c *Client) decode(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &ValidationError{Op: op, Err: err}
	}
	if err := c.check(out); err != nil {
		return &ValidationError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) check(out any) error {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		return c.validate.Struct(v.Interface())
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := c.check(v.Index(i).Addr().Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}
	return nil
}

func getJSON[T any](ctx context.Context, c *Client, op, endpoint string, params url.Values) (T, error) {
	var out T
	data, err := c.call(ctx, request{op: op, method: http.MethodGet, endpoint: endpoint, params: params})
	if err != nil {
		return out, err
	}
	err = c.decode(op, data, &out)
	return out, err
}

func postJSON[T any](ctx context.Context, c *Client, req request) (T, error) {
	var out T
	req.method = http.MethodPost
	data, err := c.call(ctx, req)
	if err != nil {
		return out, err
	}
	err = c.decode(req.op, data, &out)
	return out, err
}
