// Package api is the HTTP client for the CloudStore REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudstore/cloudstore-go/pkg/logger"
	"github.com/cloudstore/cloudstore-go/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffCap  = 5 * time.Second

	// Version is reported in the User-Agent header.
	Version = "2.0.0"

	HeaderRequestID = "X-Request-Id"
	HeaderRegion    = "X-CloudStore-Region"
)

// Response is the envelope returned by every verb. Data holds the decoded
// JSON body and is nil when the body is empty.
type Response struct {
	StatusCode int
	Data       any
	Headers    http.Header
	RequestID  string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	region      string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	limiter     *rate.Limiter
}

type Option func(*Client)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the exponential backoff base and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithRateLimit throttles outgoing attempts with a token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(baseURL, apiKey, region string, opts ...Option) (*Client, error) {
	switch {
	case baseURL == "":
		return nil, fmt.Errorf("%w: base URL required", ErrConfig)
	case apiKey == "":
		return nil, fmt.Errorf("%w: API key required", ErrConfig)
	case region == "":
		return nil, fmt.Errorf("%w: region required", ErrConfig)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base URL: %v", ErrConfig, err)
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		region:      region,
		httpClient:  &http.Client{},
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
	}
	for _, o := range opts {
		o(c)
	}
	switch {
	case c.timeout <= 0:
		return nil, fmt.Errorf("%w: timeout must be positive", ErrConfig)
	case c.maxRetries < 0:
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrConfig)
	case c.backoffBase <= 0 || c.backoffCap < c.backoffBase:
		return nil, fmt.Errorf("%w: backoff base must be positive and not above cap", ErrConfig)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) Region() string  { return c.region }

func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	if len(params) > 0 {
		u, err := url.Parse(path)
		if err != nil {
			return nil, &Error{Kind: ErrConfig, Op: http.MethodGet + " " + path, Err: err}
		}
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		path = u.String()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPut, path, body)
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPatch, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Data = nil
	}
	return resp, nil
}

// UploadFile sends localPath as the "file" part of a multipart form.
// contentType defaults to application/octet-stream.
func (c *Client) UploadFile(ctx context.Context, path, localPath, contentType string) (*Response, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", localPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filepath.Base(localPath))))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("upload %s: %w", localPath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, &payload{body: buf.Bytes(), contentType: mw.FormDataContentType()})
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

type payload struct {
	body        []byte
	contentType string
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	var p *payload
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		p = &payload{body: b, contentType: "application/json"}
	}
	return c.do(ctx, method, path, p)
}

func (c *Client) backoff(hint *time.Duration) retry.Backoff {
	b := retry.NewExponential(c.backoffBase)
	b = retry.WithCappedDuration(c.backoffCap, b)
	b = retry.WithMaxRetries(uint64(c.maxRetries), b)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > 0 {
			d, *hint = *hint, 0
		}
		return d, false
	})
}

func (c *Client) do(ctx context.Context, method, path string, p *payload) (*Response, error) {
	op := method + " " + path
	requestID := uuid.NewString()

	var (
		resp      *Response
		last      *Error
		attempts  int
		retryHint time.Duration
	)
	err := retry.Do(ctx, c.backoff(&retryHint), func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			metrics.ClientRetries.WithLabelValues(method).Inc()
			logger.Debugf("api: retrying %s (attempt %d): %v", op, attempts, last)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &Error{Kind: ErrRateLimited, Op: op, Err: err}
			}
		}
		r, e := c.attempt(ctx, method, path, op, requestID, p)
		metrics.ClientRequests.WithLabelValues(method, outcome(kindOf(e))).Inc()
		if e == nil {
			resp = r
			return nil
		}
		last = e.Error
		if ctx.Err() != nil || !last.retryable() {
			return last
		}
		retryHint = e.retryAfter
		return retry.RetryableError(last)
	})
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, &Error{Kind: ErrTimeout, Op: op, Err: ctx.Err()}
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case last != nil && err == error(last) && last.retryable():
		logger.Warnf("api: %s failed after %d attempts: %v", op, attempts, last)
		return nil, &Error{Kind: ErrRetriesExhausted, Op: op, StatusCode: last.StatusCode, Err: last}
	}
	return nil, err
}

func kindOf(e *attemptError) error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// attemptError is an *Error plus the server's Retry-After hint.
type attemptError struct {
	*Error
	retryAfter time.Duration
}

func (c *Client) attempt(ctx context.Context, method, path, op, requestID string, p *payload) (*Response, *attemptError) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if p != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, &attemptError{Error: &Error{Kind: ErrConfig, Op: op, Err: err}}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(HeaderRegion, c.region)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cloudstore-go/"+Version)
	if p != nil {
		req.Header.Set("Content-Type", p.contentType)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &attemptError{Error: &Error{Kind: transportKind(ctx, err), Op: op, Err: err}}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &attemptError{Error: &Error{Kind: transportKind(ctx, err), Op: op, StatusCode: res.StatusCode, Err: err}}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		e := &Error{Kind: ErrStatus, Op: op, StatusCode: res.StatusCode, Body: string(raw)}
		if res.StatusCode == http.StatusTooManyRequests {
			e.Kind = ErrRateLimited
		}
		return nil, &attemptError{Error: e, retryAfter: parseRetryAfter(res.Header.Get("Retry-After"))}
	}

	out := &Response{StatusCode: res.StatusCode, Headers: res.Header, RequestID: res.Header.Get(HeaderRequestID)}
	if out.RequestID == "" {
		out.RequestID = requestID
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.Data); err != nil {
			out.Data = string(raw)
		}
	}
	return out, nil
}

// transportKind separates per-attempt timeouts from other transport failures.
func transportKind(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
