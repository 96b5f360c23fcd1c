package goAuthClient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/jwt"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errEmptyBody = errors.New("empty response body")

// Request describes one API call. Body and JSON are mutually exclusive; the
// encoded body is kept so the request can be replayed after a refresh.
type Request struct {
	Method string
	// Path is resolved against Config.BaseURL and may carry a query string.
	Path        string
	Query       url.Values
	Body        []byte
	JSON        any
	ContentType string
	Header      http.Header
	// Timeout overrides the per-attempt timeout.
	Timeout time.Duration
	// Upload selects Timeouts.Upload when Timeout is zero.
	Upload bool
	// SkipAuth sends no bearer token and returns a 401 as a *ClientError
	// instead of refreshing. The auth endpoints use it.
	SkipAuth bool
	// Stream receives a success body as it arrives, without the
	// MaxResponseBytes cap. Response.Body stays nil and Response.Streamed
	// holds the byte count. Once a byte was written the request is not
	// retried.
	Stream io.Writer
}

// Response is a fully read HTTP response with a non-error status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
	// Replayed is set when the response came from the retry after a refresh.
	Replayed bool
	// Streamed counts the bytes copied to Request.Stream.
	Streamed int64
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client sends requests on behalf of a Session. It attaches the stored access
// token, renews it through the refresh coordinator and replays a request
// refused with 401 exactly once.
//
// Client is safe for concurrent use.
type Client struct {
	config      Config
	httpClient  *http.Client
	baseURL     string
	tokens      *tokenKeeper
	coordinator *refresh.Coordinator
	logger      *zap.Logger
	metrics     *Metrics
	onExpired   func(ctx context.Context, stale string, cause error)
	now         func() time.Time
}

type preparedRequest struct {
	op         string
	method     string
	url        string
	body       []byte
	header     http.Header
	timeout    time.Duration
	requestID  string
	idempotent bool
	skipAuth   bool
	stream     io.Writer
	// streamed is set once any byte reached stream.
	streamed bool
}

// Do sends req and returns the response for any 1xx-3xx status. Other
// outcomes are returned as ErrAuthExpired, *ClientError, *ServerError,
// *NetworkError or the caller's context error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.do(ctx, p)
	c.metrics.Observe(MetricRequestLatency, time.Since(start))
	c.count(err)

	if err != nil {
		c.logger.Debug("request failed",
			zap.String("request_id", p.requestID),
			zap.String("method", p.method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, p *preparedRequest) (*Response, error) {
	if p.skipAuth {
		resp, err := c.send(ctx, p, "")
		if err != nil {
			return nil, err
		}
		return c.finish(p, resp)
	}

	access, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, p, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.finish(p, resp)
	}

	c.metrics.Inc(MetricUnauthorized)
	c.logger.Debug("access token refused, refreshing",
		zap.String("request_id", p.requestID),
		zap.String("op", p.op),
	)

	fresh, err := c.coordinator.EnsureFresh(ctx, access)
	if err != nil {
		return nil, c.refreshFailed(ctx, access, err)
	}

	c.metrics.Inc(MetricReplay)
	replay, err := c.send(ctx, p, fresh)
	if err != nil {
		return nil, err
	}
	replay.Replayed = true
	if replay.StatusCode == http.StatusUnauthorized {
		c.metrics.Inc(MetricReplayUnauthorized)
		cause := fmt.Errorf("%s refused after refresh", p.op)
		c.expire(ctx, fresh, cause)
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, cause)
	}
	return c.finish(p, replay)
}

// accessToken returns the token to present, renewing it first when it is
// about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	tokens, err := c.tokens.Current(ctx)
	if err != nil {
		c.logger.Warn("token store unavailable, sending unauthenticated", zap.Error(err))
		return "", nil
	}
	if tokens.Access == "" || tokens.Refresh == "" || c.config.Refresh.Skew <= 0 {
		return tokens.Access, nil
	}
	if !jwt.ExpiresWithin(tokens.Access, c.config.Refresh.Skew, c.now()) {
		return tokens.Access, nil
	}

	c.metrics.Inc(MetricProactiveRefresh)
	fresh, err := c.coordinator.EnsureFresh(ctx, tokens.Access)
	if err != nil {
		return "", c.refreshFailed(ctx, tokens.Access, err)
	}
	return fresh, nil
}

// refreshFailed maps a coordinator error to what the caller sees. A caller
// that gave up gets its context error; every other failure ends the session
// and surfaces as ErrAuthExpired wrapping the cause.
func (c *Client) refreshFailed(ctx context.Context, stale string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	c.expire(ctx, stale, err)
	return fmt.Errorf("%w: %w", ErrAuthExpired, err)
}

func (c *Client) expire(ctx context.Context, stale string, cause error) {
	if c.onExpired != nil {
		c.onExpired(ctx, stale, cause)
	}
}

// send performs the request, retrying idempotent methods on network errors.
func (c *Client) send(ctx context.Context, p *preparedRequest, access string) (*Response, error) {
	if !p.idempotent || c.config.Retry.MaxAttempts <= 1 {
		return c.roundTrip(ctx, p, access)
	}

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		if attempt > 1 {
			c.metrics.Inc(MetricNetworkRetry)
		}
		resp, err := c.roundTrip(ctx, p, access)
		if err == nil {
			return resp, nil
		}
		var ne *NetworkError
		if !errors.As(err, &ne) || p.streamed {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.Retry.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = c.config.Retry.MaxDelay

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.Retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying after network error",
				zap.String("request_id", p.requestID),
				zap.String("op", p.op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}

// roundTrip makes one HTTP attempt and reads the whole body, or copies it to
// the request's stream.
func (c *Client) roundTrip(ctx context.Context, p *preparedRequest, access string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(p.body) > 0 {
		body = bytes.NewReader(p.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, p.method, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	httpReq.Header = p.header.Clone()
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{
			Op:      p.op,
			Timeout: errors.Is(err, context.DeadlineExceeded) || isTimeout(err),
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	if p.stream != nil && httpResp.StatusCode < 400 {
		n, err := io.Copy(p.stream, httpResp.Body)
		if n > 0 {
			p.streamed = true
		}
		if err != nil {
			return nil, c.readFailed(ctx, p, err)
		}
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			RequestID:  p.requestID,
			Streamed:   n,
		}, nil
	}

	limit := c.config.MaxResponseBytes
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, c.readFailed(ctx, p, err)
	}
	if int64(len(data)) > limit {
		if httpResp.StatusCode < 400 {
			return nil, fmt.Errorf("%w: %s: body exceeds %d bytes", ErrResponseTooLarge, p.op, limit)
		}
		// Error bodies only feed the message.
		data = data[:limit]
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		RequestID:  p.requestID,
	}, nil
}

func (c *Client) readFailed(ctx context.Context, p *preparedRequest, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &NetworkError{Op: p.op, Timeout: isTimeout(err) || errors.Is(err, context.DeadlineExceeded), Err: err}
}

func (c *Client) finish(p *preparedRequest, resp *Response) (*Response, error) {
	if resp.StatusCode < 400 {
		return resp, nil
	}
	return nil, classifyStatus(p.op, resp.StatusCode, resp.Body, p.requestID)
}

func (c *Client) count(err error) {
	if err == nil {
		c.metrics.Inc(MetricRequestSuccess)
		return
	}
	var ce *ClientError
	var se *ServerError
	var ne *NetworkError
	switch {
	case errors.As(err, &ce):
		c.metrics.Inc(MetricRequestClientError)
	case errors.As(err, &se):
		c.metrics.Inc(MetricRequestServerError)
	case errors.As(err, &ne):
		c.metrics.Inc(MetricRequestNetworkError)
	}
}

func (c *Client) prepare(ctx context.Context, req *Request) (*preparedRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if req.JSON != nil && req.Body != nil {
		return nil, fmt.Errorf("%w: Body and JSON are mutually exclusive", ErrInvalidRequest)
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	body := req.Body
	contentType := req.ContentType
	if req.JSON != nil {
		if body, err = json.Marshal(req.JSON); err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
		}
		if contentType == "" {
			contentType = "application/json"
		}
	}

	header := make(http.Header, len(req.Header)+4)
	for k, v := range req.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Del("Authorization")
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	if c.config.UserAgent != "" && header.Get("User-Agent") == "" {
		header.Set("User-Agent", c.config.UserAgent)
	}
	requestID := requestIDFor(ctx)
	header.Set(HeaderRequestID, requestID)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeouts.Request
		if req.Upload {
			timeout = c.config.Timeouts.Upload
		}
	}

	return &preparedRequest{
		op:         method + " " + req.Path,
		method:     method,
		url:        target,
		body:       body,
		header:     header,
		timeout:    timeout,
		requestID:  requestID,
		idempotent: method == http.MethodGet || method == http.MethodHead,
		skipAuth:   req.SkipAuth,
		stream:     req.Stream,
	}, nil
}

// resolve joins path onto the base URL. Absolute URLs are refused so the
// bearer token is never sent to another origin.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRequest)
	}
	if u, err := url.Parse(path); err != nil || u.IsAbs() || u.Host != "" {
		return "", fmt.Errorf("%w: path must be relative: %q", ErrInvalidRequest, path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := c.baseURL + path
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target, nil
}

// GetJSON issues a GET and decodes the response into out (if non-nil).
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON sends in as JSON and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON sends in as JSON and decodes the response into out (if non-nil).
func (c *Client) PutJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, in, out)
}

// Delete issues a DELETE and discards the body.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.Do(ctx, &Request{Method: method, Path: path, JSON: in})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}

// Upload posts content as a multipart form with the file under field and
// the given extra form values. It uses the upload timeout and is not retried.
func (c *Client) Upload(ctx context.Context, path, field, filename string, content io.Reader, fields map[string]string) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return c.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
		Upload:      true,
	})
}

// exchangeRefresh is the refresh.ExchangeFunc. A 4xx from the refresh
// endpoint, other than 408 and 429, means the refresh token is no longer
// usable.
func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (refresh.Tokens, error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}()

	resp, err := c.Do(ctx, &Request{
		Method:   http.MethodPost,
		Path:     c.config.Endpoints.Refresh,
		JSON:     refreshRequest{RefreshToken: refreshToken},
		SkipAuth: true,
	})
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) && ce.StatusCode != http.StatusRequestTimeout && ce.StatusCode != http.StatusTooManyRequests {
			return refresh.Tokens{}, refresh.Reject(err)
		}
		return refresh.Tokens{}, err
	}

	var out refreshResponse
	if err := resp.DecodeJSON(&out); err != nil || out.AccessToken == "" {
		return refresh.Tokens{}, &ServerError{
			Op:         "refresh",
			StatusCode: resp.StatusCode,
			Message:    "response carries no access token",
			RequestID:  resp.RequestID,
			Body:       resp.Body,
		}
	}
	return refresh.Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}, nil
}
