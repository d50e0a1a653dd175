package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fundingarb/basisbot/internal/domain"
)

const (
	defaultHTTPTimeout = 10 * time.Second

	// throttlePoll is how often a throttled request re-checks the limiter.
	throttlePoll = 50 * time.Millisecond
)

// transport executes signed REST calls against one exchange: rate limiting,
// request signing, JSON decoding and error classification.
type transport struct {
	exchange string
	base     string
	rest     *resty.Client
	signer   signer
	limiter  domain.RateLimiter
	rateKey  string
	limit    int
	window   time.Duration
	logger   *slog.Logger
}

func newTransport(exchange, base string, s signer, limiter domain.RateLimiter, limit int, window time.Duration, timeout time.Duration, logger *slog.Logger) *transport {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(defaultHTTPTimeout)
	}
	return &transport{
		exchange: exchange,
		base:     base,
		rest:     r,
		signer:   s,
		limiter:  limiter,
		rateKey:  "rest:" + exchange,
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

func (t *transport) get(ctx context.Context, path string, query url.Values, out any) error {
	return t.do(ctx, http.MethodGet, path, query, nil, out)
}

func (t *transport) post(ctx context.Context, path string, body any, out any) error {
	return t.do(ctx, http.MethodPost, path, url.Values{}, body, out)
}

// postQuery sends a POST whose parameters ride in the signed query string,
// the binance-family convention.
func (t *transport) postQuery(ctx context.Context, path string, query url.Values, out any) error {
	return t.do(ctx, http.MethodPost, path, query, nil, out)
}

func (t *transport) del(ctx context.Context, path string, query url.Values, out any) error {
	return t.do(ctx, http.MethodDelete, path, query, nil, out)
}

func (t *transport) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := t.throttle(ctx); err != nil {
		return err
	}

	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return &domain.ExchangeAPIError{
				Exchange: t.exchange, Op: method + " " + path, Err: err,
			}
		}
	}
	if query == nil {
		query = url.Values{}
	}

	sreq := &signRequest{Method: method, Path: path, Query: query, Body: raw}
	headers := t.signer.sign(sreq)

	req := t.rest.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParamsFromValues(sreq.Query)
	if raw != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(raw)
	}

	resp, err := req.Execute(method, t.base+path)
	if err != nil {
		// Transport-level failures (timeouts, connection resets) are
		// retryable; the order may still have reached the venue, which is
		// why leg results track submissions, not acknowledgements.
		return &domain.ExchangeAPIError{
			Exchange: t.exchange, Op: method + " " + path, Retryable: true, Err: err,
		}
	}
	if err := t.checkStatus(method+" "+path, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &domain.ExchangeAPIError{
			Exchange: t.exchange, Op: method + " " + path, Err: err,
		}
	}
	return nil
}

// throttle blocks until the limiter admits the request. A broken limiter
// degrades open: better an occasional venue 429 than a trading halt.
func (t *transport) throttle(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	for {
		allowed, err := t.limiter.Allow(ctx, t.rateKey, t.limit, t.window)
		if err != nil {
			t.logger.Warn("rate limiter unavailable, proceeding unthrottled",
				"exchange", t.exchange, "error", err)
			return nil
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(throttlePoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// checkStatus maps non-2xx responses to ExchangeAPIError with the retryable
// flag set per cause: rate limits and server errors are retryable, auth and
// parameter rejections are not.
func (t *transport) checkStatus(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	apiErr := &domain.ExchangeAPIError{
		Exchange: t.exchange,
		Op:       op,
		Err:      &httpError{Status: code, Body: truncate(resp.String(), 512)},
	}
	switch {
	case code == http.StatusTooManyRequests:
		apiErr.Retryable = true
	case code >= 500:
		apiErr.Retryable = true
	}
	return apiErr
}

// httpError preserves the venue's raw rejection for the audit trail.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
