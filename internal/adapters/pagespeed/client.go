// Package pagespeed is the client for the PageSpeed Insights v5 runPagespeed API.
package pagespeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/internal/domain/urls"
	"github.com/okian/pagespeed/pkg/logger"
	"github.com/okian/pagespeed/pkg/metrics"
)

// Client defaults.
const (
	DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	DefaultTimeout  = 60 * time.Second

	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second

	// maxBodyBytes caps the upstream body; full Lighthouse reports run to a few MB.
	maxBodyBytes = 32 << 20
)

// requestedCategories are sent as repeated category parameters.
var requestedCategories = []string{"PERFORMANCE", "ACCESSIBILITY", "BEST_PRACTICES", "SEO", "PWA"}

// Client fetches and decodes a PageSpeed run for one URL and device.
// It is safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	maxBody    int64
	pacer      *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	keepReport bool
	logger     logger.Logger

	breakerEnabled   bool
	breakerThreshold uint32
	breakerTimeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the runPagespeed URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. It applies to a copy of the
// HTTP client, so a client passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit paces outbound calls to qps with the given burst. qps <= 0 leaves calls unpaced.
func WithRateLimit(qps float64, burst int) Option {
	return func(c *Client) {
		if qps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// WithCircuitBreaker trips after threshold consecutive upstream failures and
// stays open for timeout.
func WithCircuitBreaker(threshold uint32, timeout time.Duration) Option {
	return func(c *Client) {
		c.breakerEnabled = true
		if threshold > 0 {
			c.breakerThreshold = threshold
		}
		if timeout > 0 {
			c.breakerTimeout = timeout
		}
	}
}

// WithFullReport keeps the raw upstream body in ScoreResult.FullReport.
func WithFullReport(keep bool) Option {
	return func(c *Client) {
		c.keepReport = keep
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:         DefaultEndpoint,
		apiKey:           apiKey,
		httpClient:       &http.Client{Timeout: DefaultTimeout},
		maxBody:          maxBodyBytes,
		logger:           logger.Nop(),
		breakerThreshold: defaultBreakerThreshold,
		breakerTimeout:   defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.breakerEnabled {
		c.breaker = c.newBreaker()
	}
	return c
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "pagespeed",
		MaxRequests: 1,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerThreshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.RecordBreakerStateChange(to.String())
		},
	})
}

// countsAsHealthy keeps caller mistakes (bad URL, cancelled request) from
// tripping the breaker; only transport failures, 429 and 5xx count.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 400 && ue.Status < 500 && ue.Status != http.StatusTooManyRequests
	}
	return false
}

// FetchScore runs PageSpeed for rawURL on device. rawURL is sanitized first and
// the sanitized form is reported in the result.
func (c *Client) FetchScore(ctx context.Context, rawURL string, device model.Device) (model.ScoreResult, error) {
	target := urls.Sanitize(rawURL)

	if err := c.wait(ctx); err != nil {
		metrics.RecordUpstreamRequest(string(device), metrics.OutcomeError)
		return model.ScoreResult{}, err
	}

	start := time.Now()
	body, err := c.call(ctx, target, device)
	elapsed := time.Since(start)
	metrics.RecordUpstreamLatency(string(device), float64(elapsed.Milliseconds()))
	if err != nil {
		metrics.RecordUpstreamRequest(string(device), metrics.OutcomeError)
		c.logger.Warn(ctx, "pagespeed request failed",
			logger.String("url", target),
			logger.String("device", string(device)),
			logger.Duration("elapsed", elapsed),
			logger.Error(err),
		)
		return model.ScoreResult{}, err
	}

	result, err := Decode(body)
	if err != nil {
		metrics.RecordUpstreamRequest(string(device), metrics.OutcomeError)
		return model.ScoreResult{}, err
	}
	metrics.RecordUpstreamRequest(string(device), metrics.OutcomeSuccess)

	result.URL = target
	result.Device = device
	if c.keepReport {
		result.FullReport = body
	}
	if len(result.Defaulted) > 0 {
		c.logger.Debug(ctx, "pagespeed fields defaulted to 0",
			logger.String("url", target),
			logger.String("device", string(device)),
			logger.Any("fields", result.Defaulted),
		)
	}
	return result, nil
}

// wait blocks on the outbound pacer, if any.
func (c *Client) wait(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	metrics.AddUpstreamPacerWaiting(1)
	defer metrics.AddUpstreamPacerWaiting(-1)
	if err := c.pacer.Wait(ctx); err != nil {
		return &UpstreamError{Message: fallbackMessage, Err: err}
	}
	return nil
}

func (c *Client) call(ctx context.Context, target string, device model.Device) ([]byte, error) {
	if c.breaker == nil {
		return c.do(ctx, target, device)
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, target, device)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &UpstreamError{Message: "circuit open", Err: err}
	}
	return body, err
}

// do performs one GET. The returned error never carries the request URL, which
// holds the API key.
func (c *Client) do(ctx context.Context, target string, device model.Device) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := u.Query()
	query.Set("url", target)
	query.Set("key", c.apiKey)
	query.Set("strategy", string(device))
	for _, category := range requestedCategories {
		query.Add("category", category)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, &UpstreamError{Message: fallbackMessage, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: fallbackMessage, Err: err}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("PageSpeed response exceeds %d bytes", c.maxBody),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(body)}
	}
	return body, nil
}
