// Package service runs PageSpeed batches: validation, admission, scoring and
// persistence, in that order.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pagespeed/internal/adapters/pagespeed"
	"github.com/okian/pagespeed/internal/adapters/repository"
	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/internal/domain/ratelimit"
	"github.com/okian/pagespeed/internal/domain/urls"
	"github.com/okian/pagespeed/pkg/logger"
	"github.com/okian/pagespeed/pkg/metrics"
)

// Defaults.
const (
	DefaultMaxURLs     = 30
	DefaultConcurrency = 1

	statsTimeout = 2 * time.Second
)

// Scorer fetches metrics for one URL on one device.
type Scorer interface {
	FetchScore(ctx context.Context, url string, device model.Device) (model.ScoreResult, error)
}

// ResultStore is the persistence the service writes to and reads from.
type ResultStore interface {
	Insert(ctx context.Context, r *model.ScoreResult) error
	Get(ctx context.Context, id string) (model.ScoreResult, error)
	List(ctx context.Context, f repository.Filter) ([]model.ScoreResult, error)
	Count(ctx context.Context) (int, error)
}

// Service runs batches and serves stored results.
type Service struct {
	mu sync.RWMutex

	// Core components
	admitter ratelimit.Admitter
	scorer   Scorer
	store    ResultStore

	// Configuration
	maxURLs          int
	concurrency      int
	apiKeyConfigured bool

	// State
	started bool

	// Counters for /stats
	batchesTotal       atomic.Int64
	batchesSucceeded   atomic.Int64
	batchesRateLimited atomic.Int64
	batchesRejected    atomic.Int64
	batchesFailed      atomic.Int64
	resultsWritten     atomic.Int64

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAdmitter sets the batch rate limiter.
func WithAdmitter(a ratelimit.Admitter) Option {
	return func(s *Service) {
		if a != nil {
			s.admitter = a
		}
	}
}

// WithScorer sets the scoring client.
func WithScorer(sc Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithStore sets the result store.
func WithStore(st ResultStore) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithMaxURLs sets the per-batch URL cap.
func WithMaxURLs(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxURLs = n
		}
	}
}

// WithConcurrency sets how many (url, device) pairs of one batch may be in
// flight at once. 1 runs them strictly in order.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithAPIKeyConfigured records whether the upstream API key is present.
// Without it every batch fails with ErrConfiguration before any other check.
func WithAPIKeyConfigured(ok bool) Option {
	return func(s *Service) {
		s.apiKeyConfigured = ok
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		admitter:    ratelimit.New(),
		store:       repository.NewMemoryStore(),
		maxURLs:     DefaultMaxURLs,
		concurrency: DefaultConcurrency,
		logger:      nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start marks the service ready and reports its configuration.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	if !s.apiKeyConfigured {
		s.logger.Warn(ctx, "PageSpeed API key is not set; batch requests will fail until it is configured")
	}

	s.started = true
	s.logger.Info(ctx, "pagespeed service started",
		logger.Int("maxUrls", s.maxURLs),
		logger.Int("concurrency", s.concurrency),
		logger.Bool("apiKeyConfigured", s.apiKeyConfigured),
	)
	return nil
}

// Stop releases the store, if it can be closed.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping pagespeed service...")

	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error(context.Background(), "failed to close result store", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(context.Background(), "pagespeed service stopped")
}

func (s *Service) log() logger.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.logger == nil {
		return logger.Nop()
	}
	return s.logger
}

// RunBatch scores every URL of the comma-separated rawURLs on each requested
// device (all devices when empty). Results come back in input order, devices
// in fixed order within a URL. Every result is persisted before it is returned.
// The first scoring or persistence failure aborts the batch; rows already
// written stay.
func (s *Service) RunBatch(ctx context.Context, rawURLs string, devices []model.Device) ([]model.ScoreResult, error) {
	start := time.Now()
	results, err := s.runBatch(ctx, rawURLs, devices)
	s.finish(ctx, start, len(results), err)
	return results, err
}

// RunSingle scores one URL on the mobile profile. rawURL is not split on commas.
func (s *Service) RunSingle(ctx context.Context, rawURL string) (model.ScoreResult, error) {
	start := time.Now()
	results, err := s.runSingle(ctx, rawURL)
	s.finish(ctx, start, len(results), err)
	if err != nil {
		return model.ScoreResult{}, err
	}
	return results[0], nil
}

func (s *Service) runBatch(ctx context.Context, rawURLs string, devices []model.Device) ([]model.ScoreResult, error) {
	if err := s.checkConfigured(); err != nil {
		return nil, err
	}

	list, err := urls.ParseList(rawURLs, s.maxURLs)
	switch {
	case errors.Is(err, urls.ErrEmpty):
		return nil, fmt.Errorf("%w: at least one URL is required", ErrInvalidInput)
	case errors.Is(err, urls.ErrTooMany):
		return nil, fmt.Errorf("%w: got %d, the limit is %d", ErrTooManyURLs, len(urls.Split(rawURLs)), s.maxURLs)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	ordered := model.OrderDevices(devices)
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: no supported device requested", ErrInvalidInput)
	}
	return s.execute(ctx, list, ordered)
}

func (s *Service) runSingle(ctx context.Context, rawURL string) ([]model.ScoreResult, error) {
	if err := s.checkConfigured(); err != nil {
		return nil, err
	}
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidInput)
	}
	return s.execute(ctx, []string{target}, []model.Device{model.DeviceMobile})
}

// Ready reports ErrConfiguration when batches cannot run at all.
func (s *Service) Ready() error {
	return s.checkConfigured()
}

func (s *Service) checkConfigured() error {
	if !s.apiKeyConfigured || s.scorer == nil {
		return fmt.Errorf("%w: PageSpeed API key is not configured", ErrConfiguration)
	}
	return nil
}

// execute admits the batch once, then scores and persists each request.
func (s *Service) execute(ctx context.Context, list []string, devices []model.Device) ([]model.ScoreResult, error) {
	admitted, err := s.admitter.TryAdmit(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	metrics.RecordRateLimitDecision(admitted)
	if !admitted {
		return nil, ErrRateLimited
	}
	metrics.RecordBatchSize(len(list))

	reqs := make([]model.ScoreRequest, 0, len(list)*len(devices))
	for _, u := range list {
		for _, d := range devices {
			reqs = append(reqs, model.ScoreRequest{URL: u, Device: d})
		}
	}

	if s.concurrency <= 1 {
		return s.runSequential(ctx, reqs)
	}
	return s.runConcurrent(ctx, reqs)
}

func (s *Service) runSequential(ctx context.Context, reqs []model.ScoreRequest) ([]model.ScoreResult, error) {
	results := make([]model.ScoreResult, 0, len(reqs))
	for _, req := range reqs {
		r, err := s.scoreOne(ctx, req)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// runConcurrent fans out with a bounded errgroup; results keep request order.
func (s *Service) runConcurrent(ctx context.Context, reqs []model.ScoreRequest) ([]model.ScoreResult, error) {
	results := make([]model.ScoreResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.scoreOne(gctx, req)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) scoreOne(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
	r, err := s.scorer.FetchScore(ctx, req.URL, req.Device)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("score %s (%s): %w", req.URL, req.Device, err)
	}
	if err := s.store.Insert(ctx, &r); err != nil {
		return model.ScoreResult{}, fmt.Errorf("persist %s (%s): %w", r.URL, r.Device, err)
	}
	s.resultsWritten.Add(1)

	s.log().Info(ctx, "pagespeed result stored",
		logger.String("id", r.ID),
		logger.String("url", r.URL),
		logger.String("device", string(r.Device)),
		logger.Float64("performance", r.PerformanceScore),
	)
	return r, nil
}

// finish records counters and metrics for a batch.
func (s *Service) finish(ctx context.Context, start time.Time, n int, err error) {
	elapsed := time.Since(start)
	outcome := Outcome(err)
	metrics.RecordBatch(outcome)
	metrics.RecordBatchDuration(float64(elapsed.Milliseconds()))

	s.batchesTotal.Add(1)
	switch outcome {
	case metrics.OutcomeSuccess:
		s.batchesSucceeded.Add(1)
		s.log().Info(ctx, "batch completed", logger.Int("results", n), logger.Duration("elapsed", elapsed))
		return
	case outcomeRateLimited:
		s.batchesRateLimited.Add(1)
	case outcomeInvalidInput:
		s.batchesRejected.Add(1)
	default:
		s.batchesFailed.Add(1)
	}
	s.log().Warn(ctx, "batch failed",
		logger.String("outcome", outcome),
		logger.Duration("elapsed", elapsed),
		logger.Error(err),
	)
}

// Outcome labels.
const (
	outcomeInvalidInput  = "invalid_input"
	outcomeRateLimited   = "rate_limited"
	outcomeConfiguration = "configuration_error"
	outcomeUpstream      = "upstream_error"
	outcomeMalformed     = "malformed_response"
	outcomePersistence   = "persistence_error"
	outcomeCanceled      = "canceled"
)

// Outcome classifies a batch error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrInvalidInput):
		return outcomeInvalidInput
	case errors.Is(err, ErrRateLimited):
		return outcomeRateLimited
	case errors.Is(err, ErrConfiguration):
		return outcomeConfiguration
	case errors.Is(err, pagespeed.ErrMalformedResponse):
		return outcomeMalformed
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	case errors.Is(err, pagespeed.ErrUpstream):
		return outcomeUpstream
	case errors.Is(err, repository.ErrPersist):
		return outcomePersistence
	default:
		return metrics.OutcomeError
	}
}

// Get returns a stored result by id.
func (s *Service) Get(ctx context.Context, id string) (model.ScoreResult, error) {
	return s.store.Get(ctx, id)
}

// List returns stored results newest first.
func (s *Service) List(ctx context.Context, f repository.Filter) ([]model.ScoreResult, error) {
	return s.store.List(ctx, f)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":            s.started,
		"maxUrls":            s.maxURLs,
		"concurrency":        s.concurrency,
		"apiKeyConfigured":   s.apiKeyConfigured,
		"batchesTotal":       s.batchesTotal.Load(),
		"batchesSucceeded":   s.batchesSucceeded.Load(),
		"batchesRateLimited": s.batchesRateLimited.Load(),
		"batchesRejected":    s.batchesRejected.Load(),
		"batchesFailed":      s.batchesFailed.Load(),
		"resultsWritten":     s.resultsWritten.Load(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	if n, err := s.store.Count(ctx); err == nil {
		stats["storedResults"] = n
	}
	if reporter, ok := s.admitter.(ratelimit.StatsReporter); ok {
		if rs, err := reporter.Stats(ctx); err == nil {
			stats["rateLimit"] = rs
			metrics.UpdateRateLimitInWindow(rs.InWindow)
		}
	}

	return stats
}
