package repository

import (
	"time"

	"github.com/okian/pagespeed/pkg/logger"
)

type options struct {
	now    func() time.Time
	logger logger.Logger
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		logger: logger.Nop(),
	}
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithClock overrides the CreatedAt source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
