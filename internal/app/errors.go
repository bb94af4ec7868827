package service

import (
	"errors"
	"fmt"
)

// Sentinel kinds for batch errors. Scoring and persistence failures keep the
// kinds of their packages (pagespeed.ErrUpstream, repository.ErrPersist, ...).
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrTooManyURLs   = fmt.Errorf("too many URLs: %w", ErrInvalidInput)
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrConfiguration = errors.New("service misconfigured")
)
