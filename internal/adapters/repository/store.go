// Package repository persists score results.
package repository

import (
	"context"

	"github.com/okian/pagespeed/internal/domain/model"
)

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Filter narrows List. Zero values match everything; Limit 0 means DefaultListLimit.
type Filter struct {
	URL    string
	Device model.Device
	Limit  int
}

// limit resolves the effective page size.
func (f Filter) limit() (int, error) {
	switch {
	case f.Limit == 0:
		return DefaultListLimit, nil
	case f.Limit < 0 || f.Limit > MaxListLimit:
		return 0, ErrInvalidLimit
	}
	return f.Limit, nil
}

// Store provides write and read access to persisted score results.
type Store interface {
	// Insert assigns ID and CreatedAt to r and stores it.
	// Failures wrap ErrPersist.
	Insert(ctx context.Context, r *model.ScoreResult) error

	// Get returns one result. Returns ErrNotFound if the id is unknown.
	Get(ctx context.Context, id string) (model.ScoreResult, error)

	// List returns results newest first.
	List(ctx context.Context, f Filter) ([]model.ScoreResult, error)

	// Count returns the number of stored results.
	Count(ctx context.Context) (int, error)

	Close() error
}
