package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/trophythreads/internal/domain"
)

// ErrNotFound wraps domain.ErrNotFound so callers can map it to a 404.
var ErrNotFound = fmt.Errorf("external product %w", domain.ErrNotFound)

// Source is a non-transactional product feed. A lookup returns a snapshot
// that is stored on the cart item and never re-read.
type Source interface {
	Lookup(ctx context.Context, ref string) (*domain.ExternalSnapshot, error)
}

// Chain asks each source in turn and returns the first hit.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, ref string) (*domain.ExternalSnapshot, error) {
	for _, s := range c {
		snap, err := s.Lookup(ctx, ref)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
