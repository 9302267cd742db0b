// Package store persists league documents as JSON keyed by path-like
// strings such as "league/league_2025" or "outbox/R1M2".
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

type Store interface {
	// Load decodes the document at key into dest or returns ErrNotFound.
	Load(ctx context.Context, key string, dest any) error
	// Save replaces the document at key.
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	// Keys lists the keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
