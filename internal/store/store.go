// Package store persists built artifacts.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for names that were never stored.
var ErrNotFound = errors.New("artifact not found")

// Store keeps artifacts by name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}
