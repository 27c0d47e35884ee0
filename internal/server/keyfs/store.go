// Package keyfs is the record store behind every stage: path-addressed
// values with locked read-modify-write, plus directory keys on a data tree.
//
// The bytes-level Store has an in-memory and a PostgreSQL implementation;
// the typed layer (Pattern, Key) encodes records and fills path templates.
package keyfs

import (
	"context"
	"errors"
)

// ErrUnchanged may be returned from an update callback to end the update
// successfully without writing anything.
var ErrUnchanged = errors.New("keyfs: unchanged")

// UpdateFunc receives the current value of a key (nil, false when absent)
// and returns the value to commit.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a path-addressed byte store.
//
// Get returns common.ErrorNotFound for absent keys. Delete of an absent key
// is not an error. Update runs fn while holding an exclusive lock on path,
// so concurrent updates of the same path are serialised and each one sees
// the previous committed value.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Set(ctx context.Context, path string, value []byte) error
	Delete(ctx context.Context, path string) error
	Update(ctx context.Context, path string, fn UpdateFunc) error

	// Keys lists every stored path starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every path starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
