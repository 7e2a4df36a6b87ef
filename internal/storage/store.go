package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Delete when nothing is stored at the key.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore persists generated assets. Put overwrites any existing object
// at the same key, so a redelivered job lands on the same path.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}
