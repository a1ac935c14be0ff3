// Package secretstore defines the secret lookup port.
package secretstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the secret does not exist in the backing store.
var ErrNotFound = errors.New("secret not found")

// Fetcher resolves a secret identifier (name or ARN) to its string value.
type Fetcher interface {
	FetchSecret(ctx context.Context, id string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string) (string, error)

// FetchSecret calls f.
func (f FetcherFunc) FetchSecret(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}
