// Package ledger persists the exchange's whole-document state. Every backend
// stores opaque JSON bodies under string keys; a Save call is the commit point
// for every document passed to it.
package ledger

import (
	"context"
	"errors"
)

const (
	KeyMarket = "market"
	KeyUsers  = "users"
)

var ErrNotFound = errors.New("ledger document not found")

type Document struct {
	Key  string
	Body []byte
}

type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, docs ...Document) error
}
