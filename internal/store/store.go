// Package store describes the capability surface of the hosted table store:
// request/response table access plus an insert change feed.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	ErrClosed   = errors.New("subscription closed")
)

// InsertHandler receives the JSON encoding of every newly inserted row
// matching a subscription.
type InsertHandler func(record json.RawMessage)

type Subscription interface {
	// Done is closed once the subscription stops delivering events.
	Done() <-chan struct{}
	// Err is the reason delivery stopped, nil after a plain Unsubscribe.
	Err() error
}

type Store interface {
	// Select decodes all rows of table matching filter into dest, a pointer to a slice.
	Select(ctx context.Context, table string, filter Filter, dest any) error
	Insert(ctx context.Context, table string, record any) error
	Update(ctx context.Context, table string, filter Filter, patch map[string]any) error
	// Subscribe returns once the subscription is live.
	Subscribe(ctx context.Context, table string, filter Filter, onInsert InsertHandler) (Subscription, error)
	Unsubscribe(sub Subscription)
}
