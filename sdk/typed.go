package sdk

import (
	"context"
	"time"
)

// TypedNamespace is a type-safe wrapper around Namespace for namespaces
// whose values all share one JSON shape.
//
// Example:
//
//	type Reminder struct {
//	    Channel string    `json:"channel"`
//	    At      time.Time `json:"at"`
//	}
//
//	reminders := sdk.NewTypedNamespace[Reminder](ns)
//	err := reminders.Put(ctx, "daily", Reminder{Channel: "general", At: at}, nil)
//
//	r, found, err := reminders.Get(ctx, "daily")
type TypedNamespace[T any] struct {
	ns *Namespace
}

// TypedItem is a JSON-valued item decoded into T.
type TypedItem[T any] struct {
	Key       string
	Value     T
	ExpiresAt *time.Time
}

// NewTypedNamespace creates a typed wrapper for ns.
func NewTypedNamespace[T any](ns *Namespace) *TypedNamespace[T] {
	return &TypedNamespace[T]{ns: ns}
}

// Namespace returns the underlying untyped namespace.
func (t *TypedNamespace[T]) Namespace() *Namespace {
	return t.ns
}

// Put stores value under key.
func (t *TypedNamespace[T]) Put(ctx context.Context, key string, value T, opts *PutOptions) error {
	return t.ns.Put(ctx, key, value, opts)
}

// Get returns the value stored under key and whether it exists.
func (t *TypedNamespace[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var value T
	found, err := t.ns.Get(ctx, key, &value)
	if err != nil || !found {
		var zero T
		return zero, found, err
	}
	return value, true, nil
}

// Items returns the decoded items in platform order.
// A byte-valued item in the page is a protocol error.
func (t *TypedNamespace[T]) Items(ctx context.Context, opts *ListOptions) ([]TypedItem[T], error) {
	items, err := t.ns.Items(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := make([]TypedItem[T], 0, len(items))
	for _, item := range items {
		var value T
		if err := item.Decode(&value); err != nil {
			return nil, err
		}
		result = append(result, TypedItem[T]{
			Key:       item.Key,
			Value:     value,
			ExpiresAt: item.ExpiresAt,
		})
	}
	return result, nil
}

// Delete removes key, optionally only when it currently equals prev.
func (t *TypedNamespace[T]) Delete(ctx context.Context, key string, prev *T) error {
	var opts *DeleteOptions
	if prev != nil {
		opts = &DeleteOptions{PrevValue: *prev}
	}
	return t.ns.Delete(ctx, key, opts)
}
