// Package kv abstracts the key/value store backing sessions, receiver
// presence and rate-limit counters. The production implementation is Redis;
// an in-memory implementation exists for tests.
package kv

import (
	"context"
	"fmt"
	"time"
)

// Store is the contract the session layer needs from the key/value store.
// Every operation is individually atomic; composing several of them is not.
type Store interface {
	// Get returns the value at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value at key with the given TTL, replacing any prior value.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Increment atomically increments the integer at key and returns the
	// post-increment value. A missing key counts from zero.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetAdd adds member to the set at key.
	SetAdd(ctx context.Context, key string, member string) error

	// SetCard returns the cardinality of the set at key (0 when absent).
	SetCard(ctx context.Context, key string) (int64, error)

	// Delete removes key entirely.
	Delete(ctx context.Context, key string) error
}

// Key builders. All session state is namespaced by prefix so that sessions,
// presence sets and rate-limit counters never collide.

func TransferKey(code string) string {
	return fmt.Sprintf("transfer:%s", code)
}

func ReceiversKey(code string) string {
	return fmt.Sprintf("receivers:%s", code)
}

func AttemptsKey(addr string) string {
	return fmt.Sprintf("attempts:%s", addr)
}
