// Package storage provides durable key-value backends for localekit state.
//
// # Overview
//
// Every persisted record (current preference, manual override, detection
// history, translation cache snapshot, backup) is one value under one key.
// Values are JSON envelopes:
//
//	{
//	  "version": 1,
//	  "saved_at": 1721037600000,
//	  "checksum": "9c3a5d0f7e21b4aa",
//	  "data": {...}
//	}
//
// The checksum is the xxhash64 of the raw "data" bytes. A value whose JSON
// does not parse or whose checksum does not match is reported as
// ErrCorrupted so owners can discard it and start over.
//
// # Failure Model
//
// Backends may be absent (ErrUnavailable) or full (ErrQuotaExceeded). Callers
// treat both as "state does not persist" and keep working in memory. Using a
// store after Close returns ErrClosed, which callers must not swallow.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the backend cannot be reached or used at all.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded means the write did not fit in the backend.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrCorrupted means a stored value failed to decode or verify.
	ErrCorrupted = errors.New("stored value corrupted")
	// ErrClosed means the store was used after Close.
	ErrClosed = errors.New("storage closed")
)

// KeyValueStore is the durable storage contract shared by all owners.
type KeyValueStore interface {
	// GetItem returns the value for key. found is false when the key is absent.
	GetItem(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Persisted record keys.
const (
	KeyPreference = "localekit.preference"
	KeyOverride   = "localekit.override"
	KeyHistory    = "localekit.history"
	KeyCache      = "localekit.cache"
	KeyBackup     = "localekit.backup"
)
