package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EnvelopeVersion is the current envelope format version.
const EnvelopeVersion = 1

// Envelope wraps a persisted value with a write timestamp and checksum.
type Envelope struct {
	Version  int             `json:"version"`
	SavedAt  int64           `json:"saved_at"`
	Checksum string          `json:"checksum"`
	Data     json.RawMessage `json:"data"`
}

// Checksum returns the hex xxhash64 of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Encode marshals v into an envelope stamped with savedAt.
func Encode(v any, savedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	env := Envelope{
		Version:  EnvelopeVersion,
		SavedAt:  savedAt.UTC().UnixMilli(),
		Checksum: Checksum(data),
		Data:     data,
	}
	return json.Marshal(env)
}

// Decode verifies raw and unmarshals its payload into v. It returns the
// envelope write time. Any parse or checksum failure wraps ErrCorrupted.
func Decode(raw []byte, v any) (time.Time, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if env.Version != EnvelopeVersion || len(env.Data) == 0 {
		return time.Time{}, fmt.Errorf("%w: unsupported envelope version %d", ErrCorrupted, env.Version)
	}
	if Checksum(env.Data) != env.Checksum {
		return time.Time{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return time.UnixMilli(env.SavedAt).UTC(), nil
}

// Load reads key from kv and decodes it into v. found is false when the key
// is absent. A corrupted value is removed before ErrCorrupted is returned.
func Load(ctx context.Context, kv KeyValueStore, key string, v any) (savedAt time.Time, found bool, err error) {
	raw, found, err := kv.GetItem(ctx, key)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	savedAt, err = Decode(raw, v)
	if err != nil {
		_ = kv.RemoveItem(ctx, key)
		return time.Time{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	return savedAt, true, nil
}

// Save encodes v and writes it under key.
func Save(ctx context.Context, kv KeyValueStore, key string, v any, now time.Time) error {
	raw, err := Encode(v, now)
	if err != nil {
		return err
	}
	if err := kv.SetItem(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
