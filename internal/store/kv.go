package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// KV is the persistent key/value boundary. A missing key is reported with
// found=false, never as an error; errors mean the backend itself failed.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes every entry or none of them.
	Set(ctx context.Context, entries map[string][]byte) error
	Close() error
}

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("store: unknown backend")

// Load decodes the value stored under key, or returns def when the key is
// absent.
func Load[T any](ctx context.Context, kv KV, key string, def T) (T, error) {
	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		return def, fmt.Errorf("store: load %s: %w", key, err)
	}
	if !found {
		return def, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return out, nil
}

// Save encodes every value and writes the whole set in one Set call.
func Save(ctx context.Context, kv KV, values map[string]any) error {
	entries := make(map[string][]byte, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", key, err)
		}
		entries[key] = raw
	}
	if err := kv.Set(ctx, entries); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}
