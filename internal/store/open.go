package store

import (
	"context"
	"fmt"

	appLog "panelcal/internal/log"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a KV backend.
type Options struct {
	Backend string
	// Path is the JSON document for "file" and the database file for "sqlite".
	Path string

	Redis RedisOptions

	PostgresDSN string
}

// Open builds the configured backend.
func Open(ctx context.Context, opts Options) (KV, error) {
	var (
		kv  KV
		err error
	)

	switch opts.Backend {
	case BackendFile, "":
		kv, err = NewFileKV(opts.Path)
	case BackendMemory:
		kv = NewMemoryKV()
	case BackendRedis:
		kv, err = NewRedisKV(opts.Redis)
	case BackendSQLite:
		kv, err = OpenSQLite(ctx, opts.Path)
	case BackendPostgres:
		kv, err = OpenPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	appLog.Info("store opened", "backend", opts.Backend, "path", opts.Path)
	return kv, nil
}
