// Package storage persists small key-value state: webcast selections and
// history, calibrated stream starts, preferences and the nav-link cache.
//
// Backends report failures as errors. Callers in the sync path use the KV
// view returned by Safe, which never fails: a read failure is a miss, a write
// failure is logged and dropped.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for common storage conditions.
var (
	ErrNotFound     = errors.New("storage: not found")
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrCorrupt indicates a persisted document could not be decoded.
	ErrCorrupt     = errors.New("storage: data corruption detected")
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	ErrClosed      = errors.New("storage: backend closed")
)

// StorageError wraps storage errors with operation and key context.
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("%s %s on %s failed: %v\n", storErr.Op, storErr.Key, storErr.Backend, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("get", "set", "delete", "keys", "open").
	Op string
	// Backend names the backend ("file", "memory", "redis", "sqlite", "postgres").
	Backend string
	Key     string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: %s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Backend is an error-reporting key-value store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// KV is the infallible view used by the rest of the application.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Remove(ctx context.Context, key string)
	Keys(ctx context.Context, prefix string) []string
}

// Safe wraps b so that no operation ever returns an error.
func Safe(b Backend, log logrus.FieldLogger) KV {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &safeKV{b: b, log: log.WithField("component", "storage")}
}

type safeKV struct {
	b   Backend
	log logrus.FieldLogger
}

func (s *safeKV) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := s.b.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithField("key", key).WithError(err).Debug("read failed, treating as miss")
		}
		return nil, false
	}
	return v, true
}

func (s *safeKV) Set(ctx context.Context, key string, value []byte) {
	if err := s.b.Set(ctx, key, value); err != nil {
		s.log.WithField("key", key).WithError(err).Debug("write dropped")
	}
}

func (s *safeKV) Remove(ctx context.Context, key string) {
	if err := s.b.Delete(ctx, key); err != nil {
		s.log.WithField("key", key).WithError(err).Debug("delete dropped")
	}
}

func (s *safeKV) Keys(ctx context.Context, prefix string) []string {
	keys, err := s.b.Keys(ctx, prefix)
	if err != nil {
		s.log.WithField("prefix", prefix).WithError(err).Debug("key listing failed")
		return nil
	}
	return keys
}

// Backend names accepted by Config.Backend.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the JSON document for the file backend.
	Path string `yaml:"path" env:"PATH"`
	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	// DSN is the sqlite file or postgres connection string.
	DSN string `yaml:"dsn" env:"DSN"`
	// KeyPrefix namespaces keys in shared redis instances.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultConfig stores state in ~/.config/matchjumper/state.json.
func DefaultConfig() Config {
	path := "matchjumper-state.json"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".config", "matchjumper", "state.json")
	}
	return Config{Backend: BackendFile, Path: path, KeyPrefix: "matchjumper:"}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendFile:
		if c.Path == "" {
			return fmt.Errorf("storage.path is required for the file backend")
		}
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case BackendSQLite, BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of file, memory, redis, sqlite, postgres", c.Backend)
	}
	return nil
}

// Open constructs the backend named by cfg.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendFile:
		return NewFileBackend(cfg.Path), nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendRedis:
		return NewRedisBackend(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return OpenPostgres(ctx, cfg.DSN)
	}
}
