// Package prefs holds the small user preferences kept between runs: API key
// overrides, the fullscreen hint quota and onboarding progress. Every value
// lives in a storage.KV and reads fall back to defaults on any failure.
package prefs

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"matchjumper/storage"
)

// KeyKind names an external API whose key the user may override.
type KeyKind string

const (
	YouTubeKey     KeyKind = "youtube"
	RobotEventsKey KeyKind = "robotevents"
)

const (
	apiKeyPrefix = "api_key."
	hintCountKey = "rotate_fs_hint.count.v1"

	// MaxHints is how many times the rotate-to-fullscreen hint may be shown.
	MaxHints = 3
)

// Keys reads and writes API key overrides.
type Keys struct {
	kv storage.KV
}

// NewKeys returns a key store over kv.
func NewKeys(kv storage.KV) *Keys { return &Keys{kv: kv} }

// Key returns the stored override for kind, or "".
func (k *Keys) Key(ctx context.Context, kind KeyKind) string {
	v, ok := k.kv.Get(ctx, apiKeyPrefix+string(kind))
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(v))
}

// SetKey stores an override. An empty key clears it.
func (k *Keys) SetKey(ctx context.Context, kind KeyKind, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		k.ClearKey(ctx, kind)
		return
	}
	k.kv.Set(ctx, apiKeyPrefix+string(kind), []byte(key))
}

// ClearKey removes an override.
func (k *Keys) ClearKey(ctx context.Context, kind KeyKind) {
	k.kv.Remove(ctx, apiKeyPrefix+string(kind))
}

// Effective returns the user's override when set, else fallback.
func (k *Keys) Effective(ctx context.Context, kind KeyKind, fallback string) string {
	if v := k.Key(ctx, kind); v != "" {
		return v
	}
	return fallback
}

// HintQuota limits how often the rotate-to-fullscreen hint is shown.
// Operations are serialized so concurrent Consume calls never overspend.
type HintQuota struct {
	kv storage.KV
	mu sync.Mutex
}

// NewHintQuota returns a quota over kv.
func NewHintQuota(kv storage.KV) *HintQuota { return &HintQuota{kv: kv} }

// read must be called with mu held. Missing, malformed or negative values
// read as 0.
func (q *HintQuota) read(ctx context.Context) int {
	v, ok := q.kv.Get(ctx, hintCountKey)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(v)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Consume spends one hint. It reports false once MaxHints have been shown.
func (q *HintQuota) Consume(ctx context.Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.read(ctx)
	if n >= MaxHints {
		return false
	}
	q.kv.Set(ctx, hintCountKey, []byte(strconv.Itoa(n+1)))
	return true
}

// Reset makes the hint available again.
func (q *HintQuota) Reset(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.kv.Set(ctx, hintCountKey, []byte("0"))
}

// Count returns how many hints have been shown.
func (q *HintQuota) Count(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(ctx)
}
