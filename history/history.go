// Package history keeps the per-event webcast selection cache: the current
// selection, an append-only log of what was chosen, and any stream start
// times calibrated for the event.
//
// The whole cache is one JSON document in a storage.KV, so it can be exported
// and imported as a single blob. Storage failures never surface; a cache that
// cannot be read behaves as empty.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"matchjumper/storage"
	"matchjumper/timeline"
)

// CacheKey is the storage key of the cache document.
const CacheKey = "event_cache"

// Selection methods.
const (
	MethodUserSelected = "user-selected"
	MethodAutoDetected = "auto-detected"
	MethodPasted       = "pasted"
)

// History actions. ActionSelected is written by RecordSelection; the others
// mark hand-timed starts.
const (
	ActionSelected   = "selected"
	ActionCalibrated = "calibrated"
	ActionAdjusted   = "adjusted"
)

// ErrMalformed is returned by Import for a blob that is not a cache document.
var ErrMalformed = errors.New("history: malformed cache blob")

// Entry is one line of an event's append-only history.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	VideoID   string            `json:"videoId,omitempty"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// SavedStart is a stream start persisted for one slot of an event.
type SavedStart struct {
	VideoID string               `json:"videoId"`
	Epoch   int64                `json:"epoch"`
	Source  timeline.StartSource `json:"source"`
	SavedAt time.Time            `json:"savedAt"`
}

// Record is everything cached for one event.
type Record struct {
	VideoID    string                `json:"videoId,omitempty"`
	URL        string                `json:"url,omitempty"`
	Method     string                `json:"method,omitempty"`
	SelectedAt *time.Time            `json:"selectedAt,omitempty"`
	History    []Entry               `json:"history"`
	Starts     map[string]SavedStart `json:"starts,omitempty"`
}

// Selection is the current webcast choice for an event.
type Selection struct {
	VideoID    string
	URL        string
	Method     string
	SelectedAt time.Time
}

// Cache is the selection cache. It is safe for concurrent use.
type Cache struct {
	kv  storage.KV
	log logrus.FieldLogger
	now func() time.Time

	mu sync.Mutex
}

// New returns a cache over kv.
func New(kv storage.KV, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{kv: kv, log: log.WithField("component", "history"), now: time.Now}
}

func eventKey(eventID int) string { return strconv.Itoa(eventID) }

// load must be called with mu held.
func (c *Cache) load(ctx context.Context) map[string]*Record {
	raw, ok := c.kv.Get(ctx, CacheKey)
	if !ok || len(raw) == 0 {
		return map[string]*Record{}
	}
	var doc map[string]*Record
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		c.log.WithError(err).Warn("discarding unreadable cache")
		return map[string]*Record{}
	}
	return doc
}

// save must be called with mu held.
func (c *Cache) save(ctx context.Context, doc map[string]*Record) {
	data, err := json.Marshal(doc)
	if err != nil {
		c.log.WithError(err).Error("encode cache")
		return
	}
	c.kv.Set(ctx, CacheKey, data)
}

// RecordSelection makes videoID the current selection for the event and
// appends it to the event's history.
func (c *Cache) RecordSelection(ctx context.Context, eventID int, videoID, url, method string) Record {
	if method == "" {
		method = MethodUserSelected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load(ctx)
	rec := doc[eventKey(eventID)]
	if rec == nil {
		rec = &Record{}
		doc[eventKey(eventID)] = rec
	}

	now := c.now().UTC()
	rec.VideoID = videoID
	rec.URL = url
	rec.Method = method
	rec.SelectedAt = &now
	rec.History = append(rec.History, Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Action:    ActionSelected,
		VideoID:   videoID,
		URL:       url,
		Method:    method,
	})

	c.save(ctx, doc)
	c.log.WithFields(logrus.Fields{"event_id": eventID, "video_id": videoID, "method": method}).Debug("selection recorded")
	return *rec
}

// AddEntry appends a free-form action to the event's history without
// changing the current selection.
func (c *Cache) AddEntry(ctx context.Context, eventID int, action string, meta map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load(ctx)
	rec := doc[eventKey(eventID)]
	if rec == nil {
		rec = &Record{}
		doc[eventKey(eventID)] = rec
	}
	rec.History = append(rec.History, Entry{
		ID:        uuid.NewString(),
		Timestamp: c.now().UTC(),
		Action:    action,
		Meta:      meta,
	})
	c.save(ctx, doc)
}

// Current returns the event's current selection, or nil.
func (c *Cache) Current(ctx context.Context, eventID int) *Selection {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.load(ctx)[eventKey(eventID)]
	if rec == nil || rec.VideoID == "" {
		return nil
	}
	sel := &Selection{VideoID: rec.VideoID, URL: rec.URL, Method: rec.Method}
	if rec.SelectedAt != nil {
		sel.SelectedAt = *rec.SelectedAt
	}
	return sel
}

// History returns the event's append-only log, or nil when there is none.
func (c *Cache) History(ctx context.Context, eventID int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.load(ctx)[eventKey(eventID)]
	if rec == nil || len(rec.History) == 0 {
		return nil
	}
	return rec.History
}

// Events lists the ids of every cached event.
func (c *Cache) Events(ctx context.Context) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int
	for k := range c.load(ctx) {
		if id, err := strconv.Atoi(k); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clear forgets everything cached for the event.
func (c *Cache) Clear(ctx context.Context, eventID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load(ctx)
	if _, ok := doc[eventKey(eventID)]; !ok {
		return
	}
	delete(doc, eventKey(eventID))
	c.save(ctx, doc)
}

// SaveStreamStart persists the start of stream slot idx for the event.
func (c *Cache) SaveStreamStart(ctx context.Context, eventID, idx int, videoID string, epoch int64, src timeline.StartSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.load(ctx)
	rec := doc[eventKey(eventID)]
	if rec == nil {
		rec = &Record{}
		doc[eventKey(eventID)] = rec
	}
	if rec.Starts == nil {
		rec.Starts = make(map[string]SavedStart)
	}
	rec.Starts[strconv.Itoa(idx)] = SavedStart{VideoID: videoID, Epoch: epoch, Source: src, SavedAt: c.now().UTC()}
	c.save(ctx, doc)
}

// StreamStart returns the persisted start of slot idx if it was saved for
// the same video.
func (c *Cache) StreamStart(ctx context.Context, eventID, idx int, videoID string) (SavedStart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.load(ctx)[eventKey(eventID)]
	if rec == nil {
		return SavedStart{}, false
	}
	s, ok := rec.Starts[strconv.Itoa(idx)]
	if !ok || s.VideoID != videoID {
		return SavedStart{}, false
	}
	return s, true
}

// Starts returns every persisted stream start of the event by slot index.
func (c *Cache) Starts(ctx context.Context, eventID int) map[int]SavedStart {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.load(ctx)[eventKey(eventID)]
	if rec == nil || len(rec.Starts) == 0 {
		return nil
	}
	out := make(map[int]SavedStart, len(rec.Starts))
	for k, s := range rec.Starts {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			continue
		}
		out[idx] = s
	}
	return out
}

// Export serializes the whole cache.
func (c *Cache) Export(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return json.MarshalIndent(c.load(ctx), "", "  ")
}

// Import replaces the whole cache with blob. A blob that is not a JSON
// object of event records is rejected and the cache is left unchanged.
func (c *Cache) Import(ctx context.Context, blob []byte) error {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrMalformed
	}
	var doc map[string]*Record
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return errors.Join(ErrMalformed, err)
	}
	for k, rec := range doc {
		if rec == nil {
			delete(doc, k)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.save(ctx, doc)
	c.log.WithField("events", len(doc)).Info("cache imported")
	return nil
}
