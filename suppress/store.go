// CLAUDE:SUMMARY Per-domain failure counter with threshold-triggered time-boxed suppression over a pluggable KV.
// Package suppress remembers which crawl targets keep failing and skips
// them for a while.
//
// A domain accumulates failures; once the count reaches Threshold it is
// suppressed until now+TTL. Any success deletes the record. Persistence
// errors are logged and swallowed: suppression is advisory.
package suppress

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/rumeur/logbus"
)

// Record is the persisted state of one domain.
type Record struct {
	Count         int   `json:"count"`
	SuppressUntil int64 `json:"suppress_until"` // unix seconds; 0 = not suppressed
}

// KV is the storage seam. Implementations need not be goroutine-safe; the
// Store serialises access.
type KV interface {
	Get(domain string) (Record, bool, error)
	Put(domain string, rec Record) error
	Delete(domain string) error
	All() (map[string]Record, error)
}

// Options configures a Store.
type Options struct {
	Threshold int           // failures before suppression. Default: 3.
	TTL       time.Duration // suppression window. Default: 24h.
	Now       func() time.Time
	Logger    *slog.Logger
	Log       logbus.Publisher
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = 3
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Log == nil {
		o.Log = logbus.Discard
	}
}

// Store applies the suppression policy over a KV.
type Store struct {
	mu   sync.Mutex
	kv   KV
	opts Options
}

// New creates a Store over kv.
func New(kv KV, opts Options) *Store {
	opts.defaults()
	return &Store{kv: kv, opts: opts}
}

// IsSuppressed reports whether domain is inside its suppression window.
func (s *Store) IsSuppressed(domain string) bool {
	rec, ok := s.Status(domain)
	return ok && rec.SuppressUntil > s.opts.Now().Unix()
}

// Status returns the stored record for domain.
func (s *Store) Status(domain string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.kv.Get(domain)
	if err != nil {
		s.opts.Logger.Warn("suppress: get", "domain", domain, "error", err)
		return Record{}, false
	}
	return rec, ok
}

// HoursLeft returns the remaining suppression window in hours, rounded up.
func (s *Store) HoursLeft(domain string) int {
	rec, ok := s.Status(domain)
	if !ok {
		return 0
	}
	left := rec.SuppressUntil - s.opts.Now().Unix()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / 3600))
}

// RecordFailure increments the failure count and starts a suppression
// window once the threshold is reached.
func (s *Store) RecordFailure(domain string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.kv.Get(domain)
	if err != nil {
		s.opts.Logger.Warn("suppress: get", "domain", domain, "error", err)
	}
	rec.Count++
	if rec.Count >= s.opts.Threshold {
		rec.SuppressUntil = s.opts.Now().Add(s.opts.TTL).Unix()
		s.opts.Log.Publish("[Crawler] " + domain + " 连续失败，暂停抓取 " + s.opts.TTL.String())
	}
	if err := s.kv.Put(domain, rec); err != nil {
		s.opts.Logger.Warn("suppress: put", "domain", domain, "error", err)
	}
	return rec
}

// RecordSuccess clears every trace of domain.
func (s *Store) RecordSuccess(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(domain); err != nil {
		s.opts.Logger.Warn("suppress: delete", "domain", domain, "error", err)
	}
}

// Snapshot returns a copy of all records.
func (s *Store) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.kv.All()
	if err != nil {
		s.opts.Logger.Warn("suppress: all", "error", err)
		return map[string]Record{}
	}
	return all
}
