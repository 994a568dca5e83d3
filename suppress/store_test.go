package suppress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/rumeur/dbopen"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func TestThresholdAndTTL(t *testing.T) {
	// WHAT: third failure suppresses for 24h; after the window it is no longer suppressed.
	// WHY: persistent crawl failures must be skipped, but not forever.
	c := newClock()
	s := New(NewMemoryKV(), Options{Now: c.Now})

	s.RecordFailure("a.cn")
	s.RecordFailure("a.cn")
	if s.IsSuppressed("a.cn") {
		t.Fatal("suppressed after 2 failures")
	}
	rec := s.RecordFailure("a.cn")
	if rec.Count != 3 || rec.SuppressUntil != c.Now().Add(24*time.Hour).Unix() {
		t.Fatalf("rec = %+v", rec)
	}
	if !s.IsSuppressed("a.cn") {
		t.Fatal("not suppressed after 3 failures")
	}
	if h := s.HoursLeft("a.cn"); h != 24 {
		t.Fatalf("HoursLeft = %d", h)
	}

	c.Advance(23 * time.Hour)
	if !s.IsSuppressed("a.cn") {
		t.Fatal("window ended early")
	}
	c.Advance(time.Hour)
	if s.IsSuppressed("a.cn") {
		t.Fatal("still suppressed at now == suppress_until")
	}
}

func TestSuccessClearsRecord(t *testing.T) {
	c := newClock()
	s := New(NewMemoryKV(), Options{Now: c.Now})
	for i := 0; i < 5; i++ {
		s.RecordFailure("b.cn")
	}
	s.RecordSuccess("b.cn")
	if _, ok := s.Status("b.cn"); ok {
		t.Fatal("record survives success")
	}
	if s.IsSuppressed("b.cn") {
		t.Fatal("still suppressed after success")
	}
	// Count starts over.
	if rec := s.RecordFailure("b.cn"); rec.Count != 1 || rec.SuppressUntil != 0 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestCustomThreshold(t *testing.T) {
	s := New(NewMemoryKV(), Options{Threshold: 1, TTL: time.Hour, Now: newClock().Now})
	s.RecordFailure("c.cn")
	if !s.IsSuppressed("c.cn") {
		t.Fatal("threshold 1 not applied")
	}
}

func TestFileKVLayoutAndReload(t *testing.T) {
	// WHAT: records persist as {domain:{count,suppress_until}} and reload.
	path := filepath.Join(t.TempDir(), ".suppress_domains.json")
	c := newClock()
	s := New(OpenFileKV(path, nil), Options{Now: c.Now})
	s.RecordFailure("x.cn")
	s.RecordFailure("x.cn")
	s.RecordFailure("x.cn")
	s.RecordFailure("y.cn")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]map[string]int64
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("file not a JSON object: %v", err)
	}
	if onDisk["x.cn"]["count"] != 3 || onDisk["x.cn"]["suppress_until"] == 0 {
		t.Fatalf("x.cn = %v", onDisk["x.cn"])
	}
	if onDisk["y.cn"]["count"] != 1 || onDisk["y.cn"]["suppress_until"] != 0 {
		t.Fatalf("y.cn = %v", onDisk["y.cn"])
	}

	again := New(OpenFileKV(path, nil), Options{Now: c.Now})
	if !again.IsSuppressed("x.cn") || again.IsSuppressed("y.cn") {
		t.Fatal("state not reloaded")
	}
}

func TestFileKVMissingOrCorrupt(t *testing.T) {
	// WHAT: missing and corrupt files both start empty without error.
	dir := t.TempDir()
	missing := OpenFileKV(filepath.Join(dir, "nope.json"), nil)
	if all, _ := missing.All(); len(all) != 0 {
		t.Fatalf("missing: %v", all)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	kv := OpenFileKV(bad, nil)
	if all, _ := kv.All(); len(all) != 0 {
		t.Fatalf("corrupt: %v", all)
	}
	s := New(kv, Options{})
	s.RecordFailure("z.cn")
	if rec, ok := s.Status("z.cn"); !ok || rec.Count != 1 {
		t.Fatalf("rec = %+v ok=%v", rec, ok)
	}
}

func TestFileKVSaveErrorSwallowed(t *testing.T) {
	// WHAT: an unwritable path logs but never panics or fails the caller.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(OpenFileKV(filepath.Join(blocker, "sub", "s.json"), nil), Options{})
	rec := s.RecordFailure("w.cn")
	if rec.Count != 1 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestSQLiteKV(t *testing.T) {
	db := dbopen.OpenMemory(t)
	kv, err := NewSQLiteKV(db)
	if err != nil {
		t.Fatal(err)
	}
	c := newClock()
	s := New(kv, Options{Now: c.Now})
	for i := 0; i < 3; i++ {
		s.RecordFailure("s.cn")
	}
	if !s.IsSuppressed("s.cn") {
		t.Fatal("not suppressed")
	}
	if all := s.Snapshot(); all["s.cn"].Count != 3 {
		t.Fatalf("snapshot = %v", all)
	}
	s.RecordSuccess("s.cn")
	if _, ok := s.Status("s.cn"); ok {
		t.Fatal("record survives success")
	}
}

func TestConcurrentFailures(t *testing.T) {
	s := New(NewMemoryKV(), Options{Threshold: 100, Now: newClock().Now})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordFailure("p.cn")
		}()
	}
	wg.Wait()
	if rec, _ := s.Status("p.cn"); rec.Count != 50 {
		t.Fatalf("count = %d, want 50", rec.Count)
	}
}
