package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Publish(m string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func newTestFetcher(cfg Config) *Fetcher {
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return New(cfg)
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><title>ok</title></html>")
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	resp, err := f.Get(context.Background(), srv.URL, TierPage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode != 200 || !strings.Contains(string(resp.Body), "ok") {
		t.Fatalf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if !strings.HasPrefix(resp.ContentType(), "text/html") {
		t.Fatalf("ContentType = %q", resp.ContentType())
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	// WHAT: two dropped connections then a 200 → success on attempt 3.
	// WHY: transient network errors are retried up to 3 attempts.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("no hijacker")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		fmt.Fprint(w, "third time")
	}))
	defer srv.Close()

	log := &recorder{}
	f := newTestFetcher(Config{Log: log})
	resp, err := f.Get(context.Background(), srv.URL, TierArticle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "third time" || hits.Load() != 3 {
		t.Fatalf("body=%q hits=%d", resp.Body, hits.Load())
	}
	if !log.contains("重试") {
		t.Fatalf("retry not published: %v", log.msgs)
	}
}

func TestDoGivesUpAfterThreeAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	_, err := f.Get(context.Background(), srv.URL, TierPage)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
	if Classify(err) != ClassTransient {
		t.Fatalf("Classify = %q", Classify(err))
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
}

func TestDoStatusNotRetried(t *testing.T) {
	// WHAT: 4xx/5xx are returned once with a StatusError, never retried.
	for _, code := range []int{403, 404, 500, 503} {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(code)
			fmt.Fprint(w, "nope")
		}))
		f := newTestFetcher(Config{})
		resp, err := f.Get(context.Background(), srv.URL, TierPage)
		srv.Close()

		var se *StatusError
		if !errors.As(err, &se) || se.Code != code {
			t.Fatalf("%d: err = %v", code, err)
		}
		if resp == nil || resp.StatusCode != code {
			t.Fatalf("%d: resp = %+v", code, resp)
		}
		if hits.Load() != 1 {
			t.Fatalf("%d: hits = %d, want 1", code, hits.Load())
		}
		if Classify(err) != ClassFatal {
			t.Fatalf("%d: Classify = %q", code, Classify(err))
		}
	}
}

func TestDoReadTimeoutIsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := newTestFetcher(Config{Timeouts: map[Tier]Timeouts{
		TierLLM: {Connect: time.Second, Read: 50 * time.Millisecond},
	}})
	_, err := f.Do(context.Background(), Request{URL: srv.URL, Tier: TierLLM})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestDoContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	f := newTestFetcher(Config{Backoff: time.Second})
	start := time.Now()
	_, err := f.Get(ctx, srv.URL, TierPage)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not abort promptly")
	}
}

func TestProxyUnreachableFallsBackToDirect(t *testing.T) {
	// WHAT: a dead proxy is detected by the dial check and the request goes direct.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "direct")
	}))
	defer srv.Close()

	log := &recorder{}
	f := newTestFetcher(Config{Proxy: "http://127.0.0.1:1", Log: log})
	f.reach = func(context.Context, string, time.Duration) bool { return false }

	resp, err := f.Get(context.Background(), srv.URL, TierPage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "direct" {
		t.Fatalf("body = %q", resp.Body)
	}
	if !log.contains("不可达") {
		t.Fatalf("fallback not published: %v", log.msgs)
	}
}

func TestProxyReachableIsUsed(t *testing.T) {
	var proxied atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward proxy receives the absolute target URL.
		if strings.HasPrefix(r.RequestURI, "http://") {
			proxied.Store(true)
		}
		fmt.Fprint(w, "via proxy")
	}))
	defer proxy.Close()

	f := newTestFetcher(Config{Proxy: proxy.URL})
	f.reach = func(context.Context, string, time.Duration) bool { return true }

	resp, err := f.Get(context.Background(), "http://example.invalid/page", TierPage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "via proxy" || !proxied.Load() {
		t.Fatalf("body=%q proxied=%v", resp.Body, proxied.Load())
	}
}

func TestTCPReachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")
	if !tcpReachable(context.Background(), addr, 800*time.Millisecond) {
		t.Fatal("dial check failed on live listener")
	}
	srv.Close()
	if tcpReachable(context.Background(), addr, 200*time.Millisecond) {
		t.Fatal("dial check succeeded on closed listener")
	}
}

func TestURLValidatorBlocks(t *testing.T) {
	f := newTestFetcher(Config{URLValidator: func(string) error { return errors.New("private") }})
	_, err := f.Get(context.Background(), "http://10.0.0.1/", TierPage)
	if !errors.Is(err, ErrBlocked) || Classify(err) != ClassBlocked {
		t.Fatalf("err = %v", err)
	}
}

func TestMaxBytesCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 1000))
	}))
	defer srv.Close()
	f := newTestFetcher(Config{MaxBytes: 100})
	resp, err := f.Get(context.Background(), srv.URL, TierPage)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) != 100 {
		t.Fatalf("len = %d", len(resp.Body))
	}
}
