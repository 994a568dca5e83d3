package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/rumeur/analysis"
	"github.com/hazyhaar/rumeur/logbus"
)

type fakeRunner struct {
	res *analysis.Result
	err error
}

func (f fakeRunner) Run(_ context.Context, topic string) (*analysis.Result, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, analysis.ErrEmptyTopic
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.Topic = topic
	return &res, nil
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec, got
}

func TestAnalyzeRoute(t *testing.T) {
	h := newRouter(fakeRunner{res: &analysis.Result{ID: "x", Provider: "mock"}}, logbus.New(), t.TempDir(), 0, nil)

	rec, got := post(t, h, `{"topic":"AI 电影"}`)
	if rec.Code != http.StatusOK || got["topic"] != "AI 电影" || got["provider"] != "mock" {
		t.Errorf("code=%d body=%v", rec.Code, got)
	}

	for _, body := range []string{`{}`, `{"topic":"  "}`, `not json`} {
		rec, got = post(t, h, body)
		if rec.Code != http.StatusBadRequest || got["error"] != "缺少主题" {
			t.Errorf("%s: code=%d body=%v", body, rec.Code, got)
		}
	}
}

func TestAnalyzeRouteGatherFailure(t *testing.T) {
	err := fmt.Errorf("%w: disk full", analysis.ErrGather)
	h := newRouter(fakeRunner{err: err}, logbus.New(), t.TempDir(), 0, nil)

	rec, got := post(t, h, `{"topic":"t"}`)
	if rec.Code != http.StatusInternalServerError || got["error"] != "抓取正文失败" {
		t.Fatalf("code=%d body=%v", rec.Code, got)
	}
	if !strings.Contains(got["detail"].(string), "disk full") {
		t.Errorf("detail = %v", got["detail"])
	}

	h = newRouter(fakeRunner{err: errors.New("other")}, logbus.New(), t.TempDir(), 0, nil)
	if rec, _ := post(t, h, `{"topic":"t"}`); rec.Code != http.StatusInternalServerError {
		t.Errorf("other error: code=%d", rec.Code)
	}
}

func TestDownloadPDF(t *testing.T) {
	// WHAT: only report_*.pdf files inside the report dir are served.
	// WHY: the path parameter is user input; it must not reach arbitrary files.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report_abc.pdf"), []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newRouter(fakeRunner{}, logbus.New(), dir, 0, nil)

	tests := []struct {
		path string
		code int
	}{
		{filepath.Join(dir, "report_abc.pdf"), http.StatusOK},
		{"reports/report_abc.pdf", http.StatusOK},
		{"report_missing.pdf", http.StatusNotFound},
		{"../../etc/passwd", http.StatusBadRequest},
		{"report_abc.md", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/pdf?path="+tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: code=%d, want %d", tt.path, rec.Code, tt.code)
		}
		if tt.code == http.StatusOK && rec.Body.String() != "%PDF-1.7" {
			t.Errorf("%s: body=%q", tt.path, rec.Body.String())
		}
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(fakeRunner{}, logbus.New(), t.TempDir(), 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestLogsStream(t *testing.T) {
	// WHAT: /logs greets the client, then relays bus messages as SSE events.
	// WHY: the browser UI shows progress only through this stream.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := logbus.New(logbus.WithFilter(logbus.HideMCP()))
	go bus.Run(ctx)

	srv := httptest.NewServer(newRouter(fakeRunner{}, bus, t.TempDir(), 0, nil))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	events := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				events <- line
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}
	if got := next(); got != "[系统] 日志流已连接" {
		t.Fatalf("first event = %q", got)
	}
	bus.Publish("[MCP] hidden")
	bus.Publish("[搜索] 开始：t")
	if got := next(); got != "[搜索] 开始：t" {
		t.Fatalf("event = %q", got)
	}
	cancel()
	io.Copy(io.Discard, resp.Body)
}

func TestSSEEscape(t *testing.T) {
	if got := sseEscape("a\r\nb"); got != "a\ndata: b" {
		t.Fatalf("got %q", got)
	}
}
