package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	got, err := MarkdownToHTML("# 标题\n\n**要点** [来源](https://a.cn/1)\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<h1>标题</h1>", "<strong>要点</strong>", `href="https://a.cn/1"`, "<table>", "<td>1</td>"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
}

func TestMarkdownToHTMLSanitizes(t *testing.T) {
	// WHY: model output is untrusted and ends up in a browser and a PDF.
	got, err := MarkdownToHTML("<script>alert(1)</script>\n\n<p onclick=\"x()\">段落</p>\n\n[x](javascript:alert(1)) <iframe src=\"https://e.com\"></iframe>")
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"<script", "alert(1)", "onclick", "javascript:", "<iframe"} {
		if strings.Contains(got, bad) {
			t.Errorf("%q survived:\n%s", bad, got)
		}
	}
	if !strings.Contains(got, "段落") {
		t.Errorf("text of allowed element lost:\n%s", got)
	}
}

func TestFullHTML(t *testing.T) {
	doc := FullHTML("<p>正文</p>", `<b>"AI" & 电影</b>`)
	if !strings.Contains(doc, "<article><p>正文</p></article>") {
		t.Errorf("body not embedded:\n%s", doc)
	}
	if strings.Contains(doc, "<b>") || !strings.Contains(doc, "&lt;b&gt;") {
		t.Errorf("title not escaped:\n%s", doc)
	}
	if !strings.Contains(doc, "size: A4") {
		t.Error("print layout missing")
	}
	if !strings.Contains(FullHTML("", ""), "<title>报告</title>") {
		t.Error("default title")
	}
}

func TestWriteOnce(t *testing.T) {
	w := Writer{Dir: filepath.Join(t.TempDir(), "reports")}
	path, err := w.WriteOnce("abc", ".md", []byte("# r"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "report_abc.md" || path != w.Path("abc", ".md") {
		t.Fatalf("path = %s", path)
	}
	if _, err := w.WriteOnce("abc", ".md", []byte("other")); !errors.Is(err, ErrExists) {
		t.Fatalf("second write err = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "# r" {
		t.Fatalf("content replaced: %q", data)
	}
	entries, _ := os.ReadDir(w.Dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestWriteOnceConcurrent(t *testing.T) {
	w := Writer{Dir: t.TempDir()}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.WriteOnce("same", ".pdf", []byte("x")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}
}

type fakePrinter struct {
	out []byte
	err error
}

func (f fakePrinter) PDF(context.Context, string) ([]byte, error) { return f.out, f.err }

func TestChromePDFErrors(t *testing.T) {
	boom := errors.New("chrome crashed")
	if _, err := NewChromePDF(fakePrinter{err: boom}).PDF(context.Background(), "<html/>", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	_, err := NewChromePDF(fakePrinter{out: []byte("not a pdf")}).PDF(context.Background(), "<html/>", map[string]string{"Topic": "t"})
	if err == nil || !strings.Contains(err.Error(), "invalid pdf") {
		t.Fatalf("err = %v", err)
	}
}
