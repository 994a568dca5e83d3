// CLAUDE:SUMMARY Analysis pipeline: provider fallback, text gathering, mode override, synthesis, write-once persistence, HTML/PDF rendering and the user notice.
// Package analysis runs one public-sentiment analysis from topic to report
// files. Every stage except gathering degrades instead of failing: an empty
// search, unreadable pages, a broken model or a failed PDF all still end in
// a Markdown report.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/idgen"
	"github.com/hazyhaar/rumeur/logbus"
	"github.com/hazyhaar/rumeur/render"
	"github.com/hazyhaar/rumeur/report"
)

var (
	// ErrEmptyTopic is returned for a blank topic.
	ErrEmptyTopic = errors.New("analysis: topic is empty")

	// ErrGather wraps a failure to gather article text, the only stage that
	// aborts a run.
	ErrGather = errors.New("analysis: gather failed")
)

const (
	fallbackSearchEmpty = "检索为空，已返回草稿报告"
	fallbackModelFailed = "LLM 调用失败，已返回草稿报告"
)

// Synthesizer writes the report. *report.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, topic string, items []evidence.Item, mode report.Mode) report.Outcome
}

// Config assembles a Pipeline.
type Config struct {
	Chain       Chain
	Synthesizer Synthesizer
	PDF         render.PDFRenderer // nil = no PDF export
	Writer      render.Writer
	NewID       idgen.Generator
	Expert      bool
	Notice      NoticeConfig
	// TrustedCount is reported in the search log line.
	TrustedCount int

	Log    logbus.Publisher
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NewID == nil {
		c.NewID = idgen.New
	}
	if c.Writer.Dir == "" {
		c.Writer.Dir = "reports"
	}
	c.Notice.defaults()
	if c.Log == nil {
		c.Log = logbus.Discard
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs analyses. Safe for concurrent use: nothing is shared
// between runs except the collaborators.
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg}
}

// Result is what a run returns to the caller.
type Result struct {
	ID           string         `json:"id"`
	Topic        string         `json:"topic"`
	MarkdownPath string         `json:"markdown_path"`
	PDFPath      string         `json:"pdf_path"`
	Markdown     string         `json:"markdown"`
	HTML         string         `json:"html"`
	Mode         report.Mode    `json:"mode"`
	Fallback     string         `json:"fallback"`
	FallbackUsed bool           `json:"fallback_used"`
	SearchEmpty  bool           `json:"search_empty"`
	Provider     string         `json:"provider"`
	Fetched      int            `json:"fetched"`
	Total        int            `json:"total"`
	Notice       string         `json:"notice"`
	Trail        []report.State `json:"trail"`
}

// Run analyses topic.
func (p *Pipeline) Run(ctx context.Context, topic string) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	cfg := p.cfg
	id := cfg.NewID()
	logger := cfg.Logger.With("report_id", id, "topic", topic)
	publish := func(format string, args ...any) { cfg.Log.Publish(fmt.Sprintf(format, args...)) }

	if cfg.Chain.Setup != "" {
		cfg.Log.Publish(cfg.Chain.Setup)
	}
	publish("[搜索] 开始：%s", topic)
	items, active := Fallback(ctx, cfg.Chain, topic, cfg.Log)
	searchEmpty := len(items) == 0
	if searchEmpty {
		publish("[搜索] 未获取到任何结果，将生成草稿报告以兜底…")
	} else {
		publish("[搜索] 命中 %d 条，优先白名单 %d 个域名", len(items), cfg.TrustedCount)
	}

	readable, err := active.GatherReadables(ctx, items)
	if err != nil {
		publish("[抓取] 失败：%v", err)
		return nil, fmt.Errorf("%w: %v", ErrGather, err)
	}
	got, total := evidence.CountText(readable), len(readable)
	publish("[抓取] 已提取正文 %d/%d", got, total)

	// The override applies to this run only.
	mode := report.ModeClassic
	if cfg.Expert {
		mode = report.ModeExpert
	}
	if got == 0 {
		publish("[抓取] 正文为空，继续使用检索摘要生成草稿报告…")
		mode = report.ModeClassic
	}

	out := cfg.Synthesizer.Synthesize(ctx, topic, readable, mode)
	res := &Result{
		ID:           id,
		Topic:        topic,
		Markdown:     out.Markdown,
		Mode:         out.Mode,
		FallbackUsed: out.Fallback,
		SearchEmpty:  searchEmpty,
		Provider:     active.Name(),
		Fetched:      got,
		Total:        total,
		Trail:        out.Trail,
	}
	modelFailed := out.Fallback && out.ModelError != nil
	switch {
	case searchEmpty:
		res.Fallback = fallbackSearchEmpty
	case modelFailed:
		res.Fallback = fallbackModelFailed
	}

	publish("[报告] 已生成Markdown，开始构建HTML与导出PDF…")
	if path, err := cfg.Writer.WriteOnce(id, ".md", []byte(out.Markdown)); err != nil {
		logger.Error("analysis: write markdown", "error", err)
		publish("[报告] Markdown 保存失败：%v", err)
	} else {
		res.MarkdownPath = path
	}

	body, err := render.MarkdownToHTML(out.Markdown)
	if err != nil {
		logger.Error("analysis: markdown to html", "error", err)
	}
	res.HTML = body
	res.PDFPath = p.exportPDF(ctx, id, topic, out.Mode, render.FullHTML(body, topic), logger)

	res.Notice = cfg.Notice.Message(searchEmpty, got, total, modelFailed)
	logger.Info("analysis done",
		"provider", res.Provider, "fetched", got, "total", total,
		"mode", res.Mode, "fallback", res.FallbackUsed, "pdf", res.PDFPath != "")
	return res, nil
}

// exportPDF returns the PDF path, or "" when export failed.
func (p *Pipeline) exportPDF(ctx context.Context, id, topic string, mode report.Mode, doc string, logger *slog.Logger) string {
	cfg := p.cfg
	if cfg.PDF == nil {
		cfg.Log.Publish("[PDF] 导出失败：未配置 PDF 渲染")
		return ""
	}
	data, err := cfg.PDF.PDF(ctx, doc, map[string]string{
		"Topic":    topic,
		"ReportID": id,
		"Mode":     string(mode),
	})
	if err == nil {
		var path string
		if path, err = cfg.Writer.WriteOnce(id, ".pdf", data); err == nil {
			cfg.Log.Publish("[PDF] 导出成功：" + path)
			return path
		}
	}
	logger.Warn("analysis: pdf export", "error", err)
	cfg.Log.Publish(fmt.Sprintf("[PDF] 导出失败：%v", err))
	return ""
}
