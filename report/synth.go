// CLAUDE:SUMMARY Report synthesizer: expert two-stage (JSON then Markdown), classic single-stage, and a deterministic fallback, as an explicit state machine.
// Package report turns gathered evidence into a Markdown report.
//
// The Synthesizer walks a small state machine. Expert mode asks the model
// for a structured JSON analysis, then for Markdown written from that JSON.
// A JSON that cannot be parsed or cites no references demotes the request
// to classic mode. Any model failure ends in Fallback, so Synthesize always
// returns a report.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/llm"
	"github.com/hazyhaar/rumeur/logbus"
)

// Mode selects the synthesis strategy.
type Mode string

const (
	ModeExpert  Mode = "expert"
	ModeClassic Mode = "classic"
)

// State is one step of a synthesis run. Outcome.Trail lists the states
// visited in order.
type State string

const (
	StateInit              State = "INIT"
	StateExpertStage1      State = "EXPERT_STAGE1"
	StateExpertStage2      State = "EXPERT_STAGE2"
	StateDemoteClassic     State = "DEMOTE_CLASSIC"
	StateClassicLLM        State = "CLASSIC_LLM"
	StateClassicNoEvidence State = "CLASSIC_NO_EVIDENCE"
	StateFallback          State = "FALLBACK"
	StateDone              State = "DONE"
)

// Answers that echo the prompt's own "no evidence" wording instead of a
// report.
var noEvidenceEchoes = []string{"未提供“已抓取正文”的证据列表", "未提供证据"}

// Completer is the chat model used for synthesis. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, opts ...llm.CallOption) (string, error)
}

// Outcome is the result of one synthesis run.
type Outcome struct {
	Markdown string
	// Mode is the mode the report was produced in; a demoted expert run
	// reports ModeClassic.
	Mode Mode
	// Fallback is true when Markdown came from Fallback rather than the
	// model.
	Fallback bool
	// ModelError is the model failure that forced the fallback, if any.
	ModelError error
	// Structured is the parsed stage 1 analysis of an expert run.
	Structured *StructuredReport
	Trail      []State
}

// Synthesizer produces reports. Safe for concurrent use.
type Synthesizer struct {
	model  Completer
	log    logbus.Publisher
	logger *slog.Logger
}

// New creates a Synthesizer. model may be nil; every request then ends in
// the fallback report.
func New(model Completer, log logbus.Publisher, logger *slog.Logger) *Synthesizer {
	if log == nil {
		log = logbus.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{model: model, log: log, logger: logger.With("component", "report")}
}

type run struct {
	s     *Synthesizer
	ctx   context.Context
	topic string
	items []evidence.Item
	out   Outcome
}

func (r *run) enter(st State) { r.out.Trail = append(r.out.Trail, st) }

func (r *run) publish(format string, args ...any) { r.s.log.Publish(fmt.Sprintf(format, args...)) }

// Synthesize produces the report for topic. It never fails.
func (s *Synthesizer) Synthesize(ctx context.Context, topic string, items []evidence.Item, mode Mode) Outcome {
	r := &run{s: s, ctx: ctx, topic: topic, items: items, out: Outcome{Mode: mode}}
	r.enter(StateInit)

	st := StateClassicLLM
	if mode == ModeExpert {
		st = StateExpertStage1
	}
	var structured string
	for st != StateDone {
		r.enter(st)
		switch st {
		case StateExpertStage1:
			st, structured = r.stage1()
		case StateExpertStage2:
			st = r.stage2(structured)
		case StateDemoteClassic:
			r.out.Mode = ModeClassic
			st = StateClassicLLM
		case StateClassicLLM:
			st = r.classic()
		case StateClassicNoEvidence:
			r.publish("[LLM] 无可用正文证据，使用草稿报告兜底…")
			st = StateFallback
		case StateFallback:
			r.out.Markdown = Fallback(topic, items)
			r.out.Fallback = true
			st = StateDone
		default:
			st = StateFallback
		}
	}
	r.enter(StateDone)
	s.logger.Info("report synthesized", "mode", r.out.Mode, "fallback", r.out.Fallback, "trail", r.out.Trail)
	return r.out
}

func (r *run) stage1() (State, string) {
	if evidence.CountText(r.items) == 0 {
		return StateDemoteClassic, ""
	}
	r.publish("[专家模式] 阶段1：请求结构化 JSON…")
	text, err := r.complete(StructureMessages(r.topic, r.items))
	if err != nil {
		r.publish("[专家模式] LLM 调用失败：%v，使用草稿报告兜底…", err)
		r.out.ModelError = err
		return StateFallback, ""
	}
	obj := llm.ExtractObject(text)
	if len(obj) == 0 || !truthy(obj["references"]) {
		r.publish("[专家模式] 结构化输出解析失败，切回经典单阶段提示…")
		return StateDemoteClassic, ""
	}
	if sr, err := ParseStructured(obj); err != nil {
		r.s.logger.Warn("structured report decode", "error", err)
	} else {
		r.out.Structured = sr
		for _, p := range sr.Check(evidence.CountText(r.items)) {
			r.s.logger.Warn("structured report check", "problem", p)
		}
	}
	return StateExpertStage2, text
}

func (r *run) stage2(structured string) State {
	r.publish("[专家模式] 阶段2：根据结构化数据生成Markdown…")
	md, err := r.complete(MarkdownMessages(r.topic, structured))
	if err == nil && strings.TrimSpace(md) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		r.publish("[专家模式] LLM 调用失败：%v，使用草稿报告兜底…", err)
		r.out.ModelError = err
		return StateFallback
	}
	r.out.Markdown = md
	return StateDone
}

func (r *run) classic() State {
	if evidence.CountText(r.items) == 0 {
		return StateClassicNoEvidence
	}
	r.publish("[LLM] 请求豆包模型生成报告…")
	md, err := r.complete(ClassicMessages(r.topic, r.items))
	if err != nil {
		r.publish("[LLM] 失败：%v，将使用检索结果生成草稿报告以兜底…", err)
		r.out.ModelError = err
		return StateFallback
	}
	if strings.TrimSpace(md) == "" || containsAny(md, noEvidenceEchoes) {
		r.publish("[LLM] 模型返回内容不足，改用草稿报告兜底…")
		r.out.ModelError = llm.ErrEmptyResponse
		return StateFallback
	}
	r.out.Markdown = md
	return StateDone
}

// complete calls the model, converting a panic in the client into an error.
func (r *run) complete(msgs []llm.Message) (text string, err error) {
	if r.s.model == nil {
		return "", llm.ErrNotConfigured
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("report: model panic: %v", p)
		}
	}()
	return r.s.model.Complete(r.ctx, msgs)
}

// IsModelUnavailable reports whether err means no model is configured, as
// opposed to a model that was called and failed.
func IsModelUnavailable(err error) bool { return errors.Is(err, llm.ErrNotConfigured) }

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
