// CLAUDE:SUMMARY OpenAI-compatible chat/completions and /responses client running over the resilient fetch layer.
// Package llm talks to OpenAI-compatible model endpoints. It serves both
// the report model (Ark/Doubao chat/completions) and the search model
// (AiHubMix chat/completions with a /responses fallback).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/logbus"
)

var (
	// ErrNotConfigured is returned when no model is set.
	ErrNotConfigured = errors.New("llm: model not configured")

	// ErrEmptyResponse is returned when the endpoint answered without content.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build messages.
func System(s string) Message { return Message{Role: "system", Content: s} }
func User(s string) Message   { return Message{Role: "user", Content: s} }

// Config configures a Client.
type Config struct {
	BaseURL       string   // e.g. https://ark.cn-beijing.volces.com/api/v3
	ChatPath      string   // Default: /chat/completions
	ResponsesPath string   // Default: /responses
	APIKey        string
	Model         string
	Temperature   *float64 // nil = DefaultTemperature; 0 is sent as 0
	Tag           string   // progress log prefix, e.g. "[豆包ARK]"
}

// DefaultTemperature applies when Config.Temperature is nil.
const DefaultTemperature = 0.2

func (c *Config) defaults() {
	if c.ChatPath == "" {
		c.ChatPath = "/chat/completions"
	}
	if c.ResponsesPath == "" {
		c.ResponsesPath = "/responses"
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.Tag == "" {
		c.Tag = "[LLM]"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Client calls one model endpoint. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *fetch.Fetcher
	log    logbus.Publisher
	logger *slog.Logger
}

// New creates a Client. Requests go through f on the LLM timeout tier.
func New(cfg Config, f *fetch.Fetcher, log logbus.Publisher, logger *slog.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = logbus.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: f, log: log, logger: logger.With("component", "llm", "model", cfg.Model)}
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// Endpoint returns the chat/completions URL.
func (c *Client) Endpoint() string { return c.cfg.BaseURL + c.cfg.ChatPath }

type call struct {
	temperature *float64
	extra       map[string]any
}

// CallOption adjusts one request.
type CallOption func(*call)

// WithTemperature overrides the configured temperature.
func WithTemperature(t float64) CallOption { return func(c *call) { c.temperature = &t } }

// WithExtra adds a top-level request field such as max_tokens or
// web_search_options.
func WithExtra(key string, v any) CallOption {
	return func(c *call) {
		if c.extra == nil {
			c.extra = make(map[string]any)
		}
		c.extra[key] = v
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends msgs to chat/completions and returns
// choices[0].message.content.
func (c *Client) Complete(ctx context.Context, msgs []Message, opts ...CallOption) (string, error) {
	if c.cfg.Model == "" {
		return "", ErrNotConfigured
	}
	var co call
	for _, o := range opts {
		o(&co)
	}
	temp := *c.cfg.Temperature
	if co.temperature != nil {
		temp = *co.temperature
	}
	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    msgs,
		"temperature": temp,
		"stream":      false,
	}
	for k, v := range co.extra {
		payload[k] = v
	}

	body, err := c.post(ctx, c.cfg.BaseURL+c.cfg.ChatPath, payload)
	if err != nil {
		return "", err
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("llm: decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := contentText(cr.Choices[0].Message.Content)
	c.logger.Debug("llm: completion", "chars", len(content), "finish_reason", cr.Choices[0].FinishReason)
	return content, nil
}

// Respond sends input to the /responses endpoint and returns its text.
func (c *Client) Respond(ctx context.Context, input string, opts ...CallOption) (string, error) {
	if c.cfg.Model == "" {
		return "", ErrNotConfigured
	}
	var co call
	for _, o := range opts {
		o(&co)
	}
	payload := map[string]any{
		"model": c.cfg.Model,
		"input": input,
	}
	for k, v := range co.extra {
		payload[k] = v
	}
	body, err := c.post(ctx, c.cfg.BaseURL+c.cfg.ResponsesPath, payload)
	if err != nil {
		return "", err
	}
	return responsesText(body)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: h,
		Body:   data,
		Tier:   fetch.TierLLM,
	})
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			c.log.Publish(fmt.Sprintf("%s %s 返回 %d，body=%s", c.cfg.Tag, pathOf(endpoint), se.Code, se.Preview))
		} else {
			c.log.Publish(fmt.Sprintf("%s %s 请求失败：%v", c.cfg.Tag, pathOf(endpoint), err))
		}
		return nil, fmt.Errorf("llm: %s: %w", pathOf(endpoint), err)
	}
	return resp.Body, nil
}

// contentText accepts a plain string or an array of {type,text} parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	return ""
}

// responsesText reads output_text, then content, then the concatenated
// output[].content[].text.
func responsesText(body []byte) (string, error) {
	var r struct {
		OutputText string          `json:"output_text"`
		Content    json.RawMessage `json:"content"`
		Output     []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("llm: decode responses: %w", err)
	}
	if r.OutputText != "" {
		return r.OutputText, nil
	}
	if s := contentText(r.Content); s != "" {
		return s, nil
	}
	var sb strings.Builder
	for _, o := range r.Output {
		for _, c := range o.Content {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// NormalizeBase accepts "https://host" or "https://host/v1" and returns the
// /v1 API prefix.
func NormalizeBase(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = "https://aihubmix.com"
	}
	if strings.HasSuffix(raw, "/v1") {
		return raw
	}
	return raw + "/v1"
}

func pathOf(endpoint string) string {
	if i := strings.LastIndex(endpoint, "/"); i >= 0 {
		p := endpoint[i+1:]
		if p == "completions" {
			return "chat/completions"
		}
		return p
	}
	return endpoint
}
