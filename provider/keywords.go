package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/rumeur/llm"
	"github.com/hazyhaar/rumeur/logbus"
)

// Completer is the chat surface used for keyword expansion and reports.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, opts ...llm.CallOption) (string, error)
}

const (
	maxKeywords      = 12
	maxTopicKeywords = 8
)

var tokenSplitRe = regexp.MustCompile(`[^\p{Han}A-Za-z0-9]+`)

// Keywords expands topic into at most 12 search terms with the model. When
// the model is absent, fails or returns nothing usable, the topic is split
// on non Han/alphanumeric runs and the first 8 parts are used.
func Keywords(ctx context.Context, model Completer, topic string, log logbus.Publisher) []string {
	if log == nil {
		log = logbus.Discard
	}
	kws, err := expandKeywords(ctx, model, topic)
	if err == nil {
		return kws
	}
	log.Publish(fmt.Sprintf("[Crawler] 关键词扩展失败：%v，改用原始主题分词…", err))
	return TopicTokens(topic)
}

// TopicTokens splits topic into at most 8 tokens.
func TopicTokens(topic string) []string {
	var out []string
	for _, p := range tokenSplitRe.Split(topic, -1) {
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == maxTopicKeywords {
			break
		}
	}
	return out
}

func expandKeywords(ctx context.Context, model Completer, topic string) ([]string, error) {
	if model == nil {
		return nil, llm.ErrNotConfigured
	}
	text, err := model.Complete(ctx, []llm.Message{
		llm.System("你是中文关键词专家。请仅返回JSON，不要解释。"),
		llm.User(fmt.Sprintf("主题：%s\n请生成最多12个中文关键词（包含同义词/常用简称/相关概念），返回格式：{\"keywords\": [\"词1\",\"词2\",...] }", topic)),
	})
	if err != nil {
		return nil, err
	}
	raw, _ := llm.ExtractObject(text)["keywords"].([]any)
	var kws []string
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			kws = append(kws, s)
		}
		if len(kws) == maxKeywords {
			break
		}
	}
	if len(kws) == 0 {
		return nil, errors.New("no keywords in model output")
	}
	return kws, nil
}
