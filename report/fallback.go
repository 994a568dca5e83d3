package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
)

const (
	fallbackSnippet = 180
	histogramTop    = 8
)

// Fallback renders a deterministic report from the evidence alone. It needs
// no model and cannot fail, so every request ends with a readable report.
func Fallback(topic string, items []evidence.Item) string {
	if topic == "" {
		topic = "报告"
	}
	dist := Histogram(items)

	var lines []string
	add := func(l ...string) { lines = append(lines, l...) }

	add("# "+topic, "")

	add("## 执行摘要",
		fmt.Sprintf("- 线索覆盖：命中 %d 条；来源分布：%s。", len(items), dist), "")

	add("## 舆情概览",
		fmt.Sprintf("- 命中条数：%d", len(items)),
		"- 来源分布："+dist, "")

	add("## 关键议题分析")
	for _, it := range items {
		text := strings.TrimSpace(it.ArticleText)
		if text == "" {
			continue
		}
		title := firstNonEmpty(it.ArticleTitle, it.Title, it.Source, "未命名")
		add(fmt.Sprintf("- [%s](%s) — %s", title, it.Href, it.Source))
		snippet := strings.ReplaceAll(text, "\n", " ")
		if len([]rune(snippet)) > fallbackSnippet {
			snippet = evidence.Truncate(snippet, fallbackSnippet) + "…"
		}
		add("  \n  摘要（正文摘录）：" + snippet)
	}
	add("")

	add("## 风险与影响评估",
		"- 品牌：结合正文线索评估正负面曝光与情感倾向（待补充）。",
		"- 政策监管/法律合规：关注监管动向与合规要求（待补充）。",
		"- 安全与公众感知：识别潜在安全事件与公众敏感点（待补充）。",
		"- 财务：关注商业化进度、投入产出与成本压力（待补充）。",
		"- 舆论引爆可能性：监测社交平台传播态势与关键节点（待补充）。",
		"")

	add("## 利益相关方与立场",
		"- 媒体/KOL/机构/受众的态度与动机将随证据集完善补充。", "")

	add("## 结论与建议",
		"- 根据当前已抓取的正文线索，建议持续跟踪并补充证据；在模型服务可用时生成完整专家版报告。", "")

	add("## 参考来源")
	for _, it := range items {
		title := firstNonEmpty(it.Title, it.ArticleTitle, it.Source, "来源")
		add(fmt.Sprintf("- [%s](%s) — %s", title, it.Href, it.Source))
	}
	add("")

	return strings.Join(lines, "\n")
}

// Histogram formats the source distribution as "a.com×3, b.com×1": count
// descending, then name, at most eight entries. Items without Source are
// not counted.
func Histogram(items []evidence.Item) string {
	counts := make(map[string]int)
	for _, it := range items {
		if it.Source != "" {
			counts[it.Source]++
		}
	}
	if len(counts) == 0 {
		return "无可用来源"
	}
	type entry struct {
		name string
		n    int
	}
	entries := make([]entry, 0, len(counts))
	for name, n := range counts {
		entries = append(entries, entry{name, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].n != entries[j].n {
			return entries[i].n > entries[j].n
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > histogramTop {
		entries = entries[:histogramTop]
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s×%d", e.name, e.n)
	}
	return strings.Join(parts, ", ")
}
