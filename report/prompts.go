package report

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/llm"
)

const (
	classicSnippet = 800
	expertSnippet  = 300
)

const classicSystem = "你是一名资深舆情分析师。请以简洁、结构化的Markdown输出分析报告，避免虚构，保持客观。所有判断仅依据已抓取到的正文内容，不得使用检索摘要或未验证线索。"

const structureSystem = "你是资深舆情分析师与风险顾问。所有关键判断必须由可验证来源支撑；仅依据已抓取到的正文进行判断；对不确定内容以审慎语气表达；明确争议点与信息边界；建议需具备行动、理由、风险、优先级。"

const markdownSystem = "你是资深舆情分析师与风险顾问。风格为学术审慎；避免绝对化；明确争议与边界；所有关键判断必须在句末用 [n] 引用（n 对应参考来源）。不得加入对用户的解释性文字。"

// ClassicMessages builds the single-stage prompt. Only items carrying
// article text are listed; search snippets never reach the model.
func ClassicMessages(topic string, items []evidence.Item) []llm.Message {
	var lines []string
	for _, it := range items {
		if !it.HasText() {
			continue
		}
		src := firstNonEmpty(it.ArticleTitle, it.Title, it.Source)
		lines = append(lines, fmt.Sprintf("- 来源: %s\n  链接: %s\n  摘要: %s",
			src, it.Href, evidence.Truncate(strings.TrimSpace(it.ArticleText), classicSnippet)))
	}
	user := fmt.Sprintf("主题: %s\n\n"+
		"请严格基于以下“已抓取正文”的证据列表生成结构化的Markdown报告，包含：\n"+
		"1) 舆情概览 2) 关键信息点 3) 风险与争议 4) 结论与建议 5) 参考来源列表。\n"+
		"报告用中文，条理清晰，适合直接导出为PDF。\n\n"+
		"证据列表:\n%s\n", topic, strings.Join(lines, "\n\n"))
	return []llm.Message{llm.System(classicSystem), llm.User(user)}
}

// EvidenceBlock numbers the text-bearing items from 1. The numbers are the
// evidence ids the structured stage cites.
func EvidenceBlock(items []evidence.Item) string {
	var entries []string
	idx := 0
	for _, it := range items {
		if !it.HasText() {
			continue
		}
		idx++
		title := firstNonEmpty(it.ArticleTitle, it.Title, it.Source, "来源")
		summary := strings.ReplaceAll(strings.TrimSpace(it.ArticleText), "\n", " ")
		if len([]rune(summary)) > expertSnippet {
			summary = evidence.Truncate(summary, expertSnippet) + "…"
		}
		entries = append(entries, fmt.Sprintf("[%d] 标题：%s\n来源：%s\n链接：%s\n日期：%s\n摘要（正文摘录）：%s\n",
			idx, title, it.Source, it.Href, it.Date, summary))
	}
	return strings.Join(entries, "\n")
}

// StructureMessages builds the expert stage 1 prompt asking for strict JSON.
func StructureMessages(topic string, items []evidence.Item) []llm.Message {
	user := fmt.Sprintf("主题：%s\n\n请基于以下证据列表，输出严格 JSON（不包含任何解释文本）。\n", topic) +
		"JSON 结构要求：\n" +
		"- summary: [{ text }]\n" +
		"- topics: [{ id, name, claim, evidence_ids, counter_evidence_ids, impact, confidence, confidence_reason }]\n" +
		"- risks: [{ name, level, reason, trigger, mitigation, dimensions }]（维度需覆盖：品牌、政策监管、法律合规、安全、公众感知、财务、舆论引爆可能性）\n" +
		"- stakeholders: [{ name, type, stance, motivation, evidence_ids }]\n" +
		"- recommendations: [{ action, reason, risks, priority, horizon }]（优先级用 P0/P1/P2）\n" +
		"- references: [{ id, title, source, url, date }]\n\n" +
		"要求：\n" +
		"1) 每个 claim 必须由 evidence_ids 支撑，证据仅来自已抓取的正文；存在冲突信息时填写 counter_evidence_ids，并在 confidence_reason 解释不确定性。\n" +
		"2) confidence 使用 高/中/低，并写明理由（来源类型、一致性、时间新鲜度、是否有反证）。\n" +
		"3) 仅返回 JSON，不要附加解释。\n\n" +
		"证据列表：\n" + EvidenceBlock(items)
	return []llm.Message{llm.System(structureSystem), llm.User(user)}
}

// MarkdownMessages builds the expert stage 2 prompt. jsonText is passed as
// the model returned it.
func MarkdownMessages(topic, jsonText string) []llm.Message {
	user := fmt.Sprintf("请将下面的结构化 JSON（主题：%s）转写为中文 Markdown 专家报告，统一模板如下：\n", topic) +
		"1) 执行摘要（3–5条要点；包含2–3条建议并标注优先级）\n" +
		"2) 舆情概览（时间线与关键节点；来源与传播路径；话题簇简表）\n" +
		"3) 关键议题分析（每簇：主张→证据→反证/争议→影响→置信度【中等且给出理由】）\n" +
		"   影响维度需覆盖：品牌、政策监管、法律合规、安全、公众感知、财务\n" +
		"4) 风险与影响评估（风险清单：等级、理由、触发条件、缓释措施；包含“舆论引爆可能性”维度；给出简要风险矩阵）\n" +
		"5) 利益相关方与立场（媒体/机构/KOL/受众的态度、动机与诉求）\n" +
		"6) 结论与建议（短期与中长期；行动、理由、风险、优先级）\n" +
		"7) 参考来源（[n] 标题 — 来源 — 链接 — 日期；正文中每个议题仅展示2–3个代表性引用，其余在参考来源保留）\n\n" +
		"约束：全文不超过3500字；文中所有关键判断必须用 [n] 引用；每个议题末尾注明“置信度：中等（理由…）”。\n\n" +
		"结构化 JSON：\n```json\n" + jsonText + "\n```"
	return []llm.Message{llm.System(markdownSystem), llm.User(user)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
