package provider

import (
	"context"

	"github.com/hazyhaar/rumeur/evidence"
)

type mockPage struct {
	item  evidence.Item
	title string
	text  string
}

var mockPages = []mockPage{
	{
		item: evidence.Item{
			Href:    "https://example.com/aifilm/industry_trends",
			Title:   "AI 电影产业趋势速览",
			Source:  "example.com",
			Summary: "概述近一年 AI 与电影行业的应用进展与典型事件",
			Date:    "2025-06-01",
		},
		title: "AI 电影产业趋势速览",
		text:  "过去一年，生成式 AI 在电影制作各环节的应用更为普及：剧本辅助、分镜与预可视化、特效合成与清洁等均出现效率提升案例。大型制片厂更重视合规与资产管理，小型团队偏向快速试验。资本层面回归理性，关注能落地的场景与成本结构优化。",
	},
	{
		item: evidence.Item{
			Href:    "https://example.com/aifilm/opinion_landscape",
			Title:   "舆情与争议点分布",
			Source:  "example.com",
			Summary: "整理创作者、平台、观众的不同观点与主要争议焦点",
			Date:    "2025-05-20",
		},
		title: "舆情与争议点分布",
		text:  "从创作者看，AI 被视为新工具但需避免风格同质化；从平台看，版权与模型来源透明是重点；从观众看，题材创新与真实质感是核心诉求。共识是：明确署名、数据来源合规、风险提示到位。",
	},
	{
		item: evidence.Item{
			Href:    "https://example.com/aifilm/regulation",
			Title:   "政策与监管动态",
			Source:  "example.com",
			Summary: "归纳近半年政策与行业规范的更新要点",
			Date:    "2025-04-10",
		},
		title: "政策与监管动态",
		text:  "近半年内，行业对训练数据合规、生成内容标识与侵权责任的讨论增多。部分地区出台指导意见，鼓励在可控范围内推进 AI 赋能影视生产，同时强调审查与内容安全要求。",
	},
}

// Mock serves three fixed samples with canned article text. It does no
// network I/O.
type Mock struct {
	opts evidence.Options
}

// NewMock creates the offline provider.
func NewMock(opts evidence.Options) *Mock { return &Mock{opts: opts.Normalized()} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Search(ctx context.Context, _ string) ([]evidence.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]evidence.Item, len(mockPages))
	for i, p := range mockPages {
		items[i] = p.item
	}
	return Rank(items, m.opts), nil
}

// GatherReadables fills canned text; unknown URLs get empty text.
func (m *Mock) GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error) {
	return gather(ctx, items, DefaultReadConcurrency, m.opts.MaxFetch, func(_ context.Context, it evidence.Item) evidence.Item {
		it.ArticleTitle, it.ArticleText = "", ""
		for _, p := range mockPages {
			if p.item.Href == it.Href {
				it.ArticleTitle, it.ArticleText = p.title, p.text
				break
			}
		}
		return it
	})
}
