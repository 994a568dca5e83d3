package analysis

import "fmt"

// NoticeConfig sets when a run is flagged as thin.
type NoticeConfig struct {
	LowFetchRate float64 // default 0.4
	MinDocs      int     // default 3
}

func (n *NoticeConfig) defaults() {
	if n.LowFetchRate <= 0 {
		n.LowFetchRate = 0.4
	}
	if n.MinDocs <= 0 {
		n.MinDocs = 3
	}
}

// Message returns the advisory shown next to the report, or "". It never
// goes into the report body. An empty search wins over a low fetch rate,
// which wins over a model failure.
func (n NoticeConfig) Message(searchEmpty bool, got, total int, modelFailed bool) string {
	n.defaults()
	if searchEmpty {
		return "当前检索为空，已生成草稿报告；建议调整主题或稍后重试。"
	}
	rate := 0.0
	if total > 0 {
		rate = float64(got) / float64(total)
	}
	if got < n.MinDocs || rate < n.LowFetchRate {
		return fmt.Sprintf("当前抓取成功 %d/%d（%d%%），内容不足，建议调整主题或稍后重新运行。", got, total, int(rate*100))
	}
	if modelFailed {
		return "模型服务暂不可用，已返回草稿报告；建议稍后重新运行。"
	}
	return ""
}
