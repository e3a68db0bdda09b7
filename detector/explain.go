// ============================================
// 文件: detector/explain.go
// 解释生成器 - 基于融合结论与历史数据生成可读上下文
// 只读变换，无副作用
// ============================================
package detector

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Explain 为异常生成结构化解释文本
// 包含：统计学描述、历史复现情况、多指标异常的主要贡献特征
func Explain(a Anomaly, history []MetricSample) string {
	var parts []string

	window := Clean(history).Window
	mean, std := meanStdDev(Values(window))

	// (a) 统计学描述
	if std > epsilon {
		sigma := (a.Value - mean) / std
		direction := "高于"
		if sigma < 0 {
			direction = "低于"
		}
		parts = append(parts, fmt.Sprintf("%s当前值%.2f%s您的常规范围%.1f个标准差(均值%.2f)",
			a.Metric, a.Value, direction, math.Abs(sigma), mean))
	} else {
		parts = append(parts, fmt.Sprintf("%s当前值%.2f明显偏离历史常量水平%.2f", a.Metric, a.Value, mean))
	}

	// (b) 历史复现：统计相近幅度的偏离出现过几次
	count, lastSeen := recurrence(window, mean, math.Abs(a.Value-mean))
	if count > 0 {
		parts = append(parts, fmt.Sprintf("过去出现过%d次类似波动，最近一次在%s",
			count, lastSeen.Format("2006-01-02")))
	} else {
		parts = append(parts, "历史数据中未出现过类似波动")
	}

	// (c) 多指标异常的主要贡献特征
	if len(a.ContributingFeatures) > 0 {
		top := topFeatures(a.ContributingFeatures, 3)
		parts = append(parts, fmt.Sprintf("主要贡献特征: %s", strings.Join(top, ", ")))
	}

	methods := make([]string, len(a.ContributingMethods))
	for i, m := range a.ContributingMethods {
		methods[i] = string(m)
	}
	parts = append(parts, fmt.Sprintf("命中方法: %s", strings.Join(methods, ", ")))

	return strings.Join(parts, "；")
}

// SuggestedActions 生成建议操作列表（由展示层渲染，核心不负责任何投递）
func SuggestedActions(a Anomaly) []string {
	actions := []string{"标记为对我正常（降低该指标此类提醒的敏感度）"}

	switch a.Severity {
	case SeverityCritical, SeverityHigh:
		actions = append(actions, "查看该时间段的详细记录，确认是否有特殊活动")
		actions = append(actions, "若身体确有不适，建议咨询专业医疗意见")
	case SeverityMedium:
		actions = append(actions, "持续观察该指标接下来几天的走势")
	default:
		actions = append(actions, "无需立即处理，可在趋势页查看上下文")
	}
	return actions
}

// recurrence 统计历史中偏离幅度达到当前80%以上的样本
func recurrence(window []MetricSample, mean, deviation float64) (int, time.Time) {
	if deviation < epsilon {
		return 0, time.Time{}
	}
	threshold := deviation * 0.8
	count := 0
	var lastSeen time.Time
	for _, s := range window {
		if math.Abs(*s.Value-mean) >= threshold {
			count++
			if s.Timestamp.After(lastSeen) {
				lastSeen = s.Timestamp
			}
		}
	}
	return count, lastSeen
}

// topFeatures 按贡献权重降序取前n个特征（权重相同按名称排序，保证确定性）
func topFeatures(features map[string]float64, n int) []string {
	type fw struct {
		name   string
		weight float64
	}
	ranked := make([]fw, 0, len(features))
	for name, weight := range features {
		ranked = append(ranked, fw{name, weight})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].name < ranked[j].name
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fmt.Sprintf("%s(%.0f%%)", ranked[i].name, ranked[i].weight*100)
	}
	return out
}
