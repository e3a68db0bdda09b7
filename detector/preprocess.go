// ============================================
// 文件: detector/preprocess.go
// 信号预处理器 - 序列校验与清洗
// ============================================
package detector

import (
	"math"
	"sort"
	"time"
)

// CleanResult 清洗结果统计
type CleanResult struct {
	Window  []MetricSample // 清洗后的窗口（升序、无缺测、无重复时间戳）
	Skipped int            // 被跳过的样本数（缺测、NaN、重复时间戳）
}

// Clean 校验并清洗单指标序列
// 缺测(nil)、NaN/Inf样本被跳过而非报错；同一时间戳的重复样本保留首个
func Clean(series []MetricSample) CleanResult {
	out := make([]MetricSample, 0, len(series))
	skipped := 0

	for _, s := range series {
		if s.Value == nil {
			skipped++
			continue
		}
		v := *s.Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		out = append(out, s)
	}

	// 按时间升序排列（稳定排序保证同时间戳时保留先出现的样本）
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	// 去除重复时间戳
	dedup := out[:0]
	var last time.Time
	for i, s := range out {
		if i > 0 && s.Timestamp.Equal(last) {
			skipped++
			continue
		}
		dedup = append(dedup, s)
		last = s.Timestamp
	}

	return CleanResult{Window: dedup, Skipped: skipped}
}

// Values 提取窗口中的数值序列
func Values(window []MetricSample) []float64 {
	values := make([]float64, len(window))
	for i, s := range window {
		values[i] = *s.Value
	}
	return values
}

// BuildFeatureMatrix 将多个并发采样的指标按时间桶对齐为特征矩阵
// 只保留所有指标都有样本的时间桶；列按指标名升序，保证结果确定性
func BuildFeatureMatrix(seriesByMetric map[string][]MetricSample, bucket time.Duration) *FeatureMatrix {
	if len(seriesByMetric) == 0 {
		return nil
	}
	if bucket <= 0 {
		bucket = time.Minute
	}

	names := make([]string, 0, len(seriesByMetric))
	for name := range seriesByMetric {
		names = append(names, name)
	}
	sort.Strings(names)

	// 每个指标：时间桶→样本（桶内取首个，保留原始时间戳）
	buckets := make([]map[int64]MetricSample, len(names))
	for i, name := range names {
		m := make(map[int64]MetricSample)
		cleaned := Clean(seriesByMetric[name]).Window
		for _, s := range cleaned {
			key := s.Timestamp.Truncate(bucket).Unix()
			if _, ok := m[key]; !ok {
				m[key] = s
			}
		}
		buckets[i] = m
	}

	// 以全部指标的交集时间桶构建行
	keys := make([]int64, 0, len(buckets[0]))
	for key := range buckets[0] {
		present := true
		for _, m := range buckets[1:] {
			if _, ok := m[key]; !ok {
				present = false
				break
			}
		}
		if present {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]FeatureVector, 0, len(keys))
	for _, key := range keys {
		values := make([]float64, len(names))
		timestamps := make([]time.Time, len(names))
		for i := range names {
			s := buckets[i][key]
			values[i] = *s.Value
			timestamps[i] = s.Timestamp
		}
		rows = append(rows, FeatureVector{
			Timestamp:  time.Unix(key, 0).UTC(),
			Timestamps: timestamps,
			Values:     values,
		})
	}

	return &FeatureMatrix{Names: names, Rows: rows}
}
