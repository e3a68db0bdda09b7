// ============================================
// 文件: detector/ensemble.go
// 融合器 - 将各检测方法的结果合并为每(指标,时间戳)一个结论
// ============================================
package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// decisiveScore 单一方法得分超过该值时直接采用最大值策略
const decisiveScore = 0.9

// Combine 融合一个指标的全部检测结果
// 个性化乘数在此统一生效：scaled = normalized / multiplier，
// 乘数越大门槛越高，过度敏感的方法被压制。
// 每个(指标,时间戳)至多产出一个Anomaly，多方法命中时合并contributing_methods
func Combine(metric string, window []MetricSample, results []DetectorResult,
	thresholds map[DetectorID]PersonalThreshold, p Params, now time.Time) []Anomaly {

	p = p.Normalize()

	// 按时间戳聚合触发结果
	groups := make(map[int64][]DetectorResult)
	for _, r := range results {
		if !r.Fired {
			continue
		}
		key := r.Timestamp.UnixNano()
		groups[key] = append(groups[key], r)
	}
	if len(groups) == 0 {
		return nil
	}

	// 时间戳→样本值
	valueAt := make(map[int64]float64, len(window))
	for _, s := range window {
		if s.Value != nil {
			valueAt[s.Timestamp.UnixNano()] = *s.Value
		}
	}

	keys := make([]int64, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var anomalies []Anomaly
	for _, key := range keys {
		group := groups[key]

		// 同一方法多次命中同一时间戳时保留得分最高的一条
		byMethod := make(map[DetectorID]DetectorResult)
		for _, r := range group {
			if prev, ok := byMethod[r.DetectorID]; !ok || r.NormalizedScore > prev.NormalizedScore {
				byMethod[r.DetectorID] = r
			}
		}

		methods := make([]DetectorID, 0, len(byMethod))
		for id := range byMethod {
			methods = append(methods, id)
		}
		sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

		var maxScaled, weightedSum, weightTotal float64
		features := map[string]float64{}
		for _, id := range methods {
			r := byMethod[id]
			multiplier := 1.0
			if t, ok := thresholds[id]; ok && t.Multiplier > 0 {
				multiplier = ClampMultiplier(t.Multiplier)
			}
			scaled := clamp01(r.NormalizedScore / multiplier)

			if scaled > maxScaled {
				maxScaled = scaled
			}
			weight := 1.0
			if w, ok := p.Weights[id]; ok && w > 0 {
				weight = w
			}
			weightedSum += weight * scaled
			weightTotal += weight

			for name, contribution := range r.Features {
				features[name] = contribution
			}
		}

		// 有方法给出决定性得分时取最大值，否则按权重平均
		ensembleScore := weightedSum / weightTotal
		if maxScaled > decisiveScore {
			ensembleScore = maxScaled
		}
		if ensembleScore <= p.DecisionThreshold {
			continue
		}

		ts := time.Unix(0, key).UTC()
		if len(features) == 0 {
			features = nil
		}
		anomalies = append(anomalies, Anomaly{
			ID:                   AnomalyID(metric, ts, methods),
			Timestamp:            ts,
			Metric:               metric,
			Value:                valueAt[key],
			EnsembleScore:        ensembleScore,
			Severity:             SeverityFromEnsemble(ensembleScore),
			ContributingMethods:  methods,
			ContributingFeatures: features,
			CreatedAt:            now,
		})
	}
	return anomalies
}

// AnomalyID 稳定的异常标识：metric+timestamp+方法集合的哈希前16位
func AnomalyID(metric string, ts time.Time, methods []DetectorID) string {
	parts := make([]string, len(methods))
	for i, id := range methods {
		parts[i] = string(id)
	}
	sort.Strings(parts)
	payload := fmt.Sprintf("%s|%d|%s", metric, ts.UnixNano(), strings.Join(parts, ","))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
