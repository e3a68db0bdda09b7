// ============================================
// 文件: detector/statistical.go
// 统计类检测器 - Z-score、修正Z-score(MAD)、IQR
// 纯函数式、无状态，作用于单指标窗口
// ============================================
package detector

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// degenerateScore 退化窗口（标准差为0但存在偏离点）时的封顶得分
	// 取值高于critical档位，保证常量序列中的突变点必然触发
	degenerateScore = 8.0

	// iqrPseudoSigmaFence 1.5·IQR围栏换算成伪σ的触发距离
	// 围栏到中位数约2·IQR，除以IQR/1.349得到≈2.7σ
	iqrPseudoSigmaFence = 2.698

	epsilon = 1e-12
)

// ZScoreDetector Z-score检测器
// 每个点相对其余n-1个点（留一法）计算标准化距离，
// 避免异常点自身抬高窗口方差导致漏报
type ZScoreDetector struct{}

// NewZScoreDetector 创建Z-score检测器
func NewZScoreDetector() *ZScoreDetector { return &ZScoreDetector{} }

func (d *ZScoreDetector) ID() DetectorID  { return DetectorZScore }
func (d *ZScoreDetector) Available() bool { return true }

// Detect 检测窗口内的Z-score异常
func (d *ZScoreDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	if len(req.Window) < p.MinWindowPoints {
		return nil, nil // 数据不足，弃权
	}

	values := Values(req.Window)
	n := float64(len(values))
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}

	var results []DetectorResult
	for i, s := range req.Window {
		x := values[i]
		n1 := n - 1
		mean := (sum - x) / n1
		variance := (sumSq-x*x)/n1 - mean*mean
		if variance < 0 {
			variance = 0
		}
		std := math.Sqrt(variance)

		var z float64
		if std < epsilon {
			if math.Abs(x-mean) < epsilon {
				continue // 常量窗口中的常量点，无异常
			}
			// 退化窗口：其余点完全一致而该点偏离，视为极端异常
			z = degenerateScore
			if x < mean {
				z = -degenerateScore
			}
		} else {
			z = (x - mean) / std
		}

		if math.Abs(z) > p.ZScoreThreshold {
			results = append(results, DetectorResult{
				DetectorID:      DetectorZScore,
				Timestamp:       s.Timestamp,
				Metric:          req.Metric,
				RawScore:        z,
				NormalizedScore: normalizeScore(z, p.ZScoreThreshold),
				Fired:           true,
			})
		}
	}
	return results, nil
}

// ModifiedZScoreDetector 修正Z-score检测器（基于中位数和MAD）
// 对非正态分布更稳健；MAD为0时弃权而不是除零
type ModifiedZScoreDetector struct{}

// NewModifiedZScoreDetector 创建修正Z-score检测器
func NewModifiedZScoreDetector() *ModifiedZScoreDetector { return &ModifiedZScoreDetector{} }

func (d *ModifiedZScoreDetector) ID() DetectorID  { return DetectorModifiedZScore }
func (d *ModifiedZScoreDetector) Available() bool { return true }

// Detect 检测窗口内的修正Z-score异常
func (d *ModifiedZScoreDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	if len(req.Window) < p.MinWindowPoints {
		return nil, nil
	}

	values := Values(req.Window)
	med := median(values)

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	if mad < epsilon {
		return nil, nil // MAD为0，静默弃权
	}

	var results []DetectorResult
	for i, s := range req.Window {
		mz := 0.6745 * (values[i] - med) / mad
		if math.Abs(mz) > p.ModZScoreThreshold {
			results = append(results, DetectorResult{
				DetectorID:      DetectorModifiedZScore,
				Timestamp:       s.Timestamp,
				Metric:          req.Metric,
				RawScore:        mz,
				NormalizedScore: normalizeScore(mz, p.ModZScoreThreshold),
				Fired:           true,
			})
		}
	}
	return results, nil
}

// IQRDetector 四分位距检测器
type IQRDetector struct{}

// NewIQRDetector 创建IQR检测器
func NewIQRDetector() *IQRDetector { return &IQRDetector{} }

func (d *IQRDetector) ID() DetectorID  { return DetectorIQR }
func (d *IQRDetector) Available() bool { return true }

// Detect 检测超出[Q1-1.5·IQR, Q3+1.5·IQR]围栏的点
// raw score采用伪σ距离 (x-median)/(IQR/1.349)，与统一严重程度映射兼容
func (d *IQRDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	if len(req.Window) < p.MinWindowPoints {
		return nil, nil
	}

	values := Values(req.Window)
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	if iqr < epsilon {
		return nil, nil // IQR为0，弃权
	}

	med := median(values)
	lower := q1 - p.IQRMultiplier*iqr
	upper := q3 + p.IQRMultiplier*iqr
	pseudoSigma := iqr / 1.349

	var results []DetectorResult
	for i, s := range req.Window {
		x := values[i]
		if x >= lower && x <= upper {
			continue
		}
		raw := (x - med) / pseudoSigma
		results = append(results, DetectorResult{
			DetectorID:      DetectorIQR,
			Timestamp:       s.Timestamp,
			Metric:          req.Metric,
			RawScore:        raw,
			NormalizedScore: normalizeScore(raw, iqrPseudoSigmaFence),
			Fired:           true,
		})
	}
	return results, nil
}

// median 中位数（不修改输入）
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// meanStdDev 均值与标准差（总体标准差，供解释生成与特征贡献使用）
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := stat.Mean(values, nil)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
