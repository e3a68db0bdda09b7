// ============================================
// 文件: detector/temporal.go
// 时序检测器 - 滑动窗口预测 + 重构误差评分（可降级能力）
// ============================================
package detector

import "math"

// TemporalDetector 时序检测器
// 在滑动窗口上训练短期线性预测器得到期望值，
// 残差(实际-预测)相对残差分布的标准化距离作为重构误差得分。
// 历史不足以训练时静默弃权，编排器在无此能力时照常推进
type TemporalDetector struct {
	available bool
}

// NewTemporalDetector 创建时序检测器
// available在构造时声明（能力协商），不可用时不进入活跃检测集合
func NewTemporalDetector(available bool) *TemporalDetector {
	return &TemporalDetector{available: available}
}

func (d *TemporalDetector) ID() DetectorID  { return DetectorTemporal }
func (d *TemporalDetector) Available() bool { return d.available }

// Detect 对窗口尾部（有足够前置历史的点）计算重构误差异常
func (d *TemporalDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	if !d.available {
		return nil, ErrDetectorUnavailable
	}

	w := p.TemporalWindow
	n := len(req.Window)
	// 至少需要一个完整训练窗口加MinWindowPoints个可评分的残差
	if n < w+p.MinWindowPoints {
		return nil, nil
	}

	values := Values(req.Window)

	// 逐点滑动训练：用前w个点拟合，预测当前点
	residuals := make([]float64, 0, n-w)
	for i := w; i < n; i++ {
		slope, intercept := linearFit(values[i-w : i])
		predicted := slope*float64(w) + intercept
		residuals = append(residuals, values[i]-predicted)
	}

	rMean, rStd := meanStdDev(residuals)
	if rStd < epsilon {
		return nil, nil // 残差无波动，无可检测信号
	}

	var results []DetectorResult
	for idx, r := range residuals {
		i := w + idx
		rz := (r - rMean) / rStd
		if math.Abs(rz) > p.ZScoreThreshold {
			results = append(results, DetectorResult{
				DetectorID:      DetectorTemporal,
				Timestamp:       req.Window[i].Timestamp,
				Metric:          req.Metric,
				RawScore:        rz,
				NormalizedScore: normalizeScore(rz, p.ZScoreThreshold),
				Fired:           true,
			})
		}
	}
	return results, nil
}

// linearFit 以下标为自变量的最小二乘拟合，返回斜率和截距
func linearFit(values []float64) (slope, intercept float64) {
	n := float64(len(values))
	if n < 2 {
		if n == 1 {
			return 0, values[0]
		}
		return 0, 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if math.Abs(denominator) < epsilon {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denominator
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
