// ============================================
// 文件: detector/density.go
// 密度检测器 - 局部离群因子(LOF)
// 比较样本局部密度与近邻密度，捕捉全局统计不可见的上下文异常
// ============================================
package detector

import (
	"math"
	"sort"
)

// LOFDetector 局部离群因子检测器
// 单指标窗口被嵌入为(标准化数值, 标准化一阶差分)的二维点，
// 使“绝对值正常但偏离邻近时间走势”的点也能被隔离出来
type LOFDetector struct{}

// NewLOFDetector 创建LOF检测器
func NewLOFDetector() *LOFDetector { return &LOFDetector{} }

func (d *LOFDetector) ID() DetectorID  { return DetectorLOF }
func (d *LOFDetector) Available() bool { return true }

// Detect 计算窗口内每个点的LOF，比值显著大于1表示局部离群
func (d *LOFDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	n := len(req.Window)
	if n < p.MinWindowPoints {
		return nil, nil
	}

	points, ok := embedWindow(Values(req.Window))
	if !ok {
		return nil, nil // 常量序列，密度无意义
	}

	k := p.LOFNeighbors
	if k > n-1 {
		k = n - 1
	}

	// 全量距离矩阵（窗口规模有限，O(n²)可接受）
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(points[i], points[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	// 每个点的k近邻（距离相同按下标排序，保证确定性）
	neighbors := make([][]int, n)
	kDistance := make([]float64, n)
	for i := 0; i < n; i++ {
		order := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				order = append(order, j)
			}
		}
		sort.Slice(order, func(a, b int) bool {
			if dist[i][order[a]] != dist[i][order[b]] {
				return dist[i][order[a]] < dist[i][order[b]]
			}
			return order[a] < order[b]
		})
		neighbors[i] = order[:k]
		kDistance[i] = dist[i][order[k-1]]
	}

	// 局部可达密度 lrd(a) = k / Σ reach-dist(a,b)
	// 超过k个点完全重合时可达距离和为0，密度先记为退化，
	// 第二遍用窗口内最大有限密度封顶，避免在邻居平均中淹没其他点
	lrd := make([]float64, n)
	var maxFiniteLRD float64
	for i := 0; i < n; i++ {
		var sum float64
		for _, j := range neighbors[i] {
			reach := dist[i][j]
			if kDistance[j] > reach {
				reach = kDistance[j]
			}
			sum += reach
		}
		if sum < epsilon {
			lrd[i] = math.Inf(1)
			continue
		}
		lrd[i] = float64(k) / sum
		if lrd[i] > maxFiniteLRD {
			maxFiniteLRD = lrd[i]
		}
	}
	if maxFiniteLRD < epsilon {
		maxFiniteLRD = 1
	}
	for i := range lrd {
		if math.IsInf(lrd[i], 1) {
			lrd[i] = maxFiniteLRD
		}
	}

	var results []DetectorResult
	for i, s := range req.Window {
		// 嵌入点与近邻完全重合说明该(数值,变化)组合在窗口内反复出现，
		// 是个人基线的既有模式而不是离群点
		if dist[i][neighbors[i][0]] < epsilon {
			continue
		}

		var neighborLRD float64
		for _, j := range neighbors[i] {
			neighborLRD += lrd[j]
		}
		lof := neighborLRD / float64(k) / lrd[i]

		if lof <= p.LOFThreshold {
			continue
		}
		results = append(results, DetectorResult{
			DetectorID:      DetectorLOF,
			Timestamp:       s.Timestamp,
			Metric:          req.Metric,
			RawScore:        lof,
			NormalizedScore: clamp01((lof - 1) / (2 * (p.LOFThreshold - 1))),
			Fired:           true,
		})
	}
	return results, nil
}

// embedWindow 将数值序列嵌入为(标准化值, 标准化差分)的二维点集
func embedWindow(values []float64) ([][2]float64, bool) {
	mean, std := meanStdDev(values)
	if std < epsilon {
		return nil, false
	}

	deltas := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		deltas[i] = values[i] - values[i-1]
	}
	dMean, dStd := meanStdDev(deltas)
	if dStd < epsilon {
		dStd = 1 // 等差序列：差分维度退化为常量，不参与区分
	}

	points := make([][2]float64, len(values))
	for i, v := range values {
		points[i] = [2]float64{(v - mean) / std, (deltas[i] - dMean) / dStd}
	}
	return points, true
}

// euclidean 二维欧氏距离
func euclidean(a, b [2]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}
