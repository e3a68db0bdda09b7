// ============================================
// 文件: detector/isolation.go
// 多指标孤立森林检测器
// 随机划分树隔离样本，路径越短越异常
// ============================================
package detector

import (
	"math"
	"math/rand"
	"sort"
)

// IsolationForestDetector 孤立森林检测器
// 森林在每次调用内重建（会话级生命周期，无隐藏全局缓存），
// 随机源由固定种子驱动，保证相同输入下结果逐位一致
type IsolationForestDetector struct{}

// NewIsolationForestDetector 创建孤立森林检测器
func NewIsolationForestDetector() *IsolationForestDetector { return &IsolationForestDetector{} }

func (d *IsolationForestDetector) ID() DetectorID  { return DetectorIsolationForest }
func (d *IsolationForestDetector) Available() bool { return true }

// Detect 对特征矩阵逐行评分，contamination决定得分截断点
func (d *IsolationForestDetector) Detect(req Request, p Params) ([]DetectorResult, error) {
	f := req.Features
	if f == nil || len(f.Rows) < p.MinWindowPoints {
		return nil, nil // 无多指标特征或数据不足，弃权
	}

	data := make([][]float64, len(f.Rows))
	for i, row := range f.Rows {
		data[i] = row.Values
	}

	forest := newIsolationForest(p.IsolationTrees, p.IsolationSubsample, p.RandomSeed)
	forest.fit(data)

	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = forest.score(sample)
	}

	cutoff := contaminationCutoff(scores, p.Contamination)

	// 特征列的均值/标准差，用于解释“哪个特征让这个点显得异常”
	colMeans, colStds := columnStats(data)

	// 目标指标在特征列中的下标（可能不在矩阵里）
	metricCol := -1
	for i, name := range f.Names {
		if name == req.Metric {
			metricCol = i
			break
		}
	}

	// 归因份额下限：均摊份额留一成容差，对称的联合异常两列各占约50%，
	// 不因数值噪声导致其中一列被漏报
	minShare := attributionSlack / float64(len(f.Names))

	var results []DetectorResult
	for i, row := range f.Rows {
		s := scores[i]
		if s < cutoff || s <= 0.5 {
			continue
		}
		contributions := featureContributions(f.Names, row.Values, colMeans, colStds)
		// 联合异常归因到贡献达到份额下限的指标，避免同一行在每个目标指标下重复上报
		if metricCol >= 0 && contributions != nil && contributions[f.Names[metricCol]] < minShare {
			continue
		}
		// 结论挂在目标指标的原始样本时间戳上，与其他方法的结果按时间戳合并
		ts := row.Timestamp
		if metricCol >= 0 && len(row.Timestamps) == len(f.Names) {
			ts = row.Timestamps[metricCol]
		}
		results = append(results, DetectorResult{
			DetectorID:      DetectorIsolationForest,
			Timestamp:       ts,
			Metric:          req.Metric,
			RawScore:        s,
			NormalizedScore: clamp01((s - 0.5) * 2),
			Fired:           true,
			Features:        contributions,
		})
	}
	return results, nil
}

// attributionSlack 归因份额下限相对均摊份额的折扣
const attributionSlack = 0.9

// contaminationCutoff 取得分的(1-contamination)分位作为截断点
func contaminationCutoff(scores []float64, contamination float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(len(sorted))*(1-contamination))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// featureContributions 各特征的标准化偏离，归一化为权重（降序可由调用方排序）
func featureContributions(names []string, values, means, stds []float64) map[string]float64 {
	devs := make([]float64, len(names))
	var total float64
	for i := range names {
		if stds[i] < epsilon {
			continue
		}
		devs[i] = math.Abs(values[i]-means[i]) / stds[i]
		total += devs[i]
	}
	if total < epsilon {
		return nil
	}
	contributions := make(map[string]float64, len(names))
	for i, name := range names {
		contributions[name] = devs[i] / total
	}
	return contributions
}

// columnStats 特征矩阵每列的均值与标准差
func columnStats(data [][]float64) ([]float64, []float64) {
	if len(data) == 0 {
		return nil, nil
	}
	cols := len(data[0])
	means := make([]float64, cols)
	stds := make([]float64, cols)
	n := float64(len(data))

	for _, row := range data {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}
	for _, row := range data {
		for j, v := range row {
			stds[j] += (v - means[j]) * (v - means[j])
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
	}
	return means, stds
}

// isolationForest 随机划分树集合
type isolationForest struct {
	numTrees      int
	subsampleSize int
	trees         []*isolationTree
	avgPathLength float64
	rng           *rand.Rand
}

func newIsolationForest(numTrees, subsampleSize int, seed int64) *isolationForest {
	return &isolationForest{
		numTrees:      numTrees,
		subsampleSize: subsampleSize,
		trees:         make([]*isolationTree, numTrees),
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// fit 构建森林；树按固定顺序串行生长以保持确定性
func (f *isolationForest) fit(data [][]float64) {
	f.avgPathLength = harmonicPathLength(len(data))

	maxHeight := int(math.Ceil(math.Log2(float64(f.subsampleSize))))
	for i := 0; i < f.numTrees; i++ {
		sample := f.subsample(data)
		tree := &isolationTree{maxHeight: maxHeight}
		tree.fit(sample, 0, f.rng)
		f.trees[i] = tree
	}
}

// subsample 随机子采样（Fisher-Yates前size项）
func (f *isolationForest) subsample(data [][]float64) [][]float64 {
	n := len(data)
	size := f.subsampleSize
	if size > n {
		size = n
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + f.rng.Intn(n-i)
		indices[i], indices[j] = indices[j], indices[i]
	}

	sample := make([][]float64, size)
	for i := 0; i < size; i++ {
		sample[i] = data[indices[i]]
	}
	return sample
}

// score 异常得分 s(x,n) = 2^(-E(h(x))/c(n))
func (f *isolationForest) score(sample []float64) float64 {
	if f.avgPathLength < epsilon {
		return 0.5
	}
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += tree.pathLength(sample, 0)
	}
	avgPath := totalPath / float64(f.numTrees)
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// isolationTree 孤立森林中的单棵随机划分树
type isolationTree struct {
	maxHeight    int
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

func (t *isolationTree) fit(data [][]float64, depth int, rng *rand.Rand) {
	t.size = len(data)

	if len(data) <= 1 || depth >= t.maxHeight {
		t.isLeaf = true
		return
	}
	numFeatures := len(data[0])
	if numFeatures == 0 {
		t.isLeaf = true
		return
	}

	t.splitFeature = rng.Intn(numFeatures)

	minVal, maxVal := data[0][t.splitFeature], data[0][t.splitFeature]
	for _, row := range data[1:] {
		if row[t.splitFeature] < minVal {
			minVal = row[t.splitFeature]
		}
		if row[t.splitFeature] > maxVal {
			maxVal = row[t.splitFeature]
		}
	}
	if maxVal-minVal < epsilon {
		t.isLeaf = true
		return
	}

	t.splitValue = minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[t.splitFeature] < t.splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}
	if len(leftData) == 0 || len(rightData) == 0 {
		t.isLeaf = true
		return
	}

	t.left = &isolationTree{maxHeight: t.maxHeight}
	t.right = &isolationTree{maxHeight: t.maxHeight}
	t.left.fit(leftData, depth+1, rng)
	t.right.fit(rightData, depth+1, rng)
}

// pathLength 样本在树中的隔离路径长度
func (t *isolationTree) pathLength(sample []float64, depth int) float64 {
	if t.isLeaf {
		return float64(depth) + harmonicPathLength(t.size)
	}
	if len(sample) <= t.splitFeature {
		return float64(depth)
	}
	if sample[t.splitFeature] < t.splitValue {
		if t.left != nil {
			return t.left.pathLength(sample, depth+1)
		}
	} else if t.right != nil {
		return t.right.pathLength(sample, depth+1)
	}
	return float64(depth)
}

// harmonicPathLength 未展开子树的平均路径长度修正项 c(n)
func harmonicPathLength(n int) float64 {
	if n > 2 {
		return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
	}
	if n == 2 {
		return 1.0
	}
	return 0
}

// clamp01 限制到[0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
