// ============================================
// 文件: detector/types.go
// 异常检测核心数据模型与检测方法契约
// ============================================
package detector

import (
	"errors"
	"math"
	"time"
)

// Severity 异常严重程度
type Severity string

const (
	SeverityCritical Severity = "critical" // 严重
	SeverityHigh     Severity = "high"     // 高
	SeverityMedium   Severity = "medium"   // 中
	SeverityLow      Severity = "low"      // 低
)

// DetectorID 检测方法标识（封闭集合，禁止运行时字符串分支之外的扩展）
type DetectorID string

const (
	DetectorZScore          DetectorID = "zscore"           // Z-score检测
	DetectorModifiedZScore  DetectorID = "modified_zscore"  // 修正Z-score（基于MAD）
	DetectorIQR             DetectorID = "iqr"              // 四分位距检测
	DetectorIsolationForest DetectorID = "isolation_forest" // 孤立森林（多指标）
	DetectorLOF             DetectorID = "lof"              // 局部离群因子
	DetectorTemporal        DetectorID = "temporal"         // 时序重构误差（可降级能力）
)

// AllDetectorIDs 返回全部检测方法标识（固定顺序，保证结果确定性）
func AllDetectorIDs() []DetectorID {
	return []DetectorID{
		DetectorZScore,
		DetectorModifiedZScore,
		DetectorIQR,
		DetectorIsolationForest,
		DetectorLOF,
		DetectorTemporal,
	}
}

// 错误分类（详见错误处理设计）
var (
	ErrInsufficientData    = errors.New("insufficient data points")       // 窗口过小，检测器弃权
	ErrInvalidSample       = errors.New("invalid sample value")           // 非法样本值（NaN等）
	ErrDetectorUnavailable = errors.New("detector unavailable")           // 可选能力不可用
	ErrTimeoutExceeded     = errors.New("detection deadline exceeded")    // 实时预算超时
	ErrStateConflict       = errors.New("threshold state update conflict") // 阈值状态更新冲突
)

// MetricSample 指标样本（瞬态输入，Value为nil表示缺测）
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Value     *float64  `json:"value"`
}

// DetectorResult 单个检测方法的输出，产出后不可变
type DetectorResult struct {
	DetectorID      DetectorID         `json:"detector_id"`
	Timestamp       time.Time          `json:"timestamp"`
	Metric          string             `json:"metric"`
	RawScore        float64            `json:"raw_score"`
	NormalizedScore float64            `json:"normalized_score"` // 归一化到[0,1]
	Fired           bool               `json:"fired"`
	Features        map[string]float64 `json:"features,omitempty"` // 仅多指标检测填充：特征→贡献权重
}

// Anomaly 融合后的异常结论（对外契约）
type Anomaly struct {
	ID                   string             `json:"id"` // metric+timestamp+方法集合的稳定哈希
	Timestamp            time.Time          `json:"timestamp"`
	Metric               string             `json:"metric"`
	Value                float64            `json:"value"`
	EnsembleScore        float64            `json:"ensemble_score"`
	Severity             Severity           `json:"severity"`
	ContributingMethods  []DetectorID       `json:"contributing_methods"` // 升序排列
	ContributingFeatures map[string]float64 `json:"contributing_features,omitempty"`
	Explanation          string             `json:"explanation"`
	SuggestedActions     []string           `json:"suggested_actions,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// PersonalThreshold 个性化阈值状态，每个(指标,方法)一条
// 仅由反馈处理器写入，融合器在决策时读取
type PersonalThreshold struct {
	Metric             string     `json:"metric"`
	DetectorID         DetectorID `json:"detector_id"`
	Multiplier         float64    `json:"multiplier"` // 初始1.0，限定在[0.1, 10.0]
	FalsePositiveCount int        `json:"false_positive_count"`
	TruePositiveCount  int        `json:"true_positive_count"`
}

// 乘数边界，防止检测器被彻底压制或过度敏感
const (
	MinMultiplier = 0.1
	MaxMultiplier = 10.0
)

// ClampMultiplier 将乘数限制在合法区间
func ClampMultiplier(m float64) float64 {
	if m < MinMultiplier {
		return MinMultiplier
	}
	if m > MaxMultiplier {
		return MaxMultiplier
	}
	return m
}

// FeatureVector 某个时间桶上多个并发指标构成的特征向量
// Timestamps保留每列样本的原始时间戳（与指标列对齐），
// 多指标结论据此挂回目标指标的真实样本点
type FeatureVector struct {
	Timestamp  time.Time // 对齐所用的时间桶起点
	Timestamps []time.Time
	Values     []float64
}

// FeatureMatrix 特征矩阵：Names对应每列的指标名
type FeatureMatrix struct {
	Names []string
	Rows  []FeatureVector
}

// Request 一次检测请求的输入：目标指标的清洗窗口，外加可选的多指标特征
type Request struct {
	Metric   string
	Window   []MetricSample // 已清洗、按时间升序、无缺测
	Features *FeatureMatrix // 为nil时多指标检测弃权
}

// Detector 检测方法的统一契约
// 数据不足时返回(nil, nil)弃权，而不是错误
type Detector interface {
	ID() DetectorID
	// Available 能力协商：构造时声明是否可用，不可用的方法不进入活跃集合
	Available() bool
	Detect(req Request, p Params) ([]DetectorResult, error)
}

// Params 检测参数（全部可选，零值由DefaultParams补齐）
type Params struct {
	ZScoreThreshold    float64                `yaml:"zscore_threshold" json:"zscore_threshold"`
	ModZScoreThreshold float64                `yaml:"modified_zscore_threshold" json:"modified_zscore_threshold"`
	IQRMultiplier      float64                `yaml:"iqr_multiplier" json:"iqr_multiplier"`
	MinWindowPoints    int                    `yaml:"min_window_points" json:"min_window_points"`
	Contamination      float64                `yaml:"contamination" json:"contamination"`
	IsolationTrees     int                    `yaml:"isolation_trees" json:"isolation_trees"`
	IsolationSubsample int                    `yaml:"isolation_subsample" json:"isolation_subsample"`
	RandomSeed         int64                  `yaml:"random_seed" json:"random_seed"`
	LOFNeighbors       int                    `yaml:"lof_neighbors" json:"lof_neighbors"`
	LOFThreshold       float64                `yaml:"lof_threshold" json:"lof_threshold"`
	TemporalWindow     int                    `yaml:"temporal_window" json:"temporal_window"`
	DecisionThreshold  float64                `yaml:"decision_threshold" json:"decision_threshold"`
	Weights            map[DetectorID]float64 `yaml:"weights" json:"weights"` // 为空时各方法等权
}

// DefaultParams 默认检测参数
func DefaultParams() Params {
	return Params{
		ZScoreThreshold:    3.0,
		ModZScoreThreshold: 3.5,
		IQRMultiplier:      1.5,
		MinWindowPoints:    8,
		Contamination:      0.01,
		IsolationTrees:     100,
		IsolationSubsample: 64,
		RandomSeed:         1,
		LOFNeighbors:       20,
		LOFThreshold:       1.5,
		TemporalWindow:     24,
		DecisionThreshold:  0.5,
	}
}

// Normalize 用默认值补齐未设置的参数
func (p Params) Normalize() Params {
	d := DefaultParams()
	if p.ZScoreThreshold <= 0 {
		p.ZScoreThreshold = d.ZScoreThreshold
	}
	if p.ModZScoreThreshold <= 0 {
		p.ModZScoreThreshold = d.ModZScoreThreshold
	}
	if p.IQRMultiplier <= 0 {
		p.IQRMultiplier = d.IQRMultiplier
	}
	if p.MinWindowPoints <= 0 {
		p.MinWindowPoints = d.MinWindowPoints
	}
	if p.Contamination <= 0 || p.Contamination >= 1 {
		p.Contamination = d.Contamination
	}
	if p.IsolationTrees <= 0 {
		p.IsolationTrees = d.IsolationTrees
	}
	if p.IsolationSubsample <= 0 {
		p.IsolationSubsample = d.IsolationSubsample
	}
	if p.RandomSeed == 0 {
		p.RandomSeed = d.RandomSeed
	}
	if p.LOFNeighbors <= 0 {
		p.LOFNeighbors = d.LOFNeighbors
	}
	if p.LOFThreshold <= 0 {
		p.LOFThreshold = d.LOFThreshold
	}
	if p.TemporalWindow <= 0 {
		p.TemporalWindow = d.TemporalWindow
	}
	if p.DecisionThreshold <= 0 {
		p.DecisionThreshold = d.DecisionThreshold
	}
	return p
}

// SeverityFromEnsemble 融合得分的严重程度映射（单调递增）
func SeverityFromEnsemble(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.75:
		return SeverityHigh
	case score >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// normalizeScore 将raw score归一化到[0,1]
// 折线锚点让统计检测器的严重程度阶梯精确落在融合分界上：
// |score|>5→0.9(critical)、>4→0.75(high)、>3.5→0.6(medium)；
// 触发阈值处为0.5，2倍阈值或6（取较大者）以上封顶为1
func normalizeScore(raw, fireThreshold float64) float64 {
	if fireThreshold <= 0 {
		return 0
	}
	abs := math.Abs(raw)
	if abs <= fireThreshold {
		return 0.5 * abs / fireThreshold
	}

	top := 2 * fireThreshold
	if top < 6 {
		top = 6
	}
	anchors := [...][2]float64{{3.5, 0.6}, {4, 0.75}, {5, 0.9}, {top, 1}}

	prevScore, prevNorm := fireThreshold, 0.5
	for _, a := range anchors {
		if a[0] <= prevScore {
			// 触发阈值已越过该档位，触发即至少处于该档
			if a[1] > prevNorm {
				prevNorm = a[1]
			}
			continue
		}
		if abs <= a[0] {
			return prevNorm + (abs-prevScore)/(a[0]-prevScore)*(a[1]-prevNorm)
		}
		prevScore, prevNorm = a[0], a[1]
	}
	return 1
}
