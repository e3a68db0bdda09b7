// ============================================
// 文件: api/interfaces.go
// 引擎与存储接口（避免循环导入）
// ============================================
package api

import (
	"context"
	"time"
)

// EngineInterface 检测引擎接口
type EngineInterface interface {
	// Detect 对样本序列执行异常检测
	Detect(ctx context.Context, samples []SamplePoint, opts DetectOptions) ([]AnomalyInfo, error)
	// SubmitFeedback 提交用户反馈并返回重算后的个性化阈值
	SubmitFeedback(ctx context.Context, metric, detectorID, anomalyID, verdict string) (ThresholdInfo, error)
	// GetThresholds 查询某指标当前生效的个性化阈值
	GetThresholds(ctx context.Context, metric string) ([]ThresholdInfo, error)
	// ActiveDetectors 当前可用的检测方法
	ActiveDetectors() []string
}

// StorageInterface 存储接口
type StorageInterface interface {
	// SaveSamples 写入指标样本
	SaveSamples(ctx context.Context, samples []SamplePoint) error
	// ReadHistory 读取某指标时间范围内的样本
	ReadHistory(ctx context.Context, metric string, start, end time.Time) ([]SamplePoint, error)
	// ListAnomalies 查询已落库的异常（metric为空表示全部）
	ListAnomalies(ctx context.Context, metric string, limit int) ([]AnomalyInfo, error)

	// 用户相关
	CreateUser(username, email, passwordHash string) (*UserInfo, error)
	GetUserByUsername(username string) (*UserInfo, string, error) // 返回用户信息和密码哈希
	GetUserByID(id uint) (*UserInfo, error)

	// Ping 健康检查
	Ping() error
}

// SamplePoint 指标样本
type SamplePoint struct {
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Metric    string    `json:"metric" binding:"required"`
	Value     *float64  `json:"value" binding:"required"`
}

// DetectOptions 检测选项
type DetectOptions struct {
	Mode      string        `json:"mode"`             // realtime | batch，默认batch
	Detectors []string      `json:"detectors"`        // 为空表示全部可用方法
	Params    *DetectParams `json:"params,omitempty"` // 单次请求的参数覆盖
}

// DetectParams 单次请求的检测参数覆盖，零值字段沿用服务端配置
type DetectParams struct {
	Contamination      float64 `json:"contamination,omitempty"`
	ZScoreThreshold    float64 `json:"zscore_threshold,omitempty"`
	ModZScoreThreshold float64 `json:"modified_zscore_threshold,omitempty"`
	IQRMultiplier      float64 `json:"iqr_multiplier,omitempty"`
	LOFThreshold       float64 `json:"lof_threshold,omitempty"`
	DecisionThreshold  float64 `json:"decision_threshold,omitempty"`
}

// AnomalyInfo 异常结论
type AnomalyInfo struct {
	ID                   string             `json:"id"`
	Timestamp            time.Time          `json:"timestamp"`
	Metric               string             `json:"metric"`
	Value                float64            `json:"value"`
	EnsembleScore        float64            `json:"ensemble_score"`
	Severity             string             `json:"severity"`
	ContributingMethods  []string           `json:"contributing_methods"`
	ContributingFeatures map[string]float64 `json:"contributing_features,omitempty"`
	Explanation          string             `json:"explanation"`
	SuggestedActions     []string           `json:"suggested_actions"`
	CreatedAt            time.Time          `json:"created_at"`
}

// ThresholdInfo 个性化阈值
type ThresholdInfo struct {
	Metric             string  `json:"metric"`
	DetectorID         string  `json:"detector_id"`
	Multiplier         float64 `json:"multiplier"`
	FalsePositiveCount int     `json:"false_positive_count"`
	TruePositiveCount  int     `json:"true_positive_count"`
}
