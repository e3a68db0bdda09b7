// ============================================
// 文件: models.go
// ============================================
package main

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Username     string `gorm:"uniqueIndex;size:64" json:"username"`
	Email        string `gorm:"size:255" json:"email"`
	PasswordHash string `gorm:"size:255" json:"-"`
}

// AnomalyRecord 异常结论（落库）
type AnomalyRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AnomalyID            string             `gorm:"uniqueIndex;size:32" json:"anomaly_id"`
	Timestamp            time.Time          `gorm:"index" json:"timestamp"`
	Metric               string             `gorm:"index;size:64" json:"metric"`
	Value                float64            `json:"value"`
	EnsembleScore        float64            `json:"ensemble_score"`
	Severity             string             `gorm:"size:16" json:"severity"`
	ContributingMethods  []string           `gorm:"serializer:json" json:"contributing_methods"`
	ContributingFeatures map[string]float64 `gorm:"serializer:json" json:"contributing_features"`
	Explanation          string             `gorm:"type:text" json:"explanation"`
	SuggestedActions     []string           `gorm:"serializer:json" json:"suggested_actions"`
}

// FeedbackEntry 用户反馈（追加日志，从不原地修改）
type FeedbackEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	AnomalyID  string `gorm:"index;size:32" json:"anomaly_id"`
	Metric     string `gorm:"index:idx_feedback_key;size:64" json:"metric"`
	DetectorID string `gorm:"index:idx_feedback_key;size:32" json:"detector_id"`
	Verdict    string `gorm:"size:16" json:"verdict"` // false_positive, true_positive
}

// ThresholdRecord 个性化阈值（由反馈日志重算后的快照）
type ThresholdRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metric             string  `gorm:"uniqueIndex:idx_threshold_key;size:64" json:"metric"`
	DetectorID         string  `gorm:"uniqueIndex:idx_threshold_key;size:32" json:"detector_id"`
	Multiplier         float64 `json:"multiplier"`
	FalsePositiveCount int     `json:"false_positive_count"`
	TruePositiveCount  int     `json:"true_positive_count"`
}
