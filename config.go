// ============================================
// 文件: config.go
// ============================================
package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr     string           `yaml:"http_addr"`
	JWTSecret    string           `yaml:"jwt_secret"`
	AuthRequired bool             `yaml:"auth_required"` // 是否要求认证，默认true
	InfluxDB     InfluxDBConfig   `yaml:"influxdb"`
	PostgreSQL   PostgreSQLConfig `yaml:"postgresql"`
	Redis        RedisConfig      `yaml:"redis"`
	Detection    DetectionConfig  `yaml:"detection"`
	Sweeper      SweeperConfig    `yaml:"sweeper"`
}

type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type PostgreSQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DetectionConfig struct {
	ZScoreThreshold    float64            `yaml:"zscore_threshold"`     // z分数阈值
	ModZScoreThreshold float64            `yaml:"mod_zscore_threshold"` // 修正z分数阈值
	IQRMultiplier      float64            `yaml:"iqr_multiplier"`       // IQR围栏倍数
	MinWindowPoints    int                `yaml:"min_window_points"`    // 最少数据点
	Contamination      float64            `yaml:"contamination"`        // 孤立森林污染率
	IsolationTrees     int                `yaml:"isolation_trees"`      // 孤立森林树数
	IsolationSubsample int                `yaml:"isolation_subsample"`  // 每棵树的子采样规模
	RandomSeed         int64              `yaml:"random_seed"`          // 固定随机种子，保证可复现
	LOFNeighbors       int                `yaml:"lof_neighbors"`        // LOF近邻数
	LOFThreshold       float64            `yaml:"lof_threshold"`        // LOF触发阈值
	TemporalWindow     int                `yaml:"temporal_window"`      // 时序训练窗口
	TemporalEnabled    bool               `yaml:"temporal_enabled"`     // 时序检测能力开关
	DecisionThreshold  float64            `yaml:"decision_threshold"`   // 融合得分触发阈值
	Weights            map[string]float64 `yaml:"weights"`              // 各方法融合权重
	RealtimeBudgetMS   int                `yaml:"realtime_budget_ms"`   // 实时路径总预算（毫秒）
	TemporalBudgetMS   int                `yaml:"temporal_budget_ms"`   // 时序检测器子预算（毫秒）
}

type SweeperConfig struct {
	Enabled         bool     `yaml:"enabled"`
	IntervalMinutes int      `yaml:"interval_minutes"`
	LookbackDays    int      `yaml:"lookback_days"`
	Metrics         []string `yaml:"metrics"` // 周期性扫描的指标列表
}

func LoadConfig() *Config {
	config := &Config{
		HTTPAddr:     ":8080",
		JWTSecret:    "your-secret-key-change-in-production",
		AuthRequired: true, // 默认需要认证
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Token:  "your-token",
			Org:    "health",
			Bucket: "metrics",
		},
		PostgreSQL: PostgreSQLConfig{
			Host:     "localhost",
			Port:     5433,
			User:     "health",
			Password: "password",
			Database: "health",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Detection: DetectionConfig{
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
			TemporalEnabled:    true,
			DecisionThreshold:  0.5,
			RealtimeBudgetMS:   100,
			TemporalBudgetMS:   50,
		},
		Sweeper: SweeperConfig{
			Enabled:         true,
			IntervalMinutes: 15,
			LookbackDays:    30,
			Metrics: []string{
				"resting_heart_rate",
				"sleep_duration",
				"step_count",
				"hrv",
			},
		},
	}

	// 尝试从配置文件加载
	if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			log.Printf("Failed to parse config: %v", err)
		}
	}

	return config
}
