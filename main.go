// ============================================
// 文件: main.go
// ============================================
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"health-backend/api"
	"health-backend/detector"
	"health-backend/engine"
)

func main() {
	// 加载配置
	config := LoadConfig()

	// 初始化存储
	storage := NewStorage(config)
	defer storage.Close()

	// 初始化默认管理员账号
	initDefaultAdmin(storage)

	// 创建检测引擎
	eng := engine.New(engine.Config{
		Params:            detectionParams(config.Detection),
		RealtimeBudget:    time.Duration(config.Detection.RealtimeBudgetMS) * time.Millisecond,
		TemporalSubBudget: time.Duration(config.Detection.TemporalBudgetMS) * time.Millisecond,
		TemporalEnabled:   config.Detection.TemporalEnabled,
	}, storage)

	// 创建检测服务
	service := NewDetectionService(eng, storage)

	// 启动后台扫描器
	if config.Sweeper.Enabled {
		sweeper := engine.NewSweeper(eng, storage, storage,
			config.Sweeper.Metrics,
			time.Duration(config.Sweeper.IntervalMinutes)*time.Minute,
			time.Duration(config.Sweeper.LookbackDays)*24*time.Hour,
		)
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 启动HTTP API服务器
	go func() {
		// 初始化JWT密钥
		api.SetJWTSecret(config.JWTSecret)

		apiConfig := &api.APIConfig{
			Port: config.HTTPAddr,
			AllowOrigins: []string{
				"http://localhost:3000",
				"http://localhost:8080",
				"http://localhost:5173", // Vite默认端口
			},
			AuthRequired: config.AuthRequired,
		}

		apiServer := api.NewAPIServer(service, NewStorageAdapter(storage), apiConfig)

		log.Printf("HTTP API server started on %s", config.HTTPAddr)

		if err := apiServer.Start(); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down servers...")
	log.Println("Servers stopped")
}

// initDefaultAdmin 首次启动时创建默认管理员账号
func initDefaultAdmin(storage *Storage) {
	if _, err := storage.GetUserByUsername("admin"); err == nil {
		return
	}

	hash, err := api.HashPassword("admin123")
	if err != nil {
		log.Printf("Failed to hash default admin password: %v", err)
		return
	}
	if _, err := storage.CreateUser("admin", "admin@localhost", hash); err != nil {
		log.Printf("Failed to create default admin: %v", err)
		return
	}
	log.Println("Default admin user created (username: admin)")
}

// detectionParams 将配置转换为检测参数，零值回落到默认值
func detectionParams(cfg DetectionConfig) detector.Params {
	p := detector.DefaultParams()
	if cfg.ZScoreThreshold > 0 {
		p.ZScoreThreshold = cfg.ZScoreThreshold
	}
	if cfg.ModZScoreThreshold > 0 {
		p.ModZScoreThreshold = cfg.ModZScoreThreshold
	}
	if cfg.IQRMultiplier > 0 {
		p.IQRMultiplier = cfg.IQRMultiplier
	}
	if cfg.MinWindowPoints > 0 {
		p.MinWindowPoints = cfg.MinWindowPoints
	}
	if cfg.Contamination > 0 {
		p.Contamination = cfg.Contamination
	}
	if cfg.IsolationTrees > 0 {
		p.IsolationTrees = cfg.IsolationTrees
	}
	if cfg.IsolationSubsample > 0 {
		p.IsolationSubsample = cfg.IsolationSubsample
	}
	if cfg.RandomSeed != 0 {
		p.RandomSeed = cfg.RandomSeed
	}
	if cfg.LOFNeighbors > 0 {
		p.LOFNeighbors = cfg.LOFNeighbors
	}
	if cfg.LOFThreshold > 1 {
		p.LOFThreshold = cfg.LOFThreshold
	}
	if cfg.TemporalWindow > 0 {
		p.TemporalWindow = cfg.TemporalWindow
	}
	if cfg.DecisionThreshold > 0 {
		p.DecisionThreshold = cfg.DecisionThreshold
	}
	if len(cfg.Weights) > 0 {
		p.Weights = make(map[detector.DetectorID]float64, len(cfg.Weights))
		for id, w := range cfg.Weights {
			p.Weights[detector.DetectorID(id)] = w
		}
	}
	return p
}
