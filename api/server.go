// ============================================
// 文件: api/server.go
// ============================================
package api

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type APIServer struct {
	router  *gin.Engine
	engine  EngineInterface
	storage StorageInterface
	config  *APIConfig
}

type APIConfig struct {
	Port         string
	AllowOrigins []string
	AuthRequired bool // 是否要求认证，默认true
}

func NewAPIServer(engine EngineInterface, storage StorageInterface, config *APIConfig) *APIServer {
	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	// CORS配置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server := &APIServer{
		router:  router,
		engine:  engine,
		storage: storage,
		config:  config,
	}

	server.setupRoutes()

	return server
}

func (s *APIServer) setupRoutes() {
	// 健康检查
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// 认证相关（无需登录）
		auth := v1.Group("/auth")
		{
			auth.POST("/register", s.register)
			auth.POST("/login", s.login)
			auth.POST("/refresh", s.refreshToken)
		}

		// 以下接口需要登录
		authorized := v1.Group("")
		if s.config.AuthRequired {
			authorized.Use(AuthMiddleware())
		}
		{
			authorized.GET("/auth/me", s.currentUser)

			// 异常检测相关
			anomalies := authorized.Group("/anomalies")
			{
				anomalies.POST("/detect", s.detectAnomalies) // 对提交的序列执行检测
				anomalies.GET("", s.listAnomalies)           // 查询已落库的异常
			}

			// 反馈与个性化阈值
			authorized.POST("/feedback", s.submitFeedback)
			authorized.GET("/thresholds/:metric", s.getThresholds)

			// 指标样本
			authorized.POST("/samples", s.ingestSamples)           // 写入样本
			authorized.GET("/metrics/history", s.getMetricHistory) // 读取历史样本

			// 检测能力
			authorized.GET("/detectors", s.listDetectors)
		}
	}
}

func (s *APIServer) Start() error {
	log.Printf("API Server starting on %s", s.config.Port)
	return s.router.Run(s.config.Port)
}
