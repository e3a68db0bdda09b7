// ============================================
// 文件: api/handlers.go
// ============================================
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"health-backend/detector"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// 健康检查
func (s *APIServer) healthCheck(c *gin.Context) {
	if err := s.storage.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:    503,
			Message: "storage unavailable: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "ok",
		Data: gin.H{
			"detectors": s.engine.ActiveDetectors(),
			"time":      time.Now().UTC(),
		},
	})
}

// DetectRequest 检测请求
type DetectRequest struct {
	Samples []SamplePoint `json:"samples" binding:"required,min=1"`
	Options DetectOptions `json:"options"`
}

// detectAnomalies 对提交的样本序列执行异常检测
func (s *APIServer) detectAnomalies(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	anomalies, err := s.engine.Detect(c.Request.Context(), req.Samples, req.Options)
	if err != nil {
		// 整体失败（全部检测器失败或状态存储不可用）
		if errors.Is(err, detector.ErrDetectorUnavailable) {
			c.JSON(http.StatusServiceUnavailable, Response{
				Code:    503,
				Message: "detection unavailable",
				Data:    gin.H{"reason": err.Error(), "anomalies": []AnomalyInfo{}},
			})
			return
		}
		log.Printf("Detection failed: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "detection failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"anomalies": anomalies,
			"count":     len(anomalies),
		},
	})
}

// listAnomalies 查询已落库的异常
func (s *APIServer) listAnomalies(c *gin.Context) {
	metric := c.Query("metric")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	anomalies, err := s.storage.ListAnomalies(c.Request.Context(), metric, limit)
	if err != nil {
		log.Printf("Failed to list anomalies: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to list anomalies",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"anomalies": anomalies,
			"count":     len(anomalies),
		},
	})
}

// FeedbackRequest 反馈请求
type FeedbackRequest struct {
	AnomalyID  string `json:"anomaly_id" binding:"required"`
	Metric     string `json:"metric" binding:"required"`
	DetectorID string `json:"detector_id" binding:"required"`
	Verdict    string `json:"verdict" binding:"required,oneof=false_positive true_positive"`
}

// submitFeedback 提交反馈并返回重算后的个性化阈值
func (s *APIServer) submitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	threshold, err := s.engine.SubmitFeedback(c.Request.Context(),
		req.Metric, req.DetectorID, req.AnomalyID, req.Verdict)
	if err != nil {
		if errors.Is(err, detector.ErrInvalidSample) {
			c.JSON(http.StatusBadRequest, Response{
				Code:    400,
				Message: err.Error(),
			})
			return
		}
		log.Printf("Failed to process feedback: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to process feedback",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    threshold,
	})
}

// getThresholds 查询某指标当前生效的个性化阈值
func (s *APIServer) getThresholds(c *gin.Context) {
	metric := c.Param("metric")
	if metric == "" {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "metric is required",
		})
		return
	}

	thresholds, err := s.engine.GetThresholds(c.Request.Context(), metric)
	if err != nil {
		log.Printf("Failed to get thresholds for %s: %v", metric, err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to get thresholds",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"metric":     metric,
			"thresholds": thresholds,
		},
	})
}

// IngestRequest 样本写入请求
type IngestRequest struct {
	Samples []SamplePoint `json:"samples" binding:"required,min=1"`
}

// ingestSamples 写入指标样本
func (s *APIServer) ingestSamples(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	if err := s.storage.SaveSamples(c.Request.Context(), req.Samples); err != nil {
		log.Printf("Failed to save samples: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to save samples",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    gin.H{"saved": len(req.Samples)},
	})
}

// getMetricHistory 读取某指标时间范围内的样本
func (s *APIServer) getMetricHistory(c *gin.Context) {
	metric := c.Query("metric")
	if metric == "" {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "metric is required",
		})
		return
	}

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "720"))
	if err != nil || hours <= 0 {
		hours = 720
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	samples, err := s.storage.ReadHistory(c.Request.Context(), metric, start, end)
	if err != nil {
		log.Printf("Failed to read history for %s: %v", metric, err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to read history",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"metric":  metric,
			"samples": samples,
			"count":   len(samples),
		},
	})
}

// listDetectors 当前可用的检测方法
func (s *APIServer) listDetectors(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    gin.H{"detectors": s.engine.ActiveDetectors()},
	})
}
