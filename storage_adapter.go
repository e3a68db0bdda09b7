// ============================================
// 文件: storage_adapter.go
// 存储适配层 - 将Storage适配为api.StorageInterface
// ============================================
package main

import (
	"context"
	"time"

	"health-backend/api"
	"health-backend/detector"
)

type StorageAdapter struct {
	storage *Storage
}

func NewStorageAdapter(storage *Storage) *StorageAdapter {
	return &StorageAdapter{storage: storage}
}

// SaveSamples 写入指标样本
func (a *StorageAdapter) SaveSamples(ctx context.Context, samples []api.SamplePoint) error {
	converted := make([]detector.MetricSample, len(samples))
	for i, s := range samples {
		converted[i] = detector.MetricSample{
			Timestamp: s.Timestamp,
			Metric:    s.Metric,
			Value:     s.Value,
		}
	}
	return a.storage.WriteSamples(ctx, converted)
}

// ReadHistory 读取某指标时间范围内的样本
func (a *StorageAdapter) ReadHistory(ctx context.Context, metric string, start, end time.Time) ([]api.SamplePoint, error) {
	samples, err := a.storage.ReadSeries(ctx, metric, start, end)
	if err != nil {
		return nil, err
	}
	points := make([]api.SamplePoint, len(samples))
	for i, s := range samples {
		points[i] = api.SamplePoint{
			Timestamp: s.Timestamp,
			Metric:    s.Metric,
			Value:     s.Value,
		}
	}
	return points, nil
}

// ListAnomalies 查询已落库的异常
func (a *StorageAdapter) ListAnomalies(ctx context.Context, metric string, limit int) ([]api.AnomalyInfo, error) {
	records, err := a.storage.ListAnomalies(ctx, metric, limit)
	if err != nil {
		return nil, err
	}
	infos := make([]api.AnomalyInfo, len(records))
	for i, r := range records {
		infos[i] = api.AnomalyInfo{
			ID:                   r.AnomalyID,
			Timestamp:            r.Timestamp,
			Metric:               r.Metric,
			Value:                r.Value,
			EnsembleScore:        r.EnsembleScore,
			Severity:             r.Severity,
			ContributingMethods:  r.ContributingMethods,
			ContributingFeatures: r.ContributingFeatures,
			Explanation:          r.Explanation,
			SuggestedActions:     r.SuggestedActions,
			CreatedAt:            r.CreatedAt,
		}
	}
	return infos, nil
}

// CreateUser 创建用户
func (a *StorageAdapter) CreateUser(username, email, passwordHash string) (*api.UserInfo, error) {
	user, err := a.storage.CreateUser(username, email, passwordHash)
	if err != nil {
		return nil, err
	}
	return userToInfo(user), nil
}

// GetUserByUsername 按用户名查询用户，返回用户信息和密码哈希
func (a *StorageAdapter) GetUserByUsername(username string) (*api.UserInfo, string, error) {
	user, err := a.storage.GetUserByUsername(username)
	if err != nil {
		return nil, "", err
	}
	return userToInfo(user), user.PasswordHash, nil
}

// GetUserByID 按ID查询用户
func (a *StorageAdapter) GetUserByID(id uint) (*api.UserInfo, error) {
	user, err := a.storage.GetUserByID(id)
	if err != nil {
		return nil, err
	}
	return userToInfo(user), nil
}

// Ping 健康检查
func (a *StorageAdapter) Ping() error {
	return a.storage.Ping()
}

func userToInfo(user *User) *api.UserInfo {
	return &api.UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	}
}
