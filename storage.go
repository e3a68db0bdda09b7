// ============================================
// 文件: storage.go
// 存储层 - InfluxDB(样本序列) + PostgreSQL(权威状态) + Redis(阈值缓存)
// ============================================
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"health-backend/detector"
	"health-backend/engine"
)

const thresholdCacheTTL = 60 * time.Second

type Storage struct {
	influxClient influxdb2.Client
	influxWrite  influxapi.WriteAPIBlocking
	postgres     *gorm.DB
	redis        *redis.Client
	config       *Config
}

func NewStorage(config *Config) *Storage {
	storage := &Storage{
		config: config,
	}

	// 初始化InfluxDB
	storage.influxClient = influxdb2.NewClient(
		config.InfluxDB.URL,
		config.InfluxDB.Token,
	)
	storage.influxWrite = storage.influxClient.WriteAPIBlocking(
		config.InfluxDB.Org,
		config.InfluxDB.Bucket,
	)

	// 初始化PostgreSQL
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		config.PostgreSQL.Host,
		config.PostgreSQL.Port,
		config.PostgreSQL.User,
		config.PostgreSQL.Password,
		config.PostgreSQL.Database,
	)
	var err error
	storage.postgres, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	// 自动迁移数据库表
	storage.postgres.AutoMigrate(&User{}, &AnomalyRecord{}, &FeedbackEntry{}, &ThresholdRecord{})

	// 初始化Redis
	storage.redis = redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	log.Println("Storage initialized successfully")
	return storage
}

func (s *Storage) Close() {
	s.influxClient.Close()
	if sqlDB, err := s.postgres.DB(); err == nil {
		sqlDB.Close()
	}
	s.redis.Close()
}

// Ping 健康检查（PostgreSQL为权威状态存储）
func (s *Storage) Ping() error {
	sqlDB, err := s.postgres.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ============================================
// 指标样本（InfluxDB）
// ============================================

// WriteSamples 写入指标样本，每个指标一个measurement
func (s *Storage) WriteSamples(ctx context.Context, samples []detector.MetricSample) error {
	points := make([]*write.Point, 0, len(samples))
	for _, sample := range samples {
		if sample.Value == nil {
			continue
		}
		points = append(points, influxdb2.NewPoint(
			sample.Metric,
			map[string]string{},
			map[string]interface{}{"value": *sample.Value},
			sample.Timestamp,
		))
	}
	if len(points) == 0 {
		return nil
	}
	return s.influxWrite.WritePoint(ctx, points...)
}

// ReadSeries 读取某指标时间范围内的样本（时间升序）
func (s *Storage) ReadSeries(ctx context.Context, metric string, start, end time.Time) ([]detector.MetricSample, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: %s, stop: %s)
		|> filter(fn: (r) => r["_measurement"] == "%s")
		|> filter(fn: (r) => r["_field"] == "value")
		|> sort(columns: ["_time"])
	`, s.config.InfluxDB.Bucket, start.Format(time.RFC3339), end.Format(time.RFC3339), metric)

	queryAPI := s.influxClient.QueryAPI(s.config.InfluxDB.Org)
	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query series %s: %w", metric, err)
	}
	defer result.Close()

	var samples []detector.MetricSample
	for result.Next() {
		val, ok := result.Record().Value().(float64)
		if !ok {
			continue
		}
		v := val
		samples = append(samples, detector.MetricSample{
			Timestamp: result.Record().Time(),
			Metric:    metric,
			Value:     &v,
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("read series %s: %w", metric, result.Err())
	}
	return samples, nil
}

// ============================================
// 异常结论（PostgreSQL）
// ============================================

// SaveAnomalies 落库异常结论，按anomaly_id幂等
func (s *Storage) SaveAnomalies(ctx context.Context, anomalies []detector.Anomaly) error {
	for _, a := range anomalies {
		methods := make([]string, len(a.ContributingMethods))
		for i, m := range a.ContributingMethods {
			methods[i] = string(m)
		}
		record := AnomalyRecord{
			AnomalyID:            a.ID,
			Timestamp:            a.Timestamp,
			Metric:               a.Metric,
			Value:                a.Value,
			EnsembleScore:        a.EnsembleScore,
			Severity:             string(a.Severity),
			ContributingMethods:  methods,
			ContributingFeatures: a.ContributingFeatures,
			Explanation:          a.Explanation,
			SuggestedActions:     a.SuggestedActions,
		}
		err := s.postgres.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "anomaly_id"}},
			DoNothing: true,
		}).Create(&record).Error
		if err != nil {
			return fmt.Errorf("save anomaly %s: %w", a.ID, err)
		}
	}
	return nil
}

// ListAnomalies 查询异常结论（metric为空表示全部）
func (s *Storage) ListAnomalies(ctx context.Context, metric string, limit int) ([]AnomalyRecord, error) {
	var records []AnomalyRecord
	query := s.postgres.WithContext(ctx).Order("timestamp DESC")
	if metric != "" {
		query = query.Where("metric = ?", metric)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// ============================================
// 反馈日志与个性化阈值（engine.StateStore实现）
// ============================================

// AppendFeedback 追加反馈记录
func (s *Storage) AppendFeedback(ctx context.Context, rec engine.FeedbackRecord) error {
	entry := FeedbackEntry{
		AnomalyID:  rec.AnomalyID,
		Metric:     rec.Metric,
		DetectorID: string(rec.DetectorID),
		Verdict:    string(rec.Verdict),
	}
	return s.postgres.WithContext(ctx).Create(&entry).Error
}

// ListFeedback 按写入顺序返回反馈记录
func (s *Storage) ListFeedback(ctx context.Context, metric string, id detector.DetectorID) ([]engine.FeedbackRecord, error) {
	var entries []FeedbackEntry
	err := s.postgres.WithContext(ctx).
		Where("metric = ? AND detector_id = ?", metric, string(id)).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	records := make([]engine.FeedbackRecord, len(entries))
	for i, e := range entries {
		records[i] = engine.FeedbackRecord{
			AnomalyID:  e.AnomalyID,
			Metric:     e.Metric,
			DetectorID: detector.DetectorID(e.DetectorID),
			Verdict:    engine.Verdict(e.Verdict),
			Sequence:   int64(e.ID),
		}
	}
	return records, nil
}

// GetThresholds 返回某指标阈值快照，优先读Redis缓存
func (s *Storage) GetThresholds(ctx context.Context, metric string) (map[detector.DetectorID]detector.PersonalThreshold, error) {
	cacheKey := "thresholds:" + metric
	if data, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		var cached map[detector.DetectorID]detector.PersonalThreshold
		if json.Unmarshal(data, &cached) == nil {
			return cached, nil
		}
	}

	var records []ThresholdRecord
	if err := s.postgres.WithContext(ctx).Where("metric = ?", metric).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load thresholds for %s: %w", metric, err)
	}

	thresholds := make(map[detector.DetectorID]detector.PersonalThreshold, len(records))
	for _, r := range records {
		thresholds[detector.DetectorID(r.DetectorID)] = detector.PersonalThreshold{
			Metric:             r.Metric,
			DetectorID:         detector.DetectorID(r.DetectorID),
			Multiplier:         r.Multiplier,
			FalsePositiveCount: r.FalsePositiveCount,
			TruePositiveCount:  r.TruePositiveCount,
		}
	}

	// 缓存失败不影响主流程
	if data, err := json.Marshal(thresholds); err == nil {
		if err := s.redis.Set(ctx, cacheKey, data, thresholdCacheTTL).Err(); err != nil {
			log.Printf("Failed to cache thresholds for %s: %v", metric, err)
		}
	}
	return thresholds, nil
}

// SaveThreshold 写入阈值并使缓存失效
func (s *Storage) SaveThreshold(ctx context.Context, t detector.PersonalThreshold) error {
	record := ThresholdRecord{
		Metric:             t.Metric,
		DetectorID:         string(t.DetectorID),
		Multiplier:         t.Multiplier,
		FalsePositiveCount: t.FalsePositiveCount,
		TruePositiveCount:  t.TruePositiveCount,
	}
	err := s.postgres.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "metric"}, {Name: "detector_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"multiplier", "false_positive_count", "true_positive_count", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("save threshold %s/%s: %w", t.Metric, t.DetectorID, err)
	}

	if err := s.redis.Del(ctx, "thresholds:"+t.Metric).Err(); err != nil {
		log.Printf("Failed to invalidate threshold cache for %s: %v", t.Metric, err)
	}
	return nil
}

// ============================================
// 用户（PostgreSQL）
// ============================================

// CreateUser 创建用户
func (s *Storage) CreateUser(username, email, passwordHash string) (*User, error) {
	user := User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.postgres.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 按用户名查询用户
func (s *Storage) GetUserByUsername(username string) (*User, error) {
	var user User
	if err := s.postgres.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID 按ID查询用户
func (s *Storage) GetUserByID(id uint) (*User, error) {
	var user User
	if err := s.postgres.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
