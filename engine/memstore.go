// ============================================
// 文件: engine/memstore.go
// 内存状态存储 - 无数据库部署时的后备实现，也供测试使用
// ============================================
package engine

import (
	"context"
	"sync"

	"health-backend/detector"
)

// MemStore 内存版StateStore
type MemStore struct {
	mu         sync.RWMutex
	sequence   int64
	feedback   map[string][]FeedbackRecord                           // key: metric/detector
	thresholds map[string]map[detector.DetectorID]detector.PersonalThreshold // key: metric
}

// NewMemStore 创建内存存储
func NewMemStore() *MemStore {
	return &MemStore{
		feedback:   make(map[string][]FeedbackRecord),
		thresholds: make(map[string]map[detector.DetectorID]detector.PersonalThreshold),
	}
}

func feedbackKey(metric string, id detector.DetectorID) string {
	return metric + "/" + string(id)
}

// AppendFeedback 追加反馈记录并分配单调序号
func (s *MemStore) AppendFeedback(_ context.Context, rec FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	rec.Sequence = s.sequence
	key := feedbackKey(rec.Metric, rec.DetectorID)
	s.feedback[key] = append(s.feedback[key], rec)
	return nil
}

// ListFeedback 返回反馈记录副本（序号升序）
func (s *MemStore) ListFeedback(_ context.Context, metric string, id detector.DetectorID) ([]FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.feedback[feedbackKey(metric, id)]
	out := make([]FeedbackRecord, len(records))
	copy(out, records)
	return out, nil
}

// GetThresholds 返回某指标阈值的一致快照
func (s *MemStore) GetThresholds(_ context.Context, metric string) (map[detector.DetectorID]detector.PersonalThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[detector.DetectorID]detector.PersonalThreshold)
	for id, t := range s.thresholds[metric] {
		out[id] = t
	}
	return out, nil
}

// SaveThreshold 覆盖写入阈值
func (s *MemStore) SaveThreshold(_ context.Context, t detector.PersonalThreshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thresholds[t.Metric] == nil {
		s.thresholds[t.Metric] = make(map[detector.DetectorID]detector.PersonalThreshold)
	}
	s.thresholds[t.Metric][t.DetectorID] = t
	return nil
}
