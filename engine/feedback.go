// ============================================
// 文件: engine/feedback.go
// 反馈处理器 - 个性化阈值的唯一写入方
// ============================================
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"health-backend/detector"
)

// Verdict 用户对异常结论的反馈
type Verdict string

const (
	VerdictFalsePositive Verdict = "false_positive" // 对我是正常的
	VerdictTruePositive  Verdict = "true_positive"  // 确实异常
)

// FeedbackRecord 一条用户反馈
// 同一anomaly_id重复提交时以最后一次为准（幂等通过全量重算保证）
type FeedbackRecord struct {
	AnomalyID  string              `json:"anomaly_id"`
	Metric     string              `json:"metric"`
	DetectorID detector.DetectorID `json:"detector_id"`
	Verdict    Verdict             `json:"verdict"`
	Sequence   int64               `json:"sequence"` // 存储层分配的单调序号
}

// StateStore 检测核心唯一的跨调用持久状态
// 实现方：PostgreSQL(权威) + Redis(快照缓存)，测试用内存实现
type StateStore interface {
	// AppendFeedback 追加一条反馈记录（追加日志，不做原地修改）
	AppendFeedback(ctx context.Context, rec FeedbackRecord) error
	// ListFeedback 按序号升序返回某(指标,方法)下的全部反馈
	ListFeedback(ctx context.Context, metric string, id detector.DetectorID) ([]FeedbackRecord, error)
	// GetThresholds 返回某指标全部个性化阈值的一致快照
	GetThresholds(ctx context.Context, metric string) (map[detector.DetectorID]detector.PersonalThreshold, error)
	// SaveThreshold 写入重算后的个性化阈值
	SaveThreshold(ctx context.Context, t detector.PersonalThreshold) error
}

// FeedbackProcessor 反馈处理器
// 对同一(指标,方法)的更新串行化，避免并发反馈互相覆盖；
// 乘数从反馈日志全量重算而非增量累乘，重复提交天然幂等
type FeedbackProcessor struct {
	store StateStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFeedbackProcessor 创建反馈处理器
func NewFeedbackProcessor(store StateStore) *FeedbackProcessor {
	return &FeedbackProcessor{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Submit 提交一条反馈并返回重算后的个性化阈值
// false_positive使乘数按1.1倍递增（去重后的异常数计数），
// true_positive只计数不改乘数；乘数始终收敛在[0.1, 10.0]
func (f *FeedbackProcessor) Submit(ctx context.Context, metric string,
	detectorID detector.DetectorID, anomalyID string, verdict Verdict) (detector.PersonalThreshold, error) {

	if anomalyID == "" {
		return detector.PersonalThreshold{}, fmt.Errorf("anomaly_id is required: %w", detector.ErrInvalidSample)
	}
	if verdict != VerdictFalsePositive && verdict != VerdictTruePositive {
		return detector.PersonalThreshold{}, fmt.Errorf("unknown verdict %q: %w", verdict, detector.ErrInvalidSample)
	}

	lock := f.keyLock(metric, detectorID)
	lock.Lock()
	defer lock.Unlock()

	rec := FeedbackRecord{
		AnomalyID:  anomalyID,
		Metric:     metric,
		DetectorID: detectorID,
		Verdict:    verdict,
	}
	if err := f.store.AppendFeedback(ctx, rec); err != nil {
		return detector.PersonalThreshold{}, fmt.Errorf("append feedback: %w", err)
	}

	threshold, err := f.Recompute(ctx, metric, detectorID)
	if err != nil {
		return detector.PersonalThreshold{}, err
	}
	if err := f.store.SaveThreshold(ctx, threshold); err != nil {
		return detector.PersonalThreshold{}, fmt.Errorf("save threshold: %w", err)
	}
	return threshold, nil
}

// Recompute 从反馈日志重放出当前阈值
// 同一anomaly_id的多条记录以序号最大的一条为准
func (f *FeedbackProcessor) Recompute(ctx context.Context, metric string,
	detectorID detector.DetectorID) (detector.PersonalThreshold, error) {

	records, err := f.store.ListFeedback(ctx, metric, detectorID)
	if err != nil {
		return detector.PersonalThreshold{}, fmt.Errorf("list feedback: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })

	effective := make(map[string]Verdict, len(records))
	for _, rec := range records {
		effective[rec.AnomalyID] = rec.Verdict
	}

	falsePositives := 0
	truePositives := 0
	for _, verdict := range effective {
		switch verdict {
		case VerdictFalsePositive:
			falsePositives++
		case VerdictTruePositive:
			truePositives++
		}
	}

	return detector.PersonalThreshold{
		Metric:             metric,
		DetectorID:         detectorID,
		Multiplier:         detector.ClampMultiplier(math.Pow(1.1, float64(falsePositives))),
		FalsePositiveCount: falsePositives,
		TruePositiveCount:  truePositives,
	}, nil
}

// keyLock 取(指标,方法)对应的互斥锁
func (f *FeedbackProcessor) keyLock(metric string, id detector.DetectorID) *sync.Mutex {
	key := metric + "/" + string(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[key] = lock
	}
	return lock
}
