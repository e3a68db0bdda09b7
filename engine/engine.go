// ============================================
// 文件: engine/engine.go
// 编排器 - 实时/批量两条执行路径
// ============================================
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"health-backend/detector"
)

// Mode 执行模式
type Mode string

const (
	ModeRealtime Mode = "realtime" // 单样本低延迟路径
	ModeBatch    Mode = "batch"    // 多日历史并行路径
)

// Config 引擎配置
type Config struct {
	Params            detector.Params
	RealtimeBudget    time.Duration // 实时路径总预算，默认100ms
	TemporalSubBudget time.Duration // 时序检测器子预算，剩余时间不足时跳过
	TemporalEnabled   bool          // 时序检测能力开关（构造时协商）
	BatchParallelism  int           // 批量路径并行度，默认CPU核数
}

// Options 单次检测请求的选项
type Options struct {
	Mode             Mode
	EnabledDetectors []detector.DetectorID              // 为空表示全部可用方法
	Params           *detector.Params                   // 每次请求的参数覆盖
	FeatureSeries    map[string][]detector.MetricSample // 并发采样的其他指标（多指标特征）
	FeatureBucket    time.Duration                      // 特征对齐的时间桶，默认1分钟
}

// Engine 异常检测引擎
// 活跃检测集合在构造时协商确定；检测期间无跨调用的隐藏可变状态，
// 唯一的共享状态(个性化阈值)通过StateStore读取一致快照
type Engine struct {
	config Config
	active []detector.Detector
	store  StateStore
	now    func() time.Time
}

// New 创建引擎，完成能力协商
func New(config Config, store StateStore) *Engine {
	if config.RealtimeBudget <= 0 {
		config.RealtimeBudget = 100 * time.Millisecond
	}
	if config.TemporalSubBudget <= 0 {
		config.TemporalSubBudget = 50 * time.Millisecond
	}
	if config.BatchParallelism <= 0 {
		config.BatchParallelism = runtime.NumCPU()
	}
	config.Params = config.Params.Normalize()

	all := []detector.Detector{
		detector.NewZScoreDetector(),
		detector.NewModifiedZScoreDetector(),
		detector.NewIQRDetector(),
		detector.NewIsolationForestDetector(),
		detector.NewLOFDetector(),
		detector.NewTemporalDetector(config.TemporalEnabled),
	}

	// 不可用的方法直接排除在活跃集合之外，融合器无需特判
	active := make([]detector.Detector, 0, len(all))
	ids := make([]detector.DetectorID, 0, len(all))
	for _, d := range all {
		if d.Available() {
			active = append(active, d)
			ids = append(ids, d.ID())
		}
	}
	log.Printf("[Engine] active detectors: %v", ids)

	return &Engine{
		config: config,
		active: active,
		store:  store,
		now:    time.Now,
	}
}

// SetClock 注入时钟（测试用）
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ActiveDetectors 当前活跃检测方法
func (e *Engine) ActiveDetectors() []detector.DetectorID {
	ids := make([]detector.DetectorID, len(e.active))
	for i, d := range e.active {
		ids[i] = d.ID()
	}
	return ids
}

// Detect 对输入序列执行异常检测
// 实时模式只评估每个指标的最新样本并受总预算约束；
// 批量模式按指标扇出并行，单点结论与实时路径一致（确定性约束）
func (e *Engine) Detect(ctx context.Context, series []detector.MetricSample, opts Options) ([]detector.Anomaly, error) {
	params := e.config.Params
	if opts.Params != nil {
		params = mergeParams(params, *opts.Params).Normalize()
	}
	enabled := e.enabledSet(opts.EnabledDetectors)
	if len(enabled) == 0 {
		return []detector.Anomaly{}, fmt.Errorf("no detectors enabled: %w", detector.ErrDetectorUnavailable)
	}

	// 按指标分组并清洗
	byMetric := make(map[string][]detector.MetricSample)
	for _, s := range series {
		byMetric[s.Metric] = append(byMetric[s.Metric], s)
	}
	metrics := make([]string, 0, len(byMetric))
	for m := range byMetric {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	// 多指标特征：输入序列中的全部指标 + 调用方附加的并发指标
	featureSource := make(map[string][]detector.MetricSample, len(byMetric)+len(opts.FeatureSeries))
	for m, s := range byMetric {
		featureSource[m] = s
	}
	for m, s := range opts.FeatureSeries {
		if _, ok := featureSource[m]; !ok {
			featureSource[m] = s
		}
	}
	var features *detector.FeatureMatrix
	if len(featureSource) >= 2 {
		features = detector.BuildFeatureMatrix(featureSource, opts.FeatureBucket)
	}

	if opts.Mode == ModeRealtime {
		return e.detectRealtime(ctx, metrics, byMetric, features, enabled, params)
	}
	return e.detectBatch(ctx, metrics, byMetric, features, enabled, params)
}

// mergeParams 请求级参数覆盖：仅非零字段生效，其余沿用引擎配置
func mergeParams(base, override detector.Params) detector.Params {
	if override.ZScoreThreshold > 0 {
		base.ZScoreThreshold = override.ZScoreThreshold
	}
	if override.ModZScoreThreshold > 0 {
		base.ModZScoreThreshold = override.ModZScoreThreshold
	}
	if override.IQRMultiplier > 0 {
		base.IQRMultiplier = override.IQRMultiplier
	}
	if override.MinWindowPoints > 0 {
		base.MinWindowPoints = override.MinWindowPoints
	}
	if override.Contamination > 0 {
		base.Contamination = override.Contamination
	}
	if override.IsolationTrees > 0 {
		base.IsolationTrees = override.IsolationTrees
	}
	if override.IsolationSubsample > 0 {
		base.IsolationSubsample = override.IsolationSubsample
	}
	if override.RandomSeed != 0 {
		base.RandomSeed = override.RandomSeed
	}
	if override.LOFNeighbors > 0 {
		base.LOFNeighbors = override.LOFNeighbors
	}
	if override.LOFThreshold > 0 {
		base.LOFThreshold = override.LOFThreshold
	}
	if override.TemporalWindow > 0 {
		base.TemporalWindow = override.TemporalWindow
	}
	if override.DecisionThreshold > 0 {
		base.DecisionThreshold = override.DecisionThreshold
	}
	if len(override.Weights) > 0 {
		base.Weights = override.Weights
	}
	return base
}

// enabledSet 求活跃集合与请求启用集合的交集（保持活跃集合的固定顺序）
func (e *Engine) enabledSet(requested []detector.DetectorID) []detector.Detector {
	if len(requested) == 0 {
		return e.active
	}
	want := make(map[detector.DetectorID]bool, len(requested))
	for _, id := range requested {
		want[id] = true
	}
	out := make([]detector.Detector, 0, len(e.active))
	for _, d := range e.active {
		if want[d.ID()] {
			out = append(out, d)
		}
	}
	return out
}

// detectRealtime 实时路径：总预算内并行执行，超时的检测器按“无结果”处理
func (e *Engine) detectRealtime(ctx context.Context, metrics []string,
	byMetric map[string][]detector.MetricSample, features *detector.FeatureMatrix,
	enabled []detector.Detector, params detector.Params) ([]detector.Anomaly, error) {

	deadline := e.now().Add(e.config.RealtimeBudget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var anomalies []detector.Anomaly
	totalOK := 0
	totalErrors := 0

	for _, metric := range metrics {
		cleaned := detector.Clean(byMetric[metric]).Window
		if len(cleaned) == 0 {
			continue
		}
		req := detector.Request{Metric: metric, Window: cleaned, Features: features}

		results, okCount, errCount := e.runDetectorsRealtime(ctx, req, enabled, params, deadline)
		totalErrors += errCount
		totalOK += okCount

		// 实时模式只评估最新样本
		latest := cleaned[len(cleaned)-1].Timestamp
		pointResults := results[:0]
		for _, r := range results {
			if r.Timestamp.Equal(latest) {
				pointResults = append(pointResults, r)
			}
		}

		metricAnomalies, err := e.combine(ctx, metric, cleaned, pointResults, params)
		if err != nil {
			return []detector.Anomaly{}, err
		}
		anomalies = append(anomalies, metricAnomalies...)
	}

	// 全部检测器都失败且没有任何成功产出才算硬失败
	if totalOK == 0 && totalErrors > 0 {
		return []detector.Anomaly{}, fmt.Errorf("all detectors failed: %w", detector.ErrDetectorUnavailable)
	}
	return sortAnomalies(anomalies), nil
}

// runDetectorsRealtime 并行执行检测器，逐个在剩余预算内收集结果
// 未按时完成的检测器结果被丢弃（等同数据不足），不阻塞整条流水线，不重试
func (e *Engine) runDetectorsRealtime(ctx context.Context, req detector.Request,
	enabled []detector.Detector, params detector.Params, deadline time.Time) ([]detector.DetectorResult, int, int) {

	type outcome struct {
		id      detector.DetectorID
		results []detector.DetectorResult
		err     error
	}

	channels := make([]chan outcome, 0, len(enabled))
	for _, d := range enabled {
		// 时序检测器受子预算约束：剩余时间不足时直接跳过（能力降级而非错误）
		if d.ID() == detector.DetectorTemporal && time.Until(deadline) < e.config.TemporalSubBudget {
			log.Printf("[Engine] temporal detector skipped for %s: sub-budget exceeded", req.Metric)
			continue
		}
		ch := make(chan outcome, 1)
		channels = append(channels, ch)
		go func(d detector.Detector, ch chan outcome) {
			results, err := d.Detect(req, params)
			ch <- outcome{id: d.ID(), results: results, err: err}
		}(d, ch)
	}

	var collected []detector.DetectorResult
	okCount := 0
	errCount := 0
	for _, ch := range channels {
		select {
		case out := <-ch:
			if out.err != nil {
				errCount++
				log.Printf("[Engine] detector %s failed for %s: %v", out.id, req.Metric, out.err)
				continue
			}
			okCount++
			collected = append(collected, out.results...)
		case <-ctx.Done():
			// 预算耗尽，剩余检测器按无结果处理
			log.Printf("[Engine] realtime budget exhausted for %s, proceeding with partial ensemble", req.Metric)
			return sortResults(collected), okCount, errCount
		}
	}
	return sortResults(collected), okCount, errCount
}

// detectBatch 批量路径：按指标扇出，失败的检测器重试一次后记为降级
func (e *Engine) detectBatch(ctx context.Context, metrics []string,
	byMetric map[string][]detector.MetricSample, features *detector.FeatureMatrix,
	enabled []detector.Detector, params detector.Params) ([]detector.Anomaly, error) {

	perMetric := make([][]detector.Anomaly, len(metrics))
	succeeded := make([]bool, len(metrics))
	var failMu sync.Mutex
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.BatchParallelism)

	for i, metric := range metrics {
		i, metric := i, metric
		g.Go(func() error {
			cleaned := detector.Clean(byMetric[metric]).Window
			if len(cleaned) == 0 {
				return nil
			}
			req := detector.Request{Metric: metric, Window: cleaned, Features: features}

			var results []detector.DetectorResult
			produced := false
			for _, d := range enabled {
				res, err := d.Detect(req, params)
				if err != nil {
					// 批量路径重试一次
					res, err = d.Detect(req, params)
				}
				if err != nil {
					log.Printf("[Engine] detector %s degraded for %s after retry: %v", d.ID(), metric, err)
					continue
				}
				produced = true
				results = append(results, res...)
			}
			if !produced {
				failMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("all detectors failed for %s: %w", metric, detector.ErrDetectorUnavailable)
				}
				failMu.Unlock()
				return nil
			}

			metricAnomalies, err := e.combine(gctx, metric, cleaned, sortResults(results), params)
			if err != nil {
				return err
			}
			perMetric[i] = metricAnomalies
			succeeded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []detector.Anomaly{}, err
	}

	var anomalies []detector.Anomaly
	anySucceeded := false
	for i, list := range perMetric {
		if succeeded[i] {
			anySucceeded = true
		}
		anomalies = append(anomalies, list...)
	}
	if !anySucceeded && firstErr != nil {
		return []detector.Anomaly{}, firstErr
	}
	return sortAnomalies(anomalies), nil
}

// combine 读取个性化阈值快照并融合，随后补齐解释与建议
func (e *Engine) combine(ctx context.Context, metric string, window []detector.MetricSample,
	results []detector.DetectorResult, params detector.Params) ([]detector.Anomaly, error) {

	thresholds, err := e.store.GetThresholds(ctx, metric)
	if err != nil {
		// 状态存储不可用属于整体失败，向上抛出
		return nil, fmt.Errorf("threshold state unavailable for %s: %w", metric, err)
	}

	anomalies := detector.Combine(metric, window, results, thresholds, params, e.now().UTC())
	for i := range anomalies {
		anomalies[i].Explanation = detector.Explain(anomalies[i], window)
		anomalies[i].SuggestedActions = detector.SuggestedActions(anomalies[i])
	}
	return anomalies, nil
}

// sortResults 固定结果顺序(时间戳, 方法)，保证融合输入确定
func sortResults(results []detector.DetectorResult) []detector.DetectorResult {
	sort.Slice(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.Before(results[j].Timestamp)
		}
		return results[i].DetectorID < results[j].DetectorID
	})
	return results
}

// sortAnomalies 固定输出顺序(指标, 时间戳)
func sortAnomalies(anomalies []detector.Anomaly) []detector.Anomaly {
	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].Metric != anomalies[j].Metric {
			return anomalies[i].Metric < anomalies[j].Metric
		}
		return anomalies[i].Timestamp.Before(anomalies[j].Timestamp)
	})
	if anomalies == nil {
		anomalies = []detector.Anomaly{}
	}
	return anomalies
}
