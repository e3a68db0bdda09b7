// ============================================
// 文件: service.go
// 检测服务 - 将引擎与反馈处理器适配为api.EngineInterface
// ============================================
package main

import (
	"context"
	"fmt"
	"sort"

	"health-backend/api"
	"health-backend/detector"
	"health-backend/engine"
)

type DetectionService struct {
	engine   *engine.Engine
	feedback *engine.FeedbackProcessor
	store    engine.StateStore
}

func NewDetectionService(eng *engine.Engine, store engine.StateStore) *DetectionService {
	return &DetectionService{
		engine:   eng,
		feedback: engine.NewFeedbackProcessor(store),
		store:    store,
	}
}

// Detect 对样本序列执行异常检测
func (s *DetectionService) Detect(ctx context.Context, samples []api.SamplePoint, opts api.DetectOptions) ([]api.AnomalyInfo, error) {
	series := make([]detector.MetricSample, len(samples))
	for i, sample := range samples {
		series[i] = detector.MetricSample{
			Timestamp: sample.Timestamp,
			Metric:    sample.Metric,
			Value:     sample.Value,
		}
	}

	mode := engine.ModeBatch
	if opts.Mode == string(engine.ModeRealtime) {
		mode = engine.ModeRealtime
	}

	enabled := make([]detector.DetectorID, 0, len(opts.Detectors))
	for _, id := range opts.Detectors {
		did, err := parseDetectorID(id)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, did)
	}

	engineOpts := engine.Options{
		Mode:             mode,
		EnabledDetectors: enabled,
	}
	if opts.Params != nil {
		engineOpts.Params = &detector.Params{
			Contamination:      opts.Params.Contamination,
			ZScoreThreshold:    opts.Params.ZScoreThreshold,
			ModZScoreThreshold: opts.Params.ModZScoreThreshold,
			IQRMultiplier:      opts.Params.IQRMultiplier,
			LOFThreshold:       opts.Params.LOFThreshold,
			DecisionThreshold:  opts.Params.DecisionThreshold,
		}
	}

	anomalies, err := s.engine.Detect(ctx, series, engineOpts)
	if err != nil {
		return nil, err
	}

	infos := make([]api.AnomalyInfo, len(anomalies))
	for i, a := range anomalies {
		infos[i] = anomalyToInfo(a)
	}
	return infos, nil
}

// SubmitFeedback 提交反馈并返回重算后的个性化阈值
func (s *DetectionService) SubmitFeedback(ctx context.Context, metric, detectorID, anomalyID, verdict string) (api.ThresholdInfo, error) {
	did, err := parseDetectorID(detectorID)
	if err != nil {
		return api.ThresholdInfo{}, err
	}

	threshold, err := s.feedback.Submit(ctx, metric, did, anomalyID, engine.Verdict(verdict))
	if err != nil {
		return api.ThresholdInfo{}, err
	}
	return thresholdToInfo(threshold), nil
}

// GetThresholds 查询某指标当前生效的个性化阈值
func (s *DetectionService) GetThresholds(ctx context.Context, metric string) ([]api.ThresholdInfo, error) {
	thresholds, err := s.store.GetThresholds(ctx, metric)
	if err != nil {
		return nil, err
	}

	infos := make([]api.ThresholdInfo, 0, len(thresholds))
	for _, t := range thresholds {
		infos = append(infos, thresholdToInfo(t))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].DetectorID < infos[j].DetectorID })
	return infos, nil
}

// ActiveDetectors 当前可用的检测方法
func (s *DetectionService) ActiveDetectors() []string {
	ids := s.engine.ActiveDetectors()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func parseDetectorID(id string) (detector.DetectorID, error) {
	for _, known := range detector.AllDetectorIDs() {
		if string(known) == id {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown detector %q: %w", id, detector.ErrInvalidSample)
}

func anomalyToInfo(a detector.Anomaly) api.AnomalyInfo {
	methods := make([]string, len(a.ContributingMethods))
	for i, m := range a.ContributingMethods {
		methods[i] = string(m)
	}
	return api.AnomalyInfo{
		ID:                   a.ID,
		Timestamp:            a.Timestamp,
		Metric:               a.Metric,
		Value:                a.Value,
		EnsembleScore:        a.EnsembleScore,
		Severity:             string(a.Severity),
		ContributingMethods:  methods,
		ContributingFeatures: a.ContributingFeatures,
		Explanation:          a.Explanation,
		SuggestedActions:     a.SuggestedActions,
		CreatedAt:            a.CreatedAt,
	}
}

func thresholdToInfo(t detector.PersonalThreshold) api.ThresholdInfo {
	return api.ThresholdInfo{
		Metric:             t.Metric,
		DetectorID:         string(t.DetectorID),
		Multiplier:         t.Multiplier,
		FalsePositiveCount: t.FalsePositiveCount,
		TruePositiveCount:  t.TruePositiveCount,
	}
}
