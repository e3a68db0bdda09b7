// ============================================
// 文件: engine/sweeper.go
// 后台扫描器 - 周期性对关注指标执行批量检测并落库
// ============================================
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"health-backend/detector"
)

// SeriesReader 读取指标历史序列
type SeriesReader interface {
	ReadSeries(ctx context.Context, metric string, start, end time.Time) ([]detector.MetricSample, error)
}

// AnomalyWriter 持久化检测结论
type AnomalyWriter interface {
	SaveAnomalies(ctx context.Context, anomalies []detector.Anomaly) error
}

// Sweeper 后台扫描器
type Sweeper struct {
	engine        *Engine
	reader        SeriesReader
	writer        AnomalyWriter
	metrics       []string
	sweepInterval time.Duration
	lookback      time.Duration
	running       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
	// 同一异常只落库一次 key: anomaly ID
	seen   map[string]time.Time
	seenMu sync.Mutex
}

// NewSweeper 创建后台扫描器
func NewSweeper(engine *Engine, reader SeriesReader, writer AnomalyWriter,
	metrics []string, sweepInterval, lookback time.Duration) *Sweeper {
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Minute
	}
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &Sweeper{
		engine:        engine,
		reader:        reader,
		writer:        writer,
		metrics:       metrics,
		sweepInterval: sweepInterval,
		lookback:      lookback,
		stopChan:      make(chan struct{}),
		seen:          make(map[string]time.Time),
	}
}

// Start 启动扫描器
func (s *Sweeper) Start() {
	if s.running {
		return
	}

	s.running = true
	s.wg.Add(1)
	go s.run()
	log.Println("Anomaly sweeper started")
}

// Stop 停止扫描器
func (s *Sweeper) Stop() {
	if !s.running {
		return
	}

	s.running = false
	close(s.stopChan)
	s.wg.Wait()
	log.Println("Anomaly sweeper stopped")
}

// run 运行扫描循环
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// 立即执行一次扫描
	s.sweep()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep 执行一轮批量检测
func (s *Sweeper) sweep() {
	log.Printf("[Sweeper] Starting sweep cycle for %d metrics", len(s.metrics))

	ctx, cancel := context.WithTimeout(context.Background(), s.sweepInterval)
	defer cancel()

	end := time.Now().UTC()
	start := end.Add(-s.lookback)

	var series []detector.MetricSample
	for _, metric := range s.metrics {
		samples, err := s.reader.ReadSeries(ctx, metric, start, end)
		if err != nil {
			log.Printf("[Sweeper] Failed to read series for %s: %v", metric, err)
			continue
		}
		series = append(series, samples...)
	}
	if len(series) == 0 {
		log.Printf("[Sweeper] No samples to sweep")
		return
	}

	anomalies, err := s.engine.Detect(ctx, series, Options{Mode: ModeBatch})
	if err != nil {
		log.Printf("[Sweeper] Batch detection failed: %v", err)
		return
	}

	fresh := s.filterSeen(anomalies)
	if len(fresh) == 0 {
		log.Printf("[Sweeper] Sweep cycle completed, no new anomalies")
		return
	}

	if err := s.writer.SaveAnomalies(ctx, fresh); err != nil {
		log.Printf("[Sweeper] Failed to save anomalies: %v", err)
		return
	}
	log.Printf("[Sweeper] Sweep cycle completed, %d new anomalies saved", len(fresh))
}

// filterSeen 过滤已落库的异常，并清理超出回看窗口的记录
func (s *Sweeper) filterSeen(anomalies []detector.Anomaly) []detector.Anomaly {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	cutoff := time.Now().UTC().Add(-s.lookback)
	for id, ts := range s.seen {
		if ts.Before(cutoff) {
			delete(s.seen, id)
		}
	}

	var fresh []detector.Anomaly
	for _, a := range anomalies {
		if _, ok := s.seen[a.ID]; ok {
			continue
		}
		s.seen[a.ID] = a.Timestamp
		fresh = append(fresh, a)
	}
	return fresh
}
