// Package metrics 按固定窗口聚合执行遥测并整体发布快照。
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"trade-gate-go/infrastructure/logger"
	"trade-gate-go/risk"
	"trade-gate-go/store"

	"go.uber.org/zap"
)

// Snapshot 周期快照。每窗口整体重算并整体替换，读方永远看不到半更新状态。
type Snapshot struct {
	TradesPerSecond    float64
	AvgLatencyMs       float64
	P95LatencyMs       float64
	P99LatencyMs       float64
	SystemLoad         float64
	ErrorRate          float64
	OrdersSplit        float64
	ChildOrdersCreated float64
	AvgMarketImpact    float64
	CircuitPhase       risk.Phase
	At                 time.Time
}

const (
	// persistFailureThreshold 连续发布失败多少次后熔断。
	persistFailureThreshold = 5
	// maxMetricValue 出站数值的合理上界，越界视为脏数据。
	maxMetricValue = 1000
)

// Aggregator 指标聚合器。持有独立于风控引擎的熔断器实例，
// 持久化故障只影响指标发布，不影响准入路径。
type Aggregator struct {
	window  time.Duration
	store   store.RiskStore
	breaker *risk.Breaker
	phase   func() risk.Phase // 风控熔断器状态（快照字段）
	onFlush func(Snapshot)    // 每窗口回调（Prometheus 镜像等）
	log     *logger.Logger
	clock   risk.Clock

	mu           sync.Mutex
	executed     int64
	errors       int64
	latencies    []float64
	ordersSplit  int64
	childOrders  int64
	impactScores []float64
	systemLoad   float64
	persistFails int
	last         Snapshot
}

// Config 聚合器装配
type Config struct {
	Window  time.Duration // 默认 5s
	Store   store.RiskStore
	Breaker *risk.Breaker // 聚合器自己的熔断器
	Phase   func() risk.Phase
	OnFlush func(Snapshot) // 可为 nil
	Log     *logger.Logger
	Clock   risk.Clock
}

// New 创建聚合器
func New(cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = risk.NowUTC
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Phase == nil {
		cfg.Phase = func() risk.Phase { return risk.PhaseClosed }
	}
	return &Aggregator{
		window:  cfg.Window,
		store:   cfg.Store,
		breaker: cfg.Breaker,
		phase:   cfg.Phase,
		onFlush: cfg.OnFlush,
		log:     cfg.Log,
		clock:   cfg.Clock,
	}
}

// RecordExecution 记录一次成交及其端到端延迟（毫秒）。
func (a *Aggregator) RecordExecution(latencyMs float64) {
	a.mu.Lock()
	a.executed++
	a.latencies = append(a.latencies, latencyMs)
	a.mu.Unlock()
}

// RecordError 记录一次执行错误。
func (a *Aggregator) RecordError() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

// RecordSplit 记录一次拆单及其冲击分（splitter.ImpactSink 实现）。
func (a *Aggregator) RecordSplit(childOrders int, impactScores []float64) {
	a.mu.Lock()
	a.ordersSplit++
	a.childOrders += int64(childOrders)
	a.impactScores = append(a.impactScores, impactScores...)
	a.mu.Unlock()
}

// SetSystemLoad 更新系统负载（0-100）。
func (a *Aggregator) SetSystemLoad(load float64) {
	a.mu.Lock()
	a.systemLoad = load
	a.mu.Unlock()
}

// Run 固定节奏聚合-发布-清零，直到 ctx 取消。
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Flush 聚合当前窗口、发布快照并清零计数。
// 聚合器熔断开启期间跳过发布，但窗口照常清零，避免积压脏数据。
func (a *Aggregator) Flush(ctx context.Context) Snapshot {
	snap := a.collect()
	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()
	if a.onFlush != nil {
		a.onFlush(snap)
	}

	if a.breaker != nil && a.breaker.IsOpen() {
		return snap
	}
	if err := a.publish(ctx, snap); err != nil {
		a.mu.Lock()
		a.persistFails++
		fails := a.persistFails
		a.mu.Unlock()
		a.log.LogError(err, map[string]interface{}{"consecutive_failures": fails})
		if fails >= persistFailureThreshold && a.breaker != nil {
			a.breaker.Trip("persistence_failure", map[string]interface{}{"failures": fails})
		}
		return snap
	}
	a.mu.Lock()
	a.persistFails = 0
	a.mu.Unlock()
	return snap
}

// collect 计算快照并重置窗口计数。
func (a *Aggregator) collect() Snapshot {
	a.mu.Lock()
	executed := a.executed
	errors := a.errors
	lat := a.latencies
	ordersSplit := a.ordersSplit
	childOrders := a.childOrders
	impact := a.impactScores
	load := a.systemLoad

	a.executed = 0
	a.errors = 0
	a.latencies = nil
	a.ordersSplit = 0
	a.childOrders = 0
	a.impactScores = nil
	a.mu.Unlock()

	sort.Float64s(lat)
	snap := Snapshot{
		TradesPerSecond:    float64(executed) / a.window.Seconds(),
		AvgLatencyMs:       mean(lat),
		P95LatencyMs:       percentile(lat, 0.95),
		P99LatencyMs:       percentile(lat, 0.99),
		SystemLoad:         load,
		ErrorRate:          float64(errors) / math.Max(float64(executed), 1),
		OrdersSplit:        float64(ordersSplit),
		ChildOrdersCreated: float64(childOrders),
		AvgMarketImpact:    mean(impact),
		CircuitPhase:       a.phase(),
		At:                 a.clock.Now(),
	}
	return a.sanitize(snap)
}

// sanitize 出站数值校验：非有限、负数或超过上界的字段替换为 0 并告警，
// 防止脏遥测外泄。
func (a *Aggregator) sanitize(s Snapshot) Snapshot {
	check := func(name string, v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxMetricValue {
			a.log.Warn("invalid metric value",
				zap.String("field", name), zap.Float64("value", v))
			return 0
		}
		return v
	}
	s.TradesPerSecond = check("trades_per_sec", s.TradesPerSecond)
	s.AvgLatencyMs = check("avg_latency", s.AvgLatencyMs)
	s.P95LatencyMs = check("latency_p95", s.P95LatencyMs)
	s.P99LatencyMs = check("latency_p99", s.P99LatencyMs)
	s.SystemLoad = check("system_load", s.SystemLoad)
	s.ErrorRate = check("error_rate", s.ErrorRate)
	s.OrdersSplit = check("orders_split", s.OrdersSplit)
	s.ChildOrdersCreated = check("child_orders", s.ChildOrdersCreated)
	// 冲击分是对数值，可为负；只拦截非有限值
	if math.IsNaN(s.AvgMarketImpact) || math.IsInf(s.AvgMarketImpact, 0) {
		a.log.Warn("invalid metric value", zap.String("field", "avg_impact"))
		s.AvgMarketImpact = 0
	}
	return s
}

func (a *Aggregator) publish(ctx context.Context, s Snapshot) error {
	c, cancel := context.WithTimeout(ctx, a.window/2)
	defer cancel()
	return a.store.SetMetrics(c, s.fields())
}

func (s Snapshot) fields() map[string]string {
	return map[string]string{
		"trades_per_sec": fmt.Sprintf("%.4f", s.TradesPerSecond),
		"avg_latency":    fmt.Sprintf("%.4f", s.AvgLatencyMs),
		"latency_p95":    fmt.Sprintf("%.4f", s.P95LatencyMs),
		"latency_p99":    fmt.Sprintf("%.4f", s.P99LatencyMs),
		"system_load":    fmt.Sprintf("%.4f", s.SystemLoad),
		"error_rate":     fmt.Sprintf("%.4f", s.ErrorRate),
		"orders_split":   fmt.Sprintf("%.0f", s.OrdersSplit),
		"child_orders":   fmt.Sprintf("%.0f", s.ChildOrdersCreated),
		"avg_impact":     fmt.Sprintf("%.4f", s.AvgMarketImpact),
		"circuit_phase":  s.CircuitPhase.String(),
	}
}

// Latest 最近一次快照（整体读取）。
func (a *Aggregator) Latest() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// RenderText 拉式指标端点的纯文本格式：每行一个 name value。
func (a *Aggregator) RenderText() string {
	s := a.Latest()
	var b strings.Builder
	fmt.Fprintf(&b, "trades_per_second %.4f\n", s.TradesPerSecond)
	fmt.Fprintf(&b, "avg_latency_ms %.4f\n", s.AvgLatencyMs)
	fmt.Fprintf(&b, "latency_p95_ms %.4f\n", s.P95LatencyMs)
	fmt.Fprintf(&b, "latency_p99_ms %.4f\n", s.P99LatencyMs)
	fmt.Fprintf(&b, "system_load %.4f\n", s.SystemLoad)
	fmt.Fprintf(&b, "error_rate %.4f\n", s.ErrorRate)
	fmt.Fprintf(&b, "orders_split %.0f\n", s.OrdersSplit)
	fmt.Fprintf(&b, "child_orders_created %.0f\n", s.ChildOrdersCreated)
	fmt.Fprintf(&b, "avg_market_impact %.4f\n", s.AvgMarketImpact)
	fmt.Fprintf(&b, "circuit_phase %d\n", int(s.CircuitPhase))
	return b.String()
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile 取排序后序列按秩 floor(n*q) 的值。
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
