// Package perf 跟踪已实现盈亏序列并计算绩效指标（回撤、夏普），
// 供日内额度再平衡使用。
package perf

import (
	"math"
	"sync"
	"time"

	"trade-gate-go/risk"
)

type sample struct {
	pnl float64
	at  time.Time
}

// Tracker 绩效跟踪器。样本按到达顺序保存，超龄样本在读写两侧惰性清理。
type Tracker struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	clock   risk.Clock
}

// NewTracker 创建跟踪器；maxAge 为样本保留窗口，默认 7 天。
func NewTracker(maxAge time.Duration, clock risk.Clock) *Tracker {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if clock == nil {
		clock = risk.NowUTC
	}
	return &Tracker{maxAge: maxAge, clock: clock}
}

// Record 记录一笔已实现盈亏。
func (t *Tracker) Record(pnl float64) {
	now := t.clock.Now()
	t.mu.Lock()
	t.samples = append(t.samples, sample{pnl: pnl, at: now})
	t.prune(now)
	t.mu.Unlock()
}

// Metrics 计算当前窗口的绩效指标。
// 回撤取权益曲线的最大峰谷比；夏普为单期收益的均值/标准差。
// 样本不足两个时返回中性值（零回撤、夏普 1），再平衡退化为基准额度。
func (t *Tracker) Metrics() risk.PerformanceMetrics {
	t.mu.Lock()
	t.prune(t.clock.Now())
	pnls := make([]float64, len(t.samples))
	for i, s := range t.samples {
		pnls[i] = s.pnl
	}
	t.mu.Unlock()

	if len(pnls) < 2 {
		return risk.PerformanceMetrics{Drawdown: 0, SharpeRatio: 1}
	}
	return risk.PerformanceMetrics{
		Drawdown:    maxDrawdown(pnls),
		SharpeRatio: sharpe(pnls),
	}
}

// Size 当前窗口内的样本数。
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// prune 丢弃超龄样本。调用方持锁。
func (t *Tracker) prune(now time.Time) {
	cut := 0
	for cut < len(t.samples) && now.Sub(t.samples[cut].at) > t.maxAge {
		cut++
	}
	if cut > 0 {
		t.samples = append(t.samples[:0], t.samples[cut:]...)
	}
}

// maxDrawdown 对累计权益曲线求最大回撤比例，峰值非正时记 0。
func maxDrawdown(pnls []float64) float64 {
	equity, peak, dd := 0.0, 0.0, 0.0
	for _, p := range pnls {
		equity += p
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if d := (peak - equity) / peak; d > dd {
				dd = d
			}
		}
	}
	return dd
}

// sharpe 单期夏普：mean/stddev，零波动时返回 0。
func sharpe(pnls []float64) float64 {
	mean := 0.0
	for _, p := range pnls {
		mean += p
	}
	mean /= float64(len(pnls))

	variance := 0.0
	for _, p := range pnls {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(pnls) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
