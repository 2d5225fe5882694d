package metrics

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"trade-gate-go/risk"
	"trade-gate-go/store"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

// flakyStore 让 SetMetrics 可控地失败，其余委托给内存实现。
type flakyStore struct {
	*store.Memory
	fail  bool
	calls int
}

func (s *flakyStore) SetMetrics(ctx context.Context, fields map[string]string) error {
	s.calls++
	if s.fail {
		return errors.New("persistence down")
	}
	return s.Memory.SetMetrics(ctx, fields)
}

func newTestAggregator(st store.RiskStore, breaker *risk.Breaker, clock *fakeClock) *Aggregator {
	return New(Config{
		Window:  5 * time.Second,
		Store:   st,
		Breaker: breaker,
		Clock:   clock,
	})
}

func TestFlushAggregatesWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(clock.now)
	agg := newTestAggregator(mem, nil, clock)

	for i := 1; i <= 100; i++ {
		agg.RecordExecution(float64(i))
	}
	agg.RecordError()
	agg.RecordSplit(5, []float64{-0.2, -0.4})
	agg.SetSystemLoad(42)

	snap := agg.Flush(context.Background())
	if snap.TradesPerSecond != 20 {
		t.Fatalf("trades/s = %v, want 20", snap.TradesPerSecond)
	}
	if snap.AvgLatencyMs != 50.5 {
		t.Fatalf("avg latency = %v, want 50.5", snap.AvgLatencyMs)
	}
	if snap.P95LatencyMs != 96 {
		t.Fatalf("p95 = %v, want 96", snap.P95LatencyMs)
	}
	if snap.P99LatencyMs != 100 {
		t.Fatalf("p99 = %v, want 100", snap.P99LatencyMs)
	}
	if snap.ErrorRate != 0.01 {
		t.Fatalf("error rate = %v, want 0.01", snap.ErrorRate)
	}
	if snap.OrdersSplit != 1 || snap.ChildOrdersCreated != 5 {
		t.Fatalf("split counters = %v/%v", snap.OrdersSplit, snap.ChildOrdersCreated)
	}
	if math.Abs(snap.AvgMarketImpact+0.3) > 1e-9 {
		t.Fatalf("avg impact = %v, want -0.3", snap.AvgMarketImpact)
	}
	if got := mem.Metrics()["latency_p95"]; got != "96.0000" {
		t.Fatalf("persisted p95 = %q", got)
	}

	// 窗口计数随 Flush 清零
	next := agg.Flush(context.Background())
	if next.TradesPerSecond != 0 || next.AvgLatencyMs != 0 || next.OrdersSplit != 0 {
		t.Fatalf("window counters not reset: %+v", next)
	}
	// 负载是水平值，不清零
	if next.SystemLoad != 42 {
		t.Fatalf("system load = %v, want 42", next.SystemLoad)
	}
}

func TestSanitizeReplacesDirtyValues(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	agg := newTestAggregator(store.NewMemory(clock.now), nil, clock)

	agg.RecordExecution(math.NaN())
	agg.SetSystemLoad(5000) // 超出 [0,1000]

	snap := agg.Flush(context.Background())
	if snap.AvgLatencyMs != 0 {
		t.Fatalf("NaN latency leaked: %v", snap.AvgLatencyMs)
	}
	if snap.SystemLoad != 0 {
		t.Fatalf("out-of-range load leaked: %v", snap.SystemLoad)
	}
}

func TestNegativeImpactSurvivesSanitize(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	agg := newTestAggregator(store.NewMemory(clock.now), nil, clock)
	agg.RecordSplit(1, []float64{-2.5})
	if snap := agg.Flush(context.Background()); snap.AvgMarketImpact != -2.5 {
		t.Fatalf("log-scaled impact must pass through, got %v", snap.AvgMarketImpact)
	}
}

func TestPersistenceFailuresTripBreaker(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	flaky := &flakyStore{Memory: store.NewMemory(clock.now), fail: true}
	breaker := risk.NewBreaker(risk.BreakerConfig{CoolOff: 30 * time.Second, Clock: clock})
	agg := newTestAggregator(flaky, breaker, clock)

	for i := 0; i < 4; i++ {
		agg.Flush(context.Background())
		if breaker.IsOpen() {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}
	agg.Flush(context.Background()) // 第 5 次连续失败
	if !breaker.IsOpen() {
		t.Fatal("breaker must open after 5 consecutive persistence failures")
	}

	// 熔断期间跳过发布：快照仍更新，存储不再被触达
	calls := flaky.calls
	snap := agg.Flush(context.Background())
	if flaky.calls != calls {
		t.Fatal("flush must skip persistence while breaker is open")
	}
	if snap.At.IsZero() {
		t.Fatal("snapshot must still be produced while breaker is open")
	}
}

func TestPersistenceFailureCounterResetsOnSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	flaky := &flakyStore{Memory: store.NewMemory(clock.now), fail: true}
	breaker := risk.NewBreaker(risk.BreakerConfig{CoolOff: 30 * time.Second, Clock: clock})
	agg := newTestAggregator(flaky, breaker, clock)

	for i := 0; i < 4; i++ {
		agg.Flush(context.Background())
	}
	flaky.fail = false
	agg.Flush(context.Background()) // 成功，计数归零
	flaky.fail = true
	for i := 0; i < 4; i++ {
		agg.Flush(context.Background())
	}
	if breaker.IsOpen() {
		t.Fatal("non-consecutive failures must not trip the breaker")
	}
}

func TestRenderText(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	agg := newTestAggregator(store.NewMemory(clock.now), nil, clock)
	agg.RecordExecution(10)
	agg.Flush(context.Background())

	text := agg.RenderText()
	for _, want := range []string{"trades_per_second ", "latency_p95_ms ", "error_rate ", "circuit_phase "} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered text missing %q:\n%s", want, text)
		}
	}
}
