package benchmark

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate-go/market"
	"trade-gate-go/risk"
	"trade-gate-go/splitter"
	"trade-gate-go/store"
)

// createBenchmarkEngine 创建用于基准测试的引擎（内存组件，大额度避免中途拒绝）。
func createBenchmarkEngine(b *testing.B) (*risk.Engine, *store.Memory) {
	b.Helper()
	mem := store.NewMemory(time.Now().UTC().Add(-12 * time.Hour))
	src := market.NewStatic()
	src.SetVolatility("R_100", 0.2)

	params := risk.DefaultParams()
	params.DailyLimit = decimal.NewFromInt(1_000_000_000)
	engine, err := risk.NewEngine(context.Background(), risk.EngineConfig{
		Params:  params,
		Breaker: risk.NewBreaker(risk.BreakerConfig{CoolOff: time.Minute}),
		Store:   mem,
		Source:  src,
	})
	if err != nil {
		b.Fatalf("创建引擎失败: %v", err)
	}
	engine.RecordVolatility("R_100", 0.2)
	return engine, mem
}

// BenchmarkValidate 准入热路径吞吐。
func BenchmarkValidate(b *testing.B) {
	engine, _ := createBenchmarkEngine(b)
	ctx := context.Background()
	amount := decimal.NewFromInt(100)
	price := decimal.NewFromInt(100)
	nbbo := risk.NBBO{Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Validate(ctx, risk.TradeSignal{
			Symbol:       "R_100",
			Amount:       amount,
			Price:        price,
			Timestamp:    time.Now().UTC(),
			NBBO:         nbbo,
			ContractType: "CALL",
		})
	}
}

// BenchmarkSplitTWAP 拆单路径吞吐（含通道发布）。
func BenchmarkSplitTWAP(b *testing.B) {
	mem := store.NewMemory(time.Now().UTC().Add(-12 * time.Hour))
	src := market.NewStatic()
	src.SetAverageTradeSize(decimal.NewFromInt(100))
	sp := splitter.New(splitter.Config{Source: src, Store: mem})
	ctx := context.Background()
	order := splitter.ParentOrder{
		Symbol:        "R_100",
		TotalQuantity: 10,
		Duration:      10 * time.Second,
		Strategy:      splitter.StrategyTWAP,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sp.Split(ctx, order); err != nil {
			b.Fatal(err)
		}
	}
}
