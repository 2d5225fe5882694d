package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate-go/market"
	"trade-gate-go/risk"
	"trade-gate-go/splitter"
	"trade-gate-go/store"
)

// RunnerConfig 描述仿真装配的可选参数，零值用引擎默认。
type RunnerConfig struct {
	Symbols       []string
	Seed          int64
	DailyLimit    float64
	Volatility    float64 // 每个标的的初始波动率样本
	WindowElapsed time.Duration
	SplitEvery    int
}

// BuildRunner 基于内存组件快速组装仿真链路（引擎+拆单器），适合离线干跑。
func BuildRunner(ctx context.Context, cfg RunnerConfig) (*Runner, *store.Memory, error) {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"R_100"}
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.2
	}
	if cfg.WindowElapsed <= 0 {
		cfg.WindowElapsed = 12 * time.Hour
	}

	mem := store.NewMemory(time.Now().UTC().Add(-cfg.WindowElapsed))
	src := market.NewStatic()
	for _, sym := range cfg.Symbols {
		src.SetVolatility(sym, cfg.Volatility)
	}
	src.SetProfile([]market.PriceLevel{
		{Price: decimal.NewFromInt(99), Volume: 30},
		{Price: decimal.NewFromInt(100), Volume: 50},
		{Price: decimal.NewFromInt(101), Volume: 20},
	})

	params := risk.DefaultParams()
	if cfg.DailyLimit > 0 {
		params.DailyLimit = decimal.NewFromFloat(cfg.DailyLimit)
	}
	breaker := risk.NewBreaker(risk.BreakerConfig{CoolOff: 30 * time.Second})
	engine, err := risk.NewEngine(ctx, risk.EngineConfig{
		Params:  params,
		Breaker: breaker,
		Store:   mem,
		Source:  src,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, sym := range cfg.Symbols {
		engine.RecordVolatility(sym, cfg.Volatility)
	}

	split := splitter.New(splitter.Config{
		Source:        src,
		Store:         mem,
		GrowthFactorK: params.GrowthFactorK,
	})

	r := NewRunner(engine, split, cfg.Symbols, cfg.Seed)
	if cfg.SplitEvery > 0 {
		r.SplitEvery = cfg.SplitEvery
	}
	return r, mem, nil
}
