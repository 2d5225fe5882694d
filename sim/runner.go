// Package sim 离线仿真：合成信号驱动准入-拆单全链路，用于干跑与容量评估。
package sim

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate-go/risk"
	"trade-gate-go/splitter"
)

// Runner 将合成信号依次送入风控引擎，周期性派生母单送入拆单器。
type Runner struct {
	Symbols    []string
	Engine     *risk.Engine
	Split      *splitter.Splitter
	Clock      risk.Clock
	SplitEvery int // 每接受多少笔信号派生一张母单，0 关闭拆单

	rng *rand.Rand

	MinAmount float64 // 合成信号金额下界
	MaxAmount float64 // 上界
	BasePrice float64
	Spread    float64 // NBBO 半宽
}

// Summary 一轮仿真的结果计数。
type Summary struct {
	Signals     int
	Accepted    int
	Rejections  map[string]int
	Splits      int
	ChildOrders int
}

// NewRunner 创建仿真 Runner；seed 固定时序列可复现。
func NewRunner(engine *risk.Engine, split *splitter.Splitter, symbols []string, seed int64) *Runner {
	return &Runner{
		Symbols:    symbols,
		Engine:     engine,
		Split:      split,
		Clock:      risk.NowUTC,
		SplitEvery: 10,
		rng:        rand.New(rand.NewSource(seed)),
		MinAmount:  100,
		MaxAmount:  5000,
		BasePrice:  100,
		Spread:     1,
	}
}

// RunN 同步跑 n 笔合成信号并返回计数。
func (r *Runner) RunN(ctx context.Context, n int) (Summary, error) {
	if r.Engine == nil || len(r.Symbols) == 0 {
		return Summary{}, errors.New("sim: runner not initialized")
	}
	sum := Summary{Rejections: make(map[string]int)}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Signals++
		decision := r.Engine.Validate(ctx, r.nextSignal())
		if !decision.Accepted {
			sum.Rejections[decision.Reason]++
			continue
		}
		sum.Accepted++

		if r.Split == nil || r.SplitEvery <= 0 || sum.Accepted%r.SplitEvery != 0 {
			continue
		}
		children, err := r.Split.Split(ctx, r.nextParent())
		if err != nil {
			continue // 拆单失败已由 splitter 计数
		}
		sum.Splits++
		sum.ChildOrders += len(children)
	}
	return sum, nil
}

// nextSignal 生成一笔合规形态的合成信号：价格落在 NBBO 内，时间戳取当前时刻。
func (r *Runner) nextSignal() risk.TradeSignal {
	symbol := r.Symbols[r.rng.Intn(len(r.Symbols))]
	amount := r.MinAmount + r.rng.Float64()*(r.MaxAmount-r.MinAmount)
	price := r.BasePrice + r.rng.Float64()*r.Spread - r.Spread/2
	contract := "CALL"
	if r.rng.Intn(2) == 1 {
		contract = "PUT"
	}
	return risk.TradeSignal{
		Symbol:       symbol,
		Amount:       decimal.NewFromFloat(amount),
		Price:        decimal.NewFromFloat(price),
		Timestamp:    r.Clock.Now(),
		NBBO:         risk.NBBO{Bid: decimal.NewFromFloat(r.BasePrice - r.Spread), Ask: decimal.NewFromFloat(r.BasePrice + r.Spread)},
		ContractType: contract,
	}
}

func (r *Runner) nextParent() splitter.ParentOrder {
	strategies := []splitter.Strategy{splitter.StrategyTWAP, splitter.StrategyVWAP}
	s := strategies[r.rng.Intn(len(strategies))]
	order := splitter.ParentOrder{
		Symbol:        r.Symbols[r.rng.Intn(len(r.Symbols))],
		TotalQuantity: 1 + r.rng.Intn(20),
		Strategy:      s,
	}
	if s == splitter.StrategyTWAP {
		order.Duration = time.Duration(1+r.rng.Intn(10)) * time.Second
	}
	return order
}
