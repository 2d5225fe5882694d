// Package risk 实现交易信号的准入控制：资金释放、波动率、合规与熔断。
// 每个信号走单一决策路径，按最廉价/最保护优先的顺序短路。
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate-go/infrastructure/alert"
	"trade-gate-go/infrastructure/logger"
	"trade-gate-go/market"
	"trade-gate-go/store"
)

// recentTradesCap 洗售回看序列的容量上限。
const recentTradesCap = 256

// defaultVolatility 无样本时的保守波动率估计。
const defaultVolatility = 0.1

// 订单流滥用判定阈值：撤单率与订单簿不平衡同时越线才告警。
const (
	abuseCancelRate = 0.8
	abuseImbalance  = 0.9
)

// Engine 风控引擎。写入共享存储的状态（利润、敞口）只经由原子操作，
// 本地只保留加速热路径的镜像。
type Engine struct {
	mu     sync.Mutex
	params Params

	breaker  *Breaker
	store    store.RiskStore
	source   market.Source
	calendar market.Calendar
	alerts   *alert.Manager
	log      *logger.Logger
	clock    Clock

	dailyProfit decimal.Decimal // store 镜像（指标用），validate 以存储读数为准
	vols        map[string]*volWindow
	recent      []FilledTrade
}

// EngineConfig 引擎装配
type EngineConfig struct {
	Params   Params
	Breaker  *Breaker
	Store    store.RiskStore
	Source   market.Source
	Calendar market.Calendar
	Alerts   *alert.Manager
	Log      *logger.Logger
	Clock    Clock
}

// NewEngine 创建引擎并从共享存储恢复日内账本；
// 存储里没有窗口起点时开启新窗口。
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = NowUTC
	}
	if cfg.Calendar == nil {
		cfg.Calendar = market.AlwaysOpen{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	e := &Engine{
		params:   cfg.Params,
		breaker:  cfg.Breaker,
		store:    cfg.Store,
		source:   cfg.Source,
		calendar: cfg.Calendar,
		alerts:   cfg.Alerts,
		log:      cfg.Log,
		clock:    cfg.Clock,
		vols:     make(map[string]*volWindow),
	}

	daily, err := e.store.Daily(ctx)
	if err != nil {
		return nil, err
	}
	if daily.WindowStart.IsZero() {
		now := e.clock.Now()
		if err := e.store.ResetDay(ctx, now); err != nil {
			return nil, err
		}
		daily = store.Daily{WindowStart: now}
	}
	e.dailyProfit = daily.Profit
	// 账本里的额度对拆单器可见
	if err := e.store.SetDailyLimit(ctx, cfg.Params.DailyLimit); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate 信号准入。拒绝无副作用；通过时敞口与洗售序列被更新。
func (e *Engine) Validate(ctx context.Context, signal TradeSignal) Decision {
	d := e.validate(ctx, signal)
	e.log.LogDecision(signal.Symbol, signal.ReferenceID, d.Accepted, d.Reason)
	return d
}

func (e *Engine) validate(ctx context.Context, signal TradeSignal) Decision {
	// 熔断开启期间全部拒绝；市场级触发在本函数尾部，对当前信号不回溯。
	if e.breaker.IsOpen() {
		return reject(ReasonCircuitOpen)
	}
	if signal.Symbol == "" || !signal.Amount.IsPositive() || !signal.Price.IsPositive() {
		return rejectErr(ReasonMalformedSignal, ErrMalformedSignal)
	}

	// 日内账本以共享存储为准：多实例下本地镜像会落后于
	// 其他实例上报的利润，直接用镜像限额会联合超支。
	daily, err := e.withTimeoutDaily(ctx)
	if err != nil {
		return rejectErr(ReasonDependencyTimeout, ErrDependencyTimeout)
	}
	dailyProfit := daily.Profit
	windowStart := daily.WindowStart

	e.mu.Lock()
	p := e.params
	e.dailyProfit = daily.Profit
	var vol, volMean float64
	haveVol := false
	if w := e.vols[signal.Symbol]; w != nil {
		vol, haveVol = w.latest()
		volMean = w.mean()
	}
	e.mu.Unlock()

	now := e.clock.Now()
	if !haveVol {
		v, err := e.withTimeout(ctx, func(c context.Context) (float64, error) {
			return e.source.Volatility(c, signal.Symbol)
		})
		if err != nil {
			return rejectErr(ReasonDependencyTimeout, ErrDependencyTimeout)
		}
		if v > 0 {
			vol = v
			e.RecordVolatility(signal.Symbol, v)
		} else {
			vol = defaultVolatility
		}
	}

	// 资金释放：限额先随波动率与回撤系数缩放，再被释放曲线约束。
	maxPosition := p.DailyLimit.Mul(decimal.NewFromFloat(vol * p.MaxDrawdown))
	elapsed := now.Sub(windowStart)
	profitTarget := ProfitTarget(p.DailyLimit, dailyProfit, p.GrowthFactorK, elapsed)
	allocated := AllocatedCapital(p.DailyLimit, dailyProfit, p.GrowthFactorK, elapsed)

	positionLimit := allocated.Mul(decimal.NewFromFloat(p.Participation))
	if maxPosition.LessThan(positionLimit) {
		positionLimit = maxPosition
	}
	if dailyProfit.Add(positionLimit).GreaterThan(profitTarget) {
		positionLimit = profitTarget.Sub(dailyProfit)
	}

	if dailyProfit.GreaterThanOrEqual(p.DailyLimit) {
		return reject(ReasonDailyLimitReached)
	}
	// 接近日内上限时主动熔断，保护后续信号；当前信号继续走完检查。
	if ratio := dailyProfit.Div(p.DailyLimit).InexactFloat64(); ratio >= p.NearLimitRatio {
		e.breaker.Trip("approaching_daily_limit", map[string]interface{}{"progress": ratio})
	}
	if signal.Amount.GreaterThan(positionLimit) {
		return reject(ReasonAmountExceedsLimit)
	}
	if now.Sub(signal.Timestamp) > p.MaxSignalAge {
		return reject(ReasonStaleSignal)
	}
	if vol > p.VolatilityThreshold {
		return reject(ReasonVolatilityExceeded)
	}

	// 市场级熔断：窗口均值越线只影响后续信号（熔断检查发生在入口）。
	if volMean > p.VolatilityThreshold {
		e.breaker.Trip("volatility_exceeded", map[string]interface{}{
			"symbol":     signal.Symbol,
			"volatility": volMean,
		})
	}

	if d := e.preTradeChecks(ctx, signal, now, p); !d.Accepted {
		return d
	}

	// 提交：有上限的原子增量，多实例竞争时由存储仲裁，绝不超限。
	posCap := p.MaxPositionLimits[signal.Symbol]
	ok, err := e.addPosition(ctx, signal.Symbol, signal.Amount, posCap)
	if err != nil {
		return rejectErr(ReasonDependencyTimeout, err)
	}
	if !ok {
		return reject(ReasonPositionLimit)
	}

	e.mu.Lock()
	e.recent = append(e.recent, FilledTrade{
		Symbol:       signal.Symbol,
		Amount:       signal.Amount,
		ContractType: signal.ContractType,
		At:           now,
	})
	if len(e.recent) > recentTradesCap {
		e.recent = e.recent[len(e.recent)-recentTradesCap:]
	}
	e.mu.Unlock()

	return accept()
}

// preTradeChecks 合规链：交易时段、NBBO、订单流滥用、敞口预检、洗售。
func (e *Engine) preTradeChecks(ctx context.Context, signal TradeSignal, now time.Time, p Params) Decision {
	if !e.calendar.IsOpen(now) {
		return reject(ReasonMarketClosed)
	}
	if signal.Price.LessThan(signal.NBBO.Bid) || signal.Price.GreaterThan(signal.NBBO.Ask) {
		return reject(ReasonNBBOViolation)
	}

	flow, err := e.withTimeoutFlow(ctx, signal.Symbol)
	if err != nil {
		return rejectErr(ReasonDependencyTimeout, ErrDependencyTimeout)
	}
	if flow.CancelRate > abuseCancelRate && flow.Imbalance > abuseImbalance {
		if e.alerts != nil {
			e.alerts.MarketAbuse(signal.Symbol, flow.CancelRate, flow.Imbalance)
		}
		return reject(ReasonMarketAbuse)
	}

	if posCap, ok := p.MaxPositionLimits[signal.Symbol]; ok && posCap.IsPositive() {
		pos, err := e.withTimeoutPos(ctx, signal.Symbol)
		if err != nil {
			return rejectErr(ReasonDependencyTimeout, ErrDependencyTimeout)
		}
		if pos.Add(signal.Amount).GreaterThan(posCap) {
			return reject(ReasonPositionLimit)
		}
	}

	if e.isWashSale(signal, now, p.WashSaleLookback) {
		return reject(ReasonWashSale)
	}
	return accept()
}

// isWashSale 回看窗口内存在同标的、等量、反向的成交即判定洗售。
func (e *Engine) isWashSale(signal TradeSignal, now time.Time, lookback time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.recent) - 1; i >= 0; i-- {
		t := e.recent[i]
		if now.Sub(t.At) > lookback {
			break // 序列按时间有序，越界即可停
		}
		if t.Offsets(signal) {
			return true
		}
	}
	return false
}

// RecordVolatility 接收行情管线推送的波动率样本（每标的保留最近100个）。
func (e *Engine) RecordVolatility(symbol string, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.vols[symbol]
	if !ok {
		w = &volWindow{}
		e.vols[symbol] = w
	}
	w.push(v)
}

// UpdateProfitState 累加已实现利润，原子落盘后刷新本地镜像。
func (e *Engine) UpdateProfitState(ctx context.Context, profit decimal.Decimal) error {
	total, err := e.withTimeoutProfit(ctx, profit)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.dailyProfit = total
	e.mu.Unlock()
	return nil
}

// UpdateRiskParameters 合并运维覆盖；非法合并结果被整体拒绝。
func (e *Engine) UpdateRiskParameters(ctx context.Context, patch ParamsPatch) error {
	e.mu.Lock()
	merged := e.params.merge(patch)
	if err := merged.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}
	limitChanged := !merged.DailyLimit.Equal(e.params.DailyLimit)
	e.params = merged
	limit := merged.DailyLimit
	e.mu.Unlock()

	if limitChanged {
		return e.publishLimit(ctx, limit)
	}
	return nil
}

// RebalanceDailyLimit 按绩效重定日内额度：
// base*(1-drawdown)*(sharpe/3)，夹在 [minCap, maxCap]。
func (e *Engine) RebalanceDailyLimit(ctx context.Context, perf PerformanceMetrics, minCap, maxCap decimal.Decimal) error {
	e.mu.Lock()
	adjusted := e.params.InitialCapital.
		Mul(decimal.NewFromFloat(1 - perf.Drawdown)).
		Mul(decimal.NewFromFloat(perf.SharpeRatio / 3))
	if adjusted.LessThan(minCap) {
		adjusted = minCap
	}
	if maxCap.IsPositive() && adjusted.GreaterThan(maxCap) {
		adjusted = maxCap
	}
	e.params.DailyLimit = adjusted
	e.mu.Unlock()
	return e.publishLimit(ctx, adjusted)
}

func (e *Engine) publishLimit(ctx context.Context, limit decimal.Decimal) error {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.store.SetDailyLimit(c, limit)
}

// RolloverDay 滚动 24h 资金释放窗口：利润清零、敞口清零、窗口起点重置。
func (e *Engine) RolloverDay(ctx context.Context) error {
	now := e.clock.Now()
	if err := e.store.ResetDay(ctx, now); err != nil {
		return err
	}
	e.mu.Lock()
	e.dailyProfit = decimal.Zero
	e.recent = e.recent[:0]
	e.mu.Unlock()
	return nil
}

// Breaker 返回引擎持有的熔断器实例。
func (e *Engine) Breaker() *Breaker { return e.breaker }

// DailyProgress 返回 dailyProfit/dailyLimit（指标用）。
func (e *Engine) DailyProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.params.DailyLimit.IsPositive() {
		return 0
	}
	return e.dailyProfit.Div(e.params.DailyLimit).InexactFloat64()
}

func (e *Engine) withTimeout(ctx context.Context, fn func(context.Context) (float64, error)) (float64, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return fn(c)
}

func (e *Engine) withTimeoutDaily(ctx context.Context) (store.Daily, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.store.Daily(c)
}

func (e *Engine) withTimeoutFlow(ctx context.Context, symbol string) (market.OrderFlow, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.source.OrderFlow(c, symbol)
}

func (e *Engine) withTimeoutPos(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.store.Position(c, symbol)
}

func (e *Engine) withTimeoutProfit(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.store.AddProfit(c, delta)
}

func (e *Engine) addPosition(ctx context.Context, symbol string, delta, cap decimal.Decimal) (bool, error) {
	c, cancel := context.WithTimeout(ctx, e.opTimeout())
	defer cancel()
	return e.store.AddPositionBounded(c, symbol, delta, cap)
}

func (e *Engine) opTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.params.OpTimeout <= 0 {
		return 50 * time.Millisecond
	}
	return e.params.OpTimeout
}
