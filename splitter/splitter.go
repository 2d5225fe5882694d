// Package splitter 把已准入的大额母单拆解为子单，降低市场冲击。
package splitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate-go/infrastructure/logger"
	"trade-gate-go/market"
	"trade-gate-go/risk"
	"trade-gate-go/store"
)

var (
	// ErrMalformedOrder 调用方错误：记录、计数，不重试。
	ErrMalformedOrder = errors.New("malformed parent order")
)

// Strategy 拆单策略。封闭枚举，switch 穷尽匹配，新增策略是编译期检查的扩展。
type Strategy int

const (
	StrategyUnknown Strategy = iota
	StrategyTWAP
	StrategyVWAP
)

func (s Strategy) String() string {
	switch s {
	case StrategyTWAP:
		return "TWAP"
	case StrategyVWAP:
		return "VWAP"
	default:
		return "UNKNOWN"
	}
}

// ParseStrategy 解析策略名；未知策略返回 StrategyUnknown。
func ParseStrategy(s string) Strategy {
	switch s {
	case "TWAP":
		return StrategyTWAP
	case "VWAP":
		return StrategyVWAP
	default:
		return StrategyUnknown
	}
}

// MarshalJSON / UnmarshalJSON 以策略名上线。
func (s Strategy) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Strategy) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	*s = ParseStrategy(name)
	return nil
}

// ParentOrder 待拆解的母单。
type ParentOrder struct {
	Symbol        string        `json:"symbol"`
	TotalQuantity int           `json:"quantity"`
	Duration      time.Duration `json:"duration"`
	Strategy      Strategy      `json:"strategy"`
}

// ChildOrder 派生的子单，发布到执行通道后即不再归属本组件。
type ChildOrder struct {
	Symbol      string          `json:"symbol"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ChildOrdersChannel 子单发布通道。
const ChildOrdersChannel = "child-orders"

// ImpactChannel 市场冲击样本通道。
const ImpactChannel = "market-impact"

// impactScale 冲击分的对数缩放系数。
const impactScale = 0.5

// maxChildTTL 子单最长有效期。
const maxChildTTL = 30 * time.Second

// ImpactSink 接收拆单遥测（由 metrics.Aggregator 实现）。
type ImpactSink interface {
	RecordSplit(childOrders int, impactScores []float64)
	RecordError()
}

// Splitter 拆单器。VWAP 的可部署资金重用风控引擎的资金释放公式，
// 在拆单时刻基于共享账本求值。
type Splitter struct {
	source        market.Source
	store         store.RiskStore
	sink          ImpactSink
	log           *logger.Logger
	clock         risk.Clock
	growthFactorK float64
	participation float64
	opTimeout     time.Duration
}

// Config 拆单器装配
type Config struct {
	Source        market.Source
	Store         store.RiskStore
	Sink          ImpactSink
	Log           *logger.Logger
	Clock         risk.Clock
	GrowthFactorK float64 // 与风控引擎一致
	Participation float64 // VWAP 参与率上限，默认 0.1
	OpTimeout     time.Duration
}

// New 创建拆单器
func New(cfg Config) *Splitter {
	if cfg.Clock == nil {
		cfg.Clock = risk.NowUTC
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Participation <= 0 {
		cfg.Participation = 0.1
	}
	if cfg.GrowthFactorK <= 0 {
		cfg.GrowthFactorK = 0.15
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}
	return &Splitter{
		source:        cfg.Source,
		store:         cfg.Store,
		sink:          cfg.Sink,
		log:           cfg.Log,
		clock:         cfg.Clock,
		growthFactorK: cfg.GrowthFactorK,
		participation: cfg.Participation,
		opTimeout:     cfg.OpTimeout,
	}
}

// Split 按策略拆单。全有或全无：母单非法或任一依赖失败时不发出任何子单。
// 成功时子单已发布到执行通道，冲击分已转发给指标聚合。
func (s *Splitter) Split(ctx context.Context, order ParentOrder) ([]ChildOrder, error) {
	children, err := s.plan(ctx, order)
	if err != nil {
		if s.sink != nil {
			s.sink.RecordError()
		}
		s.log.LogError(err, map[string]interface{}{"symbol": order.Symbol, "strategy": order.Strategy.String()})
		return nil, err
	}

	scores, err := s.trackImpact(ctx, children)
	if err != nil {
		if s.sink != nil {
			s.sink.RecordError()
		}
		return nil, err
	}
	if err := s.publish(ctx, children); err != nil {
		if s.sink != nil {
			s.sink.RecordError()
		}
		return nil, err
	}
	if s.sink != nil {
		s.sink.RecordSplit(len(children), scores)
	}
	s.log.LogSplit(order.Symbol, order.Strategy.String(), len(children))
	return children, nil
}

// plan 生成子单集合，不产生副作用。
func (s *Splitter) plan(ctx context.Context, order ParentOrder) ([]ChildOrder, error) {
	if order.Symbol == "" || order.TotalQuantity <= 0 {
		return nil, fmt.Errorf("%w: symbol=%q quantity=%d", ErrMalformedOrder, order.Symbol, order.TotalQuantity)
	}
	switch order.Strategy {
	case StrategyTWAP:
		if order.Duration <= 0 {
			return nil, fmt.Errorf("%w: twap requires duration", ErrMalformedOrder)
		}
		return s.twap(order), nil
	case StrategyVWAP:
		return s.vwap(ctx, order)
	default:
		return nil, fmt.Errorf("%w: unknown strategy", ErrMalformedOrder)
	}
}

// twap 把 duration 均分为 totalQuantity 个间隔，每个间隔一张单位子单。
// 数量守恒且时间等距。
func (s *Splitter) twap(order ParentOrder) []ChildOrder {
	now := s.clock.Now()
	interval := order.Duration / time.Duration(order.TotalQuantity)
	children := make([]ChildOrder, order.TotalQuantity)
	for i := range children {
		at := now.Add(time.Duration(i) * interval)
		children[i] = ChildOrder{
			Symbol:      order.Symbol,
			Quantity:    1,
			ScheduledAt: at,
			ExpiresAt:   at.Add(interval),
		}
	}
	return children
}

// vwap 按价位成交量占比分配数量：
// round(levelVol/totalVol * allocatedCapital * participation)，零量价位丢弃。
func (s *Splitter) vwap(ctx context.Context, order ParentOrder) ([]ChildOrder, error) {
	c, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	levels, err := s.source.VolumeProfile(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrDependencyTimeout, err)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: empty volume profile", ErrMalformedOrder)
	}

	daily, err := s.daily(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	elapsed := now.Sub(daily.WindowStart)
	allocated := risk.AllocatedCapital(daily.Limit, daily.Profit, s.growthFactorK, elapsed)

	totalVolume := 0.0
	for _, lv := range levels {
		totalVolume += lv.Volume
	}
	if totalVolume <= 0 {
		return nil, fmt.Errorf("%w: volume profile has no volume", ErrMalformedOrder)
	}

	// 子单有效期不超过剩余释放窗口
	ttl := maxChildTTL
	if remaining := risk.PacingWindow - elapsed; remaining < ttl {
		ttl = remaining
	}
	if ttl < 0 {
		ttl = 0
	}

	budget := allocated.Mul(decimal.NewFromFloat(s.participation)).InexactFloat64()
	children := make([]ChildOrder, 0, len(levels))
	for _, lv := range levels {
		qty := int(math.Round(lv.Volume / totalVolume * budget))
		if qty <= 0 {
			continue
		}
		children = append(children, ChildOrder{
			Symbol:      order.Symbol,
			Quantity:    qty,
			Price:       lv.Price,
			ScheduledAt: now,
			ExpiresAt:   now.Add(ttl),
		})
	}
	return children, nil
}

type dailyLedger struct {
	Profit      decimal.Decimal
	Limit       decimal.Decimal
	WindowStart time.Time
}

// daily 从共享账本读取拆单时刻的利润与窗口起点。
func (s *Splitter) daily(ctx context.Context) (dailyLedger, error) {
	c, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	d, err := s.store.Daily(c)
	if err != nil {
		return dailyLedger{}, fmt.Errorf("%w: %v", risk.ErrDependencyTimeout, err)
	}
	limit := d.Limit
	if !limit.IsPositive() {
		// 引擎尚未发布额度时退回默认值
		limit = risk.DefaultParams().DailyLimit
	}
	return dailyLedger{Profit: d.Profit, Limit: limit, WindowStart: d.WindowStart}, nil
}

// trackImpact 计算每张子单的冲击分 ln(qty/avgTradeSize)*0.5 并发布样本。
func (s *Splitter) trackImpact(ctx context.Context, children []ChildOrder) ([]float64, error) {
	c, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	avg, err := s.source.AverageTradeSize(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrDependencyTimeout, err)
	}
	avgF := avg.InexactFloat64()
	if avgF <= 0 {
		avgF = 100
	}
	scores := make([]float64, len(children))
	for i, ch := range children {
		scores[i] = math.Log(float64(ch.Quantity)/avgF) * impactScale
	}
	if payload, err := json.Marshal(scores); err == nil {
		pc, pcancel := context.WithTimeout(ctx, s.opTimeout)
		_ = s.store.Publish(pc, ImpactChannel, payload)
		pcancel()
	}
	return scores, nil
}

// publish 把整批子单一次性发布到执行通道。
// 先全部编码再发布，编码或发布失败都不会留下半批子单。
func (s *Splitter) publish(ctx context.Context, children []ChildOrder) error {
	payloads := make([][]byte, len(children))
	for i, ch := range children {
		payload, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}
	c, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.store.PublishBatch(c, ChildOrdersChannel, payloads)
}
