// Package store 管理共享风控状态与消息通道。
//
// 多实例水平扩展时 dailyProfit / positionSizes 必须经由原子一致的共享存储
// 更新，否则两个实例基于各自过期副本竞争 validate 会联合超支日内额度。
// 单实例与测试使用内存实现，生产使用 redis 实现。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPersistence 存储写入失败；记录并计入熔断，绝不导致进程崩溃。
	ErrPersistence = errors.New("persistence failure")
)

// Daily 日内风控账本快照。
type Daily struct {
	Profit      decimal.Decimal // 当日已实现利润
	Limit       decimal.Decimal // 日内额度（引擎写入，拆单器读取）
	WindowStart time.Time       // 当前资金释放窗口起点
}

// RiskStore 共享风控状态存储。所有方法都可能跨进程，调用方必须带超时上下文。
type RiskStore interface {
	// Daily 读取日内账本。
	Daily(ctx context.Context) (Daily, error)
	// AddProfit 原子累加已实现利润，返回累加后的值。
	AddProfit(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error)
	// ResetDay 滚动资金释放窗口：利润清零，窗口起点置为 now。
	ResetDay(ctx context.Context, now time.Time) error
	// SetDailyLimit 发布当前日内额度（参数热更新与绩效再平衡时调用）。
	SetDailyLimit(ctx context.Context, limit decimal.Decimal) error

	// Position 读取标的当前敞口。
	Position(ctx context.Context, symbol string) (decimal.Decimal, error)
	// AddPositionBounded 带上限的原子增量（CAS 语义）：
	// 若增加后敞口超过 limit 则不写入并返回 false。可重入 redis 多实例竞争。
	AddPositionBounded(ctx context.Context, symbol string, delta, limit decimal.Decimal) (bool, error)

	// SetMetrics 整体发布指标快照到 system:metrics。
	SetMetrics(ctx context.Context, fields map[string]string) error

	// Publish 向通道发布一条消息（child-orders / market-impact 等）。
	Publish(ctx context.Context, channel string, payload []byte) error
	// PublishBatch 一次性发布整批消息（拆单产出的子单集合）。
	// redis 实现走单次流水线往返，避免逐条发布中途失败留下半批。
	PublishBatch(ctx context.Context, channel string, payloads [][]byte) error
	// Subscribe 订阅通道，返回的只读 chan 在 ctx 取消后关闭。
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
