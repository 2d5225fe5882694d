package risk

import (
	"sync"
	"time"
)

// Phase 熔断器状态：只有 CLOSED / OPEN 两态，恢复完全由时间驱动。
type Phase int32

const (
	// PhaseClosed 关闭状态 - 正常放行
	PhaseClosed Phase = iota
	// PhaseOpen 打开状态 - 拒绝所有请求，冷却结束后自动恢复
	PhaseOpen
)

// String 返回状态名称
func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "CLOSED"
	case PhaseOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitEvent 熔断事件，透出给告警/日志。
type CircuitEvent struct {
	Reason string
	Fields map[string]interface{}
	At     time.Time
}

// Breaker 两态熔断器。风控引擎与指标聚合各持有独立实例，
// 互不影响故障域。没有手动恢复入口：OPEN 状态在 coolOff 到期后自动回到 CLOSED。
type Breaker struct {
	coolOff time.Duration
	clock   Clock

	mu       sync.Mutex
	phase    Phase
	openedAt time.Time

	onOpen  func(CircuitEvent)
	onReset func(time.Time)
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	CoolOff time.Duration // 冷却时长，默认 30s
	Clock   Clock
	OnOpen  func(CircuitEvent) // CLOSED→OPEN 时回调（可为 nil）
	OnReset func(time.Time)    // 自动恢复时回调（可为 nil）
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = NowUTC
	}
	return &Breaker{
		coolOff: cfg.CoolOff,
		clock:   cfg.Clock,
		phase:   PhaseClosed,
		onOpen:  cfg.OnOpen,
		onReset: cfg.OnReset,
	}
}

// Trip 触发熔断 CLOSED→OPEN。OPEN 期间重复触发是幂等的：
// 不刷新 openedAt、不延长冷却窗口，否则持续触发条件会把熔断器锁死。
func (b *Breaker) Trip(reason string, fields map[string]interface{}) {
	b.mu.Lock()
	now := b.clock.Now()
	if b.phase == PhaseOpen && now.Sub(b.openedAt) < b.coolOff {
		b.mu.Unlock()
		return
	}
	b.phase = PhaseOpen
	b.openedAt = now
	cb := b.onOpen
	b.mu.Unlock()

	if cb != nil {
		cb(CircuitEvent{Reason: reason, Fields: fields, At: now})
	}

	// 定时自动恢复，独立于请求路径；进程退出时随之消失，无需取消。
	time.AfterFunc(b.coolOff, func() { b.reset(now) })
}

// reset 仅当仍处于 openedAt 对应的那次熔断时才恢复。
func (b *Breaker) reset(openedAt time.Time) {
	b.mu.Lock()
	if b.phase != PhaseOpen || !b.openedAt.Equal(openedAt) {
		b.mu.Unlock()
		return
	}
	b.phase = PhaseClosed
	now := b.clock.Now()
	cb := b.onReset
	b.mu.Unlock()

	if cb != nil {
		cb(now)
	}
}

// IsOpen 纯读。按注入时钟惰性判定，冷却期满即视为 CLOSED，
// 即使恢复回调尚未执行。
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase != PhaseOpen {
		return false
	}
	return b.clock.Now().Sub(b.openedAt) < b.coolOff
}

// Phase 返回当前状态（用于指标快照）。
func (b *Breaker) Phase() Phase {
	if b.IsOpen() {
		return PhaseOpen
	}
	return PhaseClosed
}

// OpenedAt 返回最近一次熔断时间，未熔断过则为零值。
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}
