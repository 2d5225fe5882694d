package alert

import (
	"sync"
	"time"
)

// Alert 告警信息
type Alert struct {
	Level     string                 // "INFO", "WARNING", "ERROR", "CRITICAL"
	Message   string                 // 告警消息
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。市场滥用与熔断事件经由它扇出到各通道。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastTime, exists := t.lastSent[key]
	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 重置限流器
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Fire 发送告警，按 Message 维度限流。
func (m *Manager) Fire(a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if !m.throttle.Allow(a.Message) {
		return
	}
	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()
	for _, ch := range channels {
		_ = ch.Send(a)
	}
}

// MarketAbuse 市场滥用（spoofing）告警。
func (m *Manager) MarketAbuse(symbol string, cancelRate, imbalance float64) {
	m.Fire(Alert{
		Level:   "CRITICAL",
		Message: "market_abuse_detected",
		Fields: map[string]interface{}{
			"symbol":      symbol,
			"cancel_rate": cancelRate,
			"imbalance":   imbalance,
		},
	})
}

// CircuitOpened 熔断触发告警。
func (m *Manager) CircuitOpened(owner, reason string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["owner"] = owner
	m.Fire(Alert{
		Level:   "WARNING",
		Message: "circuit_opened",
		Fields:  fields,
	})
}
