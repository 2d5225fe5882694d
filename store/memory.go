package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory 单实例内存存储，也是测试替身。
type Memory struct {
	mu          sync.Mutex
	profit      decimal.Decimal
	limit       decimal.Decimal
	windowStart time.Time
	positions   map[string]decimal.Decimal
	metrics     map[string]string
	subs        map[string][]chan []byte
}

func NewMemory(windowStart time.Time) *Memory {
	return &Memory{
		windowStart: windowStart,
		positions:   make(map[string]decimal.Decimal),
		metrics:     make(map[string]string),
		subs:        make(map[string][]chan []byte),
	}
}

func (m *Memory) Daily(context.Context) (Daily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Daily{Profit: m.profit, Limit: m.limit, WindowStart: m.windowStart}, nil
}

func (m *Memory) SetDailyLimit(_ context.Context, limit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	return nil
}

func (m *Memory) AddProfit(_ context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profit = m.profit.Add(delta)
	return m.profit, nil
}

func (m *Memory) ResetDay(_ context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profit = decimal.Zero
	m.windowStart = now
	m.positions = make(map[string]decimal.Decimal)
	return nil
}

func (m *Memory) Position(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[symbol], nil
}

func (m *Memory) AddPositionBounded(_ context.Context, symbol string, delta, limit decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.positions[symbol].Add(delta)
	if limit.IsPositive() && next.GreaterThan(limit) {
		return false, nil
	}
	m.positions[symbol] = next
	return true, nil
}

func (m *Memory) SetMetrics(_ context.Context, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range fields {
		m.metrics[k] = v
	}
	return nil
}

// Metrics 返回当前指标字段副本（测试用）。
func (m *Memory) Metrics() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.metrics))
	for k, v := range m.metrics {
		out[k] = v
	}
	return out
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]chan []byte(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- payload:
		default: // 订阅方消费不过来时丢弃，发布永不阻塞
		}
	}
	return nil
}

func (m *Memory) PublishBatch(_ context.Context, channel string, payloads [][]byte) error {
	m.mu.Lock()
	subs := append([]chan []byte(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, payload := range payloads {
		for _, ch := range subs {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		active := m.subs[channel]
		for i, c := range active {
			if c == ch {
				m.subs[channel] = append(active[:i], active[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
