package market

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Static 内存态数据源，测试与干跑模式使用。
type Static struct {
	mu           sync.RWMutex
	volatility   map[string]float64
	profile      []PriceLevel
	avgTradeSize decimal.Decimal
	flow         map[string]OrderFlow
}

func NewStatic() *Static {
	return &Static{
		volatility:   make(map[string]float64),
		flow:         make(map[string]OrderFlow),
		avgTradeSize: decimal.NewFromInt(100),
	}
}

func (s *Static) SetVolatility(symbol string, v float64) {
	s.mu.Lock()
	s.volatility[symbol] = v
	s.mu.Unlock()
}

func (s *Static) SetProfile(levels []PriceLevel) {
	s.mu.Lock()
	s.profile = append([]PriceLevel(nil), levels...)
	s.mu.Unlock()
}

func (s *Static) SetAverageTradeSize(v decimal.Decimal) {
	s.mu.Lock()
	s.avgTradeSize = v
	s.mu.Unlock()
}

func (s *Static) SetOrderFlow(symbol string, f OrderFlow) {
	s.mu.Lock()
	s.flow[symbol] = f
	s.mu.Unlock()
}

func (s *Static) Volatility(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volatility[symbol], nil
}

func (s *Static) VolumeProfile(context.Context) ([]PriceLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PriceLevel(nil), s.profile...), nil
}

func (s *Static) AverageTradeSize(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avgTradeSize, nil
}

func (s *Static) OrderFlow(_ context.Context, symbol string) (OrderFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flow[symbol], nil
}

// SessionCalendar 按 UTC 时段开闭市的日历，秒粒度。
type SessionCalendar struct {
	Open  time.Duration // 距当日零点的开市偏移
	Close time.Duration // 距当日零点的闭市偏移
}

func (c SessionCalendar) IsOpen(now time.Time) bool {
	if c.Close <= c.Open {
		return true
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := now.Sub(midnight)
	return offset >= c.Open && offset < c.Close
}
