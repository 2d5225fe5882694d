package metrics

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// ExecutionsChannel 成交回报通道。
	ExecutionsChannel = "trade-executions"
	// ErrorsChannel 执行错误通道。
	ErrorsChannel = "trade-errors"
)

// executionWire 成交回报编码。latency_ms 缺省时以消息时间戳推算。
type executionWire struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix 毫秒
	LatencyMs float64 `json:"latency_ms"`
}

// RunConsumers 消费执行回报与错误通道直到 ctx 取消。
func (a *Aggregator) RunConsumers(ctx context.Context) error {
	execs, err := a.store.Subscribe(ctx, ExecutionsChannel)
	if err != nil {
		return err
	}
	errs, err := a.store.Subscribe(ctx, ErrorsChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-execs:
			if !ok {
				return nil
			}
			a.handleExecution(payload)
		case _, ok := <-errs:
			if !ok {
				return nil
			}
			a.RecordError()
		}
	}
}

func (a *Aggregator) handleExecution(payload []byte) {
	var wire executionWire
	if err := json.Unmarshal(payload, &wire); err != nil || wire.ID == "" || wire.Timestamp == 0 {
		a.RecordError()
		return
	}
	latency := wire.LatencyMs
	if latency <= 0 {
		latency = float64(a.clock.Now().Sub(time.UnixMilli(wire.Timestamp))) / float64(time.Millisecond)
	}
	a.RecordExecution(latency)
}
