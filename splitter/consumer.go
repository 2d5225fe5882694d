package splitter

import (
	"context"
	"encoding/json"
	"time"
)

// LargeOrdersChannel 母单进入通道。
const LargeOrdersChannel = "large-orders"

// parentOrderWire 通道上的母单编码；duration 以毫秒计。
type parentOrderWire struct {
	Symbol     string `json:"symbol"`
	Quantity   int    `json:"quantity"`
	DurationMs int64  `json:"duration_ms"`
	Strategy   string `json:"strategy"`
}

// Run 消费 large-orders 通道直到 ctx 取消。
// 每条消息独立处理：解析失败或拆单失败只计数，不影响后续消息，也绝不重试。
func (s *Splitter) Run(ctx context.Context) error {
	msgs, err := s.store.Subscribe(ctx, LargeOrdersChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(ctx, payload)
		}
	}
}

func (s *Splitter) handle(ctx context.Context, payload []byte) {
	var wire parentOrderWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		if s.sink != nil {
			s.sink.RecordError()
		}
		s.log.LogError(err, map[string]interface{}{"channel": LargeOrdersChannel})
		return
	}
	order := ParentOrder{
		Symbol:        wire.Symbol,
		TotalQuantity: wire.Quantity,
		Duration:      time.Duration(wire.DurationMs) * time.Millisecond,
		Strategy:      ParseStrategy(wire.Strategy),
	}
	// Split 内部已计数并记录错误
	_, _ = s.Split(ctx, order)
}
