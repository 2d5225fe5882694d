package alert

import (
	"context"
	"encoding/json"
	"time"

	"trade-gate-go/infrastructure/logger"
)

// ZapChannel 结构化日志告警通道
type ZapChannel struct {
	log  *logger.Logger
	name string
}

// NewZapChannel 创建日志告警通道
func NewZapChannel(name string, log *logger.Logger) *ZapChannel {
	return &ZapChannel{log: log, name: name}
}

// Send 发送告警到日志
func (c *ZapChannel) Send(a Alert) error {
	c.log.LogCircuit("alert", a.Message, a.Fields)
	return nil
}

// Name 返回通道名称
func (c *ZapChannel) Name() string { return c.name }

// Publisher 发布消息的最小接口（由 store.RiskStore 满足）。
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PubSubChannel 把告警发布到消息通道，供下游监控消费。
type PubSubChannel struct {
	pub     Publisher
	channel string
	timeout time.Duration
}

// NewPubSubChannel 创建消息通道告警通道
func NewPubSubChannel(pub Publisher, channel string, timeout time.Duration) *PubSubChannel {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &PubSubChannel{pub: pub, channel: channel, timeout: timeout}
}

// Send 发布告警；发布失败只向调用方返回错误，不重试。
func (c *PubSubChannel) Send(a Alert) error {
	payload, err := json.Marshal(struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		At      time.Time              `json:"at"`
		Fields  map[string]interface{} `json:"fields,omitempty"`
	}{a.Level, a.Message, a.Timestamp, a.Fields})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.pub.Publish(ctx, c.channel, payload)
}

// Name 返回通道名称
func (c *PubSubChannel) Name() string { return "pubsub:" + c.channel }
