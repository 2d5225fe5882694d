package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyDaily     = "risk:daily"
	keyPositions = "risk:positions"
	keyMetrics   = "system:metrics"

	fieldProfit      = "current_profit"
	fieldLimit       = "daily_limit"
	fieldWindowStart = "window_start"

	// positionRetries Watch 乐观锁的最大重试次数。
	positionRetries = 5
)

// Redis 共享存储实现。利润用 HIncrByFloat 原子累加，
// 敞口上限校验走 Watch + 事务（CAS），多实例不会联合超限。
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) Daily(ctx context.Context) (Daily, error) {
	fields, err := s.rdb.HGetAll(ctx, keyDaily).Result()
	if err != nil {
		return Daily{}, fmt.Errorf("%w: read %s: %v", ErrPersistence, keyDaily, err)
	}
	var d Daily
	if v, ok := fields[fieldProfit]; ok {
		d.Profit, _ = decimal.NewFromString(v)
	}
	if v, ok := fields[fieldLimit]; ok {
		d.Limit, _ = decimal.NewFromString(v)
	}
	if v, ok := fields[fieldWindowStart]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.WindowStart = time.UnixMilli(ms).UTC()
		}
	}
	return d, nil
}

func (s *Redis) AddProfit(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	v, err := s.rdb.HIncrByFloat(ctx, keyDaily, fieldProfit, delta.InexactFloat64()).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: incr profit: %v", ErrPersistence, err)
	}
	return decimal.NewFromFloat(v), nil
}

func (s *Redis) ResetDay(ctx context.Context, now time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyDaily, fieldProfit, "0")
		pipe.HSet(ctx, keyDaily, fieldWindowStart, strconv.FormatInt(now.UnixMilli(), 10))
		pipe.Del(ctx, keyPositions)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: reset day: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Redis) SetDailyLimit(ctx context.Context, limit decimal.Decimal) error {
	if err := s.rdb.HSet(ctx, keyDaily, fieldLimit, limit.String()).Err(); err != nil {
		return fmt.Errorf("%w: set daily limit: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Redis) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := s.rdb.HGet(ctx, keyPositions, symbol).Result()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: read position %s: %v", ErrPersistence, symbol, err)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: position %s: %v", ErrPersistence, symbol, err)
	}
	return d, nil
}

func (s *Redis) AddPositionBounded(ctx context.Context, symbol string, delta, limit decimal.Decimal) (bool, error) {
	accepted := false
	txn := func(tx *redis.Tx) error {
		cur := decimal.Zero
		v, err := tx.HGet(ctx, keyPositions, symbol).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if cur, err = decimal.NewFromString(v); err != nil {
				return err
			}
		}
		next := cur.Add(delta)
		if limit.IsPositive() && next.GreaterThan(limit) {
			accepted = false
			return nil // 不写入，正常拒绝
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, keyPositions, symbol, next.String())
			return nil
		})
		if err == nil {
			accepted = true
		}
		return err
	}

	for i := 0; i < positionRetries; i++ {
		err := s.rdb.Watch(ctx, txn, keyPositions)
		if err == nil {
			return accepted, nil
		}
		if err == redis.TxFailedErr {
			continue // 并发修改，重读重试
		}
		return false, fmt.Errorf("%w: bounded incr %s: %v", ErrPersistence, symbol, err)
	}
	return false, fmt.Errorf("%w: bounded incr %s: contention retries exhausted", ErrPersistence, symbol)
}

func (s *Redis) SetMetrics(ctx context.Context, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	flat := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	if err := s.rdb.HSet(ctx, keyMetrics, flat...).Err(); err != nil {
		return fmt.Errorf("%w: publish metrics: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrPersistence, channel, err)
	}
	return nil
}

func (s *Redis) PublishBatch(ctx context.Context, channel string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, payload := range payloads {
			pipe.Publish(ctx, channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: publish batch %s: %v", ErrPersistence, channel, err)
	}
	return nil
}

func (s *Redis) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := s.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrPersistence, channel, err)
	}
	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		src := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
