package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// 行情管线写入的键。管线本身不在本仓库范围内。
const (
	keyVolumeProfile = "market:volume-profile"
	keyAvgTradeSize  = "metrics:avg_trade_size"
	keyVolatility    = "market:volatility:"
	keyOrderFlow     = "market:orderflow:"
)

// RedisSource 从 redis 读取行情管线产出的数据。
type RedisSource struct {
	rdb *redis.Client
}

func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func (s *RedisSource) Volatility(ctx context.Context, symbol string) (float64, error) {
	val, err := s.rdb.Get(ctx, keyVolatility+symbol).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("volatility %s: %w", symbol, err)
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("volatility %s: %w", symbol, err)
	}
	return v, nil
}

func (s *RedisSource) VolumeProfile(ctx context.Context) ([]PriceLevel, error) {
	raw, err := s.rdb.Get(ctx, keyVolumeProfile).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("volume profile: %w", err)
	}
	var levels []PriceLevel
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("volume profile: %w", err)
	}
	return levels, nil
}

func (s *RedisSource) AverageTradeSize(ctx context.Context) (decimal.Decimal, error) {
	val, err := s.rdb.Get(ctx, keyAvgTradeSize).Result()
	if err == redis.Nil {
		// 管线尚未写入时的回退基准
		return decimal.NewFromInt(100), nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("avg trade size: %w", err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("avg trade size: %w", err)
	}
	return d, nil
}

func (s *RedisSource) OrderFlow(ctx context.Context, symbol string) (OrderFlow, error) {
	fields, err := s.rdb.HGetAll(ctx, keyOrderFlow+symbol).Result()
	if err != nil {
		return OrderFlow{}, fmt.Errorf("order flow %s: %w", symbol, err)
	}
	var f OrderFlow
	if v, ok := fields["cancel_rate"]; ok {
		f.CancelRate, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := fields["imbalance"]; ok {
		f.Imbalance, _ = strconv.ParseFloat(v, 64)
	}
	return f, nil
}
