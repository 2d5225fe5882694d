// Package market 定义行情/成交量外部数据源的接口边界。
// 原始行情归一化管线不在本仓库范围内，这里只消费其产出。
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel 价位成交量表的一行。
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume float64         `json:"volume"`
}

// OrderFlow 近期订单流特征，用于滥用（spoofing）检测。
type OrderFlow struct {
	CancelRate float64 `json:"cancel_rate"` // 撤单率
	Imbalance  float64 `json:"imbalance"`   // 订单簿不平衡度
}

// Source 行情数据源。所有方法都可能跨进程，调用方必须带超时上下文。
type Source interface {
	// Volatility 返回标的最新波动率样本。
	Volatility(ctx context.Context, symbol string) (float64, error)
	// VolumeProfile 返回价位成交量表（VWAP 拆单依赖）。
	VolumeProfile(ctx context.Context) ([]PriceLevel, error)
	// AverageTradeSize 市场平均单笔成交量，冲击分归一化基准。
	AverageTradeSize(ctx context.Context) (decimal.Decimal, error)
	// OrderFlow 标的近期订单流特征。
	OrderFlow(ctx context.Context, symbol string) (OrderFlow, error)
}

// Calendar 交易时段判定。
type Calendar interface {
	IsOpen(now time.Time) bool
}

// AlwaysOpen 连续交易市场（加密/合成指数）的日历。
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(time.Time) bool { return true }
