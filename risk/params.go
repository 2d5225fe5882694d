package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Params 风控参数。默认值来自生产标定，全部可经配置覆盖。
type Params struct {
	DailyLimit          decimal.Decimal
	InitialCapital      decimal.Decimal
	MaxDrawdown         float64       // 最大回撤系数，(0,1]
	GrowthFactorK       float64       // 资金释放曲线陡度
	VolatilityThreshold float64       // 单标的波动率上限
	MaxSignalAge        time.Duration // 信号新鲜度上限；上游以毫秒计
	NearLimitRatio      float64       // 接近日内上限的预警比例
	Participation       float64       // 单笔限额占可部署资金的比例
	WashSaleLookback    time.Duration // 洗售检测回看窗口
	OpTimeout           time.Duration // 外部依赖调用超时
	MaxPositionLimits   map[string]decimal.Decimal
}

// DefaultParams 生产默认值。
// MaxSignalAge 取 2ms：信号源延迟以毫秒计，容忍度与延迟预算绑定。
func DefaultParams() Params {
	return Params{
		DailyLimit:          decimal.NewFromInt(1_000_000),
		InitialCapital:      decimal.NewFromInt(350_000),
		MaxDrawdown:         0.35,
		GrowthFactorK:       0.15,
		VolatilityThreshold: 0.8,
		MaxSignalAge:        2 * time.Millisecond,
		NearLimitRatio:      0.95,
		Participation:       0.1,
		WashSaleLookback:    30 * time.Second,
		OpTimeout:           50 * time.Millisecond,
		MaxPositionLimits:   make(map[string]decimal.Decimal),
	}
}

// Validate 校验参数合法性；启动期配置错误是唯一允许中止进程的错误类别。
func (p Params) Validate() error {
	if !p.DailyLimit.IsPositive() {
		return errors.New("risk: dailyLimit must be > 0")
	}
	if p.MaxDrawdown <= 0 || p.MaxDrawdown > 1 {
		return fmt.Errorf("risk: maxDrawdown %.3f out of (0,1]", p.MaxDrawdown)
	}
	if p.GrowthFactorK <= 0 {
		return errors.New("risk: growthFactorK must be > 0")
	}
	if p.VolatilityThreshold <= 0 {
		return errors.New("risk: volatilityThreshold must be > 0")
	}
	if p.MaxSignalAge <= 0 {
		return errors.New("risk: maxSignalAge must be > 0")
	}
	if p.NearLimitRatio <= 0 || p.NearLimitRatio > 1 {
		return fmt.Errorf("risk: nearLimitRatio %.3f out of (0,1]", p.NearLimitRatio)
	}
	if p.Participation <= 0 || p.Participation > 1 {
		return fmt.Errorf("risk: participation %.3f out of (0,1]", p.Participation)
	}
	return nil
}

// ParamsPatch 运维侧参数覆盖；nil 字段保持不变。
type ParamsPatch struct {
	DailyLimit          *float64           `json:"daily_limit,omitempty" yaml:"dailyLimit,omitempty"`
	MaxDrawdown         *float64           `json:"max_drawdown,omitempty" yaml:"maxDrawdown,omitempty"`
	GrowthFactorK       *float64           `json:"growth_factor_k,omitempty" yaml:"growthFactorK,omitempty"`
	VolatilityThreshold *float64           `json:"volatility_threshold,omitempty" yaml:"volatilityThreshold,omitempty"`
	MaxSignalAgeMs      *int               `json:"max_signal_age_ms,omitempty" yaml:"maxSignalAgeMs,omitempty"`
	Participation       *float64           `json:"participation,omitempty" yaml:"participation,omitempty"`
	MaxPositionLimits   map[string]float64 `json:"max_position_limits,omitempty" yaml:"maxPositionLimits,omitempty"`
}

// merge 应用覆盖并返回合并结果；不修改接收者。
func (p Params) merge(patch ParamsPatch) Params {
	out := p
	out.MaxPositionLimits = make(map[string]decimal.Decimal, len(p.MaxPositionLimits))
	for k, v := range p.MaxPositionLimits {
		out.MaxPositionLimits[k] = v
	}
	if patch.DailyLimit != nil {
		out.DailyLimit = decimal.NewFromFloat(*patch.DailyLimit)
	}
	if patch.MaxDrawdown != nil {
		out.MaxDrawdown = *patch.MaxDrawdown
	}
	if patch.GrowthFactorK != nil {
		out.GrowthFactorK = *patch.GrowthFactorK
	}
	if patch.VolatilityThreshold != nil {
		out.VolatilityThreshold = *patch.VolatilityThreshold
	}
	if patch.MaxSignalAgeMs != nil {
		out.MaxSignalAge = time.Duration(*patch.MaxSignalAgeMs) * time.Millisecond
	}
	if patch.Participation != nil {
		out.Participation = *patch.Participation
	}
	for sym, v := range patch.MaxPositionLimits {
		out.MaxPositionLimits[sym] = decimal.NewFromFloat(v)
	}
	return out
}

// PerformanceMetrics 绩效指标，驱动日内额度再平衡。
type PerformanceMetrics struct {
	Drawdown    float64 `json:"drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}
