package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PacingWindow 资金释放窗口长度（交易日）。
const PacingWindow = 24 * time.Hour

// ProfitTarget 指数逼近式资金释放曲线：
//
//	target = (dailyLimit - dailyProfit) * (1 - e^(-k * elapsed/24h))
//
// 窗口早期只释放一小部分日内额度，限制最坏情况下的回撤速度。
func ProfitTarget(dailyLimit, dailyProfit decimal.Decimal, k float64, elapsed time.Duration) decimal.Decimal {
	remaining := dailyLimit.Sub(dailyProfit)
	t := elapsed.Hours() / 24.0
	factor := 1 - math.Exp(-k*t)
	return remaining.Mul(decimal.NewFromFloat(factor))
}

// AllocatedCapital 当前可部署资金：
//
//	min(dailyLimit * (1 - dailyProfit/dailyLimit), profitTarget - dailyProfit)
//
// 拆单器（VWAP）与准入控制共用这一公式。
func AllocatedCapital(dailyLimit, dailyProfit decimal.Decimal, k float64, elapsed time.Duration) decimal.Decimal {
	if dailyLimit.IsZero() {
		return decimal.Zero
	}
	target := ProfitTarget(dailyLimit, dailyProfit, k, elapsed)
	headroom := dailyLimit.Mul(decimal.NewFromInt(1).Sub(dailyProfit.Div(dailyLimit)))
	paced := target.Sub(dailyProfit)
	if headroom.LessThan(paced) {
		return headroom
	}
	return paced
}
