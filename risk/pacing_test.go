package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestProfitTargetCurve(t *testing.T) {
	limit := decimal.NewFromInt(1_000_000)
	profit := decimal.Zero

	// 窗口起点释放为零
	if got := ProfitTarget(limit, profit, 0.15, 0); !got.IsZero() {
		t.Fatalf("target at t=0 must be 0, got %s", got)
	}

	// 单调递增
	prev := decimal.Zero
	for h := 1; h <= 24; h++ {
		got := ProfitTarget(limit, profit, 0.15, time.Duration(h)*time.Hour)
		if !got.GreaterThan(prev) {
			t.Fatalf("target must increase: h=%d got=%s prev=%s", h, got, prev)
		}
		prev = got
	}

	// 永不超过剩余目标
	if prev.GreaterThan(limit) {
		t.Fatalf("target must stay below remaining goal: %s", prev)
	}
}

func TestAllocatedCapitalBounds(t *testing.T) {
	limit := decimal.NewFromInt(1_000_000)

	// 利润越高，可部署资金越少
	lo := AllocatedCapital(limit, decimal.NewFromInt(900_000), 0.15, 12*time.Hour)
	hi := AllocatedCapital(limit, decimal.Zero, 0.15, 12*time.Hour)
	if !hi.GreaterThan(lo) {
		t.Fatalf("allocation must shrink with profit: hi=%s lo=%s", hi, lo)
	}

	// 受剩余额度约束
	headroom := limit.Sub(decimal.NewFromInt(900_000))
	if lo.GreaterThan(headroom) {
		t.Fatalf("allocation %s exceeds headroom %s", lo, headroom)
	}

	if got := AllocatedCapital(decimal.Zero, decimal.Zero, 0.15, time.Hour); !got.IsZero() {
		t.Fatalf("zero limit must allocate zero, got %s", got)
	}
}
