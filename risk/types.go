package risk

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrMalformedSignal   = errors.New("malformed trade signal")
	ErrDependencyTimeout = errors.New("external dependency timeout")
)

// NBBO 全国最优买卖报价，合规校验的价格边界。
type NBBO struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// TradeSignal 上游预测模型产出的交易信号，发出后不可变。
type TradeSignal struct {
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    time.Time       `json:"timestamp"`
	NBBO         NBBO            `json:"nbbo"`
	ContractType string          `json:"contract_type"` // "CALL" / "PUT"
	ReferenceID  string          `json:"reference_id"`
}

// FilledTrade 已通过准入的成交记录，用于洗售检测回看。
type FilledTrade struct {
	Symbol       string
	Amount       decimal.Decimal
	ContractType string
	At           time.Time
}

// Offsets 判断 t 是否与信号构成对冲：同标的、等量、方向相反。
func (t FilledTrade) Offsets(s TradeSignal) bool {
	return t.Symbol == s.Symbol &&
		t.Amount.Equal(s.Amount) &&
		t.ContractType != s.ContractType
}

// 拒绝原因码。准入决策永远以结构化结果返回，不用异常做热路径控制流。
const (
	ReasonMalformedSignal    = "malformed_signal"
	ReasonCircuitOpen        = "circuit_open"
	ReasonDailyLimitReached  = "daily_limit_reached"
	ReasonAmountExceedsLimit = "amount_exceeds_limit"
	ReasonStaleSignal        = "stale_signal"
	ReasonVolatilityExceeded = "volatility_exceeded"
	ReasonMarketClosed       = "market_closed"
	ReasonNBBOViolation      = "nbbo_violation"
	ReasonMarketAbuse        = "market_abuse"
	ReasonPositionLimit      = "position_limit"
	ReasonWashSale           = "wash_sale"
	ReasonDependencyTimeout  = "dependency_timeout"
)

// Decision 准入结果。拒绝是正常业务结果而非错误；
// Err 仅在基础设施故障（超时、存储失败）时携带底层原因。
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Err      error  `json:"-"`
}

func accept() Decision { return Decision{Accepted: true} }

func reject(reason string) Decision { return Decision{Reason: reason} }

func rejectErr(reason string, err error) Decision { return Decision{Reason: reason, Err: err} }
