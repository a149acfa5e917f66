package flaunch

import (
	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

type listResponse struct {
	Data       []domain.ListToken `json:"data"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"pagination"`
}

// The holders endpoint has shipped both "holders" and "data" as the list key,
// and totalHolders as a number or a string.
type holdersResponse struct {
	Holders      []domain.Holder `json:"holders"`
	Data         []domain.Holder `json:"data"`
	TotalHolders decimal.Decimal `json:"totalHolders"`
}

func (r *holdersResponse) page() []domain.Holder {
	if r.Holders != nil {
		return r.Holders
	}
	return r.Data
}

type rawAmounts struct {
	Amount0 decimal.Decimal `json:"amount0"`
	Amount1 decimal.Decimal `json:"amount1"`
}

type rawSwap struct {
	Maker     string `json:"maker"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"txHash"`
	Amounts   struct {
		ISP     rawAmounts `json:"isp"`
		Uniswap rawAmounts `json:"uniswap"`
	} `json:"amounts"`
}

type swapsResponse struct {
	Swaps []rawSwap `json:"swaps"`
	Data  []rawSwap `json:"data"`
}

func (r *swapsResponse) list() []rawSwap {
	if r.Swaps != nil {
		return r.Swaps
	}
	return r.Data
}

// amountETH sums the absolute native legs of both pools.
func (s rawSwap) amountETH() float64 {
	total := s.Amounts.Uniswap.Amount0.Abs().Add(s.Amounts.ISP.Amount0.Abs())
	return total.Shift(-18).InexactFloat64()
}
