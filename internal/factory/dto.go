package factory

import (
	"github.com/congo-pay/gascredit/internal/ledger"
	"github.com/congo-pay/gascredit/internal/optimizer"
)

type purchaseRequest struct {
	Account    string `json:"account"`
	PaidAmount uint64 `json:"paid_amount"`
}

type setCapRequest struct {
	Account string `json:"account"`
	Cap     uint64 `json:"cap"`
}

type redeemRequest struct {
	Amount  uint64 `json:"amount"`
	Payment uint64 `json:"payment"`
}

type receiptResponse struct {
	Account     string `json:"account"`
	Amount      uint64 `json:"amount"`
	Balance     uint64 `json:"balance"`
	Allowance   uint64 `json:"allowance"`
	TotalSupply uint64 `json:"total_supply"`
}

func newReceiptResponse(rec ledger.Receipt) receiptResponse {
	return receiptResponse{
		Account:     rec.Account,
		Amount:      rec.Amount,
		Balance:     rec.Balance,
		Allowance:   rec.Allowance,
		TotalSupply: rec.TotalSupply,
	}
}

type supplyResponse struct {
	TotalSupply uint64       `json:"total_supply"`
	Phase       ledger.Phase `json:"phase"`
}

type accountResponse struct {
	Account   string `json:"account"`
	Balance   uint64 `json:"balance"`
	Allowance uint64 `json:"allowance"`
}

type redeemQuoteResponse struct {
	Amount     uint64 `json:"amount"`
	RedeemCost uint64 `json:"redeem_cost"`
}

type optimalQuoteResponse struct {
	OperationCost uint64  `json:"operation_cost"`
	Amount        uint64  `json:"amount"`
	Unclamped     uint64  `json:"unclamped_amount"`
	Saturation    uint64  `json:"saturation_amount"`
	Account       string  `json:"account,omitempty"`
	Balance       *uint64 `json:"balance,omitempty"`
	Clamped       bool    `json:"clamped"`
	RedeemCost    uint64  `json:"redeem_cost"`
	Rebate        uint64  `json:"rebate"`
	NetSavings    int64   `json:"net_savings"`
}

func newOptimalQuoteResponse(account string, q optimizer.Quote) optimalQuoteResponse {
	resp := optimalQuoteResponse{
		OperationCost: q.RawCost,
		Amount:        q.Amount,
		Unclamped:     q.Unclamped,
		Saturation:    q.Saturation,
		Account:       account,
		Clamped:       q.Clamped,
		RedeemCost:    q.RedeemCost,
		Rebate:        q.Rebate,
		NetSavings:    q.NetSavings,
	}
	if account != "" {
		balance := q.Balance
		resp.Balance = &balance
	}
	return resp
}
