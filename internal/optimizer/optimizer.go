// Package optimizer picks how many credits to redeem against an operation so
// that the rebate minus the redeem fee is as large as possible.
//
// Net savings are piecewise linear in the redeemed amount: they grow by
// UnitRebate-UnitRedeemCost per unit until the rebate reaches its cap, gain at
// most the cap remainder on the unit that crosses it, and then fall by
// UnitRedeemCost per unit. The curve is therefore unimodal and both the closed
// form and the binary search below return its smallest maximizer.
package optimizer

import (
	"github.com/congo-pay/gascredit/internal/costmodel"
)

// Optimal returns the smallest amount maximizing net savings for an operation
// of rawCost, ignoring any balance limit.
func Optimal(m costmodel.Model, rawCost uint64) uint64 {
	p := m.Params()
	if p.UnitRebate <= p.UnitRedeemCost {
		return 0
	}
	limit := m.RebateCap(rawCost)
	whole, rem := limit/p.UnitRebate, limit%p.UnitRebate
	if rem > p.UnitRedeemCost {
		return whole + 1
	}
	return whole
}

// Saturation returns the smallest amount whose nominal rebate reaches the cap,
// ceil(RebateCap(rawCost) / UnitRebate). Redeeming past it only adds fees.
func Saturation(m costmodel.Model, rawCost uint64) uint64 {
	limit := m.RebateCap(rawCost)
	r := m.Params().UnitRebate
	n := limit / r
	if limit%r != 0 {
		n++
	}
	return n
}

// Within clamps Optimal to what a holder of balance credits can redeem. Because
// net savings only grow below the optimum, the clamp is the best achievable.
func Within(m costmodel.Model, rawCost, balance uint64) uint64 {
	return min(Optimal(m, rawCost), balance)
}

// Search finds the same amount as Within by binary search on the marginal gain
// of one more unit over [0, limit]. It does not rely on the closed form, only on
// the marginal gain being non-increasing.
func Search(m costmodel.Model, rawCost, limit uint64) uint64 {
	fee := m.Params().UnitRedeemCost
	stops := func(n uint64) bool {
		return m.RebateFor(n+1, rawCost)-m.RebateFor(n, rawCost) <= fee
	}

	lo, hi := uint64(0), limit
	for lo < hi {
		mid := lo + (hi-lo)/2
		if stops(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Quote describes a planned redemption.
type Quote struct {
	RawCost    uint64
	Amount     uint64
	Unclamped  uint64
	Saturation uint64
	Balance    uint64
	Clamped    bool
	RedeemCost uint64
	Rebate     uint64
	NetSavings int64
}

// Plan builds a Quote for redeeming against rawCost with the given balance.
// The unclamped optimum is found by searching [0, Saturation], which always
// contains it; the clamped amount uses the closed form.
func Plan(m costmodel.Model, rawCost, balance uint64) (Quote, error) {
	saturation := Saturation(m, rawCost)
	best := Search(m, rawCost, saturation)
	amount := Within(m, rawCost, balance)

	fee, err := m.RedeemCost(amount)
	if err != nil {
		return Quote{}, err
	}
	net, err := m.NetSavings(amount, rawCost)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		RawCost:    rawCost,
		Amount:     amount,
		Unclamped:  best,
		Saturation: saturation,
		Balance:    balance,
		Clamped:    amount < best,
		RedeemCost: fee,
		Rebate:     m.RebateFor(amount, rawCost),
		NetSavings: net,
	}, nil
}
