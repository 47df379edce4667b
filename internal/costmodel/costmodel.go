// Package costmodel converts credit-unit counts into mint fees, redeem fees and
// the rebate a redemption produces against an operation of a given raw cost.
//
// All arithmetic is exact unsigned integer math. Products are formed in 256-bit
// space and rejected when they do not fit a uint64.
package costmodel

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidParams is returned when protocol constants cannot describe a usable model.
	ErrInvalidParams = errors.New("invalid cost model params")

	// ErrOverflow indicates a fee or cost does not fit in 64 bits.
	ErrOverflow = errors.New("cost overflows uint64")

	// ErrInexactPayment indicates a purchase payment that is zero or not a whole
	// number of credit units.
	ErrInexactPayment = errors.New("payment is not a whole number of credit units")
)

// Defaults mirror storage gas pricing: allocating a slot costs 20000, clearing it
// is refunded 15000, and the environment refunds at most half of the gas used.
const (
	DefaultUnitMintCost         = 20000
	DefaultUnitRedeemCost       = 5000
	DefaultUnitRebate           = 15000
	DefaultRebateCapNumerator   = 1
	DefaultRebateCapDenominator = 2
)

// Params holds the protocol constants of the model.
type Params struct {
	UnitMintCost         uint64 `toml:"unit_mint_cost"`
	UnitRedeemCost       uint64 `toml:"unit_redeem_cost"`
	UnitRebate           uint64 `toml:"unit_rebate"`
	RebateCapNumerator   uint64 `toml:"rebate_cap_numerator"`
	RebateCapDenominator uint64 `toml:"rebate_cap_denominator"`
}

// DefaultParams returns the built-in protocol constants.
func DefaultParams() Params {
	return Params{
		UnitMintCost:         DefaultUnitMintCost,
		UnitRedeemCost:       DefaultUnitRedeemCost,
		UnitRebate:           DefaultUnitRebate,
		RebateCapNumerator:   DefaultRebateCapNumerator,
		RebateCapDenominator: DefaultRebateCapDenominator,
	}
}

// Validate reports whether the params describe a usable model.
func (p Params) Validate() error {
	switch {
	case p.UnitMintCost == 0:
		return fmt.Errorf("%w: unit mint cost must be positive", ErrInvalidParams)
	case p.UnitRebate == 0:
		return fmt.Errorf("%w: unit rebate must be positive", ErrInvalidParams)
	case p.RebateCapDenominator == 0:
		return fmt.Errorf("%w: rebate cap denominator must be positive", ErrInvalidParams)
	case p.RebateCapNumerator > p.RebateCapDenominator:
		return fmt.Errorf("%w: rebate cap fraction must not exceed one", ErrInvalidParams)
	}
	return nil
}

// Model evaluates fees and rebates for a fixed set of params.
type Model struct {
	params Params
}

// New validates params and builds a Model.
func New(p Params) (Model, error) {
	if err := p.Validate(); err != nil {
		return Model{}, err
	}
	return Model{params: p}, nil
}

// MustNew is New for params known to be valid, such as DefaultParams.
func MustNew(p Params) Model {
	m, err := New(p)
	if err != nil {
		panic(err)
	}
	return m
}

// Params returns the constants the model was built with.
func (m Model) Params() Params {
	return m.params
}

// MintCost is amount * UnitMintCost.
func (m Model) MintCost(amount uint64) (uint64, error) {
	return mul(amount, m.params.UnitMintCost)
}

// RedeemCost is the fee charged for the right to burn amount credits. It does
// not depend on the rebate the burn later produces.
func (m Model) RedeemCost(amount uint64) (uint64, error) {
	return mul(amount, m.params.UnitRedeemCost)
}

// RebateCap is floor(rawCost * numerator / denominator).
func (m Model) RebateCap(rawCost uint64) uint64 {
	product := new(uint256.Int).Mul(uint256.NewInt(rawCost), uint256.NewInt(m.params.RebateCapNumerator))
	product.Div(product, uint256.NewInt(m.params.RebateCapDenominator))
	// numerator <= denominator keeps the quotient within rawCost.
	return product.Uint64()
}

// RebateFor is min(amount * UnitRebate, RebateCap(rawCost)).
func (m Model) RebateFor(amount, rawCost uint64) uint64 {
	limit := m.RebateCap(rawCost)
	nominal, err := mul(amount, m.params.UnitRebate)
	if err != nil || nominal > limit {
		return limit
	}
	return nominal
}

// NetSavings is RebateFor(amount, rawCost) - RedeemCost(amount). It is negative
// when the fee outweighs the rebate.
func (m Model) NetSavings(amount, rawCost uint64) (int64, error) {
	fee, err := m.RedeemCost(amount)
	if err != nil {
		return 0, err
	}
	return signedDiff(m.RebateFor(amount, rawCost), fee)
}

// UnitsForPayment derives the number of credit units a purchase payment buys.
func (m Model) UnitsForPayment(paid uint64) (uint64, error) {
	if paid == 0 || paid%m.params.UnitMintCost != 0 {
		return 0, fmt.Errorf("%w: paid %d, unit cost %d", ErrInexactPayment, paid, m.params.UnitMintCost)
	}
	return paid / m.params.UnitMintCost, nil
}

func mul(a, b uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !product.IsUint64() {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return product.Uint64(), nil
}

func signedDiff(gain, loss uint64) (int64, error) {
	if gain >= loss {
		d := gain - loss
		if d > math.MaxInt64 {
			return 0, ErrOverflow
		}
		return int64(d), nil
	}
	d := loss - gain
	if d > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return -int64(d), nil
}
