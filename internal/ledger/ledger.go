package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPhase occurs when an operation is attempted in the wrong sale phase.
	ErrPhase = errors.New("wrong sale phase")

	// ErrAlreadyFinalized is returned by a second Finalize. It matches ErrPhase.
	ErrAlreadyFinalized = fmt.Errorf("%w: sale already finalized", ErrPhase)

	// ErrCapExceeded indicates a mint larger than the account's remaining allowance.
	ErrCapExceeded = errors.New("purchase cap exceeded")

	// ErrInsufficientBalance indicates a burn larger than the holder's credit balance.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrInvalidAmount rejects zero-unit mints and burns.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidAccount rejects empty account identities.
	ErrInvalidAccount = errors.New("account is required")

	// ErrOverflow indicates a mint would push total supply past 64 bits.
	ErrOverflow = errors.New("credit supply overflow")

	// ErrNotMigrated indicates a persistent backend whose schema or sale record is missing.
	ErrNotMigrated = errors.New("credit ledger not migrated")

	// ErrSupplyMismatch reports that the stored total supply differs from the sum of balances.
	ErrSupplyMismatch = errors.New("total supply does not match balances")
)

// Phase is the sale state gating mint and burn.
type Phase string

const (
	// PhaseOpen allows minting; it is the initial phase.
	PhaseOpen Phase = "open"
	// PhaseFinalized allows redemption and never reverts.
	PhaseFinalized Phase = "finalized"
)

// Receipt captures the state of an account and the supply right after a mutation.
type Receipt struct {
	Account     string
	Amount      uint64
	Balance     uint64
	Allowance   uint64
	TotalSupply uint64
}

// Ledger defines the contract implemented by credit ledger backends. Every
// mutation evaluates all of its checks before writing and either commits fully
// or returns an error with no state change.
type Ledger interface {
	// SetCap overwrites the account's remaining purchase allowance.
	SetCap(ctx context.Context, account string, allowance uint64) error
	Allowance(ctx context.Context, account string) (uint64, error)

	// Mint requires PhaseOpen and consumes allowance before crediting.
	Mint(ctx context.Context, account string, amount uint64) (Receipt, error)
	// Burn requires PhaseFinalized and a sufficient balance.
	Burn(ctx context.Context, account string, amount uint64) (Receipt, error)

	Finalize(ctx context.Context) error
	Phase(ctx context.Context) (Phase, error)

	TotalSupply(ctx context.Context) (uint64, error)
	BalanceOf(ctx context.Context, account string) (uint64, error)

	// CheckSupply recomputes the sum of balances and compares it to the total.
	CheckSupply(ctx context.Context) error
}

func validate(account string, amount uint64) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}
