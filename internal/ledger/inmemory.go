package ledger

import (
	"context"
	"fmt"
	"sync"
)

// capRegistry tracks each account's remaining purchase allowance.
type capRegistry struct {
	allowances map[string]uint64
}

func (r *capRegistry) set(account string, allowance uint64) {
	r.allowances[account] = allowance
}

func (r *capRegistry) check(account string, amount uint64) error {
	if remaining := r.allowances[account]; amount > remaining {
		return fmt.Errorf("%w: %s requested %d, remaining %d", ErrCapExceeded, account, amount, remaining)
	}
	return nil
}

func (r *capRegistry) consume(account string, amount uint64) uint64 {
	r.allowances[account] -= amount
	return r.allowances[account]
}

// phaseController gates minting to Open and redemption to Finalized.
type phaseController struct {
	phase Phase
}

func (p *phaseController) require(want Phase, op string) error {
	if p.phase != want {
		return fmt.Errorf("%w: %s requires %s sale, current %s", ErrPhase, op, want, p.phase)
	}
	return nil
}

func (p *phaseController) finalize() error {
	if p.phase == PhaseFinalized {
		return ErrAlreadyFinalized
	}
	p.phase = PhaseFinalized
	return nil
}

// creditLedger holds balances and the total they must sum to.
type creditLedger struct {
	balances map[string]uint64
	total    uint64
}

func (c *creditLedger) credit(account string, amount uint64) {
	c.balances[account] += amount
	c.total += amount
}

func (c *creditLedger) debit(account string, amount uint64) {
	c.balances[account] -= amount
	if c.balances[account] == 0 {
		delete(c.balances, account)
	}
	c.total -= amount
}

type inMemoryLedger struct {
	mu      sync.RWMutex
	caps    capRegistry
	phase   phaseController
	credits creditLedger
}

// NewInMemory creates a concurrency-safe in-memory ledger. The mutex provides
// the total ordering of mutations the ledger relies on.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		caps:    capRegistry{allowances: make(map[string]uint64)},
		phase:   phaseController{phase: PhaseOpen},
		credits: creditLedger{balances: make(map[string]uint64)},
	}
}

func (l *inMemoryLedger) SetCap(_ context.Context, account string, allowance uint64) error {
	if account == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caps.set(account, allowance)
	return nil
}

func (l *inMemoryLedger) Allowance(_ context.Context, account string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.caps.allowances[account], nil
}

func (l *inMemoryLedger) Mint(_ context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.phase.require(PhaseOpen, "mint"); err != nil {
		return Receipt{}, err
	}
	if err := l.caps.check(account, amount); err != nil {
		return Receipt{}, err
	}
	if l.credits.total+amount < l.credits.total {
		return Receipt{}, ErrOverflow
	}

	remaining := l.caps.consume(account, amount)
	l.credits.credit(account, amount)

	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     l.credits.balances[account],
		Allowance:   remaining,
		TotalSupply: l.credits.total,
	}, nil
}

func (l *inMemoryLedger) Burn(_ context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.phase.require(PhaseFinalized, "burn"); err != nil {
		return Receipt{}, err
	}
	if balance := l.credits.balances[account]; balance < amount {
		return Receipt{}, fmt.Errorf("%w: %s holds %d, requested %d", ErrInsufficientBalance, account, balance, amount)
	}

	l.credits.debit(account, amount)

	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     l.credits.balances[account],
		Allowance:   l.caps.allowances[account],
		TotalSupply: l.credits.total,
	}, nil
}

func (l *inMemoryLedger) Finalize(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase.finalize()
}

func (l *inMemoryLedger) Phase(_ context.Context) (Phase, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase.phase, nil
}

func (l *inMemoryLedger) TotalSupply(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.credits.total, nil
}

func (l *inMemoryLedger) BalanceOf(_ context.Context, account string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.credits.balances[account], nil
}

func (l *inMemoryLedger) CheckSupply(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum uint64
	for _, b := range l.credits.balances {
		sum += b
	}
	if sum != l.credits.total {
		return fmt.Errorf("%w: total %d, balances %d", ErrSupplyMismatch, l.credits.total, sum)
	}
	return nil
}
