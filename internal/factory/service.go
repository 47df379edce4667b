// Package factory exposes the gas-credit operations on top of a ledger: owner
// administration, the sale hooks, paid redemption and the read-only quotes.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/gascredit/internal/costmodel"
	"github.com/congo-pay/gascredit/internal/ledger"
	"github.com/congo-pay/gascredit/internal/metrics"
	"github.com/congo-pay/gascredit/internal/notification"
	"github.com/congo-pay/gascredit/internal/optimizer"
)

var (
	// ErrUnauthorized indicates an owner-only operation called by someone else.
	ErrUnauthorized = errors.New("caller is not the owner")

	// ErrPaymentMismatch indicates a payment that is not exactly the required amount.
	ErrPaymentMismatch = errors.New("payment does not match required amount")
)

// Service applies factory rules and delegates state changes to the ledger.
type Service struct {
	ledger   ledger.Ledger
	model    costmodel.Model
	owner    string
	notifier notification.Notifier
	metrics  *metrics.Credit
	logger   *slog.Logger
}

// NewService constructs a factory service. notifier and m may be nil.
func NewService(led ledger.Ledger, model costmodel.Model, owner string, notifier notification.Notifier, m *metrics.Credit, logger *slog.Logger) *Service {
	return &Service{ledger: led, model: model, owner: owner, notifier: notifier, metrics: m, logger: logger}
}

// Model returns the cost model the service quotes with.
func (s *Service) Model() costmodel.Model {
	return s.model
}

// AuthorizeOwner returns ErrUnauthorized unless caller is the owner.
func (s *Service) AuthorizeOwner(caller string) error {
	if s.owner == "" || caller != s.owner {
		return ErrUnauthorized
	}
	return nil
}

// SetCap replaces account's remaining purchase allowance.
func (s *Service) SetCap(ctx context.Context, caller, account string, allowance uint64) error {
	if err := s.AuthorizeOwner(caller); err != nil {
		s.reject("set_cap", err)
		return err
	}
	if err := s.ledger.SetCap(ctx, account, allowance); err != nil {
		s.reject("set_cap", err)
		return err
	}
	s.logger.Info("purchase cap set", slog.String("account", account), slog.Uint64("cap", allowance))
	s.notify(ctx, notification.Message{Kind: notification.KindCapSet, Destination: account, Amount: allowance})
	return nil
}

// Purchase handles the sale's purchase hook: the payment buys
// paid/UnitMintCost credit units, minted against the account's cap.
func (s *Service) Purchase(ctx context.Context, caller, account string, paid uint64) (ledger.Receipt, error) {
	if err := s.AuthorizeOwner(caller); err != nil {
		s.reject("mint", err)
		return ledger.Receipt{}, err
	}
	units, err := s.model.UnitsForPayment(paid)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPaymentMismatch, err)
		s.reject("mint", err)
		return ledger.Receipt{}, err
	}
	return s.mint(ctx, account, units)
}

func (s *Service) mint(ctx context.Context, account string, units uint64) (ledger.Receipt, error) {
	rec, err := s.ledger.Mint(ctx, account, units)
	if err != nil {
		s.reject("mint", err)
		return ledger.Receipt{}, err
	}
	s.metrics.ObserveMint(rec.Amount, rec.TotalSupply)
	s.logger.Info("credits minted",
		slog.String("account", account),
		slog.Uint64("amount", rec.Amount),
		slog.Uint64("total_supply", rec.TotalSupply),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindCreditsMinted,
		Destination: account,
		Amount:      rec.Amount,
		TotalSupply: rec.TotalSupply,
	})
	return rec, nil
}

// Finalize handles the sale's finalize hook.
func (s *Service) Finalize(ctx context.Context, caller string) error {
	if err := s.AuthorizeOwner(caller); err != nil {
		s.reject("finalize", err)
		return err
	}
	if err := s.ledger.Finalize(ctx); err != nil {
		s.reject("finalize", err)
		return err
	}
	s.metrics.ObserveFinalized()
	supply, err := s.ledger.TotalSupply(ctx)
	if err != nil {
		s.logger.Warn("read supply after finalize", slog.Any("error", err))
	}
	s.logger.Info("sale finalized", slog.Uint64("total_supply", supply))
	s.notify(ctx, notification.Message{Kind: notification.KindSaleFinalized, TotalSupply: supply})
	return nil
}

// Redeem burns amount credits from caller's balance. payment must equal
// RedeemCost(amount); the phase is checked before the payment.
func (s *Service) Redeem(ctx context.Context, caller string, amount, payment uint64) (ledger.Receipt, error) {
	rec, err := s.redeem(ctx, caller, amount, payment)
	if err != nil {
		s.reject("redeem", err)
		return ledger.Receipt{}, err
	}
	s.metrics.ObserveRedeem(rec.Amount, rec.TotalSupply)
	s.logger.Info("credits redeemed",
		slog.String("account", caller),
		slog.Uint64("amount", rec.Amount),
		slog.Uint64("payment", payment),
		slog.Uint64("total_supply", rec.TotalSupply),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindCreditsRedeemed,
		Destination: caller,
		Amount:      rec.Amount,
		TotalSupply: rec.TotalSupply,
	})
	return rec, nil
}

func (s *Service) redeem(ctx context.Context, caller string, amount, payment uint64) (ledger.Receipt, error) {
	phase, err := s.ledger.Phase(ctx)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if phase != ledger.PhaseFinalized {
		return ledger.Receipt{}, fmt.Errorf("%w: redeem requires %s sale, current %s", ledger.ErrPhase, ledger.PhaseFinalized, phase)
	}
	if amount == 0 {
		return ledger.Receipt{}, ledger.ErrInvalidAmount
	}
	cost, err := s.model.RedeemCost(amount)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if payment != cost {
		return ledger.Receipt{}, fmt.Errorf("%w: paid %d, redeem cost %d", ErrPaymentMismatch, payment, cost)
	}
	return s.ledger.Burn(ctx, caller, amount)
}

// RedeemCost quotes the payment required to redeem amount credits.
func (s *Service) RedeemCost(amount uint64) (uint64, error) {
	return s.model.RedeemCost(amount)
}

// OptimalAmount quotes the redemption that maximizes net savings for an
// operation of rawCost. With a non-empty account the amount is clamped to its balance.
func (s *Service) OptimalAmount(ctx context.Context, account string, rawCost uint64) (optimizer.Quote, error) {
	balance := optimizer.Optimal(s.model, rawCost)
	if account != "" {
		b, err := s.ledger.BalanceOf(ctx, account)
		if err != nil {
			return optimizer.Quote{}, err
		}
		balance = b
	}
	return optimizer.Plan(s.model, rawCost, balance)
}

// Account is a read-only view of one account.
type Account struct {
	Account   string
	Balance   uint64
	Allowance uint64
}

// Account returns the balance and remaining allowance of account.
func (s *Service) Account(ctx context.Context, account string) (Account, error) {
	if account == "" {
		return Account{}, ledger.ErrInvalidAccount
	}
	balance, err := s.ledger.BalanceOf(ctx, account)
	if err != nil {
		return Account{}, err
	}
	allowance, err := s.ledger.Allowance(ctx, account)
	if err != nil {
		return Account{}, err
	}
	return Account{Account: account, Balance: balance, Allowance: allowance}, nil
}

// Supply is a read-only view of the sale.
type Supply struct {
	TotalSupply uint64
	Phase       ledger.Phase
}

// Supply returns the total supply and current phase.
func (s *Service) Supply(ctx context.Context) (Supply, error) {
	total, err := s.ledger.TotalSupply(ctx)
	if err != nil {
		return Supply{}, err
	}
	phase, err := s.ledger.Phase(ctx)
	if err != nil {
		return Supply{}, err
	}
	return Supply{TotalSupply: total, Phase: phase}, nil
}

// CheckSupply verifies that balances still sum to the total supply.
func (s *Service) CheckSupply(ctx context.Context) error {
	return s.ledger.CheckSupply(ctx)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	msg.At = time.Now().UTC()
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func (s *Service) reject(op string, err error) {
	s.metrics.ObserveRejection(op, Reason(err))
	s.logger.Debug("operation rejected", slog.String("op", op), slog.Any("error", err))
}

// Reason maps an error to a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, ledger.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ledger.ErrPhase):
		return "phase"
	case errors.Is(err, ledger.ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAccount):
		return "invalid_input"
	case errors.Is(err, ledger.ErrOverflow), errors.Is(err, costmodel.ErrOverflow):
		return "overflow"
	default:
		return "internal"
	}
}
