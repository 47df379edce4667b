package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	codeOK             = 0
	codePhase          = -1
	codeCapExceeded    = -2
	codeInsufficient   = -3
	codeOverflow       = -4
	defaultRedisPrefix = "credit:v1:"

	// MaxRedisAmount is the largest integer Lua numbers represent exactly.
	MaxRedisAmount = 1<<53 - 1
)

// KEYS: phase, total, balances, allowances. ARGV: account, amount, -amount.
var mintScript = redis.NewScript(`
local phase = redis.call('GET', KEYS[1]) or 'open'
if phase ~= 'open' then
  return {-1, 0, 0, 0}
end
local allowance = tonumber(redis.call('HGET', KEYS[4], ARGV[1]) or '0')
if tonumber(ARGV[2]) > allowance then
  return {-2, allowance, 0, 0}
end
local supply = tonumber(redis.call('GET', KEYS[2]) or '0')
if supply + tonumber(ARGV[2]) > 9007199254740991 then
  return {-4, supply, 0, 0}
end
local left = redis.call('HINCRBY', KEYS[4], ARGV[1], ARGV[3])
local balance = redis.call('HINCRBY', KEYS[3], ARGV[1], ARGV[2])
local total = redis.call('INCRBY', KEYS[2], ARGV[2])
return {0, balance, left, total}
`)

var burnScript = redis.NewScript(`
local phase = redis.call('GET', KEYS[1]) or 'open'
if phase ~= 'finalized' then
  return {-1, 0, 0, 0}
end
local balance = tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
if tonumber(ARGV[2]) > balance then
  return {-3, balance, 0, 0}
end
local left = redis.call('HINCRBY', KEYS[3], ARGV[1], ARGV[3])
if left == 0 then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
local total = redis.call('INCRBY', KEYS[2], ARGV[3])
local allowance = tonumber(redis.call('HGET', KEYS[4], ARGV[1]) or '0')
return {0, left, allowance, total}
`)

var finalizeScript = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or 'open') == 'finalized' then
  return 0
end
redis.call('SET', KEYS[1], 'finalized')
return 1
`)

// RedisLedger keeps the ledger in Redis. Mutations run as Lua scripts, which
// Redis executes one at a time, so each is atomic. Amounts are compared as Lua
// numbers, so allowances, amounts and the total supply are kept at or below
// MaxRedisAmount and every script checks them before its first write.
type RedisLedger struct {
	client redis.UniversalClient
	keys   []string
}

// NewRedisLedger builds a Redis-backed ledger under the given key prefix.
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLedger{
		client: client,
		keys:   []string{prefix + "phase", prefix + "total", prefix + "balances", prefix + "allowances"},
	}
}

func (l *RedisLedger) phaseKey() string      { return l.keys[0] }
func (l *RedisLedger) totalKey() string      { return l.keys[1] }
func (l *RedisLedger) balancesKey() string   { return l.keys[2] }
func (l *RedisLedger) allowancesKey() string { return l.keys[3] }

// SetCap overwrites the allowance field for the account.
func (l *RedisLedger) SetCap(ctx context.Context, account string, allowance uint64) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if allowance > MaxRedisAmount {
		return fmt.Errorf("%w: allowance %d exceeds %d", ErrOverflow, allowance, uint64(MaxRedisAmount))
	}
	return l.client.HSet(ctx, l.allowancesKey(), account, allowance).Err()
}

// Allowance returns the remaining allowance, zero for unknown accounts.
func (l *RedisLedger) Allowance(ctx context.Context, account string) (uint64, error) {
	return uintOrZero(l.client.HGet(ctx, l.allowancesKey(), account))
}

// Mint credits an account with a single script call.
func (l *RedisLedger) Mint(ctx context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}
	res, err := l.run(ctx, mintScript, account, amount)
	if err != nil {
		return Receipt{}, err
	}
	switch res[0] {
	case codePhase:
		return Receipt{}, fmt.Errorf("%w: mint requires %s sale", ErrPhase, PhaseOpen)
	case codeCapExceeded:
		return Receipt{}, fmt.Errorf("%w: %s requested %d, remaining %d", ErrCapExceeded, account, amount, res[1])
	case codeOverflow:
		return Receipt{}, fmt.Errorf("%w: supply %d plus %d exceeds %d", ErrOverflow, res[1], amount, uint64(MaxRedisAmount))
	}
	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     uint64(res[1]),
		Allowance:   uint64(res[2]),
		TotalSupply: uint64(res[3]),
	}, nil
}

// Burn debits an account with a single script call.
func (l *RedisLedger) Burn(ctx context.Context, account string, amount uint64) (Receipt, error) {
	if err := validate(account, amount); err != nil {
		return Receipt{}, err
	}
	res, err := l.run(ctx, burnScript, account, amount)
	if err != nil {
		return Receipt{}, err
	}
	switch res[0] {
	case codePhase:
		return Receipt{}, fmt.Errorf("%w: burn requires %s sale", ErrPhase, PhaseFinalized)
	case codeInsufficient:
		return Receipt{}, fmt.Errorf("%w: %s holds %d, requested %d", ErrInsufficientBalance, account, res[1], amount)
	}
	return Receipt{
		Account:     account,
		Amount:      amount,
		Balance:     uint64(res[1]),
		Allowance:   uint64(res[2]),
		TotalSupply: uint64(res[3]),
	}, nil
}

func (l *RedisLedger) run(ctx context.Context, script *redis.Script, account string, amount uint64) ([]int64, error) {
	if amount > MaxRedisAmount {
		return nil, fmt.Errorf("%w: amount %d exceeds %d", ErrOverflow, amount, uint64(MaxRedisAmount))
	}
	n := strconv.FormatUint(amount, 10)
	res, err := script.Run(ctx, l.client, l.keys, account, n, "-"+n).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("unexpected ledger script reply of %d values", len(res))
	}
	switch res[0] {
	case codeOK, codePhase, codeCapExceeded, codeInsufficient, codeOverflow:
	default:
		return nil, fmt.Errorf("unexpected ledger script code %d", res[0])
	}
	return res, nil
}

// Finalize flips the phase flag once.
func (l *RedisLedger) Finalize(ctx context.Context) error {
	changed, err := finalizeScript.Run(ctx, l.client, l.keys[:1]).Int64()
	if err != nil {
		return err
	}
	if changed == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// Phase returns the sale phase; a missing flag means the sale is open.
func (l *RedisLedger) Phase(ctx context.Context) (Phase, error) {
	v, err := l.client.Get(ctx, l.phaseKey()).Result()
	if errors.Is(err, redis.Nil) {
		return PhaseOpen, nil
	}
	if err != nil {
		return "", err
	}
	return Phase(v), nil
}

// TotalSupply returns the stored total supply.
func (l *RedisLedger) TotalSupply(ctx context.Context) (uint64, error) {
	return uintOrZero(l.client.Get(ctx, l.totalKey()))
}

// BalanceOf returns the account's balance, zero for unknown accounts.
func (l *RedisLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return uintOrZero(l.client.HGet(ctx, l.balancesKey(), account))
}

// CheckSupply reads the total and every balance inside one MULTI block.
func (l *RedisLedger) CheckSupply(ctx context.Context) error {
	pipe := l.client.TxPipeline()
	totalCmd := pipe.Get(ctx, l.totalKey())
	balancesCmd := pipe.HVals(ctx, l.balancesKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	total, err := uintOrZero(totalCmd)
	if err != nil {
		return err
	}
	var sum uint64
	for _, v := range balancesCmd.Val() {
		b, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse balance %q: %w", v, err)
		}
		sum += b
	}
	if sum != total {
		return fmt.Errorf("%w: total %d, balances %d", ErrSupplyMismatch, total, sum)
	}
	return nil
}

func uintOrZero(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
