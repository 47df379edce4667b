package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// runLedgerContract exercises behaviour every backend must share.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) Ledger) {
	t.Run("MintWithinCap", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		if err := l.SetCap(ctx, "alice", 100); err != nil {
			t.Fatalf("set cap: %v", err)
		}
		rec, err := l.Mint(ctx, "alice", 60)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		if rec.Balance != 60 || rec.Allowance != 40 || rec.TotalSupply != 60 {
			t.Fatalf("unexpected receipt %+v", rec)
		}
		assertSupply(t, l, 60)
	})

	t.Run("CapExhaustion", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 100)

		for i := 0; i < 100; i++ {
			if _, err := l.Mint(ctx, "alice", 1); err != nil {
				t.Fatalf("mint %d: %v", i, err)
			}
		}
		if _, err := l.Mint(ctx, "alice", 1); !errors.Is(err, ErrCapExceeded) {
			t.Fatalf("expected cap exceeded, got %v", err)
		}
		if b, _ := l.BalanceOf(ctx, "alice"); b != 100 {
			t.Fatalf("expected balance 100, got %d", b)
		}
		assertSupply(t, l, 100)
	})

	t.Run("MintWithoutCap", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Mint(context.Background(), "bob", 1); !errors.Is(err, ErrCapExceeded) {
			t.Fatalf("expected cap exceeded, got %v", err)
		}
		assertSupply(t, l, 0)
	})

	t.Run("SetCapOverwrites", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 10)
		l.Mint(ctx, "alice", 4)
		if err := l.SetCap(ctx, "alice", 3); err != nil {
			t.Fatalf("set cap: %v", err)
		}
		if a, _ := l.Allowance(ctx, "alice"); a != 3 {
			t.Fatalf("expected allowance 3, got %d", a)
		}
		if b, _ := l.BalanceOf(ctx, "alice"); b != 4 {
			t.Fatalf("set cap must not touch balance, got %d", b)
		}
		assertSupply(t, l, 4)
	})

	t.Run("RejectsZeroAndEmpty", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 10)
		if _, err := l.Mint(ctx, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected invalid amount, got %v", err)
		}
		if _, err := l.Mint(ctx, "", 1); !errors.Is(err, ErrInvalidAccount) {
			t.Fatalf("expected invalid account, got %v", err)
		}
		if err := l.SetCap(ctx, "", 1); !errors.Is(err, ErrInvalidAccount) {
			t.Fatalf("expected invalid account, got %v", err)
		}
	})

	t.Run("PhaseGates", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 10)
		l.Mint(ctx, "alice", 10)

		if _, err := l.Burn(ctx, "alice", 1); !errors.Is(err, ErrPhase) {
			t.Fatalf("burn before finalize: expected phase error, got %v", err)
		}
		if p, _ := l.Phase(ctx); p != PhaseOpen {
			t.Fatalf("expected open phase, got %s", p)
		}
		if err := l.Finalize(ctx); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if p, _ := l.Phase(ctx); p != PhaseFinalized {
			t.Fatalf("expected finalized phase, got %s", p)
		}
		if _, err := l.Mint(ctx, "alice", 1); !errors.Is(err, ErrPhase) {
			t.Fatalf("mint after finalize: expected phase error, got %v", err)
		}
		err := l.Finalize(ctx)
		if !errors.Is(err, ErrAlreadyFinalized) || !errors.Is(err, ErrPhase) {
			t.Fatalf("expected already finalized, got %v", err)
		}
		assertSupply(t, l, 10)
	})

	t.Run("BurnAfterFinalize", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 100)
		l.Mint(ctx, "alice", 100)
		l.Finalize(ctx)

		rec, err := l.Burn(ctx, "alice", 5)
		if err != nil {
			t.Fatalf("burn: %v", err)
		}
		if rec.Balance != 95 || rec.TotalSupply != 95 {
			t.Fatalf("unexpected receipt %+v", rec)
		}
		if _, err := l.Burn(ctx, "alice", 96); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		if _, err := l.Burn(ctx, "alice", 95); err != nil {
			t.Fatalf("burn rest: %v", err)
		}
		if b, _ := l.BalanceOf(ctx, "alice"); b != 0 {
			t.Fatalf("expected empty balance, got %d", b)
		}
		assertSupply(t, l, 0)
	})

	t.Run("ConcurrentMintsRespectCap", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.SetCap(ctx, "alice", 50)

		const workers = 80
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Mint(ctx, "alice", 1)
				if err == nil {
					mu.Lock()
					success++
					mu.Unlock()
					return
				}
				if !errors.Is(err, ErrCapExceeded) {
					t.Errorf("unexpected mint error: %v", err)
				}
			}()
		}
		wg.Wait()

		if success != 50 {
			t.Fatalf("expected 50 successful mints, got %d", success)
		}
		assertSupply(t, l, 50)
	})
}

func assertSupply(t *testing.T, l Ledger, want uint64) {
	t.Helper()
	ctx := context.Background()
	total, err := l.TotalSupply(ctx)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if total != want {
		t.Fatalf("expected total supply %d, got %d", want, total)
	}
	if err := l.CheckSupply(ctx); err != nil {
		t.Fatalf("supply check: %v", err)
	}
}
