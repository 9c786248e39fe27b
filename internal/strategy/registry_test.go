package strategy

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryPauseGatesDeposits(t *testing.T) {
	registry := NewRegistry()
	registry.Register("vault", NewSavingsVault(380, 0))
	ctx := context.Background()

	if _, err := registry.Deposit(ctx, "vault", "USDC", 1000); err != nil {
		t.Fatalf("expected deposit into active strategy to succeed, got %v", err)
	}

	if err := registry.Pause("vault"); err != nil {
		t.Fatalf("expected pause to succeed, got %v", err)
	}

	if _, err := registry.Deposit(ctx, "vault", "USDC", 1000); !errors.Is(err, ErrStrategyUnavailable) {
		t.Fatalf("expected ErrStrategyUnavailable for paused strategy, got %v", err)
	}

	// Withdrawals must keep working while paused.
	paid, err := registry.Withdraw(ctx, "vault", "USDC", 400)
	if err != nil {
		t.Fatalf("expected withdrawal from paused strategy to succeed, got %v", err)
	}
	if paid != 400 {
		t.Fatalf("expected withdrawal of 400, got %d", paid)
	}

	if err := registry.Resume("vault"); err != nil {
		t.Fatalf("expected resume to succeed, got %v", err)
	}
	if _, err := registry.Deposit(ctx, "vault", "USDC", 100); err != nil {
		t.Fatalf("expected deposit after resume to succeed, got %v", err)
	}
}

func TestRegistryUnknownStrategy(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	if _, err := registry.Deposit(ctx, "missing", "USDC", 100); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	if _, err := registry.Withdraw(ctx, "missing", "USDC", 100); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
	if err := registry.Pause("missing"); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
}

func TestVaultWithdrawalCaps(t *testing.T) {
	ctx := context.Background()

	t.Run("caps at holdings", func(t *testing.T) {
		vault := NewSavingsVault(380, 0)
		if _, err := vault.Deposit(ctx, "USDC", 500); err != nil {
			t.Fatalf("expected deposit to succeed, got %v", err)
		}
		paid, err := vault.Withdraw(ctx, "USDC", 800)
		if err != nil {
			t.Fatalf("expected withdrawal to succeed, got %v", err)
		}
		if paid != 500 {
			t.Fatalf("expected partial withdrawal of 500, got %d", paid)
		}
		tvl, _ := vault.TotalValueLocked(ctx, "USDC")
		if tvl != 0 {
			t.Fatalf("expected vault to be empty, got %d", tvl)
		}
	})

	t.Run("caps at liquidity limit", func(t *testing.T) {
		vault := NewSavingsVault(380, 300)
		if _, err := vault.Deposit(ctx, "USDC", 1000); err != nil {
			t.Fatalf("expected deposit to succeed, got %v", err)
		}
		paid, err := vault.Withdraw(ctx, "USDC", 800)
		if err != nil {
			t.Fatalf("expected withdrawal to succeed, got %v", err)
		}
		if paid != 300 {
			t.Fatalf("expected liquidity-limited withdrawal of 300, got %d", paid)
		}
		tvl, _ := vault.TotalValueLocked(ctx, "USDC")
		if tvl != 700 {
			t.Fatalf("expected 700 remaining in vault, got %d", tvl)
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		vault := NewSavingsVault(380, 0)
		if _, err := vault.Withdraw(ctx, "USDC", 0); err == nil {
			t.Fatalf("expected zero withdrawal to be rejected")
		}
		if _, err := vault.Deposit(ctx, "USDC", -5); err == nil {
			t.Fatalf("expected negative deposit to be rejected")
		}
	})
}

func TestBestActivePicksHighestRate(t *testing.T) {
	registry := NewRegistry()
	registry.Register("vault-low", NewSavingsVault(200, 0))
	registry.Register("vault-high", NewSavingsVault(450, 0))
	ctx := context.Background()

	id, rate, err := registry.BestActive(ctx, "USDC")
	if err != nil {
		t.Fatalf("expected best-active lookup to succeed, got %v", err)
	}
	if id != "vault-high" || rate != 450 {
		t.Fatalf("expected vault-high at 450 bps, got %s at %d", id, rate)
	}

	if err := registry.Pause("vault-high"); err != nil {
		t.Fatalf("expected pause to succeed, got %v", err)
	}
	id, rate, err = registry.BestActive(ctx, "USDC")
	if err != nil {
		t.Fatalf("expected best-active lookup to succeed, got %v", err)
	}
	if id != "vault-low" || rate != 200 {
		t.Fatalf("expected vault-low at 200 bps after pause, got %s at %d", id, rate)
	}

	if err := registry.Pause("vault-low"); err != nil {
		t.Fatalf("expected pause to succeed, got %v", err)
	}
	if _, _, err := registry.BestActive(ctx, "USDC"); !errors.Is(err, ErrStrategyUnavailable) {
		t.Fatalf("expected ErrStrategyUnavailable when all strategies paused, got %v", err)
	}
}

func TestDescribeListsStrategies(t *testing.T) {
	registry := NewRegistry()
	registry.Register("vault", NewSavingsVault(380, 0))
	ctx := context.Background()

	if _, err := registry.Deposit(ctx, "vault", "USDC", 1200); err != nil {
		t.Fatalf("expected deposit to succeed, got %v", err)
	}

	descriptors := registry.Describe(ctx, "USDC")
	if len(descriptors) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descriptors))
	}
	d := descriptors[0]
	if d.ID != "vault" || d.RateBps != 380 || d.TotalValueLocked != 1200 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}
