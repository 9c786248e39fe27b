package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SavingsVault is an in-process yield venue with a fixed advertised rate. It
// holds deposits in memory and optionally caps how much a single withdrawal
// can return, which models a venue with constrained exit liquidity.
type SavingsVault struct {
	mu             sync.Mutex
	rateBps        int64
	liquidityLimit int64 // max paid per withdrawal; 0 means uncapped
	holdings       map[string]int64
}

// NewSavingsVault creates a vault with the given advertised rate and
// per-withdrawal liquidity limit.
func NewSavingsVault(rateBps, liquidityLimit int64) *SavingsVault {
	return &SavingsVault{
		rateBps:        rateBps,
		liquidityLimit: liquidityLimit,
		holdings:       make(map[string]int64),
	}
}

// Deposit adds funds to the vault and returns a receipt id.
func (v *SavingsVault) Deposit(ctx context.Context, asset string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("vault deposit amount must be positive, got %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holdings[asset] += amount
	return uuid.NewString(), nil
}

// Withdraw returns up to the requested amount, capped by the vault's holdings
// and its per-withdrawal liquidity limit. The returned value is the amount
// actually paid out, which may be zero.
func (v *SavingsVault) Withdraw(ctx context.Context, asset string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("vault withdrawal amount must be positive, got %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	paid := amount
	if held := v.holdings[asset]; paid > held {
		paid = held
	}
	if v.liquidityLimit > 0 && paid > v.liquidityLimit {
		paid = v.liquidityLimit
	}
	v.holdings[asset] -= paid
	return paid, nil
}

// CurrentRate returns the vault's fixed advertised rate.
func (v *SavingsVault) CurrentRate(ctx context.Context, asset string) (int64, error) {
	return v.rateBps, nil
}

// TotalValueLocked returns the vault's holdings for the asset.
func (v *SavingsVault) TotalValueLocked(ctx context.Context, asset string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holdings[asset], nil
}
