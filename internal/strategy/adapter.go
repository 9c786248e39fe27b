/**
 * @description
 * This package defines the strategy adapter abstraction and the registry that
 * manages the strategies available on this chain. A strategy adapter wraps one
 * yield venue (an in-process vault, an external provider API) behind a uniform
 * deposit/withdraw/rate surface.
 *
 * @notes
 * - Withdrawals report the amount actually returned, which may be less than
 *   requested when the venue's liquidity is constrained. Callers must credit
 *   only the actual amount.
 * - A paused strategy refuses new deposits but must still honor withdrawals.
 */

package strategy

import (
	"context"
	"errors"
)

// ErrStrategyNotFound indicates a strategy id that is not registered.
var ErrStrategyNotFound = errors.New("strategy not found")

// ErrStrategyUnavailable indicates a strategy that cannot accept new deposits,
// either because it is paused or because its venue is unreachable.
var ErrStrategyUnavailable = errors.New("strategy unavailable")

// Adapter is the uniform surface over one yield venue. Amounts are in the
// asset's base units; rates are in basis points.
type Adapter interface {
	// Deposit moves funds into the venue and returns a venue receipt
	// identifier.
	Deposit(ctx context.Context, asset string, amount int64) (string, error)

	// Withdraw moves funds out of the venue and returns the amount actually
	// returned.
	Withdraw(ctx context.Context, asset string, amount int64) (int64, error)

	// CurrentRate returns the venue's current yield rate in basis points.
	CurrentRate(ctx context.Context, asset string) (int64, error)

	// TotalValueLocked returns the venue's holdings for the asset.
	TotalValueLocked(ctx context.Context, asset string) (int64, error)
}
