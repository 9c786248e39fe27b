package strategy

import (
	"context"
	"fmt"

	"github.com/yieldrelay/ledger-service/pkg/yieldclient"
)

// RESTAdapter exposes an external yield source API as a strategy. Venue
// failures surface as ErrStrategyUnavailable so callers can distinguish an
// unreachable venue from a bad request.
type RESTAdapter struct {
	client *yieldclient.Client
}

// NewRESTAdapter wraps a yield source client.
func NewRESTAdapter(client *yieldclient.Client) *RESTAdapter {
	return &RESTAdapter{client: client}
}

func (a *RESTAdapter) Deposit(ctx context.Context, asset string, amount int64) (string, error) {
	resp, err := a.client.Deposit(ctx, asset, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStrategyUnavailable, err)
	}
	return resp.Data.ID, nil
}

func (a *RESTAdapter) Withdraw(ctx context.Context, asset string, amount int64) (int64, error) {
	resp, err := a.client.Withdraw(ctx, asset, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStrategyUnavailable, err)
	}
	return resp.Data.Amount, nil
}

func (a *RESTAdapter) CurrentRate(ctx context.Context, asset string) (int64, error) {
	resp, err := a.client.GetRate(ctx, asset)
	if err != nil {
		return 0, err
	}
	return resp.Data.RateBps, nil
}

func (a *RESTAdapter) TotalValueLocked(ctx context.Context, asset string) (int64, error) {
	resp, err := a.client.GetTVL(ctx, asset)
	if err != nil {
		return 0, err
	}
	return resp.Data.TotalValueLocked, nil
}
