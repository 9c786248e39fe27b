package strategy

import (
	"context"
	"log"
	"sync"

	"github.com/yieldrelay/ledger-service/internal/domain"
)

// Registry holds the strategies registered on this chain and their pause
// state. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	status   map[string]string
	order    []string
}

// NewRegistry returns an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		status:   make(map[string]string),
	}
}

// Register adds a strategy under the given id in active state. Registering an
// existing id replaces its adapter and keeps its position.
func (r *Registry) Register(id string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; !exists {
		r.order = append(r.order, id)
	}
	r.adapters[id] = adapter
	r.status[id] = domain.StrategyStatusActive
}

// Pause stops a strategy from accepting new deposits. Withdrawals remain
// possible.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; !ok {
		return ErrStrategyNotFound
	}
	r.status[id] = domain.StrategyStatusPaused
	return nil
}

// Resume re-enables deposits into a paused strategy.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; !ok {
		return ErrStrategyNotFound
	}
	r.status[id] = domain.StrategyStatusActive
	return nil
}

// Status returns the registration status of a strategy.
func (r *Registry) Status(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.status[id]
	if !ok {
		return "", ErrStrategyNotFound
	}
	return status, nil
}

// IDs returns the registered strategy ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) lookup(id string) (Adapter, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, "", ErrStrategyNotFound
	}
	return adapter, r.status[id], nil
}

// Deposit routes a deposit to the named strategy. Paused strategies reject it.
func (r *Registry) Deposit(ctx context.Context, id, asset string, amount int64) (string, error) {
	adapter, status, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	if status != domain.StrategyStatusActive {
		return "", ErrStrategyUnavailable
	}
	return adapter.Deposit(ctx, asset, amount)
}

// Withdraw routes a withdrawal to the named strategy. Pause state does not
// block withdrawals.
func (r *Registry) Withdraw(ctx context.Context, id, asset string, amount int64) (int64, error) {
	adapter, _, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return adapter.Withdraw(ctx, asset, amount)
}

// Describe returns a point-in-time view of every registered strategy for the
// asset. Strategies whose venue cannot be queried are skipped.
func (r *Registry) Describe(ctx context.Context, asset string) []domain.StrategyDescriptor {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	descriptors := make([]domain.StrategyDescriptor, 0, len(ids))
	for _, id := range ids {
		adapter, status, err := r.lookup(id)
		if err != nil {
			continue
		}
		rate, err := adapter.CurrentRate(ctx, asset)
		if err != nil {
			log.Printf("level=warn component=strategy_registry msg=\"rate query failed\" strategy_id=%s asset=%s err=%v", id, asset, err)
			continue
		}
		tvl, err := adapter.TotalValueLocked(ctx, asset)
		if err != nil {
			log.Printf("level=warn component=strategy_registry msg=\"tvl query failed\" strategy_id=%s asset=%s err=%v", id, asset, err)
			continue
		}
		descriptors = append(descriptors, domain.StrategyDescriptor{
			ID:               id,
			Asset:            asset,
			RateBps:          rate,
			TotalValueLocked: tvl,
			Status:           status,
		})
	}
	return descriptors
}

// BestActive returns the active strategy with the highest current rate for
// the asset. It returns ErrStrategyUnavailable when no active strategy can be
// quoted.
func (r *Registry) BestActive(ctx context.Context, asset string) (string, int64, error) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	bestID := ""
	bestRate := int64(0)
	found := false
	for _, id := range ids {
		adapter, status, err := r.lookup(id)
		if err != nil || status != domain.StrategyStatusActive {
			continue
		}
		rate, err := adapter.CurrentRate(ctx, asset)
		if err != nil {
			log.Printf("level=warn component=strategy_registry msg=\"rate query failed\" strategy_id=%s asset=%s err=%v", id, asset, err)
			continue
		}
		if !found || rate > bestRate {
			bestID = id
			bestRate = rate
			found = true
		}
	}
	if !found {
		return "", 0, ErrStrategyUnavailable
	}
	return bestID, bestRate, nil
}
