package transport

import (
	"context"
	"errors"
)

// ErrUnknownDestination indicates a destination chain this deployment has no
// route to. Both fee quoting and sending reject it synchronously.
var ErrUnknownDestination = errors.New("unknown destination chain")

// FeePolicy describes how the delivery fee for one destination is computed.
// Fees are in the asset's base units.
type FeePolicy struct {
	BaseFee int64
	PerByte int64
}

// FeeQuoter prices the delivery of an encoded payload to a destination chain.
type FeeQuoter interface {
	QuoteFee(ctx context.Context, destinationChain string, payloadSize int) (int64, error)
	SupportsDestination(destinationChain string) bool
}

// ScheduleFeeQuoter quotes fees from a static schedule: a default policy plus
// optional per-destination overrides. Quotes are deterministic for a given
// destination and payload size.
type ScheduleFeeQuoter struct {
	defaultPolicy FeePolicy
	overrides     map[string]FeePolicy
	known         map[string]struct{}
}

// NewScheduleFeeQuoter builds a quoter for the given chain universe.
func NewScheduleFeeQuoter(defaultPolicy FeePolicy, overrides map[string]FeePolicy, knownChains []string) *ScheduleFeeQuoter {
	known := make(map[string]struct{}, len(knownChains))
	for _, chain := range knownChains {
		known[chain] = struct{}{}
	}
	if overrides == nil {
		overrides = make(map[string]FeePolicy)
	}
	return &ScheduleFeeQuoter{
		defaultPolicy: defaultPolicy,
		overrides:     overrides,
		known:         known,
	}
}

// SupportsDestination reports whether the quoter has a route to the chain.
func (q *ScheduleFeeQuoter) SupportsDestination(destinationChain string) bool {
	_, ok := q.known[destinationChain]
	return ok
}

// QuoteFee returns the delivery fee for a payload of the given encoded size.
func (q *ScheduleFeeQuoter) QuoteFee(ctx context.Context, destinationChain string, payloadSize int) (int64, error) {
	if !q.SupportsDestination(destinationChain) {
		return 0, ErrUnknownDestination
	}
	policy, ok := q.overrides[destinationChain]
	if !ok {
		policy = q.defaultPolicy
	}
	if payloadSize < 0 {
		payloadSize = 0
	}
	return policy.BaseFee + policy.PerByte*int64(payloadSize), nil
}
