/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and wire payloads
 *   ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` in the asset's smallest base unit, which avoids
 *   floating-point inaccuracies with financial data. Rates are expressed in basis
 *   points for the same reason.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outbound intent statuses. An intent is created 'pending' at debit time and
// moves forward only; 'failed', 'resolved' and 'refunded' are terminal.
const (
	IntentStatusPending  = "pending"
	IntentStatusSent     = "sent"
	IntentStatusFailed   = "failed"
	IntentStatusResolved = "resolved"
	IntentStatusRefunded = "refunded"
)

// Strategy registration statuses.
const (
	StrategyStatusActive = "active"
	StrategyStatusPaused = "paused"
)

// Ledger entry types written alongside every balance mutation.
const (
	EntryTypeDeposit          = "deposit"
	EntryTypeWithdrawal       = "withdrawal"
	EntryTypeRelocationDebit  = "relocation_debit"
	EntryTypeRelocationRefund = "relocation_refund"
	EntryTypeInboundCredit    = "inbound_credit"
	EntryTypeDeploy           = "deploy"
	EntryTypeUndeploy         = "undeploy"
	EntryTypeAdminRefund      = "admin_refund"
)

// IntentStatusIsTerminal reports whether an intent status permits no further transitions.
func IntentStatusIsTerminal(status string) bool {
	switch status {
	case IntentStatusFailed, IntentStatusResolved, IntentStatusRefunded:
		return true
	default:
		return false
	}
}

// Balance represents the available (not yet deployed or in-flight) holdings of a
// user for one asset on this ledger. This struct maps directly to the `balances` table.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Asset     string    `json:"asset"`
	Available int64     `json:"available"` // in base units
	UpdatedAt time.Time `json:"updated_at"`
}

// StrategyPosition tracks how much of a user's holdings is deployed into one
// local yield strategy. Maps to the `strategy_positions` table.
type StrategyPosition struct {
	UserID     uuid.UUID `json:"user_id"`
	Asset      string    `json:"asset"`
	StrategyID string    `json:"strategy_id"`
	Deployed   int64     `json:"deployed"` // in base units
	UpdatedAt  time.Time `json:"updated_at"`
}

// OutboundIntent is the in-flight record for one cross-chain relocation. It is
// created atomically with the debit and tracked until the destination confirms
// receipt or an operator recovers it. Maps to the `outbound_intents` table.
type OutboundIntent struct {
	ID               uuid.UUID `json:"id"`
	MessageID        string    `json:"message_id"`
	UserID           uuid.UUID `json:"user_id"`
	Asset            string    `json:"asset"`
	Amount           int64     `json:"amount"` // in base units
	Fee              int64     `json:"fee"`    // in base units
	SourceChain      string    `json:"source_chain"`
	DestinationChain string    `json:"destination_chain"`
	Status           string    `json:"status"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InboundRecord is the deduplication record for one applied cross-chain credit.
// Its presence in the `inbound_messages` table means the message-id has been
// applied; redeliveries of the same id are no-ops.
type InboundRecord struct {
	MessageID   string    `json:"message_id"`
	SourceChain string    `json:"source_chain"`
	UserID      uuid.UUID `json:"user_id"`
	Asset       string    `json:"asset"`
	Amount      int64     `json:"amount"` // in base units
	ProcessedAt time.Time `json:"processed_at"`
}

// RelocationMandate is a user's standing authorization for the router to move
// idle funds on their behalf. Without an enabled mandate the router never
// relocates. Maps to the `relocation_mandates` table.
type RelocationMandate struct {
	UserID        uuid.UUID `json:"user_id"`
	Asset         string    `json:"asset"`
	Enabled       bool      `json:"enabled"`
	MinIdleAmount int64     `json:"min_idle_amount"` // in base units
	UpdatedAt     time.Time `json:"updated_at"`
}

// RemoteRate is an out-of-band report of a strategy rate on another chain.
// Rates are advisory: they may be stale and are pruned after a configured TTL.
type RemoteRate struct {
	ChainID    string    `json:"chain_id"`
	Asset      string    `json:"asset"`
	StrategyID string    `json:"strategy_id"`
	RateBps    int64     `json:"rate_bps"`
	ReportedAt time.Time `json:"reported_at"`
}

// LedgerEntry is the audit record written in the same transaction as every
// balance mutation. ReferenceID links the entry to its cause (message id,
// intent id, or strategy id).
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Asset       string    `json:"asset"`
	EntryType   string    `json:"entry_type"`
	Amount      int64     `json:"amount"` // in base units, always positive
	ReferenceID *string   `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StrategyDescriptor is the point-in-time view of one registered strategy.
type StrategyDescriptor struct {
	ID               string `json:"id"`
	Asset            string `json:"asset"`
	RateBps          int64  `json:"rate_bps"`
	TotalValueLocked int64  `json:"total_value_locked"`
	Status           string `json:"status"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"` // in base units
}

// WithdrawRequest is the DTO for incoming withdrawal API requests.
type WithdrawRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"` // in base units
}

// RelocationRequest is the DTO for incoming relocation API requests. MaxFee is
// the caller's fee allowance; a quoted delivery fee above it aborts the request.
type RelocationRequest struct {
	Asset            string `json:"asset"`
	Amount           int64  `json:"amount"` // in base units
	DestinationChain string `json:"destination_chain"`
	MaxFee           int64  `json:"max_fee"` // in base units
}

// UpdateMandateRequest is the DTO for setting a relocation mandate.
type UpdateMandateRequest struct {
	Asset         string `json:"asset"`
	Enabled       bool   `json:"enabled"`
	MinIdleAmount int64  `json:"min_idle_amount"` // in base units
}

// BalanceSummary is the API view of a user's holdings for one asset, splitting
// the available and deployed portions.
type BalanceSummary struct {
	Asset     string `json:"asset"`
	Available int64  `json:"available"`
	Deployed  int64  `json:"deployed"`
	Total     int64  `json:"total"`
}
