/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yieldrelay/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Balance methods
	GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*domain.Balance, error)
	ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
	RecordDeposit(ctx context.Context, userID uuid.UUID, asset string, amount int64) error
	RecordWithdrawal(ctx context.Context, userID uuid.UUID, asset string, amount int64) error

	// Outbound intent methods
	// DebitForRelocation debits the balance and creates the pending intent in
	// one transaction; only one open intent per (user, asset, destination) may
	// exist at a time.
	DebitForRelocation(ctx context.Context, intent *domain.OutboundIntent) error
	MarkIntentSent(ctx context.Context, intentID uuid.UUID, fee int64) error
	FailIntentAndRefund(ctx context.Context, intentID uuid.UUID, reason string) error
	ResolveIntent(ctx context.Context, messageID string) (bool, error)
	RefundIntentByOperator(ctx context.Context, messageID, reason string) (*domain.OutboundIntent, error)
	FindIntentByMessageID(ctx context.Context, messageID string) (*domain.OutboundIntent, error)
	ListIntentsByStatus(ctx context.Context, status string, olderThan *time.Time, limit int) ([]domain.OutboundIntent, error)

	// Inbound methods
	// ApplyInboundCredit records the message id and credits the balance in one
	// transaction. A message id that was already applied returns
	// ErrDuplicateMessage without touching any balance.
	ApplyInboundCredit(ctx context.Context, record domain.InboundRecord) error

	// Strategy position methods
	DeployToStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error
	ReturnFromStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error
	ListPositionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.StrategyPosition, error)

	// Relocation mandate methods
	FindMandate(ctx context.Context, userID uuid.UUID, asset string) (*domain.RelocationMandate, error)
	UpsertMandate(ctx context.Context, mandate domain.RelocationMandate) error
	ListEnabledMandates(ctx context.Context) ([]domain.RelocationMandate, error)

	// Remote rate methods
	UpsertRemoteRates(ctx context.Context, rates []domain.RemoteRate) error
	ListFreshRemoteRates(ctx context.Context, asset string, since time.Time) ([]domain.RemoteRate, error)
	DeleteRemoteRatesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ledger entry methods
	ListLedgerEntriesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error)
}
