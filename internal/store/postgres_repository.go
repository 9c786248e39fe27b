/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to balances, outbound intents, inbound messages, strategy positions,
 * relocation mandates, remote rates, and ledger entries.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yieldrelay/ledger-service/internal/domain"
)

var (
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrIntentNotFound       = errors.New("intent not found")
	ErrRelocationInFlight   = errors.New("relocation already in flight for this destination")
	ErrDuplicateMessage     = errors.New("message already applied")
	ErrMandateNotFound      = errors.New("relocation mandate not found")
	ErrInsufficientPosition = errors.New("insufficient strategy position")
	ErrIntentNotRefundable  = errors.New("intent is not refundable")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// creditBalance adds to a user's available balance inside an open transaction,
// creating the balance row when necessary.
func creditBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string, amount int64) error {
	query := `
		INSERT INTO balances (user_id, asset, available, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, asset)
		DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = now()`
	_, err := tx.Exec(ctx, query, userID, asset, amount)
	return err
}

// insertLedgerEntry writes the audit record for a balance mutation inside the
// same transaction as the mutation itself.
func insertLedgerEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset, entryType string, amount int64, referenceID *string) error {
	query := `
		INSERT INTO ledger_entries (id, user_id, asset, entry_type, amount, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err := tx.Exec(ctx, query, uuid.New(), userID, asset, entryType, amount, referenceID)
	return err
}

// GetBalance retrieves a user's balance for one asset.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*domain.Balance, error) {
	var balance domain.Balance
	query := `SELECT user_id, asset, available, updated_at FROM balances WHERE user_id = $1 AND asset = $2`
	err := r.db.QueryRow(ctx, query, userID, asset).Scan(&balance.UserID, &balance.Asset, &balance.Available, &balance.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// ListBalancesByUser retrieves all balances held by a user.
func (r *PostgresRepository) ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	query := `SELECT user_id, asset, available, updated_at FROM balances WHERE user_id = $1 ORDER BY asset`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var balance domain.Balance
		if err := rows.Scan(&balance.UserID, &balance.Asset, &balance.Available, &balance.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	return balances, rows.Err()
}

// RecordDeposit credits a user's balance and writes the audit entry atomically.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, userID uuid.UUID, asset string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := creditBalance(ctx, tx, userID, asset, amount); err != nil {
		return err
	}
	if err := insertLedgerEntry(ctx, tx, userID, asset, domain.EntryTypeDeposit, amount, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordWithdrawal debits a user's balance and writes the audit entry atomically.
func (r *PostgresRepository) RecordWithdrawal(ctx context.Context, userID uuid.UUID, asset string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var available int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT available FROM balances WHERE user_id = $1 AND asset = $2 FOR UPDATE`, userID, asset).Scan(&available)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrBalanceNotFound
		}
		return err
	}

	if available < amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `UPDATE balances SET available = available - $1, updated_at = now() WHERE user_id = $2 AND asset = $3`, amount, userID, asset)
	if err != nil {
		return err
	}
	if err := insertLedgerEntry(ctx, tx, userID, asset, domain.EntryTypeWithdrawal, amount, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DebitForRelocation debits the relocation amount and creates the pending
// intent in one transaction. The partial unique index on open intents rejects
// a second in-flight relocation for the same (user, asset, destination).
func (r *PostgresRepository) DebitForRelocation(ctx context.Context, intent *domain.OutboundIntent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var available int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT available FROM balances WHERE user_id = $1 AND asset = $2 FOR UPDATE`, intent.UserID, intent.Asset).Scan(&available)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrBalanceNotFound
		}
		return err
	}

	if available < intent.Amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `UPDATE balances SET available = available - $1, updated_at = now() WHERE user_id = $2 AND asset = $3`, intent.Amount, intent.UserID, intent.Asset)
	if err != nil {
		return err
	}

	intent.Status = domain.IntentStatusPending
	insertQuery := `
		INSERT INTO outbound_intents (id, message_id, user_id, asset, amount, fee, source_chain, destination_chain, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`
	_, err = tx.Exec(ctx, insertQuery,
		intent.ID, intent.MessageID, intent.UserID, intent.Asset, intent.Amount, intent.Fee,
		intent.SourceChain, intent.DestinationChain, intent.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRelocationInFlight
		}
		return err
	}

	referenceID := intent.MessageID
	if err := insertLedgerEntry(ctx, tx, intent.UserID, intent.Asset, domain.EntryTypeRelocationDebit, intent.Amount, &referenceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkIntentSent records the quoted fee and moves a pending intent to sent.
func (r *PostgresRepository) MarkIntentSent(ctx context.Context, intentID uuid.UUID, fee int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbound_intents SET status = $1, fee = $2, updated_at = now() WHERE id = $3 AND status = $4`,
		domain.IntentStatusSent, fee, intentID, domain.IntentStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// FailIntentAndRefund moves a pending intent to failed and credits the debited
// amount back in one transaction. After it commits the balance is bit-for-bit
// what it was before the debit.
func (r *PostgresRepository) FailIntentAndRefund(ctx context.Context, intentID uuid.UUID, reason string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		userID    uuid.UUID
		asset     string
		amount    int64
		messageID string
	)
	query := `
		UPDATE outbound_intents SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4
		RETURNING user_id, asset, amount, message_id`
	err = tx.QueryRow(ctx, query, domain.IntentStatusFailed, reason, intentID, domain.IntentStatusPending).
		Scan(&userID, &asset, &amount, &messageID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrIntentNotFound
		}
		return err
	}

	if err := creditBalance(ctx, tx, userID, asset, amount); err != nil {
		return err
	}
	if err := insertLedgerEntry(ctx, tx, userID, asset, domain.EntryTypeRelocationRefund, amount, &messageID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ResolveIntent moves an open intent to resolved once the destination confirms
// delivery. It reports whether any intent was actually transitioned; a receipt
// for an unknown or already-terminal intent is not an error.
func (r *PostgresRepository) ResolveIntent(ctx context.Context, messageID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbound_intents SET status = $1, updated_at = now() WHERE message_id = $2 AND status IN ($3, $4)`,
		domain.IntentStatusResolved, messageID, domain.IntentStatusPending, domain.IntentStatusSent)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RefundIntentByOperator moves a sent intent to refunded and credits the
// debited amount back, for operator recovery of transfers presumed lost.
func (r *PostgresRepository) RefundIntentByOperator(ctx context.Context, messageID, reason string) (*domain.OutboundIntent, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var intent domain.OutboundIntent
	query := `
		SELECT id, message_id, user_id, asset, amount, fee, source_chain, destination_chain, status, failure_reason, created_at, updated_at
		FROM outbound_intents WHERE message_id = $1 FOR UPDATE`
	err = tx.QueryRow(ctx, query, messageID).Scan(
		&intent.ID, &intent.MessageID, &intent.UserID, &intent.Asset, &intent.Amount, &intent.Fee,
		&intent.SourceChain, &intent.DestinationChain, &intent.Status, &intent.FailureReason,
		&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}

	if intent.Status != domain.IntentStatusSent {
		return nil, ErrIntentNotRefundable
	}

	_, err = tx.Exec(ctx,
		`UPDATE outbound_intents SET status = $1, failure_reason = $2, updated_at = now() WHERE id = $3`,
		domain.IntentStatusRefunded, reason, intent.ID)
	if err != nil {
		return nil, err
	}

	if err := creditBalance(ctx, tx, intent.UserID, intent.Asset, intent.Amount); err != nil {
		return nil, err
	}
	if err := insertLedgerEntry(ctx, tx, intent.UserID, intent.Asset, domain.EntryTypeAdminRefund, intent.Amount, &messageID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	intent.Status = domain.IntentStatusRefunded
	intent.FailureReason = &reason
	return &intent, nil
}

// FindIntentByMessageID retrieves one outbound intent by its message id.
func (r *PostgresRepository) FindIntentByMessageID(ctx context.Context, messageID string) (*domain.OutboundIntent, error) {
	var intent domain.OutboundIntent
	query := `
		SELECT id, message_id, user_id, asset, amount, fee, source_chain, destination_chain, status, failure_reason, created_at, updated_at
		FROM outbound_intents WHERE message_id = $1`
	err := r.db.QueryRow(ctx, query, messageID).Scan(
		&intent.ID, &intent.MessageID, &intent.UserID, &intent.Asset, &intent.Amount, &intent.Fee,
		&intent.SourceChain, &intent.DestinationChain, &intent.Status, &intent.FailureReason,
		&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// ListIntentsByStatus retrieves intents in one status, oldest first,
// optionally restricted to those not updated since olderThan.
func (r *PostgresRepository) ListIntentsByStatus(ctx context.Context, status string, olderThan *time.Time, limit int) ([]domain.OutboundIntent, error) {
	query := `
		SELECT id, message_id, user_id, asset, amount, fee, source_chain, destination_chain, status, failure_reason, created_at, updated_at
		FROM outbound_intents WHERE status = $1`
	args := []interface{}{status}
	if olderThan != nil {
		query += ` AND updated_at < $2`
		args = append(args, *olderThan)
	}
	query += ` ORDER BY updated_at ASC`
	if limit > 0 {
		args = append(args, limit)
		if olderThan != nil {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []domain.OutboundIntent
	for rows.Next() {
		var intent domain.OutboundIntent
		if err := rows.Scan(
			&intent.ID, &intent.MessageID, &intent.UserID, &intent.Asset, &intent.Amount, &intent.Fee,
			&intent.SourceChain, &intent.DestinationChain, &intent.Status, &intent.FailureReason,
			&intent.CreatedAt, &intent.UpdatedAt); err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// ApplyInboundCredit records the message id and credits the recipient in one
// transaction. The insert into inbound_messages doubles as the deduplication
// check: a conflicting message id means the credit was already applied.
func (r *PostgresRepository) ApplyInboundCredit(ctx context.Context, record domain.InboundRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO inbound_messages (message_id, source_chain, user_id, asset, amount, processed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (message_id) DO NOTHING`
	tag, err := tx.Exec(ctx, insertQuery, record.MessageID, record.SourceChain, record.UserID, record.Asset, record.Amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateMessage
	}

	if err := creditBalance(ctx, tx, record.UserID, record.Asset, record.Amount); err != nil {
		return err
	}
	referenceID := record.MessageID
	if err := insertLedgerEntry(ctx, tx, record.UserID, record.Asset, domain.EntryTypeInboundCredit, record.Amount, &referenceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeployToStrategy moves funds from a user's available balance into a strategy
// position atomically.
func (r *PostgresRepository) DeployToStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var available int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT available FROM balances WHERE user_id = $1 AND asset = $2 FOR UPDATE`, userID, asset).Scan(&available)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrBalanceNotFound
		}
		return err
	}

	if available < amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `UPDATE balances SET available = available - $1, updated_at = now() WHERE user_id = $2 AND asset = $3`, amount, userID, asset)
	if err != nil {
		return err
	}

	positionQuery := `
		INSERT INTO strategy_positions (user_id, asset, strategy_id, deployed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, asset, strategy_id)
		DO UPDATE SET deployed = strategy_positions.deployed + EXCLUDED.deployed, updated_at = now()`
	_, err = tx.Exec(ctx, positionQuery, userID, asset, strategyID, amount)
	if err != nil {
		return err
	}

	referenceID := strategyID
	if err := insertLedgerEntry(ctx, tx, userID, asset, domain.EntryTypeDeploy, amount, &referenceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ReturnFromStrategy moves funds from a strategy position back to the user's
// available balance atomically.
func (r *PostgresRepository) ReturnFromStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var deployed int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx,
		`SELECT deployed FROM strategy_positions WHERE user_id = $1 AND asset = $2 AND strategy_id = $3 FOR UPDATE`,
		userID, asset, strategyID).Scan(&deployed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientPosition
		}
		return err
	}

	if deployed < amount {
		return ErrInsufficientPosition
	}

	_, err = tx.Exec(ctx,
		`UPDATE strategy_positions SET deployed = deployed - $1, updated_at = now() WHERE user_id = $2 AND asset = $3 AND strategy_id = $4`,
		amount, userID, asset, strategyID)
	if err != nil {
		return err
	}

	if err := creditBalance(ctx, tx, userID, asset, amount); err != nil {
		return err
	}
	referenceID := strategyID
	if err := insertLedgerEntry(ctx, tx, userID, asset, domain.EntryTypeUndeploy, amount, &referenceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListPositionsByUser retrieves all strategy positions held by a user.
func (r *PostgresRepository) ListPositionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.StrategyPosition, error) {
	query := `SELECT user_id, asset, strategy_id, deployed, updated_at FROM strategy_positions WHERE user_id = $1 ORDER BY asset, strategy_id`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.StrategyPosition
	for rows.Next() {
		var position domain.StrategyPosition
		if err := rows.Scan(&position.UserID, &position.Asset, &position.StrategyID, &position.Deployed, &position.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, rows.Err()
}

// FindMandate retrieves a user's relocation mandate for one asset.
func (r *PostgresRepository) FindMandate(ctx context.Context, userID uuid.UUID, asset string) (*domain.RelocationMandate, error) {
	var mandate domain.RelocationMandate
	query := `SELECT user_id, asset, enabled, min_idle_amount, updated_at FROM relocation_mandates WHERE user_id = $1 AND asset = $2`
	err := r.db.QueryRow(ctx, query, userID, asset).Scan(&mandate.UserID, &mandate.Asset, &mandate.Enabled, &mandate.MinIdleAmount, &mandate.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMandateNotFound
		}
		return nil, err
	}
	return &mandate, nil
}

// UpsertMandate creates or replaces a user's relocation mandate.
func (r *PostgresRepository) UpsertMandate(ctx context.Context, mandate domain.RelocationMandate) error {
	query := `
		INSERT INTO relocation_mandates (user_id, asset, enabled, min_idle_amount, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, asset)
		DO UPDATE SET enabled = EXCLUDED.enabled, min_idle_amount = EXCLUDED.min_idle_amount, updated_at = now()`
	_, err := r.db.Exec(ctx, query, mandate.UserID, mandate.Asset, mandate.Enabled, mandate.MinIdleAmount)
	return err
}

// ListEnabledMandates retrieves every enabled relocation mandate.
func (r *PostgresRepository) ListEnabledMandates(ctx context.Context) ([]domain.RelocationMandate, error) {
	query := `SELECT user_id, asset, enabled, min_idle_amount, updated_at FROM relocation_mandates WHERE enabled = TRUE ORDER BY user_id, asset`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mandates []domain.RelocationMandate
	for rows.Next() {
		var mandate domain.RelocationMandate
		if err := rows.Scan(&mandate.UserID, &mandate.Asset, &mandate.Enabled, &mandate.MinIdleAmount, &mandate.UpdatedAt); err != nil {
			return nil, err
		}
		mandates = append(mandates, mandate)
	}
	return mandates, rows.Err()
}

// UpsertRemoteRates stores a batch of reported rates, replacing any previous
// report for the same (chain, asset, strategy).
func (r *PostgresRepository) UpsertRemoteRates(ctx context.Context, rates []domain.RemoteRate) error {
	if len(rates) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO remote_rates (chain_id, asset, strategy_id, rate_bps, reported_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, asset, strategy_id)
		DO UPDATE SET rate_bps = EXCLUDED.rate_bps, reported_at = EXCLUDED.reported_at`
	for _, rate := range rates {
		reportedAt := rate.ReportedAt
		if reportedAt.IsZero() {
			reportedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, query, rate.ChainID, rate.Asset, rate.StrategyID, rate.RateBps, reportedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListFreshRemoteRates retrieves rates for an asset reported at or after the
// given time.
func (r *PostgresRepository) ListFreshRemoteRates(ctx context.Context, asset string, since time.Time) ([]domain.RemoteRate, error) {
	query := `SELECT chain_id, asset, strategy_id, rate_bps, reported_at FROM remote_rates WHERE asset = $1 AND reported_at >= $2 ORDER BY rate_bps DESC`
	rows, err := r.db.Query(ctx, query, asset, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []domain.RemoteRate
	for rows.Next() {
		var rate domain.RemoteRate
		if err := rows.Scan(&rate.ChainID, &rate.Asset, &rate.StrategyID, &rate.RateBps, &rate.ReportedAt); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// DeleteRemoteRatesBefore removes rate reports older than the cutoff and
// returns how many were removed.
func (r *PostgresRepository) DeleteRemoteRatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM remote_rates WHERE reported_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListLedgerEntriesByUser retrieves a user's most recent ledger entries.
func (r *PostgresRepository) ListLedgerEntriesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, asset, entry_type, amount, reference_id, created_at FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Asset, &entry.EntryType, &entry.Amount, &entry.ReferenceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
