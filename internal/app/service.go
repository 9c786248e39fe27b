/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates all balance movement operations, coordinating between the
 * database repository, the cross-chain transport, the fee quoter, and the local
 * strategy registry.
 *
 * Key features:
 * - Implements the main use cases: deposits, withdrawals, cross-chain relocations,
 *   and strategy deployments.
 * - Enforces the relocation protocol: debit-before-send, a single atomic rollback
 *   on any pre-send failure, and receipt-driven intent resolution.
 * - Treats redelivered inbound messages as successes without re-crediting.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store, internal/strategy: Domain models, data access,
 *   and yield venues.
 * - pkg/transport: Cross-chain message codec, fee quoting, and delivery.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

const defaultIntentListLimit = 100

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrUnsupportedAsset      = errors.New("unsupported asset")
	ErrSameChainRelocation   = errors.New("destination chain must differ from source chain")
	ErrNegativeFeeAllowance  = errors.New("fee allowance must not be negative")
	ErrFeeUnaffordable       = errors.New("delivery fee exceeds allowance")
	ErrTransportRejected     = errors.New("transport rejected message")
	ErrRelocationRateLimited = errors.New("relocation rate limit exceeded")
	ErrIntentNotStale        = errors.New("intent has not exceeded the recovery timeout")
	ErrInvalidRate           = errors.New("invalid rate report")
)

// RateLimiter is the interface for the per-user relocation rate limiter. It
// returns the consumed count within the window and, when the limit is
// exceeded, how many seconds remain until the window resets.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo            store.Repository
	courier         transport.Courier
	quoter          transport.FeeQuoter
	strategies      *strategy.Registry
	chainID         string
	knownChains     map[string]struct{}
	supportedAssets map[string]struct{}
	recoveryTimeout time.Duration

	rateLimiter         RateLimiter
	relocationRateLimit int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, courier transport.Courier, quoter transport.FeeQuoter, strategies *strategy.Registry, chainID string, knownChains, supportedAssets []string, recoveryTimeout time.Duration) *Service {
	known := make(map[string]struct{}, len(knownChains))
	for _, chain := range knownChains {
		known[chain] = struct{}{}
	}
	assets := make(map[string]struct{}, len(supportedAssets))
	for _, asset := range supportedAssets {
		assets[asset] = struct{}{}
	}
	return &Service{
		repo:            repo,
		courier:         courier,
		quoter:          quoter,
		strategies:      strategies,
		chainID:         chainID,
		knownChains:     known,
		supportedAssets: assets,
		recoveryTimeout: recoveryTimeout,
	}
}

// SetRelocationRateLimiter attaches an optional per-user rate limiter for
// relocation requests. Without one, relocations are not rate limited.
func (s *Service) SetRelocationRateLimiter(limiter RateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.relocationRateLimit = perMinute
}

// ChainID returns the chain this ledger deployment serves.
func (s *Service) ChainID() string {
	return s.chainID
}

func (s *Service) assetSupported(asset string) bool {
	_, ok := s.supportedAssets[asset]
	return ok
}

func (s *Service) chainKnown(chainID string) bool {
	_, ok := s.knownChains[chainID]
	return ok
}

// Deposit credits a user's available balance.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, req domain.DepositRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !s.assetSupported(req.Asset) {
		return ErrUnsupportedAsset
	}
	if err := s.repo.RecordDeposit(ctx, userID, req.Asset, req.Amount); err != nil {
		log.Printf("Deposit: failed to record deposit of %d %s for user %s: %v", req.Amount, req.Asset, userID, err)
		return err
	}
	log.Printf("Deposit: credited %d %s for user %s", req.Amount, req.Asset, userID)
	return nil
}

// Withdraw debits a user's available balance.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, req domain.WithdrawRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !s.assetSupported(req.Asset) {
		return ErrUnsupportedAsset
	}
	if err := s.repo.RecordWithdrawal(ctx, userID, req.Asset, req.Amount); err != nil {
		return err
	}
	log.Printf("Withdraw: debited %d %s for user %s", req.Amount, req.Asset, userID)
	return nil
}

// BalanceSummaries returns the user's holdings per asset, split into available
// and deployed portions.
func (s *Service) BalanceSummaries(ctx context.Context, userID uuid.UUID) ([]domain.BalanceSummary, error) {
	balances, err := s.repo.ListBalancesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.repo.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byAsset := make(map[string]*domain.BalanceSummary)
	order := make([]string, 0, len(balances))
	for _, balance := range balances {
		byAsset[balance.Asset] = &domain.BalanceSummary{Asset: balance.Asset, Available: balance.Available}
		order = append(order, balance.Asset)
	}
	for _, position := range positions {
		summary, ok := byAsset[position.Asset]
		if !ok {
			summary = &domain.BalanceSummary{Asset: position.Asset}
			byAsset[position.Asset] = summary
			order = append(order, position.Asset)
		}
		summary.Deployed += position.Deployed
	}

	summaries := make([]domain.BalanceSummary, 0, len(order))
	for _, asset := range order {
		summary := byAsset[asset]
		summary.Total = summary.Available + summary.Deployed
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// LedgerHistory returns the user's most recent ledger entries.
func (s *Service) LedgerHistory(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntriesByUser(ctx, userID, limit)
}

func (s *Service) validateRelocationRequest(req domain.RelocationRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !s.assetSupported(req.Asset) {
		return ErrUnsupportedAsset
	}
	if !s.chainKnown(req.DestinationChain) {
		return transport.ErrUnknownDestination
	}
	if req.DestinationChain == s.chainID {
		return ErrSameChainRelocation
	}
	if req.MaxFee < 0 {
		return ErrNegativeFeeAllowance
	}
	return nil
}

// RequestRelocation moves a user's funds from this chain to another. The debit
// and the pending intent are created atomically; any failure before the
// message departs rolls the debit back in full, and a message on the wire
// leaves the intent open until the destination's receipt resolves it.
func (s *Service) RequestRelocation(ctx context.Context, userID uuid.UUID, req domain.RelocationRequest) (*domain.OutboundIntent, error) {
	log.Printf("RequestRelocation: starting relocation of %d %s for user %s to %s", req.Amount, req.Asset, userID, req.DestinationChain)

	// 1. Validate the request before touching any state.
	if err := s.validateRelocationRequest(req); err != nil {
		return nil, err
	}

	// 2. Enforce the per-user relocation rate limit. A limiter outage fails
	// open so the protocol stays available.
	if s.rateLimiter != nil && s.relocationRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "relocation", userID.String(), s.relocationRateLimit, time.Minute)
		if err != nil {
			log.Printf("level=warn component=app msg=\"rate limiter unavailable; allowing relocation\" user_id=%s err=%v", userID, err)
		} else if count > s.relocationRateLimit {
			return nil, fmt.Errorf("%w: retry in %d seconds", ErrRelocationRateLimited, retryAfter)
		}
	}

	// 3. Debit the amount and create the pending intent in one transaction.
	// The message id is freshly generated per attempt, so retries never reuse
	// an id even across restarts.
	intent := &domain.OutboundIntent{
		ID:               uuid.New(),
		MessageID:        uuid.NewString(),
		UserID:           userID,
		Asset:            req.Asset,
		Amount:           req.Amount,
		SourceChain:      s.chainID,
		DestinationChain: req.DestinationChain,
	}
	if err := s.repo.DebitForRelocation(ctx, intent); err != nil {
		log.Printf("RequestRelocation: debit failed for user %s: %v", userID, err)
		return nil, err
	}

	// 4. Encode the transfer payload.
	payload := transport.TransferPayload{
		Version:          transport.PayloadVersion,
		UserID:           userID,
		Asset:            req.Asset,
		Amount:           req.Amount,
		SourceChain:      s.chainID,
		DestinationChain: req.DestinationChain,
		SentAt:           time.Now().UTC(),
	}
	encoded, err := transport.EncodeTransferPayload(payload)
	if err != nil {
		log.Printf("RequestRelocation: payload encoding failed for message %s: %v", intent.MessageID, err)
		if refundErr := s.repo.FailIntentAndRefund(ctx, intent.ID, "payload encoding failed"); refundErr != nil {
			log.Printf("CRITICAL: Failed to refund debited amount for user %s after encoding failure on message %s: %v", userID, intent.MessageID, refundErr)
		}
		return nil, err
	}

	// 5. Quote the delivery fee and check it against the caller's allowance.
	fee, err := s.quoter.QuoteFee(ctx, req.DestinationChain, len(encoded))
	if err != nil {
		log.Printf("RequestRelocation: fee quote failed for message %s: %v", intent.MessageID, err)
		if refundErr := s.repo.FailIntentAndRefund(ctx, intent.ID, "fee quote failed"); refundErr != nil {
			log.Printf("CRITICAL: Failed to refund debited amount for user %s after fee quote failure on message %s: %v", userID, intent.MessageID, refundErr)
		}
		return nil, err
	}
	if fee > req.MaxFee {
		log.Printf("RequestRelocation: fee %d exceeds allowance %d for message %s", fee, req.MaxFee, intent.MessageID)
		reason := fmt.Sprintf("fee %d exceeds allowance %d", fee, req.MaxFee)
		if refundErr := s.repo.FailIntentAndRefund(ctx, intent.ID, reason); refundErr != nil {
			log.Printf("CRITICAL: Failed to refund debited amount for user %s after unaffordable fee on message %s: %v", userID, intent.MessageID, refundErr)
		}
		return nil, fmt.Errorf("%w: quoted %d, allowance %d", ErrFeeUnaffordable, fee, req.MaxFee)
	}

	// 6. Hand the envelope to the transport. A synchronous rejection means
	// nothing left this chain, so the debit is rolled back.
	envelope := transport.Envelope{
		MessageID:        intent.MessageID,
		Sender:           transport.SenderIdentity(s.chainID),
		SourceChain:      s.chainID,
		DestinationChain: req.DestinationChain,
		Payload:          encoded,
		SentAt:           payload.SentAt,
	}
	if err := s.courier.Send(ctx, envelope); err != nil {
		log.Printf("RequestRelocation: transport rejected message %s: %v", intent.MessageID, err)
		if refundErr := s.repo.FailIntentAndRefund(ctx, intent.ID, "transport rejected: "+err.Error()); refundErr != nil {
			log.Printf("CRITICAL: Failed to refund debited amount for user %s after transport rejection of message %s: %v", userID, intent.MessageID, refundErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportRejected, err)
	}

	// 7. The message is on the wire. Failing to record that must not fail the
	// request; the intent stays pending and the receipt can still resolve it.
	if err := s.repo.MarkIntentSent(ctx, intent.ID, fee); err != nil {
		log.Printf("CRITICAL: Failed to mark intent %s sent after message %s departed: %v", intent.ID, intent.MessageID, err)
	} else {
		intent.Status = domain.IntentStatusSent
		intent.Fee = fee
	}

	log.Printf("RequestRelocation: message %s sent to %s (fee %d)", intent.MessageID, req.DestinationChain, fee)
	return intent, nil
}

// IntentForUser retrieves one of the caller's outbound intents by message id.
// Intents belonging to other users are reported as not found.
func (s *Service) IntentForUser(ctx context.Context, userID uuid.UUID, messageID string) (*domain.OutboundIntent, error) {
	intent, err := s.repo.FindIntentByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != userID {
		return nil, store.ErrIntentNotFound
	}
	return intent, nil
}

// FindIntentByMessageID retrieves any outbound intent by message id, for
// operator use.
func (s *Service) FindIntentByMessageID(ctx context.Context, messageID string) (*domain.OutboundIntent, error) {
	return s.repo.FindIntentByMessageID(ctx, messageID)
}

// ListIntents returns intents in the given status, oldest first. With
// staleOnly set, only intents idle past the recovery timeout are returned.
func (s *Service) ListIntents(ctx context.Context, status string, staleOnly bool, limit int) ([]domain.OutboundIntent, error) {
	if limit <= 0 {
		limit = defaultIntentListLimit
	}
	var olderThan *time.Time
	if staleOnly {
		cutoff := time.Now().Add(-s.recoveryTimeout)
		olderThan = &cutoff
	}
	return s.repo.ListIntentsByStatus(ctx, status, olderThan, limit)
}

// ApplyInboundTransfer credits a validated inbound transfer exactly once and
// reports whether this delivery was a duplicate. Both fresh and duplicate
// deliveries send a receipt back to the source chain, since the source may
// have missed the first one.
func (s *Service) ApplyInboundTransfer(ctx context.Context, record domain.InboundRecord) (bool, error) {
	duplicate := false
	if err := s.repo.ApplyInboundCredit(ctx, record); err != nil {
		if !errors.Is(err, store.ErrDuplicateMessage) {
			return false, err
		}
		log.Printf("ApplyInboundTransfer: message %s already applied; treating redelivery as success", record.MessageID)
		duplicate = true
	} else {
		log.Printf("ApplyInboundTransfer: credited %d %s to user %s from %s (message %s)", record.Amount, record.Asset, record.UserID, record.SourceChain, record.MessageID)
	}

	status := transport.ReceiptStatusApplied
	if duplicate {
		status = transport.ReceiptStatusDuplicate
	}
	receipt := transport.DeliveryReceipt{
		MessageID:        record.MessageID,
		DestinationChain: s.chainID,
		Status:           status,
		ProcessedAt:      time.Now().UTC(),
	}
	// Receipts are best effort; the source's operators can recover a lost one.
	if err := s.courier.SendReceipt(ctx, record.SourceChain, receipt); err != nil {
		log.Printf("level=warn component=app msg=\"delivery receipt publish failed\" message_id=%s source_chain=%s err=%v", record.MessageID, record.SourceChain, err)
	}

	return duplicate, nil
}

// ResolveIntentFromReceipt closes the outbound intent named by a delivery
// receipt. Receipts for unknown or already-settled intents are ignored.
func (s *Service) ResolveIntentFromReceipt(ctx context.Context, receipt transport.DeliveryReceipt) error {
	resolved, err := s.repo.ResolveIntent(ctx, receipt.MessageID)
	if err != nil {
		return err
	}
	if !resolved {
		log.Printf("level=warn component=app msg=\"receipt for unknown or settled intent ignored\" message_id=%s status=%s", receipt.MessageID, receipt.Status)
		return nil
	}
	log.Printf("ResolveIntentFromReceipt: intent for message %s resolved (destination reported %s)", receipt.MessageID, receipt.Status)
	return nil
}

// DeployIdleFunds moves part of a user's available balance into a local yield
// strategy.
func (s *Service) DeployIdleFunds(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !s.assetSupported(asset) {
		return ErrUnsupportedAsset
	}

	// 1. Move the funds in the ledger first so they cannot be spent twice.
	if err := s.repo.DeployToStrategy(ctx, userID, asset, strategyID, amount); err != nil {
		return err
	}

	// 2. Push the funds into the venue. On failure the ledger move is undone.
	receipt, err := s.strategies.Deposit(ctx, strategyID, asset, amount)
	if err != nil {
		log.Printf("DeployIdleFunds: venue deposit into %s failed for user %s: %v", strategyID, userID, err)
		if rollbackErr := s.repo.ReturnFromStrategy(ctx, userID, asset, strategyID, amount); rollbackErr != nil {
			log.Printf("CRITICAL: Failed to return %d %s to available balance for user %s after venue deposit failure: %v", amount, asset, userID, rollbackErr)
		}
		return err
	}

	log.Printf("DeployIdleFunds: deployed %d %s for user %s into %s (receipt %s)", amount, asset, userID, strategyID, receipt)
	return nil
}

// WithdrawFromStrategy pulls funds out of a local yield strategy back into the
// user's available balance. The venue reports what it actually returned, which
// may be less than requested.
func (s *Service) WithdrawFromStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if !s.assetSupported(asset) {
		return 0, ErrUnsupportedAsset
	}

	// 1. Pull from the venue first; only what it actually pays out may be
	// credited back.
	actual, err := s.strategies.Withdraw(ctx, strategyID, asset, amount)
	if err != nil {
		return 0, err
	}
	if actual == 0 {
		log.Printf("level=warn component=app msg=\"venue returned nothing on withdrawal\" strategy_id=%s user_id=%s requested=%d", strategyID, userID, amount)
		return 0, nil
	}

	// 2. Record the return in the ledger.
	if err := s.repo.ReturnFromStrategy(ctx, userID, asset, strategyID, actual); err != nil {
		log.Printf("CRITICAL: Venue %s returned %d %s for user %s but recording the return failed: %v", strategyID, actual, asset, userID, err)
		return 0, err
	}

	log.Printf("WithdrawFromStrategy: returned %d %s to user %s from %s", actual, asset, userID, strategyID)
	return actual, nil
}

// MandateForUser retrieves the caller's relocation mandate for an asset.
func (s *Service) MandateForUser(ctx context.Context, userID uuid.UUID, asset string) (*domain.RelocationMandate, error) {
	if !s.assetSupported(asset) {
		return nil, ErrUnsupportedAsset
	}
	return s.repo.FindMandate(ctx, userID, asset)
}

// UpdateMandate creates or replaces the caller's relocation mandate.
func (s *Service) UpdateMandate(ctx context.Context, userID uuid.UUID, req domain.UpdateMandateRequest) error {
	if !s.assetSupported(req.Asset) {
		return ErrUnsupportedAsset
	}
	if req.MinIdleAmount < 0 {
		return ErrInvalidAmount
	}
	mandate := domain.RelocationMandate{
		UserID:        userID,
		Asset:         req.Asset,
		Enabled:       req.Enabled,
		MinIdleAmount: req.MinIdleAmount,
	}
	if err := s.repo.UpsertMandate(ctx, mandate); err != nil {
		return err
	}
	log.Printf("UpdateMandate: user %s set %s mandate enabled=%v min_idle=%d", userID, req.Asset, req.Enabled, req.MinIdleAmount)
	return nil
}

// DescribeStrategies returns the registered strategies and their current
// rates for an asset.
func (s *Service) DescribeStrategies(ctx context.Context, asset string) ([]domain.StrategyDescriptor, error) {
	if !s.assetSupported(asset) {
		return nil, ErrUnsupportedAsset
	}
	return s.strategies.Describe(ctx, asset), nil
}

// PauseStrategy stops a strategy from accepting new deposits.
func (s *Service) PauseStrategy(id string) error {
	if err := s.strategies.Pause(id); err != nil {
		return err
	}
	log.Printf("level=warn component=app msg=\"strategy paused by operator\" strategy_id=%s", id)
	return nil
}

// ResumeStrategy re-enables deposits into a paused strategy.
func (s *Service) ResumeStrategy(id string) error {
	if err := s.strategies.Resume(id); err != nil {
		return err
	}
	log.Printf("level=warn component=app msg=\"strategy resumed by operator\" strategy_id=%s", id)
	return nil
}

// ForceFailIntent refunds a sent intent whose delivery is presumed lost. The
// intent must have been idle past the recovery timeout; the refund is audited.
func (s *Service) ForceFailIntent(ctx context.Context, messageID, reason string) (*domain.OutboundIntent, error) {
	// 1. The intent must exist and have been stuck in sent for the whole
	// recovery window.
	intent, err := s.repo.FindIntentByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentStatusSent {
		return nil, store.ErrIntentNotRefundable
	}
	if idle := time.Since(intent.UpdatedAt); idle < s.recoveryTimeout {
		return nil, fmt.Errorf("%w: idle %s of required %s", ErrIntentNotStale, idle.Truncate(time.Second), s.recoveryTimeout)
	}

	// 2. Refund under a row lock; a receipt racing in ahead of us wins.
	refunded, err := s.repo.RefundIntentByOperator(ctx, messageID, reason)
	if err != nil {
		return nil, err
	}

	log.Printf("level=warn component=app msg=\"intent force-failed by operator\" message_id=%s user_id=%s amount=%d reason=%q", messageID, refunded.UserID, refunded.Amount, reason)
	return refunded, nil
}

// UpsertRemoteRates stores operator-reported rates for strategies on other
// chains.
func (s *Service) UpsertRemoteRates(ctx context.Context, rates []domain.RemoteRate) error {
	for _, rate := range rates {
		if !s.chainKnown(rate.ChainID) {
			return fmt.Errorf("%w: unknown chain %q", ErrInvalidRate, rate.ChainID)
		}
		if rate.ChainID == s.chainID {
			return fmt.Errorf("%w: local chain rates are read from the registry", ErrInvalidRate)
		}
		if !s.assetSupported(rate.Asset) {
			return fmt.Errorf("%w: unsupported asset %q", ErrInvalidRate, rate.Asset)
		}
		if rate.StrategyID == "" {
			return fmt.Errorf("%w: missing strategy id", ErrInvalidRate)
		}
		if rate.RateBps < 0 {
			return fmt.Errorf("%w: negative rate for %s/%s", ErrInvalidRate, rate.ChainID, rate.StrategyID)
		}
	}
	return s.repo.UpsertRemoteRates(ctx, rates)
}
