package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

type relocationRepoStub struct {
	store.Repository

	debitErr    error
	debitCalled bool

	markSentErr    error
	markSentCalled bool
	markSentFee    int64

	refundCalled bool
	refundReason string
}

func (s *relocationRepoStub) DebitForRelocation(ctx context.Context, intent *domain.OutboundIntent) error {
	s.debitCalled = true
	if s.debitErr != nil {
		return s.debitErr
	}
	intent.Status = domain.IntentStatusPending
	return nil
}

func (s *relocationRepoStub) MarkIntentSent(ctx context.Context, intentID uuid.UUID, fee int64) error {
	s.markSentCalled = true
	s.markSentFee = fee
	return s.markSentErr
}

func (s *relocationRepoStub) FailIntentAndRefund(ctx context.Context, intentID uuid.UUID, reason string) error {
	s.refundCalled = true
	s.refundReason = reason
	return nil
}

type courierStub struct {
	sendErr  error
	sent     []transport.Envelope
	receipts []transport.DeliveryReceipt
}

func (c *courierStub) Send(ctx context.Context, envelope transport.Envelope) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, envelope)
	return nil
}

func (c *courierStub) SendReceipt(ctx context.Context, sourceChain string, receipt transport.DeliveryReceipt) error {
	c.receipts = append(c.receipts, receipt)
	return nil
}

func (c *courierStub) Close() {}

type quoterStub struct {
	fee int64
	err error
}

func (q *quoterStub) QuoteFee(ctx context.Context, destinationChain string, payloadSize int) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.fee, nil
}

func (q *quoterStub) SupportsDestination(chainID string) bool { return true }

type rateLimiterStub struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (l *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, l.retryAfter, l.err
}

func newRelocationService(repo store.Repository, courier transport.Courier, quoter transport.FeeQuoter) *Service {
	return NewService(
		repo,
		courier,
		quoter,
		strategy.NewRegistry(),
		"chain-a",
		[]string{"chain-a", "chain-b"},
		[]string{"USDC"},
		time.Hour,
	)
}

func validRelocationRequest() domain.RelocationRequest {
	return domain.RelocationRequest{
		Asset:            "USDC",
		Amount:           4000,
		DestinationChain: "chain-b",
		MaxFee:           100,
	}
}

func TestRequestRelocation_ValidationRejectsBeforeTouchingState(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RelocationRequest)
		wantErr error
	}{
		{
			name:    "zero amount",
			mutate:  func(r *domain.RelocationRequest) { r.Amount = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			mutate:  func(r *domain.RelocationRequest) { r.Amount = -5 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unsupported asset",
			mutate:  func(r *domain.RelocationRequest) { r.Asset = "DOGE" },
			wantErr: ErrUnsupportedAsset,
		},
		{
			name:    "unknown destination",
			mutate:  func(r *domain.RelocationRequest) { r.DestinationChain = "chain-z" },
			wantErr: transport.ErrUnknownDestination,
		},
		{
			name:    "destination equals source",
			mutate:  func(r *domain.RelocationRequest) { r.DestinationChain = "chain-a" },
			wantErr: ErrSameChainRelocation,
		},
		{
			name:    "negative fee allowance",
			mutate:  func(r *domain.RelocationRequest) { r.MaxFee = -1 },
			wantErr: ErrNegativeFeeAllowance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &relocationRepoStub{}
			courier := &courierStub{}
			service := newRelocationService(repo, courier, &quoterStub{fee: 10})

			req := validRelocationRequest()
			tt.mutate(&req)

			_, err := service.RequestRelocation(context.Background(), uuid.New(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.debitCalled {
				t.Fatal("expected no debit for an invalid request")
			}
			if len(courier.sent) != 0 {
				t.Fatal("expected no message for an invalid request")
			}
		})
	}
}

func TestRequestRelocation_InsufficientBalancePassesThrough(t *testing.T) {
	repo := &relocationRepoStub{debitErr: store.ErrInsufficientBalance}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})

	_, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(courier.sent) != 0 {
		t.Fatal("expected no message when the debit fails")
	}
	if repo.refundCalled {
		t.Fatal("expected no refund when nothing was debited")
	}
}

func TestRequestRelocation_OpenIntentConflictPassesThrough(t *testing.T) {
	repo := &relocationRepoStub{debitErr: store.ErrRelocationInFlight}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})

	_, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if !errors.Is(err, store.ErrRelocationInFlight) {
		t.Fatalf("expected ErrRelocationInFlight, got %v", err)
	}
	if len(courier.sent) != 0 {
		t.Fatal("expected no message when an intent is already open")
	}
}

func TestRequestRelocation_UnaffordableFeeRefundsDebit(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 500})

	req := validRelocationRequest()
	req.MaxFee = 100

	_, err := service.RequestRelocation(context.Background(), uuid.New(), req)
	if !errors.Is(err, ErrFeeUnaffordable) {
		t.Fatalf("expected ErrFeeUnaffordable, got %v", err)
	}
	if !repo.refundCalled {
		t.Fatal("expected the debit to be refunded when the fee is unaffordable")
	}
	if repo.refundReason == "" {
		t.Fatal("expected the refund to record why the intent failed")
	}
	if len(courier.sent) != 0 {
		t.Fatal("expected no message when the fee is unaffordable")
	}
	if repo.markSentCalled {
		t.Fatal("expected intent not to be marked sent")
	}
}

func TestRequestRelocation_QuoteFailureRefundsDebit(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	quoteErr := errors.New("schedule unavailable")
	service := newRelocationService(repo, courier, &quoterStub{err: quoteErr})

	_, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if !errors.Is(err, quoteErr) {
		t.Fatalf("expected quote error, got %v", err)
	}
	if !repo.refundCalled {
		t.Fatal("expected the debit to be refunded when the quote fails")
	}
	if len(courier.sent) != 0 {
		t.Fatal("expected no message when the quote fails")
	}
}

func TestRequestRelocation_TransportRejectionRefundsDebit(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{sendErr: errors.New("exchange gone")}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})

	_, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if !errors.Is(err, ErrTransportRejected) {
		t.Fatalf("expected ErrTransportRejected, got %v", err)
	}
	if !repo.refundCalled {
		t.Fatal("expected the debit to be refunded after a synchronous rejection")
	}
	if repo.markSentCalled {
		t.Fatal("expected intent not to be marked sent after a rejection")
	}
}

func TestRequestRelocation_SuccessSendsAndMarksSent(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 25})
	userID := uuid.New()

	intent, err := service.RequestRelocation(context.Background(), userID, validRelocationRequest())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if intent.Status != domain.IntentStatusSent {
		t.Fatalf("expected status %q, got %q", domain.IntentStatusSent, intent.Status)
	}
	if intent.Fee != 25 {
		t.Fatalf("expected fee 25, got %d", intent.Fee)
	}
	if intent.MessageID == "" {
		t.Fatal("expected a message id on the intent")
	}
	if repo.refundCalled {
		t.Fatal("expected no refund on success")
	}
	if !repo.markSentCalled || repo.markSentFee != 25 {
		t.Fatalf("expected intent marked sent with fee 25, got called=%v fee=%d", repo.markSentCalled, repo.markSentFee)
	}

	if len(courier.sent) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(courier.sent))
	}
	envelope := courier.sent[0]
	if envelope.MessageID != intent.MessageID {
		t.Fatalf("expected envelope message id %s, got %s", intent.MessageID, envelope.MessageID)
	}
	if envelope.Sender != transport.SenderIdentity("chain-a") {
		t.Fatalf("expected sender identity for chain-a, got %q", envelope.Sender)
	}
	payload, err := transport.DecodeTransferPayload(envelope.Payload)
	if err != nil {
		t.Fatalf("expected a decodable payload, got %v", err)
	}
	if payload.UserID != userID || payload.Amount != 4000 || payload.Asset != "USDC" {
		t.Fatalf("unexpected payload contents: %+v", payload)
	}
	if payload.SourceChain != "chain-a" || payload.DestinationChain != "chain-b" {
		t.Fatalf("unexpected payload routing: %+v", payload)
	}
}

func TestRequestRelocation_FreshMessageIDPerAttempt(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})
	userID := uuid.New()

	first, err := service.RequestRelocation(context.Background(), userID, validRelocationRequest())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := service.RequestRelocation(context.Background(), userID, validRelocationRequest())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if first.MessageID == second.MessageID {
		t.Fatalf("expected a fresh message id per attempt, got %s twice", first.MessageID)
	}
	if first.ID == second.ID {
		t.Fatal("expected a fresh intent id per attempt")
	}
}

func TestRequestRelocation_RateLimitExceeded(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})
	limiter := &rateLimiterStub{count: 11, retryAfter: 42}
	service.SetRelocationRateLimiter(limiter, 10)

	_, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if !errors.Is(err, ErrRelocationRateLimited) {
		t.Fatalf("expected ErrRelocationRateLimited, got %v", err)
	}
	if repo.debitCalled {
		t.Fatal("expected no debit when rate limited")
	}
	if len(courier.sent) != 0 {
		t.Fatal("expected no message when rate limited")
	}
}

func TestRequestRelocation_RateLimiterOutageFailsOpen(t *testing.T) {
	repo := &relocationRepoStub{}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})
	limiter := &rateLimiterStub{err: errors.New("redis down")}
	service.SetRelocationRateLimiter(limiter, 10)

	intent, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if err != nil {
		t.Fatalf("expected the limiter outage to fail open, got %v", err)
	}
	if intent.Status != domain.IntentStatusSent {
		t.Fatalf("expected status %q, got %q", domain.IntentStatusSent, intent.Status)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected one limiter call, got %d", limiter.calls)
	}
}

func TestRequestRelocation_MarkSentFailureStillReportsDeparture(t *testing.T) {
	repo := &relocationRepoStub{markSentErr: errors.New("db blip")}
	courier := &courierStub{}
	service := newRelocationService(repo, courier, &quoterStub{fee: 10})

	intent, err := service.RequestRelocation(context.Background(), uuid.New(), validRelocationRequest())
	if err != nil {
		t.Fatalf("expected nil error once the message departed, got %v", err)
	}
	// The message is on the wire; the intent stays pending until the receipt
	// or the recovery path settles it.
	if intent.Status != domain.IntentStatusPending {
		t.Fatalf("expected status %q, got %q", domain.IntentStatusPending, intent.Status)
	}
	if len(courier.sent) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(courier.sent))
	}
	if repo.refundCalled {
		t.Fatal("expected no refund after the message departed")
	}
}
