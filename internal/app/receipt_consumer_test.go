package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

type resolveRepoStub struct {
	store.Repository

	resolved   bool
	resolveErr error
	messageIDs []string
}

func (s *resolveRepoStub) ResolveIntent(ctx context.Context, messageID string) (bool, error) {
	s.messageIDs = append(s.messageIDs, messageID)
	return s.resolved, s.resolveErr
}

func newReceiptFixture(repo store.Repository) *ReceiptConsumer {
	service := NewService(
		repo,
		&courierStub{},
		&quoterStub{fee: 10},
		strategy.NewRegistry(),
		"chain-a",
		[]string{"chain-a", "chain-b"},
		[]string{"USDC"},
		time.Hour,
	)
	return NewReceiptConsumer(service)
}

func encodeReceipt(t *testing.T, messageID, status string) []byte {
	t.Helper()
	receipt := transport.DeliveryReceipt{
		MessageID:        messageID,
		DestinationChain: "chain-b",
		Status:           status,
		ProcessedAt:      time.Now().UTC(),
	}
	body, err := json.Marshal(receipt)
	if err != nil {
		t.Fatalf("failed to marshal receipt: %v", err)
	}
	return body
}

func TestReceiptConsumer_ResolvesSentIntent(t *testing.T) {
	repo := &resolveRepoStub{resolved: true}
	consumer := newReceiptFixture(repo)

	body := encodeReceipt(t, "m1", transport.ReceiptStatusApplied)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected receipt to be acknowledged")
	}
	if len(repo.messageIDs) != 1 || repo.messageIDs[0] != "m1" {
		t.Fatalf("expected one resolve for m1, got %v", repo.messageIDs)
	}
}

func TestReceiptConsumer_IgnoresReceiptForSettledIntent(t *testing.T) {
	repo := &resolveRepoStub{resolved: false}
	consumer := newReceiptFixture(repo)

	// A receipt replay for an already-resolved or refunded intent is logged
	// and dropped, never retried.
	body := encodeReceipt(t, "m1", transport.ReceiptStatusDuplicate)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected stale receipt to be acknowledged")
	}
	if len(repo.messageIDs) != 1 {
		t.Fatalf("expected one resolve attempt, got %d", len(repo.messageIDs))
	}
}

func TestReceiptConsumer_RequeuesOnStoreFailure(t *testing.T) {
	repo := &resolveRepoStub{resolveErr: errors.New("connection refused")}
	consumer := newReceiptFixture(repo)

	body := encodeReceipt(t, "m1", transport.ReceiptStatusApplied)
	if consumer.HandleMessage(body) {
		t.Fatal("expected store failure to requeue the receipt")
	}
}

func TestReceiptConsumer_DropsInvalidJSON(t *testing.T) {
	repo := &resolveRepoStub{}
	consumer := newReceiptFixture(repo)

	if !consumer.HandleMessage([]byte("not json")) {
		t.Fatal("expected invalid JSON to be acknowledged and dropped")
	}
	if len(repo.messageIDs) != 0 {
		t.Fatal("expected no resolve attempt for invalid JSON")
	}
}

func TestReceiptConsumer_DropsMissingMessageID(t *testing.T) {
	repo := &resolveRepoStub{}
	consumer := newReceiptFixture(repo)

	body := encodeReceipt(t, "", transport.ReceiptStatusApplied)
	if !consumer.HandleMessage(body) {
		t.Fatal("expected receipt without message id to be acknowledged and dropped")
	}
	if len(repo.messageIDs) != 0 {
		t.Fatal("expected no resolve attempt without a message id")
	}
}
