package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/internal/strategy"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

// memoryLedger is a full in-memory Repository used to run whole relocation
// round trips between two service instances without a database.
type memoryLedger struct {
	mu        sync.Mutex
	balances  map[balanceKey]int64
	positions map[positionKey]int64
	intents   map[uuid.UUID]*domain.OutboundIntent
	byMessage map[string]uuid.UUID
	inbound   map[string]domain.InboundRecord
	mandates  map[balanceKey]domain.RelocationMandate
	rates     map[rateKey]domain.RemoteRate
	entries   []domain.LedgerEntry
}

type balanceKey struct {
	userID uuid.UUID
	asset  string
}

type positionKey struct {
	userID     uuid.UUID
	asset      string
	strategyID string
}

type rateKey struct {
	chainID    string
	asset      string
	strategyID string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		balances:  make(map[balanceKey]int64),
		positions: make(map[positionKey]int64),
		intents:   make(map[uuid.UUID]*domain.OutboundIntent),
		byMessage: make(map[string]uuid.UUID),
		inbound:   make(map[string]domain.InboundRecord),
		mandates:  make(map[balanceKey]domain.RelocationMandate),
		rates:     make(map[rateKey]domain.RemoteRate),
	}
}

func (m *memoryLedger) appendEntry(userID uuid.UUID, asset, entryType string, amount int64, referenceID *string) {
	m.entries = append(m.entries, domain.LedgerEntry{
		ID:          uuid.New(),
		UserID:      userID,
		Asset:       asset,
		EntryType:   entryType,
		Amount:      amount,
		ReferenceID: referenceID,
		CreatedAt:   time.Now().UTC(),
	})
}

func (m *memoryLedger) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	available, ok := m.balances[balanceKey{userID, asset}]
	if !ok {
		return nil, store.ErrBalanceNotFound
	}
	return &domain.Balance{UserID: userID, Asset: asset, Available: available}, nil
}

func (m *memoryLedger) ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var balances []domain.Balance
	for key, available := range m.balances {
		if key.userID == userID {
			balances = append(balances, domain.Balance{UserID: userID, Asset: key.asset, Available: available})
		}
	}
	return balances, nil
}

func (m *memoryLedger) RecordDeposit(ctx context.Context, userID uuid.UUID, asset string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{userID, asset}] += amount
	m.appendEntry(userID, asset, domain.EntryTypeDeposit, amount, nil)
	return nil
}

func (m *memoryLedger) RecordWithdrawal(ctx context.Context, userID uuid.UUID, asset string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{userID, asset}
	available, ok := m.balances[key]
	if !ok {
		return store.ErrBalanceNotFound
	}
	if available < amount {
		return store.ErrInsufficientBalance
	}
	m.balances[key] = available - amount
	m.appendEntry(userID, asset, domain.EntryTypeWithdrawal, amount, nil)
	return nil
}

func (m *memoryLedger) DebitForRelocation(ctx context.Context, intent *domain.OutboundIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, open := range m.intents {
		if open.UserID == intent.UserID && open.Asset == intent.Asset && open.DestinationChain == intent.DestinationChain &&
			(open.Status == domain.IntentStatusPending || open.Status == domain.IntentStatusSent) {
			return store.ErrRelocationInFlight
		}
	}
	key := balanceKey{intent.UserID, intent.Asset}
	available, ok := m.balances[key]
	if !ok {
		return store.ErrBalanceNotFound
	}
	if available < intent.Amount {
		return store.ErrInsufficientBalance
	}
	m.balances[key] = available - intent.Amount

	intent.Status = domain.IntentStatusPending
	intent.CreatedAt = time.Now().UTC()
	intent.UpdatedAt = intent.CreatedAt
	stored := *intent
	m.intents[intent.ID] = &stored
	m.byMessage[intent.MessageID] = intent.ID
	m.appendEntry(intent.UserID, intent.Asset, domain.EntryTypeRelocationDebit, intent.Amount, &stored.MessageID)
	return nil
}

func (m *memoryLedger) MarkIntentSent(ctx context.Context, intentID uuid.UUID, fee int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok || intent.Status != domain.IntentStatusPending {
		return store.ErrIntentNotFound
	}
	intent.Status = domain.IntentStatusSent
	intent.Fee = fee
	intent.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryLedger) FailIntentAndRefund(ctx context.Context, intentID uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok || intent.Status != domain.IntentStatusPending {
		return store.ErrIntentNotFound
	}
	intent.Status = domain.IntentStatusFailed
	intent.FailureReason = &reason
	intent.UpdatedAt = time.Now().UTC()
	m.balances[balanceKey{intent.UserID, intent.Asset}] += intent.Amount
	m.appendEntry(intent.UserID, intent.Asset, domain.EntryTypeRelocationRefund, intent.Amount, &intent.MessageID)
	return nil
}

func (m *memoryLedger) ResolveIntent(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intentID, ok := m.byMessage[messageID]
	if !ok {
		return false, nil
	}
	intent := m.intents[intentID]
	if intent.Status != domain.IntentStatusPending && intent.Status != domain.IntentStatusSent {
		return false, nil
	}
	intent.Status = domain.IntentStatusResolved
	intent.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryLedger) RefundIntentByOperator(ctx context.Context, messageID, reason string) (*domain.OutboundIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intentID, ok := m.byMessage[messageID]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	intent := m.intents[intentID]
	if intent.Status != domain.IntentStatusSent {
		return nil, store.ErrIntentNotRefundable
	}
	intent.Status = domain.IntentStatusRefunded
	intent.FailureReason = &reason
	intent.UpdatedAt = time.Now().UTC()
	m.balances[balanceKey{intent.UserID, intent.Asset}] += intent.Amount
	m.appendEntry(intent.UserID, intent.Asset, domain.EntryTypeAdminRefund, intent.Amount, &intent.MessageID)
	copied := *intent
	return &copied, nil
}

func (m *memoryLedger) FindIntentByMessageID(ctx context.Context, messageID string) (*domain.OutboundIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intentID, ok := m.byMessage[messageID]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	copied := *m.intents[intentID]
	return &copied, nil
}

func (m *memoryLedger) ListIntentsByStatus(ctx context.Context, status string, olderThan *time.Time, limit int) ([]domain.OutboundIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var intents []domain.OutboundIntent
	for _, intent := range m.intents {
		if intent.Status != status {
			continue
		}
		if olderThan != nil && !intent.UpdatedAt.Before(*olderThan) {
			continue
		}
		intents = append(intents, *intent)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i].UpdatedAt.Before(intents[j].UpdatedAt) })
	if limit > 0 && len(intents) > limit {
		intents = intents[:limit]
	}
	return intents, nil
}

func (m *memoryLedger) ApplyInboundCredit(ctx context.Context, record domain.InboundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inbound[record.MessageID]; ok {
		return store.ErrDuplicateMessage
	}
	record.ProcessedAt = time.Now().UTC()
	m.inbound[record.MessageID] = record
	m.balances[balanceKey{record.UserID, record.Asset}] += record.Amount
	m.appendEntry(record.UserID, record.Asset, domain.EntryTypeInboundCredit, record.Amount, &record.MessageID)
	return nil
}

func (m *memoryLedger) DeployToStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{userID, asset}
	available, ok := m.balances[key]
	if !ok {
		return store.ErrBalanceNotFound
	}
	if available < amount {
		return store.ErrInsufficientBalance
	}
	m.balances[key] = available - amount
	m.positions[positionKey{userID, asset, strategyID}] += amount
	m.appendEntry(userID, asset, domain.EntryTypeDeploy, amount, &strategyID)
	return nil
}

func (m *memoryLedger) ReturnFromStrategy(ctx context.Context, userID uuid.UUID, asset, strategyID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey{userID, asset, strategyID}
	deployed := m.positions[key]
	if deployed < amount {
		return store.ErrInsufficientPosition
	}
	m.positions[key] = deployed - amount
	m.balances[balanceKey{userID, asset}] += amount
	m.appendEntry(userID, asset, domain.EntryTypeUndeploy, amount, &strategyID)
	return nil
}

func (m *memoryLedger) ListPositionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.StrategyPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var positions []domain.StrategyPosition
	for key, deployed := range m.positions {
		if key.userID == userID && deployed > 0 {
			positions = append(positions, domain.StrategyPosition{
				UserID: userID, Asset: key.asset, StrategyID: key.strategyID, Deployed: deployed,
			})
		}
	}
	return positions, nil
}

func (m *memoryLedger) FindMandate(ctx context.Context, userID uuid.UUID, asset string) (*domain.RelocationMandate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mandate, ok := m.mandates[balanceKey{userID, asset}]
	if !ok {
		return nil, store.ErrMandateNotFound
	}
	return &mandate, nil
}

func (m *memoryLedger) UpsertMandate(ctx context.Context, mandate domain.RelocationMandate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mandate.UpdatedAt = time.Now().UTC()
	m.mandates[balanceKey{mandate.UserID, mandate.Asset}] = mandate
	return nil
}

func (m *memoryLedger) ListEnabledMandates(ctx context.Context) ([]domain.RelocationMandate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mandates []domain.RelocationMandate
	for _, mandate := range m.mandates {
		if mandate.Enabled {
			mandates = append(mandates, mandate)
		}
	}
	return mandates, nil
}

func (m *memoryLedger) UpsertRemoteRates(ctx context.Context, rates []domain.RemoteRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rate := range rates {
		if rate.ReportedAt.IsZero() {
			rate.ReportedAt = time.Now().UTC()
		}
		m.rates[rateKey{rate.ChainID, rate.Asset, rate.StrategyID}] = rate
	}
	return nil
}

func (m *memoryLedger) ListFreshRemoteRates(ctx context.Context, asset string, since time.Time) ([]domain.RemoteRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rates []domain.RemoteRate
	for _, rate := range m.rates {
		if rate.Asset == asset && rate.ReportedAt.After(since) {
			rates = append(rates, rate)
		}
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].RateBps > rates[j].RateBps })
	return rates, nil
}

func (m *memoryLedger) DeleteRemoteRatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, rate := range m.rates {
		if rate.ReportedAt.Before(cutoff) {
			delete(m.rates, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryLedger) ListLedgerEntriesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var entries []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.entries[i].UserID == userID {
			entries = append(entries, m.entries[i])
		}
	}
	return entries, nil
}

// backdateIntent ages an intent so recovery-timeout paths can be exercised.
func (m *memoryLedger) backdateIntent(messageID string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intentID, ok := m.byMessage[messageID]; ok {
		m.intents[intentID].UpdatedAt = time.Now().Add(-age)
	}
}

// testTransport is an in-memory broker connecting the nodes of a test
// cluster. Messages queue until flush so sends stay asynchronous, the way the
// real broker behaves.
type testTransport struct {
	mu         sync.Mutex
	deliveries map[string]func([]byte) bool
	receipts   map[string]func([]byte) bool
	reject     bool
	drop       bool
	queue      []queuedFrame

	lastDelivery []byte
}

type queuedFrame struct {
	chain     string
	body      []byte
	isReceipt bool
}

func newTestTransport() *testTransport {
	return &testTransport{
		deliveries: make(map[string]func([]byte) bool),
		receipts:   make(map[string]func([]byte) bool),
	}
}

func (n *testTransport) register(chain string, delivery, receipt func([]byte) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries[chain] = delivery
	n.receipts[chain] = receipt
}

func (n *testTransport) Send(ctx context.Context, envelope transport.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reject {
		return errors.New("transport unavailable")
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	n.lastDelivery = body
	if n.drop {
		return nil
	}
	n.queue = append(n.queue, queuedFrame{chain: envelope.DestinationChain, body: body})
	return nil
}

func (n *testTransport) SendReceipt(ctx context.Context, sourceChain string, receipt transport.DeliveryReceipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	body, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	n.queue = append(n.queue, queuedFrame{chain: sourceChain, body: body, isReceipt: true})
	return nil
}

func (n *testTransport) Close() {}

// flush drains the queue, including frames enqueued while draining.
func (n *testTransport) flush() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		frame := n.queue[0]
		n.queue = n.queue[1:]
		var handler func([]byte) bool
		if frame.isReceipt {
			handler = n.receipts[frame.chain]
		} else {
			handler = n.deliveries[frame.chain]
		}
		n.mu.Unlock()
		if handler != nil {
			handler(frame.body)
		}
	}
}

type chainNode struct {
	chain    string
	ledger   *memoryLedger
	service  *Service
	delivery *DeliveryConsumer
	receipts *ReceiptConsumer
}

func newChainNode(chain string, network *testTransport, registry *strategy.Registry) *chainNode {
	ledger := newMemoryLedger()
	quoter := transport.NewScheduleFeeQuoter(
		transport.FeePolicy{BaseFee: 5, PerByte: 0},
		nil,
		[]string{"chain-a", "chain-b"},
	)
	service := NewService(
		ledger,
		network,
		quoter,
		registry,
		chain,
		[]string{"chain-a", "chain-b"},
		[]string{"USDC"},
		time.Hour,
	)
	node := &chainNode{
		chain:    chain,
		ledger:   ledger,
		service:  service,
		delivery: NewDeliveryConsumer(service, chain),
		receipts: NewReceiptConsumer(service),
	}
	network.register(chain, node.delivery.HandleMessage, node.receipts.HandleMessage)
	return node
}

func newTestCluster() (*chainNode, *chainNode, *testTransport) {
	network := newTestTransport()
	nodeA := newChainNode("chain-a", network, strategy.NewRegistry())
	nodeB := newChainNode("chain-b", network, strategy.NewRegistry())
	return nodeA, nodeB, network
}

func availableOf(t *testing.T, node *chainNode, userID uuid.UUID) int64 {
	t.Helper()
	balance, err := node.ledger.GetBalance(context.Background(), userID, "USDC")
	if err != nil {
		if errors.Is(err, store.ErrBalanceNotFound) {
			return 0
		}
		t.Fatalf("failed to read balance on %s: %v", node.chain, err)
	}
	return balance.Available
}

func deployedOf(t *testing.T, node *chainNode, userID uuid.UUID) int64 {
	t.Helper()
	positions, err := node.ledger.ListPositionsByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read positions on %s: %v", node.chain, err)
	}
	var total int64
	for _, position := range positions {
		total += position.Deployed
	}
	return total
}

func openIntentTotal(t *testing.T, node *chainNode) int64 {
	t.Helper()
	var total int64
	for _, status := range []string{domain.IntentStatusPending, domain.IntentStatusSent} {
		intents, err := node.ledger.ListIntentsByStatus(context.Background(), status, nil, 0)
		if err != nil {
			t.Fatalf("failed to list %s intents on %s: %v", status, node.chain, err)
		}
		for _, intent := range intents {
			total += intent.Amount
		}
	}
	return total
}

// conservedTotal sums balances, deployed positions, and funds locked in open
// intents across the cluster. It must always equal deposits minus withdrawals.
func conservedTotal(t *testing.T, userID uuid.UUID, nodes ...*chainNode) int64 {
	t.Helper()
	var total int64
	for _, node := range nodes {
		total += availableOf(t, node, userID) + deployedOf(t, node, userID) + openIntentTotal(t, node)
	}
	return total
}

func TestRelocation_MovesBalanceAcrossChains(t *testing.T) {
	nodeA, nodeB, network := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	intent, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 40, DestinationChain: "chain-b", MaxFee: 10,
	})
	if err != nil {
		t.Fatalf("relocation failed: %v", err)
	}
	if intent.Status != domain.IntentStatusSent {
		t.Fatalf("expected sent intent, got %q", intent.Status)
	}
	if got := availableOf(t, nodeA, userID); got != 60 {
		t.Fatalf("expected source balance 60 after debit, got %d", got)
	}
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 100 {
		t.Fatalf("expected conserved total 100 while in flight, got %d", got)
	}

	// Deliver the message and its receipt.
	network.flush()

	if got := availableOf(t, nodeB, userID); got != 40 {
		t.Fatalf("expected destination balance 40, got %d", got)
	}
	settled, err := nodeA.ledger.FindIntentByMessageID(ctx, intent.MessageID)
	if err != nil {
		t.Fatalf("failed to reload intent: %v", err)
	}
	if settled.Status != domain.IntentStatusResolved {
		t.Fatalf("expected resolved intent after receipt, got %q", settled.Status)
	}
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 100 {
		t.Fatalf("expected conserved total 100 after settlement, got %d", got)
	}
}

func TestRelocation_RedeliveredMessageCreditsOnce(t *testing.T) {
	nodeA, nodeB, network := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 40, DestinationChain: "chain-b", MaxFee: 10,
	}); err != nil {
		t.Fatalf("relocation failed: %v", err)
	}
	network.flush()

	if got := availableOf(t, nodeB, userID); got != 40 {
		t.Fatalf("expected destination balance 40, got %d", got)
	}

	// Redeliver the very same frame; the credit must not repeat.
	if !nodeB.delivery.HandleMessage(network.lastDelivery) {
		t.Fatal("expected redelivery to be acknowledged")
	}
	network.flush()

	if got := availableOf(t, nodeB, userID); got != 40 {
		t.Fatalf("expected destination balance to stay 40 after redelivery, got %d", got)
	}
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 100 {
		t.Fatalf("expected conserved total 100 after redelivery, got %d", got)
	}
}

func TestRelocation_InsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	nodeA, nodeB, network := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 60}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	_, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 200, DestinationChain: "chain-b", MaxFee: 10,
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := availableOf(t, nodeA, userID); got != 60 {
		t.Fatalf("expected balance to stay 60, got %d", got)
	}
	if got := openIntentTotal(t, nodeA); got != 0 {
		t.Fatalf("expected no open intents, got %d locked", got)
	}
	network.flush()
	if got := availableOf(t, nodeB, userID); got != 0 {
		t.Fatalf("expected nothing delivered, got %d", got)
	}
}

func TestRelocation_SynchronousRejectionRestoresBalance(t *testing.T) {
	nodeA, nodeB, network := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	network.reject = true
	_, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 40, DestinationChain: "chain-b", MaxFee: 10,
	})
	if !errors.Is(err, ErrTransportRejected) {
		t.Fatalf("expected ErrTransportRejected, got %v", err)
	}

	// The rejection must restore the ledger to the pre-request state exactly.
	if got := availableOf(t, nodeA, userID); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}
	if got := openIntentTotal(t, nodeA); got != 0 {
		t.Fatalf("expected no open intents after rejection, got %d locked", got)
	}

	failed, err := nodeA.ledger.ListIntentsByStatus(ctx, domain.IntentStatusFailed, nil, 0)
	if err != nil {
		t.Fatalf("failed to list failed intents: %v", err)
	}
	if len(failed) != 1 || failed[0].FailureReason == nil {
		t.Fatalf("expected one failed intent carrying a reason, got %+v", failed)
	}

	// A retry after the transport recovers gets a fresh message id.
	network.reject = false
	retried, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 40, DestinationChain: "chain-b", MaxFee: 10,
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.MessageID == failed[0].MessageID {
		t.Fatal("expected the retry to use a fresh message id")
	}
	network.flush()
	if got := availableOf(t, nodeB, userID); got != 40 {
		t.Fatalf("expected destination balance 40 after retry, got %d", got)
	}
}

func TestRelocation_SecondOpenIntentForSameLaneRejected(t *testing.T) {
	nodeA, _, _ := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 30, DestinationChain: "chain-b", MaxFee: 10,
	}); err != nil {
		t.Fatalf("first relocation failed: %v", err)
	}

	// The first intent is still open (message not yet settled).
	_, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 25, DestinationChain: "chain-b", MaxFee: 10,
	})
	if !errors.Is(err, store.ErrRelocationInFlight) {
		t.Fatalf("expected ErrRelocationInFlight, got %v", err)
	}
	if got := availableOf(t, nodeA, userID); got != 70 {
		t.Fatalf("expected only the first debit, balance 70, got %d", got)
	}
}

func TestForceFail_RefundsLostIntentAfterTimeout(t *testing.T) {
	nodeA, nodeB, network := newTestCluster()
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// The message leaves but never arrives.
	network.drop = true
	intent, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 40, DestinationChain: "chain-b", MaxFee: 10,
	})
	if err != nil {
		t.Fatalf("relocation failed: %v", err)
	}
	network.flush()
	if got := availableOf(t, nodeB, userID); got != 0 {
		t.Fatalf("expected the delivery to be lost, destination got %d", got)
	}

	// Too early: the recovery timeout has not elapsed.
	if _, err := nodeA.service.ForceFailIntent(ctx, intent.MessageID, "stuck"); !errors.Is(err, ErrIntentNotStale) {
		t.Fatalf("expected ErrIntentNotStale before the timeout, got %v", err)
	}

	nodeA.ledger.backdateIntent(intent.MessageID, 2*time.Hour)

	refunded, err := nodeA.service.ForceFailIntent(ctx, intent.MessageID, "delivery presumed lost")
	if err != nil {
		t.Fatalf("force-fail failed: %v", err)
	}
	if refunded.Status != domain.IntentStatusRefunded {
		t.Fatalf("expected refunded status, got %q", refunded.Status)
	}
	if got := availableOf(t, nodeA, userID); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}

	// A second force-fail must not double-refund.
	if _, err := nodeA.service.ForceFailIntent(ctx, intent.MessageID, "again"); !errors.Is(err, store.ErrIntentNotRefundable) {
		t.Fatalf("expected ErrIntentNotRefundable on repeat, got %v", err)
	}
	if got := availableOf(t, nodeA, userID); got != 100 {
		t.Fatalf("expected balance to stay 100, got %d", got)
	}

	// A receipt straggling in after the refund is ignored.
	body, _ := json.Marshal(transport.DeliveryReceipt{
		MessageID: intent.MessageID, DestinationChain: "chain-b",
		Status: transport.ReceiptStatusApplied, ProcessedAt: time.Now().UTC(),
	})
	if !nodeA.receipts.HandleMessage(body) {
		t.Fatal("expected the stale receipt to be acknowledged")
	}
	settled, err := nodeA.ledger.FindIntentByMessageID(ctx, intent.MessageID)
	if err != nil {
		t.Fatalf("failed to reload intent: %v", err)
	}
	if settled.Status != domain.IntentStatusRefunded {
		t.Fatalf("expected intent to stay refunded, got %q", settled.Status)
	}
}

func TestConservation_AcrossMixedOperations(t *testing.T) {
	network := newTestTransport()
	registryA := strategy.NewRegistry()
	registryA.Register("savings-vault", strategy.NewSavingsVault(300, 0))
	nodeA := newChainNode("chain-a", network, registryA)
	nodeB := newChainNode("chain-b", network, strategy.NewRegistry())
	userID := uuid.New()
	ctx := context.Background()

	if err := nodeA.service.Deposit(ctx, userID, domain.DepositRequest{Asset: "USDC", Amount: 100}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := nodeA.service.DeployIdleFunds(ctx, userID, "USDC", "savings-vault", 20); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if _, err := nodeA.service.RequestRelocation(ctx, userID, domain.RelocationRequest{
		Asset: "USDC", Amount: 30, DestinationChain: "chain-b", MaxFee: 10,
	}); err != nil {
		t.Fatalf("relocation failed: %v", err)
	}

	// In flight: 50 available + 20 deployed + 30 locked in the intent.
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 100 {
		t.Fatalf("expected conserved total 100 in flight, got %d", got)
	}

	network.flush()
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 100 {
		t.Fatalf("expected conserved total 100 after settlement, got %d", got)
	}

	withdrawnFromVault, err := nodeA.service.WithdrawFromStrategy(ctx, userID, "USDC", "savings-vault", 20)
	if err != nil {
		t.Fatalf("strategy withdrawal failed: %v", err)
	}
	if withdrawnFromVault != 20 {
		t.Fatalf("expected the vault to pay out 20, got %d", withdrawnFromVault)
	}
	if err := nodeA.service.Withdraw(ctx, userID, domain.WithdrawRequest{Asset: "USDC", Amount: 10}); err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}

	// 100 deposited minus 10 withdrawn.
	if got := conservedTotal(t, userID, nodeA, nodeB); got != 90 {
		t.Fatalf("expected conserved total 90 after withdrawal, got %d", got)
	}
	if got := availableOf(t, nodeA, userID); got != 60 {
		t.Fatalf("expected source balance 60, got %d", got)
	}
	if got := availableOf(t, nodeB, userID); got != 30 {
		t.Fatalf("expected destination balance 30, got %d", got)
	}
}
