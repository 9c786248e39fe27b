package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/yieldrelay/ledger-service/pkg/transport"
)

// ReceiptConsumer handles delivery receipts coming back from destination
// chains and resolves the matching outbound intents.
type ReceiptConsumer struct {
	service *Service
}

func NewReceiptConsumer(service *Service) *ReceiptConsumer {
	return &ReceiptConsumer{service: service}
}

func (c *ReceiptConsumer) HandleMessage(body []byte) bool {
	var receipt transport.DeliveryReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		log.Printf("receipt-consumer: failed to unmarshal receipt: %v", err)
		return true
	}

	if receipt.MessageID == "" {
		log.Printf("receipt-consumer: missing message id in receipt; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.ResolveIntentFromReceipt(ctx, receipt); err != nil {
		log.Printf("receipt-consumer: processing error for message %s: %v", receipt.MessageID, err)
		return false
	}

	return true
}
