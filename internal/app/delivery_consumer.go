package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

// DeliveryConsumer handles transfer messages arriving from other chains. The
// boolean returned by HandleMessage drives the broker ack: true acknowledges
// the delivery, false requeues it.
//
// Malformed or unverifiable messages are acknowledged without any ledger
// effect, because redelivering them cannot make them valid. Only transient
// processing failures requeue.
type DeliveryConsumer struct {
	service    *Service
	localChain string
}

func NewDeliveryConsumer(service *Service, localChain string) *DeliveryConsumer {
	return &DeliveryConsumer{service: service, localChain: localChain}
}

func (c *DeliveryConsumer) HandleMessage(body []byte) bool {
	var envelope transport.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("delivery-consumer: failed to unmarshal envelope: %v", err)
		return true
	}

	if envelope.MessageID == "" {
		log.Printf("delivery-consumer: missing message id in envelope; dropping")
		return true
	}

	// Strict payload decode. A payload that cannot be decoded must never be
	// credited and must not leave a dedup record behind, so a later corrected
	// delivery under the same id can still apply.
	payload, err := transport.DecodeTransferPayload(envelope.Payload)
	if err != nil {
		log.Printf("delivery-consumer: rejecting malformed payload for message %s: %v", envelope.MessageID, err)
		return true
	}

	if !c.service.chainKnown(envelope.SourceChain) {
		log.Printf("delivery-consumer: rejecting message %s from unknown chain %s", envelope.MessageID, envelope.SourceChain)
		return true
	}
	if envelope.Sender != transport.SenderIdentity(envelope.SourceChain) {
		log.Printf("delivery-consumer: rejecting message %s with unrecognized sender %q", envelope.MessageID, envelope.Sender)
		return true
	}
	if payload.SourceChain != envelope.SourceChain {
		log.Printf("delivery-consumer: rejecting message %s with mismatched source chain (envelope %s, payload %s)", envelope.MessageID, envelope.SourceChain, payload.SourceChain)
		return true
	}
	if envelope.DestinationChain != c.localChain || payload.DestinationChain != c.localChain {
		log.Printf("level=warn component=delivery_consumer msg=\"misrouted message dropped\" message_id=%s destination=%s local=%s", envelope.MessageID, envelope.DestinationChain, c.localChain)
		return true
	}
	if !c.service.assetSupported(payload.Asset) {
		log.Printf("delivery-consumer: rejecting message %s carrying unsupported asset %s", envelope.MessageID, payload.Asset)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	record := domain.InboundRecord{
		MessageID:   envelope.MessageID,
		SourceChain: envelope.SourceChain,
		UserID:      payload.UserID,
		Asset:       payload.Asset,
		Amount:      payload.Amount,
	}
	duplicate, err := c.service.ApplyInboundTransfer(ctx, record)
	if err != nil {
		log.Printf("delivery-consumer: processing error for message %s: %v", envelope.MessageID, err)
		return false
	}
	if duplicate {
		log.Printf("delivery-consumer: duplicate delivery of message %s acknowledged", envelope.MessageID)
	}

	return true
}
