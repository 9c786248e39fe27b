/**
 * @description
 * This file defines the wire format for cross-chain transfer messages and the
 * codec that encodes and decodes them. The envelope carries routing metadata
 * (message id, sender identity, source and destination chains) while the
 * payload carries the value being moved.
 *
 * @notes
 * - Decoding is strict: unknown fields, a version mismatch, or out-of-range
 *   values all fail with ErrMalformedPayload. A payload that fails to decode
 *   must never be credited, so strictness here is the last line of defense.
 * - Amounts are in the asset's base units.
 */

package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadVersion is the current transfer payload schema version. Payloads with
// any other version are rejected as malformed.
const PayloadVersion = 1

// Delivery receipt statuses reported back to the source chain.
const (
	ReceiptStatusApplied   = "applied"
	ReceiptStatusDuplicate = "duplicate"
)

// ErrMalformedPayload indicates a transfer payload that could not be decoded
// or failed validation. Handlers must not credit or record anything for it.
var ErrMalformedPayload = errors.New("malformed transfer payload")

// TransferPayload is the value-bearing body of a cross-chain transfer message.
type TransferPayload struct {
	Version          int       `json:"version"`
	UserID           uuid.UUID `json:"user_id"`
	Asset            string    `json:"asset"`
	Amount           int64     `json:"amount"` // in base units
	SourceChain      string    `json:"source_chain"`
	DestinationChain string    `json:"destination_chain"`
	SentAt           time.Time `json:"sent_at"`
}

// Envelope wraps an encoded payload with the routing metadata the destination
// needs to validate and deduplicate the message.
type Envelope struct {
	MessageID        string          `json:"message_id"`
	Sender           string          `json:"sender"`
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	Payload          json.RawMessage `json:"payload"`
	SentAt           time.Time       `json:"sent_at"`
}

// DeliveryReceipt is published by the destination chain after it processes a
// transfer message, so the source can close out its outbound intent.
type DeliveryReceipt struct {
	MessageID        string    `json:"message_id"`
	DestinationChain string    `json:"destination_chain"`
	Status           string    `json:"status"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// SenderIdentity returns the attested sender string for a ledger service on
// the given chain. Destinations only credit payloads from a recognized sender.
func SenderIdentity(chainID string) string {
	return "ledger-service@" + chainID
}

// DeliveryRoutingKey returns the routing key transfer messages for the given
// destination chain are published under.
func DeliveryRoutingKey(chainID string) string {
	return "transfer.delivery." + chainID
}

// ReceiptRoutingKey returns the routing key delivery receipts for the given
// source chain are published under.
func ReceiptRoutingKey(chainID string) string {
	return "transfer.receipt." + chainID
}

// EncodeTransferPayload validates and serializes a transfer payload.
func EncodeTransferPayload(payload TransferPayload) ([]byte, error) {
	if payload.Version != PayloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", payload.Version)
	}
	if payload.UserID == uuid.Nil {
		return nil, errors.New("payload user id is required")
	}
	if payload.Asset == "" {
		return nil, errors.New("payload asset is required")
	}
	if payload.Amount <= 0 {
		return nil, fmt.Errorf("payload amount must be positive, got %d", payload.Amount)
	}
	if payload.SourceChain == "" || payload.DestinationChain == "" {
		return nil, errors.New("payload source and destination chains are required")
	}
	return json.Marshal(payload)
}

// DecodeTransferPayload strictly deserializes and validates a transfer
// payload. Every failure wraps ErrMalformedPayload.
func DecodeTransferPayload(raw []byte) (TransferPayload, error) {
	var payload TransferPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return TransferPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return TransferPayload{}, fmt.Errorf("%w: trailing data after payload", ErrMalformedPayload)
	}
	if payload.Version != PayloadVersion {
		return TransferPayload{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, payload.Version)
	}
	if payload.UserID == uuid.Nil {
		return TransferPayload{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}
	if payload.Asset == "" {
		return TransferPayload{}, fmt.Errorf("%w: missing asset", ErrMalformedPayload)
	}
	if payload.Amount <= 0 {
		return TransferPayload{}, fmt.Errorf("%w: non-positive amount %d", ErrMalformedPayload, payload.Amount)
	}
	if payload.SourceChain == "" || payload.DestinationChain == "" {
		return TransferPayload{}, fmt.Errorf("%w: missing chain identifiers", ErrMalformedPayload)
	}
	return payload, nil
}
