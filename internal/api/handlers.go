/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's user-facing API
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP response.
 * They act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yieldrelay/ledger-service/internal/app"
	"github.com/yieldrelay/ledger-service/internal/domain"
	"github.com/yieldrelay/ledger-service/internal/store"
	"github.com/yieldrelay/ledger-service/pkg/transport"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service      *app.Service
	defaultAsset string
}

// relocationInitiationResponse is sent back to the client immediately after a
// relocation request has been accepted by the ledger-service. The message id is
// the handle for the status endpoint and for support tooling, so it is always
// present even though the intent is still in flight.
type relocationInitiationResponse struct {
	MessageID        string  `json:"message_id"`
	IntentID         string  `json:"intent_id"`
	Status           string  `json:"status"`
	Message          string  `json:"message"`
	Asset            string  `json:"asset,omitempty"`
	Amount           int64   `json:"amount,omitempty"`
	Fee              int64   `json:"fee,omitempty"`
	DestinationChain string  `json:"destination_chain,omitempty"`
	FailureReason    *string `json:"failure_reason,omitempty"`
}

func buildRelocationInitiationResponse(intent *domain.OutboundIntent, message string) relocationInitiationResponse {
	return relocationInitiationResponse{
		MessageID:        intent.MessageID,
		IntentID:         intent.ID.String(),
		Status:           intent.Status,
		Message:          message,
		Asset:            intent.Asset,
		Amount:           intent.Amount,
		Fee:              intent.Fee,
		DestinationChain: intent.DestinationChain,
		FailureReason:    intent.FailureReason,
	}
}

// NewLedgerHandlers creates a new instance of LedgerHandlers. The default
// asset backs query endpoints that omit an explicit asset parameter.
func NewLedgerHandlers(service *app.Service, defaultAsset string) *LedgerHandlers {
	return &LedgerHandlers{service: service, defaultAsset: defaultAsset}
}

// authenticatedUserID resolves the caller's platform UUID from the request
// context populated by AuthMiddleware.
func (h *LedgerHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		http.Error(w, "Invalid user ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

// DepositHandler handles requests to credit a user's available balance.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.Deposit(r.Context(), userID, req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=failed user_id=%s err=%v", userID, err)
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrUnsupportedAsset) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Deposit credited",
		"asset":   req.Asset,
		"amount":  req.Amount,
	})
}

// WithdrawHandler handles requests to debit a user's available balance. Only
// idle funds are withdrawable; deployed funds must be undeployed first.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.Withdraw(r.Context(), userID, req); err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=failed user_id=%s err=%v", userID, err)
		if errors.Is(err, store.ErrInsufficientBalance) {
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrUnsupportedAsset) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Withdrawal recorded",
		"asset":   req.Asset,
		"amount":  req.Amount,
	})
}

// RelocationHandler handles requests to move funds to another chain.
func (h *LedgerHandlers) RelocationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.RelocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=relocate outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("level=info component=api endpoint=relocate outcome=accepted user_id=%s asset=%s amount=%d destination=%s", userID, req.Asset, req.Amount, req.DestinationChain)

	// Call the core service logic.
	intent, err := h.service.RequestRelocation(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=relocate outcome=failed user_id=%s err=%v", userID, err)
		if errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, app.ErrFeeUnaffordable) {
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		if errors.Is(err, store.ErrRelocationInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, app.ErrRelocationRateLimited) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		if errors.Is(err, app.ErrTransportRejected) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrUnsupportedAsset) || errors.Is(err, app.ErrSameChainRelocation) || errors.Is(err, app.ErrNegativeFeeAllowance) || errors.Is(err, transport.ErrUnknownDestination) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := buildRelocationInitiationResponse(intent, "Relocation initiated")
	h.writeJSON(w, http.StatusCreated, response)
}

// GetRelocationHandler returns the caller's relocation intent for one message id.
func (h *LedgerHandlers) GetRelocationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	messageID := strings.TrimSpace(chi.URLParam(r, "messageID"))
	if messageID == "" {
		h.writeError(w, http.StatusBadRequest, "Message ID is required")
		return
	}

	intent, err := h.service.IntentForUser(r.Context(), userID, messageID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Relocation not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_relocation outcome=failed message_id=%s user_id=%s err=%v", messageID, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, intent)
}

// ListBalancesHandler handles requests to get the user's per-asset holdings.
func (h *LedgerHandlers) ListBalancesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	summaries, err := h.service.BalanceSummaries(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balances outcome=failed user_id=%s err=%v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Respond with the holdings per asset
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summaries)
}

// LedgerHistoryHandler handles requests to get the user's recent ledger entries.
func (h *LedgerHandlers) LedgerHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.service.LedgerHistory(r.Context(), userID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_history outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// GetMandateHandler returns the caller's relocation mandate for an asset. A
// user without a stored mandate gets the disabled default back.
func (h *LedgerHandlers) GetMandateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = h.defaultAsset
	}

	mandate, err := h.service.MandateForUser(r.Context(), userID, asset)
	if err != nil {
		if errors.Is(err, store.ErrMandateNotFound) {
			h.writeJSON(w, http.StatusOK, domain.RelocationMandate{UserID: userID, Asset: asset, Enabled: false})
			return
		}
		if errors.Is(err, app.ErrUnsupportedAsset) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=get_mandate outcome=failed user_id=%s asset=%s err=%v", userID, asset, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, mandate)
}

// UpdateMandateHandler handles requests to update the caller's relocation mandate.
func (h *LedgerHandlers) UpdateMandateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	// Parse the request body
	var req domain.UpdateMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateMandate(r.Context(), userID, req); err != nil {
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrUnsupportedAsset) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("level=error component=api endpoint=update_mandate outcome=failed user_id=%s err=%v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Respond with success
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Relocation mandate updated successfully"})
}

// ListStrategiesHandler returns the registered strategies with live rates.
func (h *LedgerHandlers) ListStrategiesHandler(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = h.defaultAsset
	}

	strategies, err := h.service.DescribeStrategies(r.Context(), asset)
	if err != nil {
		if errors.Is(err, app.ErrUnsupportedAsset) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=list_strategies outcome=failed asset=%s err=%v", asset, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, strategies)
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
