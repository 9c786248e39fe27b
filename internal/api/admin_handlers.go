/**
 * @description
 * Operator-facing handlers, mounted behind the internal API key. These back the
 * recovery tooling (stuck-intent listing and force-fail), the out-of-band remote
 * rate feed, strategy pause/resume, and position undeploys.
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
	"github.com/yieldrelay/ledger-service/internal/strategy"
)

// rateReport is one row of the operator rate feed.
type rateReport struct {
	ChainID    string `json:"chain_id"`
	Asset      string `json:"asset"`
	StrategyID string `json:"strategy_id"`
	RateBps    int64  `json:"rate_bps"`
}

type undeployRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	Asset      string    `json:"asset"`
	StrategyID string    `json:"strategy_id"`
	Amount     int64     `json:"amount"` // in base units
}

// ListIntentsHandler returns outbound intents filtered by status, optionally
// restricted to those idle past the recovery timeout.
func (h *LedgerHandlers) ListIntentsHandler(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.IntentStatusSent
	}
	switch status {
	case domain.IntentStatusPending, domain.IntentStatusSent, domain.IntentStatusFailed, domain.IntentStatusResolved, domain.IntentStatusRefunded:
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown intent status %q", status))
		return
	}

	staleOnly := r.URL.Query().Get("stale") == "true"

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	intents, err := h.service.ListIntents(r.Context(), status, staleOnly, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_list_intents outcome=failed status=%s err=%v", status, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, intents)
}

// ForceFailIntentHandler refunds a sent intent whose delivery is presumed lost.
// The service enforces the recovery timeout and writes the audit trail.
func (h *LedgerHandlers) ForceFailIntentHandler(w http.ResponseWriter, r *http.Request) {
	messageID := strings.TrimSpace(chi.URLParam(r, "messageID"))
	if messageID == "" {
		h.writeError(w, http.StatusBadRequest, "Message ID is required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		h.writeError(w, http.StatusBadRequest, "Reason is required")
		return
	}

	intent, err := h.service.ForceFailIntent(r.Context(), messageID, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Intent not found")
			return
		}
		if errors.Is(err, store.ErrIntentNotRefundable) || errors.Is(err, app.ErrIntentNotStale) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=admin_force_fail outcome=failed message_id=%s err=%v", messageID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, intent)
}

// UpsertRatesHandler ingests the operator rate feed for remote chains.
func (h *LedgerHandlers) UpsertRatesHandler(w http.ResponseWriter, r *http.Request) {
	var reports []rateReport
	if err := json.NewDecoder(r.Body).Decode(&reports); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(reports) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one rate report is required")
		return
	}

	rates := make([]domain.RemoteRate, 0, len(reports))
	for _, report := range reports {
		rates = append(rates, domain.RemoteRate{
			ChainID:    report.ChainID,
			Asset:      report.Asset,
			StrategyID: report.StrategyID,
			RateBps:    report.RateBps,
		})
	}

	if err := h.service.UpsertRemoteRates(r.Context(), rates); err != nil {
		if errors.Is(err, app.ErrInvalidRate) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=admin_upsert_rates outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Remote rates updated",
		"count":   len(rates),
	})
}

// PauseStrategyHandler stops a strategy from accepting new deposits.
func (h *LedgerHandlers) PauseStrategyHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "Strategy ID is required")
		return
	}

	if err := h.service.PauseStrategy(id); err != nil {
		if errors.Is(err, strategy.ErrStrategyNotFound) {
			h.writeError(w, http.StatusNotFound, "Strategy not found")
			return
		}
		log.Printf("level=error component=api endpoint=admin_pause_strategy outcome=failed strategy_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Strategy paused"})
}

// ResumeStrategyHandler re-enables deposits into a paused strategy.
func (h *LedgerHandlers) ResumeStrategyHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "Strategy ID is required")
		return
	}

	if err := h.service.ResumeStrategy(id); err != nil {
		if errors.Is(err, strategy.ErrStrategyNotFound) {
			h.writeError(w, http.StatusNotFound, "Strategy not found")
			return
		}
		log.Printf("level=error component=api endpoint=admin_resume_strategy outcome=failed strategy_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Strategy resumed"})
}

// UndeployPositionHandler pulls a user's funds out of a local strategy back
// into their available balance. The venue reports what it actually paid out,
// which may be less than requested.
func (h *LedgerHandlers) UndeployPositionHandler(w http.ResponseWriter, r *http.Request) {
	var req undeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	withdrawn, err := h.service.WithdrawFromStrategy(r.Context(), req.UserID, req.Asset, req.StrategyID, req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_undeploy outcome=failed user_id=%s strategy_id=%s err=%v", req.UserID, req.StrategyID, err)
		if errors.Is(err, strategy.ErrStrategyNotFound) {
			h.writeError(w, http.StatusNotFound, "Strategy not found")
			return
		}
		if errors.Is(err, strategy.ErrStrategyUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if errors.Is(err, store.ErrInsufficientPosition) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrUnsupportedAsset) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Position undeployed",
		"requested": req.Amount,
		"withdrawn": withdrawn,
	})
}
