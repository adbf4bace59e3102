package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"offramp-engine/internal/domain"
	"offramp-engine/internal/provider/payout"

	"go.uber.org/zap"
)

type Settlements interface {
	HandlePayoutResult(ctx context.Context, result payout.StatusResult) error
	HandleDeposit(ctx context.Context, event domain.DepositEvent) error
}

// CallbackHandler receives collaborator callbacks: payout verdicts from the
// rail and deposit events pushed over HTTP (the Kafka stream is the primary
// path; this endpoint exists for watcher deployments without a broker).
type CallbackHandler struct {
	settlements Settlements
	logger      *zap.Logger
}

func NewCallbackHandler(settlements Settlements, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{settlements: settlements, logger: logger}
}

// Payout handles the rail's asynchronous verdict. Non-2xx tells the rail to
// redeliver, which is safe: settlement is idempotent per transaction.
func (h *CallbackHandler) Payout(w http.ResponseWriter, r *http.Request) {
	var result payout.StatusResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if result.IdempotencyKey == "" {
		http.Error(w, "missing idempotency_key", http.StatusBadRequest)
		return
	}

	if err := h.settlements.HandlePayoutResult(r.Context(), result); err != nil {
		h.logger.Error("payout callback failed",
			zap.String("idempotency_key", result.IdempotencyKey),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Deposit handles a pushed watcher event.
func (h *CallbackHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var event domain.DepositEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if event.TxHash == "" || event.Address == "" {
		http.Error(w, "missing tx_hash or address", http.StatusBadRequest)
		return
	}

	if err := h.settlements.HandleDeposit(r.Context(), event); err != nil {
		h.logger.Error("deposit callback failed",
			zap.String("tx_hash", event.TxHash),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
