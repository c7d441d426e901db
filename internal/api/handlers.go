/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and mapping the error taxonomy onto HTTP
 * status codes and message strings.
 *
 * @dependencies
 * - encoding/json, log/slog, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service, logger *slog.Logger) *TransferHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferHandlers{service: service, logger: logger.With("component", "api")}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Status    int               `json:"status"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   []ValidationError `json:"details,omitempty"`
}

type transferResponse struct {
	ID                   int64           `json:"id"`
	OriginAccountID      int64           `json:"origin_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Status               string          `json:"status"`
	Timestamp            time.Time       `json:"timestamp"`
	Message              string          `json:"message"`
	Description          *string         `json:"description,omitempty"`
}

func buildTransferResponse(t *domain.Transfer, message string) transferResponse {
	return transferResponse{
		ID:                   t.ID,
		OriginAccountID:      t.OriginAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount.Round(2),
		Status:               t.Status,
		Timestamp:            t.CreatedAt,
		Message:              message,
		Description:          t.Description,
	}
}

// CreateTransferHandler handles POST /api/v1/transfers.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad request", "Invalid request body")
		return
	}
	if validationErrors := ValidateRequest(req); validationErrors != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Timestamp: time.Now().UTC(),
			Status:    http.StatusBadRequest,
			Error:     "Validation failed",
			Message:   "Invalid request data",
			Details:   validationErrors,
		})
		return
	}

	logger := h.requestLogger(r)
	transfer, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, logger, err)
		return
	}

	logger.Info("transfer created", "transfer_id", transfer.ID, "origin_account_id", transfer.OriginAccountID)
	writeJSON(w, http.StatusCreated, buildTransferResponse(transfer, "Transaction succeeded"))
}

// GetTransferHandler handles GET /api/v1/transfers/{id}.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	transfer, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, h.requestLogger(r), err)
		return
	}

	writeJSON(w, http.StatusOK, buildTransferResponse(transfer, "Success"))
}

// ListAccountTransfersHandler handles GET /api/v1/accounts/{id}/transfers.
func (h *TransferHandlers) ListAccountTransfersHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	opts := domain.TransferListOptions{
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	transfers, err := h.service.ListTransfers(r.Context(), accountID, opts)
	if err != nil {
		h.writeServiceError(w, h.requestLogger(r), err)
		return
	}

	response := make([]transferResponse, 0, len(transfers))
	for i := range transfers {
		response = append(response, buildTransferResponse(&transfers[i], "Success"))
	}
	writeJSON(w, http.StatusOK, response)
}

// ListAccountNotificationsHandler handles GET /api/v1/accounts/{id}/notifications.
func (h *TransferHandlers) ListAccountNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	unsentOnly, _ := strconv.ParseBool(r.URL.Query().Get("unsent"))
	opts := domain.NotificationListOptions{
		Limit:      queryInt(r, "limit", 0),
		UnsentOnly: unsentOnly,
	}
	events, err := h.service.ListNotifications(r.Context(), accountID, opts)
	if err != nil {
		h.writeServiceError(w, h.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// requestLogger tags log lines with the authenticated caller when there is one.
func (h *TransferHandlers) requestLogger(r *http.Request) *slog.Logger {
	if subject, ok := GetSubject(r.Context()); ok {
		return h.logger.With("subject", subject)
	}
	return h.logger
}

func (h *TransferHandlers) writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many requests", err.Error())
	case errors.Is(err, app.ErrInvalidTransfer):
		writeError(w, http.StatusBadRequest, "Invalid transfer", err.Error())
	case errors.Is(err, app.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "Insufficient balance", err.Error())
	case errors.Is(err, store.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found", err.Error())
	case errors.Is(err, app.ErrTransferNotFound):
		writeError(w, http.StatusNotFound, "Transfer not found", err.Error())
	case errors.Is(err, app.ErrTransaction):
		logger.Error("transfer transaction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Transaction error", "Error processing transfer; no funds were moved")
	default:
		logger.Error("unexpected service error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Bad request", "Invalid "+name+": "+raw)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, errorLabel, message string) {
	writeJSON(w, status, ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     errorLabel,
		Message:   message,
	})
}
