package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/ledger"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/users"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.Invalid("body", "malformed request")
	}
	return nil
}

// writeError maps err onto a status and a message safe to show to clients.
// Unexpected errors are logged and replaced with a generic message.
func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
	case errors.Is(err, models.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid username or password"})
	case errors.Is(err, models.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, users.ErrSelfModeration):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: users.ErrSelfModeration.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: ledger.ErrInsufficientFunds.Error()})
	case errors.Is(err, ledger.ErrSelfTransfer):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ledger.ErrSelfTransfer.Error()})
	case errors.Is(err, ledger.ErrNonPositiveAmount):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ledger.ErrNonPositiveAmount.Error()})
	case errors.Is(err, ledger.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: ledger.ErrUserNotFound.Error()})
	case errors.Is(err, ledger.ErrUserBlocked):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: ledger.ErrUserBlocked.Error()})
	case errors.Is(err, ledger.ErrStorageConflict):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: ledger.ErrStorageConflict.Error()})
	default:
		s.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
