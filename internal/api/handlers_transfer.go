package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

// TransferRequest carries the recipient and amount. The sender is always the
// session identity; FromID exists only so a forged value can be detected.
type TransferRequest struct {
	FromID string `json:"from_id,omitempty"`
	ToID   string `json:"to_id"`
	Amount int64  `json:"amount"`
}

type TransferPage struct {
	Balance    int64                `json:"balance"`
	History    []models.Transaction `json:"history"`
	Recipients []models.PublicUser  `json:"recipients"`
}

func (s *APIServer) transferPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, models.Invalid("limit", "must be a number"))
				return
			}
			limit = n
		}

		me, err := s.users.Profile(r.Context(), p.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		history, err := s.ledger.History(r.Context(), p.UserID, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		recipients, err := s.users.Recipients(r.Context(), p.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, TransferPage{
			Balance:    me.Balance,
			History:    nonNil(history),
			Recipients: nonNil(recipients),
		})
	}
}

func (s *APIServer) transferHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req TransferRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		if from, _ := models.CanonicalID(req.FromID); req.FromID != "" && from != p.UserID {
			s.logger.Warn("Transfer with forged sender rejected",
				slog.String("user_id", p.UserID),
				slog.String("from_id", req.FromID),
				slog.String("remote", r.RemoteAddr),
			)
			s.writeError(w, r, models.Invalid("from_id", "sender is taken from the session"))
			return
		}

		rec, err := s.ledger.Transfer(r.Context(), p.UserID, req.ToID, req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	}
}
