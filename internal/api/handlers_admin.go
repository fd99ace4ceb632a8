package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

type RoleRequest struct {
	IsAdmin bool `json:"is_admin"`
}

type IssueRequest struct {
	Amount int64 `json:"amount"`
}

type AuditResponse struct {
	Consistent bool                     `json:"consistent"`
	Mismatches []models.BalanceMismatch `json:"mismatches"`
}

func (s *APIServer) adminUsersHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.users.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, nonNil(users))
	}
}

func (s *APIServer) adminBlockUserHandler(blocked bool) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		if err := s.users.SetBlocked(r.Context(), p.UserID, mux.Vars(r)["id"], blocked); err != nil {
			s.writeError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) adminRoleHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req RoleRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := s.users.SetAdmin(r.Context(), p.UserID, mux.Vars(r)["id"], req.IsAdmin); err != nil {
			s.writeError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) adminIssueHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IssueRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		rec, err := s.ledger.Issue(r.Context(), mux.Vars(r)["id"], req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	}
}

func (s *APIServer) adminBlockProductHandler(blocked bool) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		if err := s.catalog.SetBlocked(r.Context(), p.UserID, mux.Vars(r)["id"], blocked); err != nil {
			s.writeError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) adminReportsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := s.reports.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, nonNil(reports))
	}
}

func (s *APIServer) adminAuditHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		mismatches, err := s.ledger.Audit(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AuditResponse{
			Consistent: len(mismatches) == 0,
			Mismatches: nonNil(mismatches),
		})
	}
}
