package api

import "net/http"

type ReportRequest struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

func (s *APIServer) createReportHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req ReportRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		report, err := s.reports.Create(r.Context(), p.UserID, req.TargetID, req.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, report)
	}
}
