package api

import "net/http"

type ProfileRequest struct {
	Bio string `json:"bio"`
}

func (s *APIServer) profileHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		user, err := s.users.Profile(r.Context(), p.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func (s *APIServer) updateProfileHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req ProfileRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		user, err := s.users.UpdateBio(r.Context(), p.UserID, req.Bio)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}
