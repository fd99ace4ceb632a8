package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/catalog"
)

type ProductResponse struct {
	models.Product
	Seller *models.PublicUser `json:"seller,omitempty"`
}

func (s *APIServer) listProductsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		products, err := s.catalog.List(r.Context(), p.IsAdmin)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, nonNil(products))
	}
}

func (s *APIServer) createProductHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		var req catalog.NewProduct
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		product, err := s.catalog.Create(r.Context(), p.UserID, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, product)
	}
}

func (s *APIServer) productHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())
		id := mux.Vars(r)["id"]

		product, err := s.catalog.Get(r.Context(), id, p.IsAdmin)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := ProductResponse{Product: product}
		seller, err := s.users.Profile(r.Context(), product.SellerID)
		switch {
		case err == nil:
			public := seller.Public()
			resp.Seller = &public
		case !errors.Is(err, models.ErrNotFound):
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *APIServer) searchHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := s.catalog.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, nonNil(products))
	}
}

// nonNil keeps empty lists encoding as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
