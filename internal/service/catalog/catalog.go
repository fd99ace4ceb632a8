package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const (
	maxTitle       = 120
	maxDescription = 2000
	maxQuery       = 120
)

type Store interface {
	SaveProduct(ctx context.Context, product models.Product) (models.Product, error)
	ProductByID(ctx context.Context, id string) (models.Product, error)
	ListProducts(ctx context.Context, includeBlocked bool) ([]models.Product, error)
	SearchProducts(ctx context.Context, query string) ([]models.Product, error)
	SetProductBlocked(ctx context.Context, id string, blocked bool) error
}

type Service struct {
	log   *slog.Logger
	store Store
}

func New(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

type NewProduct struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// Create lists a product owned by sellerID, the authenticated caller.
func (s *Service) Create(ctx context.Context, sellerID string, in NewProduct) (models.Product, error) {
	const op = "catalog.Create"

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return models.Product{}, models.Invalid("title", "is required")
	case utf8.RuneCountInString(title) > maxTitle:
		return models.Product{}, models.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitle))
	case utf8.RuneCountInString(in.Description) > maxDescription:
		return models.Product{}, models.Invalid("description", fmt.Sprintf("must be at most %d characters", maxDescription))
	case in.Price < 0:
		return models.Product{}, models.Invalid("price", "must not be negative")
	}

	product, err := s.store.SaveProduct(ctx, models.Product{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		Price:       in.Price,
		SellerID:    sellerID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.Product{}, models.ErrNotFound
		}
		s.log.Error("Failed to save product", slog.String("op", op), slog.String("error", err.Error()))
		return models.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("Product listed", slog.String("product_id", product.ID), slog.String("seller_id", sellerID))

	return product, nil
}

// Get returns a product. Blocked products are hidden unless asAdmin.
func (s *Service) Get(ctx context.Context, id string, asAdmin bool) (models.Product, error) {
	id, ok := models.CanonicalID(id)
	if !ok {
		return models.Product{}, models.ErrNotFound
	}

	product, err := s.store.ProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return models.Product{}, models.ErrNotFound
		}
		return models.Product{}, fmt.Errorf("catalog.Get: %w", err)
	}
	if product.Blocked && !asAdmin {
		return models.Product{}, models.ErrNotFound
	}

	return product, nil
}

func (s *Service) List(ctx context.Context, asAdmin bool) ([]models.Product, error) {
	products, err := s.store.ListProducts(ctx, asAdmin)
	if err != nil {
		return nil, fmt.Errorf("catalog.List: %w", err)
	}
	return products, nil
}

// Search matches query as a title substring. An empty query matches nothing.
func (s *Service) Search(ctx context.Context, query string) ([]models.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(query) > maxQuery {
		return nil, models.Invalid("q", fmt.Sprintf("must be at most %d characters", maxQuery))
	}

	products, err := s.store.SearchProducts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog.Search: %w", err)
	}
	return products, nil
}

func (s *Service) SetBlocked(ctx context.Context, actorID, id string, blocked bool) error {
	id, ok := models.CanonicalID(id)
	if !ok {
		return models.ErrNotFound
	}

	if err := s.store.SetProductBlocked(ctx, id, blocked); err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("catalog.SetBlocked: %w", err)
	}

	s.log.Info("Product moderation changed",
		slog.String("actor", actorID),
		slog.String("product_id", id),
		slog.Bool("blocked", blocked),
	)
	return nil
}
