package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const productColumns = `id, title, description, price, seller_id, blocked, created_at`

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.SellerID, &p.Blocked, &p.CreatedAt)
	return p, err
}

func (s *Storage) SaveProduct(ctx context.Context, product models.Product) (models.Product, error) {
	const op = "storage.postgres.SaveProduct"

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, title, description, price, seller_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+productColumns,
		product.ID, product.Title, product.Description, product.Price, product.SellerID,
	)

	saved, err := scanProduct(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation {
			return models.Product{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

func (s *Storage) ProductByID(ctx context.Context, id string) (models.Product, error) {
	const op = "storage.postgres.ProductByID"

	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Product{}, fmt.Errorf("%s: %w", op, storage.ErrProductNotFound)
		}
		return models.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	return product, nil
}

func (s *Storage) ListProducts(ctx context.Context, includeBlocked bool) ([]models.Product, error) {
	const op = "storage.postgres.ListProducts"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 OR NOT blocked
		ORDER BY created_at DESC`, includeBlocked)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return collectProducts(op, rows)
}

// SearchProducts matches title substrings case-insensitively. LIKE
// metacharacters in query are matched literally.
func (s *Storage) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	const op = "storage.postgres.SearchProducts"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE NOT blocked AND title ILIKE $1 ESCAPE '\'
		ORDER BY created_at DESC`, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return collectProducts(op, rows)
}

func (s *Storage) SetProductBlocked(ctx context.Context, id string, blocked bool) error {
	const op = "storage.postgres.SetProductBlocked"

	res, err := s.db.ExecContext(ctx, `UPDATE products SET blocked = $1 WHERE id = $2`, blocked, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrProductNotFound)
	}

	return nil
}

func collectProducts(op string, rows *sql.Rows) ([]models.Product, error) {
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return products, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
