// Package memory is an in-process storage backend with the same semantics as
// the postgres store. It backs the "memory" storage mode and package tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

var _ storage.TxRunner = (*Storage)(nil)

type Storage struct {
	mu        sync.RWMutex
	users     map[string]models.User
	userOrder []string
	byName    map[string]string
	products  map[string]models.Product
	prodOrder []string
	reports   []models.Report
	sessions  map[string]models.Session
	ledger    []models.Transaction
	messages  []models.Message
	seq       int64

	// txLock serializes ledger transactions; it stands in for row locks.
	txLock      chan struct{}
	lockTimeout time.Duration
}

func New(lockTimeout time.Duration) *Storage {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Storage{
		users:       make(map[string]models.User),
		byName:      make(map[string]string),
		products:    make(map[string]models.Product),
		sessions:    make(map[string]models.Session),
		txLock:      make(chan struct{}, 1),
		lockTimeout: lockTimeout,
	}
}

func (s *Storage) Ping(context.Context) error {
	return nil
}

func (s *Storage) Stop() error {
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// --- users ------------------------------------------------------------------

func (s *Storage) SaveUser(_ context.Context, user models.User) (models.User, error) {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[user.Username]; ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}

	saved := models.User{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    now(),
	}
	s.users[saved.ID] = saved
	s.byName[saved.Username] = saved.ID
	s.userOrder = append(s.userOrder, saved.ID)

	return saved, nil
}

func (s *Storage) UserByUsername(_ context.Context, username string) (models.User, error) {
	const op = "storage.memory.UserByUsername"

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return s.users[id], nil
}

func (s *Storage) UserByID(_ context.Context, id string) (models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return user, nil
}

func (s *Storage) ListUsers(context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		users = append(users, s.users[id])
	}
	return users, nil
}

func (s *Storage) UpdateBio(_ context.Context, id, bio string) error {
	return s.updateUser("storage.memory.UpdateBio", id, func(u *models.User) { u.Bio = bio })
}

func (s *Storage) SetUserBlocked(_ context.Context, id string, blocked bool) error {
	return s.updateUser("storage.memory.SetUserBlocked", id, func(u *models.User) { u.Blocked = blocked })
}

func (s *Storage) SetUserAdmin(_ context.Context, id string, isAdmin bool) error {
	return s.updateUser("storage.memory.SetUserAdmin", id, func(u *models.User) { u.IsAdmin = isAdmin })
}

func (s *Storage) updateUser(op, id string, mutate func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	mutate(&user)
	s.users[id] = user
	return nil
}

// --- products ---------------------------------------------------------------

func (s *Storage) SaveProduct(_ context.Context, product models.Product) (models.Product, error) {
	const op = "storage.memory.SaveProduct"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[product.SellerID]; !ok {
		return models.Product{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	product.Blocked = false
	product.CreatedAt = now()
	s.products[product.ID] = product
	s.prodOrder = append(s.prodOrder, product.ID)

	return product, nil
}

func (s *Storage) ProductByID(_ context.Context, id string) (models.Product, error) {
	const op = "storage.memory.ProductByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return models.Product{}, fmt.Errorf("%s: %w", op, storage.ErrProductNotFound)
	}
	return product, nil
}

func (s *Storage) ListProducts(_ context.Context, includeBlocked bool) ([]models.Product, error) {
	return s.filterProducts(func(p models.Product) bool {
		return includeBlocked || !p.Blocked
	}), nil
}

func (s *Storage) SearchProducts(_ context.Context, query string) ([]models.Product, error) {
	query = strings.ToLower(query)
	return s.filterProducts(func(p models.Product) bool {
		return !p.Blocked && strings.Contains(strings.ToLower(p.Title), query)
	}), nil
}

// filterProducts returns matching products newest first.
func (s *Storage) filterProducts(keep func(models.Product) bool) []models.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var products []models.Product
	for i := len(s.prodOrder) - 1; i >= 0; i-- {
		p := s.products[s.prodOrder[i]]
		if keep(p) {
			products = append(products, p)
		}
	}
	return products
}

func (s *Storage) SetProductBlocked(_ context.Context, id string, blocked bool) error {
	const op = "storage.memory.SetProductBlocked"

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrProductNotFound)
	}
	product.Blocked = blocked
	s.products[id] = product
	return nil
}

// --- reports ----------------------------------------------------------------

func (s *Storage) SaveReport(_ context.Context, report models.Report) (models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report.CreatedAt = now()
	s.reports = append(s.reports, report)
	return report, nil
}

func (s *Storage) ListReports(context.Context) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]models.Report, 0, len(s.reports))
	for i := len(s.reports) - 1; i >= 0; i-- {
		reports = append(reports, s.reports[i])
	}
	return reports, nil
}

// --- sessions ---------------------------------------------------------------

func (s *Storage) SaveSession(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	return nil
}

func (s *Storage) SessionByID(_ context.Context, id string) (models.Session, error) {
	const op = "storage.memory.SessionByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return session, nil
}

func (s *Storage) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.RevokedAt != nil {
		return nil
	}
	session.RevokedAt = &at
	s.sessions[id] = session
	return nil
}

func (s *Storage) PurgeSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) || (session.RevokedAt != nil && session.RevokedAt.Before(cutoff)) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- messages ---------------------------------------------------------------

func (s *Storage) SaveMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of the persisted message log.
func (s *Storage) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Message(nil), s.messages...)
}
