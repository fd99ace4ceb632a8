package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const maxBio = 500

var ErrSelfModeration = errors.New("admins cannot block or demote themselves")

type Store interface {
	UserByID(ctx context.Context, id string) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateBio(ctx context.Context, id, bio string) error
	SetUserBlocked(ctx context.Context, id string, blocked bool) error
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error
}

type Service struct {
	log   *slog.Logger
	store Store
}

func New(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

func (s *Service) Profile(ctx context.Context, id string) (models.User, error) {
	id, ok := models.CanonicalID(id)
	if !ok {
		return models.User{}, models.ErrNotFound
	}

	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, models.ErrNotFound
		}
		return models.User{}, fmt.Errorf("users.Profile: %w", err)
	}
	return user, nil
}

// UpdateBio changes the bio of userID, which must be the caller.
func (s *Service) UpdateBio(ctx context.Context, userID, bio string) (models.User, error) {
	if utf8.RuneCountInString(bio) > maxBio {
		return models.User{}, models.Invalid("bio", fmt.Sprintf("must be at most %d characters", maxBio))
	}

	if err := s.store.UpdateBio(ctx, userID, bio); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, models.ErrNotFound
		}
		return models.User{}, fmt.Errorf("users.UpdateBio: %w", err)
	}

	return s.Profile(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("users.List: %w", err)
	}
	return users, nil
}

// Recipients lists users other than userID that can receive transfers.
func (s *Service) Recipients(ctx context.Context, userID string) ([]models.PublicUser, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	recipients := make([]models.PublicUser, 0, len(all))
	for _, u := range all {
		if u.ID != userID && !u.Blocked {
			recipients = append(recipients, u.Public())
		}
	}
	return recipients, nil
}

func (s *Service) SetBlocked(ctx context.Context, actorID, targetID string, blocked bool) error {
	targetID = canonicalOrRaw(targetID)
	if actorID == targetID {
		return ErrSelfModeration
	}
	if err := s.moderate(ctx, targetID, func() error {
		return s.store.SetUserBlocked(ctx, targetID, blocked)
	}); err != nil {
		return err
	}

	s.log.Info("User moderation changed",
		slog.String("actor", actorID),
		slog.String("user_id", targetID),
		slog.Bool("blocked", blocked),
	)
	return nil
}

func (s *Service) SetAdmin(ctx context.Context, actorID, targetID string, isAdmin bool) error {
	targetID = canonicalOrRaw(targetID)
	if actorID == targetID && !isAdmin {
		return ErrSelfModeration
	}
	if err := s.moderate(ctx, targetID, func() error {
		return s.store.SetUserAdmin(ctx, targetID, isAdmin)
	}); err != nil {
		return err
	}

	s.log.Info("User role changed",
		slog.String("actor", actorID),
		slog.String("user_id", targetID),
		slog.Bool("is_admin", isAdmin),
	)
	return nil
}

func (s *Service) moderate(ctx context.Context, targetID string, apply func() error) error {
	if _, ok := models.CanonicalID(targetID); !ok {
		return models.ErrNotFound
	}
	if err := apply(); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("users.moderate: %w", err)
	}
	return nil
}

// canonicalOrRaw leaves malformed ids untouched so moderate can reject them.
func canonicalOrRaw(id string) string {
	if c, ok := models.CanonicalID(id); ok {
		return c
	}
	return id
}

// BootstrapAdmins grants the admin flag to each listed existing username.
// Unknown usernames are logged and skipped.
func (s *Service) BootstrapAdmins(ctx context.Context, usernames []string) error {
	for _, name := range usernames {
		user, err := s.store.UserByUsername(ctx, name)
		if errors.Is(err, storage.ErrUserNotFound) {
			s.log.Warn("Bootstrap admin does not exist", slog.String("username", name))
			continue
		}
		if err != nil {
			return fmt.Errorf("users.BootstrapAdmins: %w", err)
		}
		if user.IsAdmin {
			continue
		}
		if err := s.store.SetUserAdmin(ctx, user.ID, true); err != nil {
			return fmt.Errorf("users.BootstrapAdmins: %w", err)
		}
		s.log.Info("Granted admin", slog.String("username", name))
	}
	return nil
}
