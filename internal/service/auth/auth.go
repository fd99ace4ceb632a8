// Package auth establishes who is calling and what they may do. Sessions are
// server-side rows; the bearer token only names one.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/lib/jwt"
	"github.com/IlyasAtabaev731/p2p-market/internal/metrics"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const (
	minUsername = 3
	maxUsername = 80
	minPassword = 6
	// bcrypt ignores input past 72 bytes and newer versions reject it.
	maxPassword = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type UserStore interface {
	SaveUser(ctx context.Context, user models.User) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
}

type SessionStore interface {
	SaveSession(ctx context.Context, session models.Session) error
	SessionByID(ctx context.Context, id string) (models.Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

type Auth struct {
	log        *slog.Logger
	users      UserStore
	sessions   SessionStore
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	dummyHash  []byte
	now        func() time.Time
}

func New(log *slog.Logger, users UserStore, sessions SessionStore, opts Options) (*Auth, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty jwt secret")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	// Compared against when the username is unknown so both failure paths
	// cost one bcrypt comparison.
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: dummy hash: %w", err)
	}

	return &Auth{
		log:        log,
		users:      users,
		sessions:   sessions,
		secret:     opts.Secret,
		tokenTTL:   opts.TokenTTL,
		bcryptCost: opts.BcryptCost,
		dummyHash:  dummyHash,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register creates a user with zero balance and no privileges.
func (a *Auth) Register(ctx context.Context, username, password string) (models.User, error) {
	const op = "auth.Register"

	if err := validateCredentials(username, password); err != nil {
		return models.User{}, err
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		a.log.Error("Failed to hash password", slog.String("op", op), slog.String("error", err.Error()))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.SaveUser(ctx, models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(passHash),
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return models.User{}, models.Invalid("username", "already taken")
		}
		a.log.Error("Failed to save user", slog.String("op", op), slog.String("error", err.Error()))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("Registered new user", slog.String("user_id", user.ID), slog.String("username", user.Username))

	return user, nil
}

// Authenticate checks credentials and opens a session. Unknown usernames and
// wrong passwords fail with the same error after the same amount of work.
func (a *Auth) Authenticate(ctx context.Context, username, password string) (string, models.Session, error) {
	const op = "auth.Authenticate"

	user, err := a.users.UserByUsername(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		a.log.Error("Failed to load user", slog.String("op", op), slog.String("error", err.Error()))
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	hash := []byte(user.PasswordHash)
	if err != nil {
		hash = a.dummyHash
	}

	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password)); cmpErr != nil || err != nil {
		metrics.RecordAuthFailure("invalid_credentials")
		return "", models.Session{}, models.ErrInvalidCredentials
	}

	now := a.now()
	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now.Truncate(time.Second),
		ExpiresAt: jwt.Expiry(now, a.tokenTTL),
	}
	if err := a.sessions.SaveSession(ctx, session); err != nil {
		a.log.Error("Failed to save session", slog.String("op", op), slog.String("error", err.Error()))
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	token, err := jwt.NewToken(session, a.secret)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("User logged in", slog.String("user_id", user.ID), slog.String("session_id", session.ID))

	return token, session, nil
}

// Resolve turns a bearer token into the principal of an active session.
// Role and moderation flags are read fresh from the store on every call.
func (a *Auth) Resolve(ctx context.Context, token string) (Principal, error) {
	const op = "auth.Resolve"

	claims, err := jwt.ParseToken(token, a.secret)
	if err != nil {
		metrics.RecordAuthFailure("bad_token")
		return Principal{}, models.ErrUnauthenticated
	}

	session, err := a.sessions.SessionByID(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			metrics.RecordAuthFailure("unknown_session")
			return Principal{}, models.ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	if !session.Active(a.now()) || session.UserID != claims.UserID {
		metrics.RecordAuthFailure("inactive_session")
		return Principal{}, models.ErrUnauthenticated
	}

	user, err := a.users.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return Principal{}, models.ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}

	return Principal{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: session.ID,
		IsAdmin:   user.IsAdmin,
		Blocked:   user.Blocked,
	}, nil
}

// Logout revokes the principal's session. Revoking twice is a no-op.
func (a *Auth) Logout(ctx context.Context, p Principal) error {
	if err := a.sessions.RevokeSession(ctx, p.SessionID, a.now()); err != nil {
		return fmt.Errorf("auth.Logout: %w", err)
	}

	a.log.Info("User logged out", slog.String("user_id", p.UserID), slog.String("session_id", p.SessionID))

	return nil
}

// PurgeSessions drops sessions that ended before now.
func (a *Auth) PurgeSessions(ctx context.Context) (int64, error) {
	n, err := a.sessions.PurgeSessions(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("auth.PurgeSessions: %w", err)
	}
	return n, nil
}

// RunPurger calls PurgeSessions every interval until ctx is done.
func (a *Auth) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.PurgeSessions(ctx)
			if err != nil {
				a.log.Error("Failed to purge sessions", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.log.Debug("Purged sessions", slog.Int64("count", n))
			}
		}
	}
}

func validateCredentials(username, password string) error {
	switch {
	case len(username) < minUsername || len(username) > maxUsername:
		return models.Invalid("username", fmt.Sprintf("must be %d to %d characters", minUsername, maxUsername))
	case !usernamePattern.MatchString(username):
		return models.Invalid("username", "may contain letters, digits, '.', '_' and '-'")
	case len(password) < minPassword || len(password) > maxPassword:
		return models.Invalid("password", fmt.Sprintf("must be %d to %d characters", minPassword, maxPassword))
	}
	return nil
}
