package users

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage/memory"
)

func setup(t *testing.T) (*Service, *memory.Storage) {
	t.Helper()
	store := memory.New(time.Second)
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), store), store
}

func addUser(t *testing.T, store *memory.Storage, name string) models.User {
	t.Helper()
	u, err := store.SaveUser(context.Background(), models.User{ID: uuid.NewString(), Username: name, PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func TestProfile(t *testing.T) {
	s, store := setup(t)
	alice := addUser(t, store, "alice")

	got, err := s.Profile(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	got, err = s.Profile(context.Background(), strings.ToUpper(alice.ID))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = s.Profile(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.Profile(context.Background(), "1 OR 1=1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateBio(t *testing.T) {
	s, store := setup(t)
	alice := addUser(t, store, "alice")

	got, err := s.UpdateBio(context.Background(), alice.ID, "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Equal(t, "<script>alert(1)</script>", got.Bio)

	_, err = s.UpdateBio(context.Background(), alice.ID, strings.Repeat("b", maxBio+1))
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRecipientsExcludeSelfAndBlocked(t *testing.T) {
	s, store := setup(t)
	alice := addUser(t, store, "alice")
	bob := addUser(t, store, "bob")
	carol := addUser(t, store, "carol")
	require.NoError(t, store.SetUserBlocked(context.Background(), carol.ID, true))

	got, err := s.Recipients(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.PublicUser{bob.Public()}, got)
}

func TestModeration(t *testing.T) {
	s, store := setup(t)
	admin := addUser(t, store, "admin")
	bob := addUser(t, store, "bob")
	ctx := context.Background()

	require.NoError(t, s.SetBlocked(ctx, admin.ID, bob.ID, true))
	got, _ := store.UserByID(ctx, bob.ID)
	assert.True(t, got.Blocked)

	require.NoError(t, s.SetBlocked(ctx, admin.ID, bob.ID, false))
	got, _ = store.UserByID(ctx, bob.ID)
	assert.False(t, got.Blocked)

	require.NoError(t, s.SetAdmin(ctx, admin.ID, bob.ID, true))
	got, _ = store.UserByID(ctx, bob.ID)
	assert.True(t, got.IsAdmin)

	assert.ErrorIs(t, s.SetBlocked(ctx, admin.ID, admin.ID, true), ErrSelfModeration)
	assert.ErrorIs(t, s.SetAdmin(ctx, admin.ID, admin.ID, false), ErrSelfModeration)
	assert.ErrorIs(t, s.SetBlocked(ctx, admin.ID, strings.ToUpper(admin.ID), true), ErrSelfModeration)

	require.NoError(t, s.SetBlocked(ctx, admin.ID, "{"+strings.ToUpper(bob.ID)+"}", true))
	got, _ = store.UserByID(ctx, bob.ID)
	assert.True(t, got.Blocked)
	assert.ErrorIs(t, s.SetBlocked(ctx, admin.ID, uuid.NewString(), true), models.ErrNotFound)
	assert.ErrorIs(t, s.SetAdmin(ctx, admin.ID, "nope", true), models.ErrNotFound)
}

func TestBootstrapAdmins(t *testing.T) {
	s, store := setup(t)
	root := addUser(t, store, "root")

	require.NoError(t, s.BootstrapAdmins(context.Background(), []string{"root", "ghost"}))

	got, err := store.UserByID(context.Background(), root.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)
}
