package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

type recordingLog struct {
	mu   sync.Mutex
	msgs []models.Message
	err  error
}

func (l *recordingLog) SaveMessage(_ context.Context, msg models.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.msgs = append(l.msgs, msg)
	return nil
}

func newHub(store MessageLog, buffer int) *Hub {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), store, buffer)
}

func receive(t *testing.T, sub *Subscriber) models.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscriber channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return models.Message{}
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message %q", msg.Content)
	default:
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	h := newHub(nil, 4)
	alice, err := h.Subscribe("alice")
	require.NoError(t, err)
	bob, err := h.Subscribe("bob")
	require.NoError(t, err)

	sent, err := h.Broadcast(context.Background(), "alice", "Alice", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	assert.NotEmpty(t, sent.ID)
	assert.False(t, sent.SentAt.IsZero())

	assert.Equal(t, sent, receive(t, alice))
	assert.Equal(t, sent, receive(t, bob))
}

func TestDirectMessageGoesToParticipantsOnly(t *testing.T) {
	h := newHub(nil, 4)
	alice, _ := h.Subscribe("alice")
	bob, _ := h.Subscribe("bob")
	carol, _ := h.Subscribe("carol")

	sent, err := h.Publish(context.Background(), models.Message{SenderID: "alice", ReceiverID: "bob", Content: "psst"})
	require.NoError(t, err)

	assert.Equal(t, sent.ID, receive(t, alice).ID)
	assert.Equal(t, sent.ID, receive(t, bob).ID)
	assertEmpty(t, carol)
}

func TestDirectMessageMatchesAnyIDSpelling(t *testing.T) {
	h := newHub(nil, 4)
	bobID := "8f14e45f-ceea-467f-a0c6-1e5b2f3d9a10"
	bob, _ := h.Subscribe(bobID)

	sent, err := h.Publish(context.Background(), models.Message{
		SenderID:   "alice",
		ReceiverID: strings.ToUpper(bobID),
		Content:    "psst",
	})
	require.NoError(t, err)
	assert.Equal(t, bobID, sent.ReceiverID)
	assert.Equal(t, sent.ID, receive(t, bob).ID)
}

func TestPublishValidatesContent(t *testing.T) {
	h := newHub(nil, 4)
	sub, _ := h.Subscribe("alice")

	for _, content := range []string{"", "   ", strings.Repeat("x", MaxContent+1)} {
		_, err := h.Broadcast(context.Background(), "alice", "Alice", content)
		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assertEmpty(t, sub)

	_, err := h.Broadcast(context.Background(), "alice", "Alice", strings.Repeat("é", MaxContent))
	assert.NoError(t, err)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := newHub(nil, 2)
	slow, _ := h.Subscribe("slow")

	for _, c := range []string{"one", "two", "three", "four"} {
		_, err := h.Broadcast(context.Background(), "fast", "Fast", c)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, "three", receive(t, slow).Content)
	assert.Equal(t, "four", receive(t, slow).Content)
	assertEmpty(t, slow)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := newHub(nil, 2)
	sub, _ := h.Subscribe("alice")
	require.Equal(t, 1, h.Subscribers())

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.Subscribers())

	_, ok := <-sub.C()
	assert.False(t, ok)

	_, err := h.Broadcast(context.Background(), "bob", "Bob", "anyone?")
	assert.NoError(t, err)
}

func TestPersistence(t *testing.T) {
	store := &recordingLog{}
	h := newHub(store, 2)

	sent, err := h.Broadcast(context.Background(), "alice", "Alice", "saved")
	require.NoError(t, err)
	require.Len(t, store.msgs, 1)
	assert.Equal(t, sent, store.msgs[0])

	store.err = errors.New("disk full")
	sub, _ := h.Subscribe("bob")
	_, err = h.Broadcast(context.Background(), "alice", "Alice", "still delivered")
	require.NoError(t, err)
	assert.Equal(t, "still delivered", receive(t, sub).Content)
}

func TestClose(t *testing.T) {
	h := newHub(nil, 2)
	sub, _ := h.Subscribe("alice")

	h.Close()
	h.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	_, err := h.Subscribe("bob")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.Broadcast(context.Background(), "alice", "Alice", "late")
	assert.ErrorIs(t, err, ErrClosed)

	h.Unsubscribe(sub)
}

func TestClosedHubRecordsNothing(t *testing.T) {
	store := &recordingLog{}
	h := newHub(store, 2)
	h.Close()

	_, err := h.Broadcast(context.Background(), "alice", "Alice", "after shutdown")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, store.msgs)
}

func TestConcurrentPublishers(t *testing.T) {
	h := newHub(nil, 1000)
	sub, _ := h.Subscribe("reader")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = h.Broadcast(context.Background(), "w", "W", "msg")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.C(), 500)
	assert.Zero(t, sub.Dropped())
}
