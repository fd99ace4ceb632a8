// Package relay fans chat messages out to connected participants. Publishing
// never blocks on a slow reader: each subscriber has a bounded queue and the
// oldest queued message is dropped when it is full.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/metrics"
)

const (
	MaxContent    = 500
	DefaultBuffer = 32
)

var ErrClosed = errors.New("relay: hub closed")

// MessageLog durably records messages for audit.
type MessageLog interface {
	SaveMessage(ctx context.Context, msg models.Message) error
}

type Hub struct {
	log    *slog.Logger
	store  MessageLog
	buffer int

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates a hub. store may be nil to disable persistence.
func New(log *slog.Logger, store MessageLog, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		log:    log,
		store:  store,
		buffer: buffer,
		subs:   make(map[*Subscriber]struct{}),
	}
}

type Subscriber struct {
	UserID  string
	ch      chan models.Message
	dropped atomic.Int64
}

// C delivers messages until the subscriber is removed or the hub closes.
func (s *Subscriber) C() <-chan models.Message {
	return s.ch
}

func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// offer enqueues msg, evicting the oldest queued message if the queue is full.
func (s *Subscriber) offer(msg models.Message) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.RecordRelayDrop()
		default:
		}
	}
}

func (h *Hub) Subscribe(userID string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &Subscriber{UserID: userID, ch: make(chan models.Message, h.buffer)}
	h.subs[sub] = struct{}{}
	metrics.RelayJoined()

	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	metrics.RelayLeft()
}

// Broadcast sends content from senderID to every connected participant.
func (h *Hub) Broadcast(ctx context.Context, senderID, sender, content string) (models.Message, error) {
	return h.Publish(ctx, models.Message{SenderID: senderID, Sender: sender, Content: content})
}

// Publish assigns an id and timestamp to msg, records it when persistence is
// enabled and fans it out. A message with a receiver goes only to the
// receiver's and sender's connections. Nothing is recorded once the hub is
// closed.
func (h *Hub) Publish(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	switch {
	case msg.Content == "":
		return models.Message{}, models.Invalid("content", "is required")
	case utf8.RuneCountInString(msg.Content) > MaxContent:
		return models.Message{}, models.Invalid("content", fmt.Sprintf("must be at most %d characters", MaxContent))
	}

	if id, ok := models.CanonicalID(msg.ReceiverID); ok {
		msg.ReceiverID = id
	}
	msg.ID = uuid.NewString()
	msg.SentAt = time.Now().UTC()

	// Close waits for the read lock, so a persisted message is always fanned out.
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return models.Message{}, ErrClosed
	}

	if h.store != nil {
		if err := h.store.SaveMessage(ctx, msg); err != nil {
			h.log.Error("Failed to persist message",
				slog.String("message_id", msg.ID),
				slog.String("sender_id", msg.SenderID),
				slog.String("error", err.Error()),
			)
		}
	}

	for sub := range h.subs {
		if msg.ReceiverID != "" && sub.UserID != msg.ReceiverID && sub.UserID != msg.SenderID {
			continue
		}
		sub.offer(msg)
	}
	metrics.RecordRelayMessage()

	return msg, nil
}

// Subscribers reports how many connections are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Close detaches every subscriber. Later publishes fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
		metrics.RelayLeft()
	}
}
