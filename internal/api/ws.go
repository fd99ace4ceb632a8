package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/relay"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 4096
	noticeCapacity = 4
)

// inboundFrame is what a participant sends. The sender is the session.
type inboundFrame struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

type outboundFrame struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsHandler upgrades to the chat channel. Each connection has one reader
// loop and one writer goroutine, which owns every write to the socket.
func (s *APIServer) wsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())
		token := bearerToken(r)

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("Websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		sub, err := s.relay.Subscribe(p.UserID)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		log := s.logger.With(slog.String("user_id", p.UserID))
		log.Debug("Chat participant connected")

		notices := make(chan outboundFrame, noticeCapacity)
		go s.wsWriter(conn, sub, notices)

		s.wsReader(r.Context(), conn, token, notices, log)

		s.relay.Unsubscribe(sub)
		log.Debug("Chat participant disconnected")
	}
}

func (s *APIServer) wsReader(ctx context.Context, conn *websocket.Conn, token string, notices chan<- outboundFrame, log *slog.Logger) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	notify := func(msg string) {
		select {
		case notices <- outboundFrame{Type: "error", Error: msg}:
		default:
		}
	}

	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Chat connection closed", slog.String("error", err.Error()))
			}
			return
		}

		// The session is checked on every send so logout or blocking takes
		// effect on open connections.
		p, err := s.auth.Resolve(ctx, token)
		if err != nil || auth.Authorize(&p, mutating) != auth.Allow {
			notify("authentication required")
			continue
		}

		var receiverID string
		if in.ReceiverID != "" {
			receiver, err := s.users.Profile(ctx, in.ReceiverID)
			if err != nil {
				notify("unknown receiver")
				continue
			}
			receiverID = receiver.ID
		}

		_, err = s.relay.Publish(ctx, models.Message{
			SenderID:   p.UserID,
			Sender:     p.Username,
			ReceiverID: receiverID,
			Content:    in.Content,
		})
		var verr *models.ValidationError
		switch {
		case err == nil:
		case errors.As(err, &verr):
			notify(verr.Error())
		case errors.Is(err, relay.ErrClosed):
			return
		default:
			log.Error("Failed to publish message", slog.String("error", err.Error()))
			notify("message not delivered")
		}
	}
}

func (s *APIServer) wsWriter(conn *websocket.Conn, sub *relay.Subscriber, notices <-chan outboundFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(outboundFrame{Type: "message", Message: &msg}); err != nil {
				return
			}
		case frame := <-notices:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
