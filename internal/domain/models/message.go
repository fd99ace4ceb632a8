package models

import "time"

// Message is a chat message. An empty ReceiverID means broadcast.
type Message struct {
	ID         string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	Sender     string    `json:"sender"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}
