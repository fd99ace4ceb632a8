package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Balance      int64     `json:"balance"`
	IsAdmin      bool      `json:"is_admin"`
	Blocked      bool      `json:"blocked"`
	Bio          string    `json:"bio"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the view of a user exposed to other participants.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bio      string `json:"bio,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Bio: u.Bio}
}
