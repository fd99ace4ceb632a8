package models

import "time"

// Transaction is an immutable ledger row. FromID is empty for issuance rows.
type Transaction struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	FromID    string    `json:"from_id,omitempty"`
	ToID      string    `json:"to_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Transaction) IsIssue() bool {
	return t.FromID == ""
}

// Delta returns the signed effect of t on userID's balance.
func (t Transaction) Delta(userID string) int64 {
	var d int64
	if t.ToID == userID {
		d += t.Amount
	}
	if t.FromID == userID {
		d -= t.Amount
	}
	return d
}

// BalanceMismatch is reported by a ledger audit when a cached balance
// diverges from the net of the user's ledger rows.
type BalanceMismatch struct {
	UserID  string `json:"user_id"`
	Cached  int64  `json:"cached"`
	Derived int64  `json:"derived"`
}
