package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	user := &Principal{UserID: "u"}
	admin := &Principal{UserID: "a", IsAdmin: true}
	blocked := &Principal{UserID: "b", Blocked: true}
	blockedAdmin := &Principal{UserID: "ba", IsAdmin: true, Blocked: true}

	read := Access{Role: RoleUser}
	write := Access{Role: RoleUser, Mutating: true}
	adminRead := Access{Role: RoleAdmin}
	adminWrite := Access{Role: RoleAdmin, Mutating: true}

	tests := []struct {
		name   string
		p      *Principal
		access Access
		want   Decision
	}{
		{"anonymous read", nil, read, Unauthenticated},
		{"empty principal", &Principal{}, read, Unauthenticated},
		{"user read", user, read, Allow},
		{"user write", user, write, Allow},
		{"user on admin route", user, adminRead, Forbidden},
		{"admin on admin route", admin, adminWrite, Allow},
		{"blocked read", blocked, read, Allow},
		{"blocked write", blocked, write, Unauthenticated},
		{"blocked on admin route", blocked, adminRead, Forbidden},
		{"blocked admin", blockedAdmin, adminWrite, Forbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.p, tt.access))
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "forbidden", Forbidden.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
}
