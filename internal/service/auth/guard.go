package auth

// Principal is the authenticated identity of a request. Handlers take the
// acting user's id from here, never from request input.
type Principal struct {
	UserID    string
	Username  string
	SessionID string
	IsAdmin   bool
	Blocked   bool
}

type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

// Access describes what a route requires.
type Access struct {
	Role     Role
	Mutating bool
}

type Decision int

const (
	Allow Decision = iota
	Forbidden
	Unauthenticated
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Forbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// Authorize decides whether p may perform an operation needing access. A nil
// principal is anonymous. Blocked users are unauthenticated for mutations and
// forbidden on admin routes.
func Authorize(p *Principal, access Access) Decision {
	if p == nil || p.UserID == "" {
		return Unauthenticated
	}
	if access.Role == RoleAdmin && (!p.IsAdmin || p.Blocked) {
		return Forbidden
	}
	if access.Mutating && p.Blocked {
		return Unauthenticated
	}
	return Allow
}
