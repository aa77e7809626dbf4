// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"

	RoleMember = "member"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// Member is the lending engine's view of a library patron or staff user.
// The membership service owns the record; this side only reads it.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      string    `json:"role" db:"role"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (m Member) Active() bool { return m.Status == StatusActive }

// Privileged members may act on other users' loans and reviews and manage inventory.
func (m Member) Privileged() bool {
	return m.Role == RoleStaff || m.Role == RoleAdmin
}
