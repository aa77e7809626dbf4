// internal/membership/service.go
package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrMemberNotFound = errors.New("member not found")

// Directory looks up members. Implementations return ErrMemberNotFound for
// unknown ids.
type Directory interface {
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
}

// Registry is a Directory that can also store members. Used for seeding.
type Registry interface {
	Directory
	RegisterMember(ctx context.Context, m Member) (*Member, error)
}

// IsPrivileged reports whether id belongs to an active staff member.
// Unknown ids are not privileged.
func IsPrivileged(ctx context.Context, dir Directory, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	m, err := dir.GetMember(ctx, id)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Active() && m.Privileged(), nil
}

// MayActFor reports whether actor may act on subject's behalf: subjects act
// for themselves and active staff act for anyone.
func MayActFor(ctx context.Context, dir Directory, actor, subject uuid.UUID) (bool, error) {
	if actor != uuid.Nil && actor == subject {
		return true, nil
	}
	return IsPrivileged(ctx, dir, actor)
}
