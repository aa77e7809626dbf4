// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// postgresDirectory reads the members table owned by the membership service.
type postgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory creates a directory backed by the shared database.
func NewPostgresDirectory(db *sqlx.DB) Registry {
	return &postgresDirectory{db: db}
}

func (d *postgresDirectory) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	query := `
		SELECT id, email, name, role, status, created_at, updated_at
		FROM members
		WHERE id = $1
	`
	member := &Member{}
	if err := d.db.GetContext(ctx, member, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %s: %w", id, ErrMemberNotFound)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// RegisterMember inserts or refreshes a member row.
func (d *postgresDirectory) RegisterMember(ctx context.Context, m Member) (*Member, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.Role == "" {
		m.Role = RoleMember
	}
	query := `
		INSERT INTO members (id, email, name, role, status)
		VALUES (:id, :email, :name, :role, :status)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role,
		    status = EXCLUDED.status, updated_at = NOW()
	`
	if _, err := d.db.NamedExecContext(ctx, query, m); err != nil {
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	return d.GetMember(ctx, m.ID)
}

// StaticDirectory is an in-process directory for tests and local runs.
type StaticDirectory struct {
	mu      sync.RWMutex
	members map[uuid.UUID]Member
}

func NewStaticDirectory(members ...Member) *StaticDirectory {
	d := &StaticDirectory{members: make(map[uuid.UUID]Member)}
	for _, m := range members {
		d.members[m.ID] = m
	}
	return d
}

func (d *StaticDirectory) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrMemberNotFound)
	}
	return &m, nil
}

func (d *StaticDirectory) RegisterMember(_ context.Context, m Member) (*Member, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.Role == "" {
		m.Role = RoleMember
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	d.mu.Lock()
	d.members[m.ID] = m
	d.mu.Unlock()
	return &m, nil
}
