package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

// CreateUser inserts a user holding the named role
func (s *Store) CreateUser(ctx context.Context, user *models.User, roleName string) error {
	roleID, err := s.RoleIDByName(ctx, roleName)
	if err != nil {
		return err
	}

	user.RoleID = roleID
	user.CreatedAt = now()
	err = s.db.GetContext(ctx, &user.ID, s.db.Rebind(`
		INSERT INTO users (username, email, role_id, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		user.Username, user.Email, user.RoleID, user.CreatedAt)
	return s.classify("create user", err)
}

// RoleIDByName resolves a role name to its id
func (s *Store) RoleIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, s.db.Rebind("SELECT id FROM roles WHERE name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewValidationError("role", fmt.Sprintf("unknown role %q", name))
	}
	return id, err
}

// RoleName resolves a role id to its name
func (s *Store) RoleName(ctx context.Context, roleID int64) (string, error) {
	var name string
	err := s.db.GetContext(ctx, &name, s.db.Rebind("SELECT name FROM roles WHERE id = ?"), roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &models.NotFoundError{Entity: "role", ID: roleID}
	}
	return name, err
}
