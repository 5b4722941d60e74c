package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const clientColumns = `id, first_name, last_name, email, phone, address, city, postal_code, country, created_at`

// upsertClient creates a client or refreshes the non-empty details of the
// existing client with the same email, returning its id
func (s *Store) upsertClient(ctx context.Context, tx *sqlx.Tx, c *models.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	err := tx.GetContext(ctx, &c.ID, tx.Rebind(`
		INSERT INTO clients (first_name, last_name, email, phone, address, city, postal_code, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			first_name  = COALESCE(excluded.first_name, clients.first_name),
			last_name   = COALESCE(excluded.last_name, clients.last_name),
			phone       = COALESCE(excluded.phone, clients.phone),
			address     = COALESCE(excluded.address, clients.address),
			city        = COALESCE(excluded.city, clients.city),
			postal_code = COALESCE(excluded.postal_code, clients.postal_code),
			country     = COALESCE(excluded.country, clients.country)
		RETURNING id`),
		c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.City, c.PostalCode, c.Country, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

// GetClientByID retrieves a client by ID
func (s *Store) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	var c models.Client
	err := s.db.GetContext(ctx, &c, s.db.Rebind("SELECT "+clientColumns+" FROM clients WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "client", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByEmail retrieves a client by email
func (s *Store) GetClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	var c models.Client
	err := s.db.GetContext(ctx, &c, s.db.Rebind("SELECT "+clientColumns+" FROM clients WHERE email = ?"), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %q: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
