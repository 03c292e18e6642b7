package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"mabletask/agent/models"
)

var (
	// ErrInstallationNotFound is returned when no active installation matches.
	ErrInstallationNotFound = errors.New("installation not found")
	// ErrInstallationExists is returned when the org already has an installation for the origin.
	ErrInstallationExists = errors.New("installation already exists")
)

// InstallStore is the Postgres registry of sites allowed to use the bridge.
type InstallStore struct {
	db *sql.DB
}

// NewInstallStore creates a new InstallStore instance.
func NewInstallStore(db *sql.DB) *InstallStore {
	return &InstallStore{db: db}
}

// CreateInstallation registers an installation with a bcrypt-hashed API key.
func (s *InstallStore) CreateInstallation(ctx context.Context, orgID, rawKey, origin string) (*models.Installation, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	inst := &models.Installation{}
	query := `
		INSERT INTO installations (organization_id, key_hash, allowed_origin)
		VALUES ($1, $2, $3)
		RETURNING id, organization_id, allowed_origin, active, created_at, updated_at;
	`
	err = s.db.QueryRowContext(ctx, query, orgID, hash, origin).Scan(
		&inst.ID,
		&inst.OrgID,
		&inst.AllowedOrigin,
		&inst.Active,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		if err.Error() == `pq: duplicate key value violates unique constraint "installations_org_origin_key"` {
			return nil, ErrInstallationExists
		}
		return nil, fmt.Errorf("failed to create installation: %w", err)
	}
	inst.KeyHash = hash
	return inst, nil
}

// ListActive returns the active installations of an organization.
func (s *InstallStore) ListActive(ctx context.Context, orgID string) ([]models.Installation, error) {
	query := `
		SELECT id, organization_id, key_hash, allowed_origin, active, created_at, updated_at
		FROM installations
		WHERE organization_id = $1 AND active = true;
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	var out []models.Installation
	for rows.Next() {
		var inst models.Installation
		if err := rows.Scan(
			&inst.ID,
			&inst.OrgID,
			&inst.KeyHash,
			&inst.AllowedOrigin,
			&inst.Active,
			&inst.CreatedAt,
			&inst.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installations: %w", err)
	}
	return out, nil
}

// Authenticate finds the active installation of orgID whose key matches rawKey.
func (s *InstallStore) Authenticate(ctx context.Context, orgID, rawKey string) (*models.Installation, error) {
	installs, err := s.ListActive(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for i := range installs {
		if bcrypt.CompareHashAndPassword(installs[i].KeyHash, []byte(rawKey)) == nil {
			return &installs[i], nil
		}
	}
	return nil, ErrInstallationNotFound
}
