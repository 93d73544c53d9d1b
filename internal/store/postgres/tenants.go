package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/executor"
	"github.com/JonMunkholm/snapimport/internal/record"
)

// ResolveOrganization implements core.Tenants.
func (s *Store) ResolveOrganization(ctx context.Context, orgID uuid.UUID) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM organizations WHERE id = $1`, orgID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("organization %s: %w", orgID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select organization: %w", err)
	}
	return nil
}

// ResolveScope implements core.Tenants. The application must belong to the
// organization.
func (s *Store) ResolveScope(ctx context.Context, orgID, appID uuid.UUID) (executor.Store, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM applications WHERE id = $1 AND organization_id = $2`, appID, orgID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %s in organization %s: %w", appID, orgID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select application: %w", err)
	}
	return &Scope{pool: s.pool, appID: appID}, nil
}

// EnsureApplication registers an organization and one of its applications.
func (s *Store) EnsureApplication(ctx context.Context, orgID, appID uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO organizations (id) VALUES ($1) ON CONFLICT DO NOTHING`, orgID); err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO applications (id, organization_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			appID, orgID); err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		return nil
	})
}

// Scope is the entity store of one application.
type Scope struct {
	pool  *pgxpool.Pool
	appID uuid.UUID
}

var _ executor.Store = (*Scope)(nil)

// CreateWithID inserts an entity, replacing one already stored under id.
func (s *Scope) CreateWithID(ctx context.Context, entityType string, id uuid.UUID, props map[string]any) error {
	body, err := json.Marshal(nonNil(props))
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (application_id, id, type, properties) VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id, id) DO UPDATE SET type = EXCLUDED.type, properties = EXCLUDED.properties`,
		s.appID, id, entityType, body)
	if err != nil {
		return fmt.Errorf("insert entity: %w", mapWriteError(err))
	}
	return nil
}

// CreateRelationship links owner to target. Linking twice is a no-op.
func (s *Scope) CreateRelationship(ctx context.Context, owner record.Ref, relation string, target record.Ref) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connections (application_id, owner_id, relation, target_id, target_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		s.appID, owner.ID, relation, target.ID, target.Type)
	if err != nil {
		return fmt.Errorf("insert connection: %w", mapWriteError(err))
	}
	return nil
}

// MergeDictionary merges entries into the owner's named dictionary; keys
// already present are overwritten.
func (s *Scope) MergeDictionary(ctx context.Context, owner record.Ref, name string, entries map[string]any) error {
	body, err := json.Marshal(nonNil(entries))
	if err != nil {
		return fmt.Errorf("encode dictionary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dictionaries (application_id, owner_id, name, entries) VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id, owner_id, name)
		DO UPDATE SET entries = dictionaries.entries || EXCLUDED.entries`,
		s.appID, owner.ID, name, body)
	if err != nil {
		return fmt.Errorf("merge dictionary: %w", mapWriteError(err))
	}
	return nil
}

// ResolveRef returns the typed reference of a stored entity.
func (s *Scope) ResolveRef(ctx context.Context, id uuid.UUID) (record.Ref, error) {
	var typ string
	err := s.pool.QueryRow(ctx,
		`SELECT type FROM entities WHERE application_id = $1 AND id = $2`, s.appID, id,
	).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Ref{}, executor.ErrNotFound
	}
	if err != nil {
		return record.Ref{}, fmt.Errorf("select entity: %w", err)
	}
	return record.NewRef(typ, id), nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// mapWriteError turns a foreign key violation into executor.ErrNotFound,
// keeping the driver message.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", executor.ErrNotFound, pgErr.Message)
	}
	return err
}
