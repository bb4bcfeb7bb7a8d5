package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// GalleryRepository provides PostgreSQL-backed identity and template storage.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new PostgreSQL gallery repository.
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// FetchTemplates returns every enrolled template ordered by ID.
func (r *GalleryRepository) FetchTemplates(ctx context.Context) ([]database.EnrolledTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.identity_id, i.name, t.vector, t.dim, t.created_at
		FROM templates t
		JOIN identities i ON i.id = t.identity_id
		ORDER BY t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []database.EnrolledTemplate
	for rows.Next() {
		var tmpl database.EnrolledTemplate
		var vec pgvector.Vector
		if err := rows.Scan(&tmpl.ID, &tmpl.IdentityID, &tmpl.Name, &vec, &tmpl.Dim, &tmpl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tmpl.Vector = vec.Slice()
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

const identityColumns = `
	SELECT i.id, i.name, i.name_normalized, i.created_at,
	       (SELECT COUNT(*) FROM templates t WHERE t.identity_id = i.id)
	FROM identities i
`

func scanIdentity(scanner interface{ Scan(...any) error }) (database.Identity, error) {
	var identity database.Identity
	err := scanner.Scan(&identity.ID, &identity.Name, &identity.NameNormalized, &identity.CreatedAt, &identity.TemplateCount)
	return identity, err
}

// GetIdentity retrieves an identity by ID.
func (r *GalleryRepository) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx, identityColumns+" WHERE i.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &identity, nil
}

// FindIdentityByName looks up the oldest identity with the given normalized name.
func (r *GalleryRepository) FindIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	normalized := database.NormalizeName(name)
	identity, err := scanIdentity(r.pool.QueryRow(ctx,
		identityColumns+" WHERE i.name_normalized = $1 ORDER BY i.created_at, i.id LIMIT 1", normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity by name: %w", err)
	}
	return &identity, nil
}

// ListIdentities returns all identities ordered by normalized name.
func (r *GalleryRepository) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, identityColumns+" ORDER BY i.name_normalized, i.id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// CountTemplates returns the number of enrolled templates.
func (r *GalleryRepository) CountTemplates(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

// Enroll upserts the identity and inserts the template in one transaction.
// An existing identity keeps its name.
func (r *GalleryRepository) Enroll(
	ctx context.Context, identity database.Identity, tmpl database.EnrolledTemplate,
) (*database.EnrolledTemplate, error) {
	if identity.ID == "" {
		return nil, errors.New("identity id is required")
	}
	if len(tmpl.Vector) == 0 {
		return nil, errors.New("template vector is empty")
	}
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (id, name, name_normalized)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, identity.ID, identity.Name, database.NormalizeName(identity.Name)); err != nil {
		return nil, fmt.Errorf("upsert identity: %w", err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT name FROM identities WHERE id = $1", identity.ID).Scan(&tmpl.Name); err != nil {
		return nil, fmt.Errorf("read identity name: %w", err)
	}

	tmpl.IdentityID = identity.ID
	tmpl.Dim = len(tmpl.Vector)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO templates (id, identity_id, vector, dim)
		VALUES ($1, $2, $3::vector, $4)
		RETURNING created_at
	`, tmpl.ID, tmpl.IdentityID, pgvector.NewVector(tmpl.Vector), tmpl.Dim).Scan(&tmpl.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &tmpl, nil
}

// DeleteIdentity removes an identity; templates are removed by cascade.
func (r *GalleryRepository) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "DELETE FROM templates WHERE identity_id = $1 RETURNING id", id)
	if err != nil {
		return nil, fmt.Errorf("delete templates: %w", err)
	}
	var deleted []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan template id: %w", err)
		}
		deleted = append(deleted, tid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted templates: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("delete identity: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, database.ErrIdentityNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}

// NearestTemplates ranks templates of the same dimension by cosine distance.
func (r *GalleryRepository) NearestTemplates(ctx context.Context, vector []float32, k int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM templates
		WHERE dim = $2
		ORDER BY vector <=> $1::vector, id
		LIMIT $3
	`, pgvector.NewVector(vector), len(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest templates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan template id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest templates: %w", err)
	}
	return ids, nil
}
