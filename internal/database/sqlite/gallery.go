package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kozaktomas/face-checkin/internal/database"
)

func (s *Store) templateCounts(ctx context.Context, ids []string) (map[string]int, error) {
	var rows []struct {
		IdentityID string
		N          int
	}
	q := s.db.WithContext(ctx).Model(&templateRow{}).Select("identity_id, COUNT(*) AS n").Group("identity_id")
	if ids != nil {
		q = q.Where("identity_id IN ?", ids)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count templates: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.IdentityID] = r.N
	}
	return counts, nil
}

func toIdentity(row identityRow, count int) *database.Identity {
	return &database.Identity{
		ID:             row.ID,
		Name:           row.Name,
		NameNormalized: row.NameNormalized,
		CreatedAt:      row.CreatedAt,
		TemplateCount:  count,
	}
}

// FetchTemplates returns every enrolled template ordered by ID.
func (s *Store) FetchTemplates(ctx context.Context) ([]database.EnrolledTemplate, error) {
	var rows []templateRow
	if err := s.db.WithContext(ctx).Preload("Identity").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}

	templates := make([]database.EnrolledTemplate, len(rows))
	for i, r := range rows {
		templates[i] = database.EnrolledTemplate{
			ID:         r.ID,
			IdentityID: r.IdentityID,
			Name:       r.Identity.Name,
			Vector:     r.Vector.Slice(),
			Dim:        r.Dim,
			CreatedAt:  r.CreatedAt,
		}
	}
	return templates, nil
}

func (s *Store) findIdentity(ctx context.Context, query string, args ...any) (*database.Identity, error) {
	var row identityRow
	err := s.db.WithContext(ctx).Where(query, args...).Order("created_at, id").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	counts, err := s.templateCounts(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	return toIdentity(row, counts[row.ID]), nil
}

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	return s.findIdentity(ctx, "id = ?", id)
}

// FindIdentityByName looks up the oldest identity with the given normalized name.
func (s *Store) FindIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	return s.findIdentity(ctx, "name_normalized = ?", database.NormalizeName(name))
}

// ListIdentities returns all identities ordered by normalized name.
func (s *Store) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	var rows []identityRow
	if err := s.db.WithContext(ctx).Order("name_normalized, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	counts, err := s.templateCounts(ctx, nil)
	if err != nil {
		return nil, err
	}
	identities := make([]database.Identity, len(rows))
	for i, r := range rows {
		identities[i] = *toIdentity(r, counts[r.ID])
	}
	return identities, nil
}

// CountTemplates returns the number of enrolled templates.
func (s *Store) CountTemplates(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&templateRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return int(n), nil
}

// Enroll creates the identity if needed and inserts the template.
func (s *Store) Enroll(
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := identityRow{
			ID:             identity.ID,
			Name:           identity.Name,
			NameNormalized: database.NormalizeName(identity.Name),
		}
		if err := tx.Where(identityRow{ID: identity.ID}).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("upsert identity: %w", err)
		}

		trow := templateRow{
			ID:         tmpl.ID,
			IdentityID: row.ID,
			Vector:     pgvector.NewVector(tmpl.Vector),
			Dim:        len(tmpl.Vector),
		}
		if err := tx.Omit("Identity").Create(&trow).Error; err != nil {
			return fmt.Errorf("insert template: %w", err)
		}

		tmpl.IdentityID = row.ID
		tmpl.Name = row.Name
		tmpl.Dim = trow.Dim
		tmpl.CreatedAt = trow.CreatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// DeleteIdentity removes an identity and its templates.
func (s *Store) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	var deleted []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&templateRow{}).Where("identity_id = ?", id).Order("id").Pluck("id", &deleted).Error; err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		if err := tx.Where("identity_id = ?", id).Delete(&templateRow{}).Error; err != nil {
			return fmt.Errorf("delete templates: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&identityRow{})
		if res.Error != nil {
			return fmt.Errorf("delete identity: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return database.ErrIdentityNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// NearestTemplates ranks templates by cosine distance in memory.
func (s *Store) NearestTemplates(ctx context.Context, vector []float32, k int) ([]string, error) {
	templates, err := s.FetchTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return database.RankByCosine(templates, vector, k), nil
}
