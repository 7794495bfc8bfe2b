package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rebrick/rebrick/internal/model"
)

// ErrTemplateNameExists is returned when a different template already
// uses the name.
var ErrTemplateNameExists = errors.New("template name already exists")

const templateColumns = `id, name, type, description, layout, color_scheme, typography, is_active, created_at, updated_at`

// CreateTemplate inserts a new template.
func (r *Repository) CreateTemplate(ctx context.Context, t *model.PageTemplate) error {
	args, err := templateArgs(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO page_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrTemplateNameExists
		}
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// UpsertTemplateByName inserts t, or updates the template already stored
// under the same name. t.ID is replaced with the stored id.
func (r *Repository) UpsertTemplateByName(ctx context.Context, t *model.PageTemplate) error {
	args, err := templateArgs(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO page_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			layout = EXCLUDED.layout,
			color_scheme = EXCLUDED.color_scheme,
			typography = EXCLUDED.typography,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&t.ID); err != nil {
		return fmt.Errorf("failed to upsert template %q: %w", t.Name, err)
	}

	return nil
}

// GetTemplate loads a template by id.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*model.PageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM page_templates WHERE id = $1`

	t, err := scanTemplate(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("page_template", id)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return t, nil
}

// GetTemplateByName loads a template by its unique name.
func (r *Repository) GetTemplateByName(ctx context.Context, name string) (*model.PageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM page_templates WHERE name = $1`

	t, err := scanTemplate(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("page_template", name)
		}
		return nil, fmt.Errorf("failed to get template by name: %w", err)
	}

	return t, nil
}

// ListActiveTemplates returns selectable templates ordered by name.
func (r *Repository) ListActiveTemplates(ctx context.Context) ([]*model.PageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM page_templates WHERE is_active ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*model.PageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func templateArgs(t *model.PageTemplate) ([]any, error) {
	layout, err := json.Marshal(t.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to encode layout: %w", err)
	}
	colors, err := json.Marshal(t.ColorScheme)
	if err != nil {
		return nil, fmt.Errorf("failed to encode color scheme: %w", err)
	}
	typography, err := json.Marshal(t.Typography)
	if err != nil {
		return nil, fmt.Errorf("failed to encode typography: %w", err)
	}
	return []any{
		t.ID,
		t.Name,
		string(t.Type),
		t.Description,
		layout,
		colors,
		typography,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	}, nil
}

// scanTemplate scans a single row into a PageTemplate.
func scanTemplate(row pgx.Row) (*model.PageTemplate, error) {
	var (
		t                          model.PageTemplate
		templateType               string
		layout, colors, typography []byte
	)

	err := row.Scan(
		&t.ID,
		&t.Name,
		&templateType,
		&t.Description,
		&layout,
		&colors,
		&typography,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = model.TemplateType(templateType)
	if err := json.Unmarshal(layout, &t.Layout); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if err := json.Unmarshal(colors, &t.ColorScheme); err != nil {
		return nil, fmt.Errorf("decode color scheme: %w", err)
	}
	if err := json.Unmarshal(typography, &t.Typography); err != nil {
		return nil, fmt.Errorf("decode typography: %w", err)
	}

	return &t, nil
}
