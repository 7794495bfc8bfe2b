package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rebrick/rebrick/internal/model"
)

// SaveSiteRebuild inserts or updates a rebuild snapshot with the same
// version rule as SaveSiteAnalysis.
func (r *Repository) SaveSiteRebuild(ctx context.Context, rb *model.SiteRebuild) error {
	snap := rb.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode site rebuild: %w", err)
	}

	query := `
		INSERT INTO site_rebuilds (id, site_analysis_id, template_id, status, version, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		WHERE site_rebuilds.version <= EXCLUDED.version
	`

	tag, err := r.pool.Exec(ctx, query,
		snap.ID,
		snap.SiteAnalysisID,
		snap.TemplateID,
		snap.Status,
		snap.Version,
		data,
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("site rebuild %s references a missing analysis or template: %w", snap.ID, model.ErrEntityNotFound)
		}
		return fmt.Errorf("failed to save site rebuild: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.Conflict(model.KindSiteRebuild, snap.ID, snap.Version)
	}

	return nil
}

// GetSiteRebuild loads a rebuild by id.
func (r *Repository) GetSiteRebuild(ctx context.Context, id string) (*model.SiteRebuild, error) {
	query := `SELECT snapshot FROM site_rebuilds WHERE id = $1`

	var data []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound(model.KindSiteRebuild, id)
		}
		return nil, fmt.Errorf("failed to get site rebuild: %w", err)
	}

	var snap model.SiteRebuildSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode site rebuild %s: %w", id, err)
	}

	return model.ReconstituteSiteRebuild(snap)
}

// ListSiteRebuildIDs returns the rebuild ids of an analysis, newest first.
func (r *Repository) ListSiteRebuildIDs(ctx context.Context, siteAnalysisID string) ([]string, error) {
	query := `
		SELECT id FROM site_rebuilds
		WHERE site_analysis_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, siteAnalysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site rebuilds: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan site rebuild ids: %w", err)
	}

	return ids, nil
}
