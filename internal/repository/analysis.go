package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rebrick/rebrick/internal/model"
)

// SaveSiteAnalysis inserts or updates an analysis snapshot. The write is
// rejected with model.ErrConcurrency when the stored row already carries
// a newer version.
func (r *Repository) SaveSiteAnalysis(ctx context.Context, a *model.SiteAnalysis) error {
	snap := a.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode site analysis: %w", err)
	}

	query := `
		INSERT INTO site_analyses (id, url, status, version, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		WHERE site_analyses.version <= EXCLUDED.version
	`

	tag, err := r.pool.Exec(ctx, query,
		snap.ID,
		snap.URL,
		snap.Status,
		snap.Version,
		data,
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save site analysis: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.Conflict(model.KindSiteAnalysis, snap.ID, snap.Version)
	}

	return nil
}

// GetSiteAnalysis loads an analysis by id.
func (r *Repository) GetSiteAnalysis(ctx context.Context, id string) (*model.SiteAnalysis, error) {
	query := `SELECT snapshot FROM site_analyses WHERE id = $1`

	var data []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound(model.KindSiteAnalysis, id)
		}
		return nil, fmt.Errorf("failed to get site analysis: %w", err)
	}

	var snap model.SiteAnalysisSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode site analysis %s: %w", id, err)
	}

	return model.ReconstituteSiteAnalysis(snap)
}

// LatestSiteAnalysisForURL returns the most recent analysis of a site.
func (r *Repository) LatestSiteAnalysisForURL(ctx context.Context, siteURL model.URL) (*model.SiteAnalysis, error) {
	query := `
		SELECT id FROM site_analyses
		WHERE url = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var id string
	if err := r.pool.QueryRow(ctx, query, siteURL.String()).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound(model.KindSiteAnalysis, siteURL.String())
		}
		return nil, fmt.Errorf("failed to find site analysis by url: %w", err)
	}

	return r.GetSiteAnalysis(ctx, id)
}
