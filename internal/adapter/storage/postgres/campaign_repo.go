package postgres

import (
	"context"
	"errors"
	"fmt"

	"metered-messaging/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CampaignRepo implements ports.CampaignRepository.
type CampaignRepo struct {
	pool Pool
}

// NewCampaignRepo creates a new CampaignRepo.
func NewCampaignRepo(pool Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `id, tenant_id, status, template_id, default_pitch, created_at, updated_at`

// Get fetches a campaign by id. Returns nil, nil if absent.
func (r *CampaignRepo) Get(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.pool.QueryRow(ctx, query, id))
}

// TransitionStatus performs a guarded status change, e.g. Paused→Running
// on resume. Returns whether a row actually moved, so a stale trigger
// against the wrong status is a visible no-op.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition campaign status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus unconditionally updates a campaign's status (executor-owned
// pause/complete paths where the current status was just read).
func (r *CampaignRepo) SetStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $1, updated_at = now() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign not found: %d", id)
	}
	return nil
}

// ListRunnable returns campaigns the scheduler should drive.
func (r *CampaignRepo) ListRunnable(ctx context.Context) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status IN ('Running', 'Scheduled') ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runnable campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c := domain.Campaign{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Status, &c.TemplateID, &c.DefaultPitch, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign rows: %w", err)
	}
	return campaigns, nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(&c.ID, &c.TenantID, &c.Status, &c.TemplateID, &c.DefaultPitch, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return c, nil
}
