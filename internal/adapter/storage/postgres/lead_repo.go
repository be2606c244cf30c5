package postgres

import (
	"context"
	"errors"
	"fmt"

	"metered-messaging/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// LeadRepo implements ports.LeadRepository.
type LeadRepo struct {
	pool Pool
}

// NewLeadRepo creates a new LeadRepo.
func NewLeadRepo(pool Pool) *LeadRepo {
	return &LeadRepo{pool: pool}
}

// Get fetches a lead by id. Returns nil, nil if absent.
func (r *LeadRepo) Get(ctx context.Context, id int64) (*domain.Lead, error) {
	query := `SELECT id, tenant_id, name, phone, status, pitch FROM leads WHERE id = $1`

	l := &domain.Lead{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.TenantID, &l.Name, &l.Phone, &l.Status, &l.Pitch,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}
