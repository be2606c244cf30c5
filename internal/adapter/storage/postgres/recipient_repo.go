package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"metered-messaging/internal/core/domain"
)

// RecipientRepo implements ports.RecipientRepository. Recipient rows are
// an audit trail: they change status but are never deleted.
type RecipientRepo struct {
	pool Pool
}

// NewRecipientRepo creates a new RecipientRepo.
func NewRecipientRepo(pool Pool) *RecipientRepo {
	return &RecipientRepo{pool: pool}
}

// ListPending returns the next batch in ascending id order. The stable
// ordering makes batch runs resumable: a crash mid-batch re-selects the
// untouched remainder in the same order. Recipients deferred past now
// are excluded until their window opens.
func (r *RecipientRepo) ListPending(ctx context.Context, campaignID int64, limit int, now time.Time) ([]domain.CampaignRecipient, error) {
	query := `SELECT id, campaign_id, lead_id, send_status, send_at, error_code, credit_units, meta
		FROM campaign_recipients
		WHERE campaign_id = $1 AND send_status = 'Pending'
		  AND (send_at IS NULL OR send_at <= $2)
		ORDER BY id ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.CampaignRecipient
	for rows.Next() {
		rec := domain.CampaignRecipient{}
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.LeadID, &rec.SendStatus,
			&rec.SendAt, &rec.ErrorCode, &rec.CreditUnits, &meta); err != nil {
			return nil, fmt.Errorf("scan recipient row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Meta); err != nil {
				return nil, fmt.Errorf("decode recipient meta: %w", err)
			}
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipient rows: %w", err)
	}
	return recipients, nil
}

// CountPending counts every Pending recipient, deferred ones included —
// a deferred recipient still blocks campaign completion.
func (r *RecipientRepo) CountPending(ctx context.Context, campaignID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1 AND send_status = 'Pending'`

	var count int64
	if err := r.pool.QueryRow(ctx, query, campaignID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending recipients: %w", err)
	}
	return count, nil
}

// MarkError terminally fails one recipient with an explicit error code.
func (r *RecipientRepo) MarkError(ctx context.Context, id int64, errorCode string) error {
	query := `UPDATE campaign_recipients SET send_status = 'Error', error_code = $1 WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, errorCode, id)
	if err != nil {
		return fmt.Errorf("mark recipient error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient not found: %d", id)
	}
	return nil
}

// Defer pushes a recipient's send_at past the quiet-hours window. The
// recipient stays Pending.
func (r *RecipientRepo) Defer(ctx context.Context, id int64, sendAt time.Time) error {
	query := `UPDATE campaign_recipients SET send_at = $1 WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, sendAt, id)
	if err != nil {
		return fmt.Errorf("defer recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient not found: %d", id)
	}
	return nil
}

// MarkSent records a successful delivery with the provider reference.
func (r *RecipientRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time, meta map[string]any) error {
	m, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode recipient meta: %w", err)
	}

	query := `UPDATE campaign_recipients SET send_status = 'Sent', send_at = $1, meta = $2 WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, sentAt, m, id)
	if err != nil {
		return fmt.Errorf("mark recipient sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient not found: %d", id)
	}
	return nil
}
