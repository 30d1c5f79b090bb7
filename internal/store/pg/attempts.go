package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach/internal/domain"
	"outreach/internal/store"
)

// InsertAttempt creates an outreach log entry. Both status columns start at
// 'pending' at the schema level; nothing here can create a pre-approved or
// pre-sent attempt.
func (s *Store) InsertAttempt(ctx context.Context, in store.AttemptInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO outreach_log (id, seller_id, campaign_id, message_sent, adspower_profile_id, status, approval_status, created_at)
		VALUES ($1,$2,$3,$4,$5,'pending','pending',$6)
	`, in.ID, in.SellerID, in.CampaignID, in.Message, nullIfEmpty(in.ProfileID), in.Now)
	return err
}

func (s *Store) GetAttempt(ctx context.Context, id string) (domain.Attempt, bool, error) {
	row := s.DB.QueryRow(ctx, attemptSelect+` WHERE ol.id=$1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attempt{}, false, nil
		}
		return domain.Attempt{}, false, err
	}
	return a, true, nil
}

// ListPendingApprovals returns attempts awaiting review, oldest first,
// joined with seller and campaign display fields.
func (s *Store) ListPendingApprovals(ctx context.Context) ([]domain.Attempt, error) {
	rows, err := s.DB.Query(ctx, attemptSelect+`
		WHERE ol.approval_status='pending'
		ORDER BY ol.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ApprovedPending is the engine's batch: approved, undelivered, oldest first.
func (s *Store) ApprovedPending(ctx context.Context) ([]domain.Attempt, error) {
	rows, err := s.DB.Query(ctx, attemptSelect+`
		WHERE ol.approval_status='approved' AND ol.status='pending'
		ORDER BY ol.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

// ApproveAttempt records the decision only while the attempt is still
// pending review; a prior terminal decision is never overwritten.
func (s *Store) ApproveAttempt(ctx context.Context, id, approver string, now time.Time) error {
	return s.decide(ctx, id, domain.ApprovalApproved, approver, now)
}

func (s *Store) RejectAttempt(ctx context.Context, id, approver string, now time.Time) error {
	return s.decide(ctx, id, domain.ApprovalRejected, approver, now)
}

func (s *Store) decide(ctx context.Context, id string, decision domain.ApprovalStatus, approver string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outreach_log
		SET approval_status=$2, approved_by=$3, approved_at=$4
		WHERE id=$1 AND approval_status='pending'
	`, id, decision, approver, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM outreach_log WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyDecided
}

// MarkAttemptSent flips delivery to 'sent'. The WHERE guard enforces the
// core invariant: only approved, still-pending attempts can be delivered,
// and a sent attempt is immutable.
func (s *Store) MarkAttemptSent(ctx context.Context, id, profileID string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outreach_log
		SET status='sent', adspower_profile_id=$2, contacted_at=$3, error_message=NULL
		WHERE id=$1 AND approval_status='approved' AND status='pending'
	`, id, profileID, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAttemptFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outreach_log
		SET status='failed', error_message=$2
		WHERE id=$1 AND status='pending'
	`, id, errMsg)
	return err
}

// LastContactAt returns the most recent delivered contact for the seller.
// Failed attempts do not count: only a message that actually went out arms
// the seller-level cooldown.
func (s *Store) LastContactAt(ctx context.Context, sellerID int64) (*time.Time, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT contacted_at FROM outreach_log
		WHERE seller_id=$1 AND status='sent' AND contacted_at IS NOT NULL
		ORDER BY contacted_at DESC
		LIMIT 1
	`, sellerID)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

const attemptSelect = `
	SELECT ol.id, ol.seller_id, ol.campaign_id, ol.message_sent, COALESCE(ol.adspower_profile_id,''),
	       ol.status, ol.approval_status, COALESCE(ol.approved_by,''), ol.approved_at,
	       ol.contacted_at, COALESCE(ol.error_message,''), ol.created_at,
	       s.shop_name, COALESCE(s.shop_url,''), c.name
	FROM outreach_log ol
	JOIN sellers s ON ol.seller_id = s.id
	JOIN campaigns c ON ol.campaign_id = c.id`

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var a domain.Attempt
	err := row.Scan(&a.ID, &a.SellerID, &a.CampaignID, &a.Message, &a.ProfileID,
		&a.Delivery, &a.Approval, &a.ApprovedBy, &a.ApprovedAt,
		&a.ContactedAt, &a.LastError, &a.CreatedAt,
		&a.ShopName, &a.ShopURL, &a.CampaignName)
	return a, err
}

func collectAttempts(rows pgx.Rows) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
