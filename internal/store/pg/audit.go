package pg

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

func (s *Store) InsertAudit(ctx context.Context, in store.AuditInsert) error {
	var details []byte
	if in.Details != nil {
		details, _ = json.Marshal(in.Details)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_log (action, entity_type, entity_id, user_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Action, nullIfEmpty(in.EntityType), nullIfEmpty(in.EntityID), in.Actor, details, in.Now)
	return err
}

func (s *Store) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEntry, error) {
	q := `
		SELECT id, action, COALESCE(entity_type,''), COALESCE(entity_id,''), user_id, details, created_at
		FROM audit_log`
	args := []any{}
	n := 1
	if entityType != "" {
		q += ` WHERE entity_type=$1`
		args = append(args, entityType)
		n++
		if entityID != "" {
			q += ` AND entity_id=$2`
			args = append(args, entityID)
			n++
		}
	}
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n)
	args = append(args, limit)

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EnqueueResearch(ctx context.Context, keyword string, now time.Time) (int64, error) {
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO research_queue (keyword, status, created_at) VALUES ($1,'pending',$2)
		RETURNING id
	`, keyword, now).Scan(&id)
	return id, err
}

func (s *Store) ListResearchQueue(ctx context.Context, limit int) ([]domain.ResearchJob, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, keyword, status, products_found, sellers_found, started_at, completed_at, COALESCE(error_message,''), created_at
		FROM research_queue ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResearchJob
	for rows.Next() {
		var j domain.ResearchJob
		if err := rows.Scan(&j.ID, &j.Keyword, &j.Status, &j.ProductsFound, &j.SellersFound,
			&j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// BumpResearchCounters credits discovered sellers to the newest matching
// keyword job, marking it running on first credit.
func (s *Store) BumpResearchCounters(ctx context.Context, keyword string, sellers int, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE research_queue
		SET sellers_found = sellers_found + $2,
		    status = CASE WHEN status = 'pending' THEN 'running' ELSE status END,
		    started_at = COALESCE(started_at, $3)
		WHERE id = (
			SELECT id FROM research_queue
			WHERE keyword=$1 AND status IN ('pending','running')
			ORDER BY created_at DESC LIMIT 1
		)
	`, keyword, sellers, now)
	return err
}

func (s *Store) CompleteResearch(ctx context.Context, id int64, errMsg string, now time.Time) error {
	status := "completed"
	if errMsg != "" {
		status = "failed"
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE research_queue SET status=$2, error_message=$3, completed_at=$4 WHERE id=$1
	`, id, status, nullIfEmpty(errMsg), now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
