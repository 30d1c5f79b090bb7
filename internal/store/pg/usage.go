package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"outreach/internal/domain"
)

func (s *Store) GetProfileUsage(ctx context.Context, profileID string) (domain.ProfileUsage, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT profile_id, last_used, messages_sent_today, total_messages_sent, cooldown_until, last_reset
		FROM adspower_usage WHERE profile_id=$1
	`, profileID)
	var u domain.ProfileUsage
	err := row.Scan(&u.ProfileID, &u.LastUsed, &u.SentToday, &u.SentTotal, &u.CooldownUntil, &u.LastReset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProfileUsage{}, false, nil
		}
		return domain.ProfileUsage{}, false, err
	}
	return u, true, nil
}

func (s *Store) ListProfileUsage(ctx context.Context) ([]domain.ProfileUsage, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT profile_id, last_used, messages_sent_today, total_messages_sent, cooldown_until, last_reset
		FROM adspower_usage ORDER BY last_used DESC NULLS LAST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProfileUsage
	for rows.Next() {
		var u domain.ProfileUsage
		if err := rows.Scan(&u.ProfileID, &u.LastUsed, &u.SentToday, &u.SentTotal, &u.CooldownUntil, &u.LastReset); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateProfileUsage seeds a zeroed ledger row for a profile seen for the
// first time. Racing creates are fine: the conflict is a no-op.
func (s *Store) CreateProfileUsage(ctx context.Context, profileID string, day time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO adspower_usage (profile_id, last_used, messages_sent_today, total_messages_sent, last_reset)
		VALUES ($1,$2,0,0,$2)
		ON CONFLICT (profile_id) DO NOTHING
	`, profileID, day)
	return err
}

// ResetDailyCount implements the lazy daily reset: the counter is zeroed
// the first time the row is touched on a new calendar day. No timer ever
// runs against this table.
func (s *Store) ResetDailyCount(ctx context.Context, profileID string, day time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE adspower_usage SET messages_sent_today=0, last_reset=$2, updated_at=now()
		WHERE profile_id=$1 AND last_reset IS DISTINCT FROM $2
	`, profileID, day)
	return err
}

// RecordProfileSend bumps both counters and, when the increment reaches the
// daily cap, arms the cooldown in the same statement. One UPDATE means a
// crash can never leave the counter past the cap without the cooldown:
// eligibility is always recomputable from the stored row alone.
func (s *Store) RecordProfileSend(ctx context.Context, profileID string, day time.Time, dailyCap int, cooldownUntil time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO adspower_usage (profile_id, last_used, messages_sent_today, total_messages_sent, cooldown_until, last_reset)
		VALUES ($1, $2, 1, 1, CASE WHEN 1 >= $3 THEN $4::timestamptz ELSE NULL END, $2)
		ON CONFLICT (profile_id) DO UPDATE SET
			messages_sent_today = adspower_usage.messages_sent_today + 1,
			total_messages_sent = adspower_usage.total_messages_sent + 1,
			last_used = $2,
			cooldown_until = CASE
				WHEN adspower_usage.messages_sent_today + 1 >= $3 THEN $4::timestamptz
				ELSE adspower_usage.cooldown_until
			END,
			updated_at = now()
	`, profileID, day, dailyCap, cooldownUntil)
	return err
}
