package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/domain"
	"outreach/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// UpsertSeller inserts a discovered seller or refreshes the existing row
// keyed by the external seller id. Duplicate discovery is a no-op update,
// never an error.
func (s *Store) UpsertSeller(ctx context.Context, in store.SellerUpsert) (store.UpsertResult, error) {
	var meta []byte
	if in.Metadata != nil {
		meta, _ = json.Marshal(in.Metadata)
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO sellers (seller_id, shop_name, shop_url, keyword, rating, total_products, contact_email, status, metadata, discovered_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'new',$8,$9,$9,$9)
		ON CONFLICT (seller_id) DO UPDATE SET
			shop_name = EXCLUDED.shop_name,
			shop_url = EXCLUDED.shop_url,
			keyword = EXCLUDED.keyword,
			rating = EXCLUDED.rating,
			total_products = EXCLUDED.total_products,
			contact_email = COALESCE(NULLIF(EXCLUDED.contact_email, ''), sellers.contact_email),
			metadata = COALESCE(EXCLUDED.metadata, sellers.metadata),
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS created
	`, in.ExternalID, in.ShopName, in.ShopURL, nullIfEmpty(in.Keyword), nullIfEmpty(in.Rating),
		zeroToNull(in.TotalProducts), nullIfEmpty(in.ContactEmail), meta, in.Now)

	var out store.UpsertResult
	if err := row.Scan(&out.SellerID, &out.Created); err != nil {
		return store.UpsertResult{}, err
	}
	return out, nil
}

func (s *Store) GetSeller(ctx context.Context, id int64) (domain.Seller, bool, error) {
	row := s.DB.QueryRow(ctx, sellerSelect+` WHERE id=$1`, id)
	sel, err := scanSeller(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Seller{}, false, nil
		}
		return domain.Seller{}, false, err
	}
	return sel, true, nil
}

func (s *Store) ListSellers(ctx context.Context, status string, limit int) ([]domain.Seller, error) {
	q := sellerSelect + ` ORDER BY discovered_at DESC LIMIT $1`
	args := []any{limit}
	if status != "" {
		q = sellerSelect + ` WHERE status=$1 ORDER BY discovered_at DESC LIMIT $2`
		args = []any{status, limit}
	}
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Seller
	for rows.Next() {
		sel, err := scanSeller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// SellersForOutreach returns researched sellers with no delivered contact
// inside the cooldown window, oldest discovery first.
func (s *Store) SellersForOutreach(ctx context.Context, cooldown time.Duration, now time.Time, limit int) ([]domain.Seller, error) {
	cutoff := now.Add(-cooldown)
	rows, err := s.DB.Query(ctx, sellerSelect+`
		WHERE status='researched'
		AND id NOT IN (
			SELECT seller_id FROM outreach_log
			WHERE status='sent' AND contacted_at >= $1
		)
		ORDER BY discovered_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Seller
	for rows.Next() {
		sel, err := scanSeller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSellerStatus(ctx context.Context, id int64, status string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE sellers SET status=$2, updated_at=$3 WHERE id=$1
	`, id, status, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSellerContacted(ctx context.Context, id int64, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sellers SET status='contacted', last_checked_at=$2, updated_at=$2 WHERE id=$1
	`, id, now)
	return err
}

const sellerSelect = `
	SELECT id, seller_id, shop_name, COALESCE(shop_url,''), COALESCE(keyword,''), status,
	       COALESCE(contact_email,''), COALESCE(rating,''), COALESCE(total_products,0),
	       metadata, discovered_at, last_checked_at
	FROM sellers`

func scanSeller(row pgx.Row) (domain.Seller, error) {
	var sel domain.Seller
	var meta []byte
	err := row.Scan(&sel.ID, &sel.ExternalID, &sel.ShopName, &sel.ShopURL, &sel.Keyword, &sel.Status,
		&sel.ContactEmail, &sel.Rating, &sel.TotalProducts, &meta, &sel.DiscoveredAt, &sel.LastCheckedAt)
	if err != nil {
		return domain.Seller{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &sel.Metadata)
	}
	return sel, nil
}

func (s *Store) CreateCampaign(ctx context.Context, in store.CampaignInsert) (int64, error) {
	status := in.Status
	if status == "" {
		status = string(domain.CampaignDraft)
	}
	limit := in.DailyLimit
	if limit <= 0 {
		limit = 10
	}
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO campaigns (name, message_template_id, keywords, status, start_date, end_date, daily_limit, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, in.Name, zeroToNull64(in.TemplateID), nullIfEmpty(in.Keywords), status,
		in.StartDate, in.EndDate, limit, nullIfEmpty(in.Notes)).Scan(&id)
	return id, err
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (domain.Campaign, bool, error) {
	row := s.DB.QueryRow(ctx, campaignSelect+` WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.DB.Query(ctx, campaignSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCampaignStatus moves a campaign between draft/active/stopped and stamps
// the matching start or end date.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status domain.CampaignStatus, now time.Time) error {
	var ct int64
	switch status {
	case domain.CampaignActive:
		tag, err := s.DB.Exec(ctx, `UPDATE campaigns SET status=$2, start_date=$3, updated_at=$3 WHERE id=$1`, id, status, now)
		if err != nil {
			return err
		}
		ct = tag.RowsAffected()
	case domain.CampaignStopped, domain.CampaignCompleted:
		tag, err := s.DB.Exec(ctx, `UPDATE campaigns SET status=$2, end_date=$3, updated_at=$3 WHERE id=$1`, id, status, now)
		if err != nil {
			return err
		}
		ct = tag.RowsAffected()
	default:
		tag, err := s.DB.Exec(ctx, `UPDATE campaigns SET status=$2, updated_at=$3 WHERE id=$1`, id, status, now)
		if err != nil {
			return err
		}
		ct = tag.RowsAffected()
	}
	if ct == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementCampaignSent(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx, `UPDATE campaigns SET total_sent = total_sent + 1, updated_at=now() WHERE id=$1`, id)
	return err
}

const campaignSelect = `
	SELECT id, name, COALESCE(message_template_id,0), COALESCE(keywords,''), status,
	       start_date, end_date, daily_limit, total_sent, COALESCE(notes,''), created_at
	FROM campaigns`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.TemplateID, &c.Keywords, &c.Status,
		&c.StartDate, &c.EndDate, &c.DailyLimit, &c.TotalSent, &c.Notes, &c.CreatedAt)
	return c, err
}

func (s *Store) CreateTemplate(ctx context.Context, in store.TemplateInsert) (int64, error) {
	tType := in.Type
	if tType == "" {
		tType = "outreach"
	}
	var vars []byte
	if in.Variables != nil {
		vars, _ = json.Marshal(in.Variables)
	}
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO message_templates (name, subject, body, template_type, variables)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, in.Name, nullIfEmpty(in.Subject), in.Body, tType, vars).Scan(&id)
	return id, err
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (domain.Template, bool, error) {
	row := s.DB.QueryRow(ctx, templateSelect+` WHERE id=$1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, false, nil
		}
		return domain.Template{}, false, err
	}
	return t, true, nil
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.Template, error) {
	q := templateSelect + ` ORDER BY created_at DESC`
	if activeOnly {
		q = templateSelect + ` WHERE is_active ORDER BY created_at DESC`
	}
	rows, err := s.DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeactivateTemplate is a soft delete; templates referenced by campaigns
// are never physically removed.
func (s *Store) DeactivateTemplate(ctx context.Context, id int64) error {
	ct, err := s.DB.Exec(ctx, `UPDATE message_templates SET is_active=false, updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const templateSelect = `
	SELECT id, name, COALESCE(subject,''), body, template_type, variables, is_active, created_at
	FROM message_templates`

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var t domain.Template
	var vars []byte
	err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Type, &vars, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return domain.Template{}, err
	}
	if len(vars) > 0 {
		_ = json.Unmarshal(vars, &t.Variables)
	}
	return t, nil
}

// DashboardStats aggregates counts for the operator dashboard.
func (s *Store) DashboardStats(ctx context.Context, dailyCap int, now time.Time) (store.Stats, error) {
	var st store.Stats
	queries := []struct {
		dst  *int
		sql  string
		args []any
	}{
		{&st.TotalSellers, `SELECT COUNT(*) FROM sellers`, nil},
		{&st.NewSellers, `SELECT COUNT(*) FROM sellers WHERE status='new'`, nil},
		{&st.ResearchedSellers, `SELECT COUNT(*) FROM sellers WHERE status='researched'`, nil},
		{&st.ContactedSellers, `SELECT COUNT(*) FROM sellers WHERE status='contacted'`, nil},
		{&st.TotalCampaigns, `SELECT COUNT(*) FROM campaigns`, nil},
		{&st.ActiveCampaigns, `SELECT COUNT(*) FROM campaigns WHERE status='active'`, nil},
		{&st.PendingApprovals, `SELECT COUNT(*) FROM outreach_log WHERE approval_status='pending'`, nil},
		{&st.ApprovedMessages, `SELECT COUNT(*) FROM outreach_log WHERE approval_status='approved'`, nil},
		{&st.MessagesDelivered, `SELECT COUNT(*) FROM outreach_log WHERE status='sent'`, nil},
		{&st.TrackedProfiles, `SELECT COUNT(*) FROM adspower_usage`, nil},
		{&st.EligibleProfiles, `SELECT COUNT(*) FROM adspower_usage
			WHERE messages_sent_today < $1
			AND (cooldown_until IS NULL OR cooldown_until < $2)`, []any{dailyCap, now}},
	}
	for _, q := range queries {
		if err := s.DB.QueryRow(ctx, q.sql, q.args...).Scan(q.dst); err != nil {
			return store.Stats{}, err
		}
	}
	return st, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func zeroToNull(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func zeroToNull64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
