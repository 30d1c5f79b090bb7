//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/approval"
	"outreach/internal/audit"
	"outreach/internal/domain"
	"outreach/internal/engine"
	"outreach/internal/ledger"
	"outreach/internal/policy"
	"outreach/internal/store"
	"outreach/internal/store/pg"
)

func TestLedgerCapAndCooldownRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	l := ledger.New(st)
	l.DailyCap = 2

	u, err := l.CheckUsage(ctx, "prof-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !u.CanSend {
		t.Fatalf("fresh profile should be eligible: %+v", u)
	}

	if err := l.RecordSent(ctx, "prof-1"); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	u, err = l.CheckUsage(ctx, "prof-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !u.CanSend || u.MessagesToday != 1 {
		t.Fatalf("one send below cap should stay eligible: %+v", u)
	}

	if err := l.RecordSent(ctx, "prof-1"); err != nil {
		t.Fatalf("record 2: %v", err)
	}
	u, err = l.CheckUsage(ctx, "prof-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if u.CanSend || !u.Cooldown || u.CooldownUntil == nil {
		t.Fatalf("cap reached, expected armed cooldown: %+v", u)
	}
	if until := time.Until(*u.CooldownUntil); until < 119*24*time.Hour {
		t.Fatalf("cooldown window too short: %v", until)
	}
}

func TestApprovalTransitions(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	sellerID, campaignID := seedSellerAndCampaign(t, db)

	q := approval.New(st, policy.New(st), audit.NewRecorder(st))
	attemptID, err := q.Enqueue(ctx, sellerID, campaignID, "hello there", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	a, found, err := st.GetAttempt(ctx, attemptID)
	if err != nil || !found {
		t.Fatalf("get attempt: found=%v err=%v", found, err)
	}
	if a.Approval != domain.ApprovalPending || a.Delivery != domain.DeliveryPending {
		t.Fatalf("new attempt must be pending/pending, got %s/%s", a.Approval, a.Delivery)
	}

	if err := q.Approve(ctx, attemptID, "alice"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := q.Approve(ctx, attemptID, "bob"); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("second approve should be refused, got %v", err)
	}
	if err := q.Reject(ctx, attemptID, "bob", ""); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("reject after approve should be refused, got %v", err)
	}
	if err := q.Approve(ctx, "att_missing", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id should be not found, got %v", err)
	}
}

type stubSession struct{}

func (stubSession) Navigate(context.Context, string) error { return nil }
func (stubSession) SubmitContactForm(context.Context, string) (bool, error) {
	return true, nil
}
func (stubSession) Release() {}

type stubProvider struct{}

func (stubProvider) ListProfiles(context.Context) ([]domain.Profile, error) {
	return []domain.Profile{{ID: "prof-1"}}, nil
}

func (stubProvider) Acquire(context.Context, string) (engine.Session, error) {
	return stubSession{}, nil
}

func TestEngineHappyPath(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	sellerID, campaignID := seedSellerAndCampaign(t, db)

	q := approval.New(st, policy.New(st), audit.NewRecorder(st))
	attemptID, err := q.Enqueue(ctx, sellerID, campaignID, "hello there", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Approve(ctx, attemptID, "alice"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	eng := engine.New(st, ledger.New(st), policy.New(st), stubProvider{}, audit.NewRecorder(st))
	eng.Sleep = func(context.Context, time.Duration) error { return nil }

	res, err := eng.Run(ctx, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 1 || res.Sent != 1 {
		t.Fatalf("results = %+v", res)
	}

	a, found, err := st.GetAttempt(ctx, attemptID)
	if err != nil || !found {
		t.Fatalf("get attempt: found=%v err=%v", found, err)
	}
	if a.Delivery != domain.DeliverySent || a.ContactedAt == nil || a.ProfileID != "prof-1" {
		t.Fatalf("attempt not marked sent: %+v", a)
	}

	// Seller cooldown is armed by the delivery, so a second enqueue refuses.
	if _, err := q.Enqueue(ctx, sellerID, campaignID, "hello again", ""); !errors.Is(err, domain.ErrSellerInCooldown) {
		t.Fatalf("expected cooldown refusal after delivery, got %v", err)
	}

	// Profile usage counted the send.
	u, found, err := st.GetProfileUsage(ctx, "prof-1")
	if err != nil || !found {
		t.Fatalf("usage row: found=%v err=%v", found, err)
	}
	if u.SentToday != 1 || u.SentTotal != 1 {
		t.Fatalf("usage = %+v", u)
	}

	// Sent is terminal: a second run sees an empty batch.
	res, err = eng.Run(ctx, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("delivered attempt must not be re-dispatched: %+v", res)
	}
}

func TestOutreachCandidates(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	sellerID, campaignID := seedSellerAndCampaign(t, db)
	now := time.Now().UTC()
	cooldown := 120 * 24 * time.Hour

	// New sellers are not candidates until research promotes them.
	got, err := st.SellersForOutreach(ctx, cooldown, now, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unresearched seller must not be offered: %+v", got)
	}

	if err := st.UpdateSellerStatus(ctx, sellerID, "researched", now); err != nil {
		t.Fatalf("promote seller: %v", err)
	}
	got, err = st.SellersForOutreach(ctx, cooldown, now, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != sellerID {
		t.Fatalf("researched seller should be offered, got %+v", got)
	}

	// A delivered contact removes the seller for the cooldown window.
	if err := st.InsertAttempt(ctx, store.AttemptInsert{
		ID: "att_cand_1", SellerID: sellerID, CampaignID: campaignID,
		Message: "hello", Now: now,
	}); err != nil {
		t.Fatalf("insert attempt: %v", err)
	}
	if err := st.ApproveAttempt(ctx, "att_cand_1", "alice", now); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := st.MarkAttemptSent(ctx, "att_cand_1", "prof-1", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, err = st.SellersForOutreach(ctx, cooldown, now, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("seller contacted inside the window must be excluded: %+v", got)
	}

	// Once the window elapses the seller is offered again.
	got, err = st.SellersForOutreach(ctx, cooldown, now.Add(cooldown+time.Hour), 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("seller should return after the window, got %+v", got)
	}
}

func TestResearchLifecycle(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	now := time.Now().UTC()

	id, err := st.EnqueueResearch(ctx, "vintage mugs", now)
	if err != nil {
		t.Fatalf("enqueue research: %v", err)
	}
	if err := st.BumpResearchCounters(ctx, "vintage mugs", 2, now); err != nil {
		t.Fatalf("bump counters: %v", err)
	}

	job := researchJob(t, st, id)
	if job.Status != "running" || job.SellersFound != 2 || job.StartedAt == nil {
		t.Fatalf("after first credit: %+v", job)
	}

	if err := st.CompleteResearch(ctx, id, "", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job = researchJob(t, st, id)
	if job.Status != "completed" || job.CompletedAt == nil {
		t.Fatalf("after completion: %+v", job)
	}

	if err := st.CompleteResearch(ctx, id+1000, "", now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown job should be not found, got %v", err)
	}

	failedID, err := st.EnqueueResearch(ctx, "wooden toys", now)
	if err != nil {
		t.Fatalf("enqueue research: %v", err)
	}
	if err := st.CompleteResearch(ctx, failedID, "scrape blocked", now); err != nil {
		t.Fatalf("complete with error: %v", err)
	}
	job = researchJob(t, st, failedID)
	if job.Status != "failed" || job.ErrorMessage != "scrape blocked" {
		t.Fatalf("failed job: %+v", job)
	}
}

func researchJob(t *testing.T, st *pg.Store, id int64) domain.ResearchJob {
	t.Helper()
	jobs, err := st.ListResearchQueue(context.Background(), 50)
	if err != nil {
		t.Fatalf("list research queue: %v", err)
	}
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("research job %d not listed", id)
	return domain.ResearchJob{}
}

func seedSellerAndCampaign(t *testing.T, db *pgxpool.Pool) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	st := pg.New(db)

	res, err := st.UpsertSeller(ctx, store.SellerUpsert{
		ExternalID: "S-INT-1",
		ShopName:   "Mug Emporium",
		ShopURL:    "https://example.com/shop/mugs",
		Now:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	campaignID, err := st.CreateCampaign(ctx, store.CampaignInsert{
		Name:   "spring outreach",
		Status: "active",
	})
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return res.SellerID, campaignID
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(context.Background(), "CREATE SCHEMA "+schema)
	if err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}

	db, err := pgxpool.New(context.Background(), dbDSN)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	sqlPath := filepath.Join("..", "..", "migrations", "001_init.sql")
	sqlBytes, err := os.ReadFile(sqlPath)
	if err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("read migrations: %v", err)
	}

	if _, err := db.Exec(context.Background(), string(sqlBytes)); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}

	return db, cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
