// Package engine drains approved, undelivered outreach attempts through a
// pool of automation profiles. One run processes one fixed batch: attempts
// approved after the batch was fetched wait for the next run.
package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"outreach/internal/audit"
	"outreach/internal/domain"
	"outreach/internal/ledger"
	"outreach/internal/observability"
)

type Store interface {
	ApprovedPending(ctx context.Context) ([]domain.Attempt, error)
	MarkAttemptSent(ctx context.Context, id, profileID string, now time.Time) error
	MarkAttemptFailed(ctx context.Context, id, errMsg string) error
	MarkSellerContacted(ctx context.Context, sellerID int64, now time.Time) error
	IncrementCampaignSent(ctx context.Context, campaignID int64) error
}

type UsageLedger interface {
	CheckUsage(ctx context.Context, profileID string) (ledger.Usage, error)
	RecordSent(ctx context.Context, profileID string) error
}

type CooldownPolicy interface {
	InCooldown(ctx context.Context, sellerID int64) (bool, error)
}

// Session is one acquired browser bound to an automation profile. Release
// must be safe to call exactly once on both the success and failure paths.
type Session interface {
	Navigate(ctx context.Context, url string) error
	SubmitContactForm(ctx context.Context, message string) (bool, error)
	Release()
}

type Provider interface {
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	Acquire(ctx context.Context, profileID string) (Session, error)
}

// Results is the tally for one batch run.
type Results struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Seller  string `json:"seller"`
}

type Engine struct {
	Store    Store
	Ledger   UsageLedger
	Policy   CooldownPolicy
	Provider Provider
	Audit    *audit.Recorder

	// Inter-message pacing bounds; a uniform random delay in
	// [PaceMin, PaceMax] is applied between attempts to avoid tripping
	// anti-automation defenses on the target site.
	PaceMin time.Duration
	PaceMax time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	stop    atomic.Bool
}

func New(s Store, l UsageLedger, p CooldownPolicy, prov Provider, rec *audit.Recorder) *Engine {
	return &Engine{
		Store:    s,
		Ledger:   l,
		Policy:   p,
		Provider: prov,
		Audit:    rec,
		PaceMin:  5 * time.Second,
		PaceMax:  10 * time.Second,
		Now:      time.Now,
		Sleep:    sleepCtx,
	}
}

// Active reports whether a run is in flight.
func (e *Engine) Active() bool { return e.running.Load() }

// Stop requests cooperative cancellation. The attempt currently in flight
// finishes; the flag is observed before the next one starts.
func (e *Engine) Stop() { e.stop.Store(true) }

// TryStart reserves the run slot without starting work, so a caller can
// refuse a duplicate trigger synchronously before handing the run to a
// background goroutine. A successful TryStart must be followed by
// RunReserved, which releases the slot when it returns.
func (e *Engine) TryStart() bool { return e.running.CompareAndSwap(false, true) }

// Run drains the batch of approved, undelivered attempts in FIFO order by
// creation time. Per-attempt failures are recorded and the loop moves on;
// only a failure to fetch the batch itself propagates.
func (e *Engine) Run(ctx context.Context, onProgress func(Progress)) (Results, error) {
	if !e.TryStart() {
		return Results{}, domain.ErrRunInProgress
	}
	return e.drain(ctx, onProgress)
}

// RunReserved drains the batch for a caller that already holds the run
// slot via TryStart.
func (e *Engine) RunReserved(ctx context.Context, onProgress func(Progress)) (Results, error) {
	return e.drain(ctx, onProgress)
}

func (e *Engine) drain(ctx context.Context, onProgress func(Progress)) (Results, error) {
	defer e.running.Store(false)
	e.stop.Store(false)

	batch, err := e.Store.ApprovedPending(ctx)
	if err != nil {
		return Results{}, err
	}

	res := Results{Total: len(batch)}
	slog.Info("outreach run started", "batch", len(batch))

	for i, attempt := range batch {
		if e.stop.Load() || ctx.Err() != nil {
			slog.Info("outreach run stopped", "processed", i, "batch", len(batch))
			break
		}
		if onProgress != nil {
			onProgress(Progress{Current: i + 1, Total: len(batch), Seller: attempt.ShopName})
		}

		start := e.Now()
		switch e.dispatch(ctx, attempt) {
		case outcomeSent:
			res.Sent++
			observability.Dispatches.WithLabelValues("sent").Inc()
		case outcomeFailed:
			res.Failed++
			observability.Dispatches.WithLabelValues("failed").Inc()
		case outcomeSkipped:
			res.Skipped++
			observability.Dispatches.WithLabelValues("skipped").Inc()
		}
		observability.DispatchLatency.Observe(e.Now().Sub(start).Seconds())

		if i < len(batch)-1 {
			if err := e.Sleep(ctx, e.paceDelay()); err != nil {
				break
			}
		}
	}

	slog.Info("outreach run finished",
		"total", res.Total, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (e *Engine) dispatch(ctx context.Context, attempt domain.Attempt) outcome {
	// Seller-level gate. A seller contacted within the cooldown window is
	// skipped, not failed: the attempt stays approved for a later run.
	inCooldown, err := e.Policy.InCooldown(ctx, attempt.SellerID)
	if err != nil {
		return e.fail(ctx, attempt, err.Error())
	}
	if inCooldown {
		slog.Info("seller in cooldown, skipping", "attempt", attempt.ID, "seller", attempt.SellerID)
		return outcomeSkipped
	}

	// Profile-level gate. No eligible profile is not an error; the
	// attempt waits for the next run.
	profileID, err := e.pickProfile(ctx)
	if err != nil {
		return e.fail(ctx, attempt, err.Error())
	}
	if profileID == "" {
		slog.Info("no eligible profile, skipping", "attempt", attempt.ID)
		return outcomeSkipped
	}

	sess, err := e.Provider.Acquire(ctx, profileID)
	if err != nil {
		return e.fail(ctx, attempt, "acquire session: "+err.Error())
	}
	defer sess.Release()

	if err := sess.Navigate(ctx, attempt.ShopURL); err != nil {
		return e.fail(ctx, attempt, "navigate: "+err.Error())
	}
	ok, err := sess.SubmitContactForm(ctx, attempt.Message)
	if err != nil {
		return e.fail(ctx, attempt, "submit: "+err.Error())
	}
	if !ok {
		return e.fail(ctx, attempt, "contact form not found")
	}

	now := e.Now()
	if err := e.Store.MarkAttemptSent(ctx, attempt.ID, profileID, now); err != nil {
		// The message went out but the sent transition lost. Quarantine
		// the attempt so no later run picks it up and re-contacts the
		// seller; redelivery requires an operator re-enqueue. The seller
		// and the profile are still charged for the real send.
		slog.Error("mark sent failed, quarantining attempt", "err", err, "attempt", attempt.ID)
		if qErr := e.Store.MarkAttemptFailed(ctx, attempt.ID, "delivered but not recorded: "+err.Error()); qErr != nil {
			slog.Error("quarantine failed", "err", qErr, "attempt", attempt.ID)
		}
		if cErr := e.Store.MarkSellerContacted(ctx, attempt.SellerID, now); cErr != nil {
			slog.Error("mark seller contacted failed", "err", cErr, "seller", attempt.SellerID)
		}
		if lErr := e.Ledger.RecordSent(ctx, profileID); lErr != nil {
			slog.Error("ledger record failed", "err", lErr, "profile", profileID)
		}
		return outcomeFailed
	}
	if err := e.Store.MarkSellerContacted(ctx, attempt.SellerID, now); err != nil {
		slog.Error("mark seller contacted failed", "err", err, "seller", attempt.SellerID)
	}
	if err := e.Ledger.RecordSent(ctx, profileID); err != nil {
		slog.Error("ledger record failed", "err", err, "profile", profileID)
	}
	if err := e.Store.IncrementCampaignSent(ctx, attempt.CampaignID); err != nil {
		slog.Error("campaign counter failed", "err", err, "campaign", attempt.CampaignID)
	}
	e.Audit.Record(ctx, "message_sent", "outreach_log", attempt.ID, "system", map[string]any{
		"seller":  attempt.ShopName,
		"profile": profileID,
	})
	return outcomeSent
}

func (e *Engine) fail(ctx context.Context, attempt domain.Attempt, msg string) outcome {
	slog.Error("dispatch failed", "attempt", attempt.ID, "seller", attempt.ShopName, "err", msg)
	if err := e.Store.MarkAttemptFailed(ctx, attempt.ID, msg); err != nil {
		slog.Error("mark failed failed", "err", err, "attempt", attempt.ID)
	}
	return outcomeFailed
}

// pickProfile returns the first profile the ledger allows to send, or ""
// when none is eligible.
func (e *Engine) pickProfile(ctx context.Context) (string, error) {
	profiles, err := e.Provider.ListProfiles(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range profiles {
		usage, err := e.Ledger.CheckUsage(ctx, p.ID)
		if err != nil {
			return "", err
		}
		if usage.CanSend {
			return p.ID, nil
		}
	}
	return "", nil
}

func (e *Engine) paceDelay() time.Duration {
	if e.PaceMax <= e.PaceMin {
		return e.PaceMin
	}
	return e.PaceMin + time.Duration(rand.Int63n(int64(e.PaceMax-e.PaceMin)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
