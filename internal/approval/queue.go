// Package approval holds outreach attempts pending human review. Every
// message enters here as pending/pending: there is no code path that sends
// without an operator approving first.
package approval

import (
	"context"
	"errors"
	"time"

	"outreach/internal/audit"
	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/store"
	"outreach/internal/util"
)

type Store interface {
	InsertAttempt(ctx context.Context, in store.AttemptInsert) error
	ListPendingApprovals(ctx context.Context) ([]domain.Attempt, error)
	ApproveAttempt(ctx context.Context, id, approver string, now time.Time) error
	RejectAttempt(ctx context.Context, id, approver string, now time.Time) error
}

type CooldownPolicy interface {
	InCooldown(ctx context.Context, sellerID int64) (bool, error)
}

type Queue struct {
	Store  Store
	Policy CooldownPolicy
	Audit  *audit.Recorder
	IDGen  func() string
	Now    func() time.Time
}

func New(s Store, p CooldownPolicy, rec *audit.Recorder) *Queue {
	return &Queue{
		Store:  s,
		Policy: p,
		Audit:  rec,
		IDGen:  util.NewAttemptID,
		Now:    time.Now,
	}
}

// Enqueue queues a rendered message for review. Sellers inside the contact
// cooldown are refused up front rather than discovered later by the engine.
func (q *Queue) Enqueue(ctx context.Context, sellerID, campaignID int64, message, profileHint string) (string, error) {
	cd, err := q.Policy.InCooldown(ctx, sellerID)
	if err != nil {
		return "", err
	}
	if cd {
		return "", domain.ErrSellerInCooldown
	}

	id := q.IDGen()
	err = q.Store.InsertAttempt(ctx, store.AttemptInsert{
		ID:         id,
		SellerID:   sellerID,
		CampaignID: campaignID,
		Message:    message,
		ProfileID:  profileHint,
		Now:        q.Now(),
	})
	if err != nil {
		return "", err
	}

	q.Audit.Record(ctx, "message_queued", "outreach_log", id, "system", map[string]any{
		"seller_id":   sellerID,
		"campaign_id": campaignID,
	})
	return id, nil
}

func (q *Queue) ListPending(ctx context.Context) ([]domain.Attempt, error) {
	return q.Store.ListPendingApprovals(ctx)
}

// Approve records a terminal approval decision. A second decision on the
// same attempt returns domain.ErrAlreadyDecided.
func (q *Queue) Approve(ctx context.Context, attemptID, approver string) error {
	if err := q.Store.ApproveAttempt(ctx, attemptID, approver, q.Now()); err != nil {
		return err
	}
	observability.Approvals.WithLabelValues("approved").Inc()
	q.Audit.Record(ctx, "message_approved", "outreach_log", attemptID, approver, nil)
	return nil
}

func (q *Queue) Reject(ctx context.Context, attemptID, approver, reason string) error {
	if err := q.Store.RejectAttempt(ctx, attemptID, approver, q.Now()); err != nil {
		return err
	}
	observability.Approvals.WithLabelValues("rejected").Inc()
	q.Audit.Record(ctx, "message_rejected", "outreach_log", attemptID, approver, map[string]any{
		"reason": reason,
	})
	return nil
}

// BatchResult reports the outcome for one id of a batch approval.
type BatchResult struct {
	AttemptID string `json:"attemptId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// BatchApprove approves each id independently, best-effort. There is no
// transaction across the batch: some ids may succeed while others fail,
// and the caller gets the per-id outcomes.
func (q *Queue) BatchApprove(ctx context.Context, attemptIDs []string, approver string) []BatchResult {
	out := make([]BatchResult, 0, len(attemptIDs))
	for _, id := range attemptIDs {
		res := BatchResult{AttemptID: id, OK: true}
		if err := q.Approve(ctx, id, approver); err != nil {
			res.OK = false
			res.Error = err.Error()
			if !errors.Is(err, domain.ErrAlreadyDecided) && !errors.Is(err, domain.ErrNotFound) {
				res.Error = "approval failed"
			}
		}
		out = append(out, res)
	}
	return out
}
