package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreach/internal/audit"
	"outreach/internal/domain"
	"outreach/internal/store"
)

type fakeStore struct {
	attempts map[string]*domain.Attempt
	inserts  []store.AttemptInsert
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: make(map[string]*domain.Attempt)}
}

func (f *fakeStore) InsertAttempt(_ context.Context, in store.AttemptInsert) error {
	f.inserts = append(f.inserts, in)
	f.attempts[in.ID] = &domain.Attempt{
		ID:         in.ID,
		SellerID:   in.SellerID,
		CampaignID: in.CampaignID,
		Message:    in.Message,
		Delivery:   domain.DeliveryPending,
		Approval:   domain.ApprovalPending,
		CreatedAt:  in.Now,
	}
	return nil
}

func (f *fakeStore) ListPendingApprovals(_ context.Context) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for _, a := range f.attempts {
		if a.Approval == domain.ApprovalPending {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) decide(id string, decision domain.ApprovalStatus, approver string, now time.Time) error {
	a, ok := f.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Approval != domain.ApprovalPending {
		return domain.ErrAlreadyDecided
	}
	a.Approval = decision
	a.ApprovedBy = approver
	a.ApprovedAt = &now
	return nil
}

func (f *fakeStore) ApproveAttempt(_ context.Context, id, approver string, now time.Time) error {
	return f.decide(id, domain.ApprovalApproved, approver, now)
}

func (f *fakeStore) RejectAttempt(_ context.Context, id, approver string, now time.Time) error {
	return f.decide(id, domain.ApprovalRejected, approver, now)
}

type fakePolicy struct{ cooldown map[int64]bool }

func (f *fakePolicy) InCooldown(_ context.Context, sellerID int64) (bool, error) {
	return f.cooldown[sellerID], nil
}

type noopAuditStore struct{}

func (noopAuditStore) InsertAudit(context.Context, store.AuditInsert) error { return nil }

func testQueue(fs *fakeStore, p CooldownPolicy) *Queue {
	q := New(fs, p, audit.NewRecorder(noopAuditStore{}))
	n := 0
	q.IDGen = func() string {
		n++
		return "att_" + string(rune('0'+n))
	}
	return q
}

func TestEnqueueStartsPendingPending(t *testing.T) {
	fs := newFakeStore()
	q := testQueue(fs, &fakePolicy{cooldown: map[int64]bool{}})

	id, err := q.Enqueue(context.Background(), 1, 2, "hello", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	a := fs.attempts[id]
	if a == nil {
		t.Fatalf("attempt not stored")
	}
	if a.Approval != domain.ApprovalPending || a.Delivery != domain.DeliveryPending {
		t.Fatalf("new attempt must be pending/pending, got %s/%s", a.Approval, a.Delivery)
	}
}

func TestEnqueueRefusesSellerInCooldown(t *testing.T) {
	q := testQueue(newFakeStore(), &fakePolicy{cooldown: map[int64]bool{5: true}})

	_, err := q.Enqueue(context.Background(), 5, 2, "hello", "")
	if !errors.Is(err, domain.ErrSellerInCooldown) {
		t.Fatalf("expected ErrSellerInCooldown, got %v", err)
	}
}

func TestApproveIsTerminal(t *testing.T) {
	fs := newFakeStore()
	q := testQueue(fs, &fakePolicy{cooldown: map[int64]bool{}})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, 1, 2, "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Approve(ctx, id, "alice"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if err := q.Approve(ctx, id, "bob"); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("second approve should be refused, got %v", err)
	}
	if fs.attempts[id].ApprovedBy != "alice" {
		t.Fatalf("decision must not be overwritten")
	}

	if err := q.Reject(ctx, id, "bob", "changed my mind"); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("reject after approve should be refused, got %v", err)
	}
}

func TestApproveUnknownAttempt(t *testing.T) {
	q := testQueue(newFakeStore(), &fakePolicy{cooldown: map[int64]bool{}})

	err := q.Approve(context.Background(), "att_missing", "alice")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchApprovePartialSuccess(t *testing.T) {
	fs := newFakeStore()
	q := testQueue(fs, &fakePolicy{cooldown: map[int64]bool{}})
	ctx := context.Background()

	id1, _ := q.Enqueue(ctx, 1, 2, "a", "")
	id2, _ := q.Enqueue(ctx, 2, 2, "b", "")
	if err := q.Approve(ctx, id2, "alice"); err != nil {
		t.Fatal(err)
	}

	results := q.BatchApprove(ctx, []string{id1, id2, "att_missing"}, "alice")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK {
		t.Fatalf("fresh attempt should approve: %+v", results[0])
	}
	if results[1].OK || results[2].OK {
		t.Fatalf("decided and missing ids must fail independently: %+v", results[1:])
	}
	if fs.attempts[id1].Approval != domain.ApprovalApproved {
		t.Fatalf("partial failure must not roll back successful approvals")
	}
}
