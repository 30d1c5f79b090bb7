// Package audit appends immutable facts about state-changing actions.
// The trail is write-only for the core: nothing in the ledger, policy or
// engine ever reads it back.
package audit

import (
	"context"
	"log/slog"
	"time"

	"outreach/internal/store"
)

type Store interface {
	InsertAudit(ctx context.Context, in store.AuditInsert) error
}

type Recorder struct {
	Store Store
	Now   func() time.Time
}

func NewRecorder(s Store) *Recorder {
	return &Recorder{Store: s, Now: time.Now}
}

// Record is best-effort: a failed audit write is logged, never propagated,
// so it cannot abort the action it describes.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID, actor string, details map[string]any) {
	if r == nil || r.Store == nil {
		return
	}
	err := r.Store.InsertAudit(ctx, store.AuditInsert{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Details:    details,
		Now:        r.Now(),
	})
	if err != nil {
		slog.Error("audit write failed", "err", err, "action", action, "entity", entityType, "entity_id", entityID)
	}
}
