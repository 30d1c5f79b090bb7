// Package policy decides seller-level contact eligibility. It is a pure
// read: nothing here mutates state, and "in cooldown" is a normal boolean
// answer, never an error.
package policy

import (
	"context"
	"time"
)

type Store interface {
	LastContactAt(ctx context.Context, sellerID int64) (*time.Time, error)
}

type Policy struct {
	Store    Store
	Cooldown time.Duration
	Now      func() time.Time
}

const DefaultCooldownDays = 120

func New(s Store) *Policy {
	return &Policy{
		Store:    s,
		Cooldown: DefaultCooldownDays * 24 * time.Hour,
		Now:      time.Now,
	}
}

// InCooldown reports whether the seller was contacted within the cooldown
// window. Only delivered messages count: the store query keys off attempts
// that actually went out, so a failed attempt never locks a seller out.
// This gate is independent of the profile-level ledger; both must pass
// before a send.
func (p *Policy) InCooldown(ctx context.Context, sellerID int64) (bool, error) {
	last, err := p.Store.LastContactAt(ctx, sellerID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return p.Now().Before(last.Add(p.Cooldown)), nil
}
