// Package ledger tracks per-profile daily send counters and cooldowns.
//
// The daily counter resets lazily on read: the first CheckUsage on a new
// calendar day zeroes it. No timer job runs against the table; a timer can
// miss ticks and drift from the stored state, while the lazy reset
// recomputes eligibility from the row alone every time.
package ledger

import (
	"context"
	"time"

	"outreach/internal/domain"
)

type Store interface {
	GetProfileUsage(ctx context.Context, profileID string) (domain.ProfileUsage, bool, error)
	CreateProfileUsage(ctx context.Context, profileID string, day time.Time) error
	ResetDailyCount(ctx context.Context, profileID string, day time.Time) error
	RecordProfileSend(ctx context.Context, profileID string, day time.Time, dailyCap int, cooldownUntil time.Time) error
}

// Usage is the eligibility verdict for one profile.
type Usage struct {
	CanSend       bool       `json:"canSend"`
	MessagesToday int        `json:"messagesToday"`
	Cooldown      bool       `json:"cooldown"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
}

type Ledger struct {
	Store    Store
	DailyCap int
	Cooldown time.Duration
	Now      func() time.Time
}

const (
	DefaultDailyCap     = 2
	DefaultCooldownDays = 120
)

func New(s Store) *Ledger {
	return &Ledger{
		Store:    s,
		DailyCap: DefaultDailyCap,
		Cooldown: DefaultCooldownDays * 24 * time.Hour,
		Now:      time.Now,
	}
}

// CheckUsage reports whether the profile may send right now. A profile seen
// for the first time gets a zeroed row and may send immediately. An active
// cooldown wins over the counters.
func (l *Ledger) CheckUsage(ctx context.Context, profileID string) (Usage, error) {
	now := l.Now()
	today := dayOf(now)

	u, found, err := l.Store.GetProfileUsage(ctx, profileID)
	if err != nil {
		return Usage{}, err
	}
	if !found {
		if err := l.Store.CreateProfileUsage(ctx, profileID, today); err != nil {
			return Usage{}, err
		}
		return Usage{CanSend: true}, nil
	}

	if u.CooldownUntil != nil && u.CooldownUntil.After(now) {
		return Usage{
			CanSend:       false,
			MessagesToday: u.SentToday,
			Cooldown:      true,
			CooldownUntil: u.CooldownUntil,
		}, nil
	}

	if u.LastReset == nil || !dayOf(*u.LastReset).Equal(today) {
		if err := l.Store.ResetDailyCount(ctx, profileID, today); err != nil {
			return Usage{}, err
		}
		u.SentToday = 0
	}

	return Usage{
		CanSend:       u.SentToday < l.DailyCap,
		MessagesToday: u.SentToday,
	}, nil
}

// RecordSent counts one delivery against the profile. The store applies the
// increment and the cap-triggered cooldown in a single atomic statement.
func (l *Ledger) RecordSent(ctx context.Context, profileID string) error {
	now := l.Now()
	return l.Store.RecordProfileSend(ctx, profileID, dayOf(now), l.DailyCap, now.Add(l.Cooldown))
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
