// Package ratelimit gates submission intake with fixed-window counters.
//
// Check and Increment are split on purpose: intake checks quota up front but
// only charges it once every other admission check (validation, duplicate,
// staging) has passed, so failed attempts don't burn quota.
package ratelimit

import (
	"context"
	"time"

	"scanhub/internal/pipeline"
	"scanhub/pkg/models"
	"scanhub/pkg/utils"
)

// Window is a fixed counting window. Counts reset at every Period boundary
// (aligned to the epoch, not to the first request).
type Window struct {
	Name   string
	Limit  int
	Period time.Duration
}

// Start returns the start of the window containing t.
func (w Window) Start(t time.Time) time.Time {
	return t.Truncate(w.Period)
}

// CounterStore is the atomic counter collaborator. Implementations must make
// Increment atomic across concurrent requests for the same subject.
type CounterStore interface {
	// Peek returns the current count for the subject's active window and the
	// time the window resets, without charging anything.
	Peek(ctx context.Context, subject string, w Window) (int, time.Time, error)
	// Increment atomically adds one to the subject's active window.
	Increment(ctx context.Context, subject string, w Window) error
}

// Quota is the outcome of a two-dimension rate check.
type Quota struct {
	Allowed         bool      `json:"allowed"`
	Dimension       string    `json:"dimension,omitempty"` // "user" or "origin" when tripped
	UserRemaining   int       `json:"user_remaining"`
	UserReset       time.Time `json:"user_reset"`
	OriginRemaining int       `json:"origin_remaining"`
	OriginReset     time.Time `json:"origin_reset"`
}

// Err converts a denied quota into the structured error intake returns.
func (q Quota) Err(now time.Time) *pipeline.RateLimitedError {
	reset := q.UserReset
	if q.Dimension == "origin" {
		reset = q.OriginReset
	}
	return &pipeline.RateLimitedError{
		Dimension:       q.Dimension,
		UserRemaining:   q.UserRemaining,
		OriginRemaining: q.OriginRemaining,
		RetryAfter:      reset.Sub(now),
	}
}

// Limiter checks both subject dimensions for a submission: the authenticated
// submitter and the caller's network origin.
type Limiter struct {
	store       CounterStore
	chapterUser Window
	seriesUser  Window
	origin      Window
}

func NewLimiter(store CounterStore, cfg utils.LimitConfig) *Limiter {
	return &Limiter{
		store:       store,
		chapterUser: Window{Name: "chapter-user", Limit: cfg.ChapterPerUser, Period: cfg.ChapterWindow},
		seriesUser:  Window{Name: "series-user", Limit: cfg.SeriesPerUser, Period: cfg.SeriesWindow},
		origin:      Window{Name: "origin", Limit: cfg.PerOrigin, Period: cfg.OriginWindow},
	}
}

func (l *Limiter) userWindow(kind string) Window {
	if kind == models.KindSeries {
		return l.seriesUser
	}
	return l.chapterUser
}

// Check reports whether a submission of the given kind is within quota on
// both dimensions. It never charges quota.
func (l *Limiter) Check(ctx context.Context, kind, userID, origin string) (Quota, error) {
	uw := l.userWindow(kind)

	userCount, userReset, err := l.store.Peek(ctx, userID, uw)
	if err != nil {
		return Quota{}, err
	}
	originCount, originReset, err := l.store.Peek(ctx, origin, l.origin)
	if err != nil {
		return Quota{}, err
	}

	q := Quota{
		Allowed:         true,
		UserRemaining:   remaining(uw.Limit, userCount),
		UserReset:       userReset,
		OriginRemaining: remaining(l.origin.Limit, originCount),
		OriginReset:     originReset,
	}

	// User dimension is reported first when both trip; it is the one the
	// submitter can actually reason about.
	switch {
	case q.UserRemaining <= 0:
		q.Allowed = false
		q.Dimension = "user"
	case q.OriginRemaining <= 0:
		q.Allowed = false
		q.Dimension = "origin"
	}
	return q, nil
}

// Charge consumes one unit of quota on both dimensions. Called only after
// every other admission check has passed.
func (l *Limiter) Charge(ctx context.Context, kind, userID, origin string) error {
	if err := l.store.Increment(ctx, userID, l.userWindow(kind)); err != nil {
		return err
	}
	return l.store.Increment(ctx, origin, l.origin)
}

func remaining(limit, count int) int {
	r := limit - count
	if r < 0 {
		return 0
	}
	return r
}
