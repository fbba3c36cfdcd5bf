// Package review drives the checked/harmful state machine.
package review

import (
	"context"
	"time"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

// A Notifier is told about completed review transitions, after the
// new state is committed. Errors are passed back to the caller but
// never revert the review.
type Notifier interface {
	ReviewChanged(ctx context.Context, changeset *store.Changeset, reviewer *store.User, harmful bool) error
}

const scopeReview = "review"

type Engine struct {
	store    *store.Store
	limiter  *Limiter
	notifier Notifier
}

// New creates the engine. notifier may be nil. perMinute caps
// non-staff reviews; 0 disables the limit.
func New(st *store.Store, perMinute int, notifier Notifier) *Engine {
	var limiter *Limiter
	if perMinute > 0 {
		limiter = NewLimiter(perMinute, time.Minute)
	}
	return &Engine{store: st, limiter: limiter, notifier: notifier}
}

// SetHarmful marks a changeset as damaging.
func (e *Engine) SetHarmful(ctx context.Context, id int64, reviewer *store.User, tagIDs []int64) (*store.Changeset, error) {
	return e.review(ctx, id, reviewer, true, tagIDs)
}

// SetGood marks a changeset as fine.
func (e *Engine) SetGood(ctx context.Context, id int64, reviewer *store.User, tagIDs []int64) (*store.Changeset, error) {
	return e.review(ctx, id, reviewer, false, tagIDs)
}

func (e *Engine) review(ctx context.Context, id int64, reviewer *store.User, harmful bool, tagIDs []int64) (*store.Changeset, error) {
	if e.limiter != nil && !reviewer.IsStaff && !e.limiter.Allow(scopeReview, reviewer.ID) {
		return nil, errs.New(errs.KindRateLimited, "review rate limit exceeded")
	}
	if err := e.store.ReviewChangeset(ctx, id, reviewer, harmful, tagIDs); err != nil {
		return nil, err
	}
	changeset, err := e.store.GetChangeset(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.notifier != nil {
		if err := e.notifier.ReviewChanged(ctx, changeset, reviewer, harmful); err != nil {
			// review state stays, the caller only learns about the
			// notification failure
			return changeset, err
		}
	}
	return changeset, nil
}

// Uncheck reverses a review. Unchecking is not rate limited.
func (e *Engine) Uncheck(ctx context.Context, id int64, reviewer *store.User) (*store.Changeset, error) {
	if err := e.store.UncheckChangeset(ctx, id, reviewer); err != nil {
		return nil, err
	}
	return e.store.GetChangeset(ctx, id)
}
