// Package services – QuotaService
//
// QuotaService decides whether a user may start another evaluation. Users
// with an active subscription draw from the plan's call allowance; everyone
// else is on the implicit free plan, whose counter is the number of
// evaluations created since the start of the current UTC month.
//
// Admission is always one conditional SQL statement. A read-then-write
// sequence would let concurrent requests overshoot the limit.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/repo"
)

// QuotaStatus is a snapshot of a user's allowance.
type QuotaStatus struct {
	Allowed      bool                 `json:"allowed"`
	Limit        int                  `json:"limit"`
	Used         int                  `json:"used"`
	Remaining    int                  `json:"remaining"`
	Plan         string               `json:"plan"`
	Tier         domain.PlanTier      `json:"tier"`
	PeriodStart  time.Time            `json:"periodStart"`
	PeriodEnd    *time.Time           `json:"periodEnd,omitempty"`
	Subscription *domain.Subscription `json:"-"`
}

// Exceeded converts a denied status into the error returned to callers. The
// error names the tier (free, pro, business), not the billing-period plan id.
func (q QuotaStatus) Exceeded() *QuotaExceededError {
	return &QuotaExceededError{Limit: q.Limit, Used: q.Used, Plan: string(q.Tier), PeriodEnd: q.PeriodEnd}
}

// QuotaService implements the quota gate.
type QuotaService struct {
	DB *gorm.DB
	// FreeLimit is the monthly allowance of the implicit free plan.
	FreeLimit int
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

func (s *QuotaService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// monthStart returns 00:00 UTC on the first day of t's month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Check reports the current allowance without consuming anything.
func (s *QuotaService) Check(ctx context.Context, userID string) (QuotaStatus, error) {
	ctx, span := otel.Tracer("services/QuotaService").Start(ctx, "Check",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	now := s.now()
	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID, now)
	switch {
	case err == nil:
		return subscribedStatus(sub, sub.CallsUsed), nil
	case !errors.Is(err, repo.ErrNotFound):
		return QuotaStatus{}, err
	}

	since := monthStart(now)
	n, err := repo.CountEvaluationsSince(ctx, s.DB, userID, since)
	if err != nil {
		return QuotaStatus{}, err
	}
	return s.freeStatus(since, int(n)), nil
}

// Reserve consumes one call and persists e as the pending evaluation that
// owns it. Both happen or neither does. When the allowance is exhausted it
// returns a *QuotaExceededError and writes nothing.
func (s *QuotaService) Reserve(ctx context.Context, userID string, e *domain.Evaluation) (QuotaStatus, error) {
	ctx, span := otel.Tracer("services/QuotaService").Start(ctx, "Reserve",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	now := s.now()
	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID, now)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return QuotaStatus{}, err
	}

	if sub != nil {
		var admitted bool
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := repo.IncrementCallsWithinLimit(ctx, tx, sub.ID, sub.Plan.CallLimit, now)
			if err != nil || !ok {
				return err
			}
			admitted = true
			return repo.CreateEvaluation(ctx, tx, e)
		})
		if err != nil {
			return QuotaStatus{}, err
		}
		if !admitted {
			// The row may have changed under us; report the authoritative
			// state rather than the snapshot we started with.
			st := subscribedStatus(sub, sub.Plan.CallLimit)
			if fresh, ferr := repo.GetActiveSubscription(ctx, s.DB, userID, now); ferr == nil {
				st = subscribedStatus(fresh, fresh.CallsUsed)
			}
			st.Allowed = false
			quotaDenied.WithLabelValues(st.Plan).Inc()
			span.SetAttributes(attribute.Bool("quota.admitted", false))
			return st, st.Exceeded()
		}
		st := subscribedStatus(sub, sub.CallsUsed+1)
		span.SetAttributes(attribute.Bool("quota.admitted", true))
		return st, nil
	}

	since := monthStart(now)
	ok, err := repo.CreateEvaluationWithinQuota(ctx, s.DB, e, since, s.FreeLimit)
	if err != nil {
		return QuotaStatus{}, err
	}
	n, cerr := repo.CountEvaluationsSince(ctx, s.DB, userID, since)
	if cerr != nil {
		n = int64(s.FreeLimit)
	}
	st := s.freeStatus(since, int(n))
	span.SetAttributes(attribute.Bool("quota.admitted", ok))
	if !ok {
		st.Allowed = false
		quotaDenied.WithLabelValues(st.Plan).Inc()
		return st, st.Exceeded()
	}
	st.Allowed = true
	return st, nil
}

// Release returns the call reserved for an evaluation that did not succeed.
// Only subscription allowances are refunded: on the free plan the failed
// evaluation row itself stays counted.
func (s *QuotaService) Release(ctx context.Context, st QuotaStatus) error {
	if st.Subscription == nil {
		return nil
	}
	ctx, span := otel.Tracer("services/QuotaService").Start(ctx, "Release",
		trace.WithAttributes(attribute.String("subscription.id", st.Subscription.ID)))
	defer span.End()

	released, err := repo.ReleaseCall(ctx, s.DB, st.Subscription.ID, s.now())
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Bool("quota.released", released))
	return nil
}

func subscribedStatus(sub *domain.Subscription, used int) QuotaStatus {
	limit := sub.Plan.CallLimit
	end := sub.CurrentPeriodEnd
	return QuotaStatus{
		Allowed:      used < limit,
		Limit:        limit,
		Used:         used,
		Remaining:    max(limit-used, 0),
		Plan:         sub.PlanID,
		Tier:         sub.Plan.Tier,
		PeriodStart:  sub.CurrentPeriodStart,
		PeriodEnd:    &end,
		Subscription: sub,
	}
}

func (s *QuotaService) freeStatus(since time.Time, used int) QuotaStatus {
	end := since.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return QuotaStatus{
		Allowed:     used < s.FreeLimit,
		Limit:       s.FreeLimit,
		Used:        used,
		Remaining:   max(s.FreeLimit-used, 0),
		Plan:        repo.FreePlanID,
		Tier:        domain.TierFree,
		PeriodStart: since,
		PeriodEnd:   &end,
	}
}
