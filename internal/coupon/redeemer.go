package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Result is the outcome of a redemption attempt. Losing a race for the last
// usage slot is an expected business outcome and comes back as a failed
// Result, not an error; only infrastructure faults surface as errors.
type Result struct {
	Success        bool
	Reason         Reason
	Message        string
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	UsageID        string
}

// Redeemer turns an accepted validation verdict into a durable usage
// increment. It re-validates against the authoritative store (never the
// cache), delegates the guarded increment + usage insert to the repository's
// single transaction, and invalidates the snapshot cache after commit.
type Redeemer struct {
	engine *Engine
	repo   Repository
	cache  SnapshotCache
}

// NewRedeemer creates a redemption coordinator. The cache may be nil.
func NewRedeemer(engine *Engine, repo Repository, cache SnapshotCache) *Redeemer {
	return &Redeemer{
		engine: engine,
		repo:   repo,
		cache:  cache,
	}
}

// Apply attempts to redeem the given code for the context's user and order
// amount. Any earlier Validate call is not trusted: state may have changed
// between dry run and commit, so the checks run again here against the
// authoritative store, and once more inside the repository transaction.
func (r *Redeemer) Apply(ctx context.Context, code string, rc Context) (*Result, error) {
	if rc.OrderAmount == nil {
		return nil, errors.New("order amount is required")
	}
	if rc.UserID == "" {
		return nil, errors.New("user id is required")
	}

	v, err := r.engine.validate(ctx, code, rc, false)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return &Result{Reason: v.Reason, Message: v.Message, Coupon: v.Coupon}, nil
	}

	usage, err := r.repo.Redeem(ctx, RedeemRequest{
		CouponID:       v.Coupon.ID,
		UserID:         rc.UserID,
		OrderID:        rc.OrderID,
		DiscountAmount: v.DiscountAmount,
	})
	if err != nil {
		if reason, msg, ok := raceOutcome(err); ok {
			return &Result{Reason: reason, Message: msg, Coupon: v.Coupon}, nil
		}
		// Infrastructure fault: surfaced to the caller for retry, never
		// interpreted as "coupon invalid".
		return nil, errors.Wrap(err, "redeem")
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, NormalizeCode(code))
	}

	return &Result{
		Success:        true,
		Coupon:         redeemedSnapshot(v.Coupon),
		DiscountAmount: v.DiscountAmount,
		FinalAmount:    v.FinalAmount,
		UsageID:        usage.ID,
	}, nil
}

// raceOutcome classifies repository errors that represent losing a
// concurrent race rather than a fault: another redeemer consumed the last
// slot, or the coupon left the active state between validation and commit.
func raceOutcome(err error) (Reason, string, bool) {
	switch {
	case errors.Is(err, ErrLimitExceeded):
		return ReasonLimitExceeded, "Coupon usage limit reached", true
	case errors.Is(err, ErrUserLimitExceeded):
		return ReasonUserLimitExceeded, "You have reached the usage limit for this coupon", true
	case errors.Is(err, ErrExpired):
		return ReasonExpired, "Coupon has expired", true
	case errors.Is(err, ErrNotActive):
		return ReasonNotActive, "Coupon is not active", true
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound, "Coupon not found", true
	}
	return "", "", false
}

// redeemedSnapshot returns a copy of the coupon reflecting the committed
// increment, so callers see the post-redemption state without a re-read.
func redeemedSnapshot(c *Coupon) *Coupon {
	out := *c
	out.CurrentUses++
	if out.MaxUses > 0 && out.CurrentUses >= out.MaxUses {
		out.Status = StatusDepleted
	}
	return &out
}
