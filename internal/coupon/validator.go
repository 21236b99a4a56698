package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason is a machine-readable code explaining why a verdict rejected a coupon.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonNotActive         Reason = "not_active"
	ReasonExpired           Reason = "expired"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonLimitExceeded     Reason = "limit_exceeded"
	ReasonUserLimitExceeded Reason = "user_limit_exceeded"
	ReasonScopeMismatch     Reason = "scope_mismatch"
	ReasonBelowMinimum      Reason = "below_minimum"
	ReasonStackConflict     Reason = "stack_conflict"
)

// Context carries the redemption context a coupon is validated against.
// A nil OrderAmount puts the engine in dry-run mode: eligibility is checked
// but no discount is computed.
type Context struct {
	UserID       string
	OrderAmount  *decimal.Decimal
	OrderID      string
	EventID      string
	CategoryID   string
	AppliedCodes []string
}

// Verdict is the outcome of a validation pass. Rejections carry a reason
// code and a user-facing message that distinguishes why the code failed;
// accepted verdicts with an order amount carry the computed discount.
type Verdict struct {
	Valid          bool
	Reason         Reason
	Message        string
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// Engine runs the ordered eligibility checks for a coupon against a
// redemption context. Validation performs no writes: it may be called
// arbitrarily often and concurrently without affecting state.
type Engine struct {
	repo     Repository
	cache    SnapshotCache
	cacheTTL time.Duration
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache attaches an advisory snapshot cache for validation reads.
// The redemption path always bypasses it.
func WithCache(cache SnapshotCache, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a validation engine backed by the given repository.
func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the eligibility checks for the given code, short-circuiting
// on the first failure. The check order is fixed so rejections are
// deterministic and debuggable. Returned errors are infrastructure faults
// only; business rejections come back as an invalid Verdict.
func (e *Engine) Validate(ctx context.Context, code string, rc Context) (*Verdict, error) {
	return e.validate(ctx, code, rc, true)
}

func (e *Engine) validate(ctx context.Context, code string, rc Context, useCache bool) (*Verdict, error) {
	code = NormalizeCode(code)

	c, err := e.lookup(ctx, code, useCache)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(nil, ReasonNotFound, "Coupon not found"), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.Status != StatusActive {
		return rejectStatus(c), nil
	}

	// Expiry is evaluated live against the clock, not the stored status:
	// the background sweep may not have flipped the row yet.
	now := e.now()
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return reject(c, ReasonExpired, "Coupon has expired"), nil
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return reject(c, ReasonNotYetValid, "Coupon is not yet valid"), nil
	}

	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		return reject(c, ReasonLimitExceeded, "Coupon usage limit reached"), nil
	}

	if c.MaxUsesPerUser > 0 {
		used, err := e.repo.CountUsages(ctx, c.ID, rc.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count usages")
		}
		if used >= c.MaxUsesPerUser {
			return reject(c, ReasonUserLimitExceeded, "You have reached the usage limit for this coupon"), nil
		}
	}

	switch c.Scope {
	case ScopeUserSpecific:
		if c.UserID != rc.UserID {
			return reject(c, ReasonScopeMismatch, "Coupon is not available for this user"), nil
		}
	case ScopeEventSpecific:
		if c.EventID != rc.EventID {
			return reject(c, ReasonScopeMismatch, "Coupon is not valid for this event"), nil
		}
	case ScopeCategorySpecific:
		if c.CategoryID != rc.CategoryID {
			return reject(c, ReasonScopeMismatch, "Coupon is not valid for this category"), nil
		}
	}

	if rc.OrderAmount != nil && rc.OrderAmount.LessThan(c.MinimumAmount) {
		msg := fmt.Sprintf("Order amount is below the coupon minimum of %s", c.MinimumAmount.StringFixed(2))
		return reject(c, ReasonBelowMinimum, msg), nil
	}

	if len(rc.AppliedCodes) > 0 {
		applied, err := e.loadApplied(ctx, rc.AppliedCodes, useCache)
		if err != nil {
			return nil, err
		}
		if !CanStack(c, applied) {
			return reject(c, ReasonStackConflict, "Coupon cannot be combined with the applied coupons"), nil
		}
	}

	v := &Verdict{Valid: true, Coupon: c}
	if rc.OrderAmount != nil {
		discount, err := ComputeDiscount(c, *rc.OrderAmount)
		if err != nil {
			return nil, errors.Wrap(err, "compute discount")
		}
		v.DiscountAmount = discount
		v.FinalAmount = rc.OrderAmount.Sub(discount).Round(2)
	}
	return v, nil
}

// lookup fetches a coupon snapshot, going through the cache only when
// useCache is set. Fresh reads refill the cache.
func (e *Engine) lookup(ctx context.Context, code string, useCache bool) (*Coupon, error) {
	useCache = useCache && e.cache != nil
	if useCache {
		if c, ok := e.cache.Get(ctx, code); ok {
			return c, nil
		}
	}

	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if useCache {
		e.cache.Set(ctx, code, c, e.cacheTTL)
	}
	return c, nil
}

// loadApplied resolves already-applied coupon codes into snapshots. Codes
// that no longer resolve are skipped: they cannot conflict with anything.
func (e *Engine) loadApplied(ctx context.Context, codes []string, useCache bool) ([]*Coupon, error) {
	applied := make([]*Coupon, 0, len(codes))
	for _, raw := range codes {
		c, err := e.lookup(ctx, NormalizeCode(raw), useCache)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, errors.Wrapf(err, "lookup applied coupon %q", raw)
		}
		applied = append(applied, c)
	}
	return applied, nil
}

func reject(c *Coupon, reason Reason, msg string) *Verdict {
	return &Verdict{Reason: reason, Message: msg, Coupon: c}
}

// rejectStatus maps a non-active stored status to its verdict. The status
// itself is the reason: users need to know expired from exhausted.
func rejectStatus(c *Coupon) *Verdict {
	switch c.Status {
	case StatusExpired:
		return reject(c, ReasonExpired, "Coupon has expired")
	case StatusDepleted:
		return reject(c, ReasonLimitExceeded, "Coupon usage limit reached")
	default:
		return reject(c, ReasonNotActive, fmt.Sprintf("Coupon is %s", c.Status))
	}
}
