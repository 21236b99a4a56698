package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository with the same atomicity contract as the
// real storage layer: Redeem holds the lock across the limit check, the
// increment, and the usage insert, so concurrent callers race exactly like
// they do against the guarded SQL update.
type memRepo struct {
	mu      sync.Mutex
	byCode  map[string]*Coupon
	usages  []Usage
	finds   int
	countsc int

	findErr   error
	redeemErr error
}

func newMemRepo(coupons ...*Coupon) *memRepo {
	r := &memRepo{byCode: make(map[string]*Coupon)}
	for _, c := range coupons {
		cc := *c
		if cc.ID == "" {
			cc.ID = uuid.NewString()
		}
		cc.Code = NormalizeCode(cc.Code)
		r.byCode[cc.Code] = &cc
	}
	return r
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.byCode[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *memRepo) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := NormalizeCode(c.Code)
	if _, ok := r.byCode[code]; ok {
		return ErrCodeTaken
	}
	cc := *c
	cc.Code = code
	if cc.ID == "" {
		cc.ID = uuid.NewString()
	}
	c.ID = cc.ID
	r.byCode[code] = &cc
	return nil
}

func (r *memRepo) Deactivate(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[NormalizeCode(code)]
	if !ok {
		return ErrNotFound
	}
	c.Status = StatusInactive
	return nil
}

func (r *memRepo) CountUsages(_ context.Context, couponID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countsc++
	return r.countLocked(couponID, userID), nil
}

func (r *memRepo) countLocked(couponID, userID string) int {
	n := 0
	for _, u := range r.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n
}

func (r *memRepo) UsagesByCoupon(_ context.Context, couponID string, limit int) ([]Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Usage
	for _, u := range r.usages {
		if u.CouponID == couponID {
			out = append(out, u)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) Redeem(_ context.Context, req RedeemRequest) (*Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.redeemErr != nil {
		return nil, r.redeemErr
	}

	var c *Coupon
	for _, cand := range r.byCode {
		if cand.ID == req.CouponID {
			c = cand
			break
		}
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}
	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		return nil, ErrLimitExceeded
	}
	if c.MaxUsesPerUser > 0 && r.countLocked(c.ID, req.UserID) >= c.MaxUsesPerUser {
		return nil, ErrUserLimitExceeded
	}

	c.CurrentUses++
	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		c.Status = StatusDepleted
	}
	u := Usage{
		ID:             uuid.NewString(),
		CouponID:       c.ID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
		UsedAt:         time.Now(),
	}
	r.usages = append(r.usages, u)
	return &u, nil
}

func (r *memRepo) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.byCode {
		if c.Status == StatusActive && c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
			c.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (r *memRepo) get(code string) *Coupon {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byCode[NormalizeCode(code)]
	cc := *c
	return &cc
}

func (r *memRepo) usageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.usages)
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
