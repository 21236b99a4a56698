package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the order amount.
	DiscountFixed DiscountType = "fixed"
)

// Status enumerates the coupon lifecycle states. Expired and depleted are
// terminal; no transition leaves them.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
	StatusDepleted Status = "depleted"
)

// Scope enumerates the restriction dimensions a coupon can carry. Each
// non-global scope pairs with the matching reference field on the Coupon.
type Scope string

const (
	ScopeGlobal           Scope = "global"
	ScopeUserSpecific     Scope = "user_specific"
	ScopeAffiliate        Scope = "affiliate"
	ScopeEventSpecific    Scope = "event_specific"
	ScopeCategorySpecific Scope = "category_specific"
)

// StackabilityRule enumerates the policies governing whether a coupon may be
// combined with other coupons on the same order.
type StackabilityRule string

const (
	// StackNone requires the candidate to be the only coupon on the order.
	StackNone StackabilityRule = "none"
	// StackAll allows combining with any other coupons.
	StackAll StackabilityRule = "all"
	// StackCategory allows combining only with coupons sharing the same category.
	StackCategory StackabilityRule = "category"
	// StackExclusive behaves like StackNone but is kept as a distinct tag.
	StackExclusive StackabilityRule = "exclusive"
)

// Sentinel errors for lookup, creation, and redemption outcomes. Validation
// rejections are reported as Verdict values, not errors; these sentinels
// cross the repository boundary and are mapped to reasons by the engine.
var (
	ErrNotFound          = errors.New("coupon not found")
	ErrCodeTaken         = errors.New("coupon code already exists")
	ErrNotActive         = errors.New("coupon is not active")
	ErrExpired           = errors.New("coupon has expired")
	ErrNotYetValid       = errors.New("coupon is not yet valid")
	ErrLimitExceeded     = errors.New("coupon usage limit reached")
	ErrUserLimitExceeded = errors.New("coupon per-user usage limit reached")
	ErrScopeMismatch     = errors.New("coupon scope does not match")
	ErrBelowMinimum      = errors.New("order amount below coupon minimum")
	ErrStackConflict     = errors.New("coupon cannot be combined")
)

// MaxCodeLength is the longest accepted coupon code.
const MaxCodeLength = 50

// Coupon is the offer definition. Discount values are decimals to avoid
// floating point drift across currencies; zero values for MaximumDiscount,
// MaxUses, and MaxUsesPerUser mean "unset".
type Coupon struct {
	ID              string
	Code            string
	Name            string
	Type            DiscountType
	DiscountValue   decimal.Decimal
	Currency        string
	MaximumDiscount decimal.Decimal

	Status    Status
	StartsAt  *time.Time
	ExpiresAt *time.Time

	MaxUses        int
	MaxUsesPerUser int
	CurrentUses    int

	Stackability StackabilityRule
	Category     string

	Scope       Scope
	UserID      string
	AffiliateID string
	EventID     string
	CategoryID  string

	MinimumAmount decimal.Decimal

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usage is an immutable redemption record. One row exists per accepted
// redemption; rows are never updated or deleted by the engine.
type Usage struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// RedeemRequest carries the parameters for the atomic redemption performed
// by the repository. DiscountAmount is computed before the transaction; the
// limit checks are re-run inside it.
type RedeemRequest struct {
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
}

// Repository provides persistence for coupons and their usage records.
//
// Redeem must perform the guarded increment and the usage insert in a single
// transaction: the limit check and the increment are one atomic operation
// from the perspective of concurrent callers, and a lost race surfaces as
// ErrLimitExceeded or ErrUserLimitExceeded, never as a silent overrun.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Deactivate(ctx context.Context, code string) error
	CountUsages(ctx context.Context, couponID, userID string) (int, error)
	UsagesByCoupon(ctx context.Context, couponID string, limit int) ([]Usage, error)
	Redeem(ctx context.Context, req RedeemRequest) (*Usage, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// SnapshotCache is the advisory read-side cache for coupon snapshots. It is
// never consulted on the redemption path. Implementations swallow their own
// infrastructure errors; a cache miss is always a safe answer.
type SnapshotCache interface {
	Get(ctx context.Context, code string) (*Coupon, bool)
	Set(ctx context.Context, code string, c *Coupon, ttl time.Duration)
	Invalidate(ctx context.Context, code string)
}

// NormalizeCode canonicalizes a coupon code for lookup and storage: trimmed
// and uppercased. Codes are case-insensitive on the wire.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateDefinition checks the structural invariants of a coupon definition
// at creation time. It returns a descriptive error for the first violation
// found, suitable for surfacing as an InvalidInput response.
func (c *Coupon) ValidateDefinition() error {
	code := NormalizeCode(c.Code)
	if code == "" || len(code) > MaxCodeLength {
		return errors.Errorf("code must be 1-%d characters", MaxCodeLength)
	}
	switch c.Type {
	case DiscountPercentage:
		if c.DiscountValue.IsNegative() || c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("percentage discount must be between 0 and 100")
		}
	case DiscountFixed:
		if c.DiscountValue.IsNegative() {
			return errors.New("fixed discount must not be negative")
		}
		if c.Currency == "" {
			return errors.New("fixed discount requires a currency")
		}
	default:
		return errors.Errorf("unsupported discount type: %q", c.Type)
	}
	if c.MaximumDiscount.IsNegative() {
		return errors.New("maximum discount must not be negative")
	}
	if c.MinimumAmount.IsNegative() {
		return errors.New("minimum amount must not be negative")
	}
	if c.MaxUses < 0 || c.MaxUsesPerUser < 0 {
		return errors.New("usage limits must not be negative")
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && !c.StartsAt.Before(*c.ExpiresAt) {
		return errors.New("startsAt must be before expiresAt")
	}
	switch c.Stackability {
	case StackNone, StackAll, StackExclusive:
	case StackCategory:
		if c.Category == "" {
			return errors.New("category stacking requires a category")
		}
	default:
		return errors.Errorf("unsupported stackability rule: %q", c.Stackability)
	}
	switch c.Scope {
	case ScopeGlobal:
	case ScopeUserSpecific:
		if c.UserID == "" {
			return errors.New("user_specific scope requires a user id")
		}
	case ScopeAffiliate:
		if c.AffiliateID == "" {
			return errors.New("affiliate scope requires an affiliate id")
		}
	case ScopeEventSpecific:
		if c.EventID == "" {
			return errors.New("event_specific scope requires an event id")
		}
	case ScopeCategorySpecific:
		if c.CategoryID == "" {
			return errors.New("category_specific scope requires a category id")
		}
	default:
		return errors.Errorf("unsupported scope: %q", c.Scope)
	}
	return nil
}
