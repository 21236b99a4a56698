package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

const pgUniqueViolation = "23505"

const couponColumns = `id, code, name, discount_type, discount_value, currency, maximum_discount,
	status, starts_at, expires_at, max_uses, max_uses_per_user, current_uses,
	stackability_rule, category, scope, user_id, affiliate_id, event_id, category_id,
	minimum_amount, created_by, created_at, updated_at`

const (
	findCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	insertCouponSQL = `INSERT INTO coupons (
		id, code, name, discount_type, discount_value, currency, maximum_discount,
		status, starts_at, expires_at, max_uses, max_uses_per_user, current_uses,
		stackability_rule, category, scope, user_id, affiliate_id, event_id, category_id,
		minimum_amount, created_by
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20, $21, $22
	) RETURNING created_at, updated_at`

	deactivateCouponSQL = `UPDATE coupons SET status = 'inactive', updated_at = now()
		WHERE code = $1 AND status IN ('active', 'inactive')`

	countUsagesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	usagesByCouponSQL = `SELECT id, coupon_id, user_id, COALESCE(order_id, ''), discount_amount, used_at
		FROM coupon_usages WHERE coupon_id = $1 ORDER BY used_at DESC LIMIT $2`

	lockCouponSQL = `SELECT status, starts_at, expires_at, max_uses, max_uses_per_user, current_uses
		FROM coupons WHERE id = $1 FOR UPDATE`

	// The limit predicate and the increment are one atomic statement; the
	// affected-row count detects a lost race even if the row state moved
	// between the lock and this update.
	guardedIncrementSQL = `UPDATE coupons SET
			current_uses = current_uses + 1,
			status = CASE WHEN max_uses > 0 AND current_uses + 1 >= max_uses THEN 'depleted' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND status = 'active' AND (max_uses = 0 OR current_uses < max_uses)`

	insertUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING used_at`

	markExpiredSQL = `UPDATE coupons SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponSQL, coupon.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Create inserts a new coupon. The unique index on code is the authority on
// uniqueness: a duplicate, however it raced in, comes back as ErrCodeTaken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Code = coupon.NormalizeCode(c.Code)
	if c.Status == "" {
		c.Status = coupon.StatusActive
	}

	err := r.pool.QueryRow(ctx, insertCouponSQL,
		c.ID, c.Code, c.Name, string(c.Type), c.DiscountValue, c.Currency, c.MaximumDiscount,
		string(c.Status), c.StartsAt, c.ExpiresAt, int32(c.MaxUses), int32(c.MaxUsesPerUser), int32(c.CurrentUses),
		string(c.Stackability), c.Category, string(c.Scope), c.UserID, c.AffiliateID, c.EventID, c.CategoryID,
		c.MinimumAmount, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Deactivate moves a coupon to the inactive state. Terminal states (expired,
// depleted) are left alone; deactivating a missing or terminal coupon
// returns coupon.ErrNotFound.
func (r *CouponRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deactivateCouponSQL, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("deactivating coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// CountUsages returns the number of usage records for the given coupon and user.
func (r *CouponRepository) CountUsages(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsagesSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages for coupon %s: %w", couponID, err)
	}
	return n, nil
}

// UsagesByCoupon returns the most recent usage records for a coupon.
func (r *CouponRepository) UsagesByCoupon(ctx context.Context, couponID string, limit int) ([]coupon.Usage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, usagesByCouponSQL, couponID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing usages for coupon %s: %w", couponID, err)
	}

	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("listing usages for coupon %s: %w", couponID, err)
	}
	return usages, nil
}

// Redeem performs the atomic redemption: lock the coupon row, re-check the
// limits against the locked state, apply the guarded increment, and insert
// the usage record, all in one transaction. The row lock serializes all
// redemptions of one coupon, which also makes the per-user count-then-insert
// safe against concurrent requests from the same user.
func (r *CouponRepository) Redeem(ctx context.Context, req coupon.RedeemRequest) (*coupon.Usage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning redemption: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		status         string
		startsAt       *time.Time
		expiresAt      *time.Time
		maxUses        int32
		maxUsesPerUser int32
		currentUses    int32
	)
	err = tx.QueryRow(ctx, lockCouponSQL, req.CouponID).
		Scan(&status, &startsAt, &expiresAt, &maxUses, &maxUsesPerUser, &currentUses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("locking coupon %s: %w", req.CouponID, err)
	}

	now := time.Now()
	switch coupon.Status(status) {
	case coupon.StatusActive:
	case coupon.StatusExpired:
		return nil, coupon.ErrExpired
	case coupon.StatusDepleted:
		return nil, coupon.ErrLimitExceeded
	default:
		return nil, coupon.ErrNotActive
	}
	if expiresAt != nil && now.After(*expiresAt) {
		return nil, coupon.ErrExpired
	}
	if startsAt != nil && now.Before(*startsAt) {
		return nil, coupon.ErrNotYetValid
	}
	if maxUses > 0 && currentUses >= maxUses {
		return nil, coupon.ErrLimitExceeded
	}

	if maxUsesPerUser > 0 {
		var used int32
		if err := tx.QueryRow(ctx, countUsagesSQL, req.CouponID, req.UserID).Scan(&used); err != nil {
			return nil, fmt.Errorf("counting usages for coupon %s: %w", req.CouponID, err)
		}
		if used >= maxUsesPerUser {
			return nil, coupon.ErrUserLimitExceeded
		}
	}

	tag, err := tx.Exec(ctx, guardedIncrementSQL, req.CouponID)
	if err != nil {
		return nil, fmt.Errorf("incrementing uses for coupon %s: %w", req.CouponID, err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race despite the lock: treat as exhausted.
		return nil, coupon.ErrLimitExceeded
	}

	usage := coupon.Usage{
		ID:             uuid.NewString(),
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
	}
	err = tx.QueryRow(ctx, insertUsageSQL,
		usage.ID, usage.CouponID, usage.UserID, usage.OrderID, usage.DiscountAmount,
	).Scan(&usage.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("recording usage for coupon %s: %w", req.CouponID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing redemption for coupon %s: %w", req.CouponID, err)
	}
	return &usage, nil
}

// MarkExpired flips active coupons whose expiry has passed to the expired
// state and returns how many rows changed.
func (r *CouponRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, markExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("marking expired coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		status         string
		stackability   string
		scope          string
		maxUses        int32
		maxUsesPerUser int32
		currentUses    int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &discountType, &c.DiscountValue, &c.Currency, &c.MaximumDiscount,
		&status, &c.StartsAt, &c.ExpiresAt, &maxUses, &maxUsesPerUser, &currentUses,
		&stackability, &c.Category, &scope, &c.UserID, &c.AffiliateID, &c.EventID, &c.CategoryID,
		&c.MinimumAmount, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.DiscountType(discountType)
	c.Status = coupon.Status(status)
	c.Stackability = coupon.StackabilityRule(stackability)
	c.Scope = coupon.Scope(scope)
	c.MaxUses = int(maxUses)
	c.MaxUsesPerUser = int(maxUsesPerUser)
	c.CurrentUses = int(currentUses)
	return c, err
}

func scanUsage(row pgx.CollectableRow) (coupon.Usage, error) {
	var u coupon.Usage
	err := row.Scan(&u.ID, &u.CouponID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.UsedAt)
	return u, err
}
