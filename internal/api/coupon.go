package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

// CreateCoupon handles POST /api/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	c, err := decodeCoupon(jx.DecodeBytes(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed coupon definition")
		return
	}
	if err := c.ValidateDefinition(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.generator.Reserve(r.Context(), c); err != nil {
		if errors.Is(err, coupon.ErrCodeTaken) {
			writeError(w, http.StatusConflict, "coupon code already exists")
			return
		}
		internalError(w, r, err, "create coupon")
		return
	}

	var e jx.Encoder
	encodeCouponFull(&e, c)
	writeJSON(w, http.StatusCreated, e.Bytes())
}

// GetCoupon handles GET /api/coupons/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		internalError(w, r, err, "get coupon")
		return
	}

	var e jx.Encoder
	encodeCouponFull(&e, c)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// ListUsages handles GET /api/coupons/{code}/usages.
func (h *Handler) ListUsages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.repo.FindByCode(ctx, r.PathValue("code"))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		internalError(w, r, err, "find coupon for usages")
		return
	}

	usages, err := h.repo.UsagesByCoupon(ctx, c.ID, 0)
	if err != nil {
		internalError(w, r, err, "list usages")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("couponId")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("currentUses")
	e.Int(c.CurrentUses)
	e.FieldStart("usages")
	e.ArrStart()
	for _, u := range usages {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(u.ID)
		e.FieldStart("userId")
		e.Str(u.UserID)
		if u.OrderID != "" {
			e.FieldStart("orderId")
			e.Str(u.OrderID)
		}
		e.FieldStart("discountAmount")
		e.Float64(u.DiscountAmount.InexactFloat64())
		e.FieldStart("usedAt")
		e.Str(u.UsedAt.Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

// DeactivateCoupon handles DELETE /api/coupons/{code}. Coupons are never
// deleted; deactivation keeps the usage history intact.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Deactivate(r.Context(), r.PathValue("code")); err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		internalError(w, r, err, "deactivate coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
