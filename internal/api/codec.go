package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

// redeemRequest is the wire shape shared by validate and apply.
type redeemRequest struct {
	Code            string
	UserID          string
	OrderAmount     *decimal.Decimal
	OrderID         string
	ExistingCoupons []string
	EventID         string
	CategoryID      string
}

func (req *redeemRequest) context() coupon.Context {
	return coupon.Context{
		UserID:       req.UserID,
		OrderAmount:  req.OrderAmount,
		OrderID:      req.OrderID,
		EventID:      req.EventID,
		CategoryID:   req.CategoryID,
		AppliedCodes: req.ExistingCoupons,
	}
}

func decodeRedeemRequest(data []byte) (*redeemRequest, error) {
	var req redeemRequest
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "userId":
			req.UserID, err = d.Str()
		case "orderId":
			req.OrderID, err = d.Str()
		case "eventId":
			req.EventID, err = d.Str()
		case "categoryId":
			req.CategoryID, err = d.Str()
		case "orderAmount":
			req.OrderAmount, err = decodeDecimalPtr(d)
		case "existingCoupons":
			err = d.Arr(func(d *jx.Decoder) error {
				code, err := d.Str()
				if err != nil {
					return err
				}
				req.ExistingCoupons = append(req.ExistingCoupons, code)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	return &req, nil
}

// decodeCoupon parses a coupon definition from a create or batch request
// body. Fields the engine derives (id, currentUses, status) are ignored.
func decodeCoupon(d *jx.Decoder) (*coupon.Coupon, error) {
	c := coupon.Coupon{
		Stackability: coupon.StackNone,
		Scope:        coupon.ScopeGlobal,
	}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			c.Type = coupon.DiscountType(s)
		case "discountValue":
			c.DiscountValue, err = decodeDecimal(d)
		case "currency":
			c.Currency, err = d.Str()
		case "maximumDiscount":
			c.MaximumDiscount, err = decodeDecimal(d)
		case "minimumAmount":
			c.MinimumAmount, err = decodeDecimal(d)
		case "startsAt":
			c.StartsAt, err = decodeTimePtr(d)
		case "expiresAt":
			c.ExpiresAt, err = decodeTimePtr(d)
		case "maxUses":
			c.MaxUses, err = d.Int()
		case "maxUsesPerUser":
			c.MaxUsesPerUser, err = d.Int()
		case "stackabilityRule":
			var s string
			s, err = d.Str()
			c.Stackability = coupon.StackabilityRule(s)
		case "category":
			c.Category, err = d.Str()
		case "scope":
			var s string
			s, err = d.Str()
			c.Scope = coupon.Scope(s)
		case "userId":
			c.UserID, err = d.Str()
		case "affiliateId":
			c.AffiliateID, err = d.Str()
		case "eventId":
			c.EventID, err = d.Str()
		case "categoryId":
			c.CategoryID, err = d.Str()
		case "createdBy":
			c.CreatedBy, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func decodeDecimalPtr(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeTimePtr(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeCouponSummary writes the public snapshot of a coupon: the fields a
// client needs to render the offer, not the bookkeeping.
func encodeCouponSummary(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("type")
	e.Str(string(c.Type))
	e.FieldStart("discountValue")
	e.Float64(c.DiscountValue.InexactFloat64())
	if c.Currency != "" {
		e.FieldStart("currency")
		e.Str(c.Currency)
	}
	e.FieldStart("minimumAmount")
	e.Float64(c.MinimumAmount.InexactFloat64())
	if c.MaximumDiscount.IsPositive() {
		e.FieldStart("maximumDiscount")
		e.Float64(c.MaximumDiscount.InexactFloat64())
	}
	e.ObjEnd()
}

// encodeCouponFull writes the complete coupon resource for admin reads.
func encodeCouponFull(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("type")
	e.Str(string(c.Type))
	e.FieldStart("discountValue")
	e.Float64(c.DiscountValue.InexactFloat64())
	if c.Currency != "" {
		e.FieldStart("currency")
		e.Str(c.Currency)
	}
	if c.MaximumDiscount.IsPositive() {
		e.FieldStart("maximumDiscount")
		e.Float64(c.MaximumDiscount.InexactFloat64())
	}
	e.FieldStart("status")
	e.Str(string(c.Status))
	if c.StartsAt != nil {
		e.FieldStart("startsAt")
		e.Str(c.StartsAt.Format(time.RFC3339))
	}
	if c.ExpiresAt != nil {
		e.FieldStart("expiresAt")
		e.Str(c.ExpiresAt.Format(time.RFC3339))
	}
	e.FieldStart("maxUses")
	e.Int(c.MaxUses)
	e.FieldStart("maxUsesPerUser")
	e.Int(c.MaxUsesPerUser)
	e.FieldStart("currentUses")
	e.Int(c.CurrentUses)
	e.FieldStart("stackabilityRule")
	e.Str(string(c.Stackability))
	if c.Category != "" {
		e.FieldStart("category")
		e.Str(c.Category)
	}
	e.FieldStart("scope")
	e.Str(string(c.Scope))
	if c.UserID != "" {
		e.FieldStart("userId")
		e.Str(c.UserID)
	}
	if c.AffiliateID != "" {
		e.FieldStart("affiliateId")
		e.Str(c.AffiliateID)
	}
	if c.EventID != "" {
		e.FieldStart("eventId")
		e.Str(c.EventID)
	}
	if c.CategoryID != "" {
		e.FieldStart("categoryId")
		e.Str(c.CategoryID)
	}
	e.FieldStart("minimumAmount")
	e.Float64(c.MinimumAmount.InexactFloat64())
	e.FieldStart("createdAt")
	e.Str(c.CreatedAt.Format(time.RFC3339))
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}
