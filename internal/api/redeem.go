package api

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

// maxBatchCount caps one batch generation request.
const maxBatchCount = 10_000

// ValidateCoupon handles POST /api/coupons/validate. Business rejections are
// successful responses with isValid=false; only malformed requests and
// infrastructure faults map to error statuses.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := decodeRedeemRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	v, err := h.engine.Validate(r.Context(), req.Code, req.context())
	if err != nil {
		internalError(w, r, err, "validate coupon")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("isValid")
	e.Bool(v.Valid)
	if !v.Valid {
		e.FieldStart("errorMessage")
		e.Str(v.Message)
		e.FieldStart("reason")
		e.Str(string(v.Reason))
	}
	if v.Coupon != nil {
		e.FieldStart("coupon")
		encodeCouponSummary(&e, v.Coupon)
	}
	if v.Valid && req.OrderAmount != nil {
		e.FieldStart("discountAmount")
		e.Float64(v.DiscountAmount.InexactFloat64())
		e.FieldStart("finalAmount")
		e.Float64(v.FinalAmount.InexactFloat64())
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

// ApplyCoupon handles POST /api/coupons/apply. A lost race for the last usage
// slot comes back as success=false with a reason, not as an error status.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := decodeRedeemRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	switch {
	case req.Code == "":
		writeError(w, http.StatusBadRequest, "code is required")
		return
	case req.UserID == "":
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	case req.OrderAmount == nil:
		writeError(w, http.StatusBadRequest, "orderAmount is required")
		return
	}

	res, err := h.redeemer.Apply(r.Context(), req.Code, req.context())
	if err != nil {
		internalError(w, r, err, "apply coupon")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(res.Success)
	if !res.Success {
		e.FieldStart("errorMessage")
		e.Str(res.Message)
		e.FieldStart("reason")
		e.Str(string(res.Reason))
	}
	if res.Coupon != nil {
		e.FieldStart("coupon")
		encodeCouponSummary(&e, res.Coupon)
	}
	if res.Success {
		e.FieldStart("discountAmount")
		e.Float64(res.DiscountAmount.InexactFloat64())
		e.FieldStart("finalAmount")
		e.Float64(res.FinalAmount.InexactFloat64())
		e.FieldStart("usageId")
		e.Str(res.UsageID)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

// GenerateBatch handles POST /api/coupons/batch: bulk-generates coupons from
// a template with fresh unique codes.
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var (
		count    int
		workers  int
		template *coupon.Coupon
	)
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "count":
			count, err = d.Int()
		case "workers":
			workers, err = d.Int()
		case "template":
			template, err = decodeCoupon(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if count <= 0 || count > maxBatchCount {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 10000")
		return
	}
	if template == nil {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}

	// The template's code field is ignored; each coupon gets a generated one.
	// Definition checks run against a placeholder so structural errors surface
	// before any insert.
	probe := *template
	probe.Code = "PROBE"
	if err := probe.ValidateDefinition(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	codes, err := h.generator.Generate(r.Context(), count, workers, *template)
	if err != nil {
		internalError(w, r, err, "generate batch")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("count")
	e.Int(len(codes))
	e.FieldStart("codes")
	e.ArrStart()
	for _, code := range codes {
		e.Str(code)
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, e.Bytes())
}
