// Package api exposes the redemption engine over HTTP. Handlers translate
// JSON requests into engine calls and engine outcomes back into the wire
// shapes; all business decisions stay in the coupon package.
package api

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

// Handler holds the engine dependencies for all coupon endpoints.
type Handler struct {
	engine    *coupon.Engine
	redeemer  *coupon.Redeemer
	generator *coupon.Generator
	repo      coupon.Repository
}

// NewHandler constructs a Handler with the required engine dependencies.
func NewHandler(
	engine *coupon.Engine,
	redeemer *coupon.Redeemer,
	generator *coupon.Generator,
	repo coupon.Repository,
) *Handler {
	return &Handler{
		engine:    engine,
		redeemer:  redeemer,
		generator: generator,
		repo:      repo,
	}
}

// Register mounts all coupon routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/coupons", h.CreateCoupon)
	mux.HandleFunc("POST /api/coupons/batch", h.GenerateBatch)
	mux.HandleFunc("POST /api/coupons/validate", h.ValidateCoupon)
	mux.HandleFunc("POST /api/coupons/apply", h.ApplyCoupon)
	mux.HandleFunc("GET /api/coupons/{code}", h.GetCoupon)
	mux.HandleFunc("GET /api/coupons/{code}/usages", h.ListUsages)
	mux.HandleFunc("DELETE /api/coupons/{code}", h.DeactivateCoupon)
}

// maxBodyBytes caps request bodies; coupon payloads are small.
const maxBodyBytes = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return nil, false
	}
	return body, true
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
