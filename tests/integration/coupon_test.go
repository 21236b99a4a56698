//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// uniqueCode returns a code unlikely to collide across test runs against a
// shared database.
func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func createCoupon(t *testing.T, body map[string]any) couponResponse {
	t.Helper()

	resp := doPost(t, "/api/coupons", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		e := decodeJSON[errorResponse](t, resp)
		t.Fatalf("create coupon: status %d: %s", resp.StatusCode, e.Message)
	}
	return decodeJSON[couponResponse](t, resp)
}

func TestCouponLifecycle(t *testing.T) {
	code := uniqueCode("LIFE")

	created := createCoupon(t, map[string]any{
		"code":          code,
		"name":          "Lifecycle test",
		"type":          "percentage",
		"discountValue": 20,
		"maxUses":       10,
	})
	if created.Status != "active" {
		t.Fatalf("expected active, got %q", created.Status)
	}

	// Lookup is case-insensitive.
	resp := doGet(t, "/api/coupons/"+code)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get coupon: status %d", resp.StatusCode)
	}
	got := decodeJSON[couponResponse](t, resp)
	if got.ID != created.ID {
		t.Fatalf("get returned a different coupon: %q vs %q", got.ID, created.ID)
	}

	// Validate computes the discount without consuming a use.
	vresp := doPost(t, "/api/coupons/validate", map[string]any{
		"code": code, "userId": "user-1", "orderAmount": 100,
	})
	defer vresp.Body.Close()
	v := decodeJSON[validateResponse](t, vresp)
	if !v.IsValid {
		t.Fatalf("expected valid: %s", v.ErrorMessage)
	}
	if v.DiscountAmount != 20 || v.FinalAmount != 80 {
		t.Fatalf("discount %v / final %v, want 20 / 80", v.DiscountAmount, v.FinalAmount)
	}

	// Apply consumes a use and records it.
	aresp := doPost(t, "/api/coupons/apply", map[string]any{
		"code": code, "userId": "user-1", "orderId": "order-1", "orderAmount": 100,
	})
	defer aresp.Body.Close()
	a := decodeJSON[applyResponse](t, aresp)
	if !a.Success {
		t.Fatalf("expected success: %s", a.ErrorMessage)
	}
	if a.UsageID == "" {
		t.Fatal("expected a usage id")
	}

	uresp := doGet(t, "/api/coupons/"+code+"/usages")
	defer uresp.Body.Close()
	u := decodeJSON[usagesResponse](t, uresp)
	if u.CurrentUses != 1 || len(u.Usages) != 1 {
		t.Fatalf("expected 1 usage, got currentUses=%d usages=%d", u.CurrentUses, len(u.Usages))
	}
	if u.Usages[0].OrderID != "order-1" {
		t.Fatalf("usage order id: got %q", u.Usages[0].OrderID)
	}

	// Deactivate, then validation refuses the code.
	dresp := doDelete(t, "/api/coupons/"+code)
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate: status %d", dresp.StatusCode)
	}

	vresp2 := doPost(t, "/api/coupons/validate", map[string]any{
		"code": code, "userId": "user-1", "orderAmount": 100,
	})
	defer vresp2.Body.Close()
	v2 := decodeJSON[validateResponse](t, vresp2)
	if v2.IsValid || v2.Reason != "not_active" {
		t.Fatalf("expected not_active rejection, got valid=%v reason=%q", v2.IsValid, v2.Reason)
	}
}

func TestCreateCoupon_DuplicateCode(t *testing.T) {
	code := uniqueCode("DUP")
	createCoupon(t, map[string]any{
		"code": code, "type": "percentage", "discountValue": 10,
	})

	resp := doPost(t, "/api/coupons", map[string]any{
		"code": code, "type": "percentage", "discountValue": 15,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestValidate_UnknownCode(t *testing.T) {
	resp := doPost(t, "/api/coupons/validate", map[string]any{
		"code": "NOSUCHCODE", "userId": "u", "orderAmount": 50,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	v := decodeJSON[validateResponse](t, resp)
	if v.IsValid || v.Reason != "not_found" {
		t.Fatalf("expected not_found, got valid=%v reason=%q", v.IsValid, v.Reason)
	}
}

func TestApply_ConcurrentLastSlot(t *testing.T) {
	code := uniqueCode("RACE")
	createCoupon(t, map[string]any{
		"code": code, "type": "fixed", "discountValue": 5, "currency": "USD", "maxUses": 1,
	})

	const attempts = 10
	results := make(chan applyResponse, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := doPost(t, "/api/coupons/apply", map[string]any{
				"code":        code,
				"userId":      fmt.Sprintf("racer-%d", i),
				"orderAmount": 50,
			})
			defer resp.Body.Close()
			results <- decodeJSON[applyResponse](t, resp)
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for r := range results {
		if r.Success {
			wins++
		} else if r.Reason != "limit_exceeded" {
			t.Errorf("loser got reason %q, want limit_exceeded", r.Reason)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}

	uresp := doGet(t, "/api/coupons/"+code+"/usages")
	defer uresp.Body.Close()
	u := decodeJSON[usagesResponse](t, uresp)
	if u.CurrentUses != 1 || len(u.Usages) != 1 {
		t.Fatalf("usage accounting off: currentUses=%d usages=%d", u.CurrentUses, len(u.Usages))
	}
}

func TestGenerateBatch(t *testing.T) {
	resp := doPost(t, "/api/coupons/batch", map[string]any{
		"count":   20,
		"workers": 4,
		"template": map[string]any{
			"name":          "Batch promo",
			"type":          "percentage",
			"discountValue": 15,
			"maxUses":       1,
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	b := decodeJSON[batchResponse](t, resp)
	if b.Count != 20 || len(b.Codes) != 20 {
		t.Fatalf("expected 20 codes, got count=%d len=%d", b.Count, len(b.Codes))
	}

	seen := make(map[string]struct{}, len(b.Codes))
	for _, code := range b.Codes {
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate generated code %q", code)
		}
		seen[code] = struct{}{}
	}

	// Spot-check that a generated code is live.
	vresp := doPost(t, "/api/coupons/validate", map[string]any{
		"code": b.Codes[0], "userId": "u", "orderAmount": 100,
	})
	defer vresp.Body.Close()
	if v := decodeJSON[validateResponse](t, vresp); !v.IsValid {
		t.Fatalf("generated code should validate: %s", v.ErrorMessage)
	}
}

func TestApply_PerUserLimit(t *testing.T) {
	code := uniqueCode("ONCE")
	createCoupon(t, map[string]any{
		"code": code, "type": "percentage", "discountValue": 10, "maxUsesPerUser": 1,
	})

	first := doPost(t, "/api/coupons/apply", map[string]any{
		"code": code, "userId": "repeat-user", "orderAmount": 40,
	})
	defer first.Body.Close()
	if a := decodeJSON[applyResponse](t, first); !a.Success {
		t.Fatalf("first apply should succeed: %s", a.ErrorMessage)
	}

	second := doPost(t, "/api/coupons/apply", map[string]any{
		"code": code, "userId": "repeat-user", "orderAmount": 40,
	})
	defer second.Body.Close()
	a := decodeJSON[applyResponse](t, second)
	if a.Success || a.Reason != "user_limit_exceeded" {
		t.Fatalf("expected user_limit_exceeded, got success=%v reason=%q", a.Success, a.Reason)
	}

	// A different user is unaffected.
	third := doPost(t, "/api/coupons/apply", map[string]any{
		"code": code, "userId": "other-user", "orderAmount": 40,
	})
	defer third.Body.Close()
	if a := decodeJSON[applyResponse](t, third); !a.Success {
		t.Fatalf("other user should succeed: %s", a.ErrorMessage)
	}
}
