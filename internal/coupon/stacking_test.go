package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanStack(t *testing.T) {
	summer := &Coupon{Code: "SUMMERB", Stackability: StackAll, Category: "summer"}
	winter := &Coupon{Code: "WINTERC", Stackability: StackAll, Category: "winter"}
	plain := &Coupon{Code: "PLAIN", Stackability: StackAll}

	tests := []struct {
		name      string
		candidate Coupon
		applied   []*Coupon
		want      bool
	}{
		{
			name:      "none with empty order",
			candidate: Coupon{Stackability: StackNone},
			want:      true,
		},
		{
			name:      "none with another coupon applied",
			candidate: Coupon{Stackability: StackNone},
			applied:   []*Coupon{plain},
			want:      false,
		},
		{
			name:      "exclusive with empty order",
			candidate: Coupon{Stackability: StackExclusive},
			want:      true,
		},
		{
			name:      "exclusive with another coupon applied",
			candidate: Coupon{Stackability: StackExclusive},
			applied:   []*Coupon{plain},
			want:      false,
		},
		{
			name:      "all stacks with anything",
			candidate: Coupon{Stackability: StackAll},
			applied:   []*Coupon{summer, winter, plain},
			want:      true,
		},
		{
			name:      "category matches same category",
			candidate: Coupon{Stackability: StackCategory, Category: "summer"},
			applied:   []*Coupon{summer},
			want:      true,
		},
		{
			name:      "category rejects different category",
			candidate: Coupon{Stackability: StackCategory, Category: "summer"},
			applied:   []*Coupon{winter},
			want:      false,
		},
		{
			name:      "category rejects mixed set",
			candidate: Coupon{Stackability: StackCategory, Category: "summer"},
			applied:   []*Coupon{summer, winter},
			want:      false,
		},
		{
			name:      "category with empty order",
			candidate: Coupon{Stackability: StackCategory, Category: "summer"},
			want:      true,
		},
		{
			name:      "category without own category fails closed",
			candidate: Coupon{Stackability: StackCategory},
			want:      false,
		},
		{
			name:      "unknown rule fails closed",
			candidate: Coupon{Stackability: "whenever"},
			want:      false,
		},
		{
			name:      "unknown rule fails closed even when order is empty",
			candidate: Coupon{Stackability: ""},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanStack(&tt.candidate, tt.applied))
		})
	}
}
