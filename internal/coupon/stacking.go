package coupon

// CanStack reports whether the candidate coupon tolerates the set of coupons
// already applied to the order.
//
// The check is asymmetric: it only certifies the candidate's own tolerance.
// Combining N coupons safely requires running it for every candidate against
// the rest; that orchestration belongs to the caller.
func CanStack(candidate *Coupon, applied []*Coupon) bool {
	switch candidate.Stackability {
	case StackNone, StackExclusive:
		// Both tags demand the candidate be the sole coupon on the order.
		return len(applied) == 0
	case StackAll:
		return true
	case StackCategory:
		if candidate.Category == "" {
			return false
		}
		for _, other := range applied {
			if other.Category != candidate.Category {
				return false
			}
		}
		return true
	default:
		// Unrecognized rule: fail closed.
		return false
	}
}
