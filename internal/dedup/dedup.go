// Package dedup flags historical expenses that are probable duplicates of a
// new receipt candidate.
package dedup

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronov/splitbot/internal/receipt"
)

// Window is how far around the candidate date history should be fetched.
// It is a query optimization; the tier rules re-check the day difference.
const Window = 2 * 24 * time.Hour

// Tier identifies which matching rule fired, kept for debuggability.
type Tier string

const (
	// TierSameDay matches expenses on the same calendar day with a loose
	// amount tolerance.
	TierSameDay Tier = "same-day"
	// TierNear matches expenses up to two days apart that share a merchant
	// or category, with a strict amount tolerance.
	TierNear Tier = "near"
)

// Historical is one already-committed expense from the ledger.
type Historical struct {
	ID       int64
	Date     time.Time
	Total    decimal.Decimal
	Merchant string
	Category string
}

// Match is a historical expense flagged as a probable duplicate.
type Match struct {
	Historical
	Tier Tier
}

var (
	sameDayRatio = decimal.RequireFromString("0.15")
	nearRatio    = decimal.RequireFromString("0.05")
)

// Find returns the historical expenses that look like duplicates of the
// candidate, in the order the ledger returned them. Either tier alone is
// sufficient.
func Find(candidate *receipt.Info, history []Historical) []Match {
	var matches []Match
	for _, h := range history {
		if tier, ok := match(candidate, h); ok {
			matches = append(matches, Match{Historical: h, Tier: tier})
		}
	}
	return matches
}

func match(c *receipt.Info, h Historical) (Tier, bool) {
	days := dateDiffDays(c.Date, h.Date)

	if days == 0 && amountWithin(c.Total, h.Total, sameDayRatio) {
		return TierSameDay, true
	}
	if days <= 2 &&
		(sameMerchant(c.Merchant, h.Merchant) || sameCategory(c.Category, h.Category)) &&
		amountWithin(c.Total, h.Total, nearRatio) {
		return TierNear, true
	}
	return "", false
}

// dateDiffDays is the absolute difference in calendar days, each date taken
// in its own location.
func dateDiffDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// amountWithin reports whether |candidate-historical|/candidate is at most
// ratio. A zero candidate total never satisfies an amount rule.
func amountWithin(candidate, historical, ratio decimal.Decimal) bool {
	if candidate.IsZero() {
		return false
	}
	diff := candidate.Sub(historical).Abs().Div(candidate)
	return diff.LessThanOrEqual(ratio)
}

// sameMerchant uses bidirectional case-insensitive substring containment.
// This loose policy is intentional; do not tighten it.
func sameMerchant(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func sameCategory(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
