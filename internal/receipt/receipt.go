// Package receipt defines the structured expense candidate extracted from a
// receipt document, plus the category and group-member vocabulary it is
// validated against.
package receipt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// SplitOption selects how an expense is divided among group members.
type SplitOption string

const (
	// SplitEqual lets the ledger divide the total evenly among all members.
	SplitEqual SplitOption = "equal"
	// SplitExact supplies explicit per-user paid/owed shares.
	SplitExact SplitOption = "exact"
)

// Category is one entry of the ledger's category vocabulary. Subcategory
// names are rendered as "Parent / Child".
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GroupMember is a member of the currently selected group.
type GroupMember struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserShare is one participant's share of an exact split.
type UserShare struct {
	UserID    int64           `json:"user_id"`
	PaidShare decimal.Decimal `json:"paid_share"`
	OwedShare decimal.Decimal `json:"owed_share"`
}

// Info is one expense candidate. It is created once by the extraction
// adapter, may be replaced once by a user correction, and becomes immutable
// after commit.
type Info struct {
	Date         time.Time
	Total        decimal.Decimal
	Merchant     string
	CurrencyCode string
	Notes        string
	Category     string
	SplitOption  SplitOption
	Users        []UserShare
}

// dateFallbacks counts candidates whose date was uncoercible and defaulted
// to now. A nonzero count usually means an upstream extraction defect.
var dateFallbacks atomic.Int64

// DateFallbackCount returns how many candidates hit the date fallback.
func DateFallbackCount() int64 {
	return dateFallbacks.Load()
}

type wireShare struct {
	UserID    int64           `json:"user_id"`
	PaidShare flexibleDecimal `json:"paid_share"`
	OwedShare flexibleDecimal `json:"owed_share"`
}

type wireInfo struct {
	Date         string          `json:"date"`
	Total        flexibleDecimal `json:"total"`
	Merchant     string          `json:"merchant"`
	CurrencyCode string          `json:"currency_code"`
	CurrencyAlt  string          `json:"currencyCode,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Category     string          `json:"category,omitempty"`
	SplitOption  string          `json:"split_option,omitempty"`
	SplitAlt     string          `json:"splitOption,omitempty"`
	Users        []wireShare     `json:"users,omitempty"`
}

// flexibleDecimal accepts both JSON numbers and strings, with a comma
// tolerated as the decimal separator.
type flexibleDecimal struct {
	decimal.Decimal
	set bool
}

func (f *flexibleDecimal) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", s, err)
	}
	f.Decimal = d
	f.set = true
	return nil
}

func (f flexibleDecimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Decimal.String())
}

// MarshalJSON emits the normalized wire form of the candidate.
func (i Info) MarshalJSON() ([]byte, error) {
	w := wireInfo{
		Date:         i.Date.Format(time.RFC3339),
		Total:        flexibleDecimal{Decimal: i.Total, set: true},
		Merchant:     i.Merchant,
		CurrencyCode: i.CurrencyCode,
		Notes:        i.Notes,
		Category:     i.Category,
		SplitOption:  string(i.SplitOption),
	}
	for _, u := range i.Users {
		w.Users = append(w.Users, wireShare{
			UserID:    u.UserID,
			PaidShare: flexibleDecimal{Decimal: u.PaidShare, set: true},
			OwedShare: flexibleDecimal{Decimal: u.OwedShare, set: true},
		})
	}
	return json.Marshal(w)
}

// coerceDate accepts a plain date or an ISO timestamp. Anything unparsable
// falls back to now; that fallback is counted so it never passes silently.
func coerceDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
			return t
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02T15:04",
		} {
			if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
				return t
			}
		}
	}
	dateFallbacks.Add(1)
	return time.Now()
}

// UnmarshalJSON parses and normalizes a candidate from the extraction or
// correction boundary. Loose input is coerced once here; consumers see only
// the validated form.
func (i *Info) UnmarshalJSON(data []byte) error {
	var w wireInfo
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if !w.Total.set {
		return fmt.Errorf("total is required")
	}
	if w.Total.Decimal.IsNegative() {
		return fmt.Errorf("total must be non-negative, got %s", w.Total.Decimal)
	}

	currency := w.CurrencyCode
	if currency == "" {
		currency = w.CurrencyAlt
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !isCurrencyCode(currency) {
		currency = "EUR"
	}

	merchant := strings.TrimSpace(w.Merchant)
	if merchant == "" {
		merchant = "Unknown"
	}

	split := w.SplitAlt
	if split == "" {
		split = w.SplitOption
	}
	var option SplitOption
	switch split {
	case "", string(SplitEqual):
		option = SplitEqual
	case string(SplitExact):
		option = SplitExact
	default:
		return fmt.Errorf("invalid split_option %q", split)
	}

	var users []UserShare
	if option == SplitExact {
		if len(w.Users) == 0 {
			return fmt.Errorf("exact split requires per-user shares")
		}
		for _, u := range w.Users {
			users = append(users, UserShare{
				UserID:    u.UserID,
				PaidShare: u.PaidShare.Decimal,
				OwedShare: u.OwedShare.Decimal,
			})
		}
	}

	i.Date = coerceDate(w.Date)
	i.Total = w.Total.Decimal
	i.Merchant = merchant
	i.CurrencyCode = currency
	i.Notes = w.Notes
	i.Category = w.Category
	i.SplitOption = option
	i.Users = users
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ApplyCorrection overlays the fields present in patch over the current
// candidate and returns the re-validated result. Unspecified fields keep
// their prior values; this is a replace-by-field merge, not a diff.
func (i *Info) ApplyCorrection(patch []byte) (*Info, error) {
	base, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("decoding candidate: %w", err)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("invalid correction payload: %w", err)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	combined, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged candidate: %w", err)
	}
	var out Info
	if err := json.Unmarshal(combined, &out); err != nil {
		return nil, fmt.Errorf("invalid corrected candidate: %w", err)
	}
	return &out, nil
}

// Summary renders the candidate the way it is shown to the user for
// confirmation.
func (i *Info) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merchant: %s\n", i.Merchant)
	fmt.Fprintf(&b, "Amount: %s %s\n", i.Total, i.CurrencyCode)
	fmt.Fprintf(&b, "Date: %s\n", i.Date.Format("January 2, 2006"))
	category := i.Category
	if category == "" {
		category = "Not available"
	}
	fmt.Fprintf(&b, "Category: %s\n", category)
	if i.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", i.Notes)
	}
	if i.SplitOption == SplitExact {
		fmt.Fprintf(&b, "Split: exact (%d shares)", len(i.Users))
	} else {
		fmt.Fprintf(&b, "Split: equally among the group")
	}
	return b.String()
}
