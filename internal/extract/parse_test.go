package extract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avoronov/splitbot/internal/receipt"
)

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantMerchant string
		wantErr      bool
	}{
		{
			name:         "plain JSON",
			input:        `{"date":"2024-01-01T16:45","total":"12.34","merchant":"Jumbo","currency_code":"EUR","category":"Food & Drink / Groceries","split_option":"equal"}`,
			wantMerchant: "Jumbo",
		},
		{
			name:         "markdown fenced JSON",
			input:        "```json\n{\"date\":\"2024-01-01\",\"total\":\"5.00\",\"merchant\":\"Shell\"}\n```",
			wantMerchant: "Shell",
		},
		{
			name:         "prose around the object",
			input:        "Here is the receipt data: {\"date\":\"2024-01-01\",\"total\":\"5.00\",\"merchant\":\"Shell\"} hope that helps!",
			wantMerchant: "Shell",
		},
		{
			name:    "no JSON object",
			input:   "I could not read the receipt.",
			wantErr: true,
		},
		{
			name:    "schema violation",
			input:   `{"date":"2024-01-01","merchant":"Shell"}`,
			wantErr: true,
		},
		{
			name:    "exact split with imbalanced shares",
			input:   `{"date":"2024-01-01","total":"10.00","merchant":"Shell","split_option":"exact","users":[{"user_id":1,"paid_share":"10.00","owed_share":"3.00"}]}`,
			wantErr: true,
		},
		{
			name:         "exact split with balanced shares",
			input:        `{"date":"2024-01-01","total":"10.00","merchant":"Shell","split_option":"exact","users":[{"user_id":1,"paid_share":"10.00","owed_share":"4.00"},{"user_id":2,"paid_share":"0","owed_share":"6.00"}]}`,
			wantMerchant: "Shell",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCandidate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrExtraction) {
					t.Errorf("error = %v, want ErrExtraction", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCandidate() error = %v", err)
			}
			if got.Merchant != tt.wantMerchant {
				t.Errorf("Merchant = %q, want %q", got.Merchant, tt.wantMerchant)
			}
		})
	}
}

func TestSelectExamples(t *testing.T) {
	var history []receipt.Info
	for n := 0; n < 40; n++ {
		merchant := "Jumbo"
		if n%2 == 0 {
			merchant = "Shell"
		}
		history = append(history, receipt.Info{
			Merchant:    merchant,
			Category:    "Groceries",
			SplitOption: receipt.SplitEqual,
			Total:       decimal.NewFromInt(int64(n)),
		})
	}

	picked := SelectExamples(history)
	if len(picked) != 15 {
		t.Fatalf("SelectExamples() returned %d, want 15", len(picked))
	}
	// First picks are the two distinct merchant/category/split combinations.
	if picked[0].Merchant == picked[1].Merchant {
		t.Errorf("expected diverse picks first, got %q and %q", picked[0].Merchant, picked[1].Merchant)
	}

	short := history[:4]
	if got := SelectExamples(short); len(got) != 4 {
		t.Errorf("SelectExamples() on short history = %d entries, want 4", len(got))
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	req := Request{
		Categories: []string{"Food & Drink / Groceries", "Transport / Fuel"},
		Members: []receipt.GroupMember{
			{ID: 11, Name: "Anna"},
			{ID: 12, Name: "Ben"},
		},
		PriorExamples: []receipt.Info{
			{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Merchant: "Jumbo", Total: decimal.NewFromInt(20), CurrencyCode: "EUR", SplitOption: receipt.SplitEqual},
		},
	}
	prompt := buildPrompt(req, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC))

	for _, want := range []string{
		"today is 2024-02-01",
		"Food & Drink / Groceries",
		"11: Anna",
		"12: Ben",
		"Jumbo",
		"ONLY valid JSON",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
