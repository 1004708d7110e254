package split

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/avoronov/splitbot/internal/receipt"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		total   string
		option  receipt.SplitOption
		users   []receipt.UserShare
		wantErr bool
	}{
		{
			name:   "equal mode needs no shares",
			total:  "45.00",
			option: receipt.SplitEqual,
		},
		{
			name:   "exact balanced",
			total:  "45.00",
			option: receipt.SplitExact,
			users: []receipt.UserShare{
				{UserID: 1, PaidShare: d("45.00"), OwedShare: d("20.00")},
				{UserID: 2, PaidShare: d("0"), OwedShare: d("25.00")},
			},
		},
		{
			name:   "rounding noise inside epsilon",
			total:  "10.00",
			option: receipt.SplitExact,
			users: []receipt.UserShare{
				{UserID: 1, PaidShare: d("10.00"), OwedShare: d("3.33")},
				{UserID: 2, PaidShare: d("0"), OwedShare: d("3.33")},
				{UserID: 3, PaidShare: d("0"), OwedShare: d("3.33")},
			},
		},
		{
			name:   "owed imbalance beyond epsilon",
			total:  "45.00",
			option: receipt.SplitExact,
			users: []receipt.UserShare{
				{UserID: 1, PaidShare: d("45.00"), OwedShare: d("20.00")},
				{UserID: 2, PaidShare: d("0"), OwedShare: d("20.00")},
			},
			wantErr: true,
		},
		{
			name:   "paid imbalance beyond epsilon",
			total:  "45.00",
			option: receipt.SplitExact,
			users: []receipt.UserShare{
				{UserID: 1, PaidShare: d("40.00"), OwedShare: d("22.50")},
				{UserID: 2, PaidShare: d("0"), OwedShare: d("22.50")},
			},
			wantErr: true,
		},
		{
			name:    "exact without users",
			total:   "45.00",
			option:  receipt.SplitExact,
			wantErr: true,
		},
		{
			name:   "negative share",
			total:  "10.00",
			option: receipt.SplitExact,
			users: []receipt.UserShare{
				{UserID: 1, PaidShare: d("15.00"), OwedShare: d("10.00")},
				{UserID: 2, PaidShare: d("-5.00"), OwedShare: d("0")},
			},
			wantErr: true,
		},
		{
			name:    "unknown option",
			total:   "10.00",
			option:  receipt.SplitOption("percentage"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(d(tt.total), tt.option, tt.users)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestImbalanceErrorDetail(t *testing.T) {
	err := Validate(d("45.00"), receipt.SplitExact, []receipt.UserShare{
		{UserID: 1, PaidShare: d("45.00"), OwedShare: d("40.00")},
	})
	var imbalance *ImbalanceError
	if !errors.As(err, &imbalance) {
		t.Fatalf("expected *ImbalanceError, got %v", err)
	}
	if imbalance.Column != "owed" {
		t.Errorf("Column = %q, want owed", imbalance.Column)
	}
	if !imbalance.Want.Equal(d("45.00")) || !imbalance.Got.Equal(d("40.00")) {
		t.Errorf("Want/Got = %s/%s", imbalance.Want, imbalance.Got)
	}
}
