// Package ledger is the client for the Splitwise-compatible expense API the
// bot commits to. The ledger is the authoritative store; this process keeps
// only read-mostly caches of the category vocabulary and group members.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/receipt"
)

// Group is one group the authenticated member belongs to.
type Group struct {
	ID          int64
	Name        string
	MemberCount int
}

// Expense is a committed ledger entry, as returned by the expense query.
type Expense struct {
	ID           int64
	Cost         decimal.Decimal
	Description  string
	Date         time.Time
	CurrencyCode string
	Category     string
}

// Ledger is the operation set the session layer consumes. *Client is the
// real implementation; tests substitute fakes.
type Ledger interface {
	CurrentUser(ctx context.Context) (receipt.GroupMember, error)
	Groups(ctx context.Context) ([]Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]receipt.GroupMember, error)
	InvalidateMembers(groupID int64)
	Categories(ctx context.Context) ([]receipt.Category, error)
	CreateExpense(ctx context.Context, groupID int64, info *receipt.Info) (int64, error)
	Expenses(ctx context.Context, groupID int64, from, to time.Time) ([]Expense, error)
	AttachReceipt(ctx context.Context, expenseID int64, filename string, data []byte) error
}

// OAuthConfig builds the OAuth2 authorization-code configuration for a
// Splitwise-compatible API rooted at base.
func OAuthConfig(clientID, clientSecret, redirectURL, base string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/oauth/authorize",
			TokenURL: base + "/oauth/token",
		},
	}
}
