package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/receipt"
)

// APIError is a non-success answer from the ledger API.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("ledger API error (status %d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("ledger API error (status %d)", e.StatusCode)
}

// Client talks to one Splitwise-compatible API on behalf of one
// authenticated member. Category and member lookups are cached: the
// vocabulary once per client, members keyed by group id and invalidated on
// group change.
type Client struct {
	http *http.Client
	base string

	mu         sync.RWMutex
	categories []receipt.Category
	members    map[int64][]receipt.GroupMember
}

// NewClient binds a client to a credential. The token source handles
// refresh; base is the API root without the /api/v3.0 suffix.
func NewClient(base string, cfg *oauth2.Config, token *oauth2.Token) *Client {
	return &Client{
		http:    cfg.Client(context.Background(), token),
		base:    strings.TrimSuffix(base, "/"),
		members: make(map[int64][]receipt.GroupMember),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + "/api/v3.0/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling ledger API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding ledger response: %w", err)
	}
	return nil
}

type wireUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u wireUser) displayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CurrentUser returns the authenticated member.
func (c *Client) CurrentUser(ctx context.Context) (receipt.GroupMember, error) {
	var body struct {
		User wireUser `json:"user"`
	}
	if err := c.get(ctx, "get_current_user", nil, &body); err != nil {
		return receipt.GroupMember{}, err
	}
	return receipt.GroupMember{ID: body.User.ID, Name: body.User.displayName()}, nil
}

// Groups lists the member's groups, sorted by ascending member count so the
// small everyday groups come first in selection menus.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var body struct {
		Groups []struct {
			ID      int64      `json:"id"`
			Name    string     `json:"name"`
			Members []wireUser `json:"members"`
		} `json:"groups"`
	}
	if err := c.get(ctx, "get_groups", nil, &body); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(body.Groups))
	for _, g := range body.Groups {
		groups = append(groups, Group{ID: g.ID, Name: g.Name, MemberCount: len(g.Members)})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].MemberCount < groups[j].MemberCount
	})
	return groups, nil
}

// GroupMembers returns the members of one group, from cache when possible.
func (c *Client) GroupMembers(ctx context.Context, groupID int64) ([]receipt.GroupMember, error) {
	c.mu.RLock()
	cached, ok := c.members[groupID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var body struct {
		Group struct {
			Members []wireUser `json:"members"`
		} `json:"group"`
	}
	query := url.Values{"group_id": {strconv.FormatInt(groupID, 10)}}
	if err := c.get(ctx, "get_group/"+strconv.FormatInt(groupID, 10), query, &body); err != nil {
		return nil, err
	}

	members := make([]receipt.GroupMember, 0, len(body.Group.Members))
	for _, m := range body.Group.Members {
		members = append(members, receipt.GroupMember{ID: m.ID, Name: m.displayName()})
	}

	c.mu.Lock()
	c.members[groupID] = members
	c.mu.Unlock()
	return members, nil
}

// InvalidateMembers drops the cached member list for a group. Called when
// the active group changes.
func (c *Client) InvalidateMembers(groupID int64) {
	c.mu.Lock()
	delete(c.members, groupID)
	c.mu.Unlock()
}

// Categories returns the flattened vocabulary: every parent category plus
// each subcategory as "Parent / Child". Cached for the client's lifetime.
func (c *Client) Categories(ctx context.Context) ([]receipt.Category, error) {
	c.mu.RLock()
	cached := c.categories
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	var body struct {
		Categories []struct {
			ID            int64  `json:"id"`
			Name          string `json:"name"`
			Subcategories []struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			} `json:"subcategories"`
		} `json:"categories"`
	}
	if err := c.get(ctx, "get_categories", nil, &body); err != nil {
		return nil, err
	}

	var categories []receipt.Category
	for _, parent := range body.Categories {
		categories = append(categories, receipt.Category{ID: parent.ID, Name: parent.Name})
		for _, sub := range parent.Subcategories {
			categories = append(categories, receipt.Category{
				ID:   sub.ID,
				Name: fmt.Sprintf("%s / %s", parent.Name, sub.Name),
			})
		}
	}

	c.mu.Lock()
	c.categories = categories
	c.mu.Unlock()
	return categories, nil
}

// categoryByName resolves a label by substring containment against the full
// display names, first match wins. Loose on purpose; the extraction prompt
// promises exact names but corrections may be partial.
func (c *Client) categoryByName(ctx context.Context, name string) (receipt.Category, bool, error) {
	categories, err := c.Categories(ctx)
	if err != nil {
		return receipt.Category{}, false, err
	}
	for _, cat := range categories {
		if strings.Contains(cat.Name, name) {
			return cat, true, nil
		}
	}
	return receipt.Category{}, false, nil
}

// CreateExpense commits a candidate and returns the new expense id.
func (c *Client) CreateExpense(ctx context.Context, groupID int64, info *receipt.Info) (int64, error) {
	form := url.Values{
		"cost":          {info.Total.StringFixed(2)},
		"description":   {info.Merchant},
		"date":          {info.Date.Format(time.RFC3339)},
		"group_id":      {strconv.FormatInt(groupID, 10)},
		"currency_code": {info.CurrencyCode},
	}
	if info.Notes != "" {
		form.Set("details", info.Notes)
	}
	if info.Category != "" {
		cat, found, err := c.categoryByName(ctx, info.Category)
		if err != nil {
			return 0, err
		}
		if found {
			form.Set("category_id", strconv.FormatInt(cat.ID, 10))
		}
	}

	switch info.SplitOption {
	case receipt.SplitExact:
		for n, u := range info.Users {
			prefix := fmt.Sprintf("users__%d__", n)
			form.Set(prefix+"user_id", strconv.FormatInt(u.UserID, 10))
			form.Set(prefix+"paid_share", u.PaidShare.StringFixed(2))
			form.Set(prefix+"owed_share", u.OwedShare.StringFixed(2))
		}
	default:
		form.Set("split_equally", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/v3.0/create_expense", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling ledger API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &APIError{StatusCode: resp.StatusCode}
	}

	var body struct {
		Expenses []struct {
			ID int64 `json:"id"`
		} `json:"expenses"`
		Errors map[string][]string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding create_expense response: %w", err)
	}

	var messages []string
	for _, msgs := range body.Errors {
		messages = append(messages, msgs...)
	}
	if len(messages) > 0 {
		return 0, &APIError{StatusCode: resp.StatusCode, Messages: messages}
	}
	if len(body.Expenses) == 0 {
		return 0, fmt.Errorf("create_expense returned no expense")
	}
	return body.Expenses[0].ID, nil
}

// Expenses queries committed expenses of one group within a date range.
// Used only for duplicate detection; callers treat failure as an empty
// result.
func (c *Client) Expenses(ctx context.Context, groupID int64, from, to time.Time) ([]Expense, error) {
	query := url.Values{
		"group_id":     {strconv.FormatInt(groupID, 10)},
		"dated_after":  {from.Format(time.RFC3339)},
		"dated_before": {to.Format(time.RFC3339)},
		"limit":        {"0"},
	}

	var body struct {
		Expenses []struct {
			ID           int64  `json:"id"`
			Cost         string `json:"cost"`
			Description  string `json:"description"`
			Date         string `json:"date"`
			CurrencyCode string `json:"currency_code"`
			DeletedAt    string `json:"deleted_at"`
			Category     struct {
				Name string `json:"name"`
			} `json:"category"`
		} `json:"expenses"`
	}
	if err := c.get(ctx, "get_expenses", query, &body); err != nil {
		return nil, err
	}

	var expenses []Expense
	for _, e := range body.Expenses {
		if e.DeletedAt != "" {
			continue
		}
		cost, err := decimal.NewFromString(e.Cost)
		if err != nil {
			continue
		}
		date, err := time.Parse(time.RFC3339, e.Date)
		if err != nil {
			continue
		}
		expenses = append(expenses, Expense{
			ID:           e.ID,
			Cost:         cost,
			Description:  e.Description,
			Date:         date,
			CurrencyCode: e.CurrencyCode,
			Category:     e.Category.Name,
		})
	}
	return expenses, nil
}

// AttachReceipt uploads the original document to an already-committed
// expense. Best-effort by contract; the caller logs failures and moves on.
func (c *Client) AttachReceipt(ctx context.Context, expenseID int64, filename string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("receipt", filename)
	if err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}

	u := fmt.Sprintf("%s/api/v3.0/update_expense/%d", c.base, expenseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading receipt: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}
