package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/dedup"
	"github.com/avoronov/splitbot/internal/extract"
	"github.com/avoronov/splitbot/internal/ledger"
	"github.com/avoronov/splitbot/internal/receipt"
	"github.com/avoronov/splitbot/internal/split"
	"github.com/avoronov/splitbot/internal/storage"
)

const maxHistory = 50

const helpText = `I turn receipt photos into shared expenses.

/login — connect your expense account
/change_group — pick another group
/cancel — drop the receipt being processed
/logout — disconnect
/help — this message

Once connected, just send me a photo or PDF of a receipt.`

// Config wires a Manager to its collaborators.
type Config struct {
	Extractor extract.Extractor
	NewLedger func(token *oauth2.Token) ledger.Ledger
	Store     storage.Storage
	Messenger Messenger

	// AuthURL returns the authorization link for a user, CorrectionURL
	// the web form for editing the pending candidate.
	AuthURL       func(userID string) (string, error)
	CorrectionURL func(userID string) (string, error)

	Logger *zap.Logger
}

// Manager owns all conversations, one Session per user.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	store map[string]*Session
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, store: make(map[string]*Session)}
}

// session returns the user's session, creating it on first contact. The
// channel is refreshed on every interaction so replies follow the user.
func (m *Manager) session(userID, channelID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[userID]
	if !ok {
		s = &Session{userID: userID, state: StateIdle}
		m.store[userID] = s
	}
	if channelID != "" {
		s.channelID = channelID
	}
	return s
}

// HandleCommand dispatches a slash command.
func (m *Manager) HandleCommand(ctx context.Context, userID, channelID, name string) {
	s := m.session(userID, channelID)

	switch name {
	case "help":
		m.send(s, helpText)
	case "start", "login":
		m.login(ctx, s)
	case "logout":
		m.logout(s)
	case "change_group":
		m.changeGroup(ctx, s)
	case "cancel":
		m.cancel(s)
	default:
		m.send(s, "I don't know that command. Try /help.")
	}
}

func (m *Manager) login(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.authed() {
		s.mu.Unlock()
		m.startGroupSelection(ctx, s)
		return
	}
	s.state = StateAwaitingAuth
	s.mu.Unlock()

	url, err := m.cfg.AuthURL(s.userID)
	if err != nil {
		m.cfg.Logger.Error("building auth url", zap.String("user_id", s.userID), zap.Error(err))
		m.send(s, "Something went wrong preparing the login link. Please try again.")
		return
	}
	m.send(s, "Connect your expense account here, then come back:\n"+url)
}

func (m *Manager) logout(s *Session) {
	s.mu.Lock()
	s.token = nil
	s.ledger = nil
	s.groups = nil
	s.groupID = 0
	s.groupName = ""
	s.history = nil
	path := s.reset()
	s.mu.Unlock()

	m.deleteFile(s, path)
	m.send(s, "Disconnected. Use /login when you want to start again.")
}

func (m *Manager) cancel(s *Session) {
	s.mu.Lock()
	hadReceipt := s.docPath != "" || s.candidate != nil || s.state == StateExtracting
	path := s.reset()
	s.mu.Unlock()

	m.deleteFile(s, path)
	if hadReceipt {
		m.send(s, "Dropped that receipt. Send another whenever you're ready.")
	} else {
		m.send(s, "Nothing to cancel.")
	}
}

func (m *Manager) changeGroup(ctx context.Context, s *Session) {
	s.mu.Lock()
	if !s.authed() {
		s.mu.Unlock()
		m.send(s, "You're not connected yet. Use /login first.")
		return
	}
	if s.groupID != 0 {
		s.ledger.InvalidateMembers(s.groupID)
	}
	path := s.reset()
	s.state = StateAwaitingGroup
	s.mu.Unlock()

	m.deleteFile(s, path)
	m.startGroupSelection(ctx, s)
}

// DeliverAuth hands a freshly exchanged token to the user's session. The
// web callback may be replayed, so a second delivery for an already
// connected session is a no-op.
func (m *Manager) DeliverAuth(ctx context.Context, userID string, token *oauth2.Token) {
	m.mu.Lock()
	s, ok := m.store[userID]
	m.mu.Unlock()
	if !ok {
		m.cfg.Logger.Warn("auth delivered for unknown session", zap.String("user_id", userID))
		return
	}

	s.mu.Lock()
	if s.authed() && s.state != StateAwaitingAuth {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.ledger = m.cfg.NewLedger(token)
	s.state = StateAwaitingGroup
	led := s.ledger
	s.mu.Unlock()

	if me, err := led.CurrentUser(ctx); err == nil && me.Name != "" {
		m.send(s, "Connected as "+me.Name+"!")
	} else {
		m.send(s, "Connected!")
	}
	m.startGroupSelection(ctx, s)
}

// startGroupSelection fetches the group list and offers it as a numbered
// menu.
func (m *Manager) startGroupSelection(ctx context.Context, s *Session) {
	s.mu.Lock()
	led := s.ledger
	s.mu.Unlock()
	if led == nil {
		m.send(s, "You're not connected yet. Use /login first.")
		return
	}

	groups, err := led.Groups(ctx)
	if err != nil {
		m.cfg.Logger.Error("listing groups", zap.String("user_id", s.userID), zap.Error(err))
		m.send(s, "Couldn't load your groups. Please try again.")
		return
	}
	if len(groups) == 0 {
		m.send(s, "You have no groups in your expense account. Create one there first.")
		return
	}

	s.mu.Lock()
	s.groups = groups
	s.state = StateAwaitingGroup
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("Which group should expenses go to? Reply with a number:\n")
	for n, g := range groups {
		fmt.Fprintf(&b, "%d. %s (%d members)\n", n+1, g.Name, g.MemberCount)
	}
	m.send(s, b.String())
}

// HandleText handles free-form text, which only matters while a group
// menu is open.
func (m *Manager) HandleText(ctx context.Context, userID, channelID, text string) {
	s := m.session(userID, channelID)

	s.mu.Lock()
	if s.state != StateAwaitingGroup {
		state := s.state
		s.mu.Unlock()
		switch state {
		case StateIdle, StateAwaitingAuth:
			m.send(s, "Use /login to connect your expense account first.")
		case StateAwaitingFile:
			m.send(s, "Send me a receipt photo or PDF, or /help for commands.")
		}
		return
	}
	groups := s.groups
	s.mu.Unlock()

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(groups) {
		m.send(s, fmt.Sprintf("Please reply with a number between 1 and %d.", len(groups)))
		return
	}
	chosen := groups[n-1]

	s.mu.Lock()
	s.groupID = chosen.ID
	s.groupName = chosen.Name
	s.state = StateAwaitingFile
	s.mu.Unlock()

	m.send(s, fmt.Sprintf("Got it, expenses go to %q. Now send me a receipt photo or PDF.", chosen.Name))
}

// HandleDocument ingests an uploaded receipt and starts extraction.
func (m *Manager) HandleDocument(ctx context.Context, userID, channelID, filename, mimeType string, data []byte) {
	s := m.session(userID, channelID)

	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		m.send(s, "I can only read images and PDFs.")
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateIdle, StateAwaitingAuth:
		s.mu.Unlock()
		m.send(s, "Use /login to connect your expense account first.")
		return
	case StateAwaitingGroup:
		s.mu.Unlock()
		m.send(s, "Pick a group first, then send the receipt again.")
		return
	case StateExtracting:
		s.mu.Unlock()
		m.send(s, "Still reading the previous receipt, one moment.")
		return
	case StateAwaitingConfirmation, StateDuplicateCheck:
		s.mu.Unlock()
		m.send(s, "There's a receipt waiting for your confirmation. Confirm or /cancel it first.")
		return
	case StateCommitting:
		s.mu.Unlock()
		m.send(s, "Still recording the previous receipt, one moment.")
		return
	}

	stored := uuid.NewString() + filepath.Ext(filename)
	path, err := m.cfg.Store.Save(stored, data)
	if err != nil {
		s.mu.Unlock()
		m.cfg.Logger.Error("saving upload", zap.String("user_id", userID), zap.Error(err))
		m.send(s, "Couldn't store that file. Please try again.")
		return
	}

	s.docPath = path
	s.docName = filename
	s.state = StateExtracting
	gen := s.generation
	history := extract.SelectExamples(s.history)
	led := s.ledger
	groupID := s.groupID
	s.mu.Unlock()

	m.send(s, "Reading the receipt…")
	go m.extractAsync(s, gen, led, groupID, mimeType, data, history)
}

// extractAsync does the slow part of document handling off the event
// loop. The generation snapshot makes a cancel or logout during
// extraction discard the result.
func (m *Manager) extractAsync(s *Session, gen uint64, led ledger.Ledger, groupID int64, mimeType string, data []byte, history []receipt.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := extract.Request{
		Document:      data,
		MIMEType:      mimeType,
		PriorExamples: history,
	}
	if categories, err := led.Categories(ctx); err == nil {
		names := make([]string, 0, len(categories))
		for _, c := range categories {
			names = append(names, c.Name)
		}
		req.Categories = names
	} else {
		m.cfg.Logger.Warn("loading categories for prompt", zap.String("user_id", s.userID), zap.Error(err))
	}
	if members, err := led.GroupMembers(ctx, groupID); err == nil {
		req.Members = members
	} else {
		m.cfg.Logger.Warn("loading members for prompt", zap.String("user_id", s.userID), zap.Error(err))
	}

	info, err := m.cfg.Extractor.Extract(ctx, req)

	s.mu.Lock()
	if s.generation != gen || s.state != StateExtracting {
		s.mu.Unlock()
		m.cfg.Logger.Info("discarding stale extraction result", zap.String("user_id", s.userID))
		return
	}

	if err != nil {
		path := s.reset()
		s.mu.Unlock()
		m.deleteFile(s, path)
		m.cfg.Logger.Warn("extraction failed", zap.String("user_id", s.userID), zap.Error(err))
		if errors.Is(err, extract.ErrExtraction) {
			m.send(s, "I couldn't make sense of that receipt. Try a clearer photo.")
		} else {
			m.send(s, "Reading the receipt failed. Please try again.")
		}
		return
	}

	s.candidate = info
	s.state = StateAwaitingConfirmation
	s.mu.Unlock()

	m.sendConfirmation(s)
}

// sendConfirmation shows the candidate and asks for a yes/no.
func (m *Manager) sendConfirmation(s *Session) {
	s.mu.Lock()
	info := s.candidate
	s.mu.Unlock()
	if info == nil {
		return
	}

	text := "Here's what I read:\n\n" + info.Summary() + "\nShall I record it?"
	m.sendChoices(s, text, []Choice{
		{ID: ButtonConfirm, Label: "Yes, record it"},
		{ID: ButtonReject, Label: "No, let me fix it"},
	})
}

// HandleButton handles the confirmation and duplicate-warning buttons.
// Each action re-validates the state under the session lock itself, so a
// replayed or concurrent press of the same button is a no-op.
func (m *Manager) HandleButton(ctx context.Context, userID, channelID, buttonID string) {
	s := m.session(userID, channelID)

	switch buttonID {
	case ButtonConfirm:
		m.checkDuplicates(ctx, s)
	case ButtonReject:
		s.mu.Lock()
		ok := s.state == StateAwaitingConfirmation
		s.mu.Unlock()
		if ok {
			m.offerCorrection(s)
		}
	case ButtonProceed:
		m.proceedAfterWarning(ctx, s)
	case ButtonCancel:
		s.mu.Lock()
		ok := s.state == StateDuplicateCheck
		s.mu.Unlock()
		if ok {
			m.cancel(s)
		}
	default:
		m.cfg.Logger.Info("ignoring unknown button",
			zap.String("user_id", userID), zap.String("button", buttonID))
	}
}

func (m *Manager) offerCorrection(s *Session) {
	url, err := m.cfg.CorrectionURL(s.userID)
	if err != nil {
		m.cfg.Logger.Error("building correction url", zap.String("user_id", s.userID), zap.Error(err))
		m.send(s, "Couldn't prepare the correction form. Please try again.")
		return
	}
	m.send(s, "Fix anything that's wrong here, then submit:\n"+url)
}

// checkDuplicates queries recent expenses around the candidate's date and
// either warns or commits straight away. The session moves to committing
// under the lock before any network call, so a second Confirm press during
// the query or the commit finds the state already advanced and does
// nothing. A failing query is treated as an empty history; blocking every
// commit on a flaky read would be worse than an occasional duplicate.
func (m *Manager) checkDuplicates(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation || s.candidate == nil || s.ledger == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateCommitting
	gen := s.generation
	info := s.candidate
	led := s.ledger
	groupID := s.groupID
	s.mu.Unlock()

	from := info.Date.Add(-dedup.Window - 24*time.Hour)
	to := info.Date.Add(dedup.Window + 24*time.Hour)
	expenses, err := led.Expenses(ctx, groupID, from, to)
	if err != nil {
		m.cfg.Logger.Warn("duplicate query failed, committing anyway",
			zap.String("user_id", s.userID), zap.Error(err))
		expenses = nil
	}

	history := make([]dedup.Historical, 0, len(expenses))
	for _, e := range expenses {
		history = append(history, dedup.Historical{
			ID:       e.ID,
			Date:     e.Date,
			Total:    e.Cost,
			Merchant: e.Description,
			Category: e.Category,
		})
	}

	matches := dedup.Find(info, history)
	if len(matches) == 0 {
		m.commit(ctx, s, gen)
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateCommitting {
		s.mu.Unlock()
		return
	}
	s.matches = matches
	s.state = StateDuplicateCheck
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("This looks like it might already be recorded:\n")
	for _, match := range matches {
		when := "the same day"
		if match.Tier == dedup.TierNear {
			when = match.Historical.Date.Format("Jan 2")
		}
		fmt.Fprintf(&b, "• %s, %s on %s\n", match.Historical.Merchant, match.Historical.Total.StringFixed(2), when)
	}
	b.WriteString("Record it anyway?")
	m.sendChoices(s, b.String(), []Choice{
		{ID: ButtonProceed, Label: "Record anyway"},
		{ID: ButtonCancel, Label: "Cancel"},
	})
}

// proceedAfterWarning advances a session past the duplicate warning. The
// transition to committing happens under the lock so a replayed "Record
// anyway" press is a no-op.
func (m *Manager) proceedAfterWarning(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.state != StateDuplicateCheck {
		s.mu.Unlock()
		return
	}
	s.state = StateCommitting
	s.matches = nil
	gen := s.generation
	s.mu.Unlock()

	m.commit(ctx, s, gen)
}

// commit creates the expense and attaches the original document. Callers
// have already moved the session to committing; gen is the generation
// snapshotted at that transition. The attach is best effort; the expense
// already exists when it runs. A failed commit ends the attempt: candidate
// and temp file are dropped, the user starts over with a new upload.
func (m *Manager) commit(ctx context.Context, s *Session, gen uint64) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateCommitting {
		s.mu.Unlock()
		return
	}
	info := s.candidate
	led := s.ledger
	groupID := s.groupID
	groupName := s.groupName
	docPath := s.docPath
	docName := s.docName
	s.mu.Unlock()
	if info == nil || led == nil {
		return
	}

	id, err := led.CreateExpense(ctx, groupID, info)
	if err != nil {
		m.cfg.Logger.Error("creating expense", zap.String("user_id", s.userID), zap.Error(err))
		message := "Recording the expense failed. Send the receipt again to retry."
		var apiErr *ledger.APIError
		if errors.As(err, &apiErr) && len(apiErr.Messages) > 0 {
			message = "The expense was rejected: " + strings.Join(apiErr.Messages, "; ") +
				"\nSend the receipt again to retry."
		}

		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		path := s.reset()
		s.mu.Unlock()
		m.deleteFile(s, path)
		m.send(s, message)
		return
	}

	// A cancel that raced the create cannot unwind the ledger write, but
	// the session has moved on: no success message, no history entry.
	s.mu.Lock()
	cancelled := s.generation != gen
	s.mu.Unlock()
	if cancelled {
		m.cfg.Logger.Warn("expense committed for a cancelled session",
			zap.String("user_id", s.userID), zap.Int64("expense_id", id))
		return
	}

	if docPath != "" {
		if data, err := m.cfg.Store.Get(docPath); err != nil {
			m.cfg.Logger.Warn("reading document for attach", zap.String("user_id", s.userID), zap.Error(err))
		} else if err := led.AttachReceipt(ctx, id, docName, data); err != nil {
			m.cfg.Logger.Warn("attaching receipt", zap.String("user_id", s.userID), zap.Int64("expense_id", id), zap.Error(err))
		}
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		m.cfg.Logger.Warn("expense committed for a cancelled session",
			zap.String("user_id", s.userID), zap.Int64("expense_id", id))
		return
	}
	s.history = append(s.history, *info)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	path := s.reset()
	s.mu.Unlock()

	m.deleteFile(s, path)
	m.send(s, fmt.Sprintf("Recorded %s %s at %s in %q. Send the next receipt whenever.",
		info.Total.StringFixed(2), info.CurrencyCode, info.Merchant, groupName))
	m.cfg.Logger.Info("expense recorded",
		zap.String("user_id", s.userID), zap.Int64("group_id", groupID), zap.Int64("expense_id", id))
}

// CandidateJSON returns the pending candidate for the correction form.
func (m *Manager) CandidateJSON(userID string) ([]byte, error) {
	m.mu.Lock()
	s, ok := m.store[userID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("no session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil || s.state != StateAwaitingConfirmation {
		return nil, errors.New("no receipt awaiting correction")
	}
	return json.Marshal(s.candidate)
}

// HandleCorrection overlays a user's edits on the pending candidate. A
// validation failure is returned to the form so the user can retry; a
// success re-opens the chat confirmation with the corrected values.
func (m *Manager) HandleCorrection(userID string, patch []byte) error {
	m.mu.Lock()
	s, ok := m.store[userID]
	m.mu.Unlock()
	if !ok {
		return errors.New("no session")
	}

	s.mu.Lock()
	if s.candidate == nil || s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return errors.New("no receipt awaiting correction")
	}
	corrected, err := s.candidate.ApplyCorrection(patch)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := split.Validate(corrected.Total, corrected.SplitOption, corrected.Users); err != nil {
		s.mu.Unlock()
		return err
	}
	s.candidate = corrected
	s.mu.Unlock()

	m.sendConfirmation(s)
	return nil
}

func (m *Manager) send(s *Session, text string) {
	s.mu.Lock()
	channel := s.channelID
	s.mu.Unlock()
	if channel == "" {
		return
	}
	if err := m.cfg.Messenger.SendText(channel, text); err != nil {
		m.cfg.Logger.Error("sending message", zap.String("user_id", s.userID), zap.Error(err))
	}
}

func (m *Manager) sendChoices(s *Session, text string, choices []Choice) {
	s.mu.Lock()
	channel := s.channelID
	s.mu.Unlock()
	if channel == "" {
		return
	}
	if err := m.cfg.Messenger.SendChoices(channel, text, choices); err != nil {
		m.cfg.Logger.Error("sending message", zap.String("user_id", s.userID), zap.Error(err))
	}
}

func (m *Manager) deleteFile(s *Session, path string) {
	if path == "" {
		return
	}
	if err := m.cfg.Store.Delete(path); err != nil {
		m.cfg.Logger.Warn("deleting temp file", zap.String("user_id", s.userID), zap.Error(err))
	}
}
