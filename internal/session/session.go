package session

import (
	"sync"

	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/dedup"
	"github.com/avoronov/splitbot/internal/ledger"
	"github.com/avoronov/splitbot/internal/receipt"
)

// State names where a conversation currently is. Auth and group selection
// survive the end of a receipt flow, so "done" collapses back into
// StateAwaitingFile rather than a dedicated terminal state.
type State int

const (
	StateIdle State = iota
	StateAwaitingAuth
	StateAwaitingGroup
	StateAwaitingFile
	StateExtracting
	StateAwaitingConfirmation
	StateDuplicateCheck
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAwaitingGroup:
		return "awaiting_group"
	case StateAwaitingFile:
		return "awaiting_file"
	case StateExtracting:
		return "extracting"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateDuplicateCheck:
		return "duplicate_check"
	case StateCommitting:
		return "committing"
	}
	return "unknown"
}

// Button identifiers shared with the chat transport.
const (
	ButtonConfirm = "receipt_confirm"
	ButtonReject  = "receipt_reject"
	ButtonProceed = "duplicate_proceed"
	ButtonCancel  = "duplicate_cancel"
)

// Choice is one button offered alongside a message.
type Choice struct {
	ID    string
	Label string
}

// Messenger delivers messages back to the user. The chat transport
// implements it; tests use a fake.
type Messenger interface {
	SendText(channelID, text string) error
	SendChoices(channelID, text string, choices []Choice) error
}

// Session is one user's conversation. All fields are guarded by mu; the
// generation counter invalidates extraction results that finish after a
// cancel or logout.
type Session struct {
	mu sync.Mutex

	userID    string
	channelID string
	state     State

	generation uint64

	token  *oauth2.Token
	ledger ledger.Ledger

	groups    []ledger.Group
	groupID   int64
	groupName string

	candidate *receipt.Info
	docPath   string
	docName   string
	matches   []dedup.Match

	// committed candidates of this session, newest last; feeds the
	// extraction prompt's prior examples
	history []receipt.Info
}

// authed reports whether the session holds a usable credential. Callers
// hold s.mu.
func (s *Session) authed() bool {
	return s.token != nil && s.ledger != nil
}

// reset drops the in-flight receipt but keeps credential, group and
// history. Callers hold s.mu. Returns the temp file to delete, if any.
func (s *Session) reset() string {
	path := s.docPath
	s.candidate = nil
	s.docPath = ""
	s.docName = ""
	s.matches = nil
	s.generation++
	if s.authed() && s.groupID != 0 {
		s.state = StateAwaitingFile
	} else if s.authed() {
		s.state = StateAwaitingGroup
	} else {
		s.state = StateIdle
	}
	return path
}
