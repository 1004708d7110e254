// Package extract turns a receipt document into a structured expense
// candidate through an external vision model. The adapter owns the prompt
// and schema contract; extraction accuracy itself is the model's problem.
package extract

import (
	"context"
	"errors"

	"github.com/avoronov/splitbot/internal/receipt"
)

// ErrExtraction marks a response that does not parse into the candidate
// schema. Fatal for the attempt; the user must resend a document.
var ErrExtraction = errors.New("extraction response does not match the receipt schema")

// Request carries a document plus the contextual hints the model needs so
// category and user ids come out of the valid domain vocabulary.
type Request struct {
	Document      []byte
	MIMEType      string
	Categories    []string
	Members       []receipt.GroupMember
	PriorExamples []receipt.Info
}

// Extractor produces a candidate from a request.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*receipt.Info, error)
}

// maxPriorExamples caps how much history is inlined into the prompt.
const maxPriorExamples = 15

// SelectExamples picks up to maxPriorExamples transactions, preferring
// diversity of merchant, category and split mode over recency so the model
// sees the breadth of the group's habits.
func SelectExamples(history []receipt.Info) []receipt.Info {
	if len(history) <= maxPriorExamples {
		return history
	}
	seen := make(map[string]bool)
	used := make([]bool, len(history))
	var picked []receipt.Info
	for i, h := range history {
		key := h.Merchant + "|" + h.Category + "|" + string(h.SplitOption)
		if seen[key] {
			continue
		}
		seen[key] = true
		used[i] = true
		picked = append(picked, h)
		if len(picked) == maxPriorExamples {
			return picked
		}
	}
	// Backfill with repeats if diversity alone did not reach the cap.
	for i, h := range history {
		if len(picked) == maxPriorExamples {
			break
		}
		if !used[i] {
			picked = append(picked, h)
		}
	}
	return picked
}
