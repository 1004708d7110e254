package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avoronov/splitbot/internal/receipt"
	"github.com/avoronov/splitbot/internal/split"
)

// parseCandidate decodes the model's text response into a validated
// candidate. Models like to wrap JSON in markdown fences and prose despite
// instructions, so the object is cut out of the surrounding text first.
func parseCandidate(text string) (*receipt.Info, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrExtraction)
	}
	text = text[start : end+1]

	var info receipt.Info
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	if err := split.Validate(info.Total, info.SplitOption, info.Users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	return &info, nil
}
