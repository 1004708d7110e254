package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/avoronov/splitbot/internal/receipt"
)

// OpenAI extracts receipt candidates through a vision-capable chat model.
type OpenAI struct {
	client *openai.Client
	model  string
	now    func() time.Time
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
		now:    time.Now,
	}
}

// Extract sends the document and context hints to the model and parses the
// structured response. Any response that fails the schema is a fatal
// ErrExtraction for this attempt.
func (o *OpenAI) Extract(ctx context.Context, req Request) (*receipt.Info, error) {
	document, err := normalizeDocument(req.Document, req.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(document)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: 600,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildPrompt(req, o.now()),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("calling extraction model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrExtraction)
	}

	return parseCandidate(resp.Choices[0].Message.Content)
}

// buildPrompt assembles the extraction instructions with the current
// category vocabulary, group members and a handful of prior transactions so
// categorization and split inference stay consistent with the group's
// history.
func buildPrompt(req Request, now time.Time) string {
	var b strings.Builder

	b.WriteString("Extract the following information from this receipt: ")
	b.WriteString("date, total amount, merchant name, currency code, category, and how the expense should be split among the group members below. ")
	b.WriteString("If the merchant is part of a store chain (e.g., Jumbo, Albert Heijn), include only the chain name. ")
	fmt.Fprintf(&b, "The receipt is relatively recent, today is %s.\n\n", now.Format("2006-01-02"))

	b.WriteString("Return ONLY valid JSON with the following keys: ")
	b.WriteString("'date' (ISO format with as many details as possible), ")
	b.WriteString("'total' (as a string, using a dot as decimal separator), ")
	b.WriteString("'merchant', ")
	b.WriteString("'currency_code' (e.g., 'EUR', 'USD'), ")
	b.WriteString("'notes' (invoice number, payment period, the name of a specific store from the chain, or a generic description if this is not groceries; omit otherwise), ")
	b.WriteString("'category' (one of the exact category names below, choose the most appropriate), ")
	b.WriteString("'split_option' ('equal' or 'exact'), ")
	b.WriteString("'users' (only for 'exact': list of {\"user_id\", \"paid_share\", \"owed_share\"} using the member ids below; both share columns must sum to the total).\n\n")

	fmt.Fprintf(&b, "Categories:\n%s\n\n", strings.Join(req.Categories, ", "))

	if len(req.Members) > 0 {
		b.WriteString("Group members:\n")
		for _, m := range req.Members {
			fmt.Fprintf(&b, "%d: %s\n", m.ID, m.Name)
		}
		b.WriteString("\n")
	}

	if examples := SelectExamples(req.PriorExamples); len(examples) > 0 {
		b.WriteString("Recent transactions from this group, for consistency of categorization and split choice:\n")
		for _, e := range examples {
			if line, err := json.Marshal(e); err == nil {
				b.Write(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("DO NOT INCLUDE any explanation, markdown, or extra text. Example: ")
	fmt.Fprintf(&b, `{"date": "%s", "total": "12.34", "merchant": "Store Name", "currency_code": "EUR", "category": "Food & Drink / Groceries", "split_option": "equal"}`,
		now.Format("2006-01-02T15:04"))

	return b.String()
}
