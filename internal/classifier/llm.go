package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

const systemPrompt = `You classify messages sent to a calendar scheduling assistant.
The current time is %s.

Reply with one JSON object and nothing else:
{
  "intent": one of %s,
  "confidence": number between 0 and 1,
  "extractedInfo": {
    "name", "start", "end", "workspace", "description", "location", "status", "color",
    "isAllDay", "recurrenceRule", "tags", "assignees", "eventName", "eventId"
  },
  "missingRequiredFields": [field names still needed],
  "reasoning": short explanation
}

Only include extractedInfo keys the user actually stated. Times are RFC 3339.
For update_event and delete_event, eventName or eventId identifies the existing event.`

// LLM is an IntentClassifier backed by a chat completion model.
type LLM struct {
	client llm.Client
	model  string
	now    func() time.Time
}

// LLMOption configures an LLM classifier.
type LLMOption func(*LLM)

// WithModel overrides the provider's default model.
func WithModel(name string) LLMOption {
	return func(c *LLM) { c.model = name }
}

// WithClock sets the clock used to anchor relative dates in the prompt.
func WithClock(now func() time.Time) LLMOption {
	return func(c *LLM) { c.now = now }
}

// NewLLM creates a classifier over client.
func NewLLM(client llm.Client, opts ...LLMOption) *LLM {
	c := &LLM{client: client, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the model for a JSON classification of the latest message.
func (c *LLM) Classify(ctx context.Context, history []model.ChatMessage) (Classification, error) {
	messages := make([]llm.ChatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	if len(messages) == 0 {
		return Classification{}, &ClassificationError{Reason: "empty history"}
	}

	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:       c.model,
		System:      fmt.Sprintf(systemPrompt, c.now().UTC().Format(time.RFC3339), intentList()),
		Messages:    messages,
		MaxTokens:   800,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return Classification{}, &ClassificationError{Reason: "classifier unreachable", Err: err}
	}
	return Parse(resp.Content)
}

type rawClassification struct {
	Intent                string         `json:"intent"`
	Confidence            *float64       `json:"confidence"`
	ExtractedInfo         map[string]any `json:"extractedInfo"`
	MissingRequiredFields []string       `json:"missingRequiredFields"`
	Reasoning             string         `json:"reasoning"`
}

// Parse decodes a model reply into a Classification. Text around the JSON
// object is ignored; unknown intents become unknown and confidence is clamped.
func Parse(content string) (Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Classification{}, &ClassificationError{Reason: "no JSON object in reply", Raw: content}
	}

	var raw rawClassification
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Classification{}, &ClassificationError{Reason: "malformed JSON", Raw: content, Err: err}
	}
	if raw.Intent == "" {
		return Classification{}, &ClassificationError{Reason: "missing intent", Raw: content}
	}

	confidence := 0.0
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		confidence = math.Min(1, math.Max(0, *raw.Confidence))
	}

	return Classification{
		Intent:                state.ParseIntent(strings.ToLower(strings.TrimSpace(raw.Intent))),
		Confidence:            confidence,
		ExtractedInfo:         raw.ExtractedInfo,
		MissingRequiredFields: raw.MissingRequiredFields,
		Reasoning:             raw.Reasoning,
	}, nil
}

func intentList() string {
	names := make([]string, 0, len(state.Intents()))
	for _, in := range state.Intents() {
		names = append(names, `"`+string(in)+`"`)
	}
	return strings.Join(names, ", ")
}
