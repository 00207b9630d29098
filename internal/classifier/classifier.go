// Package classifier adapts natural-language understanding collaborators to the
// workflow: intent and field extraction, and yes/no interpretation of replies.
// Everything a classifier returns is treated as untrusted data.
package classifier

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

// DefaultConfidenceThreshold is the confidence below which a classification is
// handled as a clarification request.
const DefaultConfidenceThreshold = 0.6

// Classification is the structured output of an intent classifier.
type Classification struct {
	Intent                state.Intent   `json:"intent"`
	Confidence            float64        `json:"confidence"`
	ExtractedInfo         map[string]any `json:"extractedInfo,omitempty"`
	MissingRequiredFields []string       `json:"missingRequiredFields,omitempty"`
	Reasoning             string         `json:"reasoning,omitempty"`
}

// Clear reports whether the classification can be acted on without asking the
// user to rephrase.
func (c Classification) Clear(threshold float64) bool {
	return c.Intent != state.IntentUnknown && c.Intent != "" && c.Confidence >= threshold
}

// IntentClassifier classifies the latest user message in the context of the
// conversation history.
type IntentClassifier interface {
	Classify(ctx context.Context, history []model.ChatMessage) (Classification, error)
}

// Func adapts a function to IntentClassifier.
type Func func(ctx context.Context, history []model.ChatMessage) (Classification, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, history []model.ChatMessage) (Classification, error) {
	return f(ctx, history)
}

// ClassificationError reports a classifier that was unreachable or produced
// output that could not be interpreted.
type ClassificationError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification failed: %s: %v", e.Reason, e.Err)
	}
	return "classification failed: " + e.Reason
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
