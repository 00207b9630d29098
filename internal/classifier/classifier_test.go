package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

type fakeLLM struct {
	content string
	err     error
	got     *llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return nil }

func history(text string) []model.ChatMessage {
	return []model.ChatMessage{{Role: "user", Content: text}}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		intent     state.Intent
		confidence float64
		wantErr    bool
	}{
		{
			name:       "plain object",
			content:    `{"intent":"create_event","confidence":0.92,"extractedInfo":{"name":"Standup"}}`,
			intent:     state.IntentCreateEvent,
			confidence: 0.92,
		},
		{
			name:       "wrapped in prose",
			content:    "Sure! ```json\n{\"intent\":\"list_events\",\"confidence\":0.8}\n```",
			intent:     state.IntentListEvents,
			confidence: 0.8,
		},
		{
			name:       "unrecognised intent",
			content:    `{"intent":"book_flight","confidence":0.99}`,
			intent:     state.IntentUnknown,
			confidence: 0.99,
		},
		{
			name:       "confidence clamped",
			content:    `{"intent":"DELETE_EVENT","confidence":7}`,
			intent:     state.IntentDeleteEvent,
			confidence: 1,
		},
		{
			name:    "no json",
			content: "I think you want a meeting",
			wantErr: true,
		},
		{
			name:    "malformed json",
			content: `{"intent": "create_event",`,
			wantErr: true,
		},
		{
			name:    "missing intent",
			content: `{"confidence":0.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.content)
			if tt.wantErr {
				var cerr *ClassificationError
				require.ErrorAs(t, err, &cerr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.intent, got.Intent)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestLLM_Classify(t *testing.T) {
	fake := &fakeLLM{content: `{"intent":"create_event","confidence":0.9,"extractedInfo":{"name":"Sync","start":"2026-03-03T14:00:00Z"},"missingRequiredFields":["end","workspace"]}`}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewLLM(fake, WithModel("small"), WithClock(func() time.Time { return now }))

	got, err := c.Classify(context.Background(), history("Create a meeting tomorrow at 2pm"))
	require.NoError(t, err)

	assert.Equal(t, state.IntentCreateEvent, got.Intent)
	assert.Equal(t, []string{"end", "workspace"}, got.MissingRequiredFields)
	assert.Equal(t, "Sync", got.ExtractedInfo["name"])
	assert.Equal(t, "small", fake.got.Model)
	assert.True(t, fake.got.JSON)
	assert.Contains(t, fake.got.System, "2026-03-02T09:00:00Z")
}

func TestLLM_ClassifyErrors(t *testing.T) {
	c := NewLLM(&fakeLLM{err: errors.New("connection refused")})

	_, err := c.Classify(context.Background(), history("hi"))
	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "classifier unreachable", cerr.Reason)

	_, err = c.Classify(context.Background(), nil)
	require.ErrorAs(t, err, &cerr)
}

func TestClassification_Clear(t *testing.T) {
	assert.True(t, Classification{Intent: state.IntentListEvents, Confidence: 0.6}.Clear(DefaultConfidenceThreshold))
	assert.False(t, Classification{Intent: state.IntentListEvents, Confidence: 0.59}.Clear(DefaultConfidenceThreshold))
	assert.False(t, Classification{Intent: state.IntentUnknown, Confidence: 1}.Clear(DefaultConfidenceThreshold))
}

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		inner := Func(func(context.Context, []model.ChatMessage) (Classification, error) {
			calls++
			if calls < 3 {
				return Classification{}, errors.New("timeout")
			}
			return Classification{Intent: state.IntentListEvents, Confidence: 1}, nil
		})

		got, err := WithRetry(inner, DefaultRetries, nil, WithBackOff(noDelay)).Classify(context.Background(), history("x"))
		require.NoError(t, err)
		assert.Equal(t, state.IntentListEvents, got.Intent)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		calls := 0
		inner := Func(func(context.Context, []model.ChatMessage) (Classification, error) {
			calls++
			return Classification{}, errors.New("down")
		})

		_, err := WithRetry(inner, DefaultRetries, nil, WithBackOff(noDelay)).Classify(context.Background(), history("x"))
		var cerr *ClassificationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry cancellation", func(t *testing.T) {
		calls := 0
		inner := Func(func(context.Context, []model.ChatMessage) (Classification, error) {
			calls++
			return Classification{}, context.Canceled
		})

		_, err := WithRetry(inner, DefaultRetries, nil, WithBackOff(noDelay)).Classify(context.Background(), history("x"))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestMatchReply(t *testing.T) {
	tests := map[string]Reply{
		"yes":                    ReplyYes,
		"Yes!":                   ReplyYes,
		"sure, go ahead":         ReplyYes,
		"Proceed anyway":         ReplyYes,
		"no":                     ReplyNo,
		"Nope.":                  ReplyNo,
		"cancel it":              ReplyNo,
		"don't":                  ReplyNo,
		"yes no":                 ReplyOther,
		"move it to 4pm instead": ReplyOther,
		"I'm not sure":           ReplyOther,
		"":                       ReplyOther,
		"   ":                    ReplyOther,
	}

	for text, want := range tests {
		t.Run(text, func(t *testing.T) {
			got, err := Keywords{}.ClassifyReply(context.Background(), text)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
