package graph

import (
	"context"
	"slices"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
)

// END is the terminal marker. Routing to it stops the turn.
const END = "__end__"

// Input is what a node sees for one step.
type Input struct {
	ThreadID string
	State    state.ConversationState

	// Resume is set when the node is re-entered after a suspension.
	Resume *Resume

	// Pending holds the suspension prompt and the user's reply. They are folded
	// into Messages together with the node's patch once the step completes.
	Pending []model.Message
}

// Resume carries the external input for a suspended node.
type Resume struct {
	Value string
	Key   string
}

// Resumed reports whether the node is re-entering a suspension.
func (in Input) Resumed() bool {
	return in.Resume != nil
}

// History is the conversation as the node should read it, pending turn included.
func (in Input) History() []model.Message {
	return append(slices.Clone(in.State.Messages), in.Pending...)
}

// Kind tags which Result variant a node returned.
type Kind int

const (
	KindContinue Kind = iota
	KindSuspend
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindSuspend:
		return "suspend"
	case KindTerminal:
		return "terminal"
	}
	return "unknown"
}

// Result is a node's output: Continue(patch), Suspend(prompt) or Terminal(patch).
// Build it with the constructors below.
type Result struct {
	Kind  Kind
	Patch state.Patch

	// Goto asks for a specific successor. The executor checks it against the
	// node's routing table.
	Goto string

	Prompt      string
	ResumeKey   string
	Suggestions []string
}

// Continue folds p and follows the node's outgoing edge.
func Continue(p state.Patch) Result {
	return Result{Kind: KindContinue, Patch: p}
}

// ContinueTo folds p and jumps to target, which must be one of the node's
// declared successors or END.
func ContinueTo(p state.Patch, target string) Result {
	return Result{Kind: KindContinue, Patch: p, Goto: target}
}

// Suspend pauses the turn. State is left untouched and prompt is returned to the caller.
func Suspend(prompt string, suggestions ...string) Result {
	return Result{Kind: KindSuspend, Prompt: prompt, Suggestions: suggestions}
}

// WithKey sets an explicit resume key on a suspension.
func (r Result) WithKey(key string) Result {
	r.ResumeKey = key
	return r
}

// Terminal folds p and ends the turn.
func Terminal(p state.Patch) Result {
	return Result{Kind: KindTerminal, Patch: p}
}

// NodeFunc is a single graph step.
type NodeFunc func(ctx context.Context, in Input) (Result, error)

// Router picks a label from the post-reduction state.
type Router func(s state.ConversationState) string
