package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

type nodes struct {
	deps Deps
	log  *logger.Logger
}

// finish builds the patch of a turn's last step. The reply is also recorded
// in the conversation history.
func (n *nodes) finish(status state.Status, response string, suggestions []string) state.Patch {
	return state.Patch{
		Messages:           []model.Message{assistant(response, n.deps.Now())},
		Status:             state.Ptr(status),
		Response:           state.Ptr(response),
		SuggestedResponses: state.Ptr(append([]string(nil), suggestions...)),
	}
}

func (n *nodes) failed(threadID, op string, err error) graph.Result {
	derr := domain.AsError(op, err)
	n.log.Warn("domain call failed",
		zap.String("thread_id", threadID),
		zap.String("op", op),
		zap.String("kind", string(derr.Kind)),
		zap.Error(err))

	p := n.finish(state.StatusFailed, derr.Message(), nil)
	p.Error = state.Ptr(derr.Error())
	return graph.Terminal(p)
}

func (n *nodes) extract(ctx context.Context, in graph.Input) (classifier.Classification, state.EventFields, error) {
	c, err := n.deps.Classifier.Classify(ctx, model.History(in.History()))
	if err != nil {
		return classifier.Classification{}, state.EventFields{}, err
	}
	fields, rejected := state.FieldsFromMap(c.ExtractedInfo)
	if len(rejected) > 0 {
		n.log.Debug("ignored extracted fields",
			zap.String("thread_id", in.ThreadID),
			zap.Strings("fields", rejected))
	}
	return c, fields, nil
}

func (n *nodes) detectIntent(ctx context.Context, in graph.Input) (graph.Result, error) {
	c, fields, err := n.extract(ctx, in)
	if err != nil {
		n.log.Warn("intent classification failed, asking for clarification",
			zap.String("thread_id", in.ThreadID),
			zap.Error(err))
		return graph.Continue(state.Patch{
			Intent:     state.Ptr(state.IntentUnknown),
			Confidence: state.Ptr(0.0),
		}), nil
	}

	patch := state.Patch{
		Intent:                state.Ptr(c.Intent),
		Confidence:            state.Ptr(c.Confidence),
		ExtractedInfo:         &fields,
		RequiredFieldsMissing: state.Ptr(Missing(c.Intent, fields)),
	}
	if c.Intent == state.IntentListEvents && c.Clear(n.deps.ConfidenceThreshold) {
		patch.Status = state.Ptr(state.StatusExecuting)
	}

	n.log.Debug("intent detected",
		zap.String("thread_id", in.ThreadID),
		zap.String("intent", string(c.Intent)),
		zap.Float64("confidence", c.Confidence),
		zap.String("reasoning", c.Reasoning))
	return graph.Continue(patch), nil
}

func (n *nodes) validate(intent state.Intent) graph.NodeFunc {
	return func(_ context.Context, in graph.Input) (graph.Result, error) {
		f := in.State.ExtractedInfo
		missing := Missing(intent, f)
		valid := missing.Empty()

		patch := state.Patch{
			IsValid:               state.Ptr(valid),
			RequiredFieldsMissing: state.Ptr(missing),
			OptionalFieldsMissing: OptionalMissing(intent, f),
		}
		if valid {
			patch.Status = state.Ptr(state.StatusAwaitingConfirmation)
			patch.ValidationMessage = state.Ptr("")
		} else {
			patch.Status = state.Ptr(state.StatusCollectingInfo)
			patch.ValidationMessage = state.Ptr(askForFields(intent, missing))
		}
		return graph.Continue(patch), nil
	}
}

// collectInfo asks for the missing required fields, then folds the answer in.
// It loops back to itself until nothing required is missing.
func (n *nodes) collectInfo(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	if !in.Resumed() {
		missing := s.RequiredFieldsMissing
		if missing.Empty() {
			missing = Missing(s.Intent, s.ExtractedInfo)
		}
		return graph.Suspend(askForFields(s.Intent, missing)), nil
	}

	_, fields, err := n.extract(ctx, in)
	if err != nil {
		n.log.Warn("could not extract fields from reply",
			zap.String("thread_id", in.ThreadID),
			zap.Error(err))
		fields = state.EventFields{}
	}

	merged := s.ExtractedInfo.Merge(fields)
	missing := Missing(s.Intent, merged)
	complete := missing.Empty()

	patch := state.Patch{
		ExtractedInfo:         &fields,
		RequiredFieldsMissing: state.Ptr(missing),
		OptionalFieldsMissing: OptionalMissing(s.Intent, merged),
		IsValid:               state.Ptr(complete),
	}
	if complete {
		patch.Status = state.Ptr(state.StatusAwaitingConfirmation)
		patch.ValidationMessage = state.Ptr("")
	} else {
		patch.Status = state.Ptr(state.StatusCollectingInfo)
		patch.ValidationMessage = state.Ptr(askForFields(s.Intent, missing))
	}
	return graph.Continue(patch), nil
}

func (n *nodes) reply(ctx context.Context, in graph.Input) classifier.Reply {
	r, err := n.deps.Replies.ClassifyReply(ctx, in.Resume.Value)
	if err != nil {
		n.log.Warn("reply classification failed",
			zap.String("thread_id", in.ThreadID),
			zap.Error(err))
		return classifier.ReplyOther
	}
	return r
}

func (n *nodes) confirmEvent(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	if !in.Resumed() {
		return graph.Suspend(confirmPrompt(s.Intent, s.ExtractedInfo), confirmSuggestions...), nil
	}

	if n.reply(ctx, in) != classifier.ReplyYes {
		return graph.Terminal(n.finish(state.StatusCancelled, cancelReply, nil)), nil
	}

	status := state.StatusExecuting
	if confirmTarget(s) == CheckConflicts {
		status = state.StatusCheckingConflicts
	}
	return graph.Continue(state.Patch{Status: state.Ptr(status)}), nil
}

func (n *nodes) checkConflicts(ctx context.Context, in graph.Input) (graph.Result, error) {
	s := in.State
	if !in.Resumed() {
		conflict, window, err := n.hasConflict(ctx, s)
		if err != nil {
			return n.failed(in.ThreadID, "find_overlapping", err), nil
		}
		if !conflict {
			return graph.Continue(state.Patch{
				HasConflict: state.Ptr(false),
				Status:      state.Ptr(state.StatusExecuting),
			}), nil
		}
		return graph.Suspend(conflictPrompt(window), conflictSuggestions...), nil
	}

	switch n.reply(ctx, in) {
	case classifier.ReplyNo:
		p := n.finish(state.StatusCancelled, cancelReply, nil)
		p.HasConflict = state.Ptr(true)
		return graph.Terminal(p), nil
	case classifier.ReplyYes:
	default:
		n.proceedOnUnclearConflictReply(in)
	}
	return graph.Continue(state.Patch{
		HasConflict: state.Ptr(true),
		Status:      state.Ptr(state.StatusExecuting),
	}), nil
}

// proceedOnUnclearConflictReply is the branch for conflict replies that are
// neither yes nor no, such as a proposed new time. It proceeds with the
// original time and does not try to reschedule.
// TODO: decide with product whether such replies should reschedule instead.
func (n *nodes) proceedOnUnclearConflictReply(in graph.Input) {
	n.log.Warn("unclear reply to conflict prompt, proceeding with original time",
		zap.String("thread_id", in.ThreadID),
		zap.String("reply", in.Resume.Value))
}

// hasConflict checks the window the request would occupy. For updates that is
// the target event's window with the requested changes applied.
func (n *nodes) hasConflict(ctx context.Context, s state.ConversationState) (bool, model.TimeWindow, error) {
	var q model.OverlapQuery
	switch s.Intent {
	case state.IntentUpdateEvent:
		ev, err := n.targetEvent(ctx, s)
		if err != nil {
			return false, model.TimeWindow{}, err
		}
		q = model.OverlapQuery{
			WorkspaceID:    ev.WorkspaceID,
			Window:         updateWindow(s.ExtractedInfo, ev),
			ExcludeEventID: ev.ID,
		}
	default:
		start, end, ok := s.ExtractedInfo.Window()
		if !ok {
			n.log.Warn("no complete time window, skipping conflict check",
				zap.String("thread_id", s.ThreadID),
				zap.String("intent", string(s.Intent)))
			return false, model.TimeWindow{}, nil
		}
		ws, err := n.workspaceID(ctx, s, true)
		if err != nil {
			return false, model.TimeWindow{}, err
		}
		q = model.OverlapQuery{WorkspaceID: ws, Window: model.TimeWindow{Start: start, End: end}}
	}

	if !q.Window.End.After(q.Window.Start) {
		return false, q.Window, domain.Errorf("find_overlapping", domain.KindInvalid, "event must end after it starts")
	}
	conflict, err := n.deps.Conflicts.FindOverlapping(ctx, q)
	return conflict, q.Window, err
}

func noConflicts(context.Context, model.OverlapQuery) (bool, error) {
	return false, nil
}
