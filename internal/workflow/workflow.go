// Package workflow assembles the scheduling assistant graph: intent detection,
// per-intent validation, slot filling, confirmation, conflict checks and the
// calls that finally change the calendar.
package workflow

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/domain"
	"github.com/capitalize-ai/scheduling-assistant/internal/graph"
	"github.com/capitalize-ai/scheduling-assistant/internal/llm"
	"github.com/capitalize-ai/scheduling-assistant/internal/state"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

// GraphName identifies the assistant graph in logs and traces.
const GraphName = "scheduling-assistant"

// Node names.
const (
	DetectIntent        = "detectIntent"
	ValidateCreateEvent = "validateCreateEvent"
	ValidateUpdateEvent = "validateUpdateEvent"
	ValidateDeleteEvent = "validateDeleteEvent"
	CollectInfo         = "collectInfo"
	ConfirmEvent        = "confirmEvent"
	CheckConflicts      = "checkConflicts"
	ExecuteCreate       = "executeCreate"
	ExecuteUpdate       = "executeUpdate"
	ExecuteDelete       = "executeDelete"
	ExecuteList         = "executeList"
	HandleClarification = "handleClarification"
	HandleOffTopic      = "handleOffTopic"
	HandleGeneralChat   = "handleGeneralChat"
)

// Router labels that are not intents.
const (
	labelClarify    = "clarify"
	labelValid      = "valid"
	labelInvalid    = "invalid"
	labelComplete   = "complete"
	labelIncomplete = "incomplete"
)

// Deps are the collaborators the nodes call.
type Deps struct {
	Classifier classifier.IntentClassifier
	// Replies interprets answers to confirmation prompts. Defaults to keyword matching.
	Replies classifier.ReplyClassifier
	Events  domain.Service
	// Conflicts defaults to Events when it also implements ConflictDetector.
	Conflicts domain.ConflictDetector
	// Resolver maps workspace, event and assignee names to IDs. Optional.
	Resolver domain.Resolver
	// Chat answers general conversation. Optional; a fixed reply is used without it.
	Chat      llm.Client
	ChatModel string

	Logger              *logger.Logger
	Now                 func() time.Time
	ConfidenceThreshold float64
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Classifier == nil {
		return d, errors.New("workflow: intent classifier is required")
	}
	if d.Events == nil {
		return d, errors.New("workflow: domain service is required")
	}
	if d.Replies == nil {
		d.Replies = classifier.Keywords{}
	}
	if d.Conflicts == nil {
		if cd, ok := d.Events.(domain.ConflictDetector); ok {
			d.Conflicts = cd
		} else {
			d.Conflicts = domain.ConflictFunc(noConflicts)
		}
	}
	if d.Resolver == nil {
		if r, ok := d.Events.(domain.Resolver); ok {
			d.Resolver = r
		}
	}
	if d.Logger == nil {
		d.Logger = logger.Global()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ConfidenceThreshold <= 0 {
		d.ConfidenceThreshold = classifier.DefaultConfidenceThreshold
	}
	return d, nil
}

// IntentRoutes is the conditional edge table after detectIntent.
func IntentRoutes() map[string]string {
	return map[string]string{
		string(state.IntentCreateEvent): ValidateCreateEvent,
		string(state.IntentUpdateEvent): ValidateUpdateEvent,
		string(state.IntentDeleteEvent): ValidateDeleteEvent,
		string(state.IntentListEvents):  ExecuteList,
		string(state.IntentOffTopic):    HandleOffTopic,
		string(state.IntentGeneralChat): HandleGeneralChat,
		string(state.IntentUnknown):     HandleClarification,
		labelClarify:                    HandleClarification,
	}
}

// Build returns the compiled assistant graph.
func Build(deps Deps) (*graph.Graph, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	n := &nodes{deps: d, log: d.Logger.With(zap.String("component", "workflow"))}

	validRoutes := map[string]string{labelValid: ConfirmEvent, labelInvalid: CollectInfo}

	g := graph.New(GraphName).
		AddNode(DetectIntent, n.detectIntent).
		AddNode(ValidateCreateEvent, n.validate(state.IntentCreateEvent)).
		AddNode(ValidateUpdateEvent, n.validate(state.IntentUpdateEvent)).
		AddNode(ValidateDeleteEvent, n.validate(state.IntentDeleteEvent)).
		AddNode(CollectInfo, n.collectInfo).
		AddNode(ConfirmEvent, n.confirmEvent).
		AddNode(CheckConflicts, n.checkConflicts).
		AddNode(ExecuteCreate, n.executeCreate).
		AddNode(ExecuteUpdate, n.executeUpdate).
		AddNode(ExecuteDelete, n.executeDelete).
		AddNode(ExecuteList, n.executeList).
		AddNode(HandleClarification, n.handleClarification).
		AddNode(HandleOffTopic, n.handleOffTopic).
		AddNode(HandleGeneralChat, n.handleGeneralChat).
		SetStart(DetectIntent).
		AddConditionalEdges(DetectIntent, intentRouter(d.ConfidenceThreshold), IntentRoutes()).
		AddConditionalEdges(ValidateCreateEvent, validRouter, validRoutes).
		AddConditionalEdges(ValidateUpdateEvent, validRouter, validRoutes).
		AddConditionalEdges(ValidateDeleteEvent, validRouter, validRoutes).
		AddConditionalEdges(CollectInfo, collectRouter, map[string]string{
			labelComplete:   ConfirmEvent,
			labelIncomplete: CollectInfo,
		}).
		AllowSelfLoop(CollectInfo).
		AddConditionalEdges(ConfirmEvent, confirmTarget, map[string]string{
			CheckConflicts: CheckConflicts,
			ExecuteUpdate:  ExecuteUpdate,
			ExecuteDelete:  ExecuteDelete,
		}).
		AddConditionalEdges(CheckConflicts, executeTarget, map[string]string{
			ExecuteCreate: ExecuteCreate,
			ExecuteUpdate: ExecuteUpdate,
		})

	for _, terminal := range []string{
		ExecuteCreate, ExecuteUpdate, ExecuteDelete, ExecuteList,
		HandleClarification, HandleOffTopic, HandleGeneralChat,
	} {
		g.AddEdge(terminal, graph.END)
	}

	if err := g.Compile(); err != nil {
		return nil, err
	}
	return g, nil
}

func intentRouter(threshold float64) graph.Router {
	return func(s state.ConversationState) string {
		if s.Intent == "" || s.Intent == state.IntentUnknown || s.Confidence < threshold {
			return labelClarify
		}
		return string(s.Intent)
	}
}

func validRouter(s state.ConversationState) string {
	if s.IsValid {
		return labelValid
	}
	return labelInvalid
}

func collectRouter(s state.ConversationState) string {
	if s.RequiredFieldsMissing.Empty() {
		return labelComplete
	}
	return labelIncomplete
}

// confirmTarget is where a confirmed request goes next. Updates that keep the
// event's time skip the conflict check.
func confirmTarget(s state.ConversationState) string {
	switch s.Intent {
	case state.IntentCreateEvent:
		return CheckConflicts
	case state.IntentUpdateEvent:
		if s.ExtractedInfo.Start == nil && s.ExtractedInfo.End == nil {
			return ExecuteUpdate
		}
		return CheckConflicts
	case state.IntentDeleteEvent:
		return ExecuteDelete
	}
	return string(s.Intent)
}

func executeTarget(s state.ConversationState) string {
	switch s.Intent {
	case state.IntentCreateEvent:
		return ExecuteCreate
	case state.IntentUpdateEvent:
		return ExecuteUpdate
	}
	return string(s.Intent)
}
