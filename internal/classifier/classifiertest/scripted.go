// Package classifiertest provides deterministic classifiers for tests.
package classifiertest

import (
	"context"
	"errors"
	"sync"

	"github.com/capitalize-ai/scheduling-assistant/internal/classifier"
	"github.com/capitalize-ai/scheduling-assistant/internal/model"
)

// ErrExhausted is returned once every scripted step has been consumed.
var ErrExhausted = errors.New("classifiertest: script exhausted")

// Step is one scripted classifier answer.
type Step struct {
	Result classifier.Classification
	Err    error
}

// Scripted answers Classify calls from a fixed queue and records every history it saw.
type Scripted struct {
	mu      sync.Mutex
	steps   []Step
	calls   [][]model.ChatMessage
	started chan struct{}
	release chan struct{}
}

// New returns a classifier that answers with results in order.
func New(results ...classifier.Classification) *Scripted {
	s := &Scripted{}
	for _, r := range results {
		s.steps = append(s.steps, Step{Result: r})
	}
	return s
}

// Then queues another answer.
func (s *Scripted) Then(r classifier.Classification) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Result: r})
	return s
}

// ThenFail queues an error.
func (s *Scripted) ThenFail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Err: err})
	return s
}

// Block makes the next Classify call signal started and wait for release to
// be closed (or the context to end) before answering.
func (s *Scripted) Block() (started <-chan struct{}, release chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = make(chan struct{})
	s.release = make(chan struct{})
	return s.started, s.release
}

// Classify implements classifier.IntentClassifier.
func (s *Scripted) Classify(ctx context.Context, history []model.ChatMessage) (classifier.Classification, error) {
	s.mu.Lock()
	started, release := s.started, s.release
	s.started, s.release = nil, nil
	s.mu.Unlock()

	if started != nil {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return classifier.Classification{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]model.ChatMessage(nil), history...))
	if len(s.steps) == 0 {
		return classifier.Classification{}, ErrExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Result, step.Err
}

// Calls returns the histories passed to Classify so far.
func (s *Scripted) Calls() [][]model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]model.ChatMessage(nil), s.calls...)
}
