package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/scheduling-assistant/internal/model"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
	"github.com/capitalize-ai/scheduling-assistant/pkg/metrics"
)

// DefaultRetries is the number of extra attempts after a failed call.
const DefaultRetries = 2

type retrying struct {
	next    IntentClassifier
	retries uint64
	log     *logger.Logger
	backoff func() backoff.BackOff
}

// RetryOption configures WithRetry.
type RetryOption func(*retrying)

// WithBackOff replaces the exponential backoff policy, e.g. with a zero delay in tests.
func WithBackOff(newBackOff func() backoff.BackOff) RetryOption {
	return func(r *retrying) { r.backoff = newBackOff }
}

// WithRetry wraps c so that failed calls are retried up to retries times.
// Context cancellation is not retried.
func WithRetry(c IntentClassifier, retries uint64, log *logger.Logger, opts ...RetryOption) IntentClassifier {
	if log == nil {
		log = logger.NewNop()
	}
	r := &retrying{next: c, retries: retries, log: log, backoff: DefaultBackOff}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultBackOff is a short exponential backoff suited to interactive turns.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func (r *retrying) Classify(ctx context.Context, history []model.ChatMessage) (Classification, error) {
	var out Classification
	op := func() error {
		c, err := r.next.Classify(ctx, history)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.CollaboratorRetriesTotal.WithLabelValues("classifier", "classify").Inc()
		r.log.Warn("retrying classifier", zap.Error(err), zap.Duration("wait", wait))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.retries), ctx)
	err := backoff.RetryNotify(op, b, notify)
	metrics.RecordCollaborator("classifier", "classify", err)
	if err != nil {
		var cerr *ClassificationError
		if errors.As(err, &cerr) {
			return Classification{}, err
		}
		return Classification{}, &ClassificationError{Reason: "classifier failed", Err: err}
	}
	return out, nil
}
