// Package interpret turns a free-text status update plus a member's candidate
// tasks into a single structured decision.
//
// Matching is delegated to a Scorer (a language model in production). The
// scorer's output is untrusted: it is parsed leniently into a fixed-shape
// record and sanitized, but never enriched with extra inference here.
package interpret

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"statusline/internal/domain"
	"statusline/internal/metrics"
)

// InterpretationError means the scoring step failed or returned unusable output.
type InterpretationError struct {
	Stage string
	Err   error
}

func (e *InterpretationError) Error() string {
	return fmt.Sprintf("interpret %s: %v", e.Stage, e.Err)
}

func (e *InterpretationError) Unwrap() error { return e.Err }

type Interpreter struct {
	Scorer Scorer
	Now    func() time.Time
	Logger *zap.Logger
}

func New(s Scorer, logger *zap.Logger) Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Interpreter{Scorer: s, Now: time.Now, Logger: logger}
}

func (i Interpreter) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i Interpreter) logger() *zap.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return zap.NewNop()
}

// Interpret makes exactly one scoring call. Low confidence is not retried
// here; the caller decides whether to clarify.
func (i Interpreter) Interpret(ctx context.Context, message string, tasks []domain.Task) (domain.Decision, error) {
	if i.Scorer == nil {
		return domain.Decision{}, &InterpretationError{Stage: "score", Err: fmt.Errorf("no scorer configured")}
	}
	candidates := domain.LabelTasks(tasks)
	req := BuildRequest(message, candidates, i.now())
	name := i.Scorer.Name()

	start := time.Now()
	raw, err := i.Scorer.Score(ctx, req)
	if err != nil {
		metrics.RecordScoreLatency(name, "error", time.Since(start))
		return domain.Decision{}, &InterpretationError{Stage: "score", Err: err}
	}
	d, err := ParseDecision(raw, candidates)
	if err != nil {
		metrics.RecordScoreLatency(name, "malformed", time.Since(start))
		i.logger().Warn("scorer returned unusable output",
			zap.String("scorer", name),
			zap.Int("bytes", len(raw)),
			zap.Error(err),
		)
		return domain.Decision{}, &InterpretationError{Stage: "parse", Err: err}
	}
	metrics.RecordScoreLatency(name, "ok", time.Since(start))
	return d, nil
}
