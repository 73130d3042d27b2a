package interpret

import "context"

// Scorer produces the raw decision record for one request. Implementations
// should not retry; one call per inbound message.
type Scorer interface {
	Name() string
	Score(ctx context.Context, req ScoreRequest) ([]byte, error)
}

type ScorerFunc func(ctx context.Context, req ScoreRequest) ([]byte, error)

func (f ScorerFunc) Name() string { return "func" }

func (f ScorerFunc) Score(ctx context.Context, req ScoreRequest) ([]byte, error) {
	return f(ctx, req)
}

// Replay returns a canned record regardless of input. Useful for fixtures.
type Replay []byte

func (r Replay) Name() string { return "replay" }

func (r Replay) Score(context.Context, ScoreRequest) ([]byte, error) {
	return append([]byte(nil), r...), nil
}
