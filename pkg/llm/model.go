package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrContextFull is returned by EmbedPrompt when the prompt does not fit in
// the session's context window.
var ErrContextFull = errors.New("context window full")

// UserCallbackError wraps a failure reported by a caller-supplied callback
// during inference.
type UserCallbackError struct {
	Err error
}

func (e *UserCallbackError) Error() string {
	return fmt.Sprintf("user callback failed: %v", e.Err)
}

func (e *UserCallbackError) Unwrap() error {
	return e.Err
}

type ProgressFunc func(LoadProgress)

type Loader interface {
	// Load reads the model at path with a context window of nCtx tokens,
	// reporting progress as it goes.
	Load(ctx context.Context, path string, nCtx int, progress ProgressFunc) (Model, *Vocab, error)
}

type Model interface {
	// StartSession opens fresh per-prompt state; offset is the number of
	// context positions already considered used.
	StartSession(offset int) Session
	Close() error
}

type Session interface {
	EmbedPrompt(ctx context.Context, vocab *Vocab, params *InferenceParameters, prompt string) (*EmbedStats, error)
}
