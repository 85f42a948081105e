// Package local runs GGUF embedding models in-process with go-semantica.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/headlands-org/go-semantica"
	"github.com/samogod/llama-embd/pkg/llm"
	"github.com/sirupsen/logrus"
)

const Name = "local"

func init() {
	llm.Register(Name, New)
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

type runtime struct {
	embed     embedFunc
	maxSeqLen int
	close     func()
}

type runtimeOpener func(path string, threads int) (*runtime, error)

type Loader struct {
	threads int
	logger  *logrus.Logger
	open    runtimeOpener
}

var _ llm.Loader = (*Loader)(nil)

func New(cfg llm.BackendConfig) (llm.Loader, error) {
	return &Loader{
		threads: cfg.Threads,
		logger:  cfg.Logger,
		open:    openSemantica,
	}, nil
}

func (l *Loader) Load(ctx context.Context, path string, nCtx int, progress llm.ProgressFunc) (llm.Model, *llm.Vocab, error) {
	mf, err := llm.InspectFile(path, nCtx, progress)
	if err != nil {
		return nil, nil, err
	}

	if trained := mf.Hyperparameters.NCtxTrain; trained > 0 && nCtx > trained {
		l.logger.Warnf("Requested context of %d tokens exceeds the %d the model was trained with", nCtx, trained)
	}

	rt, err := l.open(path, l.threads)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open model runtime: %w", err)
	}

	limit := nCtx
	if rt.maxSeqLen > 0 && (limit <= 0 || rt.maxSeqLen < limit) {
		limit = rt.maxSeqLen
	}

	l.logger.Debugf("local runtime ready for %s (%s, %d threads, %d token limit)", path, mf.Hyperparameters.Architecture, l.threads, limit)

	return &Model{
		embed: rt.embed,
		close: rt.close,
		nCtx:  limit,
	}, mf.Vocab, nil
}

func openSemantica(path string, threads int) (*runtime, error) {
	var opts []semantica.Option
	if threads > 0 {
		opts = append(opts, semantica.WithThreads(threads))
	}

	rt, err := semantica.Open(path, opts...)
	if err != nil {
		return nil, err
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		out, err := rt.EmbedInputs(ctx, []semantica.Input{{
			Task:    semantica.TaskSearchDocument,
			Title:   "none",
			Content: text,
		}})
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, errors.New("runtime returned no embedding")
		}
		return toFloat32(out[0]), nil
	}

	return &runtime{
		embed:     embed,
		maxSeqLen: rt.MaxSeqLen(),
		close:     func() { rt.Close() },
	}, nil
}

func toFloat32[T float32 | float64](v []T) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

type Model struct {
	embed  embedFunc
	close  func()
	nCtx   int
	closed bool
}

func (m *Model) StartSession(offset int) llm.Session {
	return &Session{model: m, offset: offset}
}

func (m *Model) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.close != nil {
		m.close()
	}
	return nil
}

type Session struct {
	model  *Model
	offset int
}

// EmbedPrompt ignores params.NBatch and params.Seed: the runtime batches
// internally and embedding is deterministic. The runtime does not expose its
// tokenizer, so PromptTokens and the up-front context check count words; a
// prompt the tokenizer later finds too long still reports ErrContextFull.
func (s *Session) EmbedPrompt(ctx context.Context, vocab *llm.Vocab, params *llm.InferenceParameters, prompt string) (*llm.EmbedStats, error) {
	if llm.ExceedsContext(s.offset, s.model.nCtx, prompt) {
		return nil, llm.ErrContextFull
	}

	start := time.Now()
	vec, err := s.model.embed(ctx, prompt)
	if err != nil {
		if isSequenceTooLong(err) {
			return nil, fmt.Errorf("%w: %v", llm.ErrContextFull, err)
		}
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	return &llm.EmbedStats{
		Embedding:          vec,
		PromptTokens:       llm.CountWords(prompt),
		FeedPromptDuration: time.Since(start),
	}, nil
}

func isSequenceTooLong(err error) bool {
	return strings.Contains(err.Error(), "sequence too long")
}
