// Package llmtest provides an in-memory llm.Loader for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samogod/llama-embd/pkg/llm"
)

type EmbedCall struct {
	Session int
	Prompt  string
	Params  llm.InferenceParameters
}

// Loader records every call made through it. Fail maps prompts to the error
// EmbedPrompt should return for them.
type Loader struct {
	Events  []llm.LoadProgress
	LoadErr error
	Fail    map[string]error

	mu       sync.Mutex
	loads    []string
	nCtx     int
	sessions []int
	calls    []EmbedCall
	closed   bool
}

var _ llm.Loader = (*Loader)(nil)

func (l *Loader) Load(ctx context.Context, path string, nCtx int, progress llm.ProgressFunc) (llm.Model, *llm.Vocab, error) {
	l.mu.Lock()
	l.loads = append(l.loads, path)
	l.nCtx = nCtx
	l.mu.Unlock()

	if l.LoadErr != nil {
		return nil, nil, l.LoadErr
	}
	for _, ev := range l.Events {
		progress(ev)
	}
	return &model{l: l}, llm.NewVocab([]string{"<pad>", "hello"}), nil
}

func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}

func (l *Loader) NCtx() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nCtx
}

// SessionOffsets returns the offset each session was started with.
func (l *Loader) SessionOffsets() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.sessions...)
}

func (l *Loader) Calls() []EmbedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EmbedCall(nil), l.calls...)
}

func (l *Loader) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Vector is the deterministic embedding the fake produces for prompt.
func Vector(prompt string) []float32 {
	return []float32{float32(len(prompt)), 0.5, -1}
}

type model struct {
	l *Loader
}

func (m *model) StartSession(offset int) llm.Session {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	m.l.sessions = append(m.l.sessions, offset)
	return &session{l: m.l, id: len(m.l.sessions)}
}

func (m *model) Close() error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if m.l.closed {
		return errors.New("model closed twice")
	}
	m.l.closed = true
	return nil
}

type session struct {
	l    *Loader
	id   int
	used bool
}

func (s *session) EmbedPrompt(ctx context.Context, vocab *llm.Vocab, params *llm.InferenceParameters, prompt string) (*llm.EmbedStats, error) {
	if s.used {
		return nil, errors.New("session reused")
	}
	s.used = true

	s.l.mu.Lock()
	s.l.calls = append(s.l.calls, EmbedCall{Session: s.id, Prompt: prompt, Params: *params})
	err := s.l.Fail[prompt]
	s.l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &llm.EmbedStats{
		Embedding:          Vector(prompt),
		PromptTokens:       llm.CountWords(prompt),
		FeedPromptDuration: time.Millisecond,
	}, nil
}
