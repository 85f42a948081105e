package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/samogod/llama-embd/pkg/config"
	"github.com/samogod/llama-embd/pkg/llm"
	"github.com/samogod/llama-embd/pkg/llm/llmtest"
	"github.com/samogod/llama-embd/pkg/prompt"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBackend = "runnertest"

var current *llmtest.Loader

func init() {
	llm.Register(testBackend, func(cfg llm.BackendConfig) (llm.Loader, error) {
		return current, nil
	})
}

func newOptions(t *testing.T) *config.Options {
	opts := &config.Options{
		ModelPath:  "model.gguf",
		OutputFile: filepath.Join(t.TempDir(), "vectors.txt"),
		Backend:    testBackend,
	}
	opts.Apply(config.Defaults{})
	require.NoError(t, opts.Validate())
	return opts
}

func run(t *testing.T, opts *config.Options, prompts *prompt.List) (*Summary, string, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	var stdout bytes.Buffer

	summary, err := New(opts, nil, logger, &stdout).Run(context.Background(), prompts)
	require.NoError(t, err)
	return summary, stdout.String(), hook
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func vectorLine(p string) string {
	return (&llm.EmbedStats{Embedding: llmtest.Vector(p)}).VectorString()
}

func warnings(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestRunFilePrompts(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)
	prompts := &prompt.List{Kind: prompt.KindFile, Prompts: []string{"alpha", "beta gamma", "delta"}}

	summary, stdout, hook := run(t, opts, prompts)

	assert.Equal(t, &Summary{Prompts: 3, Embedded: 3}, summary)
	assert.Equal(t, []string{"model.gguf"}, current.Loads())
	assert.Equal(t, config.DefaultNumCtxTokens, current.NCtx())
	assert.Equal(t, []int{0, 0, 0}, current.SessionOffsets())
	assert.True(t, current.Closed())

	calls := current.Calls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i+1, c.Session)
		assert.Equal(t, prompts.Prompts[i], c.Prompt)
	}

	assert.Equal(t, []string{vectorLine("alpha"), vectorLine("beta gamma"), vectorLine("delta")},
		readLines(t, opts.OutputFile))

	assert.False(t, strings.HasPrefix(stdout, "\n"))
	assert.Equal(t, 3, strings.Count(stdout, "embedding_size: 3\n"))
	assert.Contains(t, stdout, "prompt_tokens: 2\n")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Model fully loaded!", hook.LastEntry().Message)
}

func TestRunFallbackPrompt(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)

	prompts, err := prompt.Resolve(nil, "", nil)
	require.NoError(t, err)

	summary, stdout, _ := run(t, opts, prompts)
	assert.Equal(t, 1, summary.Embedded)
	assert.Equal(t, []string{prompt.Fallback}, []string{current.Calls()[0].Prompt})
	assert.Equal(t, []string{vectorLine(prompt.Fallback)}, readLines(t, opts.OutputFile))
	assert.False(t, strings.HasPrefix(stdout, "\n"))
}

func TestRunInlinePromptWritesBlankLine(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)
	opts.OutputFile = ""

	_, stdout, _ := run(t, opts, &prompt.List{Kind: prompt.KindInline, Prompts: []string{"hello"}})
	assert.Equal(t, "\nfeed_prompt_duration: 1ms\nprompt_tokens: 1\nembedding_size: 3\n", stdout)
}

func TestRunSkipsContextFull(t *testing.T) {
	current = &llmtest.Loader{Fail: map[string]error{"too long": llm.ErrContextFull}}
	opts := newOptions(t)

	summary, stdout, hook := run(t, opts, &prompt.List{Kind: prompt.KindFile, Prompts: []string{"one", "too long", "three"}})

	assert.Equal(t, &Summary{Prompts: 3, Embedded: 2, Skipped: 1}, summary)
	assert.Equal(t, []string{vectorLine("one"), vectorLine("three")}, readLines(t, opts.OutputFile))
	assert.Equal(t, 2, strings.Count(stdout, "embedding_size"))
	assert.Equal(t, []string{"Context window full, skipping prompt 1"}, warnings(hook))
	assert.Len(t, current.Calls(), 3)
}

func TestRunContinuesAfterBackendError(t *testing.T) {
	current = &llmtest.Loader{Fail: map[string]error{"bad": fmt.Errorf("wrapped: %w", errors.New("connection reset"))}}
	opts := newOptions(t)

	summary, _, hook := run(t, opts, &prompt.List{Kind: prompt.KindFile, Prompts: []string{"bad", "good"}})

	assert.Equal(t, &Summary{Prompts: 2, Embedded: 1, Failed: 1}, summary)
	assert.Equal(t, []string{vectorLine("good")}, readLines(t, opts.OutputFile))

	var errs []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errs = append(errs, e.Message)
		}
	}
	assert.Equal(t, []string{"Failed to embed prompt 0: wrapped: connection reset"}, errs)
}

func TestRunUserCallbackPanics(t *testing.T) {
	current = &llmtest.Loader{Fail: map[string]error{"x": &llm.UserCallbackError{Err: errors.New("boom")}}}
	opts := newOptions(t)
	logger, _ := test.NewNullLogger()

	assert.Panics(t, func() {
		New(opts, nil, logger, io.Discard).Run(context.Background(), &prompt.List{Kind: prompt.KindFile, Prompts: []string{"x"}})
	})
}

func TestRunPassesInferenceParameters(t *testing.T) {
	current = &llmtest.Loader{}
	seed := uint64(42)
	opts := &config.Options{ModelPath: "m.gguf", Backend: testBackend, NumThreads: 4, BatchSize: 16, NumCtxTokens: 64, Seed: &seed}
	opts.Apply(config.Defaults{})

	run(t, opts, &prompt.List{Kind: prompt.KindFile, Prompts: []string{"a", "b"}})

	assert.Equal(t, 64, current.NCtx())
	for _, c := range current.Calls() {
		assert.Equal(t, 4, c.Params.NThreads)
		assert.Equal(t, 16, c.Params.NBatch)
		require.NotNil(t, c.Params.Seed)
		assert.Equal(t, seed, *c.Params.Seed)
	}
}

func TestRunLoadFailure(t *testing.T) {
	current = &llmtest.Loader{LoadErr: errors.New("no such model")}
	opts := newOptions(t)
	logger, _ := test.NewNullLogger()

	_, err := New(opts, nil, logger, io.Discard).Run(context.Background(), &prompt.List{Prompts: []string{"a"}})
	assert.EqualError(t, err, "failed to load model: no such model")
	assert.NoFileExists(t, opts.OutputFile)
}

func TestRunUnknownBackend(t *testing.T) {
	opts := newOptions(t)
	opts.Backend = "nope"
	logger, _ := test.NewNullLogger()

	_, err := New(opts, nil, logger, io.Discard).Run(context.Background(), &prompt.List{Prompts: []string{"a"}})
	assert.ErrorContains(t, err, `unknown backend "nope"`)
}

func TestRunOutputFileCreateFailure(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)
	opts.OutputFile = t.TempDir()
	logger, _ := test.NewNullLogger()

	_, err := New(opts, nil, logger, io.Discard).Run(context.Background(), &prompt.List{Prompts: []string{"a"}})
	assert.ErrorContains(t, err, "failed to create output file")
	assert.Empty(t, current.Calls())
	assert.True(t, current.Closed())
}

func TestRunTruncatesOutputFile(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)
	require.NoError(t, os.WriteFile(opts.OutputFile, []byte("stale\nstale\nstale\n"), 0644))

	run(t, opts, &prompt.List{Kind: prompt.KindFile, Prompts: []string{"fresh"}})
	assert.Equal(t, []string{vectorLine("fresh")}, readLines(t, opts.OutputFile))
}

// lineCounter records how many lines the output file held at each stdout write.
type lineCounter struct {
	path   string
	counts []int
}

func (w *lineCounter) Write(p []byte) (int, error) {
	b, _ := os.ReadFile(w.path)
	w.counts = append(w.counts, bytes.Count(b, []byte("\n")))
	return len(p), nil
}

func TestRunWritesStdoutBeforeOutputFile(t *testing.T) {
	current = &llmtest.Loader{}
	opts := newOptions(t)
	logger, _ := test.NewNullLogger()
	stdout := &lineCounter{path: opts.OutputFile}

	_, err := New(opts, nil, logger, stdout).Run(context.Background(), &prompt.List{Kind: prompt.KindFile, Prompts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, stdout.counts)
}

func TestRunJSONOutputIndexedIntoElasticsearch(t *testing.T) {
	var bulkDocs atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			body, _ := io.ReadAll(r.Body)
			n := strings.Count(strings.TrimSpace(string(body)), "\n")/2 + 1
			bulkDocs.Add(int64(n))
			items := strings.Repeat(`{"index":{"status":201}},`, n)
			fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.TrimSuffix(items, ","))
			return
		}
		io.WriteString(w, `{"name":"test","cluster_name":"test","version":{"number":"8.13.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
	}))
	defer srv.Close()

	current = &llmtest.Loader{}
	opts := newOptions(t)
	opts.JSON = true
	cfg := config.Default()
	cfg.Elastic.URL = srv.URL

	logger, hook := test.NewNullLogger()
	_, err := New(opts, cfg, logger, io.Discard).Run(context.Background(), &prompt.List{Kind: prompt.KindFile, Prompts: []string{"a b", "c"}})
	require.NoError(t, err)

	lines := readLines(t, opts.OutputFile)
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index":0,"prompt":"a b","embedding":[3,0.5,-1],"prompt_tokens":2,"feed_prompt_ms":1}`, lines[0])
	assert.JSONEq(t, `{"index":1,"prompt":"c","embedding":[1,0.5,-1],"prompt_tokens":1,"feed_prompt_ms":1}`, lines[1])

	assert.Equal(t, int64(2), bulkDocs.Load())
	assert.Equal(t, "Indexed 2 embeddings into llama_embd (0 failed)", hook.LastEntry().Message)
}

func TestProgressLoggerThrottlesTensors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	progress := ProgressLogger(logger, 8)

	progress(llm.HyperparametersLoaded{Hyperparameters: llm.Hyperparameters{NEmbd: 4}})
	progress(llm.BadToken{Index: 7})
	progress(llm.ContextSize{Bytes: 3 * 1024 * 1024})
	progress(llm.MemorySize{Bytes: 1024 * 1024, NMem: 256})
	progress(llm.PartLoading{File: "m.gguf", CurrentPart: 1, TotalParts: 1})
	for i := 1; i <= 20; i++ {
		progress(llm.PartTensorLoaded{File: "m.gguf", CurrentTensor: i, TensorCount: 20})
	}
	progress(llm.PartLoaded{File: "m.gguf", ByteSize: 5 * 1024 * 1024, TensorCount: 20})

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	require.Len(t, msgs, 9)
	assert.Equal(t, logrus.DebugLevel, hook.AllEntries()[0].Level)
	assert.True(t, strings.HasPrefix(msgs[0], "Loaded HyperParams {"))
	assert.Equal(t, []string{
		"Warning: Bad token in vocab at index 7",
		"ggml ctx size = 3.00 MB",
		"Memory size: 1.00 MB 256",
		"Loading model part 1/1 from 'm.gguf'",
		"Loaded tensor 8/20",
		"Loaded tensor 16/20",
		"Loading of 'm.gguf' complete",
		"Model size = 5.00 MB / num tensors = 20",
	}, msgs[1:])
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv(LogEnv, "")
	logger := NewLogger(&buf, false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.Warn("careful")
	assert.Equal(t, "[WARN] careful\n", buf.String())

	t.Setenv(LogEnv, "error")
	assert.Equal(t, logrus.ErrorLevel, NewLogger(&buf, false).GetLevel())
	assert.Equal(t, logrus.DebugLevel, NewLogger(&buf, true).GetLevel())

	t.Setenv(LogEnv, "chatty")
	assert.Equal(t, logrus.InfoLevel, NewLogger(&buf, false).GetLevel())
}
