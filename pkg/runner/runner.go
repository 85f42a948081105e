// Package runner drives a model over a list of prompts and reports each
// embedding to stdout and the configured sinks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samogod/llama-embd/pkg/config"
	"github.com/samogod/llama-embd/pkg/database"
	"github.com/samogod/llama-embd/pkg/elastic"
	"github.com/samogod/llama-embd/pkg/llm"
	"github.com/samogod/llama-embd/pkg/prompt"
	"github.com/sirupsen/logrus"
)

type Runner struct {
	opts   *config.Options
	config *config.Config
	logger *logrus.Logger
	stdout io.Writer
}

type Summary struct {
	Prompts  int
	Embedded int
	Skipped  int
	Failed   int
}

// New returns a runner for validated options. cfg supplies the sink
// settings and may be nil.
func New(opts *config.Options, cfg *config.Config, logger *logrus.Logger, stdout io.Writer) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Runner{
		opts:   opts,
		config: cfg,
		logger: logger,
		stdout: stdout,
	}
}

// Params builds the inference parameters shared by every prompt.
func (r *Runner) Params() *llm.InferenceParameters {
	return &llm.InferenceParameters{
		NThreads: r.opts.NumThreads,
		NBatch:   r.opts.BatchSize,
		Seed:     r.opts.Seed,
	}
}

// Run loads the model and embeds every prompt in order. A returned error
// means the run could not proceed; per-prompt failures are logged and
// counted in the summary instead.
func (r *Runner) Run(ctx context.Context, prompts *prompt.List) (*Summary, error) {
	loader, err := llm.Open(r.opts.Backend, llm.BackendConfig{
		Threads: r.opts.NumThreads,
		Host:    r.opts.OllamaHost,
		Logger:  r.logger,
	})
	if err != nil {
		return nil, err
	}

	model, vocab, err := loader.Load(ctx, r.opts.ModelPath, r.opts.NumCtxTokens, ProgressLogger(r.logger, r.opts.TensorLogInterval))
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	defer func() {
		if err := model.Close(); err != nil {
			r.logger.Warnf("Failed to release model: %v", err)
		}
	}()
	r.logger.Info("Model fully loaded!")

	var out *OutputFile
	if r.opts.OutputFile != "" {
		out, err = CreateOutputFile(r.opts.OutputFile, r.opts.JSON)
		if err != nil {
			return nil, err
		}
	}

	db, err := database.New(&r.config.Database, r.logger)
	if err != nil {
		closeOutput(out, r.logger)
		return nil, err
	}
	defer db.Close()

	var es *elastic.Client
	if r.config.Elastic.URL != "" {
		es, err = elastic.New(r.config.Elastic)
		if err != nil {
			closeOutput(out, r.logger)
			return nil, err
		}
	}

	summary := r.embedAll(ctx, model, vocab, prompts, out, db)

	closeOutput(out, r.logger)

	if out != nil && es != nil {
		if r.opts.JSON {
			r.indexOutput(ctx, es, out.Path())
		} else {
			r.logger.Warn("Elasticsearch export needs --json output, skipping")
		}
	}

	r.logger.Debugf("Embedded %d/%d prompts (%d skipped, %d failed)",
		summary.Embedded, summary.Prompts, summary.Skipped, summary.Failed)

	return summary, nil
}

func (r *Runner) embedAll(ctx context.Context, model llm.Model, vocab *llm.Vocab, prompts *prompt.List, out *OutputFile, db *database.DB) *Summary {
	summary := &Summary{Prompts: prompts.Len()}
	params := r.Params()

	if prompts.Kind == prompt.KindInline {
		fmt.Fprintln(r.stdout)
	}

	for i, p := range prompts.Prompts {
		session := model.StartSession(0)

		stats, err := session.EmbedPrompt(ctx, vocab, params, p)
		if err != nil {
			var cbErr *llm.UserCallbackError
			switch {
			case errors.Is(err, llm.ErrContextFull):
				r.logger.Warnf("Context window full, skipping prompt %d", i)
				summary.Skipped++
			case errors.As(err, &cbErr):
				panic(cbErr)
			default:
				r.logger.Errorf("Failed to embed prompt %d: %v", i, err)
				summary.Failed++
			}
			continue
		}

		summary.Embedded++
		fmt.Fprintf(r.stdout, "%s\n", stats)

		if out != nil {
			if err := out.Write(Record{Index: i, Prompt: p, Stats: stats}); err != nil {
				r.logger.Errorf("Failed to write embedding for prompt %d: %v", i, err)
			}
		}

		if db.IsEnabled() {
			rec := database.EmbeddingRecord{
				Model:        r.opts.ModelPath,
				Prompt:       p,
				Embedding:    toFloat64(stats.Embedding),
				PromptTokens: stats.PromptTokens,
				FeedPromptMs: stats.FeedPromptDuration.Milliseconds(),
			}
			if err := db.StoreEmbedding(ctx, rec); err != nil {
				r.logger.Errorf("Failed to store embedding for prompt %d: %v", i, err)
			}
		}
	}

	return summary
}

func (r *Runner) indexOutput(ctx context.Context, es *elastic.Client, path string) {
	stats, err := es.IndexJSONLinesFile(ctx, path)
	if err != nil {
		r.logger.Errorf("Elasticsearch export failed: %v", err)
		return
	}
	r.logger.Infof("Indexed %d embeddings into %s (%d failed)", stats.Added, es.Index(), stats.Failed)
}

func closeOutput(out *OutputFile, logger *logrus.Logger) {
	if out == nil {
		return
	}
	if err := out.Close(); err != nil {
		logger.Errorf("Failed to close %s: %v", out.Path(), err)
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
