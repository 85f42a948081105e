// Package ollama computes embeddings through a running ollama daemon. A model
// path that names a file on disk is imported into the daemon first; anything
// else is used as an ollama model name.
package ollama

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/samogod/llama-embd/pkg/llm"
	"github.com/samogod/llama-embd/pkg/session"
	"github.com/sirupsen/logrus"
)

const (
	Name        = "ollama"
	DefaultHost = "http://127.0.0.1:11434"
	modelPrefix = "llama-embd-"
)

func init() {
	llm.Register(Name, New)
}

type Loader struct {
	client *api.Client
	logger *logrus.Logger
}

var _ llm.Loader = (*Loader)(nil)

func New(cfg llm.BackendConfig) (llm.Loader, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama address: %w", err)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = session.New(0, cfg.Logger)
	}

	return &Loader{
		client: api.NewClient(base, httpc),
		logger: cfg.Logger,
	}, nil
}

func (l *Loader) Load(ctx context.Context, path string, nCtx int, progress llm.ProgressFunc) (llm.Model, *llm.Vocab, error) {
	if progress == nil {
		progress = func(llm.LoadProgress) {}
	}

	v, err := l.client.Version(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get ollama version: %w", err)
	}
	l.logger.Debugf("ollama version: %s", v)

	var (
		name  string
		vocab *llm.Vocab
	)

	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		mf, err := llm.InspectFile(path, nCtx, progress)
		if err != nil {
			return nil, nil, err
		}
		if name, err = l.importFile(ctx, path, nCtx); err != nil {
			return nil, nil, err
		}
		vocab = mf.Vocab
	} else {
		show, err := l.client.Show(ctx, &api.ShowRequest{Model: path})
		if err != nil {
			return nil, nil, fmt.Errorf("model %s is neither a file nor known to ollama: %w", path, err)
		}
		progress(llm.HyperparametersLoaded{Hyperparameters: hyperparametersFromInfo(show.ModelInfo)})
		name = path
		vocab = llm.NewVocab(nil)
	}

	return &Model{
		client: l.client,
		name:   name,
		nCtx:   nCtx,
	}, vocab, nil
}

func (l *Loader) importFile(ctx context.Context, path string, nCtx int) (string, error) {
	digest, err := fileDigest(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash model file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	l.logger.Debugf("uploading %s to ollama as %s", path, digest)
	if err := l.client.CreateBlob(ctx, digest, f); err != nil {
		return "", fmt.Errorf("failed to upload model file: %w", err)
	}

	name := ModelName(path)
	req := &api.CreateRequest{
		Model:     name,
		Modelfile: Modelfile(digest, nCtx),
	}
	err = l.client.Create(ctx, req, func(p api.ProgressResponse) error {
		l.logger.Debugf("ollama create %s: %s", name, p.Status)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create ollama model %s: %w", name, err)
	}

	return name, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func Modelfile(digest string, nCtx int) string {
	return fmt.Sprintf("FROM @%s\nPARAMETER num_ctx %d\n", digest, nCtx)
}

// ModelName derives the ollama model name used for an imported file.
func ModelName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, base)
	if base == "" {
		base = "model"
	}
	return modelPrefix + base
}

func hyperparametersFromInfo(info map[string]any) llm.Hyperparameters {
	arch, _ := info["general.architecture"].(string)
	num := func(key string) int {
		switch v := info[arch+"."+key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		default:
			return 0
		}
	}
	return llm.Hyperparameters{
		Architecture: arch,
		NCtxTrain:    num("context_length"),
		NEmbd:        num("embedding_length"),
		NLayer:       num("block_count"),
		NHead:        num("attention.head_count"),
	}
}

type Model struct {
	client *api.Client
	name   string
	nCtx   int
}

func (m *Model) StartSession(offset int) llm.Session {
	return &Session{model: m, offset: offset}
}

// Close leaves imported models in place so the next run skips the upload.
func (m *Model) Close() error {
	return nil
}

type Session struct {
	model  *Model
	offset int
}

func (s *Session) EmbedPrompt(ctx context.Context, vocab *llm.Vocab, params *llm.InferenceParameters, prompt string) (*llm.EmbedStats, error) {
	if llm.ExceedsContext(s.offset, s.model.nCtx, prompt) {
		return nil, llm.ErrContextFull
	}

	truncate := false
	req := &api.EmbedRequest{
		Model:    s.model.name,
		Input:    prompt,
		Truncate: &truncate,
		Options:  requestOptions(s.model.nCtx, params),
	}

	start := time.Now()
	resp, err := s.model.client.Embed(ctx, req)
	if err != nil {
		if isContextError(err) {
			return nil, llm.ErrContextFull
		}
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings for model %s", s.model.name)
	}

	feed := resp.TotalDuration - resp.LoadDuration
	if feed <= 0 {
		feed = time.Since(start)
	}

	return &llm.EmbedStats{
		Embedding:          toFloat32(resp.Embeddings[0]),
		PromptTokens:       resp.PromptEvalCount,
		FeedPromptDuration: feed,
	}, nil
}

func requestOptions(nCtx int, params *llm.InferenceParameters) map[string]any {
	opts := map[string]any{}
	if nCtx > 0 {
		opts["num_ctx"] = nCtx
	}
	if params == nil {
		return opts
	}
	if params.NThreads > 0 {
		opts["num_thread"] = params.NThreads
	}
	if params.NBatch > 0 {
		opts["num_batch"] = params.NBatch
	}
	if params.Seed != nil {
		opts["seed"] = *params.Seed
	}
	return opts
}

func isContextError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") || strings.Contains(msg, "context window")
}

func toFloat32[T float32 | float64](v []T) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
