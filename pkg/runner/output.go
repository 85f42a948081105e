package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/samogod/llama-embd/pkg/llm"
)

type Record struct {
	Index  int
	Prompt string
	Stats  *llm.EmbedStats
}

type jsonRecord struct {
	Index        int       `json:"index"`
	Prompt       string    `json:"prompt"`
	Embedding    []float32 `json:"embedding"`
	PromptTokens int       `json:"prompt_tokens"`
	FeedPromptMs int64     `json:"feed_prompt_ms"`
}

// OutputFile receives one line per successful prompt: either the rendered
// vector or a JSON object.
type OutputFile struct {
	w    io.WriteCloser
	path string
	json bool
}

// CreateOutputFile truncates any existing file at path.
func CreateOutputFile(path string, jsonLines bool) (*OutputFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return &OutputFile{w: f, path: path, json: jsonLines}, nil
}

func (o *OutputFile) Path() string {
	return o.path
}

func (o *OutputFile) Write(rec Record) error {
	var line []byte
	if o.json {
		b, err := json.Marshal(jsonRecord{
			Index:        rec.Index,
			Prompt:       rec.Prompt,
			Embedding:    rec.Stats.Embedding,
			PromptTokens: rec.Stats.PromptTokens,
			FeedPromptMs: rec.Stats.FeedPromptDuration.Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		line = b
	} else {
		line = []byte(rec.Stats.VectorString())
	}

	line = append(line, '\n')
	if _, err := o.w.Write(line); err != nil {
		return fmt.Errorf("failed to write to %s: %w", o.path, err)
	}
	return nil
}

func (o *OutputFile) Close() error {
	return o.w.Close()
}
