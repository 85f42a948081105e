package llm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InferenceParameters are handed to every EmbedPrompt call. Zero values mean
// "backend default".
type InferenceParameters struct {
	NThreads int
	NBatch   int
	Seed     *uint64
}

type Hyperparameters struct {
	Architecture string
	NVocab       int
	NCtxTrain    int
	NEmbd        int
	NLayer       int
	NHead        int
	FileType     int
}

type Vocab struct {
	Tokens []string
}

func NewVocab(tokens []string) *Vocab {
	return &Vocab{Tokens: tokens}
}

func (v *Vocab) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Tokens)
}

type EmbedStats struct {
	Embedding          []float32
	PromptTokens       int
	FeedPromptDuration time.Duration
}

func (s *EmbedStats) String() string {
	return fmt.Sprintf("feed_prompt_duration: %dms\nprompt_tokens: %d\nembedding_size: %d",
		s.FeedPromptDuration.Milliseconds(),
		s.PromptTokens,
		len(s.Embedding),
	)
}

// VectorString renders the embedding as space separated numbers using the
// shortest representation that round-trips each float32.
func (s *EmbedStats) VectorString() string {
	var sb strings.Builder
	for i, x := range s.Embedding {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	return sb.String()
}
