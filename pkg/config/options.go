package config

import (
	"errors"
	"fmt"
)

// Options is the validated run configuration, built once by the command line
// layer and passed down explicitly.
type Options struct {
	ModelPath    string
	Prompt       *string
	PromptFile   string
	OutputFile   string
	NumThreads   int
	NumCtxTokens int
	BatchSize    int
	Seed         *uint64

	Backend           string
	OllamaHost        string
	JSON              bool
	Verbose           bool
	TensorLogInterval int
}

// Apply fills options left at zero from the config file defaults, then from
// the built-in defaults.
func (o *Options) Apply(d Defaults) {
	builtin := Default().Defaults

	o.Backend = firstString(o.Backend, d.Backend, builtin.Backend)
	o.OllamaHost = firstString(o.OllamaHost, d.OllamaHost, builtin.OllamaHost)
	o.NumThreads = firstPositive(o.NumThreads, d.NumThreads, PhysicalCores())
	o.NumCtxTokens = firstPositive(o.NumCtxTokens, d.NumCtxTokens, builtin.NumCtxTokens)
	o.BatchSize = firstPositive(o.BatchSize, d.BatchSize, builtin.BatchSize)
	o.TensorLogInterval = firstPositive(o.TensorLogInterval, d.TensorLogInterval, builtin.TensorLogInterval)
}

func (o *Options) Validate() error {
	if o.ModelPath == "" {
		return errors.New("required flag \"model-path\" not set")
	}
	if o.NumThreads <= 0 {
		return fmt.Errorf("num-threads must be positive, got %d", o.NumThreads)
	}
	if o.NumCtxTokens <= 0 {
		return fmt.Errorf("num-ctx-tokens must be positive, got %d", o.NumCtxTokens)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive, got %d", o.BatchSize)
	}
	if o.TensorLogInterval <= 0 {
		return fmt.Errorf("tensor log interval must be positive, got %d", o.TensorLogInterval)
	}
	return nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
