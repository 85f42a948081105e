package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/samogod/llama-embd/pkg/config"
	"github.com/samogod/llama-embd/pkg/llm"
	_ "github.com/samogod/llama-embd/pkg/llm/local"
	_ "github.com/samogod/llama-embd/pkg/llm/ollama"
	"github.com/samogod/llama-embd/pkg/prompt"
	"github.com/samogod/llama-embd/pkg/runner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// fatalError marks failures that happen after the arguments were accepted.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

type rootFlags struct {
	configFile   string
	modelPath    string
	prompt       string
	promptFile   string
	outputFile   string
	numThreads   int
	numCtxTokens int
	batchSize    int
	seed         uint64
	backend      string
	ollamaHost   string
	jsonFormat   bool
	verbose      bool
}

func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return exitOK
	}

	red := color.New(color.FgRed)
	var fe *fatalError
	if errors.As(err, &fe) {
		red.Fprintf(stderr, "Error: %v\n", fe.err)
		return exitFatal
	}

	red.Fprintf(stderr, "Error: %v\n", err)
	if cmd == nil {
		cmd = rootCmd
	}
	fmt.Fprint(stderr, cmd.UsageString())
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "llama-embd",
		Short:         "compute embeddings for prompts with a local model",
		Long:          `load a GGUF model and print an embedding vector for each prompt`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd, f)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetVersionTemplate("llama-embd {{.Version}}\n")
	rootCmd.SetHelpTemplate(helpTemplate)

	rootCmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "config file path (default: ./llama-embd.yaml or "+config.GetDefaultConfigPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "enable verbose/debug output")

	flags := rootCmd.Flags()
	flags.StringVarP(&f.modelPath, "model-path", "m", "", "path to the model file (required)")
	flags.StringVarP(&f.prompt, "prompt", "p", "", "prompt to embed")
	flags.StringVarP(&f.promptFile, "prompt-file", "f", "", "file with one prompt per line, overrides --prompt")
	flags.StringVarP(&f.outputFile, "output-file", "o", "", "file to write embedding vectors to")
	flags.IntVarP(&f.numThreads, "num-threads", "t", 0, "number of threads (default: physical cores)")
	flags.IntVar(&f.numCtxTokens, "num-ctx-tokens", 0, fmt.Sprintf("context window size in tokens (default %d)", config.DefaultNumCtxTokens))
	flags.IntVar(&f.batchSize, "batch-size", 0, fmt.Sprintf("prompt batch size (default %d)", config.DefaultBatchSize))
	flags.Uint64Var(&f.seed, "seed", 0, "random seed passed to the backend")
	flags.StringVarP(&f.backend, "backend", "b", "", fmt.Sprintf("inference backend: %s (default %q)", strings.Join(llm.Backends(), ", "), config.DefaultBackend))
	flags.StringVar(&f.ollamaHost, "ollama-host", "", fmt.Sprintf("ollama server URL (default %q)", config.DefaultOllamaHost))
	flags.BoolVarP(&f.jsonFormat, "json", "j", false, "write the output file in JSONL(ines) format")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newHistoryCmd(f))

	return rootCmd
}

const helpTemplate = `{{.Long}}

Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}
{{if .HasAvailableSubCommands}}
Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}
{{end}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

func checkPositive(flags *pflag.FlagSet, name string, v int) error {
	if flags.Changed(name) && v <= 0 {
		return fmt.Errorf("invalid argument %q for \"--%s\" flag: must be positive", fmt.Sprint(v), name)
	}
	return nil
}

// options validates the flags and merges them with the config file defaults.
// Errors returned before the config is read are usage errors.
func (f *rootFlags) options(cmd *cobra.Command, logger *logrus.Logger) (*config.Options, *config.Config, error) {
	if f.modelPath == "" {
		return nil, nil, errors.New(`required flag "model-path" not set`)
	}
	if err := checkPositive(cmd.Flags(), "num-threads", f.numThreads); err != nil {
		return nil, nil, err
	}
	if err := checkPositive(cmd.Flags(), "num-ctx-tokens", f.numCtxTokens); err != nil {
		return nil, nil, err
	}
	if err := checkPositive(cmd.Flags(), "batch-size", f.batchSize); err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(f.configFile, logger)
	if err != nil {
		return nil, nil, fatal(err)
	}

	opts := &config.Options{
		ModelPath:    f.modelPath,
		PromptFile:   f.promptFile,
		OutputFile:   f.outputFile,
		NumThreads:   f.numThreads,
		NumCtxTokens: f.numCtxTokens,
		BatchSize:    f.batchSize,
		Backend:      f.backend,
		OllamaHost:   f.ollamaHost,
		JSON:         f.jsonFormat,
		Verbose:      f.verbose,
	}
	if cmd.Flags().Changed("prompt") {
		p := f.prompt
		opts.Prompt = &p
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		opts.Seed = &seed
	}

	opts.Apply(cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	if !knownBackend(opts.Backend) {
		err := fmt.Errorf("unknown backend %q (available: %s)", opts.Backend, strings.Join(llm.Backends(), ", "))
		if !cmd.Flags().Changed("backend") {
			return nil, nil, fatal(fmt.Errorf("config defaults.backend: %w", err))
		}
		return nil, nil, err
	}

	return opts, cfg, nil
}

func loadConfig(path string, logger *logrus.Logger) (*config.Config, error) {
	manager := config.NewManager(path, logger.Debugf)
	if err := manager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return manager.GetConfig(), nil
}

func knownBackend(name string) bool {
	for _, b := range llm.Backends() {
		if b == name {
			return true
		}
	}
	return false
}

func runEmbed(cmd *cobra.Command, f *rootFlags) error {
	logger := runner.NewLogger(cmd.ErrOrStderr(), f.verbose)

	opts, cfg, err := f.options(cmd, logger)
	if err != nil {
		return err
	}

	logger.Debugf("using backend %s with %d threads", opts.Backend, opts.NumThreads)

	prompts, err := prompt.Resolve(opts.Prompt, opts.PromptFile, logger.Errorf)
	if err != nil {
		return fatal(err)
	}
	logger.Debugf("embedding %d %s prompt(s)", prompts.Len(), prompts.Kind)

	r := runner.New(opts, cfg, logger, cmd.OutOrStdout())
	if _, err := r.Run(cmd.Context(), prompts); err != nil {
		return fatal(err)
	}
	return nil
}
