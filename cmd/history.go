package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/samogod/llama-embd/pkg/database"
	"github.com/samogod/llama-embd/pkg/runner"
	"github.com/spf13/cobra"
)

const promptPreviewLen = 48

type historyFlags struct {
	all   bool
	limit int
}

func newHistoryCmd(root *rootFlags) *cobra.Command {
	hf := &historyFlags{}

	historyCmd := &cobra.Command{
		Use:   "history [model-path]",
		Short: "Query stored embeddings",
		Long:  `Query the embeddings database for a specific model or all models`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, root, hf, args)
		},
	}

	historyCmd.Flags().BoolVar(&hf.all, "all", false, "query all models")
	historyCmd.Flags().IntVarP(&hf.limit, "limit", "n", 20, "maximum number of records to show (0 for all)")

	return historyCmd
}

func runHistory(cmd *cobra.Command, root *rootFlags, hf *historyFlags, args []string) error {
	if !hf.all && len(args) == 0 {
		return errors.New("either provide a model path or use --all flag")
	}
	if hf.all && len(args) > 0 {
		return errors.New("cannot use both model path and --all flag together")
	}
	if hf.limit < 0 {
		return fmt.Errorf("invalid argument %q for \"--limit\" flag: must not be negative", fmt.Sprint(hf.limit))
	}

	logger := runner.NewLogger(cmd.ErrOrStderr(), root.verbose)

	cfg, err := loadConfig(root.configFile, logger)
	if err != nil {
		return fatal(err)
	}

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return fatal(err)
	}
	defer db.Close()

	if !db.IsEnabled() {
		return fatal(errors.New("database is not enabled, enable it in the config file"))
	}

	model := ""
	if len(args) > 0 {
		model = args[0]
	}

	records, err := db.QueryEmbeddings(cmd.Context(), model, hf.limit)
	if err != nil {
		return fatal(fmt.Errorf("failed to query database: %w", err))
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		color.New(color.FgYellow).Fprintf(out, "[INF] No embeddings stored for %s.\n", describeModel(model))
		return nil
	}

	printRecords(out, records)
	color.New(color.FgGreen).Fprintf(out, "\nTotal records: %d\n", len(records))
	return nil
}

func describeModel(model string) string {
	if model == "" {
		return "any model"
	}
	return model
}

func printRecords(out io.Writer, records []database.EmbeddingRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("ID\tMODEL\tPROMPT\tDIMS\tTOKENS\tFEED_MS\tCREATED"))
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Model,
			preview(r.Prompt),
			len(r.Embedding),
			r.PromptTokens,
			r.FeedPromptMs,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= promptPreviewLen {
		return s
	}
	return string(r[:promptPreviewLen-3]) + "..."
}
