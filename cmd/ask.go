package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/history"
	"github.com/KaramelBytes/insightloom-cli/internal/pipeline"
)

var (
	askLoad      loadFlags
	askRuntime   runtimeFlags
	askFormat    string
	askShowPlan  bool
	askShowTable bool
	askSave      bool
)

var askCmd = &cobra.Command{
	Use:   "ask <file> <question>",
	Short: "Answer a business question about a CSV/TSV/XLSX file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(askFormat); err != nil {
			return err
		}
		d, err := askLoad.load(args[0])
		if err != nil {
			return err
		}
		o, err := askRuntime.orchestrator()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out, err := o.Run(ctx, d, args[1])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if err := printOutcome(w, out, askFormat, askShowPlan, askShowTable); err != nil {
			return err
		}
		if askSave {
			return saveRun(ctx, w, out, d, args[1])
		}
		return nil
	},
}

func checkFormat(f string) error {
	switch f {
	case "markdown", "json":
		return nil
	}
	return fmt.Errorf("unsupported --format: %s (use markdown or json)", f)
}

func printOutcome(w io.Writer, out *pipeline.Outcome, format string, showPlan, showTable bool) error {
	if showPlan {
		fmt.Fprintln(w, "Plan:", out.Plan.Source())
		fmt.Fprintln(w)
	}
	if showTable {
		renderResultTable(w, out.Table)
		fmt.Fprintln(w)
	}
	if format == "json" {
		b, err := out.Result.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
		return nil
	}
	fmt.Fprint(w, out.Result.Markdown())
	logger.Info("run", "took", out.Duration.Round(time.Millisecond), "completions", out.Completions)
	return nil
}

func saveRun(ctx context.Context, w io.Writer, out *pipeline.Outcome, d *dataset.Dataset, question string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	rec, err := history.NewRecord(out, d, question, time.Now())
	if err != nil {
		return err
	}
	if err := store.Save(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ Saved run %s\n", rec.ID)
	return nil
}

func init() {
	rootCmd.AddCommand(askCmd)
	askLoad.register(askCmd)
	askRuntime.register(askCmd)
	askCmd.Flags().StringVar(&askFormat, "format", "markdown", "output format: markdown | json")
	askCmd.Flags().BoolVar(&askShowPlan, "show-plan", false, "print the analysis plan before the answer")
	askCmd.Flags().BoolVar(&askShowTable, "show-table", false, "print the computed result table")
	askCmd.Flags().BoolVar(&askSave, "save", false, "store the run in the history")
}
