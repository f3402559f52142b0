package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var (
	abLoad          loadFlags
	abRuntime       runtimeFlags
	abQuestions     []string
	abQuestionsFile string
	abConcurrency   int
	abFormat        string
	abSave          bool
)

var askBatchCmd = &cobra.Command{
	Use:   "ask-batch <file>",
	Short: "Answer several questions about one file concurrently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(abFormat); err != nil {
			return err
		}
		questions, err := collectQuestions(abQuestions, abQuestionsFile)
		if err != nil {
			return err
		}
		d, err := abLoad.load(args[0])
		if err != nil {
			return err
		}
		o, err := abRuntime.orchestrator()
		if err != nil {
			return err
		}
		concurrency := cfg.BatchConcurrency
		if abConcurrency > 0 {
			concurrency = abConcurrency
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		items, err := o.RunBatch(ctx, d, questions, concurrency)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		failed := 0
		for i, it := range items {
			fmt.Fprintf(w, "# [%d/%d] %s\n\n", i+1, len(items), it.Question)
			if it.Err != nil {
				failed++
				fmt.Fprintf(w, "✗ %v\n\n", it.Err)
				continue
			}
			if err := printOutcome(w, it.Outcome, abFormat, false, false); err != nil {
				return err
			}
			if abSave {
				if err := saveRun(ctx, w, it.Outcome, d, it.Question); err != nil {
					return err
				}
			}
			fmt.Fprintln(w)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d questions failed", failed, len(items))
		}
		return nil
	},
}

// collectQuestions merges -q flags with a file of one question per line.
// Blank lines and lines starting with # are skipped.
func collectQuestions(flags []string, path string) ([]string, error) {
	var out []string
	for _, q := range flags {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open questions file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read questions file: %w", err)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no questions: pass -q or --questions-file")
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(askBatchCmd)
	abLoad.register(askBatchCmd)
	abRuntime.register(askBatchCmd)
	askBatchCmd.Flags().StringArrayVarP(&abQuestions, "question", "q", nil, "question to answer (repeatable)")
	askBatchCmd.Flags().StringVar(&abQuestionsFile, "questions-file", "", "file with one question per line")
	askBatchCmd.Flags().IntVar(&abConcurrency, "concurrency", 0, "questions in flight (default: batch_concurrency from config)")
	askBatchCmd.Flags().StringVar(&abFormat, "format", "markdown", "output format: markdown | json")
	askBatchCmd.Flags().BoolVar(&abSave, "save", false, "store each successful run in the history")
}
