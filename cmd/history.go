package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

var (
	histLimit int
	histJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List or show stored runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		runs, err := store.List(cmd.Context(), histLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stored runs")
			return nil
		}
		renderHistory(cmd.OutOrStdout(), runs)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored run with its plan and result table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		rec, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if histJSON {
			b, err := utils.PrettyJSON(rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			return nil
		}
		fmt.Fprintf(w, "Run %s on %s (%s)\n", rec.ID, rec.Dataset, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Question: %s\n", rec.Question)
		if rec.Paraphrase != "" {
			fmt.Fprintf(w, "Understood as: %s\n", rec.Paraphrase)
		}
		fmt.Fprintf(w, "Dataset fingerprint: %s\n", rec.Fingerprint)
		fmt.Fprintf(w, "Plan: %s\n", rec.PlanSource)
		fmt.Fprintf(w, "Took %dms with %d completion call(s)\n\n", rec.DurationMS, rec.Completions)
		if rec.Table != nil {
			renderResultTable(w, rec.Table)
			fmt.Fprintln(w)
		}
		if rec.Result != nil {
			fmt.Fprint(w, rec.Result.Markdown())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyListCmd.Flags().IntVar(&histLimit, "limit", 20, "runs to list (0 for all)")
	historyShowCmd.Flags().BoolVar(&histJSON, "json", false, "print the stored record as JSON")
}
