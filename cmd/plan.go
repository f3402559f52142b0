package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	planLoad    loadFlags
	planRuntime runtimeFlags
	planJSON    bool
)

var planCmd = &cobra.Command{
	Use:   "plan <file> <question>",
	Short: "Show the analysis plan for a question without running it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := planLoad.load(args[0])
		if err != nil {
			return err
		}
		o, err := planRuntime.orchestrator()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out, err := o.DryRun(ctx, d, args[1])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if planJSON {
			b, err := out.Plan.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			return nil
		}
		if p := out.Intent.Paraphrase; p != "" {
			fmt.Fprintln(w, "Understood as:", p)
		}
		fmt.Fprintln(w, out.Plan.Source())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planLoad.register(planCmd)
	planRuntime.register(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
}
