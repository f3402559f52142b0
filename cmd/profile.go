package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/suggest"
	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

var (
	profLoad       loadFlags
	profFormat     string
	profDictionary bool
	profSampleRows int
	profSuggest    bool
	profQuestions  int
	profRuntime    runtimeFlags
)

var profileCmd = &cobra.Command{
	Use:   "profile <file>",
	Short: "Print the inferred schema of a CSV/TSV/XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(profFormat); err != nil {
			return err
		}
		d, err := profLoad.load(args[0])
		if err != nil {
			return err
		}
		sample := cfg.ProfileSampleRows
		if profSampleRows > 0 {
			sample = profSampleRows
		}
		start := time.Now()
		s, err := profile.NewProfiler(profile.Options{SampleRows: sample, Logger: logger}).Profile(d)
		if err != nil {
			return err
		}
		logger.Debug("profiled", "took", time.Since(start))

		w := cmd.OutOrStdout()
		if profSuggest {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return suggestFor(ctx, w, s)
		}
		if profFormat == "json" {
			var v any = s
			if profDictionary {
				v = s.Dictionary()
			}
			b, err := utils.PrettyJSON(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			return nil
		}
		if profDictionary {
			renderDictionary(w, s)
			return nil
		}
		renderSchema(w, s)
		for _, n := range s.Notes() {
			fmt.Fprintf(w, "note: %s: %s\n", n.Column, n.Message)
		}
		return nil
	},
}

// suggestFor prints the model's data dictionary and starter questions.
// An unusable dictionary reply falls back to the profile-derived one.
func suggestFor(ctx context.Context, w io.Writer, s *profile.SchemaSummary) error {
	sg, err := profRuntime.suggester(profQuestions)
	if err != nil {
		return err
	}
	described, err := sg.Describe(ctx, s)
	switch {
	case errors.Is(err, suggest.ErrReply):
		logger.Warn("profile: keeping derived dictionary", "err", err)
		described = s
	case err != nil:
		return err
	}
	questions, err := sg.Questions(ctx, described)
	if err != nil {
		return err
	}
	if profFormat == "json" {
		b, err := utils.PrettyJSON(map[string]any{
			"dictionary": described.Dictionary(),
			"questions":  questions,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
		return nil
	}
	renderDictionary(w, described)
	fmt.Fprintln(w, "\nStarter questions:")
	for i, q := range questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, q)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profLoad.register(profileCmd)
	profileCmd.Flags().StringVar(&profFormat, "format", "markdown", "output format: markdown | json")
	profileCmd.Flags().BoolVar(&profDictionary, "dictionary", false, "print the data dictionary instead of the profile")
	profileCmd.Flags().IntVar(&profSampleRows, "sample-rows", 0, "rows used for type inference (default: profile_sample_rows from config)")
	profileCmd.Flags().BoolVar(&profSuggest, "suggest", false, "ask the model for column descriptions and starter questions")
	profileCmd.Flags().IntVar(&profQuestions, "questions", 5, "starter questions to print with --suggest")
	profRuntime.register(profileCmd)
}
