package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"docrag/internal/eval"
)

func newEvalCmd(load Loader) *cobra.Command {
	var (
		casesPath string
		minScore  float64
		topK      int
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score citation and refusal behaviour on a fixed question set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases := eval.DefaultCases
			if casesPath != "" {
				loaded, err := eval.LoadCases(casesPath)
				if err != nil {
					return err
				}
				cases = loaded
			}

			return withServices(cmd.Context(), load, func(svc *Services) error {
				report := eval.Run(cmd.Context(), svc.Pipeline, cases, topK)
				eval.Print(cmd.OutOrStdout(), report)

				if report.Score() < minScore {
					return fmt.Errorf("score %.2f below minimum %.2f", report.Score(), minScore)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&casesPath, "cases", "", "YAML file of {question, expected} cases")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "fail when the pass ratio is below this value")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 4, "chunks to retrieve per question")
	return cmd
}
