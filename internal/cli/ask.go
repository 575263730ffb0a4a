package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/pipeline"
	"docrag/internal/rewrite"
)

type askOptions struct {
	topK        int
	sources     bool
	showRewrite bool
}

func newAskCmd(load Loader) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Long: `Answers a single question, or starts an interactive session when no
question is given. In a session earlier turns are used to resolve follow-up
questions; type "exit" or send EOF to leave.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), load, func(svc *Services) error {
				topK := opts.topK
				if topK <= 0 {
					topK = svc.TopK
				}
				if len(args) == 1 {
					ans, err := svc.Pipeline.Answer(cmd.Context(), args[0], topK, nil)
					if err != nil {
						return err
					}
					printAnswer(cmd.OutOrStdout(), ans, opts)
					return nil
				}
				return repl(cmd, svc.Pipeline, topK, opts)
			})
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "chunks to retrieve (default TOP_K)")
	cmd.Flags().BoolVar(&opts.sources, "sources", false, "print the retrieved sources")
	cmd.Flags().BoolVar(&opts.showRewrite, "show-rewrite", false, "print the query used for retrieval")
	return cmd
}

// repl keeps its own history and hands the pipeline a copy each turn. A
// failed turn is recorded as an assistant error and the session continues.
func repl(cmd *cobra.Command, p Answerer, topK int, opts *askOptions) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	var history []rewrite.Turn

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		snapshot := append([]rewrite.Turn(nil), history...)
		ans, err := p.Answer(cmd.Context(), question, topK, snapshot)

		history = append(history, rewrite.Turn{Role: rewrite.RoleUser, Content: question})
		if err != nil {
			msg := fmt.Sprintf("Error: %v", err)
			fmt.Fprintln(out, msg)
			history = append(history, rewrite.Turn{Role: rewrite.RoleAssistant, Content: msg})
			continue
		}

		printAnswer(out, ans, opts)
		history = append(history, rewrite.Turn{
			Role:           rewrite.RoleAssistant,
			Content:        ans.Answer,
			Sources:        ans.Sources,
			RewrittenQuery: ans.RewrittenQuery,
		})
	}
}

func printAnswer(w io.Writer, ans pipeline.Answer, opts *askOptions) {
	if opts.showRewrite {
		fmt.Fprintf(w, "Rewritten query: %s\n\n", ans.RewrittenQuery)
	}
	fmt.Fprintln(w, ans.Answer)

	if opts.sources && len(ans.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range ans.Sources {
			page := "n/a"
			if s.Page != nil {
				page = fmt.Sprint(*s.Page)
			}
			fmt.Fprintf(w, "  [%d] %s p=%s (distance %.4f)\n", s.Rank, s.SourceFile, page, s.Distance)
			fmt.Fprintf(w, "      %s\n", s.TextPreview)
		}
	}
	fmt.Fprintln(w)
}
