// Package cli exposes the index builder, the question-answering pipeline,
// the evaluation harness and the server as docrag subcommands.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"docrag/internal/index"
	"docrag/internal/pipeline"
	"docrag/internal/rewrite"
)

type Rebuilder interface {
	Rebuild(ctx context.Context) (index.Summary, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, topK int, history []rewrite.Turn) (pipeline.Answer, error)
}

// Services is what the one-shot commands run against.
type Services struct {
	Builder  Rebuilder
	Pipeline Answerer
	TopK     int
	Close    func() error
}

// Loader builds Services from configuration; it runs once per command.
type Loader func(ctx context.Context) (*Services, error)

// ServeFunc runs the long-lived server until ctx is cancelled.
type ServeFunc func(ctx context.Context) error

func NewRootCmd(load Loader, serve ServeFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "Question answering over local PDF and DOCX files",
		Long: `docrag indexes the PDF and DOCX files in RAW_DIR into a vector collection
and answers questions from them with numbered citations.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newBuildIndexCmd(load),
		newAskCmd(load),
		newEvalCmd(load),
		newServeCmd(serve),
	)
	return root
}

// withServices loads Services for the duration of fn.
func withServices(ctx context.Context, load Loader, fn func(*Services) error) error {
	if load == nil {
		return errors.New("services not configured")
	}
	svc, err := load(ctx)
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}
