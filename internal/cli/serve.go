package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newServeCmd(serve ServeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MCP endpoint and optional rebuild worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serve == nil {
				return errors.New("server not configured")
			}
			return serve(cmd.Context())
		},
	}
}
