package cli

import (
	"github.com/spf13/cobra"
)

func newBuildIndexCmd(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "build-index",
		Short: "Rebuild the vector collection from RAW_DIR",
		Long: `Loads every PDF and DOCX file in RAW_DIR, splits them into overlapping
chunks, embeds them and replaces the collection. The previous collection is
kept if any step fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), load, func(svc *Services) error {
				summary, err := svc.Builder.Rebuild(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Println(summary.String())
				return nil
			})
		},
	}
}
