package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/spf13/cobra"
)

func newLanguagesCmd(_ *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported language codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, code := range whisper.Languages() {
				fmt.Fprintf(w, "%s\t%s\n", code, whisper.LanguageName(code))
			}
			return w.Flush()
		},
	}
}
