package cli

import (
	"fmt"

	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/download"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify the configured whisper model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.prepare(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if app.cfg.Engine == config.EngineOpenAI {
				fmt.Fprintf(out, "Engine openai uses the remote server at %s; nothing to download\n", app.cfg.WhisperAPIURL)
				return nil
			}

			store, err := app.modelStore()
			if err != nil {
				return err
			}

			mf, err := store.Resolve(app.cfg.ModelName)
			if err != nil {
				return err
			}
			if mf.IsCustom {
				return fmt.Errorf("setup expects a named model; got custom path %s", mf.Path)
			}

			if !mf.Missing {
				if err := download.VerifyFileChecksum(mf.Path, mf.SHA256); err != nil {
					app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", mf.Name), zap.Error(err))
					mf.Missing = true
				}
			}

			if !mf.Missing {
				app.log().Info("model already present", zap.String("model", mf.Name), zap.String("path", mf.Path))
				fmt.Fprintf(out, "Model %s already present at %s\n", mf.Name, mf.Path)
				return nil
			}

			if err := store.Download(cmd.Context(), mf); err != nil {
				return err
			}

			fmt.Fprintf(out, "Model %s installed at %s\n", mf.Name, mf.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	return cmd
}
