package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fmueller/voxserve/internal/intake"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.prepare(); err != nil {
				return err
			}

			workDir, err := os.MkdirTemp("", "voxserve-cli-*")
			if err != nil {
				return fmt.Errorf("create work directory: %w", err)
			}
			defer os.RemoveAll(workDir)

			p, err := app.buildPipeline(workDir)
			if err != nil {
				return err
			}

			audioPath := filepath.Clean(args[0])
			f, err := os.Open(audioPath)
			if err != nil {
				return fmt.Errorf("open audio file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat audio file: %w", err)
			}

			stopSpinner := startSpinner(app.progressEnabled(), "Transcribing")
			res, err := p.service.Transcribe(cmd.Context(), intake.Upload{
				Filename: filepath.Base(audioPath),
				Size:     info.Size(),
				Content:  f,
			}, language)
			stopSpinner()
			if err != nil {
				return err
			}

			if res.Transcription == "" {
				app.log().Warn("no speech detected", zap.String("audio", audioPath))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "Language code (auto|en|fa|...) to force instead of detecting")
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	return cmd
}
