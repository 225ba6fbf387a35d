package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jagrut-bhole/podcast/internal/capture"
	"github.com/jagrut-bhole/podcast/internal/recording"
)

func newUploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload an existing WebM file through the chunked multipart pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			logger := opts.logger()
			defer logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			provider := capture.NewReaderProvider(f, filepath.Base(args[0]))
			newCapture := func() recording.Capturer {
				return capture.New(provider, capture.VideoConstraints{}, capture.AudioConstraints{}, logger)
			}
			// A file outpaces the network, so pushing waits for the outbox
			// instead of abandoning the upload.
			return runController(cmd.Context(), opts, newCapture, true, logger)
		},
	}
}
