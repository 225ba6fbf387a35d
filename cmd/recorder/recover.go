package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRecoverCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "recover FILE",
		Short: "Upload a locally saved recording in one streaming request",
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
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}
			if info.Size() == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}

			start := time.Now()
			logger.Info("recovery upload started", zap.String("file", args[0]), zap.String("size", humanize.IBytes(uint64(info.Size()))))
			res, err := opts.client(logger).Recover(cmd.Context(), opts.meetingID, filepath.Base(args[0]), f)
			if err != nil {
				return fmt.Errorf("recover upload: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Uploaded %s in %s as %s\n", humanize.IBytes(uint64(info.Size())), time.Since(start).Round(time.Second), res.Key)
			if res.DownloadURL != "" {
				fmt.Fprintf(os.Stdout, "Download: %s\n", res.DownloadURL)
			}
			return nil
		},
	}
}
