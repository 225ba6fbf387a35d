package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/config"
	"github.com/jagrut-bhole/podcast/internal/capture"
	"github.com/jagrut-bhole/podcast/internal/recording"
)

type captureOptions struct {
	ffmpeg      string
	display     string
	width       int
	height      int
	fps         int
	systemAudio string
	mic         string
	sampleRate  int
	channels    int
}

func newRecordCmd(opts *options) *cobra.Command {
	co := &captureOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen, system audio and microphone until interrupted",
		Long: `Record the screen, system audio and microphone and stream the recording to the
server while it is captured. Stop with Ctrl-C; the recording also stops when the
capture source goes away. If the upload cannot be completed the recording is saved
to --output-dir.

Example:
  recorder record --meeting 7b0c... --token $TOKEN --mic default`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			logger := opts.logger()
			defer logger.Sync()

			provider := capture.NewFFmpegProvider(co.ffmpeg, logger)
			video := capture.VideoConstraints{Width: co.width, Height: co.height, FrameRate: co.fps, Display: co.display, SystemAudio: co.systemAudio}
			audio := capture.AudioConstraints{SampleRate: co.sampleRate, Channels: co.channels, Device: co.mic}
			newCapture := func() recording.Capturer {
				return capture.New(provider, video, audio, logger)
			}
			return runController(cmd.Context(), opts, newCapture, false, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&co.ffmpeg, "ffmpeg", config.GetEnv("RECORDER_FFMPEG", "ffmpeg"), "ffmpeg binary")
	f.StringVar(&co.display, "display", config.GetEnv("DISPLAY", ""), "X11 display to capture")
	f.IntVar(&co.width, "width", 1920, "capture width")
	f.IntVar(&co.height, "height", 1080, "capture height")
	f.IntVar(&co.fps, "fps", 30, "capture frame rate")
	f.StringVar(&co.systemAudio, "system-audio", config.GetEnv("RECORDER_SYSTEM_AUDIO", ""), "PulseAudio monitor source for system audio")
	f.StringVar(&co.mic, "mic", config.GetEnv("RECORDER_MIC", "default"), "PulseAudio microphone source (empty to record without it)")
	f.IntVar(&co.sampleRate, "sample-rate", 48000, "microphone sample rate")
	f.IntVar(&co.channels, "channels", 2, "microphone channels")
	return cmd
}

// runController records until interrupted or until the source ends, then
// prints how the recording was delivered.
func runController(parent context.Context, opts *options, newCapture func() recording.Capturer, blockWhenFull bool, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := opts.controllerConfig()
	if err != nil {
		return err
	}
	cfg.Outbox.BlockWhenFull = blockWhenFull

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := recording.NewController(cfg, opts.client(logger), newCapture, recording.DirSaver{Dir: opts.outputDir}, logger)
	ctrl.SetNotifier(newConsoleNotifier(logger))

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Recording. Press Ctrl-C to stop.")

	var res recording.Result
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Stopping...")
		res, err = ctrl.Stop(context.Background())
		if errors.Is(err, recording.ErrNotCapturing) {
			// the source ended on its own first
			<-ctrl.Done()
			res, _ = ctrl.LastResult()
		} else if err != nil {
			return err
		}
	case <-ctrl.Done():
		res, _ = ctrl.LastResult()
	}

	printResult(os.Stdout, res)
	if res.State == recording.StateLocalFallback && res.LocalPath == "" && res.SpoolPath != "" {
		return fmt.Errorf("recording could not be saved: %w", res.Err)
	}
	return nil
}
