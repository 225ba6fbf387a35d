package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jagrut-bhole/podcast/config"
	"github.com/jagrut-bhole/podcast/internal/recording"
	"github.com/jagrut-bhole/podcast/internal/uploadclient"
)

type options struct {
	serverURL string
	token     string
	meetingID string
	outputDir string
	verbose   bool

	partSize       string
	emitInterval   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	escalateAfter  int
	maxPending     int
	stopAttempts   int
	spoolInMemory  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "recorder",
		Short:         "Record a meeting and upload it to the podcast server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.serverURL, "server", config.GetEnv("RECORDER_SERVER_URL", "http://localhost:8080"), "API server base URL")
	f.StringVar(&opts.token, "token", config.GetEnv("RECORDER_TOKEN", ""), "session token (bearer)")
	f.StringVar(&opts.meetingID, "meeting", config.GetEnv("RECORDER_MEETING_ID", ""), "meeting ID")
	f.StringVar(&opts.outputDir, "output-dir", config.GetEnv("RECORDER_OUTPUT_DIR", "."), "directory for locally saved recordings")
	f.BoolVarP(&opts.verbose, "verbose", "v", config.GetEnvBool("RECORDER_VERBOSE", false), "debug logging")

	def := recording.DefaultOutboxConfig()
	f.StringVar(&opts.partSize, "part-size", config.GetEnv("RECORDER_PART_SIZE", "10MiB"), "upload part size")
	f.DurationVar(&opts.emitInterval, "interval", time.Second, "capture fragment interval")
	f.DurationVar(&opts.initialBackoff, "retry-initial", def.InitialBackoff, "first retry delay of a failed part")
	f.DurationVar(&opts.maxBackoff, "retry-max", def.MaxBackoff, "retry delay cap")
	f.IntVar(&opts.escalateAfter, "escalate-after", def.EscalateAfter, "failed attempts of one part before a louder warning")
	f.IntVar(&opts.maxPending, "max-pending-parts", def.MaxPendingParts, "parts held in memory before the upload is abandoned")
	f.IntVar(&opts.stopAttempts, "stop-attempts", def.StopAttempts, "attempts per part after stopping before saving locally")
	f.BoolVar(&opts.spoolInMemory, "spool-in-memory", false, "keep the local safety copy in memory instead of a temp file")

	root.AddCommand(newRecordCmd(opts), newUploadCmd(opts), newRecoverCmd(opts))
	return root
}

func (o *options) validate() error {
	if o.meetingID == "" {
		return fmt.Errorf("--meeting is required")
	}
	if o.token == "" {
		return fmt.Errorf("--token is required")
	}
	return nil
}

func (o *options) controllerConfig() (recording.Config, error) {
	size, err := humanize.ParseBytes(o.partSize)
	if err != nil {
		return recording.Config{}, fmt.Errorf("invalid --part-size: %w", err)
	}
	if size < 5*humanize.MiByte {
		return recording.Config{}, fmt.Errorf("--part-size must be at least 5MiB, got %s", humanize.IBytes(size))
	}
	cfg := recording.DefaultConfig(o.meetingID)
	cfg.PartSize = int(size)
	cfg.EmitInterval = o.emitInterval
	cfg.SpoolInMemory = o.spoolInMemory
	cfg.Outbox.InitialBackoff = o.initialBackoff
	cfg.Outbox.MaxBackoff = o.maxBackoff
	cfg.Outbox.EscalateAfter = o.escalateAfter
	cfg.Outbox.MaxPendingParts = o.maxPending
	cfg.Outbox.StopAttempts = o.stopAttempts
	return cfg, nil
}

func (o *options) client(logger *zap.Logger) *uploadclient.Client {
	return uploadclient.New(o.serverURL, o.token, logger)
}

func (o *options) logger() *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if o.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// consoleNotifier prints user-facing events and forwards them to the log.
type consoleNotifier struct {
	out io.Writer
	log recording.Notifier

	mu   sync.Mutex
	last int
}

func newConsoleNotifier(logger *zap.Logger) *consoleNotifier {
	return &consoleNotifier{out: os.Stderr, log: recording.NewLogNotifier(logger), last: -1}
}

func (n *consoleNotifier) Notify(e recording.Event) {
	n.log.Notify(e)
	n.mu.Lock()
	defer n.mu.Unlock()
	switch e.Kind {
	case recording.EventRetrying:
		fmt.Fprintf(n.out, "warning: upload of part %d failed, retrying in %s\n", e.PartNumber, e.RetryIn.Round(time.Millisecond))
	case recording.EventEscalated:
		fmt.Fprintf(n.out, "warning: part %d failed %d times; the recording continues and is kept locally\n", e.PartNumber, e.Attempt)
	case recording.EventAbandoned:
		fmt.Fprintln(n.out, "warning: remote upload stopped; the recording will be saved locally")
	case recording.EventDegraded:
		fmt.Fprintf(n.out, "notice: %v\n", e.Err)
	case recording.EventProgress:
		if e.Percent != n.last {
			n.last = e.Percent
			fmt.Fprintf(n.out, "uploaded %d%%\n", e.Percent)
		}
	}
}

func printResult(w io.Writer, res recording.Result) {
	switch res.State {
	case recording.StateUploaded:
		fmt.Fprintf(w, "Recording uploaded (%s in %d parts, %s)\n",
			humanize.IBytes(uint64(res.UploadedBytes)), res.Parts, res.Duration.Round(time.Second))
		if res.DownloadURL != "" {
			fmt.Fprintf(w, "Download: %s\n", res.DownloadURL)
		}
	case recording.StateLocalFallback:
		switch {
		case res.LocalPath != "":
			fmt.Fprintf(w, "Remote upload failed; recording saved locally to %s (%s)\n", res.LocalPath, humanize.IBytes(uint64(res.CapturedBytes)))
			fmt.Fprintln(w, "Run `recorder recover` with that file to upload it later.")
		case res.SpoolPath != "":
			fmt.Fprintf(w, "Remote upload and local save failed; data kept at %s\n", res.SpoolPath)
		default:
			fmt.Fprintln(w, "Nothing was captured.")
		}
		if res.Err != nil {
			fmt.Fprintf(w, "Reason: %v\n", res.Err)
		}
	}
}
