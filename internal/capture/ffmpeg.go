package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// stopGrace is how long ffmpeg gets to flush the container after an interrupt.
const stopGrace = 10 * time.Second

var (
	ErrNoDisplay    = errors.New("capture: no display to capture")
	ErrNoMicrophone = errors.New("capture: no microphone device configured")
)

// FFmpegProvider captures an X11 display, optional loopback audio and a
// PulseAudio microphone through an ffmpeg child process that muxes VP8/Opus
// WebM to its stdout.
type FFmpegProvider struct {
	Binary string
	logger *zap.Logger
}

// NewFFmpegProvider returns a provider running binary (default "ffmpeg").
func NewFFmpegProvider(binary string, logger *zap.Logger) *FFmpegProvider {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegProvider{Binary: binary, logger: logger}
}

type deviceTrack struct {
	kind  Kind
	label string
	args  []string

	mu      sync.Mutex
	stopped bool
}

func (t *deviceTrack) Kind() Kind    { return t.kind }
func (t *deviceTrack) Label() string { return t.label }

func (t *deviceTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// AcquireVideo resolves the display input. It fails when ffmpeg is missing
// or no display is reachable.
func (p *FFmpegProvider) AcquireVideo(_ context.Context, c VideoConstraints) (Track, error) {
	if _, err := exec.LookPath(p.Binary); err != nil {
		return nil, fmt.Errorf("find %s: %w", p.Binary, err)
	}
	display := c.Display
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		return nil, ErrNoDisplay
	}
	fps := c.FrameRate
	if fps <= 0 {
		fps = 30
	}
	args := []string{"-f", "x11grab", "-framerate", strconv.Itoa(fps)}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	args = append(args, "-i", display)
	if c.SystemAudio != "" {
		args = append(args, "-f", "pulse", "-i", c.SystemAudio)
	}
	return &deviceTrack{kind: KindVideo, label: "display " + display, args: args}, nil
}

// AcquireAudio resolves the microphone input.
func (p *FFmpegProvider) AcquireAudio(_ context.Context, c AudioConstraints) (Track, error) {
	if c.Device == "" {
		return nil, ErrNoMicrophone
	}
	args := []string{"-f", "pulse"}
	if c.SampleRate > 0 {
		args = append(args, "-sample_rate", strconv.Itoa(c.SampleRate))
	}
	if c.Channels > 0 {
		args = append(args, "-channels", strconv.Itoa(c.Channels))
	}
	args = append(args, "-i", c.Device)
	return &deviceTrack{kind: KindAudio, label: "microphone " + c.Device, args: args}, nil
}

// Args returns the ffmpeg argument list for tracks.
func (p *FFmpegProvider) Args(tracks []Track) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	inputs := 0
	audioInputs := []int{}
	for _, t := range tracks {
		dt, ok := t.(*deviceTrack)
		if !ok {
			continue
		}
		args = append(args, dt.args...)
		for i := 0; i < len(dt.args); i++ {
			if dt.args[i] != "-i" {
				continue
			}
			if dt.kind == KindAudio || inputs > 0 {
				audioInputs = append(audioInputs, inputs)
			}
			inputs++
		}
	}
	args = append(args, "-map", "0:v")
	switch len(audioInputs) {
	case 0:
	case 1:
		args = append(args, "-map", strconv.Itoa(audioInputs[0])+":a")
	default:
		filter := ""
		for _, i := range audioInputs {
			filter += "[" + strconv.Itoa(i) + ":a]"
		}
		filter += "amix=inputs=" + strconv.Itoa(len(audioInputs)) + "[aout]"
		args = append(args, "-filter_complex", filter, "-map", "[aout]")
	}
	args = append(args,
		"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "2M",
		"-c:a", "libopus", "-b:a", "128k",
		"-f", "webm", "-cluster_time_limit", "1000",
		"pipe:1",
	)
	return args
}

// Open starts ffmpeg over tracks.
func (p *FFmpegProvider) Open(_ context.Context, tracks []Track) (Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	// Not bound to a context; ending the capture is explicit.
	cmd := exec.Command(p.Binary, p.Args(tracks)...)
	cmd.Stdout = w
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	_ = w.Close()

	s := &processStream{cmd: cmd, out: r, exited: make(chan struct{}), logger: p.logger}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()
	p.logger.Info("ffmpeg capture started", zap.Int("pid", cmd.Process.Pid))
	return s, nil
}

type processStream struct {
	cmd     *exec.Cmd
	out     *os.File
	exited  chan struct{}
	waitErr error
	logger  *zap.Logger

	closeOnce sync.Once
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

// Close interrupts ffmpeg so it finalizes the container, and kills it if it
// has not exited within stopGrace. Output written before exit stays readable.
func (s *processStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		_ = s.cmd.Process.Signal(os.Interrupt)
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
		s.logger.Info("ffmpeg capture stopped", zap.NamedError("exit", s.waitErr))
	})
	return nil
}
