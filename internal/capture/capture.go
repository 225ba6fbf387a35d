// Package capture acquires a local media stream and emits it as a sequence
// of binary fragments at a fixed cadence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the fragment emission cadence.
const DefaultInterval = time.Second

const (
	readSize = 32 * 1024
	// maxFragment bounds a single fragment when the source outpaces the interval.
	maxFragment = 4 * 1024 * 1024
)

var (
	ErrNotAcquired    = errors.New("capture: media not acquired")
	ErrNotRestartable = errors.New("capture: emission already started; create a new capture")
	ErrReleased       = errors.New("capture: released")
)

// Kind is the media kind of a track.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// VideoConstraints describe the requested display capture.
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
	// Display selects the display or screen to capture (backend specific).
	Display string
	// SystemAudio is the loopback device captured alongside the display; empty disables it.
	SystemAudio string
}

// AudioConstraints describe the requested microphone capture.
type AudioConstraints struct {
	SampleRate int
	Channels   int
	Device     string
}

// Track is one acquired media source. Stop releases the underlying device and is idempotent.
type Track interface {
	Kind() Kind
	Label() string
	Stop()
}

// Stream is the combined, encoded media. Read returns io.EOF once the source
// has ended, either on its own (the user revoked sharing) or after Close.
// Close asks the source to finish gracefully; buffered output stays readable.
type Stream interface {
	io.Reader
	Close() error
}

// Provider acquires tracks and combines them into one encoded stream.
type Provider interface {
	AcquireVideo(ctx context.Context, c VideoConstraints) (Track, error)
	AcquireAudio(ctx context.Context, c AudioConstraints) (Track, error)
	Open(ctx context.Context, tracks []Track) (Stream, error)
}

// Capture owns the tracks and the stream of a single recording attempt.
// It is not restartable: a new recording needs a new Capture.
type Capture struct {
	provider Provider
	video    VideoConstraints
	audio    AudioConstraints
	logger   *zap.Logger

	mu            sync.Mutex
	tracks        []Track
	stream        Stream
	degraded      bool
	started       bool
	released      bool
	stopRequested bool
	emitterDone   chan struct{}
}

// New creates a capture over provider.
func New(provider Provider, video VideoConstraints, audio AudioConstraints, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{provider: provider, video: video, audio: audio, logger: logger}
}

// Acquire requests the display and, separately, the microphone. A display
// failure is returned and leaves nothing acquired. A microphone failure only
// degrades the capture to display and system audio.
func (c *Capture) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.stream != nil {
		return nil
	}

	video, err := c.provider.AcquireVideo(ctx, c.video)
	if err != nil {
		return fmt.Errorf("acquire display: %w", err)
	}
	tracks := []Track{video}

	mic, err := c.provider.AcquireAudio(ctx, c.audio)
	if err != nil {
		c.degraded = true
		c.logger.Warn("microphone unavailable, recording without it", zap.Error(err))
	} else {
		tracks = append(tracks, mic)
	}

	stream, err := c.provider.Open(ctx, tracks)
	if err != nil {
		for _, t := range tracks {
			t.Stop()
		}
		c.degraded = false
		return fmt.Errorf("open capture stream: %w", err)
	}
	c.tracks = tracks
	c.stream = stream
	c.logger.Info("capture acquired", zap.Int("tracks", len(tracks)), zap.Bool("microphone", !c.degraded))
	return nil
}

// Degraded reports whether the microphone could not be acquired.
func (c *Capture) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// StartEmitting reads the stream and hands the bytes read since the previous
// emission to onFragment every interval. onFragment is never called
// concurrently. When the source ends without StopEmitting, onEnded runs in its
// own goroutine after the last fragment.
func (c *Capture) StartEmitting(interval time.Duration, onFragment func([]byte), onEnded func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ErrNotAcquired
	}
	if c.started {
		return ErrNotRestartable
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.started = true
	c.emitterDone = make(chan struct{})

	data := make(chan []byte, 16)
	go c.read(c.stream, data)
	go c.emit(interval, data, onFragment, onEnded)
	return nil
}

func (c *Capture) read(stream Stream, out chan<- []byte) {
	defer close(out)
	for {
		buf := make([]byte, readSize)
		n, err := stream.Read(buf)
		if n > 0 {
			out <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.stopping() {
				c.logger.Warn("capture stream read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Capture) emit(interval time.Duration, data <-chan []byte, onFragment func([]byte), onEnded func()) {
	defer close(c.emitterDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		frag := pending
		pending = nil
		onFragment(frag)
	}

	for {
		select {
		case b, ok := <-data:
			if !ok {
				flush()
				if !c.stopping() && onEnded != nil {
					c.logger.Info("capture source ended")
					go onEnded()
				}
				return
			}
			pending = append(pending, b...)
			if len(pending) >= maxFragment {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Capture) stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// StopEmitting ends the stream and returns after the final fragment, holding
// every byte read so far, has been delivered. It is safe to call more than once.
func (c *Capture) StopEmitting() {
	c.mu.Lock()
	stream, done := c.stream, c.emitterDone
	first := !c.stopRequested
	c.stopRequested = true
	c.mu.Unlock()

	if stream == nil || done == nil {
		return
	}
	if first {
		if err := stream.Close(); err != nil {
			c.logger.Debug("close capture stream", zap.Error(err))
		}
	}
	<-done
}

// Release stops every track. It is idempotent.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	for _, t := range c.tracks {
		t.Stop()
	}
	if c.stream != nil && !c.started {
		_ = c.stream.Close()
	}
	c.logger.Debug("capture released", zap.Int("tracks", len(c.tracks)))
}
