package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Controller.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateStopping
	StateUploaded
	StateLocalFallback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	case StateStopping:
		return "STOPPING"
	case StateUploaded:
		return "UPLOADED"
	case StateLocalFallback:
		return "LOCAL_FALLBACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capturer produces the media of one recording attempt. *capture.Capture
// implements it.
type Capturer interface {
	Acquire(ctx context.Context) error
	Degraded() bool
	StartEmitting(interval time.Duration, onFragment func([]byte), onEnded func()) error
	StopEmitting()
	Release()
}

// Result describes how a recording ended.
type Result struct {
	State       State
	MeetingID   string
	RecordingID string
	Key         string
	Location    string
	DownloadURL string
	// LocalPath is the saved copy after a fallback.
	LocalPath string
	// SpoolPath is set when the local save failed and the data was left in the spool.
	SpoolPath     string
	CapturedBytes int64
	UploadedBytes int64
	Parts         int
	Percent       int
	Duration      time.Duration
	Degraded      bool
	// Err is why the remote path was not taken, on a fallback.
	Err error
}

type attempt struct {
	ctx      context.Context
	cancel   context.CancelFunc
	session  *UploadSession
	buffer   *ChunkBuffer
	outbox   *Outbox
	spool    Spool
	progress *ProgressTracker
	capture  Capturer
	started  time.Time
	initErr  error
	degraded bool

	spoolMu  sync.Mutex
	spoolErr error

	stopOnce sync.Once
	done     chan struct{}
	result   Result
}

// Controller runs the capture, buffer, upload and finalize-or-fallback
// pipeline, one recording at a time.
type Controller struct {
	cfg        Config
	remote     Remote
	newCapture func() Capturer
	saver      LocalSaver
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	state State
	cur   *attempt
	last  *attempt
}

// NewController returns an idle controller. newCapture is called once per recording.
func NewController(cfg Config, remote Remote, newCapture func() Capturer, saver LocalSaver, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if saver == nil {
		saver = DirSaver{Dir: "."}
	}
	return &Controller{
		cfg:        cfg,
		remote:     remote,
		newCapture: newCapture,
		saver:      saver,
		notifier:   Nop(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetNotifier sets the receiver of user-facing events.
func (c *Controller) SetNotifier(n Notifier) {
	if n == nil {
		n = Nop()
	}
	c.notifier = n
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notifier.Notify(Event{Kind: EventState, State: s})
}

// Done is closed when the current (or last) recording reached a terminal
// state, including when the capture source ended on its own.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return c.cur.done
	}
	if c.last != nil {
		return c.last.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// LastResult returns the outcome of the most recent finished recording.
func (c *Controller) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return c.last.result, true
}

// Start begins a new recording. A failure to create the remote upload does
// not prevent recording; a failure to acquire media returns a
// *CaptureAcquisitionError and leaves the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateCapturing
	c.mu.Unlock()

	a, err := c.begin(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	// A source that ended during start may already have finished the attempt.
	finished := c.last == a
	if !finished {
		c.cur = a
	}
	c.mu.Unlock()
	if !finished {
		c.notifier.Notify(Event{Kind: EventState, State: StateCapturing})
	}
	return nil
}

func (c *Controller) begin(ctx context.Context) (*attempt, error) {
	// The attempt outlives the caller's context: stopping must still be able
	// to finalize after an interrupt cancelled it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	spool, err := c.newSpool()
	if err != nil {
		cancel()
		return nil, err
	}

	a := &attempt{
		ctx:      runCtx,
		cancel:   cancel,
		session:  NewUploadSession(c.remote, c.cfg.MeetingID, c.logger),
		spool:    spool,
		progress: &ProgressTracker{},
		started:  c.now(),
		done:     make(chan struct{}),
	}
	a.outbox = NewOutbox(c.cfg.Outbox, a.session.TransferPart, func(p Part, _ Receipt) {
		a.progress.AddUploaded(int64(len(p.Data)))
		c.notifier.Notify(Event{Kind: EventProgress, PartNumber: p.Number, Percent: a.progress.Percent()})
	}, c.notifier, c.logger)
	a.buffer = NewChunkBuffer(c.cfg.PartSize, func(p Part) { c.dispatch(a, p) })

	if err := a.session.Initialize(ctx); err != nil {
		a.initErr = err
		c.logger.Warn("upload session unavailable, recording locally", zap.String("meeting_id", c.cfg.MeetingID), zap.Error(err))
		c.notifier.Notify(Event{Kind: EventDegraded, Err: err})
	}

	a.capture = c.newCapture()
	if err := a.capture.Acquire(ctx); err != nil {
		c.discard(a)
		return nil, &CaptureAcquisitionError{Err: err}
	}
	if a.capture.Degraded() {
		a.degraded = true
		c.notifier.Notify(Event{Kind: EventDegraded, Err: errors.New("microphone unavailable: recording display and system audio only")})
	}

	if a.session.State() == SessionActive {
		a.outbox.Start(runCtx)
	}
	onEnded := func() {
		c.logger.Info("capture ended by source, stopping")
		c.finish(a)
	}
	if err := a.capture.StartEmitting(c.cfg.EmitInterval, func(b []byte) { c.onFragment(a, b) }, onEnded); err != nil {
		c.discard(a)
		return nil, &CaptureAcquisitionError{Err: err}
	}
	c.logger.Info("recording started", zap.String("meeting_id", c.cfg.MeetingID), zap.Bool("remote", a.session.State() == SessionActive))
	return a, nil
}

func (c *Controller) newSpool() (Spool, error) {
	if c.cfg.SpoolInMemory {
		return &MemorySpool{}, nil
	}
	return NewFileSpool(c.cfg.SpoolDir)
}

// discard undoes a start that acquired no media.
func (c *Controller) discard(a *attempt) {
	a.capture.Release()
	a.outbox.Close()
	_ = a.outbox.Wait()
	a.session.Abort(a.ctx)
	if err := a.spool.Remove(); err != nil {
		c.logger.Debug("remove spool", zap.Error(err))
	}
	a.cancel()
}

func (c *Controller) onFragment(a *attempt, b []byte) {
	if len(b) == 0 {
		return
	}
	if _, err := a.spool.Write(b); err != nil {
		a.spoolMu.Lock()
		if a.spoolErr == nil {
			a.spoolErr = err
			c.logger.Error("spool write failed; local copy will be incomplete", zap.Error(err))
		}
		a.spoolMu.Unlock()
	}
	a.progress.AddCaptured(int64(len(b)))
	if err := a.buffer.Append(b); err != nil {
		c.logger.Warn("fragment after stop dropped", zap.Int("bytes", len(b)), zap.Error(err))
	}
}

// dispatch hands a cut part to the outbox while the remote path is alive.
// Parts are always in the spool, so nothing is lost when it is not.
func (c *Controller) dispatch(a *attempt, p Part) {
	if a.session.State() != SessionActive || a.outbox.Err() != nil {
		return
	}
	if err := a.outbox.Push(a.ctx, p); err != nil {
		c.logger.Debug("part not queued", zap.Int32("part_number", p.Number), zap.Error(err))
	}
}

// Stop ends the current recording and returns its outcome once the recording
// was uploaded or saved locally. A concurrent stop triggered by the capture
// source ending yields the same result. ctx only bounds the wait.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	a := c.cur
	c.mu.Unlock()
	if a == nil {
		return Result{}, ErrNotCapturing
	}

	go c.finish(a)
	select {
	case <-a.done:
		return a.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Controller) finish(a *attempt) {
	a.stopOnce.Do(func() { c.stop(a) })
}

func (c *Controller) stop(a *attempt) {
	c.setState(StateStopping)
	ctx := a.ctx

	a.outbox.BeginStop()
	a.capture.StopEmitting()
	a.buffer.Freeze()
	a.buffer.Flush()
	a.outbox.Close()
	abandoned := a.outbox.Wait()

	res := Result{
		MeetingID:     c.cfg.MeetingID,
		RecordingID:   a.session.RecordingID(),
		Key:           a.session.Key(),
		CapturedBytes: a.buffer.Captured(),
		Duration:      c.now().Sub(a.started),
		Degraded:      a.degraded,
	}

	var cause error
	switch {
	case a.session.State() != SessionActive:
		cause = a.initErr
		if cause == nil {
			cause = fmt.Errorf("%w: upload session %s", ErrInvalidState, a.session.State())
		}
	case abandoned != nil:
		cause = abandoned
	case len(a.session.Parts()) == 0:
		cause = errors.New("nothing was uploaded")
	default:
		out, err := a.session.Finalize(ctx, FinalizeMeta{
			FileSizeBytes:   res.CapturedBytes,
			DurationSeconds: int(res.Duration / time.Second),
		})
		if err != nil {
			cause = err
		} else {
			a.progress.MarkComplete()
			res.State = StateUploaded
			res.Location = out.Location
			res.DownloadURL = out.DownloadURL
		}
	}

	if res.State == StateUploaded {
		if err := a.spool.Remove(); err != nil {
			c.logger.Debug("remove spool", zap.Error(err))
		}
		c.notifier.Notify(Event{Kind: EventUploaded, DownloadURL: res.DownloadURL, Percent: 100})
	} else {
		a.session.Abort(ctx)
		c.fallback(a, &res, cause)
	}

	a.capture.Release()
	a.cancel()

	res.UploadedBytes = a.session.UploadedBytes()
	res.Parts = len(a.session.Parts())
	res.Percent = a.progress.Percent()
	a.result = res

	c.setState(res.State)
	c.logger.Info("recording finished",
		zap.Stringer("state", res.State),
		zap.Int64("captured_bytes", res.CapturedBytes),
		zap.Int64("uploaded_bytes", res.UploadedBytes),
		zap.Int("parts", res.Parts),
	)

	c.mu.Lock()
	c.state = StateIdle
	c.last = a
	if c.cur == a {
		c.cur = nil
	}
	c.mu.Unlock()
	close(a.done)
}

// fallback saves the full capture locally. The spool is kept when the save fails.
func (c *Controller) fallback(a *attempt, res *Result, cause error) {
	res.State = StateLocalFallback
	res.Err = cause
	c.logger.Warn("remote upload unavailable, saving locally", zap.Error(cause))

	if a.spool.Size() == 0 {
		_ = a.spool.Remove()
		c.logger.Warn("nothing captured, no file saved")
		return
	}

	a.spoolMu.Lock()
	spoolErr := a.spoolErr
	a.spoolMu.Unlock()
	if spoolErr != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("local copy incomplete: %w", spoolErr))
	}

	rd, err := a.spool.Reader()
	if err == nil {
		res.LocalPath, err = c.saver.Save(a.ctx, FallbackFileName(c.cfg.MeetingID, a.started), rd)
		_ = rd.Close()
	}
	if err != nil {
		res.SpoolPath = a.spool.Path()
		res.Err = errors.Join(res.Err, fmt.Errorf("save locally: %w", err))
		c.logger.Error("local save failed, data kept in spool", zap.String("spool", res.SpoolPath), zap.Error(err))
		return
	}
	if err := a.spool.Remove(); err != nil {
		c.logger.Debug("remove spool", zap.Error(err))
	}
	c.notifier.Notify(Event{Kind: EventSavedLocally, Path: res.LocalPath, Err: cause})
}
