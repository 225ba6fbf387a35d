package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// OutboxConfig bounds the retry behavior and memory of an Outbox.
type OutboxConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StopMaxBackoff caps the wait between attempts once the recording stops.
	StopMaxBackoff time.Duration
	// EscalateAfter consecutive failures of one part raise an EventEscalated.
	EscalateAfter int
	// MaxPendingParts bounds the parts held in memory awaiting upload.
	MaxPendingParts int
	// StopAttempts is how many more attempts a part gets once the recording stops.
	StopAttempts int
	// BlockWhenFull makes Push wait for space instead of abandoning the upload.
	BlockWhenFull bool
}

// DefaultOutboxConfig returns the retry policy used by the recorder.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		StopMaxBackoff:  2 * time.Second,
		EscalateAfter:   5,
		MaxPendingParts: 8,
		StopAttempts:    5,
	}
}

type transferFunc func(ctx context.Context, p Part) (Receipt, error)

// Outbox holds parts awaiting acknowledgment and uploads them strictly in
// order from a single goroutine. A failed part is retried with the same
// number and bytes, with capped exponential backoff, before the next part is
// attempted. The upload is abandoned when the server refuses the caller, when
// too many parts are pending, or when a stopping drain runs out of attempts.
type Outbox struct {
	cfg        OutboxConfig
	transfer   transferFunc
	onUploaded func(Part, Receipt)
	notifier   Notifier
	logger     *zap.Logger

	mu        sync.Mutex
	queue     []Part
	started   bool
	closed    bool
	abandoned error

	wake     chan struct{}
	space    chan struct{}
	done     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewOutbox returns an outbox uploading through transfer. onUploaded runs on
// the drain goroutine after each acknowledged part.
func NewOutbox(cfg OutboxConfig, transfer transferFunc, onUploaded func(Part, Receipt), notifier Notifier, logger *zap.Logger) *Outbox {
	if notifier == nil {
		notifier = Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onUploaded == nil {
		onUploaded = func(Part, Receipt) {}
	}
	if cfg.StopAttempts <= 0 {
		cfg.StopAttempts = 1
	}
	return &Outbox{
		cfg:        cfg,
		transfer:   transfer,
		onUploaded: onUploaded,
		notifier:   notifier,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		space:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the drain goroutine. Cancelling ctx abandons the upload.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()
	go o.drain(ctx)
}

// Push queues p. It fails once the outbox was abandoned or closed. When the
// queue is full Push abandons the upload, or with BlockWhenFull waits until
// space frees up or ctx is done.
func (o *Outbox) Push(ctx context.Context, p Part) error {
	for {
		o.mu.Lock()
		if o.abandoned != nil {
			err := o.abandoned
			o.mu.Unlock()
			return err
		}
		if o.closed {
			o.mu.Unlock()
			return ErrOutboxClosed
		}
		if o.cfg.MaxPendingParts <= 0 || len(o.queue) < o.cfg.MaxPendingParts {
			o.queue = append(o.queue, p)
			o.mu.Unlock()
			signal(o.wake)
			return nil
		}
		pending := len(o.queue)
		o.mu.Unlock()

		if !o.cfg.BlockWhenFull {
			err := fmt.Errorf("%w: %d parts", ErrOutboxFull, pending)
			o.abandon(err)
			return err
		}
		select {
		case <-o.space:
		case <-ctx.Done():
			err := ctx.Err()
			o.abandon(err)
			return err
		}
	}
}

// BeginStop bounds the remaining retries of every part to StopAttempts and
// cuts short a backoff wait in progress.
func (o *Outbox) BeginStop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	signal(o.wake)
}

// Close rejects further pushes and lets the drain exit once the queue is empty.
// It implies BeginStop.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.BeginStop()
}

// Wait blocks until the drain goroutine exits and returns the reason the
// upload was abandoned, if it was. It returns at once when never started.
func (o *Outbox) Wait() error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		<-o.done
	}
	return o.Err()
}

// Err is the abandonment cause, or nil.
func (o *Outbox) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.abandoned
}

// Pending is the number of parts not yet acknowledged.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) drain(ctx context.Context) {
	defer close(o.done)
	for {
		p, ok := o.next(ctx)
		if !ok {
			return
		}
		r, err := o.send(ctx, p)
		if err != nil {
			o.abandon(err)
			return
		}
		o.onUploaded(p, r)

		o.mu.Lock()
		if len(o.queue) > 0 {
			o.queue[0] = Part{}
			o.queue = o.queue[1:]
		}
		o.mu.Unlock()
		signal(o.space)
	}
}

func (o *Outbox) next(ctx context.Context) (Part, bool) {
	for {
		o.mu.Lock()
		if o.abandoned != nil {
			o.mu.Unlock()
			return Part{}, false
		}
		if len(o.queue) > 0 {
			p := o.queue[0]
			o.mu.Unlock()
			return p, true
		}
		if o.closed {
			o.mu.Unlock()
			return Part{}, false
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-ctx.Done():
			o.abandon(ctx.Err())
			return Part{}, false
		}
	}
}

// errStopRequested ends a capture-time backoff wait when the recording stops.
var errStopRequested = errors.New("outbox: stop requested")

// partSend tracks the attempts at one part across retry policies.
type partSend struct {
	part     Part
	attempt  int
	notified int
	lastErr  error
}

// send uploads p until it is acknowledged or the upload must be abandoned.
// While capturing, retries follow the capture policy. Once stopping, a pending
// backoff wait is cut short and the part continues under the stop policy.
func (o *Outbox) send(ctx context.Context, p Part) (Receipt, error) {
	ps := &partSend{part: p}
	if !o.isStopping() {
		r, err := o.retry(ctx, ps, o.backOff(false), 0)
		if !errors.Is(err, errStopRequested) || ctx.Err() != nil {
			return r, err
		}
		if ps.attempt > ps.notified {
			o.notifyFailure(ps, 0)
		}
		o.logger.Debug("stop requested, continuing under stop policy", zap.Int32("part_number", p.Number), zap.Int("attempts", ps.attempt))
	}
	return o.retry(ctx, ps, o.backOff(true), o.cfg.StopAttempts)
}

func (o *Outbox) backOff(stopping bool) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.InitialBackoff
	bo.MaxInterval = o.cfg.MaxBackoff
	if stopping && o.cfg.StopMaxBackoff > 0 {
		bo.MaxInterval = min(bo.MaxInterval, o.cfg.StopMaxBackoff)
		bo.InitialInterval = min(bo.InitialInterval, o.cfg.StopMaxBackoff)
	}
	return bo
}

// retry transfers ps.part under bo. maxTries 0 means unbounded; the wait
// between tries then also ends with errStopRequested when the outbox stops.
func (o *Outbox) retry(ctx context.Context, ps *partSend, bo backoff.BackOff, maxTries int) (Receipt, error) {
	waitCtx := ctx
	if maxTries == 0 {
		wctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		go func() {
			select {
			case <-o.stopCh:
				cancel(errStopRequested)
			case <-wctx.Done():
			}
		}()
		waitCtx = wctx
	}

	p := ps.part
	tries := 0
	operation := func() (Receipt, error) {
		ps.attempt++
		tries++
		r, err := o.transfer(ctx, p)
		if err == nil {
			return r, nil
		}
		var te *TransferError
		if !errors.As(err, &te) {
			te = &TransferError{PartNumber: p.Number, Err: err}
			err = te
		}
		te.Attempt = ps.attempt
		ps.lastErr = err

		o.mu.Lock()
		abandoned := o.abandoned
		o.mu.Unlock()
		switch {
		case permanent(err), errors.Is(err, ErrInvalidState), errors.Is(err, ErrPartOutOfOrder):
			return r, backoff.Permanent(err)
		case abandoned != nil:
			return r, backoff.Permanent(err)
		case maxTries > 0 && tries >= maxTries:
			return r, backoff.Permanent(fmt.Errorf("giving up after %d attempts: %w", ps.attempt, err))
		}
		return r, err
	}

	r, err := backoff.Retry(waitCtx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) { o.notifyFailure(ps, next) }),
	)
	if err != nil {
		return Receipt{}, err
	}
	o.logger.Debug("part uploaded", zap.Int32("part_number", p.Number), zap.Int("bytes", len(p.Data)), zap.Int("attempts", ps.attempt))
	return r, nil
}

// notifyFailure warns about the latest failed attempt of ps, escalating once
// EscalateAfter attempts failed.
func (o *Outbox) notifyFailure(ps *partSend, next time.Duration) {
	ps.notified = ps.attempt
	o.notifier.Notify(Event{Kind: EventRetrying, PartNumber: ps.part.Number, Attempt: ps.attempt, RetryIn: next, Err: ps.lastErr})
	if o.cfg.EscalateAfter > 0 && ps.attempt == o.cfg.EscalateAfter {
		o.notifier.Notify(Event{Kind: EventEscalated, PartNumber: ps.part.Number, Attempt: ps.attempt, Err: ps.lastErr})
	}
}

func (o *Outbox) isStopping() bool {
	select {
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

func (o *Outbox) abandon(err error) {
	o.mu.Lock()
	if o.abandoned != nil {
		o.mu.Unlock()
		return
	}
	o.abandoned = err
	dropped := len(o.queue)
	o.queue = nil
	o.mu.Unlock()

	signal(o.wake)
	signal(o.space)
	o.logger.Warn("remote upload abandoned", zap.Int("dropped_parts", dropped), zap.Error(err))
	o.notifier.Notify(Event{Kind: EventAbandoned, Err: err})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
