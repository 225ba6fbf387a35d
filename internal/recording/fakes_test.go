package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type uploadedPart struct {
	number int32
	size   int
}

type fakeRemote struct {
	mu          sync.Mutex
	initErr     error
	partErrs    map[int32][]error
	completeErr error
	abortErr    error

	inits     int
	attempts  []uploadedPart
	accepted  map[int32][]byte
	completed *CompleteRequest
	aborts    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{partErrs: map[int32][]error{}, accepted: map[int32][]byte{}}
}

func (r *fakeRemote) failPart(n int32, errs ...error) {
	r.mu.Lock()
	r.partErrs[n] = append(r.partErrs[n], errs...)
	r.mu.Unlock()
}

func (r *fakeRemote) InitUpload(_ context.Context, meetingID string) (*InitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits++
	if r.initErr != nil {
		return nil, r.initErr
	}
	return &InitResult{UploadID: "upload-1", Key: "recordings/" + meetingID + "/t.webm", RecordingID: "rec-1"}, nil
}

func (r *fakeRemote) UploadPart(_ context.Context, uploadID, key string, partNumber int32, body []byte) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, uploadedPart{number: partNumber, size: len(body)})
	if errs := r.partErrs[partNumber]; len(errs) > 0 {
		r.partErrs[partNumber] = errs[1:]
		return nil, errs[0]
	}
	r.accepted[partNumber] = append([]byte(nil), body...)
	return &Receipt{ETag: fmt.Sprintf("etag-%d", partNumber), PartNumber: partNumber}, nil
}

func (r *fakeRemote) CompleteUpload(_ context.Context, req CompleteRequest) (*CompleteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = &req
	if r.completeErr != nil {
		return nil, r.completeErr
	}
	return &CompleteResult{Location: "s3://bucket/" + req.Key, DownloadURL: "https://signed.example/" + req.Key}, nil
}

func (r *fakeRemote) AbortUpload(context.Context, string, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	return r.abortErr
}

func (r *fakeRemote) attemptNumbers() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int32, 0, len(r.attempts))
	for _, a := range r.attempts {
		out = append(out, a.number)
	}
	return out
}

func (r *fakeRemote) assembled() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for i := int32(1); ; i++ {
		b, ok := r.accepted[i]
		if !ok {
			return buf.Bytes()
		}
		buf.Write(b)
	}
}

func (r *fakeRemote) abortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborts
}

type fakeCapturer struct {
	acquireErr error
	degraded   bool

	mu         sync.Mutex
	onFragment func([]byte)
	onEnded    func()
	stopped    bool
	released   int
}

func (f *fakeCapturer) Acquire(context.Context) error { return f.acquireErr }
func (f *fakeCapturer) Degraded() bool                { return f.degraded }

func (f *fakeCapturer) StartEmitting(_ time.Duration, onFragment func([]byte), onEnded func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFragment, f.onEnded = onFragment, onEnded
	return nil
}

func (f *fakeCapturer) StopEmitting() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeCapturer) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeCapturer) emit(b []byte) {
	f.mu.Lock()
	fn := f.onFragment
	f.mu.Unlock()
	fn(b)
}

func (f *fakeCapturer) end() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	go fn()
}

func (f *fakeCapturer) releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) percents() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, e := range l.events {
		if e.Kind == EventProgress {
			out = append(out, e.Percent)
		}
	}
	return out
}

var errNetwork = errors.New("connection refused")

func fragment(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}
