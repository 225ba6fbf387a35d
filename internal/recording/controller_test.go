package recording

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type controllerFixture struct {
	remote  *fakeRemote
	capture *fakeCapturer
	events  *eventLog
	dir     string
	ctrl    *Controller
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		remote:  newFakeRemote(),
		capture: &fakeCapturer{},
		events:  &eventLog{},
		dir:     t.TempDir(),
	}
	cfg := DefaultConfig("m1")
	cfg.PartSize = 10 * mib
	cfg.Outbox = fastOutbox()
	cfg.SpoolDir = t.TempDir()
	f.ctrl = NewController(cfg, f.remote, func() Capturer { return f.capture }, DirSaver{Dir: f.dir}, nil)
	f.ctrl.SetNotifier(f.events)
	return f
}

func (f *controllerFixture) emitAll(frags ...[]byte) []byte {
	var all []byte
	for _, b := range frags {
		f.capture.emit(b)
		all = append(all, b...)
	}
	return all
}

func TestController_UploadsAndFinalizes(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	assert.Equal(t, StateCapturing, f.ctrl.State())
	captured := f.emitAll(fragment(4*mib, 1), fragment(4*mib, 2), fragment(4*mib, 3))

	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateUploaded, res.State)
	assert.Equal(t, []int32{1, 2}, f.remote.attemptNumbers())
	require.NotNil(t, f.remote.completed)
	assert.Equal(t, []Receipt{{"etag-1", 1}, {"etag-2", 2}}, f.remote.completed.Parts)
	assert.Equal(t, int64(12*mib), *f.remote.completed.FileSizeBytes)
	assert.NotEmpty(t, res.DownloadURL)
	assert.Equal(t, 100, res.Percent)
	assert.Equal(t, res.CapturedBytes, res.UploadedBytes)
	assert.True(t, bytes.Equal(captured, f.remote.assembled()))
	assert.Equal(t, 2, res.Parts)

	for _, pct := range f.events.percents() {
		assert.LessOrEqual(t, pct, 95)
	}
	assert.Equal(t, 1, f.events.count(EventUploaded))
	assert.Equal(t, 1, f.capture.releases())
	assert.Equal(t, StateIdle, f.ctrl.State())
	assertNoFiles(t, f.dir)
}

func TestController_InitFailureSavesLocally(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	f.remote.initErr = errNetwork
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	captured := f.emitAll(fragment(4*mib, 'a'), fragment(4*mib, 'b'), fragment(4*mib, 'c'))

	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateLocalFallback, res.State)
	assert.Empty(t, f.remote.attemptNumbers())
	var initErr *InitializationError
	assert.ErrorAs(t, res.Err, &initErr)

	saved, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(captured, saved))
	assert.Equal(t, filepath.Dir(res.LocalPath), f.dir)
	assert.Equal(t, 1, f.events.count(EventSavedLocally))
	assert.Equal(t, 1, f.capture.releases())
	assert.Less(t, res.Percent, 100)
}

func TestController_FinalizeFailureAbortsAndSavesLocally(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	f.remote.completeErr = errors.New("status 500")
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	captured := f.emitAll(fragment(6*mib, 1), fragment(6*mib, 2))

	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateLocalFallback, res.State)
	var fe *FinalizationError
	assert.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, 1, f.remote.abortCount())

	saved, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(captured, saved))
	assert.NotEqual(t, 100, res.Percent)
}

func TestController_RejectedPartFallsBack(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	f.remote.failPart(1, &AuthorizationError{Status: 403, Err: errors.New("removed from meeting")})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	captured := f.emitAll(fragment(11*mib, 7), fragment(mib, 8))

	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateLocalFallback, res.State)
	assert.Equal(t, []int32{1}, f.remote.attemptNumbers())
	assert.Nil(t, f.remote.completed)
	assert.Equal(t, 1, f.remote.abortCount())
	assert.Equal(t, 1, f.events.count(EventAbandoned))

	saved, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(captured, saved))
}

func TestController_TransientFailureRetriesSamePart(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	f.remote.failPart(1, errNetwork)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	f.emitAll(fragment(10*mib, 1), fragment(mib, 2))

	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateUploaded, res.State)
	assert.Equal(t, []int32{1, 1, 2}, f.remote.attemptNumbers())
	assert.Equal(t, 1, f.events.count(EventRetrying))
}

func TestController_SourceEndStopsRecording(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)

	require.NoError(t, f.ctrl.Start(context.Background()))
	f.emitAll([]byte("short clip"))
	f.capture.end()

	select {
	case <-f.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recording did not stop after the source ended")
	}
	res, ok := f.ctrl.LastResult()
	require.True(t, ok)
	assert.Equal(t, StateUploaded, res.State)
	assert.Equal(t, 1, f.capture.releases())

	_, err := f.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestController_AcquireFailureLeavesIdle(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	f.capture.acquireErr = errors.New("permission denied")

	err := f.ctrl.Start(context.Background())
	var ce *CaptureAcquisitionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Equal(t, 1, f.remote.abortCount())
	assert.Equal(t, 1, f.capture.releases())

	_, err = f.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestController_EmptyCaptureWritesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)

	require.NoError(t, f.ctrl.Start(context.Background()))
	res, err := f.ctrl.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateLocalFallback, res.State)
	assert.Empty(t, res.LocalPath)
	assert.Empty(t, f.remote.attemptNumbers())
	assert.Equal(t, 1, f.remote.abortCount())
	assertNoFiles(t, f.dir)
}

func TestController_OneRecordingAtATime(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Start(ctx))
	assert.ErrorIs(t, f.ctrl.Start(ctx), ErrBusy)
	f.emitAll([]byte("first"))
	_, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)

	f.capture = &fakeCapturer{}
	require.NoError(t, f.ctrl.Start(ctx))
	f.emitAll([]byte("second"))
	res, err := f.ctrl.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("second")), res.CapturedBytes)
	assert.Equal(t, 2, f.remote.inits)
}

func TestController_StopNotBlockedByCallerContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newControllerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.ctrl.Start(ctx))
	f.emitAll([]byte("interrupted"))
	cancel()

	res, err := f.ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, res.State)
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
