package recording

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSession(t *testing.T, remote *fakeRemote) *UploadSession {
	t.Helper()
	s := NewUploadSession(remote, "m1", nil)
	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, SessionActive, s.State())
	return s
}

func TestSession_InitializeFailureAborts(t *testing.T) {
	remote := newFakeRemote()
	remote.initErr = &AuthorizationError{Status: 403, Err: errors.New("not a participant")}
	s := NewUploadSession(remote, "m1", nil)

	err := s.Initialize(context.Background())
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, SessionAborted, s.State())

	_, err = s.TransferPart(context.Background(), Part{Number: 1, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, remote.attemptNumbers())
}

func TestSession_InitializeTwiceRejected(t *testing.T) {
	s := activeSession(t, newFakeRemote())
	assert.ErrorIs(t, s.Initialize(context.Background()), ErrInvalidState)
}

func TestSession_RetryReusesPartNumber(t *testing.T) {
	remote := newFakeRemote()
	remote.failPart(1, errNetwork)
	s := activeSession(t, remote)
	ctx := context.Background()
	p := Part{Number: 1, Data: []byte("hello")}

	_, err := s.TransferPart(ctx, p)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int32(1), te.PartNumber)
	assert.Equal(t, int32(1), s.NextPartNumber())
	assert.Zero(t, s.UploadedBytes())

	r, err := s.TransferPart(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "etag-1", r.ETag)
	assert.Equal(t, int32(2), s.NextPartNumber())
	assert.Equal(t, int64(5), s.UploadedBytes())

	_, err = s.TransferPart(ctx, p)
	assert.ErrorIs(t, err, ErrPartOutOfOrder)
	_, err = s.TransferPart(ctx, Part{Number: 3})
	assert.ErrorIs(t, err, ErrPartOutOfOrder)
	assert.Equal(t, []int32{1, 1}, remote.attemptNumbers())
}

func TestSession_FinalizeSubmitsSortedParts(t *testing.T) {
	remote := newFakeRemote()
	s := activeSession(t, remote)
	ctx := context.Background()
	for i := int32(1); i <= 3; i++ {
		_, err := s.TransferPart(ctx, Part{Number: i, Data: []byte("abc")})
		require.NoError(t, err)
	}

	res, err := s.Finalize(ctx, FinalizeMeta{FileSizeBytes: 9, DurationSeconds: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DownloadURL)
	assert.Equal(t, SessionComplete, s.State())

	require.NotNil(t, remote.completed)
	assert.Equal(t, []Receipt{{"etag-1", 1}, {"etag-2", 2}, {"etag-3", 3}}, remote.completed.Parts)
	require.NotNil(t, remote.completed.FileSizeBytes)
	assert.Equal(t, int64(9), *remote.completed.FileSizeBytes)
	assert.Equal(t, 4, *remote.completed.DurationSeconds)

	s.Abort(ctx)
	assert.Equal(t, SessionComplete, s.State())
	assert.Zero(t, remote.abortCount())
}

func TestSession_FinalizeFailureThenAbort(t *testing.T) {
	remote := newFakeRemote()
	remote.completeErr = errors.New("status 500")
	remote.abortErr = errors.New("abort also failed")
	s := activeSession(t, remote)
	ctx := context.Background()
	_, err := s.TransferPart(ctx, Part{Number: 1, Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Finalize(ctx, FinalizeMeta{})
	var fe *FinalizationError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, SessionFinalizing, s.State())

	s.Abort(ctx)
	assert.Equal(t, SessionAborted, s.State())
	assert.Equal(t, 1, remote.abortCount())

	s.Abort(ctx)
	assert.Equal(t, 1, remote.abortCount())
}

func TestSession_FinalizeWithoutPartsRejected(t *testing.T) {
	s := activeSession(t, newFakeRemote())
	_, err := s.Finalize(context.Background(), FinalizeMeta{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, SessionActive, s.State())
}

func TestSortedReceipts(t *testing.T) {
	in := []Receipt{{"c", 3}, {"a", 1}, {"b", 2}}
	assert.Equal(t, []Receipt{{"a", 1}, {"b", 2}, {"c", 3}}, sortedReceipts(in))
	assert.Equal(t, int32(3), in[0].PartNumber)
}
