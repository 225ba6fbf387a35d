package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	created   *s3.CreateMultipartUploadInput
	uploaded  []*s3.UploadPartInput
	completed *s3.CompleteMultipartUploadInput
	aborted   *s3.AbortMultipartUploadInput
	abortErr  error
	location  *string
	partBody  []byte
}

func (f *fakeAPI) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.created = in
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeAPI) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.uploaded = append(f.uploaded, in)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.partBody = body
	return &s3.UploadPartOutput{ETag: aws.String(`"etag"`)}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = in
	return &s3.CompleteMultipartUploadOutput{Location: f.location}, nil
}

func (f *fakeAPI) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = in
	return &s3.AbortMultipartUploadOutput{}, f.abortErr
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(in.Key)}, nil
}

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &manager.UploadOutput{}, nil
}

func newTestS3(api *fakeAPI) (*S3, *fakePresigner, *fakeUploader) {
	p := &fakePresigner{}
	u := &fakeUploader{}
	s := newS3(api, p, u, S3Config{RecordingsBucket: "recs"}, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 10, 20, 30, 123e6, time.UTC) }
	return s, p, u
}

func TestRecordingKey(t *testing.T) {
	key := RecordingKey("m-1", time.Date(2026, 3, 4, 10, 20, 30, 123e6, time.UTC))
	assert.Equal(t, "recordings/m-1/2026-03-04T10-20-30-123Z.webm", key)

	id, err := MeetingIDFromKey(key)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
}

func TestMeetingIDFromKey_Rejects(t *testing.T) {
	for _, key := range []string{"", "other/m-1/x.webm", "recordings//x.webm", "recordings/m-1/x.mp4", "recordings/m-1/a/b.webm"} {
		_, err := MeetingIDFromKey(key)
		assert.Error(t, err, key)
	}
}

func TestS3_CreateMultipartUpload(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestS3(api)

	mu, err := s.CreateMultipartUpload(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", mu.UploadID)
	assert.Equal(t, "recordings/m-1/2026-03-04T10-20-30-123Z.webm", mu.Key)

	require.NotNil(t, api.created)
	assert.Equal(t, "recs", aws.ToString(api.created.Bucket))
	assert.Equal(t, ContentTypeWebM, aws.ToString(api.created.ContentType))
	assert.Equal(t, "m-1", api.created.Metadata["meetingId"])
	assert.NotEmpty(t, api.created.Metadata["uploadedAt"])
}

func TestS3_UploadPart(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestS3(api)

	part, err := s.UploadPart(context.Background(), "upload-1", "k", 7, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int32(7), part.PartNumber)
	assert.Equal(t, `"etag"`, part.ETag)
	assert.Equal(t, []byte("hello"), api.partBody)
	assert.Equal(t, int64(5), aws.ToInt64(api.uploaded[0].ContentLength))
}

func TestS3_CompleteSortsParts(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestS3(api)

	done, err := s.CompleteMultipartUpload(context.Background(), "upload-1", "k", []Part{
		{ETag: "c", PartNumber: 3}, {ETag: "a", PartNumber: 1}, {ETag: "b", PartNumber: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://recs/k", done.Location)

	parts := api.completed.MultipartUpload.Parts
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
	}
	assert.Equal(t, "a", aws.ToString(parts[0].ETag))
}

func TestS3_CompleteUsesStoreLocation(t *testing.T) {
	api := &fakeAPI{location: aws.String("https://recs.s3.amazonaws.com/k")}
	s, _, _ := newTestS3(api)

	done, err := s.CompleteMultipartUpload(context.Background(), "upload-1", "k", []Part{{ETag: "a", PartNumber: 1}})
	require.NoError(t, err)
	assert.Equal(t, "https://recs.s3.amazonaws.com/k", done.Location)
}

func TestS3_CompleteRequiresParts(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestS3(api)

	_, err := s.CompleteMultipartUpload(context.Background(), "upload-1", "k", nil)
	require.Error(t, err)
	assert.Nil(t, api.completed)
}

func TestS3_AbortIgnoresMissingUpload(t *testing.T) {
	api := &fakeAPI{abortErr: &types.NoSuchUpload{}}
	s, _, _ := newTestS3(api)

	require.NoError(t, s.AbortMultipartUpload(context.Background(), "upload-1", "k"))
	assert.Equal(t, "upload-1", aws.ToString(api.aborted.UploadId))

	api.abortErr = &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "gone"}
	require.NoError(t, s.AbortMultipartUpload(context.Background(), "upload-1", "k"))

	api.abortErr = errors.New("boom")
	assert.Error(t, s.AbortMultipartUpload(context.Background(), "upload-1", "k"))
}

func TestS3_PresignedDownloadURL(t *testing.T) {
	s, p, _ := newTestS3(&fakeAPI{})

	url, err := s.PresignedDownloadURL(context.Background(), "recordings/m-1/x.webm", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/recordings/m-1/x.webm", url)
	assert.Equal(t, time.Hour, p.expires)
}

func TestS3_UploadObject(t *testing.T) {
	s, _, u := newTestS3(&fakeAPI{})

	key, err := s.UploadObject(context.Background(), "m-1", stringsReader("payload"), 7)
	require.NoError(t, err)
	assert.Equal(t, "recordings/m-1/2026-03-04T10-20-30-123Z.webm", key)
	assert.Equal(t, []byte("payload"), u.body)
	assert.Equal(t, ContentTypeWebM, aws.ToString(u.input.ContentType))
}

func stringsReader(s string) io.Reader {
	return bytesReader([]byte(s))
}
