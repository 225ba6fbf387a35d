package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// ContentTypeWebM is the content type of every recording object.
const ContentTypeWebM = "video/webm"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region           string
	Endpoint         string
	UsePathStyle     bool
	AccessKeyID      string
	SecretAccessKey  string
	RecordingsBucket string
}

// multipartAPI is the subset of *s3.Client used for recordings.
type multipartAPI interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type objectUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// MultipartUpload identifies an open multipart upload.
type MultipartUpload struct {
	UploadID string
	Key      string
}

// Part is one acknowledged part of a multipart upload.
type Part struct {
	ETag       string `json:"etag"`
	PartNumber int32  `json:"partNumber"`
}

// CompletedUpload is the result of assembling a multipart upload.
type CompletedUpload struct {
	Location string
	Key      string
}

// S3 provides the multipart recording operations against an S3-compatible store.
type S3 struct {
	api      multipartAPI
	presign  presigner
	uploader objectUploader
	cfg      S3Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewS3 creates an S3 client using credentials from config or env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecordingsBucket == "" {
		return nil, errors.New("recordings bucket is required")
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(3),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.RecordingsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
	})
	return newS3(client, s3.NewPresignClient(client), uploader, cfg, logger), nil
}

func newS3(api multipartAPI, p presigner, u objectUploader, cfg S3Config, logger *zap.Logger) *S3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{api: api, presign: p, uploader: u, cfg: cfg, logger: logger, now: time.Now}
}

// Bucket returns the recordings bucket name.
func (s *S3) Bucket() string { return s.cfg.RecordingsBucket }

// CreateMultipartUpload opens a multipart upload for a new recording of meetingID.
func (s *S3) CreateMultipartUpload(ctx context.Context, meetingID string) (*MultipartUpload, error) {
	now := s.now()
	key := RecordingKey(meetingID, now)
	out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.cfg.RecordingsBucket),
		Key:         aws.String(key),
		ContentType: aws.String(ContentTypeWebM),
		Metadata: map[string]string{
			"meetingId":  meetingID,
			"uploadedAt": now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return nil, errors.New("create multipart upload: store returned no upload id")
	}
	return &MultipartUpload{UploadID: *out.UploadId, Key: key}, nil
}

// UploadPart transfers one numbered part and returns its receipt.
func (s *S3) UploadPart(ctx context.Context, uploadID, key string, partNumber int32, body []byte) (*Part, error) {
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.cfg.RecordingsBucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytesReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	if out.ETag == nil || *out.ETag == "" {
		return nil, fmt.Errorf("upload part %d: store returned no etag", partNumber)
	}
	return &Part{ETag: *out.ETag, PartNumber: partNumber}, nil
}

// CompleteMultipartUpload assembles the object from parts. The store rejects
// unordered part lists, so parts are submitted in ascending part number.
func (s *S3) CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []Part) (*CompletedUpload, error) {
	if len(parts) == 0 {
		return nil, errors.New("complete multipart upload: no parts")
	}
	sorted := SortParts(parts)
	completed := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}
	out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.RecordingsBucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}
	location := fmt.Sprintf("s3://%s/%s", s.cfg.RecordingsBucket, key)
	if out.Location != nil && *out.Location != "" {
		location = *out.Location
	}
	return &CompletedUpload{Location: location, Key: key}, nil
}

// AbortMultipartUpload discards an open multipart upload and its parts.
// An upload the store no longer knows about counts as aborted.
func (s *S3) AbortMultipartUpload(ctx context.Context, uploadID, key string) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.cfg.RecordingsBucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			s.logger.Debug("abort of unknown upload ignored", zap.String("key", key))
			return nil
		}
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}

// isNoSuchUpload also matches generic API errors, which is how some
// S3-compatible stores report the code.
func isNoSuchUpload(err error) bool {
	var missing *types.NoSuchUpload
	if errors.As(err, &missing) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload"
}

// PresignedDownloadURL returns a pre-signed GET URL for key valid for ttl.
func (s *S3) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.RecordingsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// UploadObject streams body to a new recording object for meetingID in one
// call; the manager splits it into parts as needed. Returns the object key.
func (s *S3) UploadObject(ctx context.Context, meetingID string, body io.Reader, size int64) (string, error) {
	key := RecordingKey(meetingID, s.now())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.RecordingsBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ContentTypeWebM),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return key, nil
}

// SortParts returns a copy of parts in ascending part number.
func SortParts(parts []Part) []Part {
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	return sorted
}
