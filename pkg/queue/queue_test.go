package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, NewQueue(client, nil)
}

func TestQueue_EnqueueDequeueAbortUpload(t *testing.T) {
	_, q := setupTestQueue(t)
	ctx := context.Background()
	meetingID := uuid.New()

	require.NoError(t, q.EnqueueAbortUpload(ctx, AbortUploadPayload{UploadID: "u1", Key: "recordings/x/y.webm", MeetingID: meetingID}))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeAbortUpload, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var payload AbortUploadPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "u1", payload.UploadID)
	assert.Equal(t, meetingID, payload.MeetingID)
}

func TestQueue_RetryThenDLQ(t *testing.T) {
	s, q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{ID: "j1", Type: JobTypeAbortUpload, Payload: json.RawMessage(`{}`)}
	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, i, job.Attempt)
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, got)
	}

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := s.List(QueueDLQ)
	require.NoError(t, err)
	assert.Len(t, dlq, 1)
	assert.False(t, s.Exists(QueueCleanup))
}

func TestQueue_DequeueSkipsGarbage(t *testing.T) {
	s, q := setupTestQueue(t)
	_, err := s.RPush(QueueCleanup, "not-json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}
