package inmemory

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjlee/actual-landg-pension/internal/jobs"
	"github.com/rjlee/actual-landg-pension/internal/logger"
)

func waitForJob(t *testing.T, store *Store, id string, status jobs.JobStatus) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_RunsJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Start(ctx, func(_ context.Context, job *jobs.Job) error {
		n := 3
		job.Applied = &n
		return nil
	}))
	defer q.Stop(context.Background())

	job := &jobs.Job{Type: jobs.JobTypeSync, Trigger: "test"}
	require.NoError(t, q.Publish(ctx, job))
	assert.NotEmpty(t, job.JobID)

	done := waitForJob(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.Applied)
	assert.Equal(t, 3, *done.Applied)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestQueue_FailureWithoutRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.Job) error {
		calls.Add(1)
		return errors.New("2FA code timeout")
	}))
	defer q.Stop(context.Background())

	job := &jobs.Job{Type: jobs.JobTypeLogin}
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForJob(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "2FA code timeout", failed.Error)
	assert.Equal(t, 0, failed.RetryCount)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_RetriesWhenAllowed(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))
	defer q.Stop(context.Background())

	job := &jobs.Job{Type: jobs.JobTypeSync, MaxRetries: 1}
	require.NoError(t, q.Publish(ctx, job))

	done := waitForJob(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)
}

func TestQueue_SingleWorkerSerializes(t *testing.T) {
	store := NewStore()
	q := NewQueue(8, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	var order []string
	require.NoError(t, q.Start(ctx, func(_ context.Context, job *jobs.Job) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, job.JobID)
		mu.Unlock()
		running.Add(-1)
		return nil
	}))
	defer q.Stop(context.Background())

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, q.Publish(ctx, &jobs.Job{JobID: id, Type: jobs.JobTypeSync}))
	}
	waitForJob(t, store, "c", jobs.JobStatusCompleted)

	assert.Equal(t, int32(1), maxRunning.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
}

// flakyStore refuses to persist jobs in the running state.
type flakyStore struct {
	*Store
}

func (s flakyStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.Status == jobs.JobStatusRunning {
		return errors.New("disk full")
	}
	return s.Store.SaveJob(ctx, job)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueue_SaveFailureDoesNotStopJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, flakyStore{store})
	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), logger.NewWithWriter(out)))
	defer cancel()

	var ran atomic.Bool
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.Job) error {
		ran.Store(true)
		return nil
	}))
	defer q.Stop(context.Background())

	job := &jobs.Job{Type: jobs.JobTypeSync}
	require.NoError(t, q.Publish(ctx, job))

	waitForJob(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.True(t, ran.Load())
	assert.Contains(t, out.String(), "Failed to save job state")
	assert.Contains(t, out.String(), "disk full")
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Stop(context.Background()))

	err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeSync})
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
	assert.ErrorIs(t, q.Start(context.Background(), nil), jobs.ErrQueueClosed)
	assert.NoError(t, q.Close(), "stopping twice is harmless")
}

func TestStore_GetMissing(t *testing.T) {
	_, err := NewStore().GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestStore_SaveRequiresID(t *testing.T) {
	assert.Error(t, NewStore().SaveJob(context.Background(), &jobs.Job{}))
}

func TestStore_ListNewestFirstWithFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJob(ctx, &jobs.Job{JobID: "1", Type: jobs.JobTypeSync, Status: jobs.JobStatusCompleted, CreatedAt: base}))
	require.NoError(t, s.SaveJob(ctx, &jobs.Job{JobID: "2", Type: jobs.JobTypeLogin, Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveJob(ctx, &jobs.Job{JobID: "3", Type: jobs.JobTypeSync, Status: jobs.JobStatusPending, CreatedAt: base.Add(2 * time.Minute)}))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].JobID)
	assert.Equal(t, "1", all[2].JobID)

	syncs, err := s.ListJobs(ctx, jobs.JobFilter{Type: jobs.JobTypeSync})
	require.NoError(t, err)
	assert.Len(t, syncs, 2)

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].JobID)

	empty, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_CopiesAreDetached(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	n := 1
	job := &jobs.Job{JobID: "1", Applied: &n}
	require.NoError(t, s.SaveJob(ctx, job))

	n = 5
	got, err := s.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, *got.Applied)
}
