package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSnapshots struct {
	jobs    map[string]*domain.Job
	deleted []string
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{jobs: make(map[string]*domain.Job)}
}

func (f *fakeSnapshots) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeSnapshots) Put(ctx context.Context, job *domain.Job) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeSnapshots) Delete(ctx context.Context, jobID string) error {
	delete(f.jobs, jobID)
	f.deleted = append(f.deleted, jobID)
	return nil
}

type fakeQueue struct {
	enqueued   map[domain.Stage][]string
	heartbeats []string
	removed    []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{enqueued: make(map[domain.Stage][]string)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string, stage domain.Stage) error {
	f.enqueued[stage] = append(f.enqueued[stage], jobID)
	return nil
}

func (f *fakeQueue) Heartbeat(ctx context.Context, jobID string) error {
	f.heartbeats = append(f.heartbeats, jobID)
	return nil
}

func (f *fakeQueue) RemoveEverywhere(ctx context.Context, jobID string) error {
	f.removed = append(f.removed, jobID)
	return nil
}

type fakeStore struct {
	jobs    map[string]*domain.Job
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

func (f *fakeStore) Save(ctx context.Context, job *domain.Job) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeStore) FindByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeStore) Delete(ctx context.Context, jobID string) error {
	if _, ok := f.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(f.jobs, jobID)
	f.deleted = append(f.deleted, jobID)
	return nil
}

type fakeChunks struct {
	appended map[string][][]byte
	written  map[string][]byte
	removed  []string
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{
		appended: make(map[string][][]byte),
		written:  make(map[string][]byte),
	}
}

func (f *fakeChunks) RawRef(jobID string) string { return "/audio/" + jobID + ".raw" }

func (f *fakeChunks) Append(jobID string, data []byte) error {
	f.appended[jobID] = append(f.appended[jobID], data)
	return nil
}

func (f *fakeChunks) WriteAll(jobID string, data []byte) error {
	f.written[jobID] = data
	return nil
}

func (f *fakeChunks) Remove(jobID string) {
	f.removed = append(f.removed, jobID)
}

type fakePipeline struct {
	finished []string
	started  []string
	finErr   error
	startErr error
}

func (f *fakePipeline) FinishRecording(ctx context.Context, job *domain.Job) error {
	if f.finErr != nil {
		return f.finErr
	}
	f.finished = append(f.finished, job.ID)
	return job.Transition(domain.StatusEncoding)
}

func (f *fakePipeline) StartTranscription(ctx context.Context, job *domain.Job) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, job.ID)
	return nil
}

type fixture struct {
	snapshots *fakeSnapshots
	queue     *fakeQueue
	store     *fakeStore
	chunks    *fakeChunks
	pipeline  *fakePipeline
	service   *Service
}

func newFixture() *fixture {
	f := &fixture{
		snapshots: newFakeSnapshots(),
		queue:     newFakeQueue(),
		store:     newFakeStore(),
		chunks:    newFakeChunks(),
		pipeline:  &fakePipeline{},
	}
	f.service = NewService(f.snapshots, f.queue, f.store, f.chunks, f.pipeline, testLogger())
	return f
}

func TestService_StartRecording(t *testing.T) {
	f := newFixture()

	jobID, err := f.service.StartRecording(context.Background(), "meeting-1")

	require.NoError(t, err)
	require.NoError(t, uuid.Validate(jobID))

	// Durable record and snapshot both exist from the start
	stored, ok := f.store.jobs[jobID]
	require.True(t, ok)
	assert.Equal(t, domain.StatusRecording, stored.Status)
	assert.Equal(t, "meeting-1", stored.MeetingID)
	assert.Equal(t, "/audio/"+jobID+".raw", stored.AudioFileRef)

	cached, ok := f.snapshots.jobs[jobID]
	require.True(t, ok)
	assert.Equal(t, domain.StatusRecording, cached.Status)

	assert.Equal(t, []string{jobID}, f.queue.enqueued[domain.StageRecording])
}

func TestService_AppendChunk(t *testing.T) {
	ctx := context.Background()

	t.Run("chunks accumulate with heartbeats", func(t *testing.T) {
		f := newFixture()
		jobID, err := f.service.StartRecording(ctx, "meeting-1")
		require.NoError(t, err)

		require.NoError(t, f.service.AppendChunk(ctx, jobID, []byte("one"), false))
		require.NoError(t, f.service.AppendChunk(ctx, jobID, []byte("two"), false))
		require.NoError(t, f.service.AppendChunk(ctx, jobID, []byte("three"), false))

		assert.Len(t, f.chunks.appended[jobID], 3)
		assert.Len(t, f.queue.heartbeats, 3)
		assert.Equal(t, 3, f.snapshots.jobs[jobID].ChunkCount)
		assert.Empty(t, f.pipeline.finished)
	})

	t.Run("final chunk finishes the recording", func(t *testing.T) {
		f := newFixture()
		jobID, err := f.service.StartRecording(ctx, "meeting-1")
		require.NoError(t, err)

		require.NoError(t, f.service.AppendChunk(ctx, jobID, []byte("last"), true))

		assert.Equal(t, []string{jobID}, f.pipeline.finished)
	})

	t.Run("empty final chunk still finishes", func(t *testing.T) {
		f := newFixture()
		jobID, err := f.service.StartRecording(ctx, "meeting-1")
		require.NoError(t, err)

		require.NoError(t, f.service.AppendChunk(ctx, jobID, nil, true))

		assert.Equal(t, []string{jobID}, f.pipeline.finished)
		assert.Zero(t, f.snapshots.jobs[jobID].ChunkCount)
	})

	t.Run("rejects chunks for a job past recording", func(t *testing.T) {
		f := newFixture()
		jobID, err := f.service.StartRecording(ctx, "meeting-1")
		require.NoError(t, err)
		f.snapshots.jobs[jobID].Status = domain.StatusEncoding

		err = f.service.AppendChunk(ctx, jobID, []byte("late"), false)

		var stateErr *domain.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, domain.StatusEncoding, stateErr.From)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture()

		err := f.service.AppendChunk(ctx, uuid.New().String(), []byte("x"), false)

		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestService_UploadAndTranscribe(t *testing.T) {
	f := newFixture()

	jobID, err := f.service.UploadAndTranscribe(context.Background(), "meeting-1", []byte("whole audio file"))

	require.NoError(t, err)
	assert.Equal(t, []byte("whole audio file"), f.chunks.written[jobID])

	stored := f.store.jobs[jobID]
	require.NotNil(t, stored)
	assert.True(t, stored.AutoStart)
	assert.Equal(t, 1, stored.ChunkCount)

	// The recording phase is skipped by finishing it immediately
	assert.Equal(t, []string{jobID}, f.pipeline.finished)
}

func TestService_RetryFromEncoded(t *testing.T) {
	ctx := context.Background()

	t.Run("restarts transcription for an ENCODED job", func(t *testing.T) {
		f := newFixture()
		job := &domain.Job{ID: uuid.New().String(), Status: domain.StatusEncoded}
		require.NoError(t, f.snapshots.Put(ctx, job))

		require.NoError(t, f.service.RetryFromEncoded(ctx, job.ID))

		assert.Equal(t, []string{job.ID}, f.pipeline.started)
	})

	t.Run("rejects jobs in any other state", func(t *testing.T) {
		f := newFixture()
		job := &domain.Job{ID: uuid.New().String(), Status: domain.StatusProcessing}
		require.NoError(t, f.snapshots.Put(ctx, job))

		err := f.service.RetryFromEncoded(ctx, job.ID)

		var stateErr *domain.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Empty(t, f.pipeline.started)
	})
}

func TestService_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("serves from the snapshot cache", func(t *testing.T) {
		f := newFixture()
		job := &domain.Job{ID: uuid.New().String(), Status: domain.StatusProcessing, Progress: 40}
		require.NoError(t, f.snapshots.Put(ctx, job))

		got, err := f.service.GetStatus(ctx, job.ID)

		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
	})

	t.Run("falls back to the durable store and re-warms the cache", func(t *testing.T) {
		f := newFixture()
		job := &domain.Job{ID: uuid.New().String(), Status: domain.StatusCompleted, Summary: "done"}
		require.NoError(t, f.store.Save(ctx, job))

		got, err := f.service.GetStatus(ctx, job.ID)

		require.NoError(t, err)
		assert.Equal(t, "done", got.Summary)
		// Cache now holds the record again
		_, ok := f.snapshots.jobs[job.ID]
		assert.True(t, ok)
	})

	t.Run("unknown everywhere", func(t *testing.T) {
		f := newFixture()

		_, err := f.service.GetStatus(ctx, uuid.New().String())

		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestService_DeleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("removes record, queues, snapshot, and audio", func(t *testing.T) {
		f := newFixture()
		jobID, err := f.service.StartRecording(ctx, "meeting-1")
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteJob(ctx, jobID))

		assert.Contains(t, f.store.deleted, jobID)
		assert.Contains(t, f.queue.removed, jobID)
		assert.Contains(t, f.snapshots.deleted, jobID)
		assert.Contains(t, f.chunks.removed, jobID)
	})

	t.Run("missing durable record is not an error", func(t *testing.T) {
		f := newFixture()
		jobID := uuid.New().String()

		require.NoError(t, f.service.DeleteJob(ctx, jobID))

		assert.Contains(t, f.queue.removed, jobID)
		assert.Contains(t, f.chunks.removed, jobID)
	})
}
