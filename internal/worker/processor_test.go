package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/bus"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/repository"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/s3storage"
)

type stubStep struct {
	err   error
	delay time.Duration
}

func (s stubStep) Process(ctx context.Context, _ *model.FileRecord, _ []byte) error {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type completionLog struct {
	mu     sync.Mutex
	events []bus.CompletionEvent
}

func (c *completionLog) subscribe(t *testing.T, b bus.Bus) {
	t.Helper()
	err := b.Subscribe(context.Background(), bus.ChannelProcessingCompleted, func(_ context.Context, payload []byte) {
		var evt bus.CompletionEvent
		require.NoError(t, json.Unmarshal(payload, &evt))
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	})
	require.NoError(t, err)
}

func (c *completionLog) snapshot() []bus.CompletionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.CompletionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func seedRecord(t *testing.T, repo *repository.MemoryFileRepository, blobs *s3storage.MemoryStore, id, mimeType string, content []byte) *model.FileRecord {
	t.Helper()
	rec := &model.FileRecord{
		ID:           id,
		OwnerID:      "owner-1",
		OriginalName: "file",
		StorageKey:   "uploads/" + id + "/file",
		SizeBytes:    int64(len(content)),
		MimeType:     mimeType,
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	if content != nil {
		require.NoError(t, blobs.Save(context.Background(), rec.StorageKey, bytes.NewReader(content), int64(len(content)), mimeType))
	}
	return rec
}

func startProcessor(t *testing.T, repo *repository.MemoryFileRepository, blobs *s3storage.MemoryStore, b bus.Bus, step Step, timeout time.Duration) *Processor {
	t.Helper()
	p := New(repo, blobs, b, step, 2, timeout, zap.NewNop())
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestProcessorCompletesFile(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	var completions completionLog
	completions.subscribe(t, b)
	startProcessor(t, repo, blobs, b, stubStep{}, time.Second)

	rec := seedRecord(t, repo, blobs, "f1", "text/plain", []byte("hello"))
	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: rec.ID, OriginalName: rec.OriginalName}))

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, rec.ID)
		return err == nil && got.Status == model.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		evts := completions.snapshot()
		return len(evts) == 1 && evts[0].FileID == rec.ID && evts[0].Status == "completed"
	}, time.Second, 5*time.Millisecond)
}

func TestProcessorMarksFailedOnStepError(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	var completions completionLog
	completions.subscribe(t, b)
	startProcessor(t, repo, blobs, b, stubStep{err: errors.New("boom")}, time.Second)

	rec := seedRecord(t, repo, blobs, "f1", "text/plain", []byte("hello"))
	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: rec.ID}))

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, rec.ID)
		return err == nil && got.Status == model.StatusFailed
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		evts := completions.snapshot()
		return len(evts) == 1 && evts[0].Status == "failed"
	}, time.Second, 5*time.Millisecond)
}

func TestProcessorMarksFailedOnMissingBlob(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	startProcessor(t, repo, blobs, b, stubStep{}, time.Second)

	rec := seedRecord(t, repo, blobs, "f1", "text/plain", nil)
	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: rec.ID}))

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, rec.ID)
		return err == nil && got.Status == model.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestProcessorTimeoutForcesFailed(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	startProcessor(t, repo, blobs, b, stubStep{delay: time.Minute}, 20*time.Millisecond)

	rec := seedRecord(t, repo, blobs, "f1", "text/plain", []byte("x"))
	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: rec.ID}))

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, rec.ID)
		return err == nil && got.Status == model.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestProcessorDropsUnknownRecord(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	var completions completionLog
	completions.subscribe(t, b)
	p := startProcessor(t, repo, blobs, b, stubStep{}, time.Second)

	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: "ghost"}))
	p.Drain()
	require.Empty(t, completions.snapshot())
}

func TestProcessorSkipsAlreadyTerminalRecord(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	b := bus.NewMemoryBus()

	var completions completionLog
	completions.subscribe(t, b)
	p := startProcessor(t, repo, blobs, b, stubStep{}, time.Second)

	rec := seedRecord(t, repo, blobs, "f1", "text/plain", []byte("x"))
	require.NoError(t, repo.UpdateStatus(ctx, rec.ID, model.StatusFailed))

	// Duplicate or late delivery must not resurrect a terminal record.
	require.NoError(t, b.Publish(ctx, bus.ChannelUploadSubmitted, bus.UploadEvent{FileID: rec.ID}))
	p.Drain()

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Empty(t, completions.snapshot())
}

func TestProcessorDropsMalformedPayload(t *testing.T) {
	repo := repository.NewMemoryFileRepository()
	blobs := s3storage.NewMemoryStore()
	p := New(repo, blobs, bus.NewMemoryBus(), stubStep{}, 1, time.Second, zap.NewNop())
	p.handle(context.Background(), []byte("{not json"))
	p.Drain()
}
