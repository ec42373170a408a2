// Package worker consumes upload-submitted events, runs the processing step,
// and flips each record to its terminal status. It owns the status-transition
// mutation; the ingestion service only ever creates records.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/bus"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/repository"
)

var (
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_files_processed_total",
		Help: "Processed files by terminal status.",
	}, []string{"status"})

	completionPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_completion_publish_failures_total",
		Help: "Completion events that could not be published to the bus.",
	})
)

// Step performs the actual processing work for one file. Implementations
// must return promptly once ctx is done; the processor additionally bounds
// every call with its own timeout.
type Step interface {
	Process(ctx context.Context, rec *model.FileRecord, content []byte) error
}

// FileStore is the repository slice the worker needs.
type FileStore interface {
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.FileStatus) error
}

// BlobStore reads uploaded bytes for the processing step.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Processor subscribes once per process lifetime to upload-submitted and
// handles each event in its own goroutine, bounded by a semaphore. Events
// for different files may be processed concurrently; one file id only ever
// appears in one lifecycle, so no two goroutines write the same record.
type Processor struct {
	files   FileStore
	blobs   BlobStore
	bus     bus.Bus
	step    Step
	timeout time.Duration
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// New constructs a Processor. concurrency bounds in-flight events; timeout
// bounds each processing step so a hung step forces a failed transition
// instead of leaving the record in processing forever.
func New(files FileStore, blobs BlobStore, b bus.Bus, step Step, concurrency int, timeout time.Duration, logger *zap.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		files:   files,
		blobs:   blobs,
		bus:     b,
		step:    step,
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		logger:  logger.Named("worker"),
	}
}

// Start subscribes to the upload-submitted channel. The subscription lives
// until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	return p.bus.Subscribe(ctx, bus.ChannelUploadSubmitted, p.handle)
}

// Drain blocks until all in-flight events have finished.
func (p *Processor) Drain() {
	p.wg.Wait()
}

func (p *Processor) handle(ctx context.Context, payload []byte) {
	var evt bus.UploadEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		p.logger.Warn("dropping malformed upload event", zap.Error(err))
		return
	}
	if evt.FileID == "" {
		p.logger.Warn("dropping upload event without file id")
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.process(ctx, evt)
	}()
}

// process drives one record through processing -> completed/failed. Status
// writes use a context detached from the subscription so a shutdown mid-step
// still lands the terminal write.
func (p *Processor) process(ctx context.Context, evt bus.UploadEvent) {
	writeCtx := context.WithoutCancel(ctx)
	logger := p.logger.With(zap.String("file_id", evt.FileID))

	if err := p.files.UpdateStatus(writeCtx, evt.FileID, model.StatusProcessing); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			logger.Warn("upload event references unknown record, dropping")
		case errors.Is(err, repository.ErrStaleStatus):
			// Duplicate delivery or an already-terminal record.
			logger.Debug("record not in pending, skipping")
		default:
			logger.Error("failed to mark processing, leaving for reconciliation", zap.Error(err))
		}
		return
	}

	status := model.StatusCompleted
	if err := p.runStep(ctx, evt.FileID); err != nil {
		logger.Warn("processing failed", zap.Error(err))
		status = model.StatusFailed
	}

	if err := p.files.UpdateStatus(writeCtx, evt.FileID, status); err != nil {
		// Never retried inline: the record stays in its prior state until the
		// reconciliation sweep finds it.
		logger.Error("terminal status write failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	processedTotal.WithLabelValues(string(status)).Inc()

	evtOut := bus.CompletionEvent{FileID: evt.FileID, Status: string(status)}
	if err := p.bus.Publish(writeCtx, bus.ChannelProcessingCompleted, evtOut); err != nil {
		// Best effort: the metadata store is the durable source of truth.
		completionPublishFailures.Inc()
		logger.Warn("completion event publish failed", zap.Error(err))
	}
	logger.Info("file processed", zap.String("status", string(status)))
}

// runStep loads the content and executes the step under the configured
// timeout. Any error, including a database or storage outage, surfaces as a
// processing failure so a failed write is still attempted.
func (p *Processor) runStep(ctx context.Context, fileID string) error {
	stepCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	rec, err := p.files.GetByID(stepCtx, fileID)
	if err != nil {
		return err
	}
	content, err := p.blobs.Read(stepCtx, rec.StorageKey)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- p.step.Process(stepCtx, rec, content)
	}()
	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return stepCtx.Err()
	}
}
