// Package reconcile periodically repairs records the at-most-once bus left
// behind: uploads whose event was lost stay pending forever, and crashed
// workers leave records in processing. The sweep re-announces the young ones
// and force-fails the ones stuck beyond hope.
package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/bus"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

var (
	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_sweep_runs_total",
		Help: "Reconciliation sweep executions.",
	})

	sweepActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_sweep_actions_total",
		Help: "Sweep actions by kind (republish, force_fail).",
	}, []string{"action"})
)

// FileStore is the repository slice the sweep needs.
type FileStore interface {
	Stuck(ctx context.Context, statuses []model.FileStatus, cutoff time.Time) ([]*model.FileRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.FileStatus) error
}

// Publisher re-announces lost upload events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Sweeper owns the periodic reconciliation goroutine.
type Sweeper struct {
	files          FileStore
	publisher      Publisher
	interval       time.Duration
	republishAfter time.Duration
	failAfter      time.Duration
	logger         *zap.Logger
	cancel         context.CancelFunc
}

// New constructs a Sweeper. Records stuck longer than republishAfter get
// their upload-submitted event re-published (pending only); records stuck
// longer than failAfter are force-transitioned to failed.
func New(files FileStore, publisher Publisher, interval, republishAfter, failAfter time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		files:          files,
		publisher:      publisher,
		interval:       interval,
		republishAfter: republishAfter,
		failAfter:      failAfter,
		logger:         logger.Named("reconcile"),
	}
}

// Start launches the background loop.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	s.logger.Info("reconciliation sweep started", zap.Duration("interval", s.interval))
}

// Stop cancels the background loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	sweepRuns.Inc()
	now := time.Now().UTC()
	stuck, err := s.files.Stuck(ctx,
		[]model.FileStatus{model.StatusPending, model.StatusProcessing},
		now.Add(-s.republishAfter))
	if err != nil {
		return err
	}
	failCutoff := now.Add(-s.failAfter)
	for _, rec := range stuck {
		logger := s.logger.With(zap.String("file_id", rec.ID), zap.String("status", string(rec.Status)))
		switch {
		case rec.UpdatedAt.Before(failCutoff):
			if err := s.files.UpdateStatus(ctx, rec.ID, model.StatusFailed); err != nil {
				logger.Error("force-fail failed", zap.Error(err))
				continue
			}
			sweepActions.WithLabelValues("force_fail").Inc()
			logger.Warn("record force-failed after exceeding processing deadline")
		case rec.Status == model.StatusPending:
			evt := bus.UploadEvent{FileID: rec.ID, OriginalName: rec.OriginalName}
			if err := s.publisher.Publish(ctx, bus.ChannelUploadSubmitted, evt); err != nil {
				logger.Warn("republish failed", zap.Error(err))
				continue
			}
			sweepActions.WithLabelValues("republish").Inc()
			logger.Info("upload event re-published for stuck pending record")
		default:
			// processing but not yet past the fail cutoff: a worker may still
			// be on it, leave it alone.
		}
	}
	return nil
}
