// Package ingest validates and stores incoming uploads, creates their
// metadata records, and announces them on the event bus. It never calls the
// processing worker directly; the bus and the metadata store are the only
// links between the two.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/bus"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

// Validation errors, rejected before any storage side effect.
var (
	ErrEmptyFile    = errors.New("empty file payload")
	ErrInvalidType  = errors.New("file type not allowed")
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_uploads_total",
		Help: "Uploads by result (accepted, rejected, error).",
	}, []string{"result"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_event_publish_failures_total",
		Help: "Upload events that could not be published to the bus.",
	})
)

// FileStore is the slice of the metadata repository the service needs.
type FileStore interface {
	Create(ctx context.Context, rec *model.FileRecord) error
	GetByName(ctx context.Context, ownerID, name string) (*model.FileRecord, error)
	List(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	Rename(ctx context.Context, id, newName, newKey string, size int64) error
	Delete(ctx context.Context, id string) error
}

// BlobStore is the durable byte storage for uploaded content.
type BlobStore interface {
	Save(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Rename(ctx context.Context, oldKey, newKey string) error
	Delete(ctx context.Context, key string) error
}

// Publisher is the bus half the service uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Upload is an incoming file as parsed from the HTTP request.
type Upload struct {
	OriginalName string
	MimeType     string
	Content      []byte
}

// Service implements ingestion and the file CRUD operations.
type Service struct {
	files       FileStore
	blobs       BlobStore
	publisher   Publisher
	maxSize     int64
	typeAllowed func(string) bool
	logger      *zap.Logger
}

// NewService constructs the ingestion service.
func NewService(files FileStore, blobs BlobStore, publisher Publisher, maxSize int64, typeAllowed func(string) bool, logger *zap.Logger) *Service {
	return &Service{
		files:       files,
		blobs:       blobs,
		publisher:   publisher,
		maxSize:     maxSize,
		typeAllowed: typeAllowed,
		logger:      logger.Named("ingest"),
	}
}

// Ingest validates the upload, writes the bytes, inserts the metadata record
// with status pending, and publishes an upload-submitted event. The blob is
// written before the record so a failed write never leaves metadata pointing
// at missing bytes; a record insert failure leaks the orphan blob for later
// garbage collection. A publish failure is logged, not returned: the record
// exists in pending and the reconciliation sweep will pick it up.
func (s *Service) Ingest(ctx context.Context, ownerID string, up Upload) (*model.FileRecord, error) {
	if len(up.Content) == 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyFile
	}
	if !s.typeAllowed(up.MimeType) {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, up.MimeType)
	}
	if int64(len(up.Content)) > s.maxSize {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(up.Content), s.maxSize)
	}

	fileID := uuid.NewString()
	key := storageKey(fileID, up.OriginalName)

	if err := s.blobs.Save(ctx, key, bytes.NewReader(up.Content), int64(len(up.Content)), up.MimeType); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save blob: %w", err)
	}

	rec := &model.FileRecord{
		ID:           fileID,
		OwnerID:      ownerID,
		OriginalName: up.OriginalName,
		StorageKey:   key,
		SizeBytes:    int64(len(up.Content)),
		MimeType:     up.MimeType,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		// The blob written above is orphaned; GC of orphan blobs is out of
		// scope, so log the key instead of attempting cleanup here.
		s.logger.Error("metadata insert failed, blob orphaned",
			zap.String("file_id", fileID), zap.String("storage_key", key), zap.Error(err))
		return nil, fmt.Errorf("insert metadata: %w", err)
	}

	evt := bus.UploadEvent{FileID: rec.ID, OriginalName: rec.OriginalName}
	if err := s.publisher.Publish(ctx, bus.ChannelUploadSubmitted, evt); err != nil {
		publishFailures.Inc()
		s.logger.Warn("upload event publish failed, record stays pending",
			zap.String("file_id", rec.ID), zap.Error(err))
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("file ingested",
		zap.String("file_id", rec.ID),
		zap.String("name", rec.OriginalName),
		zap.Int64("size", rec.SizeBytes),
		zap.String("mime_type", rec.MimeType),
	)
	return rec, nil
}

// Read returns the record and its content for the caller's own file.
func (s *Service) Read(ctx context.Context, ownerID, name string) (*model.FileRecord, []byte, error) {
	rec, err := s.files.GetByName(ctx, ownerID, name)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.blobs.Read(ctx, rec.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("read blob %s: %w", rec.StorageKey, err)
	}
	return rec, content, nil
}

// Update renames the caller's file and optionally replaces its content.
// The blob is moved first, unless the new name resolves to the same storage
// key; if a later step fails after the move, the blob lives under the new key
// while the record still references the old one. That inconsistency is logged
// with both keys and returned, never swallowed.
func (s *Service) Update(ctx context.Context, ownerID, name, newName string, content []byte) (*model.FileRecord, error) {
	rec, err := s.files.GetByName(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	newKey := storageKey(rec.ID, newName)
	moved := newKey != rec.StorageKey
	if moved {
		if err := s.blobs.Rename(ctx, rec.StorageKey, newKey); err != nil {
			return nil, fmt.Errorf("rename blob: %w", err)
		}
	}
	size := rec.SizeBytes
	if content != nil {
		if err := s.blobs.Save(ctx, newKey, bytes.NewReader(content), int64(len(content)), rec.MimeType); err != nil {
			if moved {
				s.logger.Error("content replace failed after blob rename, store inconsistent",
					zap.String("file_id", rec.ID),
					zap.String("old_key", rec.StorageKey),
					zap.String("new_key", newKey),
					zap.Error(err))
				return nil, fmt.Errorf("replace blob content (blob already moved to %s): %w", newKey, err)
			}
			return nil, fmt.Errorf("replace blob content: %w", err)
		}
		size = int64(len(content))
	}
	if err := s.files.Rename(ctx, rec.ID, newName, newKey, size); err != nil {
		s.logger.Error("metadata rename failed after blob rename, store inconsistent",
			zap.String("file_id", rec.ID),
			zap.String("old_key", rec.StorageKey),
			zap.String("new_key", newKey),
			zap.Error(err))
		return nil, fmt.Errorf("rename metadata (blob already moved to %s): %w", newKey, err)
	}
	rec.OriginalName = newName
	rec.StorageKey = newKey
	rec.SizeBytes = size
	rec.UpdatedAt = time.Now().UTC()
	return rec, nil
}

// Delete removes the blob, then the record. A missing blob is tolerated so
// the operation stays idempotent; a missing record reports NotFound.
func (s *Service) Delete(ctx context.Context, ownerID, name string) error {
	rec, err := s.files.GetByName(ctx, ownerID, name)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, rec.StorageKey); err != nil {
		return fmt.Errorf("delete blob %s: %w", rec.StorageKey, err)
	}
	return s.files.Delete(ctx, rec.ID)
}

// List returns the caller's records, without content.
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	return s.files.List(ctx, ownerID)
}

// storageKey derives a collision-free blob key. The uuid prefix keeps
// concurrent uploads of identically named files apart; the base name is kept
// only for operator readability.
func storageKey(fileID, name string) string {
	return fmt.Sprintf("uploads/%s/%s", fileID, filepath.Base(name))
}
