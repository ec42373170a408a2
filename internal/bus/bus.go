// Package bus defines the publish/subscribe channel connecting the ingestion
// service and the processing worker. Delivery is fire-and-forget: no
// acknowledgment, no persistence, no replay. Messages published while no
// subscriber is connected are lost; the reconciliation sweep covers that gap.
package bus

import (
	"context"
)

// Channel names carried over the bus. Consumers must tolerate unknown
// additional fields in the JSON payloads.
const (
	ChannelUploadSubmitted     = "upload-submitted"
	ChannelProcessingCompleted = "processing-completed"
)

// UploadEvent announces a freshly ingested file. Ephemeral, never persisted.
type UploadEvent struct {
	FileID       string `json:"fileId"`
	OriginalName string `json:"filename"`
}

// CompletionEvent announces the terminal status of a processed file. The
// metadata store, not this event, is the record of state.
type CompletionEvent struct {
	FileID string `json:"fileId"`
	Status string `json:"status"`
}

// Handler is invoked once per message delivered on a subscribed channel.
type Handler func(ctx context.Context, payload []byte)

// Bus is the publish/subscribe contract. Publish fails when the transport is
// down. Subscribe registers the handler for the lifetime of ctx; delivery is
// at-most-once per connected subscriber, FIFO per connection.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channel string, h Handler) error
}
