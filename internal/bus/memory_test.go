package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversInPublishOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus()

	var got []UploadEvent
	err := b.Subscribe(ctx, ChannelUploadSubmitted, func(_ context.Context, payload []byte) {
		var evt UploadEvent
		require.NoError(t, json.Unmarshal(payload, &evt))
		got = append(got, evt)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, ChannelUploadSubmitted, UploadEvent{FileID: "1", OriginalName: "a.txt"}))
	require.NoError(t, b.Publish(ctx, ChannelUploadSubmitted, UploadEvent{FileID: "2", OriginalName: "b.txt"}))

	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].FileID)
	require.Equal(t, "2", got[1].FileID)
}

func TestMemoryBusDropsWithoutSubscriber(t *testing.T) {
	b := NewMemoryBus()
	// No subscriber connected: publish succeeds and the message is lost.
	require.NoError(t, b.Publish(context.Background(), ChannelProcessingCompleted, CompletionEvent{FileID: "1", Status: "completed"}))
}

func TestMemoryBusChannelIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus()

	var uploads, completions int
	require.NoError(t, b.Subscribe(ctx, ChannelUploadSubmitted, func(context.Context, []byte) { uploads++ }))
	require.NoError(t, b.Subscribe(ctx, ChannelProcessingCompleted, func(context.Context, []byte) { completions++ }))

	require.NoError(t, b.Publish(ctx, ChannelUploadSubmitted, UploadEvent{FileID: "1"}))
	require.Equal(t, 1, uploads)
	require.Equal(t, 0, completions)
}

func TestEventPayloadsTolerateUnknownFields(t *testing.T) {
	var evt UploadEvent
	raw := []byte(`{"fileId":"abc","filename":"x.pdf","extra":"ignored"}`)
	require.NoError(t, json.Unmarshal(raw, &evt))
	require.Equal(t, "abc", evt.FileID)
	require.Equal(t, "x.pdf", evt.OriginalName)
}
