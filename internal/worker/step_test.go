package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

func TestSimulatorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Simulator{Delay: time.Minute}.Process(ctx, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatorCompletes(t *testing.T) {
	err := Simulator{Delay: time.Millisecond}.Process(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestInspectorText(t *testing.T) {
	rec := &model.FileRecord{MimeType: "text/plain"}
	require.NoError(t, Inspector{}.Process(context.Background(), rec, []byte("hello world")))

	err := Inspector{}.Process(context.Background(), rec, []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
}

func TestInspectorImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for x := 0; x < 100; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	rec := &model.FileRecord{MimeType: "image/png"}
	require.NoError(t, Inspector{}.Process(context.Background(), rec, buf.Bytes()))

	// Declared as image but not decodable.
	err := Inspector{}.Process(context.Background(), rec, []byte("definitely not a png"))
	require.Error(t, err)
}

func TestInspectorPDFRejectsGarbage(t *testing.T) {
	rec := &model.FileRecord{MimeType: "application/pdf"}
	err := Inspector{}.Process(context.Background(), rec, []byte("%PDF-1.4 truncated"))
	require.Error(t, err)
}

func TestInspectorUnknownType(t *testing.T) {
	rec := &model.FileRecord{MimeType: "application/zip"}
	err := Inspector{}.Process(context.Background(), rec, []byte("PK"))
	require.Error(t, err)
}
