package loon_test

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon"
	"lagoon.dev/loon/backend"
	"lagoon.dev/loon/config"
)

func TestCompositorStartsAndStops(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.DefaultConfig
	cfg.Backend = "headless"
	be := backend.NewHeadless(true, backend.OutputInfo{Name: "virtual-0", Rect: image.Rect(0, 0, 1280, 720), Scale: 1, RefreshMHz: 60000})

	comp, err := loon.New(&cfg, be)
	require.NoError(t, err)
	assert.NotEmpty(t, comp.Socket())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- comp.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("compositor did not stop")
	}
}

func TestCompositorRejectsBadPipeline(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.DefaultConfig
	cfg.Render.Pipeline = []string{"bloom"}
	be := backend.NewHeadless(true)

	_, err := loon.New(&cfg, be)
	assert.Error(t, err)
}
