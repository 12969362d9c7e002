package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makt28/stockwatch/internal/config"
)

func TestCaptureDisabled(t *testing.T) {
	s := New(Options{Enabled: false})
	_, err := s.Capture(context.Background(), "https://www.amazon.fr/dp/1")
	assert.ErrorIs(t, err, ErrCaptureDisabled)
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 5, 4, 13, 7, 9, 120_000_000, time.UTC)
	assert.Equal(t, "screenshot_2026-05-04T13-07-09.120Z_www_amazon_fr.png", Filename(at, "www.amazon.fr"))
	assert.Equal(t, "screenshot_2026-05-04T13-07-09.120Z_unknown.png", Filename(at, ""))
}

func TestSaveWritesIntoOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	s := New(Options{Enabled: true, OutputDir: dir})
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	path, err := s.save("amzn.eu", []byte("png"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "screenshot_2026-01-02T03-04-05.000Z_amzn_eu.png"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Capture
	opts := OptionsFromConfig(cfg)

	assert.True(t, opts.Enabled)
	assert.True(t, opts.Headless)
	assert.Equal(t, 1920, opts.Width)
	assert.Equal(t, 1080, opts.Height)
	assert.Equal(t, "#sp-cc-rejectall-link", opts.ConsentSelector)
	assert.Equal(t, time.Second, opts.SettleMin)
	assert.Equal(t, 3*time.Second, opts.SettleMax)
}

func TestSettleWithinRange(t *testing.T) {
	s := New(Options{SettleMin: 10 * time.Millisecond, SettleMax: 30 * time.Millisecond})
	for i := 0; i < 50; i++ {
		d := s.settle()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 30*time.Millisecond)
	}
}
