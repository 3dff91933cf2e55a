package stridedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fcolor "github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/stride-detect/internal/config"
	"github.com/menta2k/stride-detect/pkg/llamacpp"
	"github.com/menta2k/stride-detect/pkg/ollama"
	"github.com/menta2k/stride-detect/pkg/replay"
	"github.com/menta2k/stride-detect/pkg/report"
)

func init() {
	fcolor.NoColor = true
}

const testDB = `{
  "Process": {
    "Spoofing": "Authenticate callers",
    "Tampering": "Validate inputs"
  },
  "DataStore": {
    "Information Disclosure": "Encrypt at rest"
  }
}`

const testDetections = `{"detections": [
  {"class": 0, "confidence": 0.9, "box": {"x": 0.1, "y": 0.1, "w": 0.3, "h": 0.2}},
  {"class": 2, "confidence": 0.8, "box": {"x": 0.5, "y": 0.5, "w": 0.2, "h": 0.2}},
  {"class": 1, "confidence": 0.1, "box": {"x": 0.6, "y": 0.1, "w": 0.2, "h": 0.2}},
  {"label": "DataStore", "confidence": 0.7, "box": [10, 60, 40, 90]}
]}`

// createTestImage creates a light diagram-like image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}
	return img
}

func writeFixtures(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	imgPath := filepath.Join(dir, "diagram.png")
	f, err := os.Create(imgPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, createTestImage(120, 100)))
	require.NoError(t, f.Close())

	cfg := config.Default()
	cfg.Backend = config.BackendReplay
	cfg.Model = write("detections.json", testDetections)
	cfg.LabelsPath = write("classes.txt", "Process\nDataStore\nExternalEntity\n")
	cfg.DatabasePath = write("stride.json", testDB)
	cfg.ImagePath = imgPath
	cfg.OutputImage = filepath.Join(dir, "out", "detections.png")
	cfg.ReportPath = filepath.Join(dir, "out", "report.txt")
	return cfg
}

func newPipeline(t *testing.T, cfg *config.Config, opts ...Option) *Pipeline {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	p, err := New(cfg, c, opts...)
	require.NoError(t, err)
	return p
}

func TestRun(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.SummaryPath = filepath.Join(filepath.Dir(cfg.ReportPath), "summary.json")

	var console bytes.Buffer
	result, err := newPipeline(t, cfg, WithConsole(&console)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Process", "ExternalEntity", "DataStore"}, result.Detections.Names())
	assert.Equal(t, 120, result.Image.Width)
	assert.Equal(t, 100, result.Image.Height)

	want := strings.Join([]string{
		"--- Process ---",
		"Spoofing: Authenticate callers",
		"Tampering: Validate inputs",
		"WARNING: ExternalEntity (not mapped in threat database)",
		"--- DataStore ---",
		"Information Disclosure: Encrypt at rest",
	}, "\n")

	data, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
	assert.Equal(t, want+"\n", console.String())

	f, err := os.Open(result.ImagePath)
	require.NoError(t, err)
	defer f.Close()
	annotated, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 100), annotated.Bounds())

	js, err := os.ReadFile(result.SummaryPath)
	require.NoError(t, err)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(js, &summary))
	assert.Equal(t, []string{"ExternalEntity"}, summary.Unmapped)
	assert.Len(t, summary.Detections, 3)
}

func TestRunNoDetections(t *testing.T) {
	cfg := writeFixtures(t)
	require.NoError(t, os.WriteFile(cfg.Model, []byte(`{"detections": []}`), 0o644))

	result, err := newPipeline(t, cfg, WithConsole(nil)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Lines)

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.FileExists(t, cfg.OutputImage)
	assert.Empty(t, result.SummaryPath)
}

func TestRunFailsBeforeDetection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*testing.T, *config.Config)
		want   string
	}{
		{"missing database", func(t *testing.T, c *config.Config) { c.DatabasePath += ".missing" }, "stride.json.missing"},
		{"bad database", func(t *testing.T, c *config.Config) {
			require.NoError(t, os.WriteFile(c.DatabasePath, []byte(`{"Process": ["Spoofing"]}`), 0o644))
		}, "Process"},
		{"missing labels", func(t *testing.T, c *config.Config) { c.LabelsPath += ".missing" }, "classes.txt.missing"},
		{"missing image", func(t *testing.T, c *config.Config) { c.ImagePath += ".missing" }, "failed to load image"},
		{"small image", func(t *testing.T, c *config.Config) { c.MinImageSize = 500 }, "image too small"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeFixtures(t)
			tt.mutate(t, cfg)

			_, err := newPipeline(t, cfg, WithConsole(nil)).Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.NoFileExists(t, cfg.ReportPath)
			assert.NoFileExists(t, cfg.OutputImage)
		})
	}
}

func TestRunRegion(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.Region = "0.5,0,0.5,1"
	cfg.Trim = true

	result, err := newPipeline(t, cfg, WithConsole(nil)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, result.Image.Width)
	assert.Equal(t, 100, result.Image.Height)
	assert.Equal(t, 60, result.Detections.Width)

	f, err := os.Open(cfg.OutputImage)
	require.NoError(t, err)
	defer f.Close()
	annotated, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 60, annotated.Bounds().Dx())
}

func TestRunOverwritesReport(t *testing.T) {
	cfg := writeFixtures(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.ReportPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.ReportPath, []byte("stale report that is much longer than the new one\n\n\n"), 0o644))
	require.NoError(t, os.WriteFile(cfg.Model, []byte(`[{"class": 1, "confidence": 0.9, "box": [0, 0, 10, 10]}]`), 0o644))

	_, err := newPipeline(t, cfg, WithConsole(nil)).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, "--- DataStore ---\nInformation Disclosure: Encrypt at rest", string(data))
}

func TestNewClient(t *testing.T) {
	cfg := config.Default()

	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &llamacpp.Client{}, c)

	cfg.Backend = config.BackendOllama
	c, err = NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, c)

	cfg.Backend = config.BackendReplay
	cfg.Model = "detections.json"
	c, err = NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &replay.Client{}, c)

	cfg.Backend = "yolo"
	_, err = NewClient(cfg)
	assert.ErrorContains(t, err, "unknown backend")
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = New(nil, c)
	assert.Error(t, err)

	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg.Confidence = 2
	_, err = New(cfg, c)
	assert.ErrorContains(t, err, "invalid config")
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, Version, GetVersion())
}
