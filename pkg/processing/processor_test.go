package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/stride-detect/pkg/types"
)

// createTestImage creates a light diagram-like background with a dark square
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/4 && x < width/2 && y > height/4 && y < height/2 {
				img.Set(x, y, color.RGBA{20, 20, 20, 255})
			} else {
				img.Set(x, y, color.RGBA{240, 240, 240, 255})
			}
		}
	}
	return img
}

func colorsClose(a, b color.Color) bool {
	r1, g1, b1, _ := a.RGBA()
	r2, g2, b2, _ := b.RGBA()
	diff := func(x, y uint32) uint32 {
		if x > y {
			return x - y
		}
		return y - x
	}
	const tol = 0x0800
	return diff(r1, r2) < tol && diff(g1, g2) < tol && diff(b1, b2) < tol
}

func TestAnnotateDetections(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 200)
	result := &types.DetectionResult{
		Labels: types.Labels{"Process", "DataStore"},
		Detections: []types.Detection{
			{ClassID: 1, Confidence: 0.87, Box: types.Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}},
		},
	}

	out := p.AnnotateDetections(img, result)
	require.Equal(t, img.Bounds().Size(), out.Bounds().Size())

	// left edge of the box, below the tag
	assert.True(t, colorsClose(ClassColor(1), out.At(50, 137)), "box edge not drawn, got %v", out.At(50, 137))
	// far corner untouched
	assert.True(t, colorsClose(color.RGBA{240, 240, 240, 255}, out.At(195, 5)))
	// source image untouched
	assert.True(t, colorsClose(color.RGBA{240, 240, 240, 255}, img.At(50, 137)))
}

func TestAnnotateDetectionsEmpty(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(64, 48)

	for _, result := range []*types.DetectionResult{nil, {}} {
		out := p.AnnotateDetections(img, result)
		require.Equal(t, img.Bounds().Size(), out.Bounds().Size())
		assert.True(t, colorsClose(img.At(20, 15), out.At(20, 15)))
	}
}

func TestAnnotateDetectionsAtTopEdge(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(120, 80)
	result := &types.DetectionResult{
		Detections: []types.Detection{
			{ClassID: 42, Label: "Gateway", Confidence: 0.5, Box: types.Box{X: 0.9, Y: 0, W: 0.5, H: 0.5}},
		},
	}

	assert.NotPanics(t, func() { p.AnnotateDetections(img, result) })
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, ClassColor(0), ClassColor(len(palette)))
	assert.Equal(t, ClassColor(3), ClassColor(-3))
	assert.NotEqual(t, ClassColor(0), ClassColor(1))
}

func TestBoxToRect(t *testing.T) {
	assert.Equal(t, image.Rect(10, 20, 60, 70), boxToRect(types.Box{X: 0.1, Y: 0.2, W: 0.5, H: 0.5}, 100, 100))
	assert.Equal(t, image.Rect(90, 0, 100, 50), boxToRect(types.Box{X: 0.9, Y: -0.2, W: 0.5, H: 0.7}, 100, 100))
	assert.Equal(t, image.Rect(100, 100, 101, 101), boxToRect(types.Box{X: 1, Y: 1}, 100, 100))
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(400, 200)

	b64, err := p.PrepareImageForModel(img, "jpg", 100, 80)
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	b64, err = p.PrepareImageForModel(img, "png", 0, 0)
	require.NoError(t, err)
	data, err = base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	cfg, err = png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(60, 40)
	dir := t.TempDir()

	for _, format := range []string{"png", "jpg"} {
		path := filepath.Join(dir, "out."+format)
		require.NoError(t, p.SaveImage(img, path, format, 90, false))

		loaded, err := p.LoadImage(path)
		require.NoError(t, err)
		assert.Equal(t, img.Bounds().Size(), loaded.Bounds().Size())
	}
}

func TestSaveImageFormatWinsOverExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotated.jpg")
	require.NoError(t, NewProcessor().SaveImage(createTestImage(20, 10), path, "png", 90, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestLoadImageMissing(t *testing.T) {
	_, err := NewProcessor().LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorContains(t, err, "missing.png")
}

func TestLoadImageFromURL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(30, 20)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/diagram.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(context.Background(), srv.URL+"/diagram.png")
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())

	_, err = p.LoadImageSmart(context.Background(), srv.URL+"/index.html")
	assert.ErrorContains(t, err, "does not point to an image")

	_, err = p.LoadImageFromURL(context.Background(), "ftp://example.com/x.png")
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestViewerCommand(t *testing.T) {
	name, args := viewerCommand("linux", "a.jpg")
	assert.Equal(t, "xdg-open", name)
	assert.Equal(t, []string{"a.jpg"}, args)

	name, _ = viewerCommand("darwin", "a.jpg")
	assert.Equal(t, "open", name)

	name, args = viewerCommand("windows", "a.jpg")
	assert.Equal(t, "rundll32", name)
	assert.Equal(t, "a.jpg", args[len(args)-1])
}
