package analyzer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a simple gradient image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestNew(t *testing.T) {
	a := New()
	require.NotNil(t, a)
	assert.Equal(t, DefaultMinImageSize, a.config.MinImageSize)

	a = NewWithConfig(Config{MinImageSize: 200})
	assert.Equal(t, 200, a.config.MinImageSize)
}

func TestGetImageInfo(t *testing.T) {
	info := New().GetImageInfo(createTestImage(400, 300))

	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.Equal(t, 120000, info.Area)
	assert.InDelta(t, 4.0/3.0, info.AspectRatio, 0.001)
}

func TestGetImageInfoEmpty(t *testing.T) {
	info := New().GetImageInfo(image.NewRGBA(image.Rect(0, 0, 10, 0)))
	assert.Zero(t, info.AspectRatio)
	assert.Zero(t, info.Area)
}

func TestValidateImage(t *testing.T) {
	a := New()

	assert.NoError(t, a.ValidateImage(createTestImage(64, 32)))

	err := a.ValidateImage(createTestImage(64, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image too small: 64x10")

	assert.ErrorContains(t, a.ValidateImage(nil), "nil")
	assert.ErrorContains(t, a.ValidateImage(image.NewRGBA(image.Rectangle{})), "empty")
}

func BenchmarkGetImageInfo(b *testing.B) {
	a := New()
	img := createTestImage(1000, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.GetImageInfo(img)
	}
}
