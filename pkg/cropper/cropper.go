// Package cropper narrows a diagram down to the part that should be analyzed,
// either a user-selected region or the area that actually carries content.
package cropper

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/types"
)

// SmartCropper crops diagrams to a region of interest
type SmartCropper struct {
	config CropConfig
}

// CropConfig holds configuration for cropping
type CropConfig struct {
	// EdgeThreshold is the normalized neighbour difference above which a pixel counts as content
	EdgeThreshold float64
	// PaddingRatio is added around trimmed content, relative to the content size
	PaddingRatio float64
	// MinSize is the smallest crop side in pixels
	MinSize int
}

// New creates a new SmartCropper with default configuration
func New() *SmartCropper {
	return &SmartCropper{
		config: CropConfig{
			EdgeThreshold: 0.08,
			PaddingRatio:  0.02,
			MinSize:       16,
		},
	}
}

// NewWithConfig creates a new SmartCropper with custom configuration
func NewWithConfig(config CropConfig) *SmartCropper {
	return &SmartCropper{config: config}
}

// ParseRegion parses a normalized "x,y,w,h" region. An empty string yields the zero box.
func ParseRegion(s string) (types.Box, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.Box{}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Box{}, errors.Errorf("region %q: want x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.Box{}, errors.Wrapf(err, "region %q", s)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return types.Box{}, errors.Errorf("region %q: coordinates must be finite", s)
		}
		v[i] = f
	}

	r := types.Box{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 || r.X+r.W > 1+1e-9 || r.Y+r.H > 1+1e-9 {
		return types.Box{}, errors.Errorf("region %q must lie within [0,1] and have a positive size", s)
	}
	return r, nil
}

// RegionToRect converts a normalized region to a pixel rectangle inside bounds
func RegionToRect(region types.Box, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(math.Floor(region.X*w)),
		bounds.Min.Y+int(math.Floor(region.Y*h)),
		bounds.Min.X+int(math.Ceil((region.X+region.W)*w)),
		bounds.Min.Y+int(math.Ceil((region.Y+region.H)*h)),
	)
	return r.Intersect(bounds)
}

// CropToRegion crops img to a normalized region
func (c *SmartCropper) CropToRegion(img image.Image, region types.Box) (image.Image, error) {
	rect := RegionToRect(region, img.Bounds())
	if rect.Dx() < c.config.MinSize || rect.Dy() < c.config.MinSize {
		return nil, errors.Errorf("region %dx%d is smaller than %dpx", rect.Dx(), rect.Dy(), c.config.MinSize)
	}
	return imaging.Crop(img, rect), nil
}

// ContentBounds returns the pixel rectangle that holds every edge pixel of img, padded.
// It returns the full bounds when img has no edges.
func (c *SmartCropper) ContentBounds(img image.Image) image.Rectangle {
	bounds := img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X-1, bounds.Min.Y-1

	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			if edgeStrength(img, x, y) <= c.config.EdgeThreshold {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX || maxY < minY {
		return bounds
	}

	content := image.Rect(minX, minY, maxX+1, maxY+1)
	pad := int(math.Ceil(c.config.PaddingRatio * float64(max(content.Dx(), content.Dy()))))
	content = content.Inset(-pad).Intersect(bounds)

	// Grow around the centre up to the minimum size.
	if grow := c.config.MinSize - content.Dx(); grow > 0 {
		content.Min.X -= grow / 2
		content.Max.X += grow - grow/2
	}
	if grow := c.config.MinSize - content.Dy(); grow > 0 {
		content.Min.Y -= grow / 2
		content.Max.Y += grow - grow/2
	}
	return content.Intersect(bounds)
}

// Trim crops img to its content bounds
func (c *SmartCropper) Trim(img image.Image) image.Image {
	rect := c.ContentBounds(img)
	if rect == img.Bounds() {
		return img
	}
	return imaging.Crop(img, rect)
}

// edgeStrength is the mean color distance between a pixel and its 8 neighbours, in [0,1]
func edgeStrength(img image.Image, x, y int) float64 {
	r1, g1, b1 := rgb(img.At(x, y))

	var sum float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			r2, g2, b2 := rgb(img.At(x+dx, y+dy))
			dr, dg, db := r1-r2, g1-g2, b1-b2
			sum += math.Sqrt(dr*dr + dg*dg + db*db)
		}
	}
	return sum / (8 * math.Sqrt(3) * 65535)
}

func rgb(c color.Color) (float64, float64, float64) {
	r, g, b, _ := c.RGBA()
	return float64(r), float64(g), float64(b)
}
