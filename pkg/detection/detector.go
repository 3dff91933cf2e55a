package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/menta2k/stride-detect/pkg/client"
	"github.com/menta2k/stride-detect/pkg/processing"
	"github.com/menta2k/stride-detect/pkg/types"
)

// promptTemplate asks the model for boxes over a fixed class table. %s is the table.
const promptTemplate = `You are an object detector for software architecture diagrams.

Find every instance of the following component classes in the image:
%s

Return JSON only:
{
  "detections": [
    {"class": 0, "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- "class" is the integer id from the list above. Never invent ids.
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- One entry per instance: if a component appears twice, list it twice.
- Order detections top-to-bottom, then left-to-right.
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config holds detector settings
type Config struct {
	Model       string
	Confidence  float64
	MinArea     float64
	SendFormat  string
	SendSize    int
	SendQuality int
}

// Detector runs an object-detection backend and postprocesses its output
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	labels    types.Labels
	config    Config
	index     map[string]int
}

// NewDetector creates a detector over a vision client and a names table
func NewDetector(c client.VisionClient, labels types.Labels, config Config) *Detector {
	index := make(map[string]int, len(labels))
	for i, name := range labels {
		if name == "" {
			continue
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return &Detector{
		client:    c,
		processor: processing.NewProcessor(),
		labels:    labels,
		config:    config,
		index:     index,
	}
}

// Prompt renders the detection prompt for the detector's label table
func (d *Detector) Prompt() string {
	table := lo.Map(d.labels, func(name string, i int) string {
		return fmt.Sprintf("%d: %s", i, name)
	})
	return fmt.Sprintf(promptTemplate, strings.Join(table, "\n"))
}

// Resolve maps a class id to its component name
func (d *Detector) Resolve(classID int) (string, bool) {
	return d.labels.Resolve(classID)
}

// Labels returns the detector's names table
func (d *Detector) Labels() types.Labels {
	return d.labels
}

// Detect runs detection on img and returns the detections that pass the postprocessors, in model order
func (d *Detector) Detect(ctx context.Context, img image.Image) (*types.DetectionResult, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.config.SendFormat, d.config.SendSize, d.config.SendQuality)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare image for model")
	}

	raw, err := d.client.DetectObjects(ctx, d.config.Model, d.Prompt(), imgB64)
	if err != nil {
		return nil, errors.Wrap(err, "detection failed")
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dets := make([]types.Detection, 0, len(raw))
	for _, det := range raw {
		dets = append(dets, d.normalize(det, w, h))
	}

	chain := []Postprocessor{NewScoreFilter(d.config.Confidence)}
	if d.config.MinArea > 0 {
		chain = append(chain, NewAreaFilter(d.config.MinArea))
	}
	for _, pp := range chain {
		dets = pp(dets)
	}

	return &types.DetectionResult{
		Detections: dets,
		Labels:     d.labels,
		Width:      w,
		Height:     h,
	}, nil
}

// normalize maps a named class onto the label table and brings the box into [0,1]
func (d *Detector) normalize(det types.Detection, imgW, imgH int) types.Detection {
	if det.ClassID < 0 && det.Label != "" {
		if id, ok := d.index[det.Label]; ok {
			det.ClassID = id
			det.Label = ""
		}
	}
	det.Box = normalizeBox(det.Box, imgW, imgH)
	return det
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// normalizeBox clamps box coordinates into [0,1], treating any coordinate above 1 as pixels
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}

	x0, y0 := clamp(b.X, 0, 1), clamp(b.Y, 0, 1)
	x1, y1 := clamp(b.X+b.W, 0, 1), clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}
