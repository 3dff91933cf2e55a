package client

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)\s//[^"]*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// wireDetection is the shape a backend may use for one detection. Models are
// asked for {class, confidence, box{x,y,w,h}}. class_id, label and name are
// accepted too, and so are corner boxes, either [x1,y1,x2,y2] or the
// {x1,y1,x2,y2} object written by ultralytics Results.tojson().
// Confidence is required.
type wireDetection struct {
	Class      *int            `json:"class"`
	ClassID    *int            `json:"class_id"`
	Label      string          `json:"label"`
	Name       string          `json:"name"`
	Confidence *float64        `json:"confidence"`
	Box        json.RawMessage `json:"box"`
}

// wireBox holds both object box shapes; a field is nil when its key is absent
type wireBox struct {
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
	W  *float64 `json:"w"`
	H  *float64 `json:"h"`
	X1 *float64 `json:"x1"`
	Y1 *float64 `json:"y1"`
	X2 *float64 `json:"x2"`
	Y2 *float64 `json:"y2"`
}

type wireDocument struct {
	Detections []wireDetection `json:"detections"`
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from a model reply
// and keeps the outermost JSON object or array
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	// inline comments need leading whitespace so "https://..." inside strings survives
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	open, closing := "{", "}"
	obj := strings.Index(raw, "{")
	arr := strings.Index(raw, "[")
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closing = "[", "]"
	}
	if start := strings.Index(raw, open); start >= 0 {
		if end := strings.LastIndex(raw, closing); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// ParseDetections sanitizes a free-form model reply and decodes the detections in it
func ParseDetections(raw string) ([]types.Detection, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty model response")
	}
	clean := SanitizeModelJSON(raw)
	if !strings.HasPrefix(clean, "{") && !strings.HasPrefix(clean, "[") {
		return nil, errors.Errorf("model returned non-JSON response: %.120q", raw)
	}
	dets, err := DecodeDetections([]byte(clean))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse model response")
	}
	return dets, nil
}

// DecodeDetections decodes a detections document: either {"detections": [...]} or a bare array
func DecodeDetections(data []byte) ([]types.Detection, error) {
	data = bytes.TrimSpace(data)

	var wire []wireDetection
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, errors.Wrap(err, "invalid detections array")
		}
	} else {
		var doc wireDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "invalid detections document")
		}
		wire = doc.Detections
	}

	out := make([]types.Detection, 0, len(wire))
	for i, w := range wire {
		d, err := w.toDetection()
		if err != nil {
			return nil, errors.Wrapf(err, "detection %d", i)
		}
		out = append(out, d)
	}
	return out, nil
}

func (w wireDetection) toDetection() (types.Detection, error) {
	if w.Confidence == nil {
		return types.Detection{}, errors.New("detection has no confidence")
	}
	d := types.Detection{
		ClassID:    -1,
		Label:      w.Label,
		Confidence: *w.Confidence,
	}
	if d.Label == "" {
		d.Label = w.Name
	}
	switch {
	case w.Class != nil:
		d.ClassID = *w.Class
	case w.ClassID != nil:
		d.ClassID = *w.ClassID
	case d.Label == "":
		return d, errors.New("detection has neither a class id nor a label")
	}

	box := bytes.TrimSpace(w.Box)
	switch {
	case len(box) == 0 || bytes.Equal(box, []byte("null")):
	case box[0] == '[':
		var xyxy []float64
		if err := json.Unmarshal(box, &xyxy); err != nil {
			return d, errors.Wrap(err, "invalid box")
		}
		if len(xyxy) != 4 {
			return d, errors.Errorf("box must have 4 coordinates, got %d", len(xyxy))
		}
		d.Box = types.Box{X: xyxy[0], Y: xyxy[1], W: xyxy[2] - xyxy[0], H: xyxy[3] - xyxy[1]}
	default:
		var wb wireBox
		if err := json.Unmarshal(box, &wb); err != nil {
			return d, errors.Wrap(err, "invalid box")
		}
		b, err := wb.toBox()
		if err != nil {
			return d, err
		}
		d.Box = b
	}
	return d, nil
}

func (b wireBox) toBox() (types.Box, error) {
	switch {
	case b.X != nil && b.Y != nil && b.W != nil && b.H != nil:
		return types.Box{X: *b.X, Y: *b.Y, W: *b.W, H: *b.H}, nil
	case b.X1 != nil && b.Y1 != nil && b.X2 != nil && b.Y2 != nil:
		return types.Box{X: *b.X1, Y: *b.Y1, W: *b.X2 - *b.X1, H: *b.Y2 - *b.Y1}, nil
	default:
		return types.Box{}, errors.New("box must have x,y,w,h or x1,y1,x2,y2")
	}
}
