package types

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the normalized area of the box
func (b Box) Area() float64 {
	return b.W * b.H
}

// Detection is one object instance located by the detector.
// Label is only set when the backend named the class instead of numbering it.
type Detection struct {
	ClassID    int     `json:"class"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Labels is the detector's names table: index i holds the component name for class id i
type Labels []string

// Resolve returns the component name for a class id. Unknown ids and ids whose
// name is blank resolve to their decimal form and false.
func (l Labels) Resolve(classID int) (string, bool) {
	if classID < 0 || classID >= len(l) || l[classID] == "" {
		return strconv.Itoa(classID), false
	}
	return l[classID], true
}

// DetectionResult is the ordered output of a single detection run
type DetectionResult struct {
	Detections []Detection `json:"detections"`
	Labels     Labels      `json:"-"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
}

// NameOf resolves a detection to its component name
func (r *DetectionResult) NameOf(d Detection) string {
	name, ok := r.Labels.Resolve(d.ClassID)
	if !ok && d.Label != "" {
		return d.Label
	}
	return name
}

// Names resolves every detection to its component name, in detection order
func (r *DetectionResult) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		names = append(names, r.NameOf(d))
	}
	return names
}

// ThreatEntry pairs a threat with its mitigation text
type ThreatEntry struct {
	Threat     string `json:"threat"`
	Mitigation string `json:"mitigation"`
}

// LineKind tells what a report line represents
type LineKind int

const (
	LineHeader LineKind = iota
	LineEntry
	LineWarning
)

func (k LineKind) String() string {
	switch k {
	case LineHeader:
		return "header"
	case LineEntry:
		return "entry"
	case LineWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k LineKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText
func (k *LineKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "header":
		*k = LineHeader
	case "entry":
		*k = LineEntry
	case "warning":
		*k = LineWarning
	default:
		return errors.Errorf("unknown line kind %q", text)
	}
	return nil
}

// ReportLine is one line of the threat report
type ReportLine struct {
	Kind       LineKind `json:"kind"`
	Component  string   `json:"component"`
	Threat     string   `json:"threat,omitempty"`
	Mitigation string   `json:"mitigation,omitempty"`
}

// String renders the line as it appears in the text report
func (l ReportLine) String() string {
	switch l.Kind {
	case LineHeader:
		return fmt.Sprintf("--- %s ---", l.Component)
	case LineEntry:
		return fmt.Sprintf("%s: %s", l.Threat, l.Mitigation)
	default:
		return fmt.Sprintf("WARNING: %s (not mapped in threat database)", l.Component)
	}
}
