package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/types"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	entryColor   = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow, color.Bold).SprintFunc()
)

// Sink writes the report to a file and echoes it to a console writer
type Sink struct {
	path string
	out  io.Writer
}

// NewSink creates a sink writing to path and echoing to the colorable stdout
func NewSink(path string) *Sink {
	return &Sink{path: path, out: color.Output}
}

// NewSinkWithWriter creates a sink that echoes to w
func NewSinkWithWriter(path string, w io.Writer) *Sink {
	return &Sink{path: path, out: w}
}

// Path returns the report file path
func (s *Sink) Path() string {
	return s.path
}

// Text joins the rendered lines with newlines
func Text(lines []types.ReportLine) string {
	return strings.Join(Render(lines), "\n")
}

// Write overwrites the report file with the plain text report and echoes it
func (s *Sink) Write(lines []types.ReportLine) error {
	if s.path == "" {
		return errors.New("report path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create report directory for %s", s.path)
	}
	if err := os.WriteFile(s.path, []byte(Text(lines)), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", s.path)
	}

	if s.out == nil {
		return nil
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(s.out, colorize(l)); err != nil {
			return errors.Wrap(err, "failed to echo report")
		}
	}
	return nil
}

func colorize(l types.ReportLine) string {
	switch l.Kind {
	case types.LineHeader:
		return headerColor(l.String())
	case types.LineEntry:
		return entryColor(l.String())
	default:
		return warningColor(l.String())
	}
}

// Summary is the machine-readable companion of the text report
type Summary struct {
	Image      string          `json:"image"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Detections []SummaryObject `json:"detections"`
	Lines      []SummaryLine   `json:"lines"`
	Unmapped   []string        `json:"unmapped"`
}

// SummaryObject is a detection with its resolved component name
type SummaryObject struct {
	Component string `json:"component"`
	types.Detection
}

// SummaryLine is a report line with its rendered text
type SummaryLine struct {
	types.ReportLine
	Text string `json:"text"`
}

// NewSummary assembles the summary for a run
func NewSummary(image string, result *types.DetectionResult, lines []types.ReportLine) Summary {
	s := Summary{
		Image:      image,
		Detections: []SummaryObject{},
		Lines:      []SummaryLine{},
		Unmapped:   []string{},
	}
	if result != nil {
		s.Width, s.Height = result.Width, result.Height
		for _, d := range result.Detections {
			s.Detections = append(s.Detections, SummaryObject{Component: result.NameOf(d), Detection: d})
		}
	}
	seen := map[string]bool{}
	for _, l := range lines {
		s.Lines = append(s.Lines, SummaryLine{ReportLine: l, Text: l.String()})
		if l.Kind == types.LineWarning && !seen[l.Component] {
			seen[l.Component] = true
			s.Unmapped = append(s.Unmapped, l.Component)
		}
	}
	return s
}

// WriteSummary saves the summary as indented JSON
func WriteSummary(path string, summary Summary) error {
	if path == "" {
		return errors.New("summary path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create summary directory for %s", path)
	}
	js, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal summary")
	}
	return errors.Wrapf(os.WriteFile(path, js, 0o644), "failed to write summary %s", path)
}
