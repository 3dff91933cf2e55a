package report

import (
	"github.com/menta2k/stride-detect/pkg/types"
)

// ThreatLookup is the read side of the threat database
type ThreatLookup interface {
	Lookup(component string) ([]types.ThreatEntry, bool)
}

// Builder maps detections to report lines
type Builder struct {
	db ThreatLookup
}

// NewBuilder creates a report builder over a threat database
func NewBuilder(db ThreatLookup) *Builder {
	return &Builder{db: db}
}

// Build resolves every detection to its component name and builds the report.
// A nil result yields an empty report.
func (b *Builder) Build(result *types.DetectionResult) []types.ReportLine {
	return b.BuildFromNames(result.Names())
}

// BuildFromNames builds the report for component names given in detection order.
// A known component contributes a header followed by one line per threat; an
// unknown one contributes a single warning. Repeated names are not merged.
func (b *Builder) BuildFromNames(names []string) []types.ReportLine {
	lines := []types.ReportLine{}
	for _, name := range names {
		threats, ok := b.db.Lookup(name)
		if !ok {
			lines = append(lines, types.ReportLine{Kind: types.LineWarning, Component: name})
			continue
		}
		lines = append(lines, types.ReportLine{Kind: types.LineHeader, Component: name})
		for _, t := range threats {
			lines = append(lines, types.ReportLine{
				Kind:       types.LineEntry,
				Component:  name,
				Threat:     t.Threat,
				Mitigation: t.Mitigation,
			})
		}
	}
	return lines
}

// Render returns the text form of each line
func Render(lines []types.ReportLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return out
}
