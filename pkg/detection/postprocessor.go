package detection

import (
	"github.com/samber/lo"

	"github.com/menta2k/stride-detect/pkg/types"
)

// Postprocessor filters or modifies detections. Implementations keep the input order.
type Postprocessor func([]types.Detection) []types.Detection

// NewScoreFilter drops detections with confidence below conf
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []types.Detection) []types.Detection {
		return lo.Filter(in, func(d types.Detection, _ int) bool {
			return d.Confidence >= conf
		})
	}
}

// NewAreaFilter drops detections whose normalized box area is below area
func NewAreaFilter(area float64) Postprocessor {
	return func(in []types.Detection) []types.Detection {
		return lo.Filter(in, func(d types.Detection, _ int) bool {
			return d.Box.Area() >= area
		})
	}
}
