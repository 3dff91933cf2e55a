package client

import (
	"context"

	"github.com/menta2k/stride-detect/pkg/types"
)

// VisionClient is an object-detection backend reachable by the pipeline
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectObjects(ctx context.Context, model, prompt, imgB64 string) ([]types.Detection, error)
}
