// Package replay provides a VisionClient that serves detections recorded by an
// external detector, such as a YOLO run exported to JSON. It lets the pipeline
// run without a model server.
package replay

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/client"
	"github.com/menta2k/stride-detect/pkg/types"
)

// Client replays detections from a file
type Client struct {
	path string
}

// NewClient creates a replay client for the detections file at path
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, errors.New("replay: detections file path is empty")
	}
	return &Client{path: path}, nil
}

// SimpleQuery is not supported: there is no model behind a replay
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "", errors.New("replay: free-form queries are not supported")
}

// DetectObjects ignores the prompt and image and returns the recorded detections
func (c *Client) DetectObjects(ctx context.Context, model, prompt, imgB64 string) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, errors.Wrapf(err, "replay: failed to read detections %s", c.path)
	}
	dets, err := client.DecodeDetections(data)
	if err != nil {
		return nil, errors.Wrapf(err, "replay: failed to parse detections %s", c.path)
	}
	return dets, nil
}
