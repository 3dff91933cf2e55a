package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/stride-detect/pkg/client"
)

var _ client.VisionClient = (*Client)(nil)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectObjects(t *testing.T) {
	path := writeFile(t, `{"detections": [{"class": 2, "confidence": 0.7, "box": [0, 0, 10, 10]}]}`)
	c, err := NewClient(path)
	require.NoError(t, err)

	dets, err := c.DetectObjects(context.Background(), "", "", "")
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 2, dets[0].ClassID)
	assert.Equal(t, 10.0, dets[0].Box.W)
}

func TestDetectObjectsUltralyticsExport(t *testing.T) {
	path := writeFile(t, `[{"name": "Process", "class": 0, "confidence": 0.88, "box": {"x1": 12, "y1": 30, "x2": 92, "y2": 80}}]`)
	c, err := NewClient(path)
	require.NoError(t, err)

	dets, err := c.DetectObjects(context.Background(), "", "", "")
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0.88, dets[0].Confidence)
	assert.Equal(t, 12.0, dets[0].Box.X)
	assert.Equal(t, 30.0, dets[0].Box.Y)
	assert.Equal(t, 80.0, dets[0].Box.W)
	assert.Equal(t, 50.0, dets[0].Box.H)
}

func TestDetectObjectsMissingConfidence(t *testing.T) {
	c, err := NewClient(writeFile(t, `[{"class": 0, "box": [0, 0, 10, 10]}]`))
	require.NoError(t, err)

	_, err = c.DetectObjects(context.Background(), "", "", "")
	assert.ErrorContains(t, err, "confidence")
}

func TestDetectObjectsStrict(t *testing.T) {
	c, err := NewClient(writeFile(t, "```json\n[]\n```"))
	require.NoError(t, err)

	_, err = c.DetectObjects(context.Background(), "", "", "")
	assert.Error(t, err)
}

func TestDetectObjectsMissingFile(t *testing.T) {
	c, err := NewClient(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	_, err = c.DetectObjects(context.Background(), "", "", "")
	assert.ErrorContains(t, err, "nope.json")
}

func TestDetectObjectsCancelled(t *testing.T) {
	c, err := NewClient(writeFile(t, `[]`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.DetectObjects(ctx, "", "", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClientEmptyPath(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestSimpleQueryUnsupported(t *testing.T) {
	c, err := NewClient("x.json")
	require.NoError(t, err)
	_, err = c.SimpleQuery(context.Background(), "", "", "")
	assert.Error(t, err)
}
