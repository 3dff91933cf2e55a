package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	_, err := NewClient("http://localhost:11435/api/chat")
	assert.NoError(t, err)

	_, err = NewClient("localhost")
	assert.Error(t, err)

	_, err = NewClient("://bad")
	assert.Error(t, err)
}

func TestModelOptions(t *testing.T) {
	opts := modelOptions("openbmb/minicpm-v4.5")
	assert.Equal(t, 0.1, opts["temperature"])
	assert.Equal(t, 4096, opts["num_ctx"])

	opts = modelOptions("llava:13b")
	assert.NotContains(t, opts, "num_ctx")
}

func TestDetectObjects(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "llava",
			"message": map[string]any{
				"role":    "assistant",
				"content": "```json\n{\"detections\":[{\"class\":1,\"confidence\":0.9,\"box\":{\"x\":0.1,\"y\":0.2,\"w\":0.3,\"h\":0.4}}]}\n```",
			},
			"done": true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("not really a jpeg"))
	dets, err := c.DetectObjects(context.Background(), "llava", "find things", img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-9)
	assert.InDelta(t, 0.3, dets[0].Box.W, 1e-9)

	assert.Equal(t, "llava", got["model"])
	assert.Equal(t, "json", got["format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].(map[string]any)["images"], 1)
}

func TestDetectObjectsBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.DetectObjects(context.Background(), "llava", "p", "%%%")
	assert.ErrorContains(t, err, "base64")
}
