package whomeai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-server/internal/provider/whomeai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *whomeai.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return whomeai.NewClient(whomeai.Config{
		BaseURL:     server.URL,
		ImageModel:  "img-model",
		EditModel:   "edit-model",
		APIKey:      "key-1",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, zap.NewNop())
}

func TestGenerateImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/generations", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req struct {
			Model          string `json:"model"`
			Prompt         string `json:"prompt"`
			Size           string `json:"size"`
			ResponseFormat string `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "img-model", req.Model)
		assert.Equal(t, "a skyline", req.Prompt)
		assert.Equal(t, "1792x1024", req.Size)
		assert.Equal(t, "b64_json", req.ResponseFormat)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [{"b64_json": "QkJCQg=="}]}`))
	})

	dataURL, err := client.GenerateImage(context.Background(), "a skyline", "1792x1024")

	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QkJCQg==", dataURL)
}

func TestGenerateImage_NoKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	client.SetAPIKey("")

	_, err := client.GenerateImage(context.Background(), "prompt", "1792x1024")

	assert.ErrorIs(t, err, whomeai.ErrNoAPIKey)
}

func TestSetAPIKey_RebuildsAuth(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [{"b64_json": "QQ=="}]}`))
	})
	client.SetAPIKey("rotated")

	_, err := client.GenerateImage(context.Background(), "prompt", "1792x1024")

	require.NoError(t, err)
	assert.Equal(t, "Bearer rotated", gotAuth)
}

func TestEditImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/image-edit", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Model          string   `json:"model"`
			Prompt         string   `json:"prompt"`
			Images         []string `json:"images"`
			N              int      `json:"n"`
			Size           string   `json:"size"`
			ResponseFormat string   `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "edit-model", req.Model)
		// в payload уходит голый base64, без data:-префикса
		assert.Equal(t, []string{"AAAA", "QkJCQg=="}, req.Images)
		assert.Equal(t, 1, req.N)
		assert.Equal(t, "1024x1792", req.Size)
		assert.Equal(t, "b64_json", req.ResponseFormat)

		w.Write([]byte(`{"data": [{"b64_json": "Q0NDQw=="}]}`))
	})

	refs := []string{
		"data:image/png;base64,AAAA",
		"https://cdn/hosted.png", // не data URL, отбрасывается
		"data:image/jpeg;base64,QkJCQg==",
	}
	dataURL, err := client.EditImage(context.Background(), "merge them", refs, "1024x1792")

	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,Q0NDQw==", dataURL)
}

func TestEditImage_RequiresReferences(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	_, err := client.EditImage(context.Background(), "prompt", nil, "1792x1024")
	require.Error(t, err)

	// референсы есть, но ни один не является data URL
	_, err = client.EditImage(context.Background(), "prompt", []string{"https://cdn/a.png"}, "1792x1024")
	require.Error(t, err)
}

func TestEditImage_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "rate limited"}}`))
			return
		}
		w.Write([]byte(`{"data": [{"b64_json": "QQ=="}]}`))
	})

	dataURL, err := client.EditImage(context.Background(), "prompt",
		[]string{"data:image/png;base64,AAAA"}, "1792x1024")

	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QQ==", dataURL)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEditImage_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad prompt"}}`))
	})

	_, err := client.EditImage(context.Background(), "prompt",
		[]string{"data:image/png;base64,AAAA"}, "1792x1024")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestEditImage_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.EditImage(context.Background(), "prompt",
		[]string{"data:image/png;base64,AAAA"}, "1792x1024")

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEditImage_ProviderErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "unsupported image size"}}`))
	})

	_, err := client.EditImage(context.Background(), "prompt",
		[]string{"data:image/png;base64,AAAA"}, "1792x1024")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image size")
}
