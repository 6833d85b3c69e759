package aivideo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
	"storyboard-server/internal/provider"
	"storyboard-server/internal/provider/aivideo"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*aivideo.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := aivideo.NewClient(aivideo.Config{
		BaseURL:     server.URL,
		Domain:      "example.com",
		AccessToken: "token-1",
		Timeout:     5 * time.Second,
	}, zap.NewNop())
	return client, server
}

func TestListModels(t *testing.T) {
	var gotForm map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"access_token": r.PostForm.Get("access_token"),
			"domain":       r.PostForm.Get("domain"),
			"type":         r.PostForm.Get("type"),
		}
		w.Write([]byte(`{"data": [{"id": "flux-1", "name": "Flux", "type": "image"}]}`))
	})

	models, err := client.ListModels(context.Background(), "image")

	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "flux-1", models[0].ID)
	assert.Equal(t, map[string]string{
		"access_token": "token-1",
		"domain":       "example.com",
		"type":         "image",
	}, gotForm)
}

func TestListModels_NoToken(t *testing.T) {
	called := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	client.SetAccessToken("")

	_, err := client.ListModels(context.Background(), "image")

	assert.ErrorIs(t, err, aivideo.ErrNoAccessToken)
	assert.False(t, called, "no request should be sent without a token")
}

func TestSetAccessToken_UsedOnNextRequest(t *testing.T) {
	var gotToken string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotToken = r.PostForm.Get("access_token")
		w.Write([]byte(`{"data": []}`))
	})
	client.SetAccessToken("rotated")

	// data: [] вместо null сообщает об отсутствии моделей, а не об ошибке
	_, err := client.ListModels(context.Background(), "video")

	require.NoError(t, err)
	assert.Equal(t, "rotated", gotToken)
}

func TestGenerateImage_SubjectEncoding(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "create", r.PostForm.Get("action_type"))
		assert.Equal(t, "flux-1", r.PostForm.Get("model"))
		assert.Equal(t, "16_9", r.PostForm.Get("ratio"))
		// data URL передается как inline base64
		assert.Equal(t, "AAAA", r.PostForm.Get("subjects[0][data]"))
		assert.Empty(t, r.PostForm.Get("subjects[0][url]"))
		// локальный google_-идентификатор не отправляется
		assert.Empty(t, r.PostForm.Get("subjects[0][id_base]"))
		// хостед-референс уходит по URL вместе со своим id_base
		assert.Equal(t, "https://cdn/ref.png", r.PostForm.Get("subjects[1][url]"))
		assert.Equal(t, "54321", r.PostForm.Get("subjects[1][id_base]"))
		w.Write([]byte(`{"imageInfo": {"url": "https://cdn/out.png", "id_base": "99999"}}`))
	})

	refs := []model.ReferenceImage{
		{URL: "data:image/png;base64,AAAA", IDBase: "google_abc"},
		{URL: "https://cdn/ref.png", IDBase: "54321"},
	}
	img, err := client.GenerateImage(context.Background(), "flux-1", "a skyline", "16_9", refs)

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/out.png", img.URL)
	assert.Equal(t, "99999", img.IDBase)
}

func TestGenerateImage_RequiresModel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})

	_, err := client.GenerateImage(context.Background(), "", "prompt", "16_9", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model must be selected")
}

func TestGenerateImage_ProviderMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": "insufficient credits"}`))
	})

	_, err := client.GenerateImage(context.Background(), "flux-1", "prompt", "16_9", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient credits")
}

func TestPost_NonOKStatusExtractsMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message": "quota exceeded for today"}`))
	})

	_, err := client.ListModels(context.Background(), "image")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded for today")
}

func TestPost_InvalidJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	})

	_, err := client.ListModels(context.Background(), "image")

	require.Error(t, err)
	assert.Equal(t, provider.ClassInvalidResponse, provider.Classify(err))
}

func TestCreateVideo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/create-video", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "veo-like", r.PostForm.Get("model"))
		assert.Equal(t, "PRIVATE", r.PostForm.Get("privacy"))
		assert.Equal(t, "12345", r.PostForm.Get("images[0][id_base]"))
		assert.Equal(t, "https://cdn/seed.png", r.PostForm.Get("images[0][url]"))
		w.Write([]byte(`{"videoInfo": {"id_base": "vid-1", "status": "", "prompt": "action"}}`))
	})

	result, err := client.CreateVideo(context.Background(), "veo-like", "action",
		[]model.ReferenceImage{{URL: "https://cdn/seed.png", IDBase: "12345"}})

	require.NoError(t, err)
	assert.Equal(t, "vid-1", result.IDBase)
	// пустой статус от провайдера трактуем как pending
	assert.Equal(t, model.VideoStatusPending, result.Status)
}

func TestVideoStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/video", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "vid-1", r.PostForm.Get("videoId"))
		w.Write([]byte(`{
			"id_base": "vid-1",
			"status": "MEDIA_GENERATION_STATUS_SUCCESSFUL",
			"download_url": "https://cdn/out.mp4",
			"thumbnail_url": "https://cdn/out.jpg"
		}`))
	})

	result, err := client.VideoStatus(context.Background(), "vid-1")

	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusSuccessful, result.Status)
	assert.Equal(t, "https://cdn/out.mp4", result.DownloadURL)
	assert.Equal(t, "https://cdn/out.jpg", result.ThumbnailURL)
}

func TestVideoStatus_FailedWithMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id_base": "vid-1", "status": "MEDIA_GENERATION_STATUS_FAILED", "message": "content policy"}`))
	})

	_, err := client.VideoStatus(context.Background(), "vid-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "content policy")
}
