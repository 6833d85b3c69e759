// Package aivideo adapts the AIVideoAuto API: image upload/generation and
// the asynchronous video job endpoints. The provider speaks form-encoded
// POSTs with a single fixed access token.
package aivideo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/model"
	"storyboard-server/internal/provider"
)

// ErrNoAccessToken - не настроен access token AIVideoAuto.
var ErrNoAccessToken = errors.New("AIVideoAuto access token is required")

// Config holds the provider endpoint settings.
type Config struct {
	BaseURL     string
	Domain      string
	AccessToken string
	Timeout     time.Duration
}

// Client calls the AIVideoAuto API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates an AIVideoAuto client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("AIVideoClient"),
		token:  cfg.AccessToken,
	}
}

// SetAccessToken replaces the token used for subsequent requests.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// baseParams returns the parameters every endpoint requires.
func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("access_token", c.accessToken())
	params.Set("domain", c.cfg.Domain)
	return params
}

// post sends one form-encoded request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, endpoint string, params url.Values, out any) error {
	endpointURL := c.cfg.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("Sending request to AIVideoAuto", zap.String("endpoint", endpoint))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("AIVideoAuto returned non-OK status",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes))
		if msg := errorMessage(bodyBytes); msg != "" {
			return fmt.Errorf("API error in %s: %s", endpoint, msg)
		}
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if readErr != nil {
		return fmt.Errorf("failed to read response body: %w", readErr)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return provider.InvalidResponse(fmt.Errorf("invalid JSON from %s: %w", endpoint, err))
	}
	return nil
}

// errorMessage extracts the provider's {"message": ...} payload, if any.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// ListModels fetches the models available for the given type ("image" or
// "video"). Doubles as the access-token validity check.
func (c *Client) ListModels(ctx context.Context, modelType string) ([]model.AIVideoModel, error) {
	if c.accessToken() == "" {
		return nil, ErrNoAccessToken
	}
	params := c.baseParams()
	params.Set("type", modelType)

	var result struct {
		Data    []model.AIVideoModel `json:"data"`
		Message string               `json:"message"`
	}
	if err := c.post(ctx, "/models", params, &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		if result.Message != "" {
			return nil, fmt.Errorf("API error in /models: %s", result.Message)
		}
		return nil, provider.InvalidResponse(errors.New("invalid response structure from model list API"))
	}
	return result.Data, nil
}

// imageInfoResponse is shared by the upload and generate endpoints.
type imageInfoResponse struct {
	ImageInfo *struct {
		URL    string `json:"url"`
		IDBase string `json:"id_base"`
	} `json:"imageInfo"`
	Message string `json:"message"`
}

func (r *imageInfoResponse) toReference(context string) (model.ReferenceImage, error) {
	if r.ImageInfo != nil && r.ImageInfo.URL != "" && r.ImageInfo.IDBase != "" {
		return model.ReferenceImage{URL: r.ImageInfo.URL, IDBase: r.ImageInfo.IDBase}, nil
	}
	if r.Message != "" {
		return model.ReferenceImage{}, fmt.Errorf("API error in %s: %s", context, r.Message)
	}
	return model.ReferenceImage{}, provider.InvalidResponse(fmt.Errorf("%s failed, invalid response from API", context))
}

// UploadImage uploads raw image bytes and returns the hosted reference.
func (c *Client) UploadImage(ctx context.Context, fileName string, base64Data string) (model.ReferenceImage, error) {
	if c.accessToken() == "" {
		return model.ReferenceImage{}, ErrNoAccessToken
	}
	params := c.baseParams()
	params.Set("data", base64Data)
	params.Set("project_id", "default")
	params.Set("file_name", fileName)
	params.Set("size", strconv.Itoa(len(base64Data)))

	var result imageInfoResponse
	if err := c.post(ctx, "/image-upload", params, &result); err != nil {
		return model.ReferenceImage{}, err
	}
	return result.toReference("image upload")
}

// GenerateImage generates an image from a prompt plus optional subject
// references. Data-URL references are sent inline as base64; hosted ones by
// URL. Foreign id_base values (locally minted "google_…" ids) are omitted.
func (c *Client) GenerateImage(ctx context.Context, modelID, prompt, ratio string, refs []model.ReferenceImage) (model.ReferenceImage, error) {
	if c.accessToken() == "" {
		return model.ReferenceImage{}, ErrNoAccessToken
	}
	if modelID == "" {
		return model.ReferenceImage{}, errors.New("a model must be selected")
	}

	params := c.baseParams()
	params.Set("action_type", "create")
	params.Set("model", modelID)
	params.Set("prompt", prompt)
	params.Set("project_id", "default")
	params.Set("ratio", ratio)

	for i, ref := range refs {
		if base64Data := provider.Base64FromDataURL(ref.URL); base64Data != "" {
			params.Set(fmt.Sprintf("subjects[%d][data]", i), base64Data)
		} else {
			params.Set(fmt.Sprintf("subjects[%d][url]", i), ref.URL)
		}
		if ref.IDBase != "" && !strings.HasPrefix(ref.IDBase, "google_") {
			params.Set(fmt.Sprintf("subjects[%d][id_base]", i), ref.IDBase)
		}
	}

	var result imageInfoResponse
	if err := c.post(ctx, "/generateImage", params, &result); err != nil {
		return model.ReferenceImage{}, err
	}
	return result.toReference("image generation")
}

// CreateVideo submits a video rendering job and returns its initial state.
func (c *Client) CreateVideo(ctx context.Context, modelID, prompt string, images []model.ReferenceImage) (model.VideoGenerationResult, error) {
	if c.accessToken() == "" {
		return model.VideoGenerationResult{}, ErrNoAccessToken
	}
	if modelID == "" {
		return model.VideoGenerationResult{}, errors.New("a video model must be selected")
	}

	params := c.baseParams()
	params.Set("model", modelID)
	params.Set("prompt", prompt)
	params.Set("privacy", "PRIVATE")
	params.Set("project_id", "default")
	params.Set("translate_to_en", "true")
	for i, img := range images {
		params.Set(fmt.Sprintf("images[%d][id_base]", i), img.IDBase)
		params.Set(fmt.Sprintf("images[%d][url]", i), img.URL)
	}

	var result struct {
		VideoInfo *struct {
			IDBase string `json:"id_base"`
			Status string `json:"status"`
			Prompt string `json:"prompt"`
		} `json:"videoInfo"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/create-video", params, &result); err != nil {
		return model.VideoGenerationResult{}, err
	}

	if result.VideoInfo == nil || result.VideoInfo.IDBase == "" {
		if result.Message != "" {
			return model.VideoGenerationResult{}, fmt.Errorf("API error in video creation: %s", result.Message)
		}
		return model.VideoGenerationResult{}, provider.InvalidResponse(errors.New("video creation request failed, invalid response from API"))
	}

	status := model.VideoStatus(result.VideoInfo.Status)
	if status == "" {
		status = model.VideoStatusPending
	}
	return model.VideoGenerationResult{
		IDBase: result.VideoInfo.IDBase,
		Status: status,
		Prompt: result.VideoInfo.Prompt,
	}, nil
}

// VideoStatus queries the state of a previously submitted job.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (model.VideoGenerationResult, error) {
	if c.accessToken() == "" {
		return model.VideoGenerationResult{}, ErrNoAccessToken
	}
	if videoID == "" {
		return model.VideoGenerationResult{}, errors.New("video ID is required to check status")
	}

	params := c.baseParams()
	params.Set("videoId", videoID)

	var result struct {
		IDBase       string `json:"id_base"`
		Status       string `json:"status"`
		DownloadURL  string `json:"download_url"`
		ThumbnailURL string `json:"thumbnail_url"`
		Message      string `json:"message"`
	}
	if err := c.post(ctx, "/video", params, &result); err != nil {
		return model.VideoGenerationResult{}, err
	}

	if result.IDBase == "" {
		if result.Message != "" {
			return model.VideoGenerationResult{}, fmt.Errorf("API error in video status: %s", result.Message)
		}
		return model.VideoGenerationResult{}, provider.InvalidResponse(errors.New("video status check failed, invalid response from API"))
	}

	// The provider can report a failure message inside an otherwise
	// well-formed status response.
	if strings.Contains(result.Status, "FAILED") && result.Message != "" {
		return model.VideoGenerationResult{}, fmt.Errorf("API error in video status: %s", result.Message)
	}

	return model.VideoGenerationResult{
		IDBase:       result.IDBase,
		Status:       model.VideoStatus(result.Status),
		DownloadURL:  result.DownloadURL,
		ThumbnailURL: result.ThumbnailURL,
	}, nil
}
