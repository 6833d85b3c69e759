// Package whomeai adapts the WhomeAI image API. Generation goes through the
// OpenAI-compatible images endpoint; the provider's non-standard image-edit
// endpoint is called directly with the same credential. A single fixed API
// key is used, so failures are retried in place (no pool rotation) with a
// shorter profile than the pooled executor: max 3 attempts, 2s base
// backoff, retrying only network errors and HTTP 429/503.
package whomeai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyboard-server/internal/provider"
)

// ErrNoAPIKey - не настроен API ключ WhomeAI.
var ErrNoAPIKey = errors.New("WhomeAI API key is required")

// Config holds the provider settings.
type Config struct {
	BaseURL     string
	ImageModel  string
	EditModel   string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// Client calls the WhomeAI API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu  sync.RWMutex
	key string
	api *openai.Client
}

// NewClient creates a WhomeAI client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("WhomeAIClient"),
	}
	c.SetAPIKey(cfg.APIKey)
	return c
}

// SetAPIKey replaces the credential used for subsequent requests.
func (c *Client) SetAPIKey(key string) {
	apiConfig := openai.DefaultConfig(key)
	apiConfig.BaseURL = c.cfg.BaseURL
	apiConfig.HTTPClient = c.http

	c.mu.Lock()
	c.key = key
	c.api = openai.NewClientWithConfig(apiConfig)
	c.mu.Unlock()
}

func (c *Client) apiKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

func (c *Client) apiClient() *openai.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api
}

// GenerateImage produces one image from a prompt and returns it as a data
// URL. size is an OpenAI-style dimension string ("1792x1024" or
// "1024x1792").
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	if c.apiKey() == "" {
		return "", ErrNoAPIKey
	}

	var resp openai.ImageResponse
	err := c.withRetry(ctx, "images/generations", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.apiClient().CreateImage(ctx, openai.ImageRequest{
			Model:          c.cfg.ImageModel,
			Prompt:         prompt,
			N:              1,
			Size:           size,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", provider.InvalidResponse(errors.New("image generation failed, invalid response from WhomeAI API"))
	}
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

// editRequest is the payload of the provider's image-edit endpoint.
type editRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	Images         []string `json:"images"`
	N              int      `json:"n"`
	Size           string   `json:"size"`
	ResponseFormat string   `json:"response_format"`
}

// EditImage regenerates an image from a prompt plus one or more reference
// images given as data URLs, returning a data URL.
func (c *Client) EditImage(ctx context.Context, prompt string, referenceURLs []string, size string) (string, error) {
	if c.apiKey() == "" {
		return "", ErrNoAPIKey
	}
	if len(referenceURLs) == 0 {
		return "", errors.New("at least one reference image is required for editing")
	}

	images := make([]string, 0, len(referenceURLs))
	for _, url := range referenceURLs {
		if b64 := provider.Base64FromDataURL(url); b64 != "" {
			images = append(images, b64)
		}
	}
	if len(images) == 0 {
		return "", errors.New("no valid base64 reference images found")
	}

	payload, err := json.Marshal(editRequest{
		Model:          c.cfg.EditModel,
		Prompt:         prompt,
		Images:         images,
		N:              1,
		Size:           size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal edit request: %w", err)
	}

	var result struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	err = c.withRetry(ctx, "images/image-edit", func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/images/image-edit", bytes.NewReader(payload))
		if reqErr != nil {
			return fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey())

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		bodyBytes, readErr := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{status: resp.StatusCode, body: string(bodyBytes)}
		}
		if readErr != nil {
			return fmt.Errorf("failed to read response body: %w", readErr)
		}
		if jsonErr := json.Unmarshal(bodyBytes, &result); jsonErr != nil {
			return provider.InvalidResponse(fmt.Errorf("invalid JSON from image-edit: %w", jsonErr))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if result.Error != nil && result.Error.Message != "" {
		return "", fmt.Errorf("API error in image-edit: %s", result.Error.Message)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return "", provider.InvalidResponse(errors.New("image editing failed, invalid response from WhomeAI API"))
	}
	return "data:image/png;base64," + result.Data[0].B64JSON, nil
}

// httpStatusError keeps the status code of a raw HTTP failure for the
// retry decision.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.status, e.body)
}

// withRetry retries fn on transient failures with doubling backoff.
func (c *Client) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == c.cfg.MaxAttempts-1 {
			break
		}

		backoff := c.cfg.BaseBackoff * (1 << attempt)
		c.logger.Info("WhomeAI request failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("error in %s: %w", operation, lastErr)
}

// isRetryable reports whether err is a network failure or an HTTP 429/503.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests ||
			statusErr.status == http.StatusServiceUnavailable
	}
	if provider.Classify(err) == provider.ClassInvalidResponse {
		return false
	}
	// Anything that never produced an HTTP status is a network error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
