// Package gemini adapts the Google Gemini API to the orchestration core.
// Every attempt binds a fresh SDK client to the credential handed in by the
// executor, so pool rotation works without any shared client state.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"storyboard-server/internal/executor"
	"storyboard-server/internal/provider"
)

// Config holds the model names and per-request timeout.
type Config struct {
	TextModel  string
	ProModel   string
	ImageModel string
	Timeout    time.Duration
}

// Blob is an inline image handed to the model as conditioning input.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Client issues Gemini requests through the resilient executor.
type Client struct {
	exec   *executor.Executor
	cfg    Config
	logger *zap.Logger
}

// NewClient creates a Gemini client on top of the given executor.
func NewClient(exec *executor.Executor, cfg Config, logger *zap.Logger) *Client {
	return &Client{exec: exec, cfg: cfg, logger: logger.Named("GeminiClient")}
}

// GenerateText runs a plain text generation on the flash model.
func (c *Client) GenerateText(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	return executor.Do(ctx, c.exec, "gemini_text", func(ctx context.Context, apiKey string) (string, error) {
		return c.generate(ctx, apiKey, c.cfg.TextModel, systemInstruction, userPrompt, false)
	})
}

// GenerateLongText runs a text generation on the pro model, used for the
// heavier script work.
func (c *Client) GenerateLongText(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	return executor.Do(ctx, c.exec, "gemini_text_pro", func(ctx context.Context, apiKey string) (string, error) {
		return c.generate(ctx, apiKey, c.cfg.ProModel, systemInstruction, userPrompt, false)
	})
}

// GenerateJSON requests a structured JSON response and validates it before
// returning, tolerating an optional markdown code fence around the payload.
func (c *Client) GenerateJSON(ctx context.Context, modelName, systemInstruction, userPrompt string) (json.RawMessage, error) {
	if modelName == "" {
		modelName = c.cfg.TextModel
	}
	return executor.Do(ctx, c.exec, "gemini_json", func(ctx context.Context, apiKey string) (json.RawMessage, error) {
		text, err := c.generate(ctx, apiKey, modelName, systemInstruction, userPrompt, true)
		if err != nil {
			return nil, err
		}
		return provider.ExtractJSON(text)
	})
}

// GenerateImage produces one image from a prompt plus zero or more inline
// reference images and returns it as a data URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string, refs []Blob) (string, error) {
	return executor.Do(ctx, c.exec, "gemini_image", func(ctx context.Context, apiKey string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return "", classify(err)
		}
		defer client.Close()

		parts := make([]genai.Part, 0, len(refs)+1)
		parts = append(parts, genai.Text(prompt))
		for _, ref := range refs {
			parts = append(parts, genai.Blob{MIMEType: ref.MIMEType, Data: ref.Data})
		}

		resp, err := client.GenerativeModel(c.cfg.ImageModel).GenerateContent(ctx, parts...)
		if err != nil {
			return "", classify(err)
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
					return provider.FormatDataURL(blob.MIMEType, blob.Data), nil
				}
			}
		}
		return "", provider.InvalidResponse(errors.New("no image was generated by the API"))
	})
}

// generate issues one model call with the supplied key.
func (c *Client) generate(ctx context.Context, apiKey, modelName, systemInstruction, userPrompt string, asJSON bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", classify(err)
	}
	defer client.Close()

	m := client.GenerativeModel(modelName)
	if systemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	}
	if asJSON {
		m.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		c.logger.Warn("Gemini call failed",
			zap.String("model", modelName),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", classify(err)
	}

	text := collectText(resp)
	if strings.TrimSpace(text) == "" {
		return "", provider.InvalidResponse(fmt.Errorf("empty response from model %s", modelName))
	}
	c.logger.Debug("Gemini call succeeded",
		zap.String("model", modelName),
		zap.Int("response_chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

// collectText concatenates the text parts of the first candidate.
func collectText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}

// classify maps a Gemini SDK error onto the retry layer's error classes.
// The SDK usually yields a typed googleapi.Error, but some paths surface
// only the canonical status string in the message.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return provider.QuotaExhausted(err)
		case http.StatusServiceUnavailable:
			return provider.Unavailable(err)
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return provider.QuotaExhausted(err)
	case strings.Contains(msg, "UNAVAILABLE"):
		return provider.Unavailable(err)
	}
	return err
}
