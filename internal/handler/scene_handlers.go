package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
)

type generateScenesRequest struct {
	PromptType string `json:"prompt_type"`
}

// sceneEvent - одно событие ndjson-стрима генерации сцен.
type sceneEvent struct {
	Type     string         `json:"type"` // "scene", "done", "error"
	Scene    *model.Scene   `json:"scene,omitempty"`
	Progress int            `json:"progress,omitempty"`
	Target   int            `json:"target,omitempty"`
	Project  *model.Project `json:"project,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// generateScenes обрабатывает POST /projects/:id/scenes. С параметром
// ?stream=true сцены отдаются клиенту по мере генерации, по одному
// JSON-объекту на строку.
func (h *StoryboardHandler) generateScenes(c *gin.Context) {
	var req generateScenesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
			return
		}
	}
	h.runSceneGeneration(c, func(observe service.SceneObserver) (*model.Project, error) {
		return h.service.GenerateScenes(c.Request.Context(), c.Param("id"), req.PromptType, observe)
	})
}

// resumeScenes обрабатывает POST /projects/:id/scenes/resume: продолжает
// прерванную генерацию с сохраненными параметрами запуска.
func (h *StoryboardHandler) resumeScenes(c *gin.Context) {
	h.runSceneGeneration(c, func(observe service.SceneObserver) (*model.Project, error) {
		return h.service.ResumeScenes(c.Request.Context(), c.Param("id"), observe)
	})
}

func (h *StoryboardHandler) runSceneGeneration(c *gin.Context, run func(service.SceneObserver) (*model.Project, error)) {
	if c.Query("stream") != "true" {
		project, err := run(nil)
		if err != nil {
			h.handlePartialError(c, project, err)
			return
		}
		c.JSON(http.StatusOK, project)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Message: "Streaming unsupported"})
		return
	}

	enc := json.NewEncoder(c.Writer)
	writeEvent := func(event sceneEvent) {
		if err := enc.Encode(event); err != nil {
			h.logger.Warn("Ошибка записи события клиенту", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	project, err := run(func(added model.Scene, accumulated []model.Scene, target int) {
		scene := added
		writeEvent(sceneEvent{Type: "scene", Scene: &scene, Progress: len(accumulated), Target: target})
	})
	if err != nil {
		event := sceneEvent{Type: "error", Message: err.Error(), Project: project}
		var partial *service.PartialGenerationError
		if errors.As(err, &partial) {
			event.Progress = partial.Generated
			event.Target = partial.Target
		}
		writeEvent(event)
		return
	}
	writeEvent(sceneEvent{Type: "done", Project: project})
}
