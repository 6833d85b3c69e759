package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-server/internal/executor"
	"storyboard-server/internal/model"
	"storyboard-server/internal/provider"
	"storyboard-server/internal/service"
)

func (h *StoryboardHandler) handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp APIError

	switch {
	case errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrSceneNotFound),
		errors.Is(err, service.ErrCharacterNotFound),
		errors.Is(err, service.ErrImageNotFound),
		errors.Is(err, service.ErrNoVideoJob):
		statusCode = http.StatusNotFound
		errResp = APIError{Message: err.Error()}

	case errors.Is(err, service.ErrNotEnoughRefs),
		errors.Is(err, service.ErrDurationTooShort):
		statusCode = http.StatusBadRequest
		errResp = APIError{Message: err.Error()}

	case errors.Is(err, executor.ErrNoCredentials):
		statusCode = http.StatusBadRequest
		errResp = APIError{Message: "No API keys configured. Add Gemini keys in settings."}

	case errors.Is(err, executor.ErrAllKeysExhausted),
		errors.Is(err, executor.ErrSingleKeyExhausted):
		statusCode = http.StatusTooManyRequests
		errResp = APIError{Message: err.Error()}

	case errors.Is(err, executor.ErrModelOverloaded),
		provider.Classify(err) == provider.ClassUnavailable:
		statusCode = http.StatusServiceUnavailable
		errResp = APIError{Message: err.Error()}

	case provider.Classify(err) == provider.ClassInvalidResponse:
		statusCode = http.StatusBadGateway
		errResp = APIError{Message: err.Error()}

	default:
		h.logger.Error("Unhandled internal error", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = APIError{Message: "An unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}

// partialResponse carries the project state alongside the failure so the
// client keeps everything produced before the batch stopped.
type partialResponse struct {
	Project *model.Project `json:"project,omitempty"`
	Error   string         `json:"error"`
}

// handlePartialError reports a batch run that failed midway: the error wins
// the status code, but the partially updated project is still returned.
func (h *StoryboardHandler) handlePartialError(c *gin.Context, project *model.Project, err error) {
	var partial *service.PartialGenerationError
	if errors.As(err, &partial) {
		c.JSON(http.StatusOK, partialResponse{Project: project, Error: err.Error()})
		return
	}
	if project == nil {
		h.handleServiceError(c, err)
		return
	}
	statusCode := http.StatusBadGateway
	if provider.Classify(err) == provider.ClassUnavailable {
		statusCode = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(statusCode, partialResponse{Project: project, Error: err.Error()})
}
