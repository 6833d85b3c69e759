package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyboard-server/internal/apikeys"
	"storyboard-server/internal/model"
	"storyboard-server/internal/repository"
	"storyboard-server/internal/service"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// TokenConsumer accepts a runtime credential update for one provider.
type TokenConsumer func(token string)

// StoryboardHandler обрабатывает HTTP запросы к storyboard API.
type StoryboardHandler struct {
	service  *service.Storyboard
	settings *repository.RedisSettingsRepository
	rotator  *apikeys.Rotator
	logger   *zap.Logger

	onAIVideoToken TokenConsumer
	onWhomeAIKey   TokenConsumer
}

// NewStoryboardHandler создает новый StoryboardHandler. Колбэки токенов
// пробрасывают обновленные настройки в живые клиенты провайдеров.
func NewStoryboardHandler(
	svc *service.Storyboard,
	settings *repository.RedisSettingsRepository,
	rotator *apikeys.Rotator,
	onAIVideoToken, onWhomeAIKey TokenConsumer,
	logger *zap.Logger,
) *StoryboardHandler {
	return &StoryboardHandler{
		service:        svc,
		settings:       settings,
		rotator:        rotator,
		onAIVideoToken: onAIVideoToken,
		onWhomeAIKey:   onWhomeAIKey,
		logger:         logger.Named("StoryboardHandler"),
	}
}

// RegisterRoutes регистрирует маршруты storyboard API.
func (h *StoryboardHandler) RegisterRoutes(router *gin.Engine) {
	projects := router.Group("/api/projects")
	{
		projects.POST("", h.createProject)
		projects.GET("", h.listProjects)
		projects.GET("/recent", h.mostRecentProject)
		projects.GET("/:id", h.getProject)
		projects.PUT("/:id", h.updateProject)
		projects.DELETE("/:id", h.deleteProject)

		projects.POST("/:id/story-idea", h.generateStoryIdea)
		projects.POST("/:id/script", h.generateScript)
		projects.POST("/:id/characters", h.generateCharacters)
		projects.POST("/:id/characters/:character_id/image", h.generateCharacterImage)
		projects.POST("/:id/characters/images", h.generateAllCharacterImages)
		projects.POST("/:id/composites", h.generateCompositeImage)
		projects.DELETE("/:id/composites/:composite_id", h.deleteCompositeImage)

		projects.POST("/:id/scenes", h.generateScenes)
		projects.POST("/:id/scenes/resume", h.resumeScenes)
		projects.POST("/:id/scenes/:scene_id/image", h.generateSceneImage)
		projects.POST("/:id/scenes/images", h.generateAllSceneImages)
		projects.DELETE("/:id/scenes/:scene_id/images/:image_id", h.deleteSceneImage)
		projects.GET("/:id/scenes/:scene_id/suggestions", h.suggestScenePrompts)

		projects.POST("/:id/video", h.startVideo)
		projects.GET("/:id/video", h.videoState)
		projects.DELETE("/:id/video", h.cancelVideo)
	}

	router.GET("/api/models", h.listModels)

	references := router.Group("/api/references")
	{
		references.GET("", h.getReferenceLibrary)
		references.POST("", h.uploadReference)
		references.DELETE("/:id", h.deleteReference)
	}

	settings := router.Group("/api/settings")
	{
		settings.GET("/gemini-keys", h.getGeminiKeys)
		settings.PUT("/gemini-keys", h.putGeminiKeys)
		settings.PUT("/aivideo-token", h.putAIVideoToken)
		settings.PUT("/whomeai-key", h.putWhomeAIKey)
	}
}

// --- Projects ---

type createProjectRequest struct {
	Name   string                 `json:"name"`
	Config model.GenerationConfig `json:"config"`
}

func (h *StoryboardHandler) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	project, err := h.service.CreateProject(c.Request.Context(), req.Name, req.Config)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *StoryboardHandler) listProjects(c *gin.Context) {
	projects, err := h.service.ListProjects(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *StoryboardHandler) mostRecentProject(c *gin.Context) {
	project, err := h.service.MostRecentProject(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) getProject(c *gin.Context) {
	project, err := h.service.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) updateProject(c *gin.Context) {
	var project model.Project
	if err := c.ShouldBindJSON(&project); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	project.ID = c.Param("id")
	if err := h.service.UpdateProject(c.Request.Context(), &project); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) deleteProject(c *gin.Context) {
	if err := h.service.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Text generation ---

type storyIdeaRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (h *StoryboardHandler) generateStoryIdea(c *gin.Context) {
	var req storyIdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	project, err := h.service.GenerateStoryIdea(c.Request.Context(), c.Param("id"), req.Prompt)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) generateScript(c *gin.Context) {
	project, err := h.service.GenerateScript(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) generateCharacters(c *gin.Context) {
	project, err := h.service.GenerateCharacters(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// --- Image generation ---

func (h *StoryboardHandler) generateCharacterImage(c *gin.Context) {
	project, err := h.service.GenerateCharacterImage(c.Request.Context(), c.Param("id"), c.Param("character_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) generateAllCharacterImages(c *gin.Context) {
	project, err := h.service.GenerateAllCharacterImages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handlePartialError(c, project, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) generateCompositeImage(c *gin.Context) {
	project, err := h.service.GenerateCompositeImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) deleteCompositeImage(c *gin.Context) {
	project, err := h.service.DeleteCompositeImage(c.Request.Context(), c.Param("id"), c.Param("composite_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

type sceneImageRequest struct {
	SelectedImageIDs []string `json:"selected_image_ids"`
	PromptOverride   string   `json:"prompt_override"`
	EditedFromID     string   `json:"edited_from_id"`
}

func (h *StoryboardHandler) generateSceneImage(c *gin.Context) {
	sceneID, err := strconv.Atoi(c.Param("scene_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid scene id"})
		return
	}
	var req sceneImageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
			return
		}
	}
	project, err := h.service.GenerateSceneImage(c.Request.Context(), c.Param("id"), sceneID, service.SceneImageOptions{
		SelectedImageIDs: req.SelectedImageIDs,
		PromptOverride:   req.PromptOverride,
		EditedFromID:     req.EditedFromID,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) generateAllSceneImages(c *gin.Context) {
	project, err := h.service.GenerateAllSceneImages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handlePartialError(c, project, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) deleteSceneImage(c *gin.Context) {
	sceneID, err := strconv.Atoi(c.Param("scene_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid scene id"})
		return
	}
	project, err := h.service.DeleteSceneImage(c.Request.Context(), c.Param("id"), sceneID, c.Param("image_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *StoryboardHandler) suggestScenePrompts(c *gin.Context) {
	sceneID, err := strconv.Atoi(c.Param("scene_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid scene id"})
		return
	}
	suggestions, err := h.service.SuggestScenePrompts(c.Request.Context(), c.Param("id"), sceneID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// --- Video ---

type startVideoRequest struct {
	SceneID int    `json:"scene_id"`
	ImageID string `json:"image_id" binding:"required"`
}

func (h *StoryboardHandler) startVideo(c *gin.Context) {
	var req startVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	result, err := h.service.StartVideoGeneration(c.Request.Context(), c.Param("id"), req.SceneID, req.ImageID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

type videoStateResponse struct {
	Result model.VideoGenerationResult `json:"result"`
	Error  string                      `json:"error,omitempty"`
}

func (h *StoryboardHandler) videoState(c *gin.Context) {
	result, errMsg, err := h.service.VideoState(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, videoStateResponse{Result: result, Error: errMsg})
}

func (h *StoryboardHandler) cancelVideo(c *gin.Context) {
	h.service.CancelVideo(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// --- Models and references ---

func (h *StoryboardHandler) listModels(c *gin.Context) {
	modelType := c.DefaultQuery("type", "image")
	models, err := h.service.ListProviderModels(c.Request.Context(), modelType)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

func (h *StoryboardHandler) getReferenceLibrary(c *gin.Context) {
	library, err := h.settings.GetReferenceLibrary(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if library == nil {
		library = []model.ReferenceImage{}
	}
	c.JSON(http.StatusOK, library)
}

type uploadReferenceRequest struct {
	FileName string `json:"file_name" binding:"required"`
	Data     string `json:"data" binding:"required"` // base64 без префикса data:
}

func (h *StoryboardHandler) uploadReference(c *gin.Context) {
	var req uploadReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	ref, err := h.service.UploadReference(c.Request.Context(), req.FileName, req.Data)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	library, err := h.settings.GetReferenceLibrary(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	for _, existing := range library {
		if existing.IDBase == ref.IDBase {
			c.JSON(http.StatusOK, ref)
			return
		}
	}
	library = append(library, ref)
	if err := h.settings.SaveReferenceLibrary(c.Request.Context(), library); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

func (h *StoryboardHandler) deleteReference(c *gin.Context) {
	id := c.Param("id")
	library, err := h.settings.GetReferenceLibrary(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	kept := library[:0]
	for _, ref := range library {
		if ref.IDBase != id {
			kept = append(kept, ref)
		}
	}
	if err := h.settings.SaveReferenceLibrary(c.Request.Context(), kept); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Settings ---

func (h *StoryboardHandler) getGeminiKeys(c *gin.Context) {
	keys := h.rotator.Keys()
	masked := make([]string, len(keys))
	for i, key := range keys {
		masked[i] = maskKey(key)
	}
	c.JSON(http.StatusOK, gin.H{"keys": masked, "count": len(keys)})
}

type putKeysRequest struct {
	Keys []string `json:"keys"`
}

func (h *StoryboardHandler) putGeminiKeys(c *gin.Context) {
	var req putKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	if err := h.settings.Save(c.Request.Context(), req.Keys); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.rotator.Replace(req.Keys)
	h.logger.Info("Gemini key pool replaced", zap.Int("count", len(req.Keys)))
	c.JSON(http.StatusOK, gin.H{"count": len(req.Keys)})
}

type putTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *StoryboardHandler) putAIVideoToken(c *gin.Context) {
	h.putProviderToken(c, h.settings.SetAIVideoToken, h.onAIVideoToken)
}

func (h *StoryboardHandler) putWhomeAIKey(c *gin.Context) {
	h.putProviderToken(c, h.settings.SetWhomeAIKey, h.onWhomeAIKey)
}

func (h *StoryboardHandler) putProviderToken(c *gin.Context, persist func(context.Context, string) error, apply TokenConsumer) {
	var req putTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request data: " + err.Error()})
		return
	}
	if err := persist(c.Request.Context(), req.Token); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if apply != nil {
		apply(req.Token)
	}
	c.Status(http.StatusNoContent)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
