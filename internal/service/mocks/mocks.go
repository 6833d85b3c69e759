package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"storyboard-server/internal/model"
	"storyboard-server/internal/provider/gemini"
)

// Mock ProjectRepository
type ProjectRepository struct {
	mock.Mock
}

func (m *ProjectRepository) Save(ctx context.Context, project *model.Project) error {
	args := m.Called(ctx, project)
	return args.Error(0)
}
func (m *ProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Project)
	return p, args.Error(1)
}
func (m *ProjectRepository) GetAll(ctx context.Context) ([]model.Project, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]model.Project)
	return p, args.Error(1)
}
func (m *ProjectRepository) GetMostRecent(ctx context.Context) (*model.Project, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).(*model.Project)
	return p, args.Error(1)
}
func (m *ProjectRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Mock ProjectSaver
type ProjectSaver struct {
	mock.Mock
}

func (m *ProjectSaver) Schedule(project *model.Project) {
	m.Called(project)
}

// Mock TextGenerator
type TextGenerator struct {
	mock.Mock
}

func (m *TextGenerator) GenerateText(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	args := m.Called(ctx, systemInstruction, userPrompt)
	return args.String(0), args.Error(1)
}
func (m *TextGenerator) GenerateLongText(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	args := m.Called(ctx, systemInstruction, userPrompt)
	return args.String(0), args.Error(1)
}
func (m *TextGenerator) GenerateJSON(ctx context.Context, modelName, systemInstruction, userPrompt string) (json.RawMessage, error) {
	args := m.Called(ctx, modelName, systemInstruction, userPrompt)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}
func (m *TextGenerator) GenerateImage(ctx context.Context, prompt string, refs []gemini.Blob) (string, error) {
	args := m.Called(ctx, prompt, refs)
	return args.String(0), args.Error(1)
}

// Mock AIVideoProvider
type AIVideoProvider struct {
	mock.Mock
}

func (m *AIVideoProvider) ListModels(ctx context.Context, modelType string) ([]model.AIVideoModel, error) {
	args := m.Called(ctx, modelType)
	models, _ := args.Get(0).([]model.AIVideoModel)
	return models, args.Error(1)
}
func (m *AIVideoProvider) UploadImage(ctx context.Context, fileName, base64Data string) (model.ReferenceImage, error) {
	args := m.Called(ctx, fileName, base64Data)
	ref, _ := args.Get(0).(model.ReferenceImage)
	return ref, args.Error(1)
}
func (m *AIVideoProvider) GenerateImage(ctx context.Context, modelID, prompt, ratio string, refs []model.ReferenceImage) (model.ReferenceImage, error) {
	args := m.Called(ctx, modelID, prompt, ratio, refs)
	ref, _ := args.Get(0).(model.ReferenceImage)
	return ref, args.Error(1)
}
func (m *AIVideoProvider) CreateVideo(ctx context.Context, modelID, prompt string, images []model.ReferenceImage) (model.VideoGenerationResult, error) {
	args := m.Called(ctx, modelID, prompt, images)
	result, _ := args.Get(0).(model.VideoGenerationResult)
	return result, args.Error(1)
}
func (m *AIVideoProvider) VideoStatus(ctx context.Context, videoID string) (model.VideoGenerationResult, error) {
	args := m.Called(ctx, videoID)
	result, _ := args.Get(0).(model.VideoGenerationResult)
	return result, args.Error(1)
}

// Mock WhomeAIProvider
type WhomeAIProvider struct {
	mock.Mock
}

func (m *WhomeAIProvider) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	args := m.Called(ctx, prompt, size)
	return args.String(0), args.Error(1)
}
func (m *WhomeAIProvider) EditImage(ctx context.Context, prompt string, referenceURLs []string, size string) (string, error) {
	args := m.Called(ctx, prompt, referenceURLs, size)
	return args.String(0), args.Error(1)
}
