package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
	"storyboard-server/internal/provider"
	"storyboard-server/internal/provider/gemini"
)

// Ошибки уровня сервиса, возвращаемые наружу как есть.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrSceneNotFound     = errors.New("scene not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrImageNotFound     = errors.New("image not found")
	ErrNotEnoughRefs     = errors.New("at least two characters with reference images are required")
	ErrNoVideoJob        = errors.New("no video generation job is active")
)

// ProjectRepository is the persistence contract for whole-project records.
type ProjectRepository interface {
	Save(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	GetAll(ctx context.Context) ([]model.Project, error)
	GetMostRecent(ctx context.Context) (*model.Project, error)
	Delete(ctx context.Context, id string) error
}

// ProjectSaver schedules a debounced persist of the given project. Rapid
// successive calls collapse into one write.
type ProjectSaver interface {
	Schedule(project *model.Project)
}

// TextGenerator is the Gemini surface the service depends on.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemInstruction, userPrompt string) (string, error)
	GenerateLongText(ctx context.Context, systemInstruction, userPrompt string) (string, error)
	GenerateJSON(ctx context.Context, modelName, systemInstruction, userPrompt string) (json.RawMessage, error)
	GenerateImage(ctx context.Context, prompt string, refs []gemini.Blob) (string, error)
}

// AIVideoProvider is the aivideoauto surface the service depends on.
type AIVideoProvider interface {
	ListModels(ctx context.Context, modelType string) ([]model.AIVideoModel, error)
	UploadImage(ctx context.Context, fileName, base64Data string) (model.ReferenceImage, error)
	GenerateImage(ctx context.Context, modelID, prompt, ratio string, refs []model.ReferenceImage) (model.ReferenceImage, error)
	CreateVideo(ctx context.Context, modelID, prompt string, images []model.ReferenceImage) (model.VideoGenerationResult, error)
	VideoStatus(ctx context.Context, videoID string) (model.VideoGenerationResult, error)
}

// WhomeAIProvider is the whomeai surface the service depends on.
type WhomeAIProvider interface {
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
	EditImage(ctx context.Context, prompt string, referenceURLs []string, size string) (string, error)
}

// Options groups the tunables of the orchestration layer.
type Options struct {
	SceneSeconds float64
	PacingDelay  time.Duration
	ImageModel   string
	VideoModel   string
}

// Storyboard is the application service: it owns project state transitions
// and drives the generation providers.
type Storyboard struct {
	repo     ProjectRepository
	saver    ProjectSaver
	text     TextGenerator
	aivideo  AIVideoProvider
	whomeai  WhomeAIProvider
	sceneGen    *SceneBatchGenerator
	pollerProto *VideoPoller // шаблон: на каждый проект форкается свой опросчик
	http        *http.Client
	opts        Options
	logger      *zap.Logger

	mu         sync.Mutex
	promptType map[string]string                      // последний prompt type по проектам, для resume
	videoJobs  map[string]model.VideoGenerationResult // последнее известное состояние видео по проектам
	videoErrs  map[string]string
	pollers    map[string]*VideoPoller
}

func NewStoryboard(
	repo ProjectRepository,
	saver ProjectSaver,
	text TextGenerator,
	aivideo AIVideoProvider,
	whomeai WhomeAIProvider,
	sceneGen *SceneBatchGenerator,
	poller *VideoPoller,
	opts Options,
	logger *zap.Logger,
) *Storyboard {
	return &Storyboard{
		repo:        repo,
		saver:       saver,
		text:        text,
		aivideo:     aivideo,
		whomeai:     whomeai,
		sceneGen:    sceneGen,
		pollerProto: poller,
		http:        &http.Client{Timeout: 30 * time.Second},
		opts:        opts,
		logger:      logger.Named("StoryboardService"),
		promptType:  make(map[string]string),
		videoJobs:   make(map[string]model.VideoGenerationResult),
		videoErrs:   make(map[string]string),
		pollers:     make(map[string]*VideoPoller),
	}
}

// --- Project lifecycle ---

func (s *Storyboard) CreateProject(ctx context.Context, name string, cfg model.GenerationConfig) (*model.Project, error) {
	if name == "" {
		name = "Untitled Project"
	}
	project := &model.Project{
		ID:           uuid.NewString(),
		Name:         name,
		Config:       cfg,
		LastModified: time.Now().UnixMilli(),
	}
	if err := s.repo.Save(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", zap.String("project_id", project.ID))
	return project, nil
}

func (s *Storyboard) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Storyboard) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.repo.GetAll(ctx)
}

func (s *Storyboard) MostRecentProject(ctx context.Context) (*model.Project, error) {
	return s.repo.GetMostRecent(ctx)
}

func (s *Storyboard) DeleteProject(ctx context.Context, id string) error {
	s.CancelVideo(id)
	return s.repo.Delete(ctx, id)
}

// UpdateProject accepts a client-side edit of the whole aggregate (prompt
// text, character descriptions, scene tagging, config) and schedules a
// debounced persist.
func (s *Storyboard) UpdateProject(ctx context.Context, project *model.Project) error {
	if project.ID == "" {
		return ErrProjectNotFound
	}
	if _, err := s.repo.GetByID(ctx, project.ID); err != nil {
		return err
	}
	s.touch(project)
	return nil
}

// touch bumps the modification time and schedules a debounced save.
func (s *Storyboard) touch(project *model.Project) {
	project.LastModified = time.Now().UnixMilli()
	s.saver.Schedule(project)
}

// --- Text generation ---

// GenerateStoryIdea produces a story idea from the user's prompt and derives
// the project name from its first line when the name is still the default.
func (s *Storyboard) GenerateStoryIdea(ctx context.Context, projectID, userPrompt string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	idea, err := s.text.GenerateText(ctx, storyIdeaInstruction(project.Config.Style), userPrompt)
	if err != nil {
		return nil, err
	}
	project.StoryIdea = strings.TrimSpace(idea)
	if project.Name == "" || project.Name == "Untitled Project" {
		project.Name = deriveProjectName(project.StoryIdea)
	}
	s.touch(project)
	return project, nil
}

func (s *Storyboard) GenerateScript(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Story Idea:\n%s\n", project.StoryIdea)
	if len(project.Characters) > 0 {
		sb.WriteString("\nCharacters:\n")
		for _, c := range project.Characters {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
		}
	}
	script, err := s.text.GenerateLongText(ctx, scriptInstruction(project.Config), sb.String())
	if err != nil {
		return nil, err
	}
	project.GeneratedScript = strings.TrimSpace(script)
	s.touch(project)
	return project, nil
}

// GenerateCharacters replaces the project's character list with a freshly
// generated one. Existing reference images are dropped together with the
// characters they belonged to.
func (s *Storyboard) GenerateCharacters(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	raw, err := s.text.GenerateJSON(ctx, "", charactersInstruction(project.Config), project.StoryIdea)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Characters []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"characters"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, provider.InvalidResponse(fmt.Errorf("unexpected characters payload: %w", err))
	}

	characters := make([]model.CharacterProfile, 0, len(parsed.Characters))
	for _, c := range parsed.Characters {
		characters = append(characters, model.CharacterProfile{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(c.Name),
			Description: strings.TrimSpace(c.Description),
		})
	}
	project.Characters = characters
	s.touch(project)
	return project, nil
}

// --- Scene generation ---

// geminiSceneSource asks the model for the next batch of scenes, feeding the
// already accumulated ids back so the model continues instead of restarting.
type geminiSceneSource struct {
	svc        *Storyboard
	project    *model.Project
	promptType string
	names      []string
	nameToID   map[string]string
}

func (src *geminiSceneSource) NextBatch(ctx context.Context, accumulated []model.Scene, target int) ([]model.Scene, error) {
	instruction := scenesInstruction(src.project.Config, target, len(accumulated) > 0, src.names, src.promptType)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Script:\n%s\n", src.project.GeneratedScript)
	if len(accumulated) > 0 {
		ids := make([]string, len(accumulated))
		for i, sc := range accumulated {
			ids[i] = fmt.Sprintf("%d", sc.SceneID)
		}
		fmt.Fprintf(&sb, "\nAlready generated scene ids: %s. Continue after the last one.\n", strings.Join(ids, ", "))
	}

	raw, err := src.svc.text.GenerateJSON(ctx, "", instruction, sb.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scenes []struct {
			SceneID        int      `json:"scene_id"`
			Time           string   `json:"time"`
			Prompt         string   `json:"prompt"`
			CharacterNames []string `json:"character_names"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, provider.InvalidResponse(fmt.Errorf("unexpected scenes payload: %w", err))
	}

	scenes := make([]model.Scene, 0, len(parsed.Scenes))
	for _, dto := range parsed.Scenes {
		scene := model.Scene{SceneID: dto.SceneID, Time: dto.Time, Prompt: dto.Prompt}
		for _, name := range dto.CharacterNames {
			if id, ok := src.nameToID[strings.ToLower(strings.TrimSpace(name))]; ok {
				scene.CharacterIDs = append(scene.CharacterIDs, id)
			}
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

// GenerateScenes runs a scene generation from scratch, replacing any
// existing scenes. On partial completion the produced scenes are kept and
// the error is still returned.
func (s *Storyboard) GenerateScenes(ctx context.Context, projectID, promptType string, observe SceneObserver) (*model.Project, error) {
	return s.generateScenes(ctx, projectID, promptType, false, observe)
}

// ResumeScenes continues an incomplete run, retaining the existing scenes
// and the prompt type of the interrupted run.
func (s *Storyboard) ResumeScenes(ctx context.Context, projectID string, observe SceneObserver) (*model.Project, error) {
	s.mu.Lock()
	promptType, ok := s.promptType[projectID]
	s.mu.Unlock()
	if !ok {
		promptType = PromptTypeImage
	}
	return s.generateScenes(ctx, projectID, promptType, true, observe)
}

func (s *Storyboard) generateScenes(ctx context.Context, projectID, promptType string, resume bool, observe SceneObserver) (*model.Project, error) {
	if promptType != PromptTypeVideo {
		promptType = PromptTypeImage
	}
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.promptType[projectID] = promptType
	s.mu.Unlock()

	target := TargetSceneCount(project.Config.DurationMinutes, s.opts.SceneSeconds)

	names := make([]string, len(project.Characters))
	nameToID := make(map[string]string, len(project.Characters))
	for i, c := range project.Characters {
		names[i] = c.Name
		nameToID[strings.ToLower(strings.TrimSpace(c.Name))] = c.ID
	}
	source := &geminiSceneSource{svc: s, project: project, promptType: promptType, names: names, nameToID: nameToID}

	var existing []model.Scene
	if resume {
		existing = project.Scenes
	}

	scenes, genErr := s.sceneGen.Generate(ctx, target, existing, source, func(added model.Scene, accumulated []model.Scene, target int) {
		project.Scenes = accumulated
		s.touch(project)
		if observe != nil {
			observe(added, accumulated, target)
		}
	})

	// Частичный результат тоже сохраняем.
	project.Scenes = scenes
	s.touch(project)
	if genErr != nil {
		return project, genErr
	}
	return project, nil
}

// --- Image generation ---

// GenerateCharacterImage produces a reference portrait for one character via
// the configured image provider.
func (s *Storyboard) GenerateCharacterImage(ctx context.Context, projectID, characterID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	character := model.FindCharacter(project.Characters, characterID)
	if character == nil {
		return nil, ErrCharacterNotFound
	}
	if err := s.generateCharacterImageInto(ctx, project, character); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Storyboard) generateCharacterImageInto(ctx context.Context, project *model.Project, character *model.CharacterProfile) error {
	character.IsGenerating = true
	s.touch(project)
	defer func() {
		character.IsGenerating = false
		s.touch(project)
	}()

	ref, err := s.generateImage(ctx, project.Config, characterImagePrompt(character.Description, project.Config.Style), nil)
	if err != nil {
		return fmt.Errorf("character %q: %w", character.Name, err)
	}
	character.ReferenceImage = &ref
	return nil
}

// GenerateAllCharacterImages walks characters missing a reference image in
// order. The first failure stops the run; earlier results are kept.
func (s *Storyboard) GenerateAllCharacterImages(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	first := true
	for i := range project.Characters {
		character := &project.Characters[i]
		if character.ReferenceImage != nil {
			continue
		}
		if !first {
			if err := s.pace(ctx); err != nil {
				return project, err
			}
		}
		first = false
		if err := s.generateCharacterImageInto(ctx, project, character); err != nil {
			return project, err
		}
	}
	return project, nil
}

// GenerateCompositeImage renders a group shot of every character that has a
// reference image. At least two are required.
func (s *Storyboard) GenerateCompositeImage(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var refs []model.ReferenceImage
	var characterIDs []string
	for _, c := range project.Characters {
		if c.ReferenceImage != nil {
			refs = append(refs, *c.ReferenceImage)
			characterIDs = append(characterIDs, c.ID)
		}
	}
	if len(refs) < 2 {
		return nil, ErrNotEnoughRefs
	}

	blobs, err := s.collectBlobs(ctx, refs)
	if err != nil {
		return nil, err
	}
	dataURL, err := s.text.GenerateImage(ctx, compositeImagePrompt(project.Config.Style), blobs)
	if err != nil {
		return nil, err
	}

	project.CompositeReferenceImages = append(project.CompositeReferenceImages, model.CompositeReferenceImage{
		ReferenceImage: model.ReferenceImage{URL: dataURL, IDBase: "google_" + uuid.NewString()},
		ID:             uuid.NewString(),
		CharacterIDs:   characterIDs,
	})
	s.touch(project)
	return project, nil
}

func (s *Storyboard) DeleteCompositeImage(ctx context.Context, projectID, compositeID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	kept := project.CompositeReferenceImages[:0]
	for _, c := range project.CompositeReferenceImages {
		if c.ID != compositeID {
			kept = append(kept, c)
		}
	}
	project.CompositeReferenceImages = kept
	s.touch(project)
	return project, nil
}

// SceneImageOptions tunes a single scene image generation.
type SceneImageOptions struct {
	// SelectedImageIDs are ids of generated images from other scenes to add
	// as conditioning references.
	SelectedImageIDs []string
	// PromptOverride replaces the scene prompt when non-empty.
	PromptOverride string
	// EditedFromID marks the new image as an edit of an existing one.
	EditedFromID string
}

// GenerateSceneImage produces one keyframe image for a scene and appends it
// to the scene's alternatives.
func (s *Storyboard) GenerateSceneImage(ctx context.Context, projectID string, sceneID int, opts SceneImageOptions) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scene := model.FindScene(project.Scenes, sceneID)
	if scene == nil {
		return nil, ErrSceneNotFound
	}
	if err := s.generateSceneImageInto(ctx, project, scene, opts); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Storyboard) generateSceneImageInto(ctx context.Context, project *model.Project, scene *model.Scene, opts SceneImageOptions) error {
	scene.IsGenerating = true
	s.touch(project)
	defer func() {
		scene.IsGenerating = false
		s.touch(project)
	}()

	prompt := scene.Prompt
	if opts.PromptOverride != "" {
		prompt = opts.PromptOverride
	}
	refs := ResolveReferences(*scene, project, opts.SelectedImageIDs)

	ref, err := s.generateImage(ctx, project.Config, prompt, refs)
	if err != nil {
		return fmt.Errorf("scene %d: %w", scene.SceneID, err)
	}

	scene.GeneratedImages = append(scene.GeneratedImages, model.GeneratedImage{
		ReferenceImage:   ref,
		UsedCharacterIDs: append([]string(nil), scene.CharacterIDs...),
		EditedFromID:     opts.EditedFromID,
	})
	return nil
}

// GenerateAllSceneImages walks scenes without any generated image in order,
// stopping at the first failure.
func (s *Storyboard) GenerateAllSceneImages(ctx context.Context, projectID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	first := true
	for i := range project.Scenes {
		scene := &project.Scenes[i]
		if len(scene.GeneratedImages) > 0 {
			continue
		}
		if !first {
			if err := s.pace(ctx); err != nil {
				return project, err
			}
		}
		first = false
		if err := s.generateSceneImageInto(ctx, project, scene, SceneImageOptions{}); err != nil {
			return project, err
		}
	}
	return project, nil
}

func (s *Storyboard) DeleteSceneImage(ctx context.Context, projectID string, sceneID int, imageID string) (*model.Project, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	scene := model.FindScene(project.Scenes, sceneID)
	if scene == nil {
		return nil, ErrSceneNotFound
	}
	kept := scene.GeneratedImages[:0]
	for _, img := range scene.GeneratedImages {
		if img.IDBase != imageID {
			kept = append(kept, img)
		}
	}
	scene.GeneratedImages = kept
	s.touch(project)
	return project, nil
}

// PromptSuggestions carries the two rewritten flavors of a scene prompt.
type PromptSuggestions struct {
	ImagePrompt string `json:"image_prompt"`
	VideoPrompt string `json:"video_prompt"`
}

// SuggestScenePrompts rewrites a scene description into an image-ready and a
// video-ready prompt.
func (s *Storyboard) SuggestScenePrompts(ctx context.Context, projectID string, sceneID int) (PromptSuggestions, error) {
	var out PromptSuggestions
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return out, err
	}
	scene := model.FindScene(project.Scenes, sceneID)
	if scene == nil {
		return out, ErrSceneNotFound
	}

	names := make([]string, 0, len(scene.CharacterIDs))
	for _, id := range scene.CharacterIDs {
		if c := model.FindCharacter(project.Characters, id); c != nil {
			names = append(names, c.Name)
		}
	}

	raw, err := s.text.GenerateJSON(ctx, "", suggestionsInstruction(names, project.Config.Style, project.Config.Framing), scene.Prompt)
	if err != nil {
		return out, err
	}
	var parsed struct {
		ImagePrompt string `json:"imagePrompt"`
		VideoPrompt string `json:"videoPrompt"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return out, provider.InvalidResponse(fmt.Errorf("unexpected suggestions payload: %w", err))
	}
	out.ImagePrompt = parsed.ImagePrompt
	out.VideoPrompt = parsed.VideoPrompt
	return out, nil
}

// generateImage dispatches one image generation to the provider selected in
// the project config.
func (s *Storyboard) generateImage(ctx context.Context, cfg model.GenerationConfig, prompt string, refs []model.ReferenceImage) (model.ReferenceImage, error) {
	switch cfg.ImageService {
	case model.ServiceWhomeAI:
		size := whomeaiSize(cfg.Framing)
		var dataURL string
		var err error
		if len(refs) > 0 {
			urls := make([]string, len(refs))
			for i, r := range refs {
				urls[i] = r.URL
			}
			dataURL, err = s.whomeai.EditImage(ctx, prompt, urls, size)
		} else {
			dataURL, err = s.whomeai.GenerateImage(ctx, prompt, size)
		}
		if err != nil {
			return model.ReferenceImage{}, err
		}
		return model.ReferenceImage{URL: dataURL, IDBase: "whomeai_" + uuid.NewString()}, nil

	case model.ServiceAIVideoAuto:
		modelID := cfg.ImageModel
		if modelID == "" {
			modelID = s.opts.ImageModel
		}
		return s.aivideo.GenerateImage(ctx, modelID, prompt, aivideoRatio(cfg.Framing), refs)

	default: // google
		blobs, err := s.collectBlobs(ctx, refs)
		if err != nil {
			return model.ReferenceImage{}, err
		}
		dataURL, err := s.text.GenerateImage(ctx, prompt, blobs)
		if err != nil {
			return model.ReferenceImage{}, err
		}
		return model.ReferenceImage{URL: dataURL, IDBase: "google_" + uuid.NewString()}, nil
	}
}

// collectBlobs turns reference images into inline blobs, fetching hosted
// URLs over HTTP and decoding data URLs in place.
func (s *Storyboard) collectBlobs(ctx context.Context, refs []model.ReferenceImage) ([]gemini.Blob, error) {
	blobs := make([]gemini.Blob, 0, len(refs))
	for _, ref := range refs {
		if mime, data, ok := provider.ParseDataURL(ref.URL); ok {
			blobs = append(blobs, gemini.Blob{MIMEType: mime, Data: data})
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch reference %s: %w", ref.IDBase, err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch reference %s: %w", ref.IDBase, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("fetch reference %s: %w", ref.IDBase, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch reference %s: status %d", ref.IDBase, resp.StatusCode)
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = "image/png"
		}
		blobs = append(blobs, gemini.Blob{MIMEType: mime, Data: data})
	}
	return blobs, nil
}

// --- Reference uploads and model listings ---

func (s *Storyboard) ListProviderModels(ctx context.Context, modelType string) ([]model.AIVideoModel, error) {
	return s.aivideo.ListModels(ctx, modelType)
}

func (s *Storyboard) UploadReference(ctx context.Context, fileName, base64Data string) (model.ReferenceImage, error) {
	return s.aivideo.UploadImage(ctx, fileName, base64Data)
}

// --- Video generation ---

// StartVideoGeneration submits a scene image as the seed of a video job and
// begins polling it. A job already running for this project is cancelled;
// jobs of other projects keep polling independently.
func (s *Storyboard) StartVideoGeneration(ctx context.Context, projectID string, sceneID int, imageID string) (model.VideoGenerationResult, error) {
	project, err := s.repo.GetByID(ctx, projectID)
	if err != nil {
		return model.VideoGenerationResult{}, err
	}
	scene := model.FindScene(project.Scenes, sceneID)
	if scene == nil {
		return model.VideoGenerationResult{}, ErrSceneNotFound
	}
	var seed *model.GeneratedImage
	for i := range scene.GeneratedImages {
		if scene.GeneratedImages[i].IDBase == imageID {
			seed = &scene.GeneratedImages[i]
			break
		}
	}
	if seed == nil {
		return model.VideoGenerationResult{}, ErrImageNotFound
	}

	modelID := project.Config.VideoModel
	if modelID == "" {
		modelID = s.opts.VideoModel
	}
	result, err := s.aivideo.CreateVideo(ctx, modelID, scene.Prompt, []model.ReferenceImage{seed.ReferenceImage})
	if err != nil {
		return model.VideoGenerationResult{}, err
	}
	if result.Status == "" {
		result.Status = model.VideoStatusRequesting
	}

	// Предыдущий опрос этого проекта гасим до записи нового состояния,
	// иначе его поздний апдейт затер бы свежий результат.
	s.stopPoller(projectID)

	poller := s.pollerProto.fork()
	s.mu.Lock()
	s.videoJobs[projectID] = result
	delete(s.videoErrs, projectID)
	s.pollers[projectID] = poller
	s.mu.Unlock()

	poller.Start(result.IDBase, func(update model.VideoGenerationResult, pollErr error) {
		s.mu.Lock()
		s.videoJobs[projectID] = update
		if pollErr != nil {
			s.videoErrs[projectID] = pollErr.Error()
		}
		s.mu.Unlock()
	})
	return result, nil
}

// stopPoller stops the project's polling run, if any. Called without s.mu
// held: Stop waits for the run goroutine, which takes s.mu in its update
// callback.
func (s *Storyboard) stopPoller(projectID string) {
	s.mu.Lock()
	poller := s.pollers[projectID]
	delete(s.pollers, projectID)
	s.mu.Unlock()
	if poller != nil {
		poller.Stop()
	}
}

// VideoState returns the last known state of the project's video job.
func (s *Storyboard) VideoState(projectID string) (model.VideoGenerationResult, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.videoJobs[projectID]
	if !ok {
		return model.VideoGenerationResult{}, "", ErrNoVideoJob
	}
	return result, s.videoErrs[projectID], nil
}

// CancelVideo stops polling and forgets the project's video job.
func (s *Storyboard) CancelVideo(projectID string) {
	s.stopPoller(projectID)
	s.mu.Lock()
	delete(s.videoJobs, projectID)
	delete(s.videoErrs, projectID)
	s.mu.Unlock()
}

// StopAllVideoPolling stops every active polling run. Used on shutdown; the
// last known job states stay queryable.
func (s *Storyboard) StopAllVideoPolling() {
	s.mu.Lock()
	pollers := make([]*VideoPoller, 0, len(s.pollers))
	for id, poller := range s.pollers {
		pollers = append(pollers, poller)
		delete(s.pollers, id)
	}
	s.mu.Unlock()
	for _, poller := range pollers {
		poller.Stop()
	}
}

// --- helpers ---

func (s *Storyboard) pace(ctx context.Context) error {
	if s.opts.PacingDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.PacingDelay):
		return nil
	}
}

func whomeaiSize(framing string) string {
	if strings.Contains(framing, "9:16") {
		return "1024x1792"
	}
	return "1792x1024"
}

func aivideoRatio(framing string) string {
	if strings.Contains(framing, "9:16") {
		return "9_16"
	}
	return "16_9"
}

func deriveProjectName(storyIdea string) string {
	line := storyIdea
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Trim(strings.TrimSpace(line), "\"*#")
	// Обрезаем по рунам: байтовый срез ломал бы не-ASCII названия.
	const maxLen = 60
	if utf8.RuneCountInString(line) > maxLen {
		runes := []rune(line)
		line = strings.TrimSpace(string(runes[:maxLen])) + "…"
	}
	if line == "" {
		return "Untitled Project"
	}
	return line
}
