package model

import "sort"

// ReferenceImage is an immutable image value: a URL (possibly a data URL)
// plus a provider-qualified unique id. Multiple entities may reference the
// same IDBase; deleting one reference never deletes the underlying bytes.
type ReferenceImage struct {
	URL    string `json:"url"`
	IDBase string `json:"id_base"`
}

// CompositeReferenceImage is a single image depicting several characters
// together. It substitutes for individual character references when its
// character-id set exactly matches a scene's tagged set.
type CompositeReferenceImage struct {
	ReferenceImage
	ID           string   `json:"id"`
	CharacterIDs []string `json:"character_ids"`
}

// GeneratedImage is a reference image produced for a scene, carrying the
// character ids actually used and an optional one-hop edit provenance link.
type GeneratedImage struct {
	ReferenceImage
	UsedCharacterIDs []string `json:"used_character_ids"`
	EditedFromID     string   `json:"edited_from_id,omitempty"`
}

// Scene is one unit of the storyboard covering roughly 8 seconds of final
// runtime. SceneID is unique and defines chronological order.
type Scene struct {
	SceneID         int              `json:"scene_id"`
	Time            string           `json:"time"`
	Prompt          string           `json:"prompt"`
	CharacterIDs    []string         `json:"character_ids,omitempty"`
	GeneratedImages []GeneratedImage `json:"generated_images,omitempty"`
	IsGenerating    bool             `json:"is_generating,omitempty"`
}

// CharacterProfile holds a character's name and its "Character DNA" — the
// detailed textual description used to condition image generation.
type CharacterProfile struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ReferenceImage *ReferenceImage `json:"reference_image,omitempty"`
	IsGenerating   bool            `json:"is_generating,omitempty"`
}

// VideoStatus is the provider-reported status of a video generation job.
type VideoStatus string

const (
	VideoStatusRequesting VideoStatus = "REQUESTING"
	VideoStatusPending    VideoStatus = "MEDIA_GENERATION_STATUS_PENDING"
	VideoStatusActive     VideoStatus = "MEDIA_GENERATION_STATUS_ACTIVE"
	VideoStatusProcessing VideoStatus = "MEDIA_GENERATION_STATUS_PROCESSING"
	VideoStatusSuccessful VideoStatus = "MEDIA_GENERATION_STATUS_SUCCESSFUL"
	VideoStatusFailed     VideoStatus = "MEDIA_GENERATION_STATUS_FAILED"
	VideoStatusTimeout    VideoStatus = "TIMEOUT"
	VideoStatusError      VideoStatus = "ERROR"
)

// InProgress reports whether the status means the job is still running and
// should keep being polled.
func (s VideoStatus) InProgress() bool {
	switch s {
	case VideoStatusPending, VideoStatusActive, VideoStatusProcessing:
		return true
	}
	return false
}

// VideoGenerationResult is the state of a remote video job.
type VideoGenerationResult struct {
	IDBase       string      `json:"id_base"`
	Status       VideoStatus `json:"status"`
	Prompt       string      `json:"prompt,omitempty"`
	DownloadURL  string      `json:"download_url,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
}

// AIVideoModel is one entry of a provider's model list.
type AIVideoModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Image/video provider identifiers selectable in GenerationConfig.
const (
	ServiceGoogle      = "google"
	ServiceAIVideoAuto = "aivideoauto"
	ServiceWhomeAI     = "whomeai"
)

// GenerationConfig carries the per-project generation settings.
type GenerationConfig struct {
	DurationMinutes  float64 `json:"duration"`
	Style            string  `json:"style"`
	Framing          string  `json:"framing"`
	IncludeDialogue  bool    `json:"include_dialogue"`
	DialogueLanguage string  `json:"dialogue_language"`
	ImageService     string  `json:"image_service"`
	ImageModel       string  `json:"image_model"`
	VideoService     string  `json:"video_service"`
	VideoModel       string  `json:"video_model"`
}

// Project is the aggregate root persisted as one record.
type Project struct {
	ID                       string                    `json:"id"`
	Name                     string                    `json:"name"`
	Characters               []CharacterProfile        `json:"characters"`
	StoryIdea                string                    `json:"story_idea"`
	GeneratedScript          string                    `json:"generated_script"`
	Config                   GenerationConfig          `json:"config"`
	Scenes                   []Scene                   `json:"scenes"`
	CompositeReferenceImages []CompositeReferenceImage `json:"composite_reference_images,omitempty"`
	LastModified             int64                     `json:"last_modified"`
}

// SortScenes orders scenes ascending by SceneID in place. Scenes are never
// reordered by any other rule.
func SortScenes(scenes []Scene) {
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].SceneID < scenes[j].SceneID })
}

// FindScene returns a pointer into scenes for the given id, or nil.
func FindScene(scenes []Scene, sceneID int) *Scene {
	for i := range scenes {
		if scenes[i].SceneID == sceneID {
			return &scenes[i]
		}
	}
	return nil
}

// FindCharacter returns a pointer into characters for the given id, or nil.
func FindCharacter(characters []CharacterProfile, id string) *CharacterProfile {
	for i := range characters {
		if characters[i].ID == id {
			return &characters[i]
		}
	}
	return nil
}
