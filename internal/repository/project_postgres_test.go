package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/internal/model"
)

func populatedProject() *model.Project {
	return &model.Project{
		ID:              "p1",
		Name:            "Ночной рейс",
		StoryIdea:       "Ночной рейс\nПилот замечает огни над океаном...",
		GeneratedScript: "ACT I\nPILOT: Что это было?",
		Config: model.GenerationConfig{
			DurationMinutes:  1.5,
			Style:            "Cinematic",
			Framing:          "Vertical 9:16",
			IncludeDialogue:  true,
			DialogueLanguage: "Russian",
			ImageService:     model.ServiceWhomeAI,
			ImageModel:       "flux-1",
			VideoService:     model.ServiceAIVideoAuto,
			VideoModel:       "veo-like",
		},
		Characters: []model.CharacterProfile{
			{
				ID:          "c1",
				Name:        "Пилот",
				Description: "усталый, седые виски",
				ReferenceImage: &model.ReferenceImage{
					URL:    "data:image/png;base64,AAAA",
					IDBase: "google_ref-1",
				},
			},
			{ID: "c2", Name: "Диспетчер", Description: "строгая, очки"},
		},
		// Порядок сцен в записи хранится как есть, без пересортировки.
		Scenes: []model.Scene{
			{
				SceneID:      3,
				Time:         "00:16",
				Prompt:       "[CAM] wide shot over the ocean",
				CharacterIDs: []string{"c1"},
				GeneratedImages: []model.GeneratedImage{
					{
						ReferenceImage:   model.ReferenceImage{URL: "https://cdn/s3.png", IDBase: "12345"},
						UsedCharacterIDs: []string{"c1"},
					},
					{
						ReferenceImage:   model.ReferenceImage{URL: "https://cdn/s3-edit.png", IDBase: "12346"},
						UsedCharacterIDs: []string{"c1"},
						EditedFromID:     "12345",
					},
				},
			},
			{SceneID: 1, Time: "00:00", Prompt: "[CAM] cockpit close up", CharacterIDs: []string{"c1", "c2"}},
			{SceneID: 2, Time: "00:08", Prompt: "[CAM] control tower"},
		},
		CompositeReferenceImages: []model.CompositeReferenceImage{
			{
				ReferenceImage: model.ReferenceImage{URL: "data:image/png;base64,QkJCQg==", IDBase: "google_comp-1"},
				ID:             "comp-1",
				CharacterIDs:   []string{"c1", "c2"},
			},
		},
		LastModified: 1756512000000,
	}
}

// Прогоняет агрегат через тот же путь, что Save и последующее чтение:
// json.Marshal -> колонка data -> projectRow.toProject.
func TestProjectRow_RoundTrip(t *testing.T) {
	original := populatedProject()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	row := projectRow{
		ID:           original.ID,
		Name:         original.Name,
		Data:         data,
		LastModified: original.LastModified,
	}
	restored, err := row.toProject()
	require.NoError(t, err)

	assert.Equal(t, original, restored)
}

func TestProjectRow_ColumnsAreAuthoritative(t *testing.T) {
	original := populatedProject()
	data, err := json.Marshal(original)
	require.NoError(t, err)

	// Колонки обновлены позже, чем сериализовалась data.
	row := projectRow{
		ID:           original.ID,
		Name:         "Переименован",
		Data:         data,
		LastModified: original.LastModified + 5000,
	}
	restored, err := row.toProject()
	require.NoError(t, err)

	assert.Equal(t, "Переименован", restored.Name)
	assert.Equal(t, original.LastModified+5000, restored.LastModified)
	// Остальной агрегат нетронут.
	assert.Equal(t, original.Scenes, restored.Scenes)
	assert.Equal(t, original.Characters, restored.Characters)
	assert.Equal(t, original.CompositeReferenceImages, restored.CompositeReferenceImages)
}

func TestProjectRow_InvalidData(t *testing.T) {
	row := projectRow{ID: "p1", Data: []byte("{broken")}
	_, err := row.toProject()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p1")
}
