package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
)

func refImage(id string) model.ReferenceImage {
	return model.ReferenceImage{URL: "data:image/png;base64,AAAA", IDBase: id}
}

func projectWithCharacters() *model.Project {
	a := refImage("ref-a")
	b := refImage("ref-b")
	c := refImage("ref-c")
	return &model.Project{
		Characters: []model.CharacterProfile{
			{ID: "A", Name: "Anna", ReferenceImage: &a},
			{ID: "B", Name: "Boris", ReferenceImage: &b},
			{ID: "C", Name: "Clara", ReferenceImage: &c},
		},
	}
}

func TestResolveReferences_ExactCompositeWins(t *testing.T) {
	project := projectWithCharacters()
	project.CompositeReferenceImages = []model.CompositeReferenceImage{
		{ReferenceImage: refImage("comp-ab"), ID: "1", CharacterIDs: []string{"A", "B"}},
		{ReferenceImage: refImage("comp-abc"), ID: "2", CharacterIDs: []string{"A", "B", "C"}},
	}
	scene := model.Scene{SceneID: 1, CharacterIDs: []string{"B", "A"}}

	refs := service.ResolveReferences(scene, project, nil)

	require.Len(t, refs, 1, "an exact composite replaces the individual references")
	assert.Equal(t, "comp-ab", refs[0].IDBase)
}

func TestResolveReferences_SupersetCompositeIgnored(t *testing.T) {
	project := projectWithCharacters()
	project.CompositeReferenceImages = []model.CompositeReferenceImage{
		{ReferenceImage: refImage("comp-abc"), ID: "1", CharacterIDs: []string{"A", "B", "C"}},
	}
	scene := model.Scene{SceneID: 1, CharacterIDs: []string{"A", "B"}}

	refs := service.ResolveReferences(scene, project, nil)

	// {A,B,C} не совпадает с {A,B} — используются индивидуальные референсы.
	require.Len(t, refs, 2)
	assert.Equal(t, "ref-a", refs[0].IDBase)
	assert.Equal(t, "ref-b", refs[1].IDBase)
}

func TestResolveReferences_SubsetCompositeIgnored(t *testing.T) {
	project := projectWithCharacters()
	project.CompositeReferenceImages = []model.CompositeReferenceImage{
		{ReferenceImage: refImage("comp-a"), ID: "1", CharacterIDs: []string{"A"}},
	}
	scene := model.Scene{SceneID: 1, CharacterIDs: []string{"A", "B"}}

	refs := service.ResolveReferences(scene, project, nil)

	require.Len(t, refs, 2)
	assert.NotEqual(t, "comp-a", refs[0].IDBase)
}

func TestResolveReferences_SelectedImagesAppended(t *testing.T) {
	project := projectWithCharacters()
	project.Scenes = []model.Scene{
		{SceneID: 1, GeneratedImages: []model.GeneratedImage{
			{ReferenceImage: refImage("gen-1")},
			{ReferenceImage: refImage("gen-2")},
		}},
	}
	scene := model.Scene{SceneID: 2, CharacterIDs: []string{"A"}}

	refs := service.ResolveReferences(scene, project, []string{"gen-2"})

	require.Len(t, refs, 2)
	assert.Equal(t, "ref-a", refs[0].IDBase)
	assert.Equal(t, "gen-2", refs[1].IDBase)
}

func TestResolveReferences_MissingCharacterImagesSkipped(t *testing.T) {
	project := projectWithCharacters()
	project.Characters[1].ReferenceImage = nil
	scene := model.Scene{SceneID: 1, CharacterIDs: []string{"A", "B"}}

	refs := service.ResolveReferences(scene, project, nil)

	require.Len(t, refs, 1)
	assert.Equal(t, "ref-a", refs[0].IDBase)
}

func TestResolveReferences_NoCharactersNoComposites(t *testing.T) {
	project := projectWithCharacters()
	project.CompositeReferenceImages = []model.CompositeReferenceImage{
		{ReferenceImage: refImage("comp-ab"), ID: "1", CharacterIDs: []string{"A", "B"}},
	}
	scene := model.Scene{SceneID: 1}

	refs := service.ResolveReferences(scene, project, nil)
	assert.Empty(t, refs, "a scene without tagged characters never matches a composite")
}
