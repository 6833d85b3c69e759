package service

import "storyboard-server/internal/model"

// ResolveReferences assembles the reference set a scene image generation
// should receive. A composite reference whose character set matches the
// scene's tagged characters exactly replaces everything else; otherwise the
// per-character references are combined with the generated images the user
// selected from other scenes.
func ResolveReferences(scene model.Scene, project *model.Project, selectedImageIDs []string) []model.ReferenceImage {
	if composite := matchComposite(scene.CharacterIDs, project.CompositeReferenceImages); composite != nil {
		return []model.ReferenceImage{composite.ReferenceImage}
	}

	var refs []model.ReferenceImage
	for _, id := range scene.CharacterIDs {
		character := model.FindCharacter(project.Characters, id)
		if character != nil && character.ReferenceImage != nil {
			refs = append(refs, *character.ReferenceImage)
		}
	}

	if len(selectedImageIDs) > 0 {
		selected := make(map[string]struct{}, len(selectedImageIDs))
		for _, id := range selectedImageIDs {
			selected[id] = struct{}{}
		}
		for _, sc := range project.Scenes {
			for _, img := range sc.GeneratedImages {
				if _, ok := selected[img.IDBase]; ok {
					refs = append(refs, img.ReferenceImage)
				}
			}
		}
	}
	return refs
}

// matchComposite finds a composite whose character set equals the scene's
// character set. Subsets and supersets do not count.
func matchComposite(sceneCharacterIDs []string, composites []model.CompositeReferenceImage) *model.CompositeReferenceImage {
	if len(sceneCharacterIDs) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(sceneCharacterIDs))
	for _, id := range sceneCharacterIDs {
		want[id] = struct{}{}
	}
	for i := range composites {
		composite := &composites[i]
		if len(composite.CharacterIDs) != len(want) {
			continue
		}
		matched := true
		for _, id := range composite.CharacterIDs {
			if _, ok := want[id]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return composite
		}
	}
	return nil
}
