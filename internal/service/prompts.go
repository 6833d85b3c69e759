package service

import (
	"fmt"
	"math"
	"strings"

	"storyboard-server/internal/model"
)

// System-instruction builders for the Gemini text and structured calls.
// The wording matters: the scene and character instructions pin down the
// JSON schema the parsers on our side expect.

func storyIdeaInstruction(style string) string {
	return fmt.Sprintf(`You are a creative assistant. Generate a short, single-paragraph story idea suitable for a short video. The story should be interesting and visually compelling. The desired visual style is "%s". Keep the idea concise and focused. The language of the response must be the same as the user's prompt. IMPORTANT: You must strictly adhere to safety policies. Do not generate content that is sexually explicit, depicts violence, promotes illegal acts, involves minors, or other sensitive topics.`, style)
}

func scriptInstruction(cfg model.GenerationConfig) string {
	dialogueRule := "Do not include any dialogue. The script should be for a video with only background music and visual storytelling."
	if cfg.IncludeDialogue {
		dialogueRule = fmt.Sprintf(`Include dialogue for the characters in the specified language: %s. Format dialogue as "CHARACTER NAME: Dialogue text."`, cfg.DialogueLanguage)
	}
	return fmt.Sprintf(`You are a scriptwriter. Based on the provided story idea, characters, and video configuration, write a complete script. The script should be suitable for a video of approximately %.0f minutes.
- The script must be detailed, describing actions, settings, and character emotions.
- %s
- Ensure the pacing fits the short video format.
- The tone should match the visual style: "%s".
- **Safety Policy:** The script must be safe for a general audience and strictly avoid sexually explicit content, extreme violence, illegal acts, or other policy-violating topics.`,
		cfg.DurationMinutes, dialogueRule, cfg.Style)
}

func charactersInstruction(cfg model.GenerationConfig) string {
	return fmt.Sprintf(`You are a character designer. Your task is to analyze the provided story idea for a %.0f-minute video and create detailed character descriptions (Character DNA).

**CRITICAL INSTRUCTIONS:**
1.  **Style Adherence:** The video's visual style is **"%s"**. All character descriptions MUST be tailored to fit this specific aesthetic.
2.  **Identify Key Characters:** Identify the main characters (maximum 3-4).
3.  **Detailed Visuals:** For each character, provide a description that includes visual details necessary for an AI image generator: gender and approximate age, hair, eyes, clothing, distinguishing features, and a visually representable mood or personality.
4.  **Safety Adherence:** All character descriptions must be appropriate and safe for a general audience.

**Output Format:**
-   You MUST output a single, valid JSON object with one key: "characters".
-   The value of "characters" must be an array of objects, each with two keys: "name" (string) and "description" (string).
-   Do not include any text, explanations, or markdown formatting before or after the JSON object.`,
		cfg.DurationMinutes, cfg.Style)
}

// PromptTypeImage and PromptTypeVideo select the prompt flavor a scene
// generation run produces. The two flavors share the scene schema but
// structure the prompt text differently.
const (
	PromptTypeImage = "image"
	PromptTypeVideo = "video"
)

func scenesInstruction(cfg model.GenerationConfig, target int, isContinuation bool, characterNames []string, promptType string) string {
	aspect := "16:9 aspect ratio"
	if strings.Contains(cfg.Framing, "9:16") {
		aspect = "9:16 aspect ratio"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `You are a professional director of photography and an AI prompt engineer. Your task is to analyze a script and generate a sequence of detailed prompts for each scene.

**CRITICAL RULES:**
1.  **JSON Format:** Your response MUST be a single, valid JSON object containing one key: "scenes". The value of "scenes" must be an array of scene objects. Do not include any other text, explanations, or markdown.
2.  **Scene Structure:** Each scene object must have `+"`scene_id`"+` (sequential integer), `+"`time`"+` ("MM:SS" format), `+"`prompt`"+` (string), and `+"`character_names`"+` (array of character names present in the scene).
3.  **Characters:** The `+"`character_names`"+` array MUST contain the names of characters (from the list: %s) who appear in the scene. If none, the array should be empty [].
4.  **Duration:** Each scene corresponds to roughly 8 seconds. Generate approximately %d scenes.`,
		strings.Join(characterNames, ", "), target)
	if isContinuation {
		sb.WriteString("\n5. **Continuation Task:** You have already generated some scenes. Continue from where you left off, ensuring the new `scene_id` and `time` are sequential and correct. Do not repeat existing scenes.")
	}

	if promptType == PromptTypeVideo {
		fmt.Fprintf(&sb, `

**PROMPT TYPE: VIDEO**
*   **Goal:** Each prompt will be used to generate a short, high-quality **video clip** representing that scene.
*   **Prompt Structure:** The prompt string MUST be a single, continuous line of text in English describing a complete cinematic shot, **including movement and action**, built from tags joined with ", ": [CAM] (camera angle, lens, composition, camera movement, always including %s), [SUBJ] (subject actions, pose, expression), [CHAR] (detailed appearance), [SET], [MOOD], [FX], [CLR], [EDIT], [RNDR], [STY] (always including the main style: **%s**), !FOCAL (the focal point and its action).`,
			aspect, cfg.Style)
	} else {
		fmt.Fprintf(&sb, `

**PROMPT TYPE: IMAGE**
*   **Goal:** Each prompt will be used to generate a single, high-quality **keyframe image** representing that scene.
*   **Prompt Structure:** The prompt string MUST be a single, continuous line of text in English, built from tags joined with ", ": [CAM] (camera angle, lens, composition, always including %s), [SUBJ] (subject, pose, expression), [CHAR] (detailed appearance), [SET], [MOOD], [FX], [CLR], [EDIT], [RNDR], [STY] (always including the main style: **%s**), !FOCAL (the main focal point).`,
			aspect, cfg.Style)
	}
	return sb.String()
}

func suggestionsInstruction(characterNames []string, style, framing string) string {
	return fmt.Sprintf(`You are an expert AI prompt engineer. Your task is to rewrite a given scene description into two distinct formats: one optimized for generating a static image, and another for generating a video clip.

**CRITICAL INSTRUCTIONS:**
1.  **JSON Output:** Your response MUST be a single, valid JSON object with two keys: "imagePrompt" and "videoPrompt". Do not include any other text or explanations.
2.  **Context:** The scene involves these characters: %s. The overall visual style is "%s". The aspect ratio is based on "%s".
3.  **Image Prompt ("imagePrompt"):** concise, focused on a single powerful keyframe.
4.  **Video Prompt ("videoPrompt"):** a complete cinematic shot with movement and action.`,
		strings.Join(characterNames, ", "), style, framing)
}

func characterImagePrompt(description, style string) string {
	return fmt.Sprintf("A full-body reference portrait of a character, neutral pose, simple background. **Visual Style: %s**. **Character DNA:** %s", style, description)
}

func compositeImagePrompt(style string) string {
	return fmt.Sprintf("Create a single group shot featuring all of the characters from the provided reference images, standing together on a plain white background. The style should be consistent across all characters and match the project's visual style: %s", style)
}

// TargetSceneCount derives the scene target from the requested duration:
// one scene per secondsPerScene of final output.
func TargetSceneCount(durationMinutes, secondsPerScene float64) int {
	if secondsPerScene <= 0 {
		return 0
	}
	return int(math.Round(durationMinutes * 60 / secondsPerScene))
}
