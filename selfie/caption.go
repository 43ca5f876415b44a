package selfie

import (
	"context"
	"fmt"
	"strings"
)

// CaptionGenerator produces the text published with a generated image.
// Implementations typically wrap an external text-generation service;
// a failure here discards the image, nothing is queued for later.
type CaptionGenerator interface {
	Caption(ctx context.Context, scene Scene) (string, error)
}

const maxCaptionLen = 300

// CleanCaption normalizes collaborator output: surrounding quotes and
// newlines are stripped and overlong text is cut at a rune boundary.
func CleanCaption(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'“”`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxCaptionLen {
		s = string(runes[:maxCaptionLen])
	}
	return s
}

// TemplateCaptionGenerator is the fallback caption source used when no
// external text-generation collaborator is wired: a fixed phrasing per
// activity type.
type TemplateCaptionGenerator struct{}

var _ CaptionGenerator = (*TemplateCaptionGenerator)(nil)

var captionTemplates = map[ActivityType]string{
	ActivitySleep:    "so sleepy... %s time",
	ActivityWork:     "busy with %s, wish me luck",
	ActivityStudy:    "hitting the books: %s",
	ActivityExercise: "done with %s, feeling great",
	ActivityMeal:     "treating myself, %s today",
	ActivityLeisure:  "taking it easy with %s",
	ActivityOuting:   "out and about, %s",
	ActivityChores:   "finally finished %s",
}

func (TemplateCaptionGenerator) Caption(_ context.Context, scene Scene) (string, error) {
	tmpl, ok := captionTemplates[scene.Activity.Type]
	if !ok {
		tmpl = captionTemplates[ActivityLeisure]
	}
	title := scene.Activity.Title
	if title == "" {
		title = string(scene.Activity.Type)
	}
	return CleanCaption(fmt.Sprintf(tmpl, title)), nil
}
