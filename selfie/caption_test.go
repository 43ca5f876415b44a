package selfie

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanCaption(t *testing.T) {
	assert.Equal(t, "a day out", CleanCaption(`  "a day out"  `))
	assert.Equal(t, "line one line two", CleanCaption("line one\r\nline two"))
	assert.Equal(t, "spaced out", CleanCaption("spaced    out"))

	long := strings.Repeat("字", maxCaptionLen+50)
	assert.Len(t, []rune(CleanCaption(long)), maxCaptionLen, "cut at a rune boundary, not mid-character")
}

func TestTemplateCaptionGenerator(t *testing.T) {
	gen := TemplateCaptionGenerator{}

	got, err := gen.Caption(context.Background(), Scene{
		Activity: Activity{Type: ActivityMeal, Title: "ramen with friends"},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "ramen with friends")

	got, err = gen.Caption(context.Background(), Scene{
		Activity: Activity{Type: ActivityType("unknown")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got, "unknown activity still yields a caption")
}
