package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractImagePayload_ImagesFieldWins(t *testing.T) {
	msg := ChatMessage{
		Content: "here you go ![img](https://cdn.example.com/low-priority.png)",
	}
	msg.Images = []ChatImage{{}}
	msg.Images[0].ImageURL.URL = "data:image/png;base64,iVBORwAAAA"

	got, ok := ExtractImagePayload(msg)
	require.True(t, ok)
	assert.Equal(t, "iVBORwAAAA", got.Base64, "images field takes priority over markdown")
	assert.Equal(t, "image/png", got.MIME)
}

func TestExtractImagePayload_Markdown(t *testing.T) {
	got, ok := ExtractImagePayload(ChatMessage{
		Content: "Done! ![a cat](https://cdn.example.com/cat.png) enjoy",
	})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/cat.png", got.URL)
}

func TestExtractImagePayload_DataURI(t *testing.T) {
	got, ok := ExtractImagePayload(ChatMessage{
		Content: "image: data:image/jpeg;base64,/9j/4AAQ== end",
	})
	require.True(t, ok)
	assert.Equal(t, "/9j/4AAQ==", got.Base64)
	assert.Equal(t, "image/jpeg", got.MIME)
}

func TestExtractImagePayload_BareURL(t *testing.T) {
	got, ok := ExtractImagePayload(ChatMessage{
		Content: "see https://cdn.example.com/out/cat.jpeg?sig=abc123",
	})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/out/cat.jpeg?sig=abc123", got.URL)
}

func TestExtractImagePayload_AllMiss(t *testing.T) {
	_, ok := ExtractImagePayload(ChatMessage{Content: "sorry, I cannot draw that"})
	assert.False(t, ok)
}
