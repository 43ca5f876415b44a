package providers

import (
	"regexp"
	"strings"

	"github.com/pictora/pictora/imagegen"
)

// ChatImage is one entry of a chat message's image attachment list, as
// returned by gateways that surface generated images out of band.
type ChatImage struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

// ChatMessage is the assistant message shape shared by chat-completion
// style image providers.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Images  []ChatImage `json:"images,omitempty"`
}

// ExtractedImage is a successfully located image payload. Exactly one of
// Base64 or URL is set.
type ExtractedImage struct {
	Base64 string
	URL    string
	MIME   string
}

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	dataURIRe       = regexp.MustCompile(`data:image/[a-zA-Z+.-]+;base64,[A-Za-z0-9+/=]+`)
	bareImageURLRe  = regexp.MustCompile(`https?://[^\s"'<>)]+\.(?:png|jpe?g|webp|gif)(?:\?[^\s"'<>)]*)?`)
)

// extraction strategies, applied in fixed priority order. Each is a pure
// function over the message; the first hit wins.
var chatExtractors = []struct {
	name string
	fn   func(ChatMessage) (string, bool)
}{
	{"images_field", extractImagesField},
	{"markdown_image", extractMarkdownImage},
	{"data_uri", extractDataURI},
	{"bare_url", extractBareURL},
}

// ExtractImagePayload walks the extraction strategies in priority order
// and normalizes the first hit. Returns false only when every strategy
// misses.
func ExtractImagePayload(msg ChatMessage) (*ExtractedImage, bool) {
	for _, e := range chatExtractors {
		raw, ok := e.fn(msg)
		if !ok {
			continue
		}
		return normalizePayload(raw), true
	}
	return nil, false
}

func extractImagesField(msg ChatMessage) (string, bool) {
	for _, img := range msg.Images {
		if img.ImageURL.URL != "" {
			return img.ImageURL.URL, true
		}
	}
	return "", false
}

func extractMarkdownImage(msg ChatMessage) (string, bool) {
	m := markdownImageRe.FindStringSubmatch(msg.Content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func extractDataURI(msg ChatMessage) (string, bool) {
	m := dataURIRe.FindString(msg.Content)
	if m == "" {
		return "", false
	}
	return m, true
}

func extractBareURL(msg ChatMessage) (string, bool) {
	m := bareImageURLRe.FindString(msg.Content)
	if m == "" {
		return "", false
	}
	return m, true
}

func normalizePayload(raw string) *ExtractedImage {
	switch {
	case strings.HasPrefix(raw, "data:"):
		b64, mime := imagegen.StripDataURI(raw)
		return &ExtractedImage{Base64: b64, MIME: mime}
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return &ExtractedImage{URL: raw}
	default:
		return &ExtractedImage{Base64: raw, MIME: imagegen.DetectMIME(raw)}
	}
}
