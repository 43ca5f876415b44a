package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
)

func TestNew_AllFormats(t *testing.T) {
	for _, format := range Formats() {
		client, err := New(format, Options{Logger: zap.NewNop()})
		require.NoError(t, err, format)
		assert.Equal(t, format, client.Format())
	}
	assert.Len(t, Formats(), 9)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("dalle-classic", Options{})
	require.Error(t, err)
}

func TestBuildRegistry_SkipsInvalidModels(t *testing.T) {
	models := map[string]imagegen.ModelConfig{
		"good": {
			Format:  "openai",
			BaseURL: "https://api.example.com/v1",
			APIKey:  "k",
			Model:   "img-1",
		},
		"no-url": {
			Format: "gemini",
		},
		"bad-format": {
			Format:  "stable-horde",
			BaseURL: "https://horde.example.com",
		},
	}

	reg, err := BuildRegistry(models, providers.ProxyConfig{}, 30*time.Second, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, reg.Models())

	_, cfg, err := reg.Resolve("good")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Format)
}

func TestBuildRegistry_OneClientPerFormat(t *testing.T) {
	models := map[string]imagegen.ModelConfig{
		"a": {Format: "openai", BaseURL: "https://a.example.com", Model: "x"},
		"b": {Format: "openai", BaseURL: "https://b.example.com", Model: "y"},
		"c": {Format: "zai", BaseURL: "https://c.example.com", Model: "z"},
	}

	reg, err := BuildRegistry(models, providers.ProxyConfig{}, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"openai", "zai"}, reg.Formats())
	assert.Len(t, reg.Models(), 3)
}

func TestBuildRegistry_BadProxy(t *testing.T) {
	_, err := BuildRegistry(nil, providers.ProxyConfig{Enabled: true, URL: "ftp://nope"}, 0, nil)
	require.Error(t, err)
}
