// Package factory constructs provider clients by format tag and
// assembles fully wired registries from model configuration.
package factory

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/imagegen/providers/comfyui"
	"github.com/pictora/pictora/imagegen/providers/doubao"
	"github.com/pictora/pictora/imagegen/providers/gemini"
	"github.com/pictora/pictora/imagegen/providers/mengyuai"
	"github.com/pictora/pictora/imagegen/providers/modelscope"
	"github.com/pictora/pictora/imagegen/providers/openai"
	"github.com/pictora/pictora/imagegen/providers/openaichat"
	"github.com/pictora/pictora/imagegen/providers/shatangyun"
	"github.com/pictora/pictora/imagegen/providers/zai"
	"github.com/pictora/pictora/types"
)

// Options carries the shared dependencies injected into every client.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

var builders = map[string]func(*http.Client, *zap.Logger) imagegen.Client{
	openai.Format:     func(h *http.Client, l *zap.Logger) imagegen.Client { return openai.New(h, l) },
	openaichat.Format: func(h *http.Client, l *zap.Logger) imagegen.Client { return openaichat.New(h, l) },
	doubao.Format:     func(h *http.Client, l *zap.Logger) imagegen.Client { return doubao.New(h, l) },
	gemini.Format:     func(h *http.Client, l *zap.Logger) imagegen.Client { return gemini.New(h, l) },
	modelscope.Format: func(h *http.Client, l *zap.Logger) imagegen.Client { return modelscope.New(h, l) },
	shatangyun.Format: func(h *http.Client, l *zap.Logger) imagegen.Client { return shatangyun.New(h, l) },
	mengyuai.Format:   func(h *http.Client, l *zap.Logger) imagegen.Client { return mengyuai.New(h, l) },
	zai.Format:        func(h *http.Client, l *zap.Logger) imagegen.Client { return zai.New(h, l) },
	comfyui.Format:    func(h *http.Client, l *zap.Logger) imagegen.Client { return comfyui.New(h, l) },
}

// Formats returns every format tag the factory can build, unsorted.
func Formats() []string {
	out := make([]string, 0, len(builders))
	for f := range builders {
		out = append(out, f)
	}
	return out
}

// Supported reports whether the format tag has a builder.
func Supported(format string) bool {
	_, ok := builders[format]
	return ok
}

// New builds a client for the given format tag.
func New(format string, opts Options) (imagegen.Client, error) {
	build, ok := builders[format]
	if !ok {
		return nil, types.NewConfigError(fmt.Sprintf("unsupported provider format %q", format))
	}
	return build(opts.HTTPClient, opts.Logger), nil
}

// BuildRegistry wires a registry from model configuration: one shared
// proxy-aware HTTP client, one provider client per format in use, and
// all valid model records. Records that fail validation are logged and
// skipped so a single bad entry cannot take down the rest.
func BuildRegistry(models map[string]imagegen.ModelConfig, proxy providers.ProxyConfig, timeout time.Duration, logger *zap.Logger) (*imagegen.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := providers.NewHTTPClient(proxy, timeout)
	if err != nil {
		return nil, err
	}

	reg := imagegen.NewRegistry()
	opts := Options{HTTPClient: httpClient, Logger: logger}

	for _, cfg := range models {
		if !Supported(cfg.Format) {
			continue
		}
		if contains(reg.Formats(), cfg.Format) {
			continue
		}
		client, err := New(cfg.Format, opts)
		if err != nil {
			return nil, err
		}
		reg.RegisterClient(client)
	}

	for id, cfg := range models {
		if err := reg.RegisterModel(id, cfg); err != nil {
			logger.Warn("skipping invalid model record",
				zap.String("model", id),
				zap.Error(err))
		}
	}

	return reg, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
