package selfie

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
)

// Publisher delivers a generated image and its caption to wherever the
// host surfaces them.
type Publisher interface {
	Publish(ctx context.Context, result *imagegen.Result, caption string) error
}

// FilePublisher writes each publication to a directory as an image file
// plus a sidecar caption file. Useful standalone and as the default
// sink when no messaging collaborator is configured.
type FilePublisher struct {
	dir    string
	logger *zap.Logger
}

var _ Publisher = (*FilePublisher)(nil)

// NewFilePublisher creates the output directory if needed.
func NewFilePublisher(dir string, logger *zap.Logger) (*FilePublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating publish directory %q: %w", dir, err)
	}
	return &FilePublisher{
		dir:    dir,
		logger: logger.With(zap.String("component", "file_publisher")),
	}, nil
}

func (p *FilePublisher) Publish(_ context.Context, result *imagegen.Result, caption string) error {
	data := result.ImageBytes
	if data == nil && result.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(result.ImageBase64)
		if err != nil {
			return fmt.Errorf("decoding image payload: %w", err)
		}
		data = decoded
	}
	if data == nil {
		return fmt.Errorf("result carries no inline image payload")
	}

	stem := time.Now().UTC().Format("20060102T150405.000000000")
	imgPath := filepath.Join(p.dir, stem+extForMIME(result.MIMEType))
	if err := os.WriteFile(imgPath, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, stem+".txt"), []byte(caption), 0o644); err != nil {
		return fmt.Errorf("writing caption: %w", err)
	}

	p.logger.Info("published", zap.String("path", imgPath), zap.Int("bytes", len(data)))
	return nil
}

func extForMIME(mime string) string {
	switch {
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return ".jpg"
	case strings.Contains(mime, "webp"):
		return ".webp"
	case strings.Contains(mime, "gif"):
		return ".gif"
	default:
		return ".png"
	}
}
