package imagegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint computes a deterministic cache key over the request fields
// that influence provider output. Session identifiers are deliberately
// excluded so identical requests from different conversations share an
// entry. The input image contributes through its own hash to keep keys
// short.
func Fingerprint(req *Request) string {
	h := sha256.New()

	modelID := ""
	if req.Model != nil {
		modelID = req.Model.ID
	}

	imageHash := ""
	if req.InputImage != "" {
		sum := sha256.Sum256([]byte(req.InputImage))
		imageHash = hex.EncodeToString(sum[:])
	}

	// Fixed field order with explicit separators so no two distinct
	// requests can serialize to the same byte stream.
	fields := []string{
		"prompt=" + req.Prompt,
		"negative=" + req.NegativePrompt,
		"size=" + req.Size,
		"mode=" + string(req.Mode),
		"model=" + modelID,
		"image=" + imageHash,
		fmt.Sprintf("strength=%.3f", req.Strength),
	}
	h.Write([]byte(strings.Join(fields, "\x00")))

	return hex.EncodeToString(h.Sum(nil))
}
