// Package model manages speech model artifacts and the inference engine
// that runs them.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultSize = "small"

type Spec struct {
	Size     string
	FileName string
	URL      string
	SHA256   string
}

type Resolved struct {
	Size          string
	Path          string
	URL           string
	SHA256        string
	NeedsDownload bool
	IsCustomPath  bool
}

var registry = map[string]Spec{
	"tiny": {
		Size:     "tiny",
		FileName: "ggml-tiny.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"base": {
		Size:     "base",
		FileName: "ggml-base.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
	},
	"small": {
		Size:     "small",
		FileName: "ggml-small.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
	},
	"medium": {
		Size:     "medium",
		FileName: "ggml-medium.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
	},
	"large-v3": {
		Size:     "large-v3",
		FileName: "ggml-large-v3.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

// Sizes lists the supported model sizes, smallest first.
func Sizes() []string {
	sizes := make([]string, 0, len(registry))
	for size := range registry {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)
	return sizes
}

func Lookup(size string) (Spec, bool) {
	spec, ok := registry[size]
	return spec, ok
}

// Resolve maps a model size (or explicit file path) onto a local artifact,
// reporting whether it still needs downloading.
func Resolve(sizeOrPath, modelDir string) (Resolved, error) {
	if strings.TrimSpace(sizeOrPath) == "" {
		sizeOrPath = DefaultSize
	}

	if spec, ok := Lookup(sizeOrPath); ok {
		if strings.TrimSpace(modelDir) == "" {
			return Resolved{}, errors.New("model directory must not be empty for a named model size")
		}

		modelPath := filepath.Join(modelDir, spec.FileName)
		_, statErr := os.Stat(modelPath)
		needsDownload := errors.Is(statErr, os.ErrNotExist)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return Resolved{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return Resolved{
			Size:          spec.Size,
			Path:          modelPath,
			URL:           spec.URL,
			SHA256:        spec.SHA256,
			NeedsDownload: needsDownload,
		}, nil
	}

	if !looksLikePath(sizeOrPath) {
		return Resolved{}, fmt.Errorf("unknown model size %q (known sizes: %s)", sizeOrPath, strings.Join(Sizes(), ", "))
	}

	customPath := filepath.Clean(sizeOrPath)
	if _, err := os.Stat(customPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Resolved{}, fmt.Errorf("custom model path does not exist: %s", customPath)
		}
		return Resolved{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return Resolved{
		Path:         customPath,
		IsCustomPath: true,
	}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}
