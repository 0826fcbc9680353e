package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultTag     = "latest"
	mediaTypeModel = "application/vnd.ollama.image.model"
)

type manifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	Layers        []manifestLayer `json:"layers"`
}

type manifestLayer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// StoreDir returns the local model store root, honoring OLLAMA_MODELS.
func StoreDir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// ResolvePath maps a checkpoint reference to a GGUF file path. A reference
// that exists on disk is used as-is; otherwise it is treated as a store name
// like "gemma3:270m" and resolved through the local manifest directory.
func ResolvePath(ref string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}

	name, tag := ref, defaultTag
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		name, tag = ref[:i], ref[i+1:]
	}

	baseDir, err := StoreDir()
	if err != nil {
		return "", err
	}

	manifestPath := filepath.Join(baseDir, "manifests", "registry.ollama.ai", "library", name, tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("checkpoint %q: no such file and no store manifest at %s", ref, manifestPath)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("manifest %s: %w", manifestPath, err)
	}

	var digest string
	for _, l := range m.Layers {
		if l.MediaType == mediaTypeModel {
			digest = l.Digest
			break
		}
	}
	if digest == "" {
		return "", fmt.Errorf("manifest %s: no model layer", manifestPath)
	}

	blobPath := filepath.Join(baseDir, "blobs", strings.Replace(digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("model blob not found at %s", blobPath)
	}
	return blobPath, nil
}
