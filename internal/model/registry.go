package model

import (
	"os"
	"path/filepath"
)

// Info holds metadata for a whisper model
type Info struct {
	ID           string // model identifier (e.g., "base.en")
	Name         string // display name (e.g., "Base English")
	Filename     string // file name (e.g., "ggml-base.en.bin")
	Size         string // human readable size
	SizeBytes    int64  // size in bytes for progress tracking
	Multilingual bool   // true if supports multiple languages
}

// available whisper models from huggingface.co/ggerganov/whisper.cpp
var models = []Info{
	// english-only models (faster, smaller)
	{ID: "tiny.en", Name: "Tiny English", Filename: "ggml-tiny.en.bin", Size: "75MB", SizeBytes: 75_000_000, Multilingual: false},
	{ID: "base.en", Name: "Base English", Filename: "ggml-base.en.bin", Size: "142MB", SizeBytes: 142_000_000, Multilingual: false},
	{ID: "small.en", Name: "Small English", Filename: "ggml-small.en.bin", Size: "466MB", SizeBytes: 466_000_000, Multilingual: false},
	{ID: "medium.en", Name: "Medium English", Filename: "ggml-medium.en.bin", Size: "1.5GB", SizeBytes: 1_500_000_000, Multilingual: false},

	// multilingual models
	{ID: "tiny", Name: "Tiny", Filename: "ggml-tiny.bin", Size: "75MB", SizeBytes: 75_000_000, Multilingual: true},
	{ID: "base", Name: "Base", Filename: "ggml-base.bin", Size: "142MB", SizeBytes: 142_000_000, Multilingual: true},
	{ID: "small", Name: "Small", Filename: "ggml-small.bin", Size: "466MB", SizeBytes: 466_000_000, Multilingual: true},
	{ID: "medium", Name: "Medium", Filename: "ggml-medium.bin", Size: "1.5GB", SizeBytes: 1_500_000_000, Multilingual: true},
	{ID: "large-v3", Name: "Large V3", Filename: "ggml-large-v3.bin", Size: "3GB", SizeBytes: 3_000_000_000, Multilingual: true},
}

// modelByID maps model ID to Info for quick lookup
var modelByID = func() map[string]Info {
	m := make(map[string]Info, len(models))
	for _, model := range models {
		m[model.ID] = model
	}
	return m
}()

const (
	// base URL for downloading models from huggingface
	baseDownloadURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
)

// GetModelsDir returns the directory where whisper models are stored.
func GetModelsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "voxcap", "models", "whisper"), nil
}

// GetModelPath returns the full path to a model file.
// Returns empty string if model ID is unknown.
func GetModelPath(modelID string) string {
	info, ok := modelByID[modelID]
	if !ok {
		return ""
	}
	dir, err := GetModelsDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, info.Filename)
}

// GetDownloadURL returns the full download URL for a model.
// Returns empty string if model ID is unknown.
func GetDownloadURL(modelID string) string {
	info, ok := modelByID[modelID]
	if !ok {
		return ""
	}
	return baseDownloadURL + "/" + info.Filename
}

// Get returns info for a model by ID.
// Returns nil if model ID is unknown.
func Get(modelID string) *Info {
	info, ok := modelByID[modelID]
	if !ok {
		return nil
	}
	return &info
}

// List returns all available whisper models
func List() []Info {
	result := make([]Info, len(models))
	copy(result, models)
	return result
}

// ListMultilingual returns models that support multiple languages
func ListMultilingual() []Info {
	var result []Info
	for _, m := range models {
		if m.Multilingual {
			result = append(result, m)
		}
	}
	return result
}

// ListEnglishOnly returns english-only models
func ListEnglishOnly() []Info {
	var result []Info
	for _, m := range models {
		if !m.Multilingual {
			result = append(result, m)
		}
	}
	return result
}

// IsInstalled returns true if the model is downloaded and available
func IsInstalled(modelID string) bool {
	path := GetModelPath(modelID)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// ListInstalled returns IDs of all installed models
func ListInstalled() []string {
	var installed []string
	for _, m := range models {
		if IsInstalled(m.ID) {
			installed = append(installed, m.ID)
		}
	}
	return installed
}

// GetInstalledPath returns the path to an installed model, or an error
// if it is not installed.
func GetInstalledPath(modelID string) (string, error) {
	if !IsInstalled(modelID) {
		return "", ErrModelNotFound
	}
	return GetModelPath(modelID), nil
}
