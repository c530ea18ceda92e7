package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ProgressFunc is called during download with bytes downloaded and total
type ProgressFunc func(downloaded, total int64)

// Download fetches a model from huggingface into the models directory.
// The file lands under a .downloading suffix and is renamed only once
// complete, so a partial download never looks installed.
// Progress callback is optional (can be nil).
func Download(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	info := Get(modelID)
	if info == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}

	url := GetDownloadURL(modelID)

	dir, err := GetModelsDir()
	if err != nil {
		return fmt.Errorf("failed to get models directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	destPath := filepath.Join(dir, info.Filename)
	tempPath := destPath + ".downloading"

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(tempPath) // clean up temp file on error
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total < 0 {
		total = info.SizeBytes // fall back to expected size
	}

	var downloaded int64
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	return nil
}

// Remove deletes a downloaded model
func Remove(modelID string) error {
	info := Get(modelID)
	if info == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}

	if !IsInstalled(modelID) {
		return fmt.Errorf("model not installed: %s", info.ID)
	}

	if err := os.Remove(GetModelPath(modelID)); err != nil {
		return fmt.Errorf("failed to remove model: %w", err)
	}

	return nil
}
