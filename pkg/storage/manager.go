package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager handles image file storage and duplicate detection for a run's
// images directory. Files are named {postID}_{index}.jpg.
type Manager struct {
	outputDir        string
	downloadedImages map[string]bool
	mu               sync.RWMutex
}

// NewManager creates a storage manager rooted at outputDir.
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir:        outputDir,
		downloadedImages: make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// ImageKey builds the dedup key and filename stem for one image slot.
func ImageKey(postID string, index int) string {
	return fmt.Sprintf("%s_%d", postID, index)
}

// scanExistingFiles seeds the dedup map from files already on disk, so
// re-running a scrape skips images downloaded by a previous run.
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".jpg")
		m.downloadedImages[key] = true
	}

	return nil
}

// IsDownloaded checks whether the image slot has already been saved.
func (m *Manager) IsDownloaded(postID string, index int) bool {
	key := ImageKey(postID, index)

	m.mu.RLock()
	cached := m.downloadedImages[key]
	m.mu.RUnlock()
	if cached {
		return true
	}

	filename := filepath.Join(m.outputDir, key+".jpg")
	if _, err := os.Stat(filename); err == nil {
		m.mu.Lock()
		m.downloadedImages[key] = true
		m.mu.Unlock()
		return true
	}

	return false
}

// SaveImage writes image data through a temp file and atomic rename.
func (m *Manager) SaveImage(r io.Reader, postID string, index int) error {
	key := ImageKey(postID, index)
	filename := filepath.Join(m.outputDir, key+".jpg")

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save image data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.downloadedImages[key] = true
	m.mu.Unlock()

	return nil
}

// GetOutputDir returns the output directory path.
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// GetDownloadedCount returns the number of saved images.
func (m *Manager) GetDownloadedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.downloadedImages)
}

// ListImages returns the saved image paths in directory order.
func (m *Manager) ListImages() ([]string, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		paths = append(paths, filepath.Join(m.outputDir, entry.Name()))
	}
	return paths, nil
}
