package backup

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveStore manages archive files inside the save directory
type ArchiveStore struct {
	basePath string
}

// ArchiveFile represents an archive found in the save directory
type ArchiveFile struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// NewArchiveStore creates a new archive store rooted at basePath
func NewArchiveStore(basePath string) *ArchiveStore {
	return &ArchiveStore{basePath: basePath}
}

// Ensure creates the save directory
func (as *ArchiveStore) Ensure() error {
	if err := os.MkdirAll(as.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	return nil
}

// UniqueBase returns a path (without extension) for a new archive named after
// created that collides with no existing archive
func (as *ArchiveStore) UniqueBase(created time.Time) string {
	name := "backup_" + created.Format(archiveNameLayout)
	base := filepath.Join(as.basePath, name)
	for i := 2; as.taken(base); i++ {
		base = filepath.Join(as.basePath, fmt.Sprintf("%s_%d", name, i))
	}
	return base
}

func (as *ArchiveStore) taken(base string) bool {
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return false
	}
	return len(matches) > 0
}

// Delete removes an archive file
func (as *ArchiveStore) Delete(path string) error {
	log.Printf("[ArchiveStore] Deleting %s", path)

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// Exists checks if an archive file exists
func (as *ArchiveStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List returns the archives in the save directory
func (as *ArchiveStore) List() ([]ArchiveFile, error) {
	entries, err := os.ReadDir(as.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []ArchiveFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "backup_") {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".partial") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Printf("[ArchiveStore] Warning: Failed to get info for %s: %v", entry.Name(), err)
			continue
		}

		files = append(files, ArchiveFile{
			Path:      filepath.Join(as.basePath, entry.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	return files, nil
}
