package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager snapshots a directory into a single archive file and extracts it back.
// Both calls are all-or-nothing from the caller's point of view: on failure the
// returned error is an *Error and the destination may hold partial output.
type Manager interface {
	// Create archives sourceDir into destination plus the format extension and
	// returns the resolved archive path and its size in bytes.
	Create(ctx context.Context, sourceDir, destination string) (string, int64, error)

	// Extract unpacks archivePath into destinationDir, overwriting files in place.
	Extract(ctx context.Context, archivePath, destinationDir string) error
}

// Error reports a failed archive operation
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a FileManager
type Options struct {
	Format Format
	// Exclude lists absolute paths skipped while archiving (with everything below them)
	Exclude []string
}

// FileManager implements Manager on the local filesystem
type FileManager struct {
	format  Format
	exclude []string
}

// NewManager creates a new archive manager
func NewManager(options Options) *FileManager {
	exclude := make([]string, 0, len(options.Exclude))
	for _, entry := range options.Exclude {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if abs, err := filepath.Abs(entry); err == nil {
			entry = abs
		}
		exclude = append(exclude, filepath.Clean(entry))
	}

	return &FileManager{
		format:  normalizeFormat(options.Format),
		exclude: exclude,
	}
}

// Create creates an archive of sourceDir
func (m *FileManager) Create(ctx context.Context, sourceDir, destination string) (string, int64, error) {
	archivePath := destination + "." + m.format.Extension()
	fail := func(err error) (string, int64, error) {
		return "", 0, &Error{Op: "create", Path: archivePath, Err: err}
	}

	sourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return fail(err)
	}
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fail(err)
	}
	if !info.IsDir() {
		return fail(fmt.Errorf("source is not a directory: %s", sourceDir))
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return fail(fmt.Errorf("failed to create archive directory: %w", err))
	}

	// write next to the final name and rename once complete
	partialPath := archivePath + ".partial"
	file, err := os.Create(partialPath)
	if err != nil {
		return fail(err)
	}

	skip := append([]string{}, m.exclude...)
	if abs, err := filepath.Abs(partialPath); err == nil {
		skip = append(skip, abs)
	}
	if abs, err := filepath.Abs(archivePath); err == nil {
		skip = append(skip, abs)
	}

	log.Printf("[Archive] Creating archive %s from %s", archivePath, sourceDir)
	start := time.Now()

	walker := &treeWalker{root: sourceDir, exclude: skip}
	switch m.format.Type {
	case TypeTar:
		err = writeTar(ctx, file, walker, m.format)
	default:
		err = writeZip(ctx, file, walker, m.format)
	}
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partialPath)
		return fail(err)
	}

	if err := os.Rename(partialPath, archivePath); err != nil {
		os.Remove(partialPath)
		return fail(err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return fail(fmt.Errorf("failed to get archive size: %w", err))
	}

	log.Printf("[Archive] Archive created successfully: %s (size: %d bytes, took %v)",
		archivePath, stat.Size(), time.Since(start).Round(time.Millisecond))

	return archivePath, stat.Size(), nil
}

// Extract extracts an archive to a destination directory
func (m *FileManager) Extract(ctx context.Context, archivePath, destinationDir string) error {
	fail := func(err error) error {
		return &Error{Op: "extract", Path: archivePath, Err: err}
	}

	format, err := DetectFormat(archivePath)
	if err != nil {
		return fail(err)
	}

	destinationDir, err = filepath.Abs(destinationDir)
	if err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(destinationDir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create destination directory: %w", err))
	}

	log.Printf("[Archive] Extracting archive %s to %s", archivePath, destinationDir)

	switch format.Type {
	case TypeTar:
		err = readTar(ctx, archivePath, destinationDir, format)
	default:
		err = readZip(ctx, archivePath, destinationDir)
	}
	if err != nil {
		return fail(err)
	}

	log.Printf("[Archive] Archive extracted successfully to %s", destinationDir)
	return nil
}

// entry is one walked filesystem object, Name is slash separated and relative
type entry struct {
	Path string
	Name string
	Info fs.FileInfo
}

type treeWalker struct {
	root    string
	exclude []string
}

func (w *treeWalker) excluded(path string) bool {
	for _, skip := range w.exclude {
		if path == skip || strings.HasPrefix(path, skip+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// walk visits directories and regular files below root in lexical order
func (w *treeWalker) walk(ctx context.Context, visit func(entry) error) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == w.root {
			return nil
		}
		if w.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			// symlinks, sockets and devices are not part of a server snapshot
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		return visit(entry{Path: path, Name: filepath.ToSlash(rel), Info: info})
	})
}

// safeJoin resolves an archive member name below root, refusing escapes
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.FromSlash(strings.TrimPrefix(name, "/"))
	target := filepath.Join(root, cleaned)
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

func writeFile(ctx context.Context, target string, mode fs.FileMode, modTime time.Time, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: src}); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(target, modTime, modTime); err != nil {
			log.Printf("[Archive] Warning: failed to set mtime on %s: %v", target, err)
		}
	}
	return nil
}

func copyFile(ctx context.Context, dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, &contextReader{ctx: ctx, r: src})
	return err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
