package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tailer follows a log file and hands every new complete line to onLine.
// It starts at the end of the file and follows truncation, rotation and
// re-creation. A periodic poll covers filesystems that drop change events.
type Tailer struct {
	path         string
	onLine       func(string)
	pollInterval time.Duration

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial strings.Builder
}

// NewTailer creates a tailer for path
func NewTailer(path string, onLine func(string)) *Tailer {
	return &Tailer{
		path:         filepath.Clean(path),
		onLine:       onLine,
		pollInterval: time.Second,
	}
}

// Serve follows the file until ctx is done
func (t *Tailer) Serve(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := t.open(true); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Tailer] Failed to open %s: %v", t.path, err)
	}
	defer t.close()

	log.Printf("[Tailer] Following %s", t.path)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				t.reopen()
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				t.drain()
				t.close()
			case event.Has(fsnotify.Write):
				t.drain()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			log.Printf("[Tailer] Watcher error: %v", err)

		case <-ticker.C:
			t.drain()
		}
	}
}

func (t *Tailer) String() string {
	return "console-tailer"
}

func (t *Tailer) open(fromEnd bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}

	var offset int64
	if fromEnd {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return err
		}
	}

	t.file = file
	t.reader = bufio.NewReader(file)
	t.offset = offset
	t.partial.Reset()
	return nil
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
	}
}

// reopen switches to a re-created file, reading it from the start
func (t *Tailer) reopen() {
	t.drain()
	t.close()
	if err := t.open(false); err != nil {
		log.Printf("[Tailer] Failed to reopen %s: %v", t.path, err)
		return
	}
	t.drain()
}

// drain reads every complete line appended since the last call
func (t *Tailer) drain() {
	if t.file == nil {
		// the file appeared without a create event reaching us
		if err := t.open(false); err != nil {
			return
		}
	}

	info, err := t.file.Stat()
	if err != nil {
		log.Printf("[Tailer] Failed to stat %s: %v", t.path, err)
		return
	}
	if info.Size() < t.offset {
		log.Printf("[Tailer] %s was truncated, reading from the start", t.path)
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			log.Printf("[Tailer] Failed to rewind %s: %v", t.path, err)
			return
		}
		t.reader.Reset(t.file)
		t.offset = 0
		t.partial.Reset()
	}

	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		if err != nil {
			// keep the incomplete tail until its newline arrives
			t.partial.WriteString(chunk)
			if !errors.Is(err, io.EOF) {
				log.Printf("[Tailer] Read error on %s: %v", t.path, err)
			}
			return
		}

		line := t.partial.String() + strings.TrimRight(chunk, "\r\n")
		t.partial.Reset()
		t.onLine(line)
	}
}
