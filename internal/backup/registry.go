package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/TheGojiOG/saveload/internal/archive"
)

// Quiescer pauses world writes around a snapshot
type Quiescer interface {
	Quiesce(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Options configures a Registry
type Options struct {
	WorkingDir string
	SaveDir    string
	MaxBackups int
	Archiver   archive.Manager
	Store      Store
	Timeout    time.Duration
	Now        func() time.Time
}

// CreateResult describes a finished backup
type CreateResult struct {
	Record  BackupRecord
	Elapsed time.Duration
	Evicted []BackupRecord
}

// Registry is the ordered list of backups, oldest first, together with the
// auto-backup counter. It is owned by a single goroutine and not locked.
type Registry struct {
	workingDir string
	maxBackups int
	archiver   archive.Manager
	store      Store
	storage    *ArchiveStore
	timeout    time.Duration
	now        func() time.Time

	records []BackupRecord
	elapsed time.Duration
}

// NewRegistry loads the persisted state, trims it to capacity and reports
// records whose archive is gone
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Archiver == nil {
		return nil, errors.New("archiver is required")
	}
	if opts.Store == nil {
		return nil, errors.New("state store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		workingDir: opts.WorkingDir,
		maxBackups: opts.MaxBackups,
		archiver:   opts.Archiver,
		store:      opts.Store,
		storage:    NewArchiveStore(opts.SaveDir),
		timeout:    opts.Timeout,
		now:        opts.Now,
	}

	if err := r.storage.Ensure(); err != nil {
		return nil, err
	}

	state, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load backup registry: %w", err)
	}
	r.records = append([]BackupRecord{}, state.Backups...)
	r.elapsed = time.Duration(state.AutoBackupElapsedSeconds) * time.Second

	log.Printf("[Registry] Loaded %d backups (auto-backup elapsed: %v)", len(r.records), r.elapsed)

	// a lowered max_backup_count applies to what is already on disk
	if _, err := r.EvictIfOverCapacity(); err != nil {
		return nil, err
	}

	r.reconcile()
	return r, nil
}

// reconcile logs registry and directory mismatches without changing either
func (r *Registry) reconcile() {
	known := make(map[string]bool, len(r.records))
	for _, record := range r.records {
		known[record.FilePath] = true
		if !r.storage.Exists(record.FilePath) {
			log.Printf("[Registry] Warning: archive for backup %s is missing: %s", record.ID, record.FilePath)
		}
	}

	files, err := r.storage.List()
	if err != nil {
		log.Printf("[Registry] Warning: failed to list save directory: %v", err)
		return
	}
	for _, file := range files {
		if !known[file.Path] {
			log.Printf("[Registry] Untracked archive in save directory: %s (%s)", file.Path, HumanSize(file.SizeBytes))
		}
	}
}

// Create snapshots the working directory and appends the record. Writes are
// paused through q for the duration of the archive when q is not nil.
func (r *Registry) Create(ctx context.Context, q Quiescer, actor, remark string) (CreateResult, error) {
	created := r.now()
	base := r.storage.UniqueBase(created)

	log.Printf("[Registry] Creating backup for %s (remark: %q)", actor, remark)

	start := time.Now()
	path, size, err := r.snapshot(ctx, q, base)
	elapsed := time.Since(start)
	if err != nil {
		return CreateResult{}, err
	}

	record := BackupRecord{
		ID:        "backup-" + uuid.New().String()[:8],
		FilePath:  path,
		CreatedAt: created.Format(TimeLayout),
		Actor:     actor,
		Remark:    remark,
		Size:      HumanSize(size),
		SizeBytes: size,
	}
	r.records = append(r.records, record)

	evicted, err := r.EvictIfOverCapacity()
	if err == nil && len(evicted) == 0 {
		err = r.persist()
	}
	result := CreateResult{Record: record, Elapsed: elapsed, Evicted: evicted}
	if err != nil {
		// the archive and any evictions already happened, so the caller
		// still gets the result
		return result, fmt.Errorf("backup %s was archived but not saved: %w", record.ID, err)
	}

	log.Printf("[Registry] Backup %s created: %s (%s, took %v)", record.ID, path, record.Size, elapsed.Round(time.Millisecond))

	return result, nil
}

func (r *Registry) snapshot(ctx context.Context, q Quiescer, base string) (string, int64, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if q != nil {
		if err := q.Quiesce(ctx); err != nil {
			log.Printf("[Registry] Warning: failed to pause world saving: %v", err)
		}
		defer func() {
			// resume even when the archive context is already done
			if err := q.Resume(context.WithoutCancel(ctx)); err != nil {
				log.Printf("[Registry] Warning: failed to resume world saving: %v", err)
			}
		}()
	}

	return r.archiver.Create(ctx, r.workingDir, base)
}

// Restore extracts record's archive over dir
func (r *Registry) Restore(ctx context.Context, record BackupRecord, dir string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.Printf("[Registry] Restoring backup %s from %s", record.ID, record.FilePath)
	return r.archiver.Extract(ctx, record.FilePath, dir)
}

// EvictIfOverCapacity drops the oldest records until the registry fits and
// persists the state when anything was dropped
func (r *Registry) EvictIfOverCapacity() ([]BackupRecord, error) {
	evicted := r.evict()
	if len(evicted) == 0 {
		return nil, nil
	}
	return evicted, r.persist()
}

func (r *Registry) evict() []BackupRecord {
	if r.maxBackups <= 0 {
		return nil
	}

	var evicted []BackupRecord
	for len(r.records) > r.maxBackups {
		oldest := r.records[0]
		if err := r.storage.Delete(oldest.FilePath); err != nil {
			log.Printf("[Registry] Warning: failed to delete archive of backup %s: %v", oldest.ID, err)
		}
		r.records = r.records[1:]
		evicted = append(evicted, oldest)
		log.Printf("[Registry] Evicted backup %s (created: %s)", oldest.ID, oldest.CreatedAt)
	}

	if len(evicted) > 0 {
		// drop the reference to the evicted head
		r.records = append([]BackupRecord{}, r.records...)
	}
	return evicted
}

// List returns a copy of the records, oldest first
func (r *Registry) List() []BackupRecord {
	return append([]BackupRecord{}, r.records...)
}

// Len returns the number of backups
func (r *Registry) Len() int {
	return len(r.records)
}

// At returns the record at a zero-based index
func (r *Registry) At(index int) (BackupRecord, bool) {
	if index < 0 || index >= len(r.records) {
		return BackupRecord{}, false
	}
	return r.records[index], true
}

// Last returns the newest record
func (r *Registry) Last() (BackupRecord, bool) {
	return r.At(len(r.records) - 1)
}

// Find returns the record with the given id
func (r *Registry) Find(id string) (BackupRecord, bool) {
	for _, record := range r.records {
		if record.ID == id {
			return record, true
		}
	}
	return BackupRecord{}, false
}

// AutoBackupElapsed returns the persisted auto-backup progress
func (r *Registry) AutoBackupElapsed() time.Duration {
	return r.elapsed
}

// SetAutoBackupElapsed stores the auto-backup progress
func (r *Registry) SetAutoBackupElapsed(elapsed time.Duration) error {
	if elapsed < 0 {
		elapsed = 0
	}
	r.elapsed = elapsed
	return r.persist()
}

func (r *Registry) persist() error {
	state := &State{
		Backups:                  r.List(),
		AutoBackupElapsedSeconds: int64(r.elapsed / time.Second),
	}
	if err := r.store.Save(state); err != nil {
		return fmt.Errorf("failed to persist backup registry: %w", err)
	}
	return nil
}
