package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/saveload/internal/archive"
	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/config"
	"github.com/TheGojiOG/saveload/internal/permissions"
	"github.com/TheGojiOG/saveload/internal/scheduler"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

type fakeHost struct {
	mu      sync.Mutex
	running bool
	lines   []string
	stops   int
	starts  int
	stopErr error
}

func (h *fakeHost) WriteLine(ctx context.Context, line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
	return nil
}

func (h *fakeHost) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
	h.running = true
	return nil
}

func (h *fakeHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopErr != nil {
		return h.stopErr
	}
	h.stops++
	return nil
}

func (h *fakeHost) IsRunning(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *fakeHost) setRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// said returns the say lines containing substr
func (h *fakeHost) said(substr string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, line := range h.lines {
		if strings.HasPrefix(line, "say ") && strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

type recordingFeed struct {
	mu    sync.Mutex
	types []string
}

func (f *recordingFeed) Publish(msgType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, msgType)
}

func (f *recordingFeed) has(msgType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.types {
		if t == msgType {
			return true
		}
	}
	return false
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

type harness struct {
	o        *Orchestrator
	sched    *scheduler.Manual
	host     *fakeHost
	feed     *recordingFeed
	clock    *clock
	registry *backup.Registry
	root     string
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	root := t.TempDir()
	saveDir := filepath.Join(root, "saveload")

	cfg := config.Default()
	cfg.Server.WorkingDir = root
	cfg.Saveload.SavePath = saveDir
	cfg.Saveload.RestoreValidSeconds = 30
	cfg.Saveload.RestoreCountdownSeconds = 3
	cfg.Saveload.MaxBackupCount = 5
	if mutate != nil {
		mutate(cfg)
	}

	if err := os.MkdirAll(filepath.Join(root, "world"), 0755); err != nil {
		t.Fatalf("failed to create world: %v", err)
	}
	writeWorld(t, root, "v1")

	minute := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	registry, err := backup.NewRegistry(backup.Options{
		WorkingDir: root,
		SaveDir:    saveDir,
		MaxBackups: cfg.Saveload.MaxBackupCount,
		Archiver: archive.NewManager(archive.Options{
			Format:  archive.Format{Type: archive.TypeZip},
			Exclude: []string{saveDir},
		}),
		Store: backup.NewFileStore(filepath.Join(saveDir, "info.json")),
		Now: func() time.Time {
			minute = minute.Add(time.Minute)
			return minute
		},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	h := &harness{
		sched:    scheduler.NewManual(),
		host:     &fakeHost{running: true},
		feed:     &recordingFeed{},
		clock:    &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		registry: registry,
		root:     root,
	}

	h.o, err = New(Options{
		Config:      cfg,
		Registry:    registry,
		Scheduler:   h.sched,
		Host:        h.host,
		Permissions: permissions.Everyone{},
		Feed:        h.feed,
		Now:         h.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return h
}

func writeWorld(t *testing.T, root, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, "world", "level.dat"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write world: %v", err)
	}
}

func readWorld(t *testing.T, root string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "world", "level.dat"))
	if err != nil {
		t.Fatalf("failed to read world: %v", err)
	}
	return string(data)
}

// run dispatches text as a privileged actor and returns the replies
func (h *harness) run(t *testing.T, actor, text string) ([]Reply, error) {
	t.Helper()
	return h.runAs(actor, true, text)
}

func (h *harness) runAs(actor string, privileged bool, text string) ([]Reply, error) {
	replier := &BufferReplier{}
	result := make(chan error, 1)
	h.o.Handle(InputEvent{Actor: actor, Privileged: privileged, Text: text, Replier: replier, result: result})
	return replier.Replies(), <-result
}

func (h *harness) fire(t *testing.T, kind scheduler.Kind) {
	t.Helper()
	f, ok := h.sched.Fire(kind)
	if !ok {
		t.Fatalf("expected %s timer to be active", kind)
	}
	h.o.Handle(TimerEvent{Fire: f})
}

func (h *harness) mustBackup(t *testing.T, remark string) {
	t.Helper()
	text := "!sl backup"
	if remark != "" {
		text += " " + remark
	}
	if _, err := h.run(t, "alice", text); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
}

func hasReply(replies []Reply, substr string) bool {
	for _, reply := range replies {
		if strings.Contains(reply.Text, substr) {
			return true
		}
	}
	return false
}

func TestBackupAnnouncesAndRecords(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.run(t, "alice", `!sl backup "before the raid"`); err != nil {
		t.Fatalf("backup failed: %v", err)
	}

	if h.registry.Len() != 1 {
		t.Fatalf("expected 1 backup, got %d", h.registry.Len())
	}
	record, _ := h.registry.Last()
	if record.Actor != "alice" || record.Remark != "before the raid" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if len(h.host.said("Player alice successfully made a backup at "+record.CreatedAt+" with a remark: before the raid")) != 1 {
		t.Fatalf("missing backup announcement: %v", h.host.lines)
	}
	if len(h.host.said("Backup size: ")) != 1 {
		t.Fatalf("missing size announcement: %v", h.host.lines)
	}
	if !h.feed.has(websocket.MessageBackupCreated) {
		t.Fatalf("expected backup.created on the feed")
	}

	replies, err := h.run(t, "alice", "!sl list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(replies) != 2 || replies[0].Text != "Backups:" {
		t.Fatalf("unexpected list replies: %+v", replies)
	}
	if !strings.HasPrefix(replies[1].Text, "0: made by alice at "+record.CreatedAt+", remark: before the raid") {
		t.Fatalf("unexpected list line: %q", replies[1].Text)
	}
}

func TestListEmptyRegistry(t *testing.T) {
	h := newHarness(t, nil)

	replies, err := h.run(t, "alice", "!sl list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(replies) != 1 || replies[0].Text != "There is no existing backup." {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestRestoreConfirmationExpires(t *testing.T) {
	h := newHarness(t, nil)
	h.mustBackup(t, "")

	replies, err := h.run(t, "alice", "!sl restore last")
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !hasReply(replies, `Please type "!sl confirm"`) || !hasReply(replies, "after 30 seconds") {
		t.Fatalf("unexpected restore replies: %+v", replies)
	}
	timer, ok := h.sched.Active(scheduler.ConfirmTimeout)
	if !ok || timer.Delay != 30*time.Second || timer.Repeating {
		t.Fatalf("unexpected confirmation timer: %+v (active %v)", timer, ok)
	}

	h.fire(t, scheduler.ConfirmTimeout)

	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle after expiry, got %s", h.o.workflow.phase)
	}
	if len(h.host.said("cancelled")) != 0 {
		t.Fatalf("expiry must be silent: %v", h.host.lines)
	}

	replies, err = h.run(t, "alice", "!sl confirm")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !hasReply(replies, "Nothing to confirm.") {
		t.Fatalf("unexpected confirm replies: %+v", replies)
	}
	if h.host.stops != 0 {
		t.Fatalf("server must not be stopped")
	}
}

func TestCountdownAnnouncesEverySecondBeforeStop(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 3
	})
	h.mustBackup(t, "")

	if _, err := h.run(t, "alice", "!sl restore 0"); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, err := h.run(t, "alice", "!sl confirm"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, ok := h.sched.Active(scheduler.ConfirmTimeout); ok {
		t.Fatalf("confirmation timer must be cancelled on confirm")
	}
	timer, ok := h.sched.Active(scheduler.Countdown)
	if !ok || !timer.Repeating || timer.Delay != time.Second {
		t.Fatalf("unexpected countdown timer: %+v", timer)
	}

	const announcement = "The server will be restored after"
	if got := len(h.host.said(announcement)); got != 1 {
		t.Fatalf("expected 1 announcement after confirm, got %d", got)
	}

	h.fire(t, scheduler.Countdown)
	h.fire(t, scheduler.Countdown)
	if got := len(h.host.said(announcement)); got != 3 {
		t.Fatalf("expected 3 announcements, got %d", got)
	}
	if h.host.stops != 0 {
		t.Fatalf("server stopped before the countdown ended")
	}

	h.fire(t, scheduler.Countdown)
	if got := len(h.host.said(announcement)); got != 3 {
		t.Fatalf("expected exactly 3 announcements, got %d", got)
	}
	if h.host.stops != 1 {
		t.Fatalf("expected one stop request, got %d", h.host.stops)
	}
	if h.o.workflow.phase != PhaseRestoring {
		t.Fatalf("expected restoring, got %s", h.o.workflow.phase)
	}
	if _, ok := h.sched.Active(scheduler.Countdown); ok {
		t.Fatalf("countdown timer must stop")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.run(t, "bob", "!sl cancel"); err != nil {
		t.Fatalf("cancel from idle failed: %v", err)
	}
	if len(h.host.said("cancelled")) != 0 {
		t.Fatalf("cancel from idle must not announce")
	}

	h.mustBackup(t, "")
	if _, err := h.run(t, "alice", "!sl restore last"); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	stale, ok := h.sched.Fire(scheduler.ConfirmTimeout)
	if !ok {
		t.Fatalf("expected confirmation timer")
	}

	if _, err := h.run(t, "bob", "!sl cancel"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := h.run(t, "bob", "!sl cancel now please"); err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}

	if got := len(h.host.said("The restoration has been cancelled by bob")); got != 1 {
		t.Fatalf("expected one cancel announcement, got %d", got)
	}
	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle, got %s", h.o.workflow.phase)
	}

	// a fire that raced the cancel is dropped
	h.o.Handle(TimerEvent{Fire: stale})
	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("stale fire changed the workflow")
	}
}

func TestCancelDuringCountdown(t *testing.T) {
	h := newHarness(t, nil)
	h.mustBackup(t, "")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")
	h.fire(t, scheduler.Countdown)

	if _, err := h.run(t, "bob", "!sl cancel"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, ok := h.sched.Active(scheduler.Countdown); ok {
		t.Fatalf("countdown must be cancelled")
	}
	if h.host.stops != 0 {
		t.Fatalf("server must keep running")
	}
	if len(h.host.said("The restoration has been cancelled by bob")) != 1 {
		t.Fatalf("missing cancel announcement")
	}
}

func TestRestoreLastWithEmptyRegistry(t *testing.T) {
	h := newHarness(t, nil)

	replies, err := h.run(t, "alice", "!sl restore last")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if !hasReply(replies, "There is no existing backup.") {
		t.Fatalf("unexpected replies: %+v", replies)
	}
	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("workflow must stay idle")
	}
	if _, ok := h.sched.Active(scheduler.ConfirmTimeout); ok {
		t.Fatalf("no timer may be scheduled")
	}

	h.mustBackup(t, "")
	replies, err = h.run(t, "alice", "!sl restore 5")
	if !errors.Is(err, ErrInvalidTarget) || !hasReply(replies, "Please type a valid index.") {
		t.Fatalf("expected invalid index, got %v %+v", err, replies)
	}
	if _, err := h.run(t, "alice", "!sl restore -1"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected invalid index for -1, got %v", err)
	}
}

func TestRestoreSequence(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 2
	})
	h.mustBackup(t, "")
	writeWorld(t, h.root, "v2")

	h.run(t, "alice", "!sl restore 0")
	h.run(t, "alice", "!sl confirm")

	h.fire(t, scheduler.Countdown)
	if h.host.stops != 0 {
		t.Fatalf("stopped after one tick")
	}
	h.fire(t, scheduler.Countdown)
	if h.host.stops != 1 {
		t.Fatalf("expected stop after two ticks, got %d", h.host.stops)
	}

	// nothing is extracted until the server reports it stopped
	if got := readWorld(t, h.root); got != "v2" {
		t.Fatalf("extracted before the server stopped: %q", got)
	}

	h.host.setRunning(false)
	h.o.Handle(ProcessStoppedEvent{})

	if got := readWorld(t, h.root); got != "v1" {
		t.Fatalf("expected restored world v1, got %q", got)
	}
	if h.host.starts != 1 {
		t.Fatalf("expected server start, got %d", h.host.starts)
	}
	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle after restore, got %s", h.o.workflow.phase)
	}

	// a later stop is not a restore trigger
	h.o.Handle(ProcessStoppedEvent{})
	if h.host.starts != 1 {
		t.Fatalf("unexpected start outside a restore")
	}
}

func TestRestoreWhenServerAlreadyStopped(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
	})
	h.mustBackup(t, "")
	writeWorld(t, h.root, "v2")
	h.host.setRunning(false)

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	if h.host.stops != 0 {
		t.Fatalf("stop requested for a stopped server")
	}
	if got := readWorld(t, h.root); got != "v1" {
		t.Fatalf("expected restored world v1, got %q", got)
	}
	if h.host.starts != 1 || h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected start and idle, got starts=%d phase=%s", h.host.starts, h.o.workflow.phase)
	}
}

func TestRestoreFailureStillStartsServer(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
	})
	h.mustBackup(t, "")
	record, _ := h.registry.Last()

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	if err := os.Remove(record.FilePath); err != nil {
		t.Fatalf("failed to remove archive: %v", err)
	}
	h.host.setRunning(false)
	h.o.Handle(ProcessStoppedEvent{})

	if !h.feed.has(websocket.MessageRestoreFailed) {
		t.Fatalf("expected restore.failed on the feed")
	}
	if len(h.host.said("The restoration failed")) != 1 {
		t.Fatalf("expected players to be told the restore failed")
	}
	if h.host.starts != 1 || h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected start and idle, got starts=%d phase=%s", h.host.starts, h.o.workflow.phase)
	}
}

func TestRestoreCompletesWithoutStopNotification(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
	})
	h.mustBackup(t, "")
	writeWorld(t, h.root, "v2")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	timer, ok := h.sched.Active(scheduler.StopCheck)
	if !ok || !timer.Repeating {
		t.Fatalf("expected a repeating stop check while restoring")
	}

	// still running: the check waits
	h.fire(t, scheduler.StopCheck)
	if h.o.workflow.phase != PhaseRestoring || h.host.starts != 0 {
		t.Fatalf("restore finished while the server was running")
	}

	// the server goes down but no stopped event ever arrives
	h.host.setRunning(false)
	h.fire(t, scheduler.StopCheck)

	if got := readWorld(t, h.root); got != "v1" {
		t.Fatalf("expected restored world v1, got %q", got)
	}
	if h.host.starts != 1 || h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected start and idle, got starts=%d phase=%s", h.host.starts, h.o.workflow.phase)
	}
	if _, ok := h.sched.Active(scheduler.StopCheck); ok {
		t.Fatalf("stop check still active after restore")
	}

	// a late stopped event does not restore twice
	h.o.Handle(ProcessStoppedEvent{})
	if h.host.starts != 1 {
		t.Fatalf("unexpected second start")
	}
}

func TestRestoreAbortedWhenServerNeverStops(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
		cfg.Server.StopTimeoutSeconds = 10
	})
	h.mustBackup(t, "")
	writeWorld(t, h.root, "v2")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	h.clock.now = h.clock.now.Add(30 * time.Second)
	h.fire(t, scheduler.StopCheck)
	if h.o.workflow.phase != PhaseRestoring {
		t.Fatalf("aborted before the stop deadline")
	}

	h.clock.now = h.clock.now.Add(time.Minute)
	h.fire(t, scheduler.StopCheck)

	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle after stop deadline, got %s", h.o.workflow.phase)
	}
	if len(h.host.said("did not stop in time")) != 1 {
		t.Fatalf("expected abort announcement")
	}
	if !h.feed.has(websocket.MessageRestoreFailed) {
		t.Fatalf("expected restore.failed on the feed")
	}
	if got := readWorld(t, h.root); got != "v2" {
		t.Fatalf("world changed by an aborted restore: %q", got)
	}
	if h.host.starts != 0 {
		t.Fatalf("unexpected start of a server that never stopped")
	}
	if _, ok := h.sched.Active(scheduler.StopCheck); ok {
		t.Fatalf("stop check still active after abort")
	}

	// a new restore may be requested afterwards
	if _, err := h.run(t, "alice", "!sl restore last"); err != nil {
		t.Fatalf("restore after abort failed: %v", err)
	}
}

func TestStopFailureAbortsRestore(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
	})
	h.mustBackup(t, "")
	h.host.stopErr = errors.New("screen is gone")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle after failed stop, got %s", h.o.workflow.phase)
	}
	if len(h.host.said("aborted")) != 1 {
		t.Fatalf("expected abort announcement")
	}
}

func TestRestoreOverwritesPendingRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.mustBackup(t, "first")
	h.mustBackup(t, "second")

	h.run(t, "alice", "!sl restore 0")
	h.run(t, "bob", "!sl restore 1")

	status := h.o.restoreStatus()
	if status.Phase != PhasePending || status.Target.Remark != "second" || status.Requester != "bob" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, ok := h.sched.Active(scheduler.ConfirmTimeout); !ok {
		t.Fatalf("confirmation timer must be restarted")
	}
}

func TestRestoreRejectedOnceConfirmed(t *testing.T) {
	h := newHarness(t, nil)
	h.mustBackup(t, "")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")

	replies, err := h.run(t, "bob", "!sl restore 0")
	if !errors.Is(err, ErrRestoreInProgress) || !hasReply(replies, "already in progress") {
		t.Fatalf("expected restore in progress, got %v %+v", err, replies)
	}
}

func TestRestoringBlocksBackupAndCancel(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.RestoreCountdownSeconds = 0
	})
	h.mustBackup(t, "")

	h.run(t, "alice", "!sl restore last")
	h.run(t, "alice", "!sl confirm")
	if h.o.workflow.phase != PhaseRestoring {
		t.Fatalf("expected restoring, got %s", h.o.workflow.phase)
	}

	if _, err := h.run(t, "alice", "!sl backup"); !errors.Is(err, ErrRestoreInProgress) {
		t.Fatalf("expected backup to be rejected, got %v", err)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("backup made during restore")
	}

	replies, err := h.run(t, "bob", "!sl cancel")
	if err != nil || !hasReply(replies, "Too late to cancel") {
		t.Fatalf("unexpected cancel result: %v %+v", err, replies)
	}
	if h.o.workflow.phase != PhaseRestoring {
		t.Fatalf("cancel must not interrupt a restore")
	}
}

func TestEvictedTargetCancelsRestore(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.MaxBackupCount = 1
	})
	h.mustBackup(t, "")
	h.run(t, "alice", "!sl restore 0")

	h.mustBackup(t, "")

	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected idle after the target was evicted, got %s", h.o.workflow.phase)
	}
	if _, ok := h.sched.Active(scheduler.ConfirmTimeout); ok {
		t.Fatalf("confirmation timer must be cancelled")
	}
	if len(h.host.said("its backup was removed")) != 1 {
		t.Fatalf("missing eviction announcement")
	}
	if !h.feed.has(websocket.MessageBackupEvicted) {
		t.Fatalf("expected backup.evicted on the feed")
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, nil)

	replies, err := h.runAs("mallory", false, "!sl backup")
	if !errors.Is(err, ErrPermissionDenied) || !hasReply(replies, "Only op can make a backup. Permission denied.") {
		t.Fatalf("expected permission denied, got %v %+v", err, replies)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("backup made without permission")
	}

	// the permission check comes before the target is validated
	if _, err := h.runAs("mallory", false, "!sl restore 9"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied for restore, got %v", err)
	}
	if _, err := h.runAs("mallory", false, "!sl confirm"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied for confirm, got %v", err)
	}

	h.mustBackup(t, "")
	h.run(t, "alice", "!sl restore last")
	if _, err := h.runAs("mallory", false, "!sl cancel"); err != nil {
		t.Fatalf("cancel needs no permission: %v", err)
	}
	if h.o.workflow.phase != PhaseIdle {
		t.Fatalf("expected cancel to succeed")
	}

	replies, err = h.runAs("mallory", false, "!sl list")
	if err != nil || !hasReply(replies, "Backups:") {
		t.Fatalf("list needs no permission: %v %+v", err, replies)
	}
}

func TestUnknownCommands(t *testing.T) {
	h := newHarness(t, nil)

	for _, text := range []string{
		"!sl",
		"!sl dance",
		"!sl list everything",
		"!sl restore",
		"!sl restore yesterday",
		"!sl restore 1 2",
		"!sl confirm yes",
		"!sl backup two words",
		`!sl backup "unterminated`,
	} {
		replies, err := h.run(t, "alice", text)
		if !errors.Is(err, ErrUnknownCommand) {
			t.Fatalf("%q: expected ErrUnknownCommand, got %v", text, err)
		}
		if !hasReply(replies, `Unknown command. Type "!sl help" for help.`) {
			t.Fatalf("%q: unexpected replies %+v", text, replies)
		}
	}

	replies, err := h.run(t, "alice", "hello everyone")
	if err != nil || len(replies) != 0 {
		t.Fatalf("chat without the prefix must be ignored: %v %+v", err, replies)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("unknown commands must not make backups")
	}
}

func TestHelpUsesPrefix(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.CommandPrefix = "!backup"
	})

	replies, err := h.run(t, "alice", "!backup help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !hasReply(replies, `"!backup restore <last | int:id>"`) {
		t.Fatalf("help must use the configured prefix: %+v", replies)
	}
}

type panicReplier struct {
	warned []string
}

func (p *panicReplier) Tell(text string) {
	panic("boom")
}

func (p *panicReplier) Warn(text string) {
	p.warned = append(p.warned, text)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil)

	replier := &panicReplier{}
	result := make(chan error, 1)
	h.o.Handle(InputEvent{Actor: "alice", Privileged: true, Text: "!sl help", Replier: replier, result: result})

	if err := <-result; !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if len(replier.warned) != 1 || replier.warned[0] != "saveload internal error raised." {
		t.Fatalf("unexpected warnings: %v", replier.warned)
	}

	// the orchestrator keeps working
	h.mustBackup(t, "")
	if h.registry.Len() != 1 {
		t.Fatalf("expected backup after recovered panic")
	}
}

func TestAutoBackupSchedule(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.AutoBackupIntervalHours = 1
	})
	if err := h.registry.SetAutoBackupElapsed(20 * time.Minute); err != nil {
		t.Fatalf("failed to seed elapsed: %v", err)
	}

	h.o.Start()
	timer, ok := h.sched.Active(scheduler.AutoBackup)
	if !ok || timer.Repeating || timer.Delay != 40*time.Minute {
		t.Fatalf("expected first fire in 40m, got %+v (active %v)", timer, ok)
	}

	h.clock.now = h.clock.now.Add(40 * time.Minute)
	h.fire(t, scheduler.AutoBackup)

	if h.registry.Len() != 1 {
		t.Fatalf("expected auto-backup, got %d backups", h.registry.Len())
	}
	record, _ := h.registry.Last()
	if record.Actor != AutoBackupActor || record.Remark != AutoBackupRemark {
		t.Fatalf("unexpected auto-backup record: %+v", record)
	}
	if len(h.host.said("Auto-backup was successfully made at")) != 1 {
		t.Fatalf("missing auto-backup announcement")
	}
	timer, ok = h.sched.Active(scheduler.AutoBackup)
	if !ok || !timer.Repeating || timer.Delay != time.Hour {
		t.Fatalf("expected hourly repeating timer, got %+v", timer)
	}
	if h.registry.AutoBackupElapsed() != 0 {
		t.Fatalf("elapsed must reset on fire")
	}

	h.clock.now = h.clock.now.Add(15 * time.Minute)
	h.o.shutdown()
	if got := h.registry.AutoBackupElapsed(); got != 15*time.Minute {
		t.Fatalf("expected 15m persisted, got %v", got)
	}
}

func TestAutoBackupSkippedWhenServerStopped(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Saveload.AutoBackupIntervalHours = 2
	})
	h.host.setRunning(false)

	h.o.Start()
	h.fire(t, scheduler.AutoBackup)

	if h.registry.Len() != 0 {
		t.Fatalf("auto-backup must be skipped while the server is down")
	}
	if _, ok := h.sched.Active(scheduler.AutoBackup); !ok {
		t.Fatalf("auto-backup must stay scheduled")
	}
}

func TestAutoBackupDisabled(t *testing.T) {
	h := newHarness(t, nil)

	h.o.Start()
	if _, ok := h.sched.Active(scheduler.AutoBackup); ok {
		t.Fatalf("no auto-backup timer when the interval is 0")
	}
}

func TestServeHandlesSubmitAndQueries(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.o.Serve(ctx)
	}()

	replies, err := h.o.Submit(ctx, "api-user", true, "!sl backup from-api")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("unexpected replies: %+v", replies)
	}

	records, err := h.o.Backups(ctx)
	if err != nil || len(records) != 1 || records[0].Remark != "from-api" {
		t.Fatalf("unexpected backups: %v %+v", err, records)
	}

	if _, err := h.o.Submit(ctx, "api-user", true, "!sl restore last"); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	status, err := h.o.RestoreStatus(ctx)
	if err != nil || status.Phase != PhasePending || status.Named != "last" {
		t.Fatalf("unexpected status: %v %+v", err, status)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

func TestPostChatUsesTellraw(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.o.Serve(ctx)

	h.o.PostChat("alice", "!sl list")
	// a query is handled after the chat event, so the reply has been written
	if _, err := h.o.Backups(ctx); err != nil {
		t.Fatalf("query failed: %v", err)
	}

	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	want := `tellraw alice {"color":"yellow","text":"There is no existing backup."}`
	for _, line := range h.host.lines {
		if line == want {
			return
		}
	}
	t.Fatalf("missing %q in %v", want, h.host.lines)
}
