package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies one of the orchestrator timers. At most one timer of each
// kind is active at a time; scheduling a kind replaces its previous timer.
type Kind int

const (
	ConfirmTimeout Kind = iota
	Countdown
	AutoBackup
	// StopCheck polls the server while a restore waits for it to stop
	StopCheck
)

func (k Kind) String() string {
	switch k {
	case ConfirmTimeout:
		return "confirm-timeout"
	case Countdown:
		return "countdown"
	case AutoBackup:
		return "auto-backup"
	case StopCheck:
		return "stop-check"
	default:
		return "unknown"
	}
}

// Fire is delivered when a timer expires. Seq identifies the scheduling it
// belongs to so that fires racing a cancel can be discarded.
type Fire struct {
	Kind Kind
	Seq  uint64
}

// Scheduler schedules the orchestrator timers
type Scheduler interface {
	ScheduleOnce(kind Kind, delay time.Duration)
	ScheduleRepeating(kind Kind, interval time.Duration)
	Cancel(kind Kind)
	// Accept reports whether f belongs to the currently active timer of its kind
	Accept(f Fire) bool
	Stop()
}

// Timers implements Scheduler with time.AfterFunc for one-shot timers and a
// cron runner for repeating ones. Fires are handed to emit on a timer goroutine.
type Timers struct {
	mu      sync.Mutex
	cron    *cron.Cron
	emit    func(Fire)
	seq     map[Kind]uint64
	once    map[Kind]*time.Timer
	entries map[Kind]cron.EntryID
}

// every is a cron schedule firing at a fixed interval after the previous run
type every struct {
	interval time.Duration
}

func (e every) Next(t time.Time) time.Time {
	return t.Add(e.interval)
}

// New creates a scheduler and starts its cron runner
func New(emit func(Fire)) *Timers {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()

	return &Timers{
		cron:    c,
		emit:    emit,
		seq:     make(map[Kind]uint64),
		once:    make(map[Kind]*time.Timer),
		entries: make(map[Kind]cron.EntryID),
	}
}

// ScheduleOnce fires kind once after delay
func (t *Timers) ScheduleOnce(kind Kind, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fire := t.resetLocked(kind)
	if delay < 0 {
		delay = 0
	}
	t.once[kind] = time.AfterFunc(delay, func() {
		t.deliver(fire)
	})
}

// ScheduleRepeating fires kind every interval until cancelled
func (t *Timers) ScheduleRepeating(kind Kind, interval time.Duration) {
	if interval <= 0 {
		log.Printf("[Scheduler] Ignoring non-positive interval for %s", kind)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fire := t.resetLocked(kind)
	t.entries[kind] = t.cron.Schedule(every{interval: interval}, cron.FuncJob(func() {
		t.deliver(fire)
	}))
}

// Cancel stops the timer of kind. Cancelling an inactive kind is a no-op.
func (t *Timers) Cancel(kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(kind)
}

// Accept reports whether f is still current
func (t *Timers) Accept(f Fire) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, onceActive := t.once[f.Kind]
	_, cronActive := t.entries[f.Kind]
	return f.Seq == t.seq[f.Kind] && (onceActive || cronActive)
}

// Stop cancels every timer and stops the cron runner
func (t *Timers) Stop() {
	t.mu.Lock()
	for kind := range t.seq {
		t.resetLocked(kind)
	}
	t.mu.Unlock()

	<-t.cron.Stop().Done()
}

// resetLocked stops any timer of kind and returns the fire for its next scheduling
func (t *Timers) resetLocked(kind Kind) Fire {
	if timer, ok := t.once[kind]; ok {
		timer.Stop()
		delete(t.once, kind)
	}
	if id, ok := t.entries[kind]; ok {
		t.cron.Remove(id)
		delete(t.entries, kind)
	}
	t.seq[kind]++
	return Fire{Kind: kind, Seq: t.seq[kind]}
}

func (t *Timers) deliver(f Fire) {
	t.mu.Lock()
	current := f.Seq == t.seq[f.Kind]
	t.mu.Unlock()
	if !current {
		return
	}
	t.emit(f)
}
