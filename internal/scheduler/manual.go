package scheduler

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by hand. Nothing fires until Fire is called,
// which makes timer-dependent code deterministic under test.
type Manual struct {
	mu     sync.Mutex
	seq    map[Kind]uint64
	active map[Kind]ManualTimer
}

// ManualTimer describes an active timer of a Manual scheduler
type ManualTimer struct {
	Delay     time.Duration
	Repeating bool
}

// NewManual creates an idle manual scheduler
func NewManual() *Manual {
	return &Manual{
		seq:    make(map[Kind]uint64),
		active: make(map[Kind]ManualTimer),
	}
}

func (m *Manual) ScheduleOnce(kind Kind, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[kind]++
	m.active[kind] = ManualTimer{Delay: delay}
}

func (m *Manual) ScheduleRepeating(kind Kind, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[kind]++
	m.active[kind] = ManualTimer{Delay: interval, Repeating: true}
}

func (m *Manual) Cancel(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[kind]++
	delete(m.active, kind)
}

func (m *Manual) Accept(f Fire) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.Seq == m.seq[f.Kind]
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind := range m.active {
		m.seq[kind]++
		delete(m.active, kind)
	}
}

// Fire expires the active timer of kind and returns the fire to deliver.
// One-shot timers become inactive; ok is false when kind is not active.
func (m *Manual) Fire(kind Kind) (Fire, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, ok := m.active[kind]
	if !ok {
		return Fire{}, false
	}
	if !timer.Repeating {
		delete(m.active, kind)
	}
	return Fire{Kind: kind, Seq: m.seq[kind]}, true
}

// Active returns the timer of kind if one is scheduled
func (m *Manual) Active(kind Kind) (ManualTimer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer, ok := m.active[kind]
	return timer, ok
}
