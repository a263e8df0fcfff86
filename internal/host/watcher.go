package host

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watcher polls a host and reports running -> stopped transitions. The last
// observed state survives a restart of Serve, so a stop that happens while
// the watcher is down is still reported.
type Watcher struct {
	host      Host
	interval  time.Duration
	onStopped func()

	mu      sync.Mutex
	known   bool
	running bool
}

func NewWatcher(h Host, interval time.Duration, onStopped func()) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{host: h, interval: interval, onStopped: onStopped}
}

// Serve polls until ctx is done
func (w *Watcher) Serve(ctx context.Context) error {
	w.mu.Lock()
	if !w.known {
		w.running = w.host.IsRunning(ctx)
		w.known = true
	}
	running := w.running
	w.mu.Unlock()
	log.Printf("[Watcher] Watching server (running: %v, interval: %v)", running, w.interval)

	// catch up on anything that changed while Serve was not running
	w.poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	running := w.host.IsRunning(ctx)

	w.mu.Lock()
	wasRunning := w.running
	w.running = running
	w.mu.Unlock()

	switch {
	case wasRunning && !running:
		log.Printf("[Watcher] Server stopped")
		w.onStopped()
	case !wasRunning && running:
		log.Printf("[Watcher] Server started")
	}
}

// observed reports whether the watcher has read the host state at least once
func (w *Watcher) observed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known
}

func (w *Watcher) String() string {
	return "host-watcher"
}
