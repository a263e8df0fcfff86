package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/TheGojiOG/saveload/internal/scheduler"
)

// autoBackup tracks the recurring backup. anchor is when the current
// interval started counting, so now-anchor is the time to carry over.
type autoBackup struct {
	interval  time.Duration
	anchor    time.Time
	repeating bool
}

func (a autoBackup) enabled() bool {
	return a.interval > 0
}

func (o *Orchestrator) startAutoBackup() {
	interval := o.cfg.AutoBackupInterval()
	if interval <= 0 {
		log.Printf("[Orchestrator] Auto-backup disabled")
		return
	}

	elapsed := o.registry.AutoBackupElapsed()
	delay := interval - elapsed
	if delay < 0 {
		delay = 0
	}

	o.auto = autoBackup{
		interval: interval,
		anchor:   o.now().Add(-elapsed),
	}
	o.scheduler.ScheduleOnce(scheduler.AutoBackup, delay)

	log.Printf("[Orchestrator] Auto-backup every %v, next in %v", interval, delay.Round(time.Second))
}

func (o *Orchestrator) autoBackupFire() {
	if !o.auto.enabled() {
		return
	}
	if !o.auto.repeating {
		o.scheduler.ScheduleRepeating(scheduler.AutoBackup, o.auto.interval)
		o.auto.repeating = true
	}

	o.auto.anchor = o.now()
	if err := o.registry.SetAutoBackupElapsed(0); err != nil {
		log.Printf("[Orchestrator] Warning: %v", err)
	}

	if o.workflow.phase == PhaseRestoring {
		log.Printf("[Orchestrator] Skipping auto-backup: restore in progress")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
	running := o.host.IsRunning(ctx)
	cancel()
	if !running {
		log.Printf("[Orchestrator] Skipping auto-backup: server is not running")
		return
	}

	if _, err := o.createBackup(AutoBackupActor, AutoBackupRemark); err != nil {
		o.messenger.Say("Auto-backup failed, see the saveload log for details.")
	}
}

// persistAutoBackupElapsed saves how far into the current interval we are
func (o *Orchestrator) persistAutoBackupElapsed() {
	if !o.auto.enabled() {
		return
	}
	elapsed := o.now().Sub(o.auto.anchor)
	if err := o.registry.SetAutoBackupElapsed(elapsed); err != nil {
		log.Printf("[Orchestrator] Warning: %v", err)
		return
	}
	log.Printf("[Orchestrator] Saved auto-backup progress: %v", elapsed.Round(time.Second))
}
