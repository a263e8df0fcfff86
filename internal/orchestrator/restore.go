package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/logging"
	"github.com/TheGojiOG/saveload/internal/scheduler"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

// Phase is the restore workflow state
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending_confirmation"
	PhaseConfirmed Phase = "confirmed"
	PhaseRestoring Phase = "restoring"
)

// hostCallTimeout bounds a single call into the host
const hostCallTimeout = 30 * time.Second

// workflow is the restore state. The target is pinned when requested, so
// "last" keeps naming the same backup even if newer ones are made meanwhile.
type workflow struct {
	phase     Phase
	target    backup.BackupRecord
	named     string
	requester string
	remaining int

	// stopDeadline bounds how long Restoring waits for the server to stop
	stopDeadline time.Time
}

// active reports whether a restore is waiting for confirmation or counting down
func (w *workflow) active() bool {
	return w.phase == PhasePending || w.phase == PhaseConfirmed
}

// RestoreStatus is a snapshot of the restore workflow
type RestoreStatus struct {
	Phase              Phase                `json:"phase"`
	Target             *backup.BackupRecord `json:"target,omitempty"`
	Named              string               `json:"named,omitempty"`
	Requester          string               `json:"requester,omitempty"`
	CountdownRemaining int                  `json:"countdown_remaining,omitempty"`
}

func (o *Orchestrator) restoreStatus() RestoreStatus {
	w := o.workflow
	status := RestoreStatus{Phase: w.phase}
	if status.Phase == "" {
		status.Phase = PhaseIdle
	}
	if status.Phase == PhaseIdle {
		return status
	}

	target := w.target
	status.Target = &target
	status.Named = w.named
	status.Requester = w.requester
	if w.phase == PhaseConfirmed {
		status.CountdownRemaining = w.remaining
	}
	return status
}

func (o *Orchestrator) resetWorkflow() {
	o.scheduler.Cancel(scheduler.StopCheck)
	o.workflow = workflow{phase: PhaseIdle}
	o.publish(websocket.MessageRestoreState, o.restoreStatus())
}

func (o *Orchestrator) restore(in InputEvent, r Replier, arg string) error {
	if !in.Privileged {
		return rejected(ErrPermissionDenied, "Only op can restore the server. Permission denied.")
	}
	if o.workflow.phase == PhaseConfirmed || o.workflow.phase == PhaseRestoring {
		return rejected(ErrRestoreInProgress, "A restoration is already in progress.")
	}

	var (
		target backup.BackupRecord
		ok     bool
	)
	if arg == "last" {
		target, ok = o.registry.Last()
		if !ok {
			return rejected(ErrInvalidTarget, "There is no existing backup.")
		}
	} else {
		index, err := strconv.Atoi(arg)
		if err == nil {
			target, ok = o.registry.At(index)
		}
		if !ok {
			return rejected(ErrInvalidTarget, "Please type a valid index.")
		}
	}

	replaced := o.workflow.phase == PhasePending
	o.workflow = workflow{
		phase:     PhasePending,
		target:    target,
		named:     arg,
		requester: in.Actor,
	}

	valid := o.cfg.RestoreValid()
	o.scheduler.ScheduleOnce(scheduler.ConfirmTimeout, valid)

	log.Printf("[Orchestrator] %s requested restore of backup %s (%s, replaced pending: %v)", in.Actor, target.ID, arg, replaced)

	o.messenger.Say(fmt.Sprintf("Player %s requested for restoring the server to: %s", in.Actor, target.CreatedAt))
	r.Tell(fmt.Sprintf("Please type \"%s confirm\" to CONFIRM your operation or type \"%s cancel\" to cancel.", o.prefix, o.prefix))
	r.Tell(fmt.Sprintf("If not confirmed, the restoration will be cancelled automatically after %d seconds.", int(valid/time.Second)))

	o.activity.Record(in.Actor, logging.ActivityRestoreRequest, fmt.Sprintf("Requested restore to %s", target.CreatedAt), map[string]interface{}{
		"backup_id": target.ID,
		"target":    arg,
	}, nil)
	o.publish(websocket.MessageRestoreState, o.restoreStatus())
	return nil
}

func (o *Orchestrator) confirm(in InputEvent, r Replier) error {
	if !in.Privileged {
		return rejected(ErrPermissionDenied, "Only op can confirm a restoration. Permission denied.")
	}
	if o.workflow.phase != PhasePending {
		r.Tell("Nothing to confirm.")
		return nil
	}

	o.scheduler.Cancel(scheduler.ConfirmTimeout)

	countdown := o.cfg.Saveload.RestoreCountdownSeconds
	o.workflow.phase = PhaseConfirmed
	o.workflow.remaining = countdown

	r.Tell("You have confirmed the restoration. Count down will start immediately.")
	log.Printf("[Orchestrator] %s confirmed restore of backup %s, countdown %ds", in.Actor, o.workflow.target.ID, countdown)
	o.activity.Record(in.Actor, logging.ActivityRestoreConfirm, "Confirmed restore", map[string]interface{}{
		"backup_id": o.workflow.target.ID,
		"countdown": countdown,
	}, nil)
	o.publish(websocket.MessageRestoreState, o.restoreStatus())

	if countdown <= 0 {
		o.beginRestoring()
		return nil
	}

	o.messenger.Say(fmt.Sprintf("The server will be restored after %d seconds!", countdown))
	o.scheduler.ScheduleRepeating(scheduler.Countdown, time.Second)
	return nil
}

// cancel never fails. It is not permission checked.
func (o *Orchestrator) cancel(actor string, r Replier) {
	if o.workflow.phase == PhaseRestoring {
		r.Tell("Too late to cancel: the server is already being restored.")
		return
	}

	wasActive := o.workflow.active()
	o.scheduler.Cancel(scheduler.ConfirmTimeout)
	o.scheduler.Cancel(scheduler.Countdown)

	if !wasActive {
		o.workflow = workflow{phase: PhaseIdle}
		return
	}

	target := o.workflow.target
	o.resetWorkflow()

	log.Printf("[Orchestrator] Restore of backup %s cancelled by %s", target.ID, actor)
	o.messenger.Say(fmt.Sprintf("The restoration has been cancelled by %s", actor))
	o.activity.Record(actor, logging.ActivityRestoreCancel, "Cancelled restore", map[string]interface{}{
		"backup_id": target.ID,
	}, nil)
}

func (o *Orchestrator) confirmTimeout() {
	if o.workflow.phase != PhasePending {
		return
	}

	target := o.workflow.target
	requester := o.workflow.requester
	o.resetWorkflow()

	log.Printf("[Orchestrator] Restore request by %s for backup %s expired", requester, target.ID)
	o.activity.Record(requester, logging.ActivityRestoreExpire, "Restore request expired", map[string]interface{}{
		"backup_id": target.ID,
	}, nil)
}

func (o *Orchestrator) countdownTick() {
	if o.workflow.phase != PhaseConfirmed {
		o.scheduler.Cancel(scheduler.Countdown)
		return
	}

	o.workflow.remaining--
	if o.workflow.remaining > 0 {
		o.messenger.Say(fmt.Sprintf("The server will be restored after %d seconds!", o.workflow.remaining))
		o.publish(websocket.MessageRestoreState, o.restoreStatus())
		return
	}

	o.scheduler.Cancel(scheduler.Countdown)
	o.beginRestoring()
}

// beginRestoring stops the server. Extraction waits for the stopped
// notification unless the server is already down.
func (o *Orchestrator) beginRestoring() {
	o.workflow.phase = PhaseRestoring
	o.workflow.remaining = 0
	o.publish(websocket.MessageRestoreState, o.restoreStatus())

	ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
	defer cancel()

	if !o.host.IsRunning(ctx) {
		log.Printf("[Orchestrator] Server is not running, restoring right away")
		o.completeRestore()
		return
	}

	log.Printf("[Orchestrator] Stopping server to restore backup %s", o.workflow.target.ID)
	if err := o.host.Stop(ctx); err != nil {
		target := o.workflow.target
		log.Printf("[Orchestrator] Failed to stop server: %v", err)
		o.activity.Record(o.workflow.requester, logging.ActivityRestoreFailed, "Failed to stop the server", map[string]interface{}{
			"backup_id": target.ID,
		}, err)
		o.publish(websocket.MessageRestoreFailed, map[string]string{
			"backup_id": target.ID,
			"error":     err.Error(),
		})
		o.resetWorkflow()
		o.messenger.Say("The restoration has been aborted: the server could not be stopped.")
		return
	}

	// the watcher may miss the stop, so poll the host as well. The deadline
	// covers the graceful stop and the Ctrl+C escalation.
	o.workflow.stopDeadline = o.now().Add(2*o.cfg.StopTimeout() + hostCallTimeout)
	o.scheduler.ScheduleRepeating(scheduler.StopCheck, o.cfg.PollInterval())
}

// stopCheck completes the restore once the server is down, or aborts it when
// the server outlives the stop deadline
func (o *Orchestrator) stopCheck() {
	if o.workflow.phase != PhaseRestoring {
		o.scheduler.Cancel(scheduler.StopCheck)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
	running := o.host.IsRunning(ctx)
	cancel()

	if !running {
		o.scheduler.Cancel(scheduler.StopCheck)
		log.Printf("[Orchestrator] Server is down, restoring backup %s", o.workflow.target.ID)
		o.completeRestore()
		return
	}
	if o.now().Before(o.workflow.stopDeadline) {
		return
	}

	target := o.workflow.target
	log.Printf("[Orchestrator] Server still running after stop deadline, aborting restore of backup %s", target.ID)
	o.activity.Record(o.workflow.requester, logging.ActivityRestoreFailed, "The server did not stop in time", map[string]interface{}{
		"backup_id": target.ID,
	}, nil)
	o.publish(websocket.MessageRestoreFailed, map[string]string{
		"backup_id": target.ID,
		"error":     "server did not stop in time",
	})
	o.resetWorkflow()
	o.messenger.Say("The restoration has been aborted: the server did not stop in time.")
}

func (o *Orchestrator) handleProcessStopped() {
	if o.workflow.phase != PhaseRestoring {
		log.Printf("[Orchestrator] Server stopped")
		return
	}
	o.scheduler.Cancel(scheduler.StopCheck)
	o.completeRestore()
}

// completeRestore extracts the target over the working directory and starts
// the server again, whether or not the extraction succeeded
func (o *Orchestrator) completeRestore() {
	target := o.workflow.target
	requester := o.workflow.requester

	start := time.Now()
	err := o.registry.Restore(context.Background(), target, o.cfg.Server.WorkingDir)
	if err != nil {
		log.Printf("[Orchestrator] Restore of backup %s failed: %v", target.ID, err)
		o.activity.Record(requester, logging.ActivityRestoreFailed, fmt.Sprintf("Restore to %s failed", target.CreatedAt), map[string]interface{}{
			"backup_id": target.ID,
		}, err)
		o.publish(websocket.MessageRestoreFailed, map[string]string{
			"backup_id": target.ID,
			"error":     err.Error(),
		})
		o.messenger.Say("The restoration failed, the server is being started again without it.")
	} else {
		log.Printf("[Orchestrator] Restored backup %s in %v", target.ID, time.Since(start).Round(time.Millisecond))
		o.activity.Record(requester, logging.ActivityRestoreComplete, fmt.Sprintf("Restored to %s", target.CreatedAt), map[string]interface{}{
			"backup_id": target.ID,
		}, nil)
	}

	o.resetWorkflow()

	ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
	defer cancel()
	if err := o.host.Start(ctx); err != nil {
		log.Printf("[Orchestrator] Failed to start server after restore: %v", err)
		o.activity.Record(requester, logging.ActivityError, "Failed to start the server after restore", nil, err)
	}
}

// dropEvictedTarget cancels a pending or counting down restore whose backup
// was just evicted
func (o *Orchestrator) dropEvictedTarget(evicted []backup.BackupRecord) {
	if !o.workflow.active() {
		return
	}
	for _, record := range evicted {
		if record.ID != o.workflow.target.ID {
			continue
		}
		requester := o.workflow.requester
		o.scheduler.Cancel(scheduler.ConfirmTimeout)
		o.scheduler.Cancel(scheduler.Countdown)
		o.resetWorkflow()

		log.Printf("[Orchestrator] Pending restore cancelled, backup %s was evicted", record.ID)
		o.messenger.Say("The restoration has been cancelled because its backup was removed.")
		o.activity.Record(requester, logging.ActivityRestoreCancel, "Restore target evicted", map[string]interface{}{
			"backup_id": record.ID,
		}, nil)
		return
	}
}
