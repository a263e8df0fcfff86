package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/logging"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

// Actor and remark recorded for scheduled backups
const (
	AutoBackupActor  = "auto-backup"
	AutoBackupRemark = "Auto-backup"
)

func (o *Orchestrator) backup(in InputEvent, r Replier, remark string) error {
	if !in.Privileged {
		return rejected(ErrPermissionDenied, "Only op can make a backup. Permission denied.")
	}
	if o.workflow.phase == PhaseRestoring {
		return rejected(ErrRestoreInProgress, "Cannot make a backup while the server is being restored.")
	}

	if _, err := o.createBackup(in.Actor, remark); err != nil {
		r.Warn(fmt.Sprintf("Failed to make a backup: %v", err))
		return err
	}
	return nil
}

// createBackup snapshots the server, announces the result and reconciles
// the restore workflow with whatever was evicted
func (o *Orchestrator) createBackup(actor, remark string) (backup.CreateResult, error) {
	result, err := o.registry.Create(context.Background(), o.quiescer, actor, remark)
	if err != nil {
		log.Printf("[Orchestrator] Backup by %s failed: %v", actor, err)
		o.activity.Record(actor, logging.ActivityBackupCreate, "Backup failed", nil, err)
		// an unsaved backup may still have evicted the restore target
		o.dropEvictedTarget(result.Evicted)
		return backup.CreateResult{}, err
	}

	record := result.Record
	if actor == AutoBackupActor {
		o.messenger.Say(fmt.Sprintf("Auto-backup was successfully made at %s", record.CreatedAt))
	} else {
		announcement := fmt.Sprintf("Player %s successfully made a backup at %s", actor, record.CreatedAt)
		if remark != "" {
			announcement += fmt.Sprintf(" with a remark: %s", remark)
		}
		o.messenger.Say(announcement)
	}
	o.messenger.Say(fmt.Sprintf("Backup size: %s. Cost: %.1f seconds.", record.Size, result.Elapsed.Seconds()))

	o.activity.Record(actor, logging.ActivityBackupCreate, fmt.Sprintf("Backup made at %s", record.CreatedAt), map[string]interface{}{
		"backup_id":  record.ID,
		"file_path":  record.FilePath,
		"size_bytes": record.SizeBytes,
		"remark":     remark,
	}, nil)
	o.publish(websocket.MessageBackupCreated, record)

	for _, evicted := range result.Evicted {
		o.activity.Record(actor, logging.ActivityBackupEvict, fmt.Sprintf("Evicted backup made at %s", evicted.CreatedAt), map[string]interface{}{
			"backup_id": evicted.ID,
			"file_path": evicted.FilePath,
		}, nil)
		o.publish(websocket.MessageBackupEvicted, evicted)
	}
	o.dropEvictedTarget(result.Evicted)

	return result, nil
}
