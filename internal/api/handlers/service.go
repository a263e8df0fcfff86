package handlers

import (
	"context"

	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/orchestrator"
)

// Service is the part of the orchestrator the API drives
type Service interface {
	Submit(ctx context.Context, actor string, privileged bool, text string) ([]orchestrator.Reply, error)
	Backups(ctx context.Context) ([]backup.BackupRecord, error)
	RestoreStatus(ctx context.Context) (orchestrator.RestoreStatus, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)
