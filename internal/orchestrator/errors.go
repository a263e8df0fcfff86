package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget means a restore named no existing backup
	ErrInvalidTarget = errors.New("invalid restore target")
	// ErrPermissionDenied means the actor lacks the privilege for a command
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRestoreInProgress means a confirmed restore blocks the command
	ErrRestoreInProgress = errors.New("restore already in progress")
	// ErrUnknownCommand means the input did not match any command shape
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInternal means a handler failed unexpectedly
	ErrInternal = errors.New("saveload internal error")
)

// CommandError carries the message shown to the actor for a rejected command
type CommandError struct {
	Err     error
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func rejected(err error, format string, args ...interface{}) error {
	return &CommandError{Err: err, Message: fmt.Sprintf(format, args...)}
}
