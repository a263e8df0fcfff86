package orchestrator

import "github.com/TheGojiOG/saveload/internal/scheduler"

// Event is anything the orchestrator loop reacts to
type Event interface {
	isEvent()
}

// InputEvent is a line typed by an actor
type InputEvent struct {
	Actor      string
	Privileged bool
	Text       string
	Replier    Replier

	// result receives the outcome once the command has been handled
	result chan error
}

// TimerEvent is a scheduler fire
type TimerEvent struct {
	Fire scheduler.Fire
}

// ProcessStoppedEvent reports that the managed server went from running to stopped
type ProcessStoppedEvent struct{}

// callEvent runs fn on the loop goroutine
type callEvent struct {
	fn   func()
	done chan struct{}
}

func (InputEvent) isEvent()          {}
func (TimerEvent) isEvent()          {}
func (ProcessStoppedEvent) isEvent() {}
func (callEvent) isEvent()           {}
