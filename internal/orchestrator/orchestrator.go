package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/config"
	"github.com/TheGojiOG/saveload/internal/host"
	"github.com/TheGojiOG/saveload/internal/logging"
	"github.com/TheGojiOG/saveload/internal/permissions"
	"github.com/TheGojiOG/saveload/internal/scheduler"
)

// Options wires an Orchestrator to its collaborators
type Options struct {
	Config      *config.Config
	Registry    *backup.Registry
	Scheduler   scheduler.Scheduler
	Host        host.Host
	Quiescer    backup.Quiescer
	Permissions permissions.Provider
	Activity    *logging.ActivityLogger
	Feed        Publisher
	Now         func() time.Time
}

// Orchestrator owns the backup registry and the restore workflow. Every
// event is handled on the goroutine running Serve, so neither is locked.
type Orchestrator struct {
	cfg       *config.Config
	prefix    string
	registry  *backup.Registry
	scheduler scheduler.Scheduler
	host      host.Host
	quiescer  backup.Quiescer
	perms     permissions.Provider
	activity  *logging.ActivityLogger
	feed      Publisher
	messenger *Messenger
	now       func() time.Time

	workflow workflow
	auto     autoBackup

	events  chan Event
	quit    chan struct{}
	started bool
}

// New creates an orchestrator. Call Serve to start processing events.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Host == nil {
		return nil, errors.New("host is required")
	}
	if opts.Permissions == nil {
		opts.Permissions = permissions.New(opts.Config.Saveload.PermissionLevel, opts.Config.Operators, opts.Config.Server.OpsFile)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		cfg:       opts.Config,
		prefix:    opts.Config.Saveload.CommandPrefix,
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		host:      opts.Host,
		quiescer:  opts.Quiescer,
		perms:     opts.Permissions,
		activity:  opts.Activity,
		feed:      opts.Feed,
		messenger: NewMessenger(opts.Host, opts.Config.Server.SayCommand, opts.Config.Server.TellCommand, opts.Feed),
		now:       opts.Now,
		workflow:  workflow{phase: PhaseIdle},
		events:    make(chan Event, 64),
		quit:      make(chan struct{}),
	}, nil
}

// SetScheduler attaches the scheduler. The scheduler delivers its fires to
// PostTimer, so it is usually created after the orchestrator.
func (o *Orchestrator) SetScheduler(s scheduler.Scheduler) {
	o.scheduler = s
}

// Serve runs the event loop until ctx is done
func (o *Orchestrator) Serve(ctx context.Context) error {
	if o.scheduler == nil {
		return errors.New("scheduler is required")
	}
	o.Start()

	log.Printf("[Orchestrator] Listening for %q commands", o.prefix)

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-o.quit:
			o.shutdown()
			return nil
		case ev := <-o.events:
			o.Handle(ev)
		}
	}
}

func (o *Orchestrator) String() string {
	return "orchestrator"
}

// Start arms the auto-backup timer. It runs once; Serve calls it.
func (o *Orchestrator) Start() {
	if o.started {
		return
	}
	o.started = true
	o.startAutoBackup()
}

// Close stops the event loop
func (o *Orchestrator) Close() {
	select {
	case <-o.quit:
	default:
		close(o.quit)
	}
}

func (o *Orchestrator) shutdown() {
	o.persistAutoBackupElapsed()
	log.Printf("[Orchestrator] Stopped")
}

// Post queues an event for the loop
func (o *Orchestrator) Post(ev Event) {
	select {
	case o.events <- ev:
	case <-o.quit:
	}
}

// PostTimer queues a scheduler fire
func (o *Orchestrator) PostTimer(f scheduler.Fire) {
	o.Post(TimerEvent{Fire: f})
}

// PostStopped queues a server stopped notification
func (o *Orchestrator) PostStopped() {
	o.Post(ProcessStoppedEvent{})
}

// PostChat queues a command typed in the game chat. Replies go back as tellraw.
func (o *Orchestrator) PostChat(actor, text string) {
	o.Post(InputEvent{
		Actor:      actor,
		Privileged: o.perms.IsPrivileged(actor),
		Text:       text,
		Replier:    consoleReplier{messenger: o.messenger, player: actor},
	})
}

// Submit runs a command on behalf of an API caller and returns what the
// command replied
func (o *Orchestrator) Submit(ctx context.Context, actor string, privileged bool, text string) ([]Reply, error) {
	replier := &BufferReplier{}
	result := make(chan error, 1)
	ev := InputEvent{
		Actor:      actor,
		Privileged: privileged,
		Text:       text,
		Replier:    replier,
		result:     result,
	}

	select {
	case o.events <- ev:
	case <-o.quit:
		return nil, errors.New("orchestrator stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-result:
		return replier.Replies(), err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call runs fn on the loop and waits for it
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.events <- callEvent{fn: fn, done: done}:
	case <-o.quit:
		return errors.New("orchestrator stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backups returns the registry contents, oldest first
func (o *Orchestrator) Backups(ctx context.Context) ([]backup.BackupRecord, error) {
	var records []backup.BackupRecord
	err := o.call(ctx, func() {
		records = o.registry.List()
	})
	return records, err
}

// RestoreStatus returns the current restore workflow state
func (o *Orchestrator) RestoreStatus(ctx context.Context) (RestoreStatus, error) {
	var status RestoreStatus
	err := o.call(ctx, func() {
		status = o.restoreStatus()
	})
	return status, err
}

// Handle processes one event synchronously. A panicking handler is reported
// to the actor and the loop keeps running.
func (o *Orchestrator) Handle(ev Event) {
	var err error
	input, isInput := ev.(InputEvent)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Orchestrator] Fatal: handler panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrInternal, r)
			if isInput && input.Replier != nil {
				input.Replier.Warn("saveload internal error raised.")
			}
			o.activity.Record(input.Actor, logging.ActivityError, "Event handler panicked", nil, err)
		}
		if isInput && input.result != nil {
			input.result <- err
		}
	}()

	switch e := ev.(type) {
	case InputEvent:
		err = o.dispatch(e)
	case TimerEvent:
		o.handleTimer(e.Fire)
	case ProcessStoppedEvent:
		o.handleProcessStopped()
	case callEvent:
		defer close(e.done)
		e.fn()
	}
}

func (o *Orchestrator) handleTimer(f scheduler.Fire) {
	if !o.scheduler.Accept(f) {
		log.Printf("[Orchestrator] Discarding stale %s timer", f.Kind)
		return
	}

	switch f.Kind {
	case scheduler.ConfirmTimeout:
		o.confirmTimeout()
	case scheduler.Countdown:
		o.countdownTick()
	case scheduler.AutoBackup:
		o.autoBackupFire()
	case scheduler.StopCheck:
		o.stopCheck()
	}
}

func (o *Orchestrator) publish(msgType string, payload interface{}) {
	if o.feed != nil {
		o.feed.Publish(msgType, payload)
	}
}
