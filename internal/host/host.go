package host

import (
	"context"
	"log"
)

// Host controls the managed server process
type Host interface {
	// WriteLine sends one line to the server console
	WriteLine(ctx context.Context, line string) error
	// Start launches the server
	Start(ctx context.Context) error
	// Stop asks the server to shut down and returns without waiting.
	// Completion is observed through IsRunning (see Watcher).
	Stop(ctx context.Context) error
	IsRunning(ctx context.Context) bool
}

// CommandQuiescer pauses and resumes world saving with console commands.
// Nothing is sent when the server is not running.
type CommandQuiescer struct {
	host    Host
	quiesce []string
	resume  []string
}

func NewCommandQuiescer(h Host, quiesce, resume []string) *CommandQuiescer {
	return &CommandQuiescer{host: h, quiesce: quiesce, resume: resume}
}

func (q *CommandQuiescer) Quiesce(ctx context.Context) error {
	return q.send(ctx, q.quiesce)
}

func (q *CommandQuiescer) Resume(ctx context.Context) error {
	return q.send(ctx, q.resume)
}

func (q *CommandQuiescer) send(ctx context.Context, commands []string) error {
	if len(commands) == 0 || !q.host.IsRunning(ctx) {
		return nil
	}
	for _, command := range commands {
		if err := q.host.WriteLine(ctx, command); err != nil {
			return err
		}
		log.Printf("[Host] Sent %q", command)
	}
	return nil
}
