package host

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ScreenOptions describes how the server runs inside GNU screen
type ScreenOptions struct {
	SessionName  string
	WorkingDir   string
	StartCommand string
	// LogFile receives the console output through tee when TeeLog is set
	LogFile      string
	TeeLog       bool
	StopCommands []string
	StopTimeout  time.Duration
	PollInterval time.Duration
}

// ScreenHost runs the server in a detached screen session on this machine
type ScreenHost struct {
	executor CommandExecutor
	opts     ScreenOptions

	mu       sync.Mutex
	stopping bool
}

// ScreenSession represents a screen session
type ScreenSession struct {
	Name   string
	PID    int
	Status string // "Attached", "Detached"
}

var screenListPattern = regexp.MustCompile(`^\s*(\d+)\.(\S+)\s+(?:\([^)]+\)\s+)?\((\w+)\)`)

// NewScreenHost creates a host bound to one screen session
func NewScreenHost(executor CommandExecutor, opts ScreenOptions) *ScreenHost {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &ScreenHost{executor: executor, opts: opts}
}

// Start starts the server in a new screen session
func (sh *ScreenHost) Start(ctx context.Context) error {
	if sh.IsRunning(ctx) {
		log.Printf("[Screen] Session %s already running", sh.opts.SessionName)
		return nil
	}

	inner := fmt.Sprintf("cd %s && export COLUMNS=500 LINES=100; %s",
		bashQuote(sh.opts.WorkingDir), sh.opts.StartCommand)
	if sh.opts.TeeLog && sh.opts.LogFile != "" {
		inner = fmt.Sprintf("%s 2>&1 | tee -a %s", inner, bashQuote(sh.opts.LogFile))
	}
	screenCmd := fmt.Sprintf("screen -dmS %s bash -lc %s", bashQuote(sh.opts.SessionName), bashDoubleQuote(inner))

	output, err := sh.executor.Execute(ctx, screenCmd)
	if err != nil {
		return fmt.Errorf("failed to create screen session: %w (output: %s)", err, output)
	}

	log.Printf("[Screen] Created session %s in %s", sh.opts.SessionName, sh.opts.WorkingDir)
	return nil
}

// IsRunning checks if the screen session exists
func (sh *ScreenHost) IsRunning(ctx context.Context) bool {
	sessions, err := sh.ListSessions(ctx)
	if err != nil {
		log.Printf("[Screen] Failed to list sessions: %v", err)
		return false
	}
	for _, session := range sessions {
		if session.Name == sh.opts.SessionName {
			return true
		}
	}
	return false
}

// ListSessions lists all screen sessions of the current user
func (sh *ScreenHost) ListSessions(ctx context.Context) ([]ScreenSession, error) {
	output, err := sh.executor.Execute(ctx, "screen -list")
	if err != nil {
		// screen -list returns exit code 1 if no sessions exist
		if strings.Contains(output, "No Sockets found") || strings.Contains(err.Error(), "No Sockets found") {
			return []ScreenSession{}, nil
		}
		sessions := parseScreenList(output)
		if len(sessions) == 0 && !strings.Contains(err.Error(), "exit status 1") {
			return nil, fmt.Errorf("failed to list screen sessions: %w", err)
		}
		return sessions, nil
	}

	return parseScreenList(output), nil
}

// parseScreenList parses the output of 'screen -list'
//
//	1234.minecraft	(01/16/2026 12:00:00 PM)	(Detached)
func parseScreenList(output string) []ScreenSession {
	sessions := make([]ScreenSession, 0)
	for _, line := range strings.Split(output, "\n") {
		matches := screenListPattern.FindStringSubmatch(line)
		if len(matches) < 4 {
			continue
		}
		pid := 0
		fmt.Sscanf(matches[1], "%d", &pid)
		sessions = append(sessions, ScreenSession{
			Name:   matches[2],
			PID:    pid,
			Status: matches[3],
		})
	}
	return sessions
}

// WriteLine sends a line to the session's stdin
func (sh *ScreenHost) WriteLine(ctx context.Context, line string) error {
	stuffCmd := fmt.Sprintf("screen -S %s -X stuff '%s\n'", bashQuote(sh.opts.SessionName), escapeCommand(line))

	output, err := sh.executor.Execute(ctx, stuffCmd)
	if err != nil {
		return fmt.Errorf("failed to send command to screen: %w (output: %s)", err, output)
	}
	return nil
}

// Stop sends the stop commands and escalates in the background: Ctrl+C after
// the stop timeout, then quitting the session
func (sh *ScreenHost) Stop(ctx context.Context) error {
	sh.mu.Lock()
	if sh.stopping {
		sh.mu.Unlock()
		log.Printf("[Screen] Stop already in progress for %s", sh.opts.SessionName)
		return nil
	}
	sh.stopping = true
	sh.mu.Unlock()

	if !sh.IsRunning(ctx) {
		sh.clearStopping()
		log.Printf("[Screen] Session %s is already offline, skipping stop", sh.opts.SessionName)
		return nil
	}

	for _, command := range sh.opts.StopCommands {
		log.Printf("[Screen] Sending stop command: %s", command)
		if err := sh.WriteLine(ctx, command); err != nil {
			log.Printf("[Screen] Warning: Failed to send stop command: %v", err)
		}
	}

	go sh.escalate(context.WithoutCancel(ctx))
	return nil
}

func (sh *ScreenHost) escalate(ctx context.Context) {
	defer sh.clearStopping()

	if sh.waitForExit(ctx, sh.opts.StopTimeout) {
		log.Printf("[Screen] Session %s stopped gracefully", sh.opts.SessionName)
		return
	}

	log.Printf("[Screen] Graceful shutdown timeout, sending Ctrl+C to %s", sh.opts.SessionName)
	ctrlC := fmt.Sprintf("screen -S %s -X stuff $'\\003'", bashQuote(sh.opts.SessionName))
	if _, err := sh.executor.Execute(ctx, ctrlC); err != nil {
		log.Printf("[Screen] Warning: Failed to send Ctrl+C: %v", err)
	}
	if sh.waitForExit(ctx, sh.opts.StopTimeout) {
		log.Printf("[Screen] Session %s stopped after Ctrl+C", sh.opts.SessionName)
		return
	}

	log.Printf("[Screen] Force quitting screen session %s", sh.opts.SessionName)
	quit := fmt.Sprintf("screen -S %s -X quit", bashQuote(sh.opts.SessionName))
	if output, err := sh.executor.Execute(ctx, quit); err != nil {
		log.Printf("[Screen] Warning: Failed to quit session: %v (output: %s)", err, output)
	}
}

func (sh *ScreenHost) waitForExit(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !sh.IsRunning(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(sh.opts.PollInterval):
		}
	}
	return !sh.IsRunning(ctx)
}

func (sh *ScreenHost) clearStopping() {
	sh.mu.Lock()
	sh.stopping = false
	sh.mu.Unlock()
}

// escapeCommand quotes a line for screen's stuff. Screen reads ^X, $VAR and
// backslash sequences in its argument, so those are escaped, and control
// characters are dropped so one line cannot submit several.
func escapeCommand(command string) string {
	command = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, command)
	command = screenEscaper.Replace(command)
	return strings.ReplaceAll(command, "'", "'\\''")
}

var screenEscaper = strings.NewReplacer(`\`, `\\`, "^", `\^`, "$", `\$`)

func bashQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}

func bashDoubleQuote(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "$", "\\$")
	value = strings.ReplaceAll(value, "`", "\\`")
	return "\"" + value + "\""
}
