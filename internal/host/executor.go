package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor runs shell commands on the machine hosting the server
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// LocalExecutor runs commands through bash -c. Output is returned even when
// the command fails so callers can inspect tools that exit non-zero on
// ordinary conditions (screen -list with no sessions).
type LocalExecutor struct {
	Dir string
}

func NewLocalExecutor(dir string) *LocalExecutor {
	return &LocalExecutor{Dir: dir}
}

func (e *LocalExecutor) Execute(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := strings.TrimSpace(stdout.String())
	if err != nil {
		return output, fmt.Errorf("command failed: %s (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return output, nil
}

// MockCommandExecutor for testing
type MockCommandExecutor struct {
	MockOutput string
	MockError  error
	Handlers   map[string]func(command string) (string, error)

	mu       sync.Mutex
	Commands []string
}

func (m *MockCommandExecutor) Execute(ctx context.Context, command string) (string, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, command)
	m.mu.Unlock()

	if m.Handlers != nil {
		for prefix, handler := range m.Handlers {
			if strings.HasPrefix(command, prefix) {
				return handler(command)
			}
		}
	}
	return m.MockOutput, m.MockError
}

// Executed returns a copy of the commands run so far
func (m *MockCommandExecutor) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.Commands...)
}
