package permissions

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/saveload/internal/config"
)

// Provider decides whether an actor may run privileged commands
// (backup, restore and confirm)
type Provider interface {
	IsPrivileged(actor string) bool
}

// Everyone grants every actor privilege
type Everyone struct{}

func (Everyone) IsPrivileged(string) bool { return true }

// opEntry is one element of the server's ops.json
type opEntry struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// OpsProvider treats configured operators and the server's ops list as privileged.
// The ops file is re-read whenever its modification time changes.
type OpsProvider struct {
	operators map[string]bool
	opsFile   string

	mu      sync.Mutex
	ops     map[string]bool
	modTime time.Time
}

// New returns the provider for a permission level
func New(level string, operators []string, opsFile string) Provider {
	if level == config.PermissionAnyone {
		return Everyone{}
	}
	return NewOpsProvider(operators, opsFile)
}

func NewOpsProvider(operators []string, opsFile string) *OpsProvider {
	set := make(map[string]bool, len(operators))
	for _, name := range operators {
		if name = normalize(name); name != "" {
			set[name] = true
		}
	}
	return &OpsProvider{
		operators: set,
		opsFile:   opsFile,
		ops:       map[string]bool{},
	}
}

func (p *OpsProvider) IsPrivileged(actor string) bool {
	actor = normalize(actor)
	if actor == "" {
		return false
	}
	if p.operators[actor] {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	return p.ops[actor]
}

func (p *OpsProvider) refreshLocked() {
	if p.opsFile == "" {
		return
	}

	info, err := os.Stat(p.opsFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Permissions] Failed to stat %s: %v", p.opsFile, err)
		}
		p.ops = map[string]bool{}
		p.modTime = time.Time{}
		return
	}
	if info.ModTime().Equal(p.modTime) {
		return
	}

	data, err := os.ReadFile(p.opsFile)
	if err != nil {
		log.Printf("[Permissions] Failed to read %s: %v", p.opsFile, err)
		return
	}

	var entries []opEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("[Permissions] Failed to parse %s: %v", p.opsFile, err)
		return
	}

	ops := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if name := normalize(entry.Name); name != "" {
			ops[name] = true
		}
	}
	p.ops = ops
	p.modTime = info.ModTime()
	log.Printf("[Permissions] Loaded %d ops from %s", len(ops), p.opsFile)
}

// player names are case-insensitive
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
