package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfigPathPrefersYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "saveload")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create saveload dir: %v", err)
	}
	for _, name := range []string{"config.yaml", "config.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(root); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "./saveload/config.yaml" {
		t.Fatalf("expected ./saveload/config.yaml, got %s", resolved)
	}
}

func TestLoadFileAcceptsJSON(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "config.json")
	body := `{
  "saveload": {
    "permission_level": "anyone",
    "max_backup_count": 3,
    "restore_valid_seconds": 15,
    "restore_countdown_seconds": 5,
    "auto_backup_interval_hours": 6
  },
  "server": {"working_dir": "` + filepath.ToSlash(root) + `"}
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Saveload.PermissionLevel != PermissionAnyone {
		t.Fatalf("expected permission level anyone, got %s", cfg.Saveload.PermissionLevel)
	}
	if cfg.Saveload.MaxBackupCount != 3 {
		t.Fatalf("expected max backup count 3, got %d", cfg.Saveload.MaxBackupCount)
	}
	if cfg.Saveload.RestoreCountdownSeconds != 5 {
		t.Fatalf("expected countdown 5, got %d", cfg.Saveload.RestoreCountdownSeconds)
	}
	if cfg.AutoBackupInterval().Hours() != 6 {
		t.Fatalf("expected 6h auto backup interval, got %v", cfg.AutoBackupInterval())
	}
	// untouched fields keep their defaults
	if cfg.Saveload.CommandPrefix != "!sl" {
		t.Fatalf("expected default prefix, got %s", cfg.Saveload.CommandPrefix)
	}
}

func TestNormalizeDefaultsSavePathUnderWorkingDir(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Server.WorkingDir = root
	cfg.normalize()

	if cfg.Saveload.SavePath != filepath.Join(root, "saveload") {
		t.Fatalf("unexpected save path: %s", cfg.Saveload.SavePath)
	}
	if cfg.State.Path != filepath.Join(root, "saveload", "info.json") {
		t.Fatalf("unexpected state path: %s", cfg.State.Path)
	}
	if cfg.Server.LogFile != filepath.Join(root, "logs", "latest.log") {
		t.Fatalf("unexpected log file: %s", cfg.Server.LogFile)
	}
}

func TestNormalizeSQLiteStatePath(t *testing.T) {
	cfg := Default()
	cfg.Server.WorkingDir = t.TempDir()
	cfg.State.Driver = "SQLite"
	cfg.normalize()

	if filepath.Base(cfg.State.Path) != "saveload.db" {
		t.Fatalf("expected sqlite state file, got %s", cfg.State.Path)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"permission": func(c *Config) { c.Saveload.PermissionLevel = "admins" },
		"max count":  func(c *Config) { c.Saveload.MaxBackupCount = 0 },
		"valid secs": func(c *Config) { c.Saveload.RestoreValidSeconds = 0 },
		"format":     func(c *Config) { c.Saveload.Archive.Format = "rar" },
		"driver":     func(c *Config) { c.State.Driver = "postgres" },
		"api secret": func(c *Config) { c.API.Enabled = true },
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}
