package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Permission levels accepted by saveload.permission_level
const (
	PermissionOp     = "op"
	PermissionAnyone = "anyone"
)

// State drivers accepted by state.driver
const (
	StateDriverJSON   = "json"
	StateDriverSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Saveload  SaveloadConfig `yaml:"saveload" json:"saveload"`
	Server    ServerConfig   `yaml:"server" json:"server"`
	Operators []string       `yaml:"operators" json:"operators"`
	State     StateConfig    `yaml:"state" json:"state"`
	Logging   LoggingConfig  `yaml:"logging" json:"logging"`
	API       APIConfig      `yaml:"api" json:"api"`
}

// SaveloadConfig contains the backup and restore policy
type SaveloadConfig struct {
	PermissionLevel         string        `yaml:"permission_level" json:"permission_level"`
	SavePath                string        `yaml:"save_path" json:"save_path"`
	MaxBackupCount          int           `yaml:"max_backup_count" json:"max_backup_count"`
	RestoreValidSeconds     int           `yaml:"restore_valid_seconds" json:"restore_valid_seconds"`
	RestoreCountdownSeconds int           `yaml:"restore_countdown_seconds" json:"restore_countdown_seconds"`
	AutoBackupIntervalHours int           `yaml:"auto_backup_interval_hours" json:"auto_backup_interval_hours"`
	CommandPrefix           string        `yaml:"command_prefix" json:"command_prefix"`
	Archive                 ArchiveConfig `yaml:"archive" json:"archive"`
}

// ArchiveConfig controls the archive format
// Format values: "zip", "tar". Compression values (tar only): "gzip", "zstd", "none"
type ArchiveConfig struct {
	Format         string `yaml:"format" json:"format"`
	Compression    string `yaml:"compression" json:"compression"`
	Level          int    `yaml:"level" json:"level"`
	TimeoutMinutes int    `yaml:"timeout_minutes" json:"timeout_minutes"`
}

// ServerConfig describes the managed server process
type ServerConfig struct {
	WorkingDir          string   `yaml:"working_dir" json:"working_dir"`
	SessionName         string   `yaml:"session_name" json:"session_name"`
	StartCommand        string   `yaml:"start_command" json:"start_command"`
	LogFile             string   `yaml:"log_file" json:"log_file"`
	TeeLog              bool     `yaml:"tee_log" json:"tee_log"`
	StopCommands        []string `yaml:"stop_commands" json:"stop_commands"`
	StopTimeoutSeconds  int      `yaml:"stop_timeout_seconds" json:"stop_timeout_seconds"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	QuiesceCommands     []string `yaml:"quiesce_commands" json:"quiesce_commands"`
	ResumeCommands      []string `yaml:"resume_commands" json:"resume_commands"`
	SayCommand          string   `yaml:"say_command" json:"say_command"`
	TellCommand         string   `yaml:"tell_command" json:"tell_command"`
	ChatPattern         string   `yaml:"chat_pattern" json:"chat_pattern"`
	OpsFile             string   `yaml:"ops_file" json:"ops_file"`
}

// StateConfig selects where the backup registry is persisted
type StateConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Format      string `yaml:"format" json:"format"`
	File        string `yaml:"file" json:"file"`
	MaxSize     int    `yaml:"max_size" json:"max_size"`
	MaxBackups  int    `yaml:"max_backups" json:"max_backups"`
	MaxAge      int    `yaml:"max_age" json:"max_age"`
	ActivityDir string `yaml:"activity_dir" json:"activity_dir"`
	// Database activity older than this is pruned at startup, 0 keeps everything
	ActivityRetentionDays int `yaml:"activity_retention_days" json:"activity_retention_days"`
}

// APIConfig contains the optional HTTP control surface settings
type APIConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Host               string   `yaml:"host" json:"host"`
	Port               int      `yaml:"port" json:"port"`
	JWTSecret          string   `yaml:"jwt_secret" json:"jwt_secret"`
	TokenDuration      string   `yaml:"token_duration" json:"token_duration"`
	AllowedOrigins     []string `yaml:"allowed_origins" json:"allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Saveload: SaveloadConfig{
			PermissionLevel:         PermissionOp,
			SavePath:                "",
			MaxBackupCount:          5,
			RestoreValidSeconds:     30,
			RestoreCountdownSeconds: 10,
			AutoBackupIntervalHours: 0,
			CommandPrefix:           "!sl",
			Archive: ArchiveConfig{
				Format:         "zip",
				Compression:    "gzip",
				Level:          6,
				TimeoutMinutes: 30,
			},
		},
		Server: ServerConfig{
			WorkingDir:          ".",
			SessionName:         "minecraft",
			StartCommand:        "java -Xmx2G -jar server.jar nogui",
			LogFile:             "logs/latest.log",
			StopCommands:        []string{"stop"},
			StopTimeoutSeconds:  60,
			PollIntervalSeconds: 2,
			QuiesceCommands:     []string{"save-off", "save-all flush"},
			ResumeCommands:      []string{"save-on"},
			SayCommand:          "say {message}",
			TellCommand:         "tellraw {player} {json}",
			ChatPattern:         `^(?:(?:\[[^\]]*\] )*\[[^\]]*\]: )?<(?P<actor>[A-Za-z0-9_]{1,32})> (?P<text>.*)$`,
			OpsFile:             "ops.json",
		},
		State: StateConfig{
			Driver: StateDriverJSON,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,

			ActivityRetentionDays: 90,
		},
		API: APIConfig{
			Enabled:            false,
			Host:               "127.0.0.1",
			Port:               8095,
			TokenDuration:      "720h",
			RateLimitPerMinute: 60,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile(GetConfigPath())
}

// LoadFile loads configuration from the given path. A missing file yields the defaults.
func LoadFile(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// JSON documents are valid YAML, so one decoder serves both formats
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if savePath := os.Getenv("SAVELOAD_SAVE_PATH"); savePath != "" {
		cfg.Saveload.SavePath = savePath
	}

	if driver := os.Getenv("STATE_DRIVER"); driver != "" {
		cfg.State.Driver = driver
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if secret := os.Getenv("API_JWT_SECRET"); secret != "" {
		cfg.API.JWTSecret = secret
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Saveload.PermissionLevel {
	case PermissionOp, PermissionAnyone:
	default:
		return fmt.Errorf("permission_level must be %q or %q", PermissionOp, PermissionAnyone)
	}

	if c.Saveload.MaxBackupCount < 1 {
		return fmt.Errorf("max_backup_count must be at least 1")
	}

	if c.Saveload.RestoreValidSeconds < 1 {
		return fmt.Errorf("restore_valid_seconds must be at least 1")
	}

	if c.Saveload.RestoreCountdownSeconds < 0 {
		return fmt.Errorf("restore_countdown_seconds must not be negative")
	}

	if c.Logging.ActivityRetentionDays < 0 {
		return fmt.Errorf("activity_retention_days must not be negative")
	}

	if c.Saveload.AutoBackupIntervalHours < 0 {
		return fmt.Errorf("auto_backup_interval_hours must not be negative")
	}

	if strings.TrimSpace(c.Saveload.CommandPrefix) == "" {
		return fmt.Errorf("command_prefix is required")
	}

	switch c.Saveload.Archive.Format {
	case "zip", "tar":
	default:
		return fmt.Errorf("unsupported archive format: %s", c.Saveload.Archive.Format)
	}

	switch c.State.Driver {
	case StateDriverJSON, StateDriverSQLite:
	default:
		return fmt.Errorf("unsupported state driver: %s", c.State.Driver)
	}

	if strings.TrimSpace(c.Server.SessionName) == "" {
		return fmt.Errorf("server.session_name is required")
	}

	if c.API.Enabled {
		if c.API.JWTSecret == "" || c.API.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("api.jwt_secret must be set to a secure value when the API is enabled")
		}
		if _, err := time.ParseDuration(c.API.TokenDuration); err != nil {
			return fmt.Errorf("api.token_duration: %w", err)
		}
	}

	return nil
}

// AutoBackupInterval returns the auto-backup period, zero when disabled
func (c *Config) AutoBackupInterval() time.Duration {
	return time.Duration(c.Saveload.AutoBackupIntervalHours) * time.Hour
}

// RestoreValid returns how long a restore request waits for confirmation
func (c *Config) RestoreValid() time.Duration {
	return time.Duration(c.Saveload.RestoreValidSeconds) * time.Second
}

// ArchiveTimeout bounds a single archive create or extract
func (c *Config) ArchiveTimeout() time.Duration {
	if c.Saveload.Archive.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Saveload.Archive.TimeoutMinutes) * time.Minute
}

// TokenDuration returns the API token lifetime, 30 days when unparsable
func (c *Config) TokenDuration() time.Duration {
	d, err := time.ParseDuration(c.API.TokenDuration)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// ActivityRetention returns how long database activity is kept, zero for forever
func (c *Config) ActivityRetention() time.Duration {
	return time.Duration(c.Logging.ActivityRetentionDays) * 24 * time.Hour
}

// StopTimeout is how long a graceful stop may take before the session is quit
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Server.StopTimeoutSeconds) * time.Second
}

// PollInterval is the process status polling period
func (c *Config) PollInterval() time.Duration {
	if c.Server.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Server.PollIntervalSeconds) * time.Second
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

func resolveConfigPath() string {
	candidates := []string{"./saveload/config.yaml", "./saveload/config.json"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./saveload/config.yaml"
}

// normalize resolves every path against the server working directory.
// The default save path is <working_dir>/saveload.
func (c *Config) normalize() {
	workingDir := strings.TrimSpace(c.Server.WorkingDir)
	if workingDir == "" {
		workingDir = "."
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	c.Server.WorkingDir = filepath.Clean(workingDir)

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(c.Server.WorkingDir, trimmed))
	}

	if strings.TrimSpace(c.Saveload.SavePath) == "" {
		c.Saveload.SavePath = filepath.Join(c.Server.WorkingDir, "saveload")
	}
	c.Saveload.SavePath = resolvePath(c.Saveload.SavePath)

	c.Saveload.PermissionLevel = strings.ToLower(strings.TrimSpace(c.Saveload.PermissionLevel))
	c.Saveload.Archive.Format = strings.ToLower(strings.TrimSpace(c.Saveload.Archive.Format))
	c.Saveload.Archive.Compression = strings.ToLower(strings.TrimSpace(c.Saveload.Archive.Compression))
	c.State.Driver = strings.ToLower(strings.TrimSpace(c.State.Driver))

	if strings.TrimSpace(c.State.Path) == "" {
		name := "info.json"
		if c.State.Driver == StateDriverSQLite {
			name = "saveload.db"
		}
		c.State.Path = filepath.Join(c.Saveload.SavePath, name)
	}
	c.State.Path = resolvePath(c.State.Path)

	c.Server.LogFile = resolvePath(c.Server.LogFile)
	c.Server.OpsFile = resolvePath(c.Server.OpsFile)

	if strings.TrimSpace(c.Logging.ActivityDir) == "" {
		c.Logging.ActivityDir = filepath.Join(c.Saveload.SavePath, "activity")
	}
	c.Logging.ActivityDir = resolvePath(c.Logging.ActivityDir)
	c.Logging.File = resolvePath(c.Logging.File)
}
