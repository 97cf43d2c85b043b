// Package config loads user configuration from ~/.agent-vault/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML config file for user preferences.
const ConfigFileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	// Sources maps a source name ("claude", "codex", ...) to an override of
	// its log root. Unset sources use the built-in defaults.
	Sources map[string]SourceSettings `toml:"sources"`

	// Index configures the embedded index database.
	Index IndexSettings `toml:"index"`

	// Archive configures pinned-session archival.
	Archive ArchiveSettings `toml:"archive"`

	// Logs configures the diagnostic log.
	Logs LogSettings `toml:"logs"`
}

// SourceSettings overrides discovery for one agent tool.
type SourceSettings struct {
	// Root is the directory scanned for this source's session logs.
	Root string `toml:"root"`

	// Disabled removes the source from scans entirely.
	Disabled bool `toml:"disabled"`
}

// IndexSettings configures the index store.
type IndexSettings struct {
	// Path is the SQLite database file (default: ~/.agent-vault/index.db).
	Path string `toml:"path"`

	// ToolIOBudgetMB caps the retained tool input/output corpus older than
	// ToolIORetentionDays (default: 256).
	ToolIOBudgetMB int `toml:"tool_io_budget_mb"`

	// ToolIORetentionDays is the age after which tool-IO rows become
	// eligible for pruning (default: 30).
	ToolIORetentionDays int `toml:"tool_io_retention_days"`

	// ScanRateLimit is the max files parsed per second during background
	// scans; 0 means unlimited (default: 0).
	ScanRateLimit int `toml:"scan_rate_limit"`

	// SearchLimit bounds full-text search results (default: 200).
	SearchLimit int `toml:"search_limit"`
}

// ArchiveSettings configures the archive manager.
type ArchiveSettings struct {
	// Root is the archive directory (default: ~/.agent-vault/archives).
	Root string `toml:"root"`

	// SyncIntervalSecs is the periodic resync cadence (default: 45).
	SyncIntervalSecs int `toml:"sync_interval_secs"`

	// InactivityMinutes is how long upstream must stay quiet before an
	// archive is considered final (default: 30).
	InactivityMinutes int `toml:"inactivity_minutes"`

	// ConsistencyRetries bounds the copy/rescan loop (default: 4).
	ConsistencyRetries int `toml:"consistency_retries"`

	// OrphanGraceHours is the age before leftover staging/backup
	// directories are swept (default: 24).
	OrphanGraceHours int `toml:"orphan_grace_hours"`
}

// LogSettings configures diagnostic logging.
type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// VaultDir returns the base agent-vault directory (~/.agent-vault).
func VaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home directory: %w", err)
	}
	return filepath.Join(homeDir, ".agent-vault"), nil
}

// Load reads the config file, applying defaults for anything unset.
// A missing file yields the default configuration.
func Load() (*Config, error) {
	dir, err := VaultDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, ConfigFileName))
}

// LoadFrom reads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(baseDir, "index.db")
	}
	if c.Index.ToolIOBudgetMB <= 0 {
		c.Index.ToolIOBudgetMB = 256
	}
	if c.Index.ToolIORetentionDays <= 0 {
		c.Index.ToolIORetentionDays = 30
	}
	if c.Index.SearchLimit <= 0 {
		c.Index.SearchLimit = 200
	}
	if c.Archive.Root == "" {
		c.Archive.Root = filepath.Join(baseDir, "archives")
	}
	if c.Archive.SyncIntervalSecs <= 0 {
		c.Archive.SyncIntervalSecs = 45
	}
	if c.Archive.InactivityMinutes <= 0 {
		c.Archive.InactivityMinutes = 30
	}
	if c.Archive.ConsistencyRetries <= 0 {
		c.Archive.ConsistencyRetries = 4
	}
	if c.Archive.OrphanGraceHours <= 0 {
		c.Archive.OrphanGraceHours = 24
	}
}
