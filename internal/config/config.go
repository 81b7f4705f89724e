// Package config provides YAML-based configuration loading for gitdeploy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when -c is not given.
const DefaultPath = "gitdeploy.yaml"

// Config is the top-level gitdeploy configuration, loaded from gitdeploy.yaml.
type Config struct {
	Database     DatabaseConfig    `yaml:"database"`
	GitHub       GitHubConfig      `yaml:"github"`
	Destinations map[string]string `yaml:"destinations"`
	Backups      BackupConfig      `yaml:"backups"`
	LocksDir     string            `yaml:"locks_dir"`
	Validation   ValidationConfig  `yaml:"validation"`
	Scheduler    SchedulerConfig   `yaml:"scheduler"`
	Webhook      WebhookConfig     `yaml:"webhook"`
	Server       ServerConfig      `yaml:"server"`
	Notify       NotifyConfig      `yaml:"notify"`
	Log          LogConfig         `yaml:"log"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// GitHubConfig holds repository host settings.
type GitHubConfig struct {
	Token           string        `yaml:"token"`
	APIURL          string        `yaml:"api_url"`
	ArchiveURL      string        `yaml:"archive_url"`
	Timeout         time.Duration `yaml:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// BackupConfig controls where snapshots live and how many are kept.
type BackupConfig struct {
	Dir       string `yaml:"dir"`
	Retention int    `yaml:"retention"`
}

// ValidationConfig lists the archive shapes accepted as deployable.
type ValidationConfig struct {
	Shapes []ShapeConfig `yaml:"shapes"`
}

// ShapeConfig is one accepted archive shape. Type "header" matches a file
// by glob whose contents include Marker; type "layout" requires directory
// Dir and file File to both exist at the root.
type ShapeConfig struct {
	Type   string `yaml:"type"`
	Glob   string `yaml:"glob"`
	Marker string `yaml:"marker"`
	Dir    string `yaml:"dir"`
	File   string `yaml:"file"`
}

// SchedulerConfig holds the update sweep schedule.
type SchedulerConfig struct {
	Schedule string `yaml:"schedule"`
}

// WebhookConfig holds the shared secret for signed events.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	Events  EventToggles  `yaml:"events"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventToggles enables notification families. Nil means enabled.
type EventToggles struct {
	Deploy   *bool `yaml:"deploy"`
	Update   *bool `yaml:"update"`
	Error    *bool `yaml:"error"`
	Rollback *bool `yaml:"rollback"`
}

// SlackConfig holds the Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig holds the Discord webhook credentials.
type DiscordConfig struct {
	WebhookID    string `yaml:"webhook_id"`
	WebhookToken string `yaml:"webhook_token"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Verbosity int `yaml:"verbosity"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "gitdeploy.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "gitdeploy"
		}
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITDEPLOY_GITHUB_TOKEN")
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.GitHub.ArchiveURL == "" {
		c.GitHub.ArchiveURL = "https://github.com"
	}
	c.GitHub.ArchiveURL = strings.TrimRight(c.GitHub.ArchiveURL, "/")
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = 30 * time.Second
	}
	if c.GitHub.DownloadTimeout == 0 {
		c.GitHub.DownloadTimeout = 5 * time.Minute
	}
	if c.Backups.Retention == 0 {
		c.Backups.Retention = 5
	}
	if c.LocksDir == "" && c.Backups.Dir != "" {
		c.LocksDir = filepath.Join(c.Backups.Dir, ".locks")
	}
	if len(c.Validation.Shapes) == 0 {
		c.Validation.Shapes = DefaultShapes()
	}
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "@every 12h"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
}

// DefaultShapes returns the WordPress plugin, theme and block-theme shapes.
func DefaultShapes() []ShapeConfig {
	return []ShapeConfig{
		{Type: "header", Glob: "*.php", Marker: "Plugin Name:"},
		{Type: "header", Glob: "style.css", Marker: "Theme Name:"},
		{Type: "layout", Dir: "templates", File: "index.html"},
	}
}

// ScheduleParser is the cron parser used for scheduler.schedule.
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if len(c.Destinations) == 0 {
		errs = append(errs, "at least one destination is required")
	}
	for kind, root := range c.Destinations {
		if root == "" {
			errs = append(errs, fmt.Sprintf("destinations.%s is empty", kind))
		}
	}
	if c.Backups.Dir == "" {
		errs = append(errs, "backups.dir is required")
	}
	if c.Backups.Retention < 1 {
		errs = append(errs, "backups.retention must be at least 1")
	}
	for i, s := range c.Validation.Shapes {
		switch s.Type {
		case "header":
			if s.Glob == "" || s.Marker == "" {
				errs = append(errs, fmt.Sprintf("validation.shapes[%d]: header shape needs glob and marker", i))
			}
		case "layout":
			if s.Dir == "" || s.File == "" {
				errs = append(errs, fmt.Sprintf("validation.shapes[%d]: layout shape needs dir and file", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("validation.shapes[%d]: unknown type %q", i, s.Type))
		}
	}
	if _, err := ScheduleParser.Parse(c.Scheduler.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.schedule: %v", err))
	}
	if (c.Notify.Discord.WebhookID == "") != (c.Notify.Discord.WebhookToken == "") {
		errs = append(errs, "notify.discord needs both webhook_id and webhook_token")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Enabled reports whether a toggle is on; unset toggles default to on.
func Enabled(toggle *bool) bool {
	return toggle == nil || *toggle
}
