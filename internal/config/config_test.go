package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  user: deploy
  password: s3cret
  name: gitdeploy_prod

github:
  token: ghp_abc
  api_url: https://ghe.example.com/api/v3/
  archive_url: https://ghe.example.com/
  timeout: 45s
  download_timeout: 2m

destinations:
  plugin: /var/www/wp-content/plugins
  theme: /var/www/wp-content/themes

backups:
  dir: /var/backups/gitdeploy
  retention: 3

validation:
  shapes:
    - type: header
      glob: "*.php"
      marker: "Plugin Name:"
    - type: layout
      dir: dist
      file: manifest.json

scheduler:
  schedule: "0 */6 * * *"

webhook:
  secret: hook-secret

server:
  port: 9090
  admin_token: admin-token

notify:
  events:
    deploy: false
  slack:
    webhook_url: https://hooks.slack.com/services/T/B/X
  discord:
    webhook_id: "123"
    webhook_token: tok
  command: notify-send "{{.Event}}" "{{.Owner}}/{{.Name}}"
  timeout: 5s

log:
  verbosity: 2
`

const minimalYAML = `
destinations:
  plugin: /srv/plugins
backups:
  dir: /srv/backups
`

func clearTokenEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITDEPLOY_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
}

func TestParse_FullConfig(t *testing.T) {
	clearTokenEnv(t)
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "mysql")
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 3307)
	}
	if cfg.Database.Name != "gitdeploy_prod" {
		t.Errorf("Database.Name = %q, want %q", cfg.Database.Name, "gitdeploy_prod")
	}
	if cfg.GitHub.Token != "ghp_abc" {
		t.Errorf("GitHub.Token = %q, want %q", cfg.GitHub.Token, "ghp_abc")
	}
	if cfg.GitHub.ArchiveURL != "https://ghe.example.com" {
		t.Errorf("GitHub.ArchiveURL = %q, want trailing slash trimmed", cfg.GitHub.ArchiveURL)
	}
	if cfg.GitHub.Timeout != 45*time.Second {
		t.Errorf("GitHub.Timeout = %v, want 45s", cfg.GitHub.Timeout)
	}
	if cfg.GitHub.DownloadTimeout != 2*time.Minute {
		t.Errorf("GitHub.DownloadTimeout = %v, want 2m", cfg.GitHub.DownloadTimeout)
	}
	if cfg.Destinations["theme"] != "/var/www/wp-content/themes" {
		t.Errorf("Destinations[theme] = %q", cfg.Destinations["theme"])
	}
	if cfg.Backups.Retention != 3 {
		t.Errorf("Backups.Retention = %d, want 3", cfg.Backups.Retention)
	}
	if cfg.LocksDir != filepath.Join("/var/backups/gitdeploy", ".locks") {
		t.Errorf("LocksDir = %q, want derived from backups.dir", cfg.LocksDir)
	}
	if len(cfg.Validation.Shapes) != 2 {
		t.Fatalf("len(Validation.Shapes) = %d, want 2", len(cfg.Validation.Shapes))
	}
	if cfg.Validation.Shapes[1].Dir != "dist" {
		t.Errorf("Shapes[1].Dir = %q, want %q", cfg.Validation.Shapes[1].Dir, "dist")
	}
	if cfg.Scheduler.Schedule != "0 */6 * * *" {
		t.Errorf("Scheduler.Schedule = %q", cfg.Scheduler.Schedule)
	}
	if cfg.Webhook.Secret != "hook-secret" {
		t.Errorf("Webhook.Secret = %q", cfg.Webhook.Secret)
	}
	if cfg.Server.Port != 9090 || cfg.Server.AdminToken != "admin-token" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if Enabled(cfg.Notify.Events.Deploy) {
		t.Error("Notify.Events.Deploy should be disabled")
	}
	if !Enabled(cfg.Notify.Events.Error) {
		t.Error("Notify.Events.Error should default to enabled")
	}
	if cfg.Notify.Discord.WebhookID != "123" {
		t.Errorf("Discord.WebhookID = %q", cfg.Notify.Discord.WebhookID)
	}
	if !strings.Contains(cfg.Notify.Command, "{{.Event}}") {
		t.Errorf("Notify.Command = %q", cfg.Notify.Command)
	}
	if cfg.Notify.Timeout != 5*time.Second {
		t.Errorf("Notify.Timeout = %v, want 5s", cfg.Notify.Timeout)
	}
	if cfg.Log.Verbosity != 2 {
		t.Errorf("Log.Verbosity = %d, want 2", cfg.Log.Verbosity)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	clearTokenEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q (default)", cfg.Database.Driver, "sqlite")
	}
	if cfg.Database.Path != "gitdeploy.db" {
		t.Errorf("Database.Path = %q, want %q (default)", cfg.Database.Path, "gitdeploy.db")
	}
	if cfg.GitHub.ArchiveURL != "https://github.com" {
		t.Errorf("GitHub.ArchiveURL = %q, want %q (default)", cfg.GitHub.ArchiveURL, "https://github.com")
	}
	if cfg.GitHub.Timeout != 30*time.Second {
		t.Errorf("GitHub.Timeout = %v, want 30s (default)", cfg.GitHub.Timeout)
	}
	if cfg.Backups.Retention != 5 {
		t.Errorf("Backups.Retention = %d, want 5 (default)", cfg.Backups.Retention)
	}
	if cfg.LocksDir != filepath.Join("/srv/backups", ".locks") {
		t.Errorf("LocksDir = %q, want derived", cfg.LocksDir)
	}
	if len(cfg.Validation.Shapes) != 3 {
		t.Errorf("len(Validation.Shapes) = %d, want 3 (default)", len(cfg.Validation.Shapes))
	}
	if cfg.Scheduler.Schedule != "@every 12h" {
		t.Errorf("Scheduler.Schedule = %q, want %q (default)", cfg.Scheduler.Schedule, "@every 12h")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
	if cfg.Notify.Timeout != 10*time.Second {
		t.Errorf("Notify.Timeout = %v, want 10s (default)", cfg.Notify.Timeout)
	}
	if cfg.GitHub.Token != "" {
		t.Errorf("GitHub.Token = %q, want empty", cfg.GitHub.Token)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	clearTokenEnv(t)
	cfg, err := Parse([]byte(minimalYAML + "database:\n  driver: mysql\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 || cfg.Database.Name != "gitdeploy" {
		t.Errorf("mysql defaults = %+v", cfg.Database)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for mysql", cfg.Database.Path)
	}
}

func TestParse_TokenFromEnv(t *testing.T) {
	t.Setenv("GITDEPLOY_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "from-github-env")
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "from-github-env" {
		t.Errorf("GitHub.Token = %q, want %q", cfg.GitHub.Token, "from-github-env")
	}

	t.Setenv("GITDEPLOY_GITHUB_TOKEN", "from-gitdeploy-env")
	cfg, err = Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "from-gitdeploy-env" {
		t.Errorf("GitHub.Token = %q, want %q (GITDEPLOY_GITHUB_TOKEN wins)", cfg.GitHub.Token, "from-gitdeploy-env")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing destinations",
			yaml: "backups:\n  dir: /b\n",
			want: "at least one destination is required",
		},
		{
			name: "missing backups dir",
			yaml: "destinations:\n  plugin: /p\n",
			want: "backups.dir is required",
		},
		{
			name: "bad driver",
			yaml: minimalYAML + "database:\n  driver: postgres\n",
			want: `database.driver "postgres" must be sqlite or mysql`,
		},
		{
			name: "bad schedule",
			yaml: minimalYAML + "scheduler:\n  schedule: \"every tuesday\"\n",
			want: "scheduler.schedule",
		},
		{
			name: "bad shape type",
			yaml: minimalYAML + "validation:\n  shapes:\n    - type: checksum\n",
			want: `validation.shapes[0]: unknown type "checksum"`,
		},
		{
			name: "incomplete header shape",
			yaml: minimalYAML + "validation:\n  shapes:\n    - type: header\n      glob: \"*.php\"\n",
			want: "header shape needs glob and marker",
		},
		{
			name: "half discord config",
			yaml: minimalYAML + "notify:\n  discord:\n    webhook_id: \"1\"\n",
			want: "notify.discord needs both webhook_id and webhook_token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTokenEnv(t)
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrors(t *testing.T) {
	clearTokenEnv(t)
	_, err := Parse([]byte("server:\n  port: 1\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "config: validation failed: ") {
		t.Errorf("error = %q, want validation prefix", msg)
	}
	if !strings.Contains(msg, "at least one destination is required") || !strings.Contains(msg, "backups.dir is required") {
		t.Errorf("error = %q, want both problems reported", msg)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("destinations: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_File(t *testing.T) {
	clearTokenEnv(t)
	path := filepath.Join(t.TempDir(), "gitdeploy.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destinations["plugin"] != "/srv/plugins" {
		t.Errorf("Destinations[plugin] = %q", cfg.Destinations["plugin"])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestEnabled(t *testing.T) {
	on, off := true, false
	if !Enabled(nil) || !Enabled(&on) || Enabled(&off) {
		t.Error("Enabled mismatch")
	}
}
