package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zulandar/gitdeploy/internal/backup"
	"github.com/zulandar/gitdeploy/internal/config"
	"github.com/zulandar/gitdeploy/internal/db"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/installer"
	"github.com/zulandar/gitdeploy/internal/layout"
	"github.com/zulandar/gitdeploy/internal/lock"
	"github.com/zulandar/gitdeploy/internal/logging"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/notify"
	"github.com/zulandar/gitdeploy/internal/notify/discord"
	"github.com/zulandar/gitdeploy/internal/notify/slack"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
	"github.com/zulandar/gitdeploy/internal/updater"
	"github.com/zulandar/gitdeploy/internal/webhook"
	"gorm.io/gorm"
)

const configUsage = "path to gitdeploy config file"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultPath, configUsage)
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// app is the set of components one command invocation works with. It is
// built once per process and handed to whatever the command drives.
type app struct {
	cfg      *config.Config
	log      logr.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	repos    *tracked.Store
	source   *source.Client
	layout   *layout.Layout
	backups  *backup.Store
	locks    *lock.Locker
	notifier *notify.Dispatcher
	deployer *deploy.Orchestrator
	checker  *updater.Checker
	webhook  *webhook.Handler
}

// openApp loads the config, connects to the database and wires every
// component. Logs go to logOut as JSON lines.
func openApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, gormDB, logOut)
}

func newApp(cfg *config.Config, gormDB *gorm.DB, logOut io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logging.New(logOut, cfg.Log.Verbosity),
		registry: prometheus.NewRegistry(),
		repos:    tracked.NewStore(gormDB),
	}
	a.metrics = metrics.New(a.registry)

	var err error
	a.source, err = source.New(source.Options{
		Credentials: source.StaticToken(cfg.GitHub.Token),
		APIURL:      cfg.GitHub.APIURL,
		ArchiveURL:  cfg.GitHub.ArchiveURL,
		Timeout:     cfg.GitHub.Timeout,
		Log:         a.log,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, err
	}

	policy, err := installer.PolicyFromConfig(cfg.Validation.Shapes)
	if err != nil {
		return nil, err
	}
	inst := installer.New(installer.Options{
		Policy:          policy,
		DownloadTimeout: cfg.GitHub.DownloadTimeout,
		Log:             a.log,
	})

	if a.layout, err = layout.New(cfg.Destinations); err != nil {
		return nil, err
	}
	a.backups, err = backup.New(backup.Options{
		Dir:       cfg.Backups.Dir,
		Retention: cfg.Backups.Retention,
		Layout:    a.layout,
		Log:       a.log,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}
	if a.locks, err = lock.New(cfg.LocksDir); err != nil {
		return nil, err
	}

	sinks, err := notifySinks(cfg.Notify)
	if err != nil {
		return nil, err
	}
	a.notifier = notify.NewDispatcher(notify.Options{
		Sinks:   sinks,
		Events:  cfg.Notify.Events,
		Timeout: cfg.Notify.Timeout,
		Log:     a.log,
	})

	a.deployer, err = deploy.New(deploy.Options{
		Source:    a.source,
		Installer: inst,
		Backups:   a.backups,
		Layout:    a.layout,
		Locks:     a.locks,
		Repos:     a.repos,
		Notifier:  a.notifier,
		Metrics:   a.metrics,
		Log:       a.log,
	})
	if err != nil {
		return nil, err
	}

	a.checker = updater.New(updater.Options{
		Repos:    a.repos,
		Source:   a.source,
		Deployer: a.deployer,
		Metrics:  a.metrics,
		Log:      a.log,
	})
	a.webhook = webhook.New(webhook.Options{
		Secret:   cfg.Webhook.Secret,
		Repos:    a.repos,
		Deployer: a.deployer,
		Metrics:  a.metrics,
		Log:      a.log,
	})
	return a, nil
}

// notifySinks builds a sink for every configured channel.
func notifySinks(c config.NotifyConfig) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if c.Slack.WebhookURL != "" {
		sinks = append(sinks, slack.New(c.Slack.WebhookURL, &http.Client{Timeout: c.Timeout}))
	}
	if c.Discord.WebhookID != "" {
		s, err := discord.New(c.Discord.WebhookID, c.Discord.WebhookToken)
		if err != nil {
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		sinks = append(sinks, s)
	}
	if c.Command != "" {
		sinks = append(sinks, notify.Command{Template: c.Command})
	}
	return sinks, nil
}
