package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/config"
	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/infra"
	"github.com/eliteGoblin/focusd/quota_mon/internal/logger"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	platform  *infra.SystemPlatform
	ls        *infra.LanguageServerClient
	resolver  domain.ConnectionResolver
	client    *monitor.QuotaClient
	evaluator *usecase.Evaluator
}

// loadConfig loads the config file. Invalid values and unreadable files fall
// back to defaults with a warning.
func loadConfig(log *zap.Logger) *config.Config {
	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		return cfg
	case errors.Is(err, domain.ErrConfigInvalid):
		log.Warn("invalid config values replaced by defaults", zap.Error(err))
		return cfg
	default:
		log.Warn("config unusable, using defaults", zap.Error(err))
		return config.Default()
	}
}

// newLogger builds the logger for a command. Daemon-style commands log JSON.
func newLogger(cfg *config.Config, daemon bool) *zap.Logger {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	opts := logger.Options{Level: level, Development: !daemon}
	if daemon {
		opts.File = cfg.Logging.File
	}
	l, err := logger.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v, falling back to defaults\n", err)
		l, _ = logger.New(logger.Options{Development: !daemon})
	}
	return l
}

// setup loads configuration and wires the polling pipeline.
func setup(daemon bool) *app {
	bootstrap, _ := logger.New(logger.Options{Development: true, Level: "warn"})
	cfg := loadConfig(bootstrap)
	log := newLogger(cfg, daemon)

	runner := infra.NewCommandRunner(cfg.CommandTimeout())
	platform := infra.NewPlatform(cfg.Platform(), runner, log.Named("platform"))
	ls := infra.NewLanguageServerClient(cfg.Identity(), cfg.ProbeTimeout(), log.Named("ls"))
	parser := infra.NewInvocationParser(cfg.Service.TokenFlag, cfg.Service.PortFlag)
	resolver := usecase.NewConnectionResolver(platform, parser, ls, log.Named("resolver"))

	clientCfg := monitor.DefaultConfig()
	clientCfg.PollInterval = cfg.PollInterval()
	client := monitor.NewQuotaClient(clientCfg, resolver, ls, usecase.NewStatusParser(), log.Named("client"))

	return &app{
		cfg:       cfg,
		logger:    log,
		platform:  platform,
		ls:        ls,
		resolver:  resolver,
		client:    client,
		evaluator: usecase.NewEvaluator(newClassifier(cfg), log.Named("evaluator")),
	}
}

func newClassifier(cfg *config.Config) *usecase.Classifier {
	return usecase.NewClassifier(cfg.Definitions(), cfg.GroupSettings(), cfg.UnknownRemaining())
}

// openJournal opens the encrypted journal, creating its key on first use.
// Returns nil when the journal is disabled.
func (a *app) openJournal() (*infra.EncryptedJournal, error) {
	if !a.cfg.Journal.Enabled {
		return nil, nil
	}
	dir := a.cfg.JournalDir()
	key, err := infra.EnsureJournalKey(infra.SelectKeyProvider(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to get journal key: %w", err)
	}
	j, err := infra.OpenJournal(dir, key)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("journal opened", zap.String("path", j.Path()))
	return j, nil
}

// acquireInstance makes sure only one watch/serve daemon runs per user.
func (a *app) acquireInstance(command, listen string) (*infra.InstanceLease, error) {
	lease, err := infra.NewInstanceRegistry(infra.DefaultPaths().DataDir).Acquire(infra.InstanceInfo{
		Command: command,
		Listen:  listen,
		Version: Version,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("instance lock acquired", zap.Int("pid", lease.Info().PID))
	return lease, nil
}

func (a *app) releaseInstance(lease *infra.InstanceLease) {
	if err := lease.Release(); err != nil {
		a.logger.Warn("failed to release instance lock", zap.Error(err))
	}
}
