// Package config loads quotamon settings from YAML or TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/infra"
	"github.com/eliteGoblin/focusd/quota_mon/internal/policy"
)

// Environment overrides.
const (
	EnvLogLevel     = "QUOTAMON_LOG_LEVEL"
	EnvPollInterval = "QUOTAMON_POLL_INTERVAL_SEC"
)

const (
	defaultPollIntervalSec      = 30
	minPollIntervalSec          = 5
	defaultProbeTimeoutSec      = 5
	defaultCommandTimeoutSec    = 5
	defaultUnknownRemaining     = 100.0
	defaultJournalRetentionDays = 30
	defaultMetricsListen        = "127.0.0.1:9477"
)

// Config holds the quotamon configuration.
type Config struct {
	PollIntervalSec     int      `yaml:"poll_interval_sec" toml:"poll_interval_sec"`
	ProbeTimeoutSec     int      `yaml:"probe_timeout_sec" toml:"probe_timeout_sec"`
	CommandTimeoutSec   int      `yaml:"command_timeout_sec" toml:"command_timeout_sec"`
	UnknownRemainingPct *float64 `yaml:"unknown_remaining_pct,omitempty" toml:"unknown_remaining_pct,omitempty"`

	Service          ServiceConfig          `yaml:"service" toml:"service"`
	Client           ClientConfig           `yaml:"client" toml:"client"`
	Groups           map[string]GroupConfig `yaml:"groups,omitempty" toml:"groups,omitempty"`
	GroupDefinitions []GroupDefinition      `yaml:"group_definitions,omitempty" toml:"group_definitions,omitempty"`
	Logging          LoggingConfig          `yaml:"logging" toml:"logging"`
	Journal          JournalConfig          `yaml:"journal" toml:"journal"`
	Metrics          MetricsConfig          `yaml:"metrics" toml:"metrics"`
}

// ServiceConfig identifies the language server process.
type ServiceConfig struct {
	ProcessName string   `yaml:"process_name" toml:"process_name"`
	Markers     []string `yaml:"markers" toml:"markers"`
	TokenFlag   string   `yaml:"token_flag" toml:"token_flag"`
	PortFlag    string   `yaml:"port_flag" toml:"port_flag"`
}

// ClientConfig is the identity sent with status requests.
type ClientConfig struct {
	IDEName       string `yaml:"ide_name" toml:"ide_name"`
	ExtensionName string `yaml:"extension_name" toml:"extension_name"`
	Locale        string `yaml:"locale" toml:"locale"`
}

// GroupConfig is the per-group user setting. Absent fields take defaults.
type GroupConfig struct {
	Enabled *bool         `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Limits  *LimitsConfig `yaml:"limits,omitempty" toml:"limits,omitempty"`
}

// LimitsConfig are the traffic-light limits in percent ("at or below").
type LimitsConfig struct {
	Yellow *float64 `yaml:"yellow,omitempty" toml:"yellow,omitempty"`
	Red    *float64 `yaml:"red,omitempty" toml:"red,omitempty"`
}

// GroupDefinition overrides the built-in model groups, in priority order.
type GroupDefinition struct {
	ID          string   `yaml:"id" toml:"id"`
	DisplayName string   `yaml:"display_name,omitempty" toml:"display_name,omitempty"`
	Patterns    []string `yaml:"patterns" toml:"patterns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"` // debug, info, warn, error
	File  string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// JournalConfig holds snapshot journal settings.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Dir           string `yaml:"dir,omitempty" toml:"dir,omitempty"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
}

// MetricsConfig holds the HTTP exporter settings.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// Default returns the default configuration.
func Default() *Config {
	unknown := defaultUnknownRemaining
	identity := infra.DefaultClientIdentity()
	return &Config{
		PollIntervalSec:     defaultPollIntervalSec,
		ProbeTimeoutSec:     defaultProbeTimeoutSec,
		CommandTimeoutSec:   defaultCommandTimeoutSec,
		UnknownRemainingPct: &unknown,
		Service: ServiceConfig{
			ProcessName: infra.DefaultProcessName,
			Markers:     append([]string(nil), infra.DefaultMarkers...),
			TokenFlag:   infra.DefaultTokenFlag,
			PortFlag:    infra.DefaultPortFlag,
		},
		Client: ClientConfig{
			IDEName:       identity.IDEName,
			ExtensionName: identity.ExtensionName,
			Locale:        identity.Locale,
		},
		Logging: LoggingConfig{Level: "info"},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: defaultJournalRetentionDays,
		},
		Metrics: MetricsConfig{Listen: defaultMetricsListen},
	}
}

// DefaultPath returns the config file path: config.yaml under the XDG config
// directory, or config.toml when only that exists.
func DefaultPath() string {
	dir := infra.DefaultPaths().ConfigDir
	yamlPath := filepath.Join(dir, "config.yaml")
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(yamlPath); err != nil {
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	return yamlPath
}

// Load reads the file at path (DefaultPath when empty). A missing file yields
// the defaults. Environment overrides are applied last.
//
// Invalid values are replaced by their defaults; the returned error then wraps
// domain.ErrConfigInvalid and the returned Config is still usable. Any other
// error means nothing could be loaded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		cfg = &Config{}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	cfg.applyEnv(os.LookupEnv)

	if problems := cfg.Sanitize(); len(problems) > 0 {
		return cfg, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(problems...))
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = def.PollIntervalSec
	}
	if c.ProbeTimeoutSec <= 0 {
		c.ProbeTimeoutSec = def.ProbeTimeoutSec
	}
	if c.CommandTimeoutSec <= 0 {
		c.CommandTimeoutSec = def.CommandTimeoutSec
	}
	if c.UnknownRemainingPct == nil {
		c.UnknownRemainingPct = def.UnknownRemainingPct
	}
	if c.Service.ProcessName == "" {
		c.Service.ProcessName = def.Service.ProcessName
	}
	if c.Service.Markers == nil {
		c.Service.Markers = def.Service.Markers
	}
	if c.Service.TokenFlag == "" {
		c.Service.TokenFlag = def.Service.TokenFlag
	}
	if c.Service.PortFlag == "" {
		c.Service.PortFlag = def.Service.PortFlag
	}
	if c.Client.IDEName == "" {
		c.Client.IDEName = def.Client.IDEName
	}
	if c.Client.ExtensionName == "" {
		c.Client.ExtensionName = def.Client.ExtensionName
	}
	if c.Client.Locale == "" {
		c.Client.Locale = def.Client.Locale
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = def.Journal.RetentionDays
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvPollInterval); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalSec = n
		}
	}
}

// Validate reports every invalid value without changing anything.
func (c *Config) Validate() error {
	probe := *c
	probe.Groups = copyGroups(c.Groups)
	if problems := probe.Sanitize(); len(problems) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(problems...))
	}
	return nil
}

// Sanitize replaces invalid values with defaults and returns what it replaced.
func (c *Config) Sanitize() []error {
	def := Default()
	var problems []error

	if c.PollIntervalSec < minPollIntervalSec {
		problems = append(problems, fmt.Errorf("poll_interval_sec must be >= %d, got %d", minPollIntervalSec, c.PollIntervalSec))
		c.PollIntervalSec = def.PollIntervalSec
	}
	if u := c.UnknownRemainingPct; u != nil && (*u < 0 || *u > 100) {
		problems = append(problems, fmt.Errorf("unknown_remaining_pct must be within 0..100, got %v", *u))
		c.UnknownRemainingPct = def.UnknownRemainingPct
	}
	if !validLevel(c.Logging.Level) {
		problems = append(problems, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
		c.Logging.Level = def.Logging.Level
	}

	for id, g := range c.Groups {
		if g.Limits == nil {
			continue
		}
		th := resolveLimits(g.Limits)
		if err := validateThresholds(th); err != nil {
			problems = append(problems, fmt.Errorf("groups.%s.limits: %w", id, err))
			g.Limits = nil
			c.Groups[id] = g
		}
	}

	if len(c.GroupDefinitions) > 0 {
		if err := policy.Validate(c.groupDefinitions()); err != nil {
			problems = append(problems, fmt.Errorf("group_definitions: %w", err))
			c.GroupDefinitions = nil
		}
	}

	return problems
}

func validLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validateThresholds(th domain.Thresholds) error {
	if th.Red < 0 || th.Yellow > 100 {
		return fmt.Errorf("limits must be within 0..100, got yellow=%v red=%v", th.Yellow, th.Red)
	}
	if th.Red > th.Yellow {
		return fmt.Errorf("red (%v) must not exceed yellow (%v)", th.Red, th.Yellow)
	}
	return nil
}

func resolveLimits(l *LimitsConfig) domain.Thresholds {
	th := domain.DefaultThresholds()
	if l == nil {
		return th
	}
	if l.Yellow != nil {
		th.Yellow = *l.Yellow
	}
	if l.Red != nil {
		th.Red = *l.Red
	}
	return th
}

func copyGroups(in map[string]GroupConfig) map[string]GroupConfig {
	if in == nil {
		return nil
	}
	out := make(map[string]GroupConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (c *Config) groupDefinitions() []domain.GroupDefinition {
	defs := make([]domain.GroupDefinition, 0, len(c.GroupDefinitions))
	for _, d := range c.GroupDefinitions {
		defs = append(defs, domain.GroupDefinition{
			ID:            d.ID,
			DisplayName:   d.DisplayName,
			LabelPatterns: d.Patterns,
		})
	}
	return defs
}

// Definitions returns the configured group definitions, or the built-in ones.
func (c *Config) Definitions() []domain.GroupDefinition {
	return c.registry().GetAll()
}

// GroupIDs returns the active group IDs in priority order.
func (c *Config) GroupIDs() []string {
	return c.registry().List()
}

func (c *Config) registry() *policy.Registry {
	if len(c.GroupDefinitions) == 0 {
		return policy.NewRegistry()
	}
	return policy.NewRegistryWithGroups(c.groupDefinitions()...)
}

// GroupSettings resolves per-group settings; groups not listed use domain.DefaultGroupSettings.
func (c *Config) GroupSettings() map[string]domain.GroupSettings {
	out := make(map[string]domain.GroupSettings, len(c.Groups))
	for id, g := range c.Groups {
		s := domain.DefaultGroupSettings()
		if g.Enabled != nil {
			s.Enabled = *g.Enabled
		}
		s.Limits = resolveLimits(g.Limits)
		out[id] = s
	}
	return out
}

// UnknownRemaining returns the worst-case figure for groups with no known fraction.
func (c *Config) UnknownRemaining() float64 {
	if c.UnknownRemainingPct == nil {
		return defaultUnknownRemaining
	}
	return *c.UnknownRemainingPct
}

// PollInterval returns the scheduled fetch interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ProbeTimeout returns the per-request timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// CommandTimeout returns the per-command discovery timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// JournalDir returns the journal directory, defaulting to the XDG data directory.
func (c *Config) JournalDir() string {
	if c.Journal.Dir != "" {
		return infra.ExpandHome(c.Journal.Dir)
	}
	return infra.DefaultPaths().DataDir
}

// JournalRetention returns how long journal entries are kept.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

// Platform returns the process identity for discovery.
func (c *Config) Platform() infra.PlatformConfig {
	pc := infra.DefaultPlatformConfig()
	pc.Timeout = c.CommandTimeout()
	if c.Service.ProcessName != "" {
		pc.ProcessName = c.Service.ProcessName
	}
	if c.Service.Markers != nil {
		pc.Markers = c.Service.Markers
	}
	return pc
}

// Identity returns the client metadata for status requests.
func (c *Config) Identity() infra.ClientIdentity {
	return infra.ClientIdentity{
		IDEName:       c.Client.IDEName,
		ExtensionName: c.Client.ExtensionName,
		Locale:        c.Client.Locale,
	}
}

// CreateDefault writes the default config to path (DefaultPath when empty).
// It refuses to overwrite an existing file.
func CreateDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	var buf bytes.Buffer
	format := FormatYAML
	if isTOML(path) {
		format = FormatTOML
	}
	if err := Print(Default(), &buf, format); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// Output formats for Print.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Print writes cfg to w in the given format.
func Print(cfg *Config, w io.Writer, format string) error {
	fmt.Fprintln(w, "# quotamon configuration")
	fmt.Fprintln(w, "# groups.<id>: {enabled, limits: {yellow, red}}; absent groups use enabled=true, limits 40/20")
	fmt.Fprintln(w)

	switch format {
	case FormatTOML:
		return toml.NewEncoder(w).Encode(cfg)
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
