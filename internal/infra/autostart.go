package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

// AutostartLabel names the login service on every platform.
const AutostartLabel = "io.github.elitegoblin.quotamon"

// AutostartKind is the service manager backing the login service.
type AutostartKind string

const (
	AutostartLaunchd AutostartKind = "launchd"
	AutostartSystemd AutostartKind = "systemd"
)

// LaunchAgent plist template (runs as user)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

// systemd user unit template
const systemdUnitTemplate = `[Unit]
Description=Antigravity quota monitor ({{.Label}})
After=default.target

[Service]
ExecStart={{.ExecutablePath}}{{range .Args}} {{.}}{{end}}
Restart=on-failure
RestartSec=10
StandardOutput=append:{{.LogPath}}
StandardError=append:{{.LogPath}}

[Install]
WantedBy=default.target
`

type unitConfig struct {
	Label          string
	ExecutablePath string
	Args           []string
	LogPath        string
}

// AutostartManager installs quotamon as a per-user login service.
type AutostartManager struct {
	kind     AutostartKind
	unitPath string
	logPath  string
	runner   CommandRunner
}

// NewAutostartManager selects the service manager for this OS.
func NewAutostartManager(runner CommandRunner) (*AutostartManager, error) {
	home := GetRealUserHome()
	paths := DefaultPaths()
	logPath := filepath.Join(paths.DataDir, "quotamon.log")

	switch runtime.GOOS {
	case "darwin":
		unit := filepath.Join(home, "Library", "LaunchAgents", AutostartLabel+".plist")
		return NewAutostartManagerWithPaths(AutostartLaunchd, unit, logPath, runner), nil
	case "linux":
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		unit := filepath.Join(base, "systemd", "user", "quotamon.service")
		return NewAutostartManagerWithPaths(AutostartSystemd, unit, logPath, runner), nil
	default:
		return nil, fmt.Errorf("autostart is not supported on %s", runtime.GOOS)
	}
}

// NewAutostartManagerWithPaths creates a manager with explicit paths (for testing).
func NewAutostartManagerWithPaths(kind AutostartKind, unitPath, logPath string, runner CommandRunner) *AutostartManager {
	return &AutostartManager{
		kind:     kind,
		unitPath: unitPath,
		logPath:  logPath,
		runner:   runner,
	}
}

// Render produces the unit file for execPath invoked with args.
func (m *AutostartManager) Render(execPath string, args []string) ([]byte, error) {
	tmplStr := systemdUnitTemplate
	if m.kind == AutostartLaunchd {
		tmplStr = launchAgentTemplate
	}

	tmpl, err := template.New(string(m.kind)).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, unitConfig{
		Label:          AutostartLabel,
		ExecutablePath: execPath,
		Args:           args,
		LogPath:        m.logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit file and loads it. An existing unit is replaced.
func (m *AutostartManager) Install(ctx context.Context, execPath string, args []string) error {
	content, err := m.Render(execPath, args)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.unitPath), 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if m.IsInstalled() {
		_ = m.unload(ctx)
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	return m.load(ctx)
}

// Uninstall unloads and removes the unit file.
func (m *AutostartManager) Uninstall(ctx context.Context) error {
	if !m.IsInstalled() {
		return nil
	}
	_ = m.unload(ctx)
	if err := os.Remove(m.unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}
	if m.kind == AutostartSystemd {
		_, _ = m.runner.Output(ctx, "systemctl", "--user", "daemon-reload")
	}
	return nil
}

// IsInstalled checks if the unit file exists.
func (m *AutostartManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate reports whether an installed unit differs from what Install would write.
func (m *AutostartManager) NeedsUpdate(execPath string, args []string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.Render(execPath, args)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// UnitPath returns the unit file path.
func (m *AutostartManager) UnitPath() string {
	return m.unitPath
}

// Kind returns the service manager in use.
func (m *AutostartManager) Kind() AutostartKind {
	return m.kind
}

func (m *AutostartManager) load(ctx context.Context) error {
	if m.kind == AutostartLaunchd {
		if _, err := m.runner.Output(ctx, "launchctl", "load", "-w", m.unitPath); err != nil {
			return fmt.Errorf("launchctl load: %w", err)
		}
		return nil
	}
	if _, err := m.runner.Output(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	if _, err := m.runner.Output(ctx, "systemctl", "--user", "enable", "--now", filepath.Base(m.unitPath)); err != nil {
		return fmt.Errorf("systemctl enable: %w", err)
	}
	return nil
}

func (m *AutostartManager) unload(ctx context.Context) error {
	if m.kind == AutostartLaunchd {
		_, err := m.runner.Output(ctx, "launchctl", "unload", m.unitPath)
		return err
	}
	_, err := m.runner.Output(ctx, "systemctl", "--user", "disable", "--now", filepath.Base(m.unitPath))
	return err
}
