// Package main is the CLI entry point for quotamon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/config"
	"github.com/eliteGoblin/focusd/quota_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/infra"
	"github.com/eliteGoblin/focusd/quota_mon/internal/metrics"
	"github.com/eliteGoblin/focusd/quota_mon/internal/render"
	transport "github.com/eliteGoblin/focusd/quota_mon/internal/transport/chi"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quotamon",
	Short: "Antigravity quota monitor",
	Long: `quotamon finds the locally running Antigravity language server, polls its
quota status and shows each model group as a traffic light. A group whose
reset is more than five hours away is flagged as a long reset until it has
recovered to full quota.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Show language server candidates and the resolved endpoint",
	RunE:  runDiscover,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch quota once and print it",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll quota and print every update",
	Long: `Polls the language server on the configured interval and prints every
report. Reconnects automatically when the server restarts on a new port.
Changes to the config file are applied without a restart.`,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll quota and serve it over HTTP",
	Long: `Polls like watch and serves /status, /history, /metrics and /healthz.
POST /refresh triggers an immediate fetch.`,
	RunE: runServe,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent entries from the journal",
	RunE:  runHistory,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run quotamon serve at login",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the login service (LaunchAgent or systemd user unit)",
	RunE:  runServiceInstall,
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the login service",
	RunE:  runServiceUninstall,
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the login service is installed and current",
	RunE:  runServiceStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	logLevel     string
	plainOutput  bool
	jsonOutput   bool
	listenAddr   string
	historyLimit int
	configFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/quotamon/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Disable colors")

	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	configShowCmd.Flags().StringVar(&configFormat, "format", config.FormatYAML, "Output format (yaml, toml)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	serviceInstallCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address passed to serve")

	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRenderer() *render.Renderer {
	return render.New(time.Local, plainOutput)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a := setup(false)
	defer a.logger.Sync() //nolint:errcheck

	ctx, cancel := signalContext()
	defer cancel()

	parser := infra.NewInvocationParser(a.cfg.Service.TokenFlag, a.cfg.Service.PortFlag)
	candidates := a.platform.EnumerateCandidates(ctx)
	fmt.Printf("Candidates (%d):\n", len(candidates))
	for _, c := range candidates {
		inv, ok := parser.Parse(c.Invocation)
		token := "none"
		if ok {
			token = infra.RedactToken(inv.Token)
		}
		fmt.Printf("  pid=%-7d token=%s port_hint=%d listening=%v\n",
			c.PID, token, inv.PortHint, a.platform.ListeningPorts(ctx, c.PID))
	}

	conn, err := a.resolver.Resolve(ctx)
	if err != nil {
		newRenderer().Unavailable(os.Stdout, err)
		return nil
	}
	fmt.Printf("Resolved: pid=%d port=%d token=%s\n", conn.PID, conn.Port, infra.RedactToken(conn.Token))
	fmt.Printf("Groups: %s\n", strings.Join(a.cfg.GroupIDs(), ", "))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a := setup(false)
	defer a.logger.Sync() //nolint:errcheck

	ctx, cancel := signalContext()
	defer cancel()

	r := newRenderer()
	if err := a.client.Initialize(ctx); err != nil {
		r.Unavailable(os.Stdout, err)
		return nil
	}
	defer a.client.Shutdown()

	u, err := a.client.Refresh(ctx)
	if err != nil {
		return err
	}
	if u.Err != nil {
		r.Unavailable(os.Stdout, u.Err)
		return nil
	}

	report := a.evaluator.Evaluate(*u.Snapshot)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	r.Report(os.Stdout, report)
	return nil
}

// startPipeline initializes the client and journal, and returns a watcher
// ready to run. The returned cleanup must be called after the watcher stops.
func startPipeline(ctx context.Context, a *app) (*daemon.Watcher, domain.SnapshotJournal, func(), error) {
	if err := a.client.Initialize(ctx); err != nil {
		a.logger.Warn("language server not found yet, will keep polling", zap.Error(err))
	}

	var journal domain.SnapshotJournal
	j, err := a.openJournal()
	if err != nil {
		a.logger.Warn("journal unavailable", zap.Error(err))
	} else if j != nil {
		journal = j
	}

	if err := a.client.Start(ctx); err != nil {
		if journal != nil {
			journal.Close()
		}
		return nil, nil, nil, err
	}

	watcherCfg := daemon.DefaultWatcherConfig()
	watcherCfg.Retention = a.cfg.JournalRetention()
	w := daemon.NewWatcher(watcherCfg, a.client, a.evaluator, journal, a.logger.Named("watcher"))

	go watchConfig(ctx, a)

	cleanup := func() {
		a.client.Shutdown()
		if journal != nil {
			if err := journal.Close(); err != nil {
				a.logger.Warn("failed to close journal", zap.Error(err))
			}
		}
	}
	return w, journal, cleanup, nil
}

// watchConfig applies group changes from the config file while running.
func watchConfig(ctx context.Context, a *app) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil && !errors.Is(err, domain.ErrConfigInvalid) {
			a.logger.Warn("config reload failed, keeping current settings", zap.Error(err))
			return
		}
		if err != nil {
			a.logger.Warn("invalid config values replaced by defaults", zap.Error(err))
		}
		a.evaluator.SetClassifier(newClassifier(cfg))
		a.logger.Info("group settings reloaded", zap.String("path", path))
	}, a.logger.Named("config"))
	if err != nil {
		a.logger.Debug("config watch disabled", zap.Error(err))
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	a := setup(true)
	defer a.logger.Sync() //nolint:errcheck

	lease, err := a.acquireInstance("watch", "")
	if err != nil {
		return err
	}
	defer a.releaseInstance(lease)

	ctx, cancel := signalContext()
	defer cancel()

	w, _, cleanup, err := startPipeline(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()

	r := newRenderer()
	w.OnReport(func(report domain.Report) {
		r.Report(os.Stdout, report)
		fmt.Println()
	})
	w.OnError(func(err error) {
		r.Unavailable(os.Stdout, err)
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a := setup(true)
	defer a.logger.Sync() //nolint:errcheck

	ctx, cancel := signalContext()
	defer cancel()

	addr := listenAddr
	if addr == "" {
		addr = a.cfg.Metrics.Listen
	}
	lease, err := a.acquireInstance("serve", addr)
	if err != nil {
		return err
	}
	defer a.releaseInstance(lease)

	metrics.RegisterQuotaMetrics()
	metrics.RegisterHTTPMetrics()

	w, journal, cleanup, err := startPipeline(ctx, a)
	if err != nil {
		return err
	}
	defer cleanup()
	srv := &http.Server{
		Addr:              addr,
		Handler:           transport.NewServer(w, journal, a.logger.Named("http")).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	runErr := w.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error during HTTP shutdown", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	default:
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a := setup(false)
	defer a.logger.Sync() //nolint:errcheck

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	if j == nil {
		return errors.New("journal is disabled in the configuration")
	}
	defer j.Close()

	entries, err := j.Recent(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	newRenderer().Journal(os.Stdout, entries)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := config.CreateDefault(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil && !errors.Is(err, domain.ErrConfigInvalid) {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return config.Print(cfg, os.Stdout, strings.ToLower(configFormat))
}

// serviceArgs are the arguments the login service passes to quotamon.
func serviceArgs() []string {
	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", infra.ExpandHome(configPath))
	}
	if listenAddr != "" {
		args = append(args, "--listen", listenAddr)
	}
	return args
}

func newAutostart() (*infra.AutostartManager, string, error) {
	m, err := infra.NewAutostartManager(infra.NewCommandRunner(30 * time.Second))
	if err != nil {
		return nil, "", err
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return m, execPath, nil
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	m, execPath, err := newAutostart()
	if err != nil {
		return err
	}
	if err := m.Install(cmd.Context(), execPath, serviceArgs()); err != nil {
		return err
	}
	fmt.Printf("Installed %s service: %s\n", m.Kind(), m.UnitPath())
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	m, _, err := newAutostart()
	if err != nil {
		return err
	}
	if err := m.Uninstall(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Login service removed")
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	m, execPath, err := newAutostart()
	if err != nil {
		return err
	}
	switch {
	case !m.IsInstalled():
		fmt.Println("Login service: not installed")
	case m.NeedsUpdate(execPath, serviceArgs()):
		fmt.Printf("Login service: outdated (%s), run 'quotamon service install'\n", m.UnitPath())
	default:
		fmt.Printf("Login service: installed (%s)\n", m.UnitPath())
	}

	running, err := infra.NewInstanceRegistry(infra.DefaultPaths().DataDir).Running(cmd.Context())
	switch {
	case err != nil:
		fmt.Printf("Daemon: unknown (%v)\n", err)
	case running == nil:
		fmt.Println("Daemon: not running")
	default:
		started := time.Unix(running.StartedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Printf("Daemon: %s running (pid %d, since %s", running.Command, running.PID, started)
		if running.Listen != "" {
			fmt.Printf(", listening on %s", running.Listen)
		}
		fmt.Println(")")
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("quotamon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
