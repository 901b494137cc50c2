package infra

import (
	"context"
	"sort"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Default identity markers of the monitored language server.
const DefaultProcessName = "language_server"

// DefaultMarkers are the invocation fragments that tie a language server to Antigravity.
var DefaultMarkers = []string{"--app_data_dir antigravity", "--app_data_dir=antigravity", "/antigravity/", `\antigravity\`}

// PlatformConfig identifies the target process.
type PlatformConfig struct {
	ProcessName string        // Substring of the executable path
	Markers     []string      // At least one must appear in the invocation
	Timeout     time.Duration // Bounds each gopsutil listing; zero uses DefaultCommandTimeout
}

// DefaultPlatformConfig returns the Antigravity language-server identity.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		ProcessName: DefaultProcessName,
		Markers:     append([]string(nil), DefaultMarkers...),
		Timeout:     DefaultCommandTimeout,
	}
}

// ProcessSource lists running processes with their command lines.
type ProcessSource func(ctx context.Context) ([]domain.ProcessCandidate, error)

// SocketSource lists the listening TCP ports of a process.
type SocketSource func(ctx context.Context, pid int) ([]int, error)

// SystemPlatform implements domain.Platform.
// gopsutil is the preferred source; OS-specific commands are the fallback.
type SystemPlatform struct {
	config  PlatformConfig
	runner  CommandRunner
	procs   ProcessSource
	sockets SocketSource
	logger  *zap.Logger
}

// NewPlatform creates a platform backed by gopsutil and real commands.
func NewPlatform(config PlatformConfig, runner CommandRunner, logger *zap.Logger) *SystemPlatform {
	return NewPlatformWithDeps(config, runner, gopsutilProcesses, gopsutilListeningPorts, logger)
}

// NewPlatformWithDeps creates a platform with injectable sources (for testing).
func NewPlatformWithDeps(
	config PlatformConfig,
	runner CommandRunner,
	procs ProcessSource,
	sockets SocketSource,
	logger *zap.Logger,
) *SystemPlatform {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultCommandTimeout
	}
	return &SystemPlatform{
		config:  config,
		runner:  runner,
		procs:   procs,
		sockets: sockets,
		logger:  logger,
	}
}

// EnumerateCandidates returns marker-matching processes in OS order.
func (p *SystemPlatform) EnumerateCandidates(ctx context.Context) []domain.ProcessCandidate {
	all, err := p.listProcesses(ctx)
	if err != nil {
		p.logger.Debug("process listing failed, trying fallback commands", zap.Error(err))
	}
	found := p.filter(all)
	if len(found) > 0 {
		return found
	}

	for _, q := range processQueries() {
		out, err := p.runner.Output(ctx, q.name, q.args...)
		if err != nil {
			p.logger.Debug("process query failed",
				zap.String("command", q.name),
				zap.Error(err))
			continue
		}
		if found = p.filter(q.parse(out)); len(found) > 0 {
			return found
		}
	}
	return nil
}

// ListeningPorts returns the distinct listening ports of pid, ascending.
func (p *SystemPlatform) ListeningPorts(ctx context.Context, pid int) []int {
	ports, err := p.listSockets(ctx, pid)
	if err != nil {
		p.logger.Debug("socket listing failed, trying fallback commands",
			zap.Int("pid", pid),
			zap.Error(err))
	}
	if len(ports) > 0 {
		return normalizePorts(ports)
	}

	for _, q := range portQueries(pid) {
		out, err := p.runner.Output(ctx, q.name, q.args...)
		if err != nil {
			p.logger.Debug("port query failed",
				zap.String("command", q.name),
				zap.Int("pid", pid),
				zap.Error(err))
			continue
		}
		if ports = q.parse(out, pid); len(ports) > 0 {
			return normalizePorts(ports)
		}
	}
	return nil
}

// listProcesses runs the preferred process source under the platform timeout.
func (p *SystemPlatform) listProcesses(ctx context.Context) ([]domain.ProcessCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	return p.procs(ctx)
}

// listSockets runs the preferred socket source under the platform timeout.
// On darwin gopsutil shells out to lsof here.
func (p *SystemPlatform) listSockets(ctx context.Context, pid int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	return p.sockets(ctx, pid)
}

func (p *SystemPlatform) filter(all []domain.ProcessCandidate) []domain.ProcessCandidate {
	var found []domain.ProcessCandidate
	for _, c := range all {
		if MatchesMarkers(c.Invocation, p.config.ProcessName, p.config.Markers) {
			found = append(found, c)
		}
	}
	return found
}

// normalizePorts deduplicates and sorts ascending.
func normalizePorts(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, port := range ports {
		if port <= 0 || seen[port] {
			continue
		}
		seen[port] = true
		out = append(out, port)
	}
	sort.Ints(out)
	return out
}

// gopsutilProcesses lists processes via gopsutil.
func gopsutilProcesses(ctx context.Context) ([]domain.ProcessCandidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var found []domain.ProcessCandidate
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue // Process may have exited or be unreadable
		}
		found = append(found, domain.ProcessCandidate{PID: int(p.Pid), Invocation: cmdline})
	}
	return found, nil
}

// gopsutilListeningPorts lists LISTEN sockets of pid via gopsutil.
func gopsutilListeningPorts(ctx context.Context, pid int) ([]int, error) {
	conns, err := psnet.ConnectionsPidWithContext(ctx, "tcp", int32(pid))
	if err != nil {
		return nil, err
	}

	var ports []int
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		ports = append(ports, int(c.Laddr.Port))
	}
	return ports, nil
}

// processQuery is one fallback command for process enumeration.
type processQuery struct {
	name  string
	args  []string
	parse func([]byte) []domain.ProcessCandidate
}

// portQuery is one fallback command for listening-port enumeration.
type portQuery struct {
	name  string
	args  []string
	parse func(out []byte, pid int) []int
}

// Ensure SystemPlatform implements domain.Platform.
var _ domain.Platform = (*SystemPlatform)(nil)
