// Package usecase contains application business logic.
package usecase

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// PortResolver finds the port of a process that answers the liveness probe.
type PortResolver struct {
	platform domain.Platform
	prober   domain.EndpointProber
	logger   *zap.Logger
}

// NewPortResolver creates a port resolver.
func NewPortResolver(platform domain.Platform, prober domain.EndpointProber, logger *zap.Logger) *PortResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortResolver{platform: platform, prober: prober, logger: logger}
}

// Resolve probes the listening ports of pid in ascending order and returns the
// first that answers. Each port is probed at most once.
func (r *PortResolver) Resolve(ctx context.Context, pid int, token string) (int, bool) {
	ports := append([]int(nil), r.platform.ListeningPorts(ctx, pid)...)
	sort.Ints(ports)

	for _, port := range ports {
		if ctx.Err() != nil {
			return 0, false
		}
		if err := r.prober.Probe(ctx, port, token); err != nil {
			r.logger.Debug("probe failed",
				zap.Int("pid", pid),
				zap.Int("port", port),
				zap.Error(err))
			continue
		}
		return port, true
	}
	return 0, false
}
