package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// ConnectionResolverImpl implements domain.ConnectionResolver.
// It walks discovered candidates in OS order and returns the first whose
// port answers.
type ConnectionResolverImpl struct {
	platform domain.Platform
	parser   domain.InvocationParser
	ports    *PortResolver
	logger   *zap.Logger
}

// NewConnectionResolver creates a resolver over the given platform and prober.
func NewConnectionResolver(
	platform domain.Platform,
	parser domain.InvocationParser,
	prober domain.EndpointProber,
	logger *zap.Logger,
) domain.ConnectionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionResolverImpl{
		platform: platform,
		parser:   parser,
		ports:    NewPortResolver(platform, prober, logger),
		logger:   logger,
	}
}

// Resolve returns domain.ErrServiceNotFound when no candidate yields a working endpoint.
func (r *ConnectionResolverImpl) Resolve(ctx context.Context) (domain.ConnectionDescriptor, error) {
	candidates := r.platform.EnumerateCandidates(ctx)
	r.logger.Debug("discovered candidates", zap.Int("count", len(candidates)))

	for _, c := range candidates {
		inv, ok := r.parser.Parse(c.Invocation)
		if !ok {
			r.logger.Debug("candidate has no token", zap.Int("pid", c.PID))
			continue
		}

		port, ok := r.ports.Resolve(ctx, c.PID, inv.Token)
		if !ok {
			r.logger.Debug("no port answered",
				zap.Int("pid", c.PID),
				zap.Int("port_hint", inv.PortHint))
			continue
		}

		if inv.PortHint != 0 && inv.PortHint != port {
			r.logger.Debug("resolved port differs from hint",
				zap.Int("port", port),
				zap.Int("port_hint", inv.PortHint))
		}
		r.logger.Info("language server resolved",
			zap.Int("pid", c.PID),
			zap.Int("port", port))
		return domain.ConnectionDescriptor{PID: c.PID, Port: port, Token: inv.Token}, nil
	}

	return domain.ConnectionDescriptor{}, domain.ErrServiceNotFound
}

// Ensure ConnectionResolverImpl implements domain.ConnectionResolver.
var _ domain.ConnectionResolver = (*ConnectionResolverImpl)(nil)
