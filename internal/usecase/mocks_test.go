package usecase

import (
	"context"
	"sync"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// mockPlatform implements domain.Platform for testing
type mockPlatform struct {
	candidates []domain.ProcessCandidate
	ports      map[int][]int
}

func (m *mockPlatform) EnumerateCandidates(context.Context) []domain.ProcessCandidate {
	return m.candidates
}

func (m *mockPlatform) ListeningPorts(_ context.Context, pid int) []int {
	return m.ports[pid]
}

// mockProber implements domain.EndpointProber, succeeding for listed ports.
type mockProber struct {
	mu     sync.Mutex
	live   map[int]string // port -> accepted token
	probed []int
}

func (m *mockProber) Probe(_ context.Context, port int, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probed = append(m.probed, port)
	if tok, ok := m.live[port]; ok && tok == token {
		return nil
	}
	return domain.ErrProbeFailed
}

// stubInvocationParser parses "token=<t> port=<p>" shaped invocations.
type stubInvocationParser struct {
	byInvocation map[string]domain.Invocation
}

func (s *stubInvocationParser) Parse(cmdline string) (domain.Invocation, bool) {
	inv, ok := s.byInvocation[cmdline]
	return inv, ok && inv.Token != ""
}
