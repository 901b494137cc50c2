package infra

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// mockCommandRunner is a test double for CommandRunner keyed by command name.
type mockCommandRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

func (m *mockCommandRunner) Set(name, output string) {
	m.outputs[name] = []byte(output)
}

func (m *mockCommandRunner) Fail(name string, err error) {
	m.errs[name] = err
}

func (m *mockCommandRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	out, ok := m.outputs[name]
	if !ok {
		return nil, errors.New("executable file not found")
	}
	return out, nil
}

func (m *mockCommandRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
