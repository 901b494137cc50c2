// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

const servicePrefix = "/exa.language_server_pb.LanguageServerService/"

// Model is one entry of the fake status payload.
type Model struct {
	Label     string
	ModelID   string
	Fraction  *float64 // nil omits remainingFraction
	ResetTime time.Time
}

// Fraction returns a pointer for Model.Fraction.
func Fraction(f float64) *float64 { return &f }

// FakeLanguageServer is a TLS server on 127.0.0.1 speaking the language
// server's status API. It can be restarted on a new port.
type FakeLanguageServer struct {
	Token string
	PID   int

	mu         sync.Mutex
	srv        *httptest.Server
	plan       string
	models     []Model
	statusCode int
	rawStatus  []byte
	calls      map[string]int
}

// NewFakeLanguageServer starts a fake server that accepts token.
func NewFakeLanguageServer(token string) *FakeLanguageServer {
	f := &FakeLanguageServer{
		Token:      token,
		PID:        4242,
		plan:       "Pro",
		statusCode: http.StatusOK,
		calls:      make(map[string]int),
	}
	f.start()
	return f
}

func (f *FakeLanguageServer) start() {
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.handle))
}

func (f *FakeLanguageServer) handle(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, servicePrefix)

	f.mu.Lock()
	f.calls[method]++
	code, raw := f.statusCode, f.rawStatus
	payload := f.payloadLocked()
	f.mu.Unlock()

	if r.Method != http.MethodPost || r.Header.Get("Authentication-Token") != f.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "GetUnleashData":
		_, _ = w.Write([]byte(`{"unleashData":{}}`))
	case "GetUserStatus":
		w.WriteHeader(code)
		if raw != nil {
			_, _ = w.Write(raw)
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakeLanguageServer) payloadLocked() map[string]any {
	configs := make([]map[string]any, 0, len(f.models))
	for _, m := range f.models {
		quota := map[string]any{}
		if m.Fraction != nil {
			quota["remainingFraction"] = *m.Fraction
		}
		if !m.ResetTime.IsZero() {
			quota["resetTime"] = m.ResetTime.UTC().Format(time.RFC3339)
		}
		configs = append(configs, map[string]any{
			"label":        m.Label,
			"modelOrAlias": map[string]any{"model": m.ModelID},
			"quotaInfo":    quota,
		})
	}
	return map[string]any{
		"userStatus": map[string]any{
			"planStatus": map[string]any{
				"planInfo": map[string]any{
					"planName":             f.plan,
					"monthlyPromptCredits": 1000,
					"monthlyFlowCredits":   "2000",
				},
				"availablePromptCredits": 400,
				"availableFlowCredits":   "1500",
			},
			"cascadeModelConfigData": map[string]any{
				"clientModelConfigs": configs,
			},
		},
	}
}

// SetModels replaces the models reported by GetUserStatus.
func (f *FakeLanguageServer) SetModels(models ...Model) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
	f.rawStatus = nil
}

// SetRawStatus makes GetUserStatus answer with body verbatim.
func (f *FakeLanguageServer) SetRawStatus(code int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCode = code
	f.rawStatus = body
}

// Port returns the current listening port, or 0 when stopped.
func (f *FakeLanguageServer) Port() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.srv == nil {
		return 0
	}
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(u.Port())
	return port
}

// Calls returns how often method was called.
func (f *FakeLanguageServer) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Restart stops the server and starts it again on a new port.
func (f *FakeLanguageServer) Restart() {
	f.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start()
}

// Stop shuts the server down.
func (f *FakeLanguageServer) Stop() {
	f.mu.Lock()
	srv := f.srv
	f.srv = nil
	f.mu.Unlock()
	if srv != nil {
		srv.CloseClientConnections()
		srv.Close()
	}
}

// Invocation returns a command line the locator recognises.
func (f *FakeLanguageServer) Invocation() string {
	return fmt.Sprintf("/opt/antigravity/bin/language_server_linux_x64 --enable_lsp --csrf_token %s --extension_server_port %d --app_data_dir antigravity",
		f.Token, f.Port())
}

// FakePlatform reports the fake server as the only candidate. Its listening
// ports include a decoy that refuses connections.
type FakePlatform struct {
	Server *FakeLanguageServer
	Decoy  int
}

// NewFakePlatform creates a platform with a closed decoy port.
func NewFakePlatform(server *FakeLanguageServer) *FakePlatform {
	return &FakePlatform{Server: server, Decoy: closedPort()}
}

// EnumerateCandidates implements domain.Platform.
func (p *FakePlatform) EnumerateCandidates(ctx context.Context) []domain.ProcessCandidate {
	if p.Server.Port() == 0 {
		return nil
	}
	return []domain.ProcessCandidate{{PID: p.Server.PID, Invocation: p.Server.Invocation()}}
}

// ListeningPorts implements domain.Platform.
func (p *FakePlatform) ListeningPorts(ctx context.Context, pid int) []int {
	if pid != p.Server.PID || p.Server.Port() == 0 {
		return nil
	}
	return []int{p.Decoy, p.Server.Port()}
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 1
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

var _ domain.Platform = (*FakePlatform)(nil)
