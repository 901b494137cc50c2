package infra

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

const (
	serviceBasePath = "/exa.language_server_pb.LanguageServerService/"
	probeMethod     = "GetUnleashData"
	statusMethod    = "GetUserStatus"

	// DefaultProbeTimeout bounds each liveness probe and status fetch.
	DefaultProbeTimeout = 5 * time.Second

	maxResponseBytes = 8 << 20
)

// ClientIdentity is the metadata sent with every status request.
type ClientIdentity struct {
	IDEName       string `json:"ideName"`
	ExtensionName string `json:"extensionName"`
	Locale        string `json:"locale"`
}

// DefaultClientIdentity returns the identity quotamon reports to the server.
func DefaultClientIdentity() ClientIdentity {
	return ClientIdentity{
		IDEName:       "antigravity",
		ExtensionName: "quotamon",
		Locale:        "en",
	}
}

// LanguageServerClient speaks the language server's local JSON-over-HTTPS API.
// The server uses a self-signed certificate on 127.0.0.1, so verification is off.
type LanguageServerClient struct {
	client   *http.Client
	host     string
	identity ClientIdentity
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLanguageServerClient creates a client for 127.0.0.1.
func NewLanguageServerClient(identity ClientIdentity, timeout time.Duration, logger *zap.Logger) *LanguageServerClient {
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // loopback IPC with self-signed cert
		DisableKeepAlives: true,
	}
	return NewLanguageServerClientWithDeps(&http.Client{Transport: transport}, "127.0.0.1", identity, timeout, logger)
}

// NewLanguageServerClientWithDeps creates a client with an injected HTTP client and host (for testing).
func NewLanguageServerClientWithDeps(
	client *http.Client,
	host string,
	identity ClientIdentity,
	timeout time.Duration,
	logger *zap.Logger,
) *LanguageServerClient {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LanguageServerClient{
		client:   client,
		host:     host,
		identity: identity,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe calls the cheap diagnostic method. It succeeds only on HTTP 200 with a JSON body.
func (c *LanguageServerClient) Probe(ctx context.Context, port int, token string) error {
	body, err := c.call(ctx, port, token, probeMethod, map[string]any{"context": map[string]any{}})
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", domain.ErrProbeFailed, port, err)
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: port %d: body is not JSON", domain.ErrProbeFailed, port)
	}
	return nil
}

// FetchStatus calls the status method and returns the raw body.
func (c *LanguageServerClient) FetchStatus(ctx context.Context, conn domain.ConnectionDescriptor) ([]byte, error) {
	payload := map[string]any{"metadata": c.identity}
	body, err := c.call(ctx, conn.Port, conn.Token, statusMethod, payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("status fetched",
		zap.Int("port", conn.Port),
		zap.Int("bytes", len(body)))
	return body, nil
}

func (c *LanguageServerClient) call(ctx context.Context, port int, token, method string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("https://%s:%d%s%s", c.host, port, serviceBasePath, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authentication-Token", token)
	req.Header.Set("Protocol-Version", "1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrUnexpectedStatus, method, resp.StatusCode)
	}
	return body, nil
}

// connectionPatterns catch transport failures whose errno was lost in wrapping.
var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"server closed",
	"eof",
}

// ClassifyTransportError wraps connection-class failures with domain.ErrConnectionLost.
// Anything else is returned wrapped as-is.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", domain.ErrConnectionLost, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func isConnectionError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE, syscall.ECONNABORTED:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, p := range connectionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	_ domain.EndpointProber = (*LanguageServerClient)(nil)
	_ domain.StatusFetcher  = (*LanguageServerClient)(nil)
)
