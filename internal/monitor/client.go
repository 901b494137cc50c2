// Package monitor owns the polling lifecycle against the language server:
// scheduled fetches, manual refresh, and re-resolution when the endpoint moves.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// State is the connection state of a QuotaClient.
type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Update is the outcome of one fetch cycle: exactly one of Snapshot or Err is set.
type Update struct {
	Snapshot *domain.Snapshot
	Err      error
	At       time.Time
}

// Status is a point-in-time view of the client.
type Status struct {
	State               State
	PID                 int
	Port                int
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastError           string
}

// Config holds client configuration.
type Config struct {
	PollInterval time.Duration // Scheduled fetch interval (default 30s)
	UpdateBuffer int           // Updates channel capacity
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		UpdateBuffer: 16,
	}
}

// QuotaClient polls the language server and emits one Update per fetch cycle.
// Cycles never overlap: scheduled ticks are skipped while a cycle runs, and a
// manual Refresh waits for the running cycle before starting its own.
type QuotaClient struct {
	config   Config
	resolver domain.ConnectionResolver
	fetcher  domain.StatusFetcher
	parser   domain.SnapshotParser
	now      func() time.Time
	logger   *zap.Logger

	cycleMu sync.Mutex // single-flight guard for fetch cycles

	mu          sync.Mutex // guards everything below
	state       State
	conn        domain.ConnectionDescriptor
	failures    int
	lastSuccess time.Time
	lastErr     error
	started     bool
	closed      bool
	updates     chan Update
	stop        chan struct{}
}

// NewQuotaClient creates a client.
func NewQuotaClient(
	config Config,
	resolver domain.ConnectionResolver,
	fetcher domain.StatusFetcher,
	parser domain.SnapshotParser,
	logger *zap.Logger,
) *QuotaClient {
	return NewQuotaClientWithClock(config, resolver, fetcher, parser, time.Now, logger)
}

// NewQuotaClientWithClock creates a client with an injected clock (for testing).
func NewQuotaClientWithClock(
	config Config,
	resolver domain.ConnectionResolver,
	fetcher domain.StatusFetcher,
	parser domain.SnapshotParser,
	now func() time.Time,
	logger *zap.Logger,
) *QuotaClient {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.UpdateBuffer <= 0 {
		config.UpdateBuffer = DefaultConfig().UpdateBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaClient{
		config:   config,
		resolver: resolver,
		fetcher:  fetcher,
		parser:   parser,
		now:      now,
		logger:   logger,
		state:    StateUninitialized,
		updates:  make(chan Update, config.UpdateBuffer),
		stop:     make(chan struct{}),
	}
}

// Updates returns the update stream. It is closed by Shutdown.
func (c *QuotaClient) Updates() <-chan Update {
	return c.updates
}

// Initialize resolves the connection once. It emits nothing.
// A failure leaves the client Disconnected and returns domain.ErrServiceNotFound;
// polling may still be started and will retry resolution each cycle.
func (c *QuotaClient) Initialize(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.isClosed() {
		return domain.ErrClientClosed
	}

	conn, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.disconnect(err)
		return notFound(err)
	}
	c.connect(conn)
	return nil
}

// Start runs the scheduled polling loop in the background until ctx is
// canceled or Shutdown is called.
func (c *QuotaClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("quota client already started")
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *QuotaClient) run(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.logger.Info("quota polling started", zap.Duration("interval", c.config.PollInterval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("quota polling stopping")
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick runs a scheduled cycle unless one is already in flight.
func (c *QuotaClient) tick(ctx context.Context) {
	if !c.cycleMu.TryLock() {
		c.logger.Debug("fetch cycle in flight, skipping tick")
		return
	}
	defer c.cycleMu.Unlock()

	if c.isClosed() {
		return
	}
	c.cycle(ctx)
}

// Refresh runs one cycle out of band, after any in-flight cycle completes.
// The update is emitted on the stream and also returned.
func (c *QuotaClient) Refresh(ctx context.Context) (Update, error) {
	if c.isClosed() {
		return Update{}, domain.ErrClientClosed
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.isClosed() {
		return Update{}, domain.ErrClientClosed
	}
	return c.cycle(ctx), nil
}

// Shutdown stops the schedule and closes the update stream. It does not wait
// for an in-flight fetch; that cycle's result is discarded.
func (c *QuotaClient) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
	close(c.updates)
	c.logger.Debug("quota client shut down")
}

// Status returns the current connection status.
func (c *QuotaClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:               c.state,
		PID:                 c.conn.PID,
		Port:                c.conn.Port,
		ConsecutiveFailures: c.failures,
		LastSuccess:         c.lastSuccess,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// cycle performs one fetch cycle. Caller holds cycleMu.
//
// Without a descriptor the cycle starts with one resolution attempt. A
// connection-class failure on an established descriptor triggers exactly one
// re-resolution and one retry. Other failures are reported as-is.
func (c *QuotaClient) cycle(ctx context.Context) Update {
	conn := c.current()

	if conn.IsZero() {
		resolved, err := c.resolver.Resolve(ctx)
		if err != nil {
			c.disconnect(err)
			return c.fail(notFound(err))
		}
		c.connect(resolved)

		snap, err := c.fetch(ctx, resolved)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionLost) {
				c.disconnect(err)
			}
			return c.fail(err)
		}
		return c.succeed(snap)
	}

	snap, err := c.fetch(ctx, conn)
	if err == nil {
		return c.succeed(snap)
	}
	if !errors.Is(err, domain.ErrConnectionLost) {
		return c.fail(err)
	}

	c.logger.Info("connection lost, re-resolving",
		zap.Int("port", conn.Port),
		zap.Error(err))
	c.setState(StateReconnecting)

	resolved, rerr := c.resolver.Resolve(ctx)
	if rerr != nil {
		c.disconnect(rerr)
		return c.fail(fmt.Errorf("%w; re-resolution failed: %w", err, rerr))
	}
	c.connect(resolved)

	snap, err = c.fetch(ctx, resolved)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionLost) {
			c.disconnect(err)
		}
		return c.fail(err)
	}
	return c.succeed(snap)
}

func (c *QuotaClient) fetch(ctx context.Context, conn domain.ConnectionDescriptor) (domain.Snapshot, error) {
	raw, err := c.fetcher.FetchStatus(ctx, conn)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.parser.Parse(raw, c.now())
}

func (c *QuotaClient) current() domain.ConnectionDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *QuotaClient) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// connect replaces the descriptor wholesale.
func (c *QuotaClient) connect(conn domain.ConnectionDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		c.logger.Info("connected to language server",
			zap.Int("pid", conn.PID),
			zap.Int("port", conn.Port))
	}
	c.conn = conn
	c.state = StateConnected
}

func (c *QuotaClient) disconnect(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		c.logger.Warn("language server unavailable", zap.Error(cause))
	}
	c.conn = domain.ConnectionDescriptor{}
	c.state = StateDisconnected
}

func (c *QuotaClient) succeed(snap domain.Snapshot) Update {
	c.mu.Lock()
	c.failures = 0
	c.lastErr = nil
	c.lastSuccess = snap.CapturedAt
	c.mu.Unlock()

	return c.emit(Update{Snapshot: &snap, At: snap.CapturedAt})
}

func (c *QuotaClient) fail(err error) Update {
	c.mu.Lock()
	c.failures++
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Debug("fetch cycle failed", zap.Error(err))
	return c.emit(Update{Err: err, At: c.now()})
}

// emit delivers without blocking; updates after Shutdown are dropped.
func (c *QuotaClient) emit(u Update) Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return u
	}
	select {
	case c.updates <- u:
	default:
		c.logger.Warn("update stream full, dropping update")
	}
	return u
}

func notFound(err error) error {
	if errors.Is(err, domain.ErrServiceNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrServiceNotFound, err)
}

func (c *QuotaClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
