package domain

import (
	"context"
	"time"
)

// Platform enumerates processes and listening sockets.
// Implementation: gopsutil first, OS-specific command fallbacks (selected by build tags).
// Both methods absorb failures and return an empty result instead of an error.
type Platform interface {
	// EnumerateCandidates returns processes carrying the language-server markers,
	// in the order the OS reported them.
	EnumerateCandidates(ctx context.Context) []ProcessCandidate

	// ListeningPorts returns the TCP ports in LISTEN state owned by pid.
	ListeningPorts(ctx context.Context, pid int) []int
}

// InvocationParser extracts the auth token and port hint from a command line.
type InvocationParser interface {
	// Parse returns ok=false when no token is present.
	Parse(cmdline string) (Invocation, bool)
}

// EndpointProber performs the cheap authenticated liveness check.
type EndpointProber interface {
	// Probe returns nil only for HTTP 200 with a JSON body.
	Probe(ctx context.Context, port int, token string) error
}

// StatusFetcher issues the status request against a resolved endpoint.
type StatusFetcher interface {
	// FetchStatus returns the raw response body. Transport failures wrap
	// ErrConnectionLost; non-200 answers wrap ErrUnexpectedStatus.
	FetchStatus(ctx context.Context, conn ConnectionDescriptor) ([]byte, error)
}

// ConnectionResolver finds a working connection descriptor.
type ConnectionResolver interface {
	// Resolve returns ErrServiceNotFound when nothing answers.
	Resolve(ctx context.Context) (ConnectionDescriptor, error)
}

// SnapshotParser turns a raw status payload into a Snapshot.
type SnapshotParser interface {
	Parse(raw []byte, now time.Time) (Snapshot, error)
}

// JournalEntry is one persisted report summary.
type JournalEntry struct {
	CapturedAt    time.Time
	Plan          string
	PromptCredits *CreditBalance
	Groups        []JournalGroup
}

// JournalGroup is the persisted figure of one group.
type JournalGroup struct {
	ID                string  `json:"id"`
	WorstRemainingPct float64 `json:"worst_remaining_pct"`
	Light             Light   `json:"light"`
	IsLongReset       bool    `json:"is_long_reset"`
}

// SnapshotJournal keeps a local history of reports.
// Implementation: SQLCipher encrypted SQLite database.
type SnapshotJournal interface {
	// Append stores a report summary.
	Append(ctx context.Context, report Report) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)

	// Prune removes entries captured before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
