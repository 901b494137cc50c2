package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

const (
	journalKeyFile = "journal.key"
	journalKeySize = 32 // SQLCipher raw key

	// JournalKeyEnv supplies the journal key as hex, bypassing the key file.
	JournalKeyEnv = "QUOTAMON_JOURNAL_KEY"
)

// FileKeyProvider keeps the journal key hex-encoded in a 0600 file.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, journalKeyFile)}
}

// GetKey reads and validates the key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal key: %w", err)
	}
	return decodeJournalKey(string(raw))
}

// StoreKey writes the key, creating the data directory if needed.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != journalKeySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), journalKeySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(p.keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write journal key: %w", err)
	}
	return nil
}

// KeyExists reports whether the key file is present.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads the key from QUOTAMON_JOURNAL_KEY. It is read-only.
type EnvKeyProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvKeyProvider creates a provider backed by the process environment.
func NewEnvKeyProvider() *EnvKeyProvider {
	return &EnvKeyProvider{lookup: os.LookupEnv}
}

// GetKey decodes the hex key from the environment.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	v, ok := p.lookup(JournalKeyEnv)
	if !ok {
		return nil, fmt.Errorf("%s is not set", JournalKeyEnv)
	}
	return decodeJournalKey(v)
}

// StoreKey always fails; environment keys are managed by the user.
func (p *EnvKeyProvider) StoreKey(_ []byte) error {
	return fmt.Errorf("cannot store journal key in %s", JournalKeyEnv)
}

// KeyExists reports whether the variable is set.
func (p *EnvKeyProvider) KeyExists() bool {
	_, ok := p.lookup(JournalKeyEnv)
	return ok
}

// SelectKeyProvider prefers the environment over the key file.
func SelectKeyProvider(dataDir string) domain.KeyProvider {
	if env := NewEnvKeyProvider(); env.KeyExists() {
		return env
	}
	return NewFileKeyProvider(dataDir)
}

// GenerateJournalKey creates a random 256-bit key.
func GenerateJournalKey() ([]byte, error) {
	key := make([]byte, journalKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate journal key: %w", err)
	}
	return key, nil
}

// EnsureJournalKey returns the existing key or generates and stores a new one.
func EnsureJournalKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateJournalKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func decodeJournalKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode journal key: %w", err)
	}
	if len(key) != journalKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), journalKeySize)
	}
	return key, nil
}

var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
