package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const instanceFileName = "instance.json"

// ErrAlreadyRunning is returned when another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another quotamon daemon is running")

// errLocked is returned by tryLock when the lock is held elsewhere.
var errLocked = errors.New("lock held")

// InstanceInfo describes the daemon that owns the data directory.
type InstanceInfo struct {
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	Listen    string `json:"listen,omitempty"`
	Version   string `json:"version,omitempty"`
	StartedAt int64  `json:"started_at"`
}

// InstanceRegistry records the running daemon in a JSON file next to the journal.
// Ownership is an exclusive lock on a sibling .lock file, released by the OS if the
// daemon dies, so a leftover JSON file never blocks a new daemon.
type InstanceRegistry struct {
	path string
	now  func() time.Time
}

// NewInstanceRegistry creates a registry in dataDir.
func NewInstanceRegistry(dataDir string) *InstanceRegistry {
	return &InstanceRegistry{
		path: filepath.Join(dataDir, instanceFileName),
		now:  time.Now,
	}
}

// Path returns the instance file path.
func (r *InstanceRegistry) Path() string {
	return r.path
}

// InstanceLease is held by the running daemon until Release.
type InstanceLease struct {
	registry *InstanceRegistry
	lockFile *os.File
	info     InstanceInfo
}

// Info returns what the lease recorded.
func (l *InstanceLease) Info() InstanceInfo {
	return l.info
}

// Acquire takes the instance lock and records info. PID and StartedAt are filled in
// when zero.
func (r *InstanceRegistry) Acquire(info InstanceInfo) (*InstanceLease, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := tryLock(lockFile); err != nil {
		lockFile.Close()
		if !errors.Is(err, errLocked) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if owner, _ := r.Current(); owner != nil {
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, owner.PID, owner.Command)
		}
		return nil, ErrAlreadyRunning
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt == 0 {
		info.StartedAt = r.now().Unix()
	}
	if err := r.atomicWrite(info); err != nil {
		_ = unlock(lockFile)
		lockFile.Close()
		return nil, fmt.Errorf("failed to write instance file: %w", err)
	}

	return &InstanceLease{registry: r, lockFile: lockFile, info: info}, nil
}

// Release removes the instance file and drops the lock.
func (l *InstanceLease) Release() error {
	if l == nil || l.lockFile == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(l.registry.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := unlock(l.lockFile); err != nil {
		errs = append(errs, err)
	}
	if err := l.lockFile.Close(); err != nil {
		errs = append(errs, err)
	}
	l.lockFile = nil
	return errors.Join(errs...)
}

// Current returns the recorded instance, or nil when no file exists.
func (r *InstanceRegistry) Current() (*InstanceInfo, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info InstanceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse instance file: %w", err)
	}
	return &info, nil
}

// Running returns the recorded instance only if its process is still alive.
func (r *InstanceRegistry) Running(ctx context.Context) (*InstanceInfo, error) {
	info, err := r.Current()
	if err != nil || info == nil {
		return nil, err
	}
	alive, err := process.PidExistsWithContext(ctx, int32(info.PID))
	if err != nil {
		return nil, fmt.Errorf("failed to check pid %d: %w", info.PID, err)
	}
	if !alive {
		return nil, nil
	}
	return info, nil
}

// atomicWrite writes the instance file via temp file and rename.
func (r *InstanceRegistry) atomicWrite(info InstanceInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
