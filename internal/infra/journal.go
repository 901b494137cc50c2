package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const journalDBName = "journal.db"

// EncryptedJournal implements domain.SnapshotJournal
// using a SQLCipher encrypted SQLite database.
type EncryptedJournal struct {
	db     *sql.DB
	dbPath string
}

// OpenJournal opens (or creates) the journal in dataDir, keyed with key.
func OpenJournal(dataDir string, key []byte) (*EncryptedJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Single connection: the journal has one writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &EncryptedJournal{db: db, dbPath: dbPath}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables (wrong key?): %w", err)
	}
	return j, nil
}

func (j *EncryptedJournal) createTables() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at INTEGER NOT NULL,
		plan TEXT NOT NULL DEFAULT '',
		prompt_available REAL,
		prompt_monthly REAL,
		groups_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at);
	`)
	return err
}

// Append stores the report's plan, prompt credits and per-group figures.
func (j *EncryptedJournal) Append(ctx context.Context, report domain.Report) error {
	groups := make([]domain.JournalGroup, 0, len(report.Groups))
	for _, g := range report.Groups {
		groups = append(groups, domain.JournalGroup{
			ID:                g.ID,
			WorstRemainingPct: g.WorstRemainingPct,
			Light:             g.Light,
			IsLongReset:       g.IsLongReset,
		})
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("failed to encode groups: %w", err)
	}

	var available, monthly sql.NullFloat64
	if c := report.Snapshot.PromptCredits; c != nil {
		available = sql.NullFloat64{Float64: c.Available, Valid: true}
		monthly = sql.NullFloat64{Float64: c.Monthly, Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO snapshots (captured_at, plan, prompt_available, prompt_monthly, groups_json)
		VALUES (?, ?, ?, ?, ?)`,
		report.Snapshot.CapturedAt.UnixMilli(), report.Snapshot.Plan, available, monthly, string(groupsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *EncryptedJournal) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT captured_at, plan, prompt_available, prompt_monthly, groups_json
		FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			capturedAt         int64
			plan, groupsJSON   string
			available, monthly sql.NullFloat64
		)
		if err := rows.Scan(&capturedAt, &plan, &available, &monthly, &groupsJSON); err != nil {
			return nil, err
		}

		entry := domain.JournalEntry{
			CapturedAt: time.UnixMilli(capturedAt),
			Plan:       plan,
		}
		if available.Valid && monthly.Valid {
			entry.PromptCredits = domain.NewCreditBalance(available.Float64, monthly.Float64)
		}
		if err := json.Unmarshal([]byte(groupsJSON), &entry.Groups); err != nil {
			return nil, fmt.Errorf("failed to decode groups: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Prune deletes entries captured before the cutoff.
func (j *EncryptedJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return result.RowsAffected()
}

// Path returns the database file path.
func (j *EncryptedJournal) Path() string {
	return j.dbPath
}

// Close releases the database connection.
func (j *EncryptedJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

var _ domain.SnapshotJournal = (*EncryptedJournal)(nil)
