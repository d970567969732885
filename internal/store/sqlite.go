package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists accounts and model sequences in a local SQLite
// database. Implements Accounts and ModelSequences.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS accounts (
        id TEXT PRIMARY KEY, -- UUID
        provider TEXT NOT NULL,
        email TEXT NOT NULL DEFAULT '',
        credential TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_accounts_provider ON accounts (provider);

    CREATE TABLE IF NOT EXISTS model_sequences (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        provider TEXT NOT NULL,
        model TEXT NOT NULL,
        sequence INTEGER NOT NULL,
        UNIQUE (provider, model)
    );
    `
	_, err := s.db.Exec(schema)

	return err
}

func (s *SQLiteStore) GetByID(id string) (*Account, error) {
	return s.scanAccount(s.db.QueryRow(
		"SELECT id, provider, email, credential, created_at FROM accounts WHERE id = ?", id))
}

func (s *SQLiteStore) FindByProviderEmail(provider, email string) (*Account, error) {
	return s.scanAccount(s.db.QueryRow(
		"SELECT id, provider, email, credential, created_at FROM accounts WHERE provider = ? COLLATE NOCASE AND email = ? COLLATE NOCASE",
		provider, email))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*Account, error) {
	var acct Account

	err := row.Scan(&acct.ID, &acct.Provider, &acct.Email, &acct.Credential, &acct.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("query account: %w", err)
	}

	return &acct, nil
}

func (s *SQLiteStore) ListByProvider(provider string) ([]Account, error) {
	return s.listAccounts(
		"SELECT id, provider, email, credential, created_at FROM accounts WHERE provider = ? COLLATE NOCASE ORDER BY created_at",
		provider)
}

func (s *SQLiteStore) List() ([]Account, error) {
	return s.listAccounts("SELECT id, provider, email, credential, created_at FROM accounts ORDER BY created_at")
}

func (s *SQLiteStore) listAccounts(query string, args ...any) ([]Account, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []Account

	for rows.Next() {
		var acct Account
		if err := rows.Scan(&acct.ID, &acct.Provider, &acct.Email, &acct.Credential, &acct.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}

		out = append(out, acct)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(acct Account) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
        INSERT INTO accounts (id, provider, email, credential, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            provider = excluded.provider,
            email = excluded.email,
            credential = excluded.credential`,
		acct.ID, acct.Provider, acct.Email, acct.Credential, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	return nil
}

func (s *SQLiteStore) BestOverall() (*SequenceEntry, error) {
	return s.scanSequence(s.db.QueryRow(
		"SELECT provider, model, sequence FROM model_sequences ORDER BY sequence ASC LIMIT 1"))
}

func (s *SQLiteStore) BestForProvider(provider string) (*SequenceEntry, error) {
	return s.scanSequence(s.db.QueryRow(
		"SELECT provider, model, sequence FROM model_sequences WHERE provider = ? COLLATE NOCASE ORDER BY sequence ASC LIMIT 1",
		provider))
}

func (s *SQLiteStore) scanSequence(row *sql.Row) (*SequenceEntry, error) {
	var entry SequenceEntry

	err := row.Scan(&entry.Provider, &entry.Model, &entry.Sequence)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("query model sequence: %w", err)
	}

	return &entry, nil
}

// SetSequence inserts or updates one model-preference row.
func (s *SQLiteStore) SetSequence(entry SequenceEntry) error {
	_, err := s.db.Exec(`
        INSERT INTO model_sequences (provider, model, sequence)
        VALUES (?, ?, ?)
        ON CONFLICT (provider, model) DO UPDATE SET sequence = excluded.sequence`,
		entry.Provider, entry.Model, entry.Sequence)
	if err != nil {
		return fmt.Errorf("set model sequence: %w", err)
	}

	return nil
}
