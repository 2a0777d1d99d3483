package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/discovery-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &SQLiteStore{db: db, opts: o}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contractor_knowledge (
	registry_number TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	entity          TEXT NOT NULL,
	capture_source  TEXT NOT NULL DEFAULT '',
	last_verified   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS email_knowledge (
	email           TEXT NOT NULL,
	registry_number TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	confidence      INTEGER NOT NULL,
	rationale       TEXT NOT NULL DEFAULT '',
	last_verified   DATETIME NOT NULL,
	PRIMARY KEY (email, registry_number)
);

CREATE INDEX IF NOT EXISTS idx_contractor_knowledge_verified ON contractor_knowledge(last_verified);
CREATE INDEX IF NOT EXISTS idx_email_knowledge_registry ON email_knowledge(registry_number);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetContractor(ctx context.Context, registryNumber string) (*ContractorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity, capture_source, last_verified FROM contractor_knowledge WHERE registry_number = ?`,
		normalizeRegistry(registryNumber),
	)

	var rec ContractorRecord
	var entityJSON string
	err := row.Scan(&entityJSON, &rec.CaptureSource, &rec.LastVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get contractor")
	}
	if err := json.Unmarshal([]byte(entityJSON), &rec.Entity); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal entity")
	}
	return &rec, nil
}

func (s *SQLiteStore) UpsertContractor(ctx context.Context, rec ContractorRecord) (bool, error) {
	key := normalizeRegistry(rec.Entity.RegistryNumber)
	if key == "" || !contractorStorable(rec.Entity) {
		return false, nil
	}
	if rec.LastVerified.IsZero() {
		rec.LastVerified = s.opts.now()
	}

	entityJSON, err := json.Marshal(rec.Entity)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal entity")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contractor_knowledge (registry_number, name, entity, capture_source, last_verified)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(registry_number) DO UPDATE SET
			name = excluded.name,
			entity = excluded.entity,
			capture_source = excluded.capture_source,
			last_verified = excluded.last_verified`,
		key, rec.Entity.Name, string(entityJSON), rec.CaptureSource, rec.LastVerified.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert contractor %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) GetEmails(ctx context.Context, registryNumber string) ([]EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, registry_number, source, source_url, confidence, rationale, last_verified
		 FROM email_knowledge WHERE registry_number = ?
		 ORDER BY confidence DESC, last_verified DESC`,
		normalizeRegistry(registryNumber),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get emails")
	}
	defer rows.Close() //nolint:errcheck

	var out []EmailRecord
	for rows.Next() {
		var r EmailRecord
		var source string
		if err := rows.Scan(&r.Email, &r.RegistryNumber, &source, &r.SourceURL, &r.Confidence, &r.Rationale, &r.LastVerified); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		r.Source = model.SourceCategory(source)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get emails iterate")
}

func (s *SQLiteStore) UpsertEmail(ctx context.Context, rec EmailRecord) (bool, error) {
	rec.Email = model.NormalizeEmail(rec.Email)
	rec.RegistryNumber = normalizeRegistry(rec.RegistryNumber)
	if rec.RegistryNumber == "" || !emailStorable(rec, s.opts.minConfidence) {
		return false, nil
	}
	if rec.LastVerified.IsZero() {
		rec.LastVerified = s.opts.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_knowledge (email, registry_number, source, source_url, confidence, rationale, last_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email, registry_number) DO UPDATE SET
			source = excluded.source,
			source_url = excluded.source_url,
			confidence = excluded.confidence,
			rationale = excluded.rationale,
			last_verified = excluded.last_verified
		 WHERE excluded.confidence > email_knowledge.confidence`,
		rec.Email, rec.RegistryNumber, string(rec.Source), rec.SourceURL, rec.Confidence, rec.Rationale, rec.LastVerified.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert email %s", rec.Email)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM contractor_knowledge WHERE last_verified < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale contractors")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}
