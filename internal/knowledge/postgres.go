package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	opts options
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts ...Option) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, opts...), nil
}

func newPostgresWithPool(pool Pool, opts ...Option) *PostgresStore {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &PostgresStore{pool: pool, opts: o}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contractor_knowledge (
	registry_number TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	entity          JSONB NOT NULL,
	capture_source  TEXT NOT NULL DEFAULT '',
	last_verified   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS email_knowledge (
	email           TEXT NOT NULL,
	registry_number TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	confidence      INTEGER NOT NULL,
	rationale       TEXT NOT NULL DEFAULT '',
	last_verified   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (email, registry_number)
);

CREATE INDEX IF NOT EXISTS idx_contractor_knowledge_verified ON contractor_knowledge(last_verified);
CREATE INDEX IF NOT EXISTS idx_email_knowledge_registry ON email_knowledge(registry_number);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetContractor(ctx context.Context, registryNumber string) (*ContractorRecord, error) {
	var rec ContractorRecord
	var entityJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entity, capture_source, last_verified FROM contractor_knowledge WHERE registry_number = $1`,
		normalizeRegistry(registryNumber),
	).Scan(&entityJSON, &rec.CaptureSource, &rec.LastVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get contractor")
	}
	if err := json.Unmarshal(entityJSON, &rec.Entity); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal entity")
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertContractor(ctx context.Context, rec ContractorRecord) (bool, error) {
	key := normalizeRegistry(rec.Entity.RegistryNumber)
	if key == "" || !contractorStorable(rec.Entity) {
		return false, nil
	}
	if rec.LastVerified.IsZero() {
		rec.LastVerified = s.opts.now()
	}

	entityJSON, err := json.Marshal(rec.Entity)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal entity")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contractor_knowledge (registry_number, name, entity, capture_source, last_verified)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (registry_number) DO UPDATE SET
			name = EXCLUDED.name,
			entity = EXCLUDED.entity,
			capture_source = EXCLUDED.capture_source,
			last_verified = EXCLUDED.last_verified`,
		key, rec.Entity.Name, entityJSON, rec.CaptureSource, rec.LastVerified.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert contractor %s", key)
	}
	return true, nil
}

func (s *PostgresStore) GetEmails(ctx context.Context, registryNumber string) ([]EmailRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, registry_number, source, source_url, confidence, rationale, last_verified
		 FROM email_knowledge WHERE registry_number = $1
		 ORDER BY confidence DESC, last_verified DESC`,
		normalizeRegistry(registryNumber),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get emails")
	}
	defer rows.Close()

	var out []EmailRecord
	for rows.Next() {
		var r EmailRecord
		var source string
		if err := rows.Scan(&r.Email, &r.RegistryNumber, &source, &r.SourceURL, &r.Confidence, &r.Rationale, &r.LastVerified); err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		r.Source = model.SourceCategory(source)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get emails iterate")
}

func (s *PostgresStore) UpsertEmail(ctx context.Context, rec EmailRecord) (bool, error) {
	rec.Email = model.NormalizeEmail(rec.Email)
	rec.RegistryNumber = normalizeRegistry(rec.RegistryNumber)
	if rec.RegistryNumber == "" || !emailStorable(rec, s.opts.minConfidence) {
		return false, nil
	}
	if rec.LastVerified.IsZero() {
		rec.LastVerified = s.opts.now()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO email_knowledge (email, registry_number, source, source_url, confidence, rationale, last_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (email, registry_number) DO UPDATE SET
			source = EXCLUDED.source,
			source_url = EXCLUDED.source_url,
			confidence = EXCLUDED.confidence,
			rationale = EXCLUDED.rationale,
			last_verified = EXCLUDED.last_verified
		 WHERE EXCLUDED.confidence > email_knowledge.confidence`,
		rec.Email, rec.RegistryNumber, string(rec.Source), rec.SourceURL, rec.Confidence, rec.Rationale, rec.LastVerified.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert email %s", rec.Email)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM contractor_knowledge WHERE last_verified < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale contractors")
	}
	return int(tag.RowsAffected()), nil
}
