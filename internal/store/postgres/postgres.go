// Package postgres stores each run in its own schema (snap_<run>) and
// publishes the latest one through views in the "latest" schema. The
// etl_snapshots registry in the public schema records every artifact.
//
// DDL is transactional: a run that fails before commit leaves no schema and
// no registry row behind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/inseguridad/internal/config"
	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/store"
)

// lockKey identifies the single-writer advisory lock.
const lockKey int64 = 0x1A5E_9001

const latestSchema = "latest"

var registryDDL = []string{
	`CREATE TABLE IF NOT EXISTS etl_snapshots (
		run_id TEXT PRIMARY KEY,
		schema_name TEXT NOT NULL UNIQUE,
		correlation_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		is_latest BOOLEAN NOT NULL DEFAULT false,
		geografia INTEGER NOT NULL DEFAULT 0,
		indicadores INTEGER NOT NULL DEFAULT 0,
		datos_medicion INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS etl_snapshots_one_latest ON etl_snapshots (is_latest) WHERE is_latest`,
	`CREATE SCHEMA IF NOT EXISTS ` + latestSchema,
}

var ddl = []string{
	`CREATE TABLE geografia (
		id_geografia BIGINT PRIMARY KEY,
		nivel TEXT NOT NULL,
		nombre TEXT NOT NULL,
		id_padre BIGINT REFERENCES geografia (id_geografia),
		codigo_dane TEXT,
		UNIQUE (nivel, nombre, id_padre)
	)`,
	`CREATE TABLE indicadores (
		id_indicador BIGINT PRIMARY KEY,
		nombre_indicador TEXT NOT NULL,
		tipo_dato TEXT NOT NULL,
		tipo_de_medida TEXT NOT NULL,
		UNIQUE (nombre_indicador, tipo_dato, tipo_de_medida)
	)`,
	`CREATE TABLE datos_medicion (
		id_medicion BIGINT PRIMARY KEY,
		id_geografia BIGINT NOT NULL REFERENCES geografia (id_geografia),
		id_indicador BIGINT NOT NULL REFERENCES indicadores (id_indicador),
		año INTEGER NOT NULL,
		valor DOUBLE PRECISION NOT NULL,
		UNIQUE (id_geografia, id_indicador, año)
	)`,
	`CREATE TABLE snapshot_meta (
		run_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX idx_geografia_nivel ON geografia (nivel)`,
	`CREATE INDEX idx_geografia_nombre ON geografia (nombre)`,
	`CREATE INDEX idx_medicion_geografia ON datos_medicion (id_geografia)`,
	`CREATE INDEX idx_medicion_indicador ON datos_medicion (id_indicador)`,
	`CREATE INDEX idx_medicion_año ON datos_medicion (año)`,
}

// Views published in the latest schema.
var publishedTables = []string{"geografia", "indicadores", "datos_medicion", "snapshot_meta"}

// Store implements snapshot.Store on a PostgreSQL database.
type Store struct {
	pool *pgxpool.Pool
	name string
}

// Open connects using the pool settings in cfg and ensures the registry exists.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := New(pool)
	if u, err := url.Parse(cfg.URL); err == nil {
		s.name = strings.TrimPrefix(u.Path, "/")
	}
	if err := s.ensureRegistry(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Callers must have created the registry.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ensureRegistry(ctx context.Context) error {
	for _, stmt := range registryDDL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create registry: %w", err)
		}
	}
	return nil
}

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SchemaName returns the artifact schema of runID.
func SchemaName(runID string) string {
	var b strings.Builder
	b.WriteString("snap_")
	for _, r := range strings.ToLower(runID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// =============================================================================
// Lock
// =============================================================================

// Lock polls pg_try_advisory_lock on a dedicated connection. The lock is
// session scoped, so the connection is held until release.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey).Scan(&ok); err != nil {
			conn.Release()
			return nil, fmt.Errorf("advisory lock: %w", err)
		}
		if ok {
			return func() {
				_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
				conn.Release()
			}, nil
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, fmt.Errorf("could not obtain lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Write
// =============================================================================

func (s *Store) Begin(ctx context.Context, meta snapshot.Meta) (snapshot.Tx, error) {
	schema := SchemaName(meta.RunID)
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, schema).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("schema %s: %w", schema, snapshot.ErrArtifactExists)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &writeTx{tx: tx, schema: schema, meta: meta}, nil
}

type writeTx struct {
	tx     pgx.Tx
	schema string
	meta   snapshot.Meta
	counts snapshot.Counts
}

func (t *writeTx) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA ` + quote(t.schema),
		`SET LOCAL search_path TO ` + quote(t.schema),
	}
	stmts = append(stmts, ddl...)
	for _, stmt := range stmts {
		if _, err := t.tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO snapshot_meta (run_id, correlation_id, created_at) VALUES ($1, $2, $3)`,
		t.meta.RunID, t.meta.CorrelationID, t.meta.CreatedAt); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO public.etl_snapshots (run_id, schema_name, correlation_id, created_at) VALUES ($1, $2, $3, $4)`,
		t.meta.RunID, t.schema, t.meta.CorrelationID, t.meta.CreatedAt)
	return err
}

func (t *writeTx) copy(ctx context.Context, st store.Statement, rows [][]any) error {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{t.schema, st.Table}, st.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return err
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy %s: wrote %d of %d rows", st.Table, n, len(rows))
	}
	return nil
}

func (t *writeTx) InsertEntities(ctx context.Context, rows []core.GeographicEntity) error {
	data := make([][]any, len(rows))
	for i, e := range rows {
		var code *string
		if e.ExternalCode != "" {
			code = &e.ExternalCode
		}
		data[i] = []any{e.ID, e.Level.String(), e.Name, e.ParentID, code}
	}
	t.counts.Entities = len(rows)
	return t.copy(ctx, store.InsertEntity, data)
}

func (t *writeTx) InsertIndicators(ctx context.Context, rows []core.IndicatorDefinition) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.ID, r.Name, r.ValueType, r.MeasureType}
	}
	t.counts.Indicators = len(rows)
	return t.copy(ctx, store.InsertIndicator, data)
}

func (t *writeTx) InsertMeasurements(ctx context.Context, rows []core.Measurement) error {
	data := make([][]any, len(rows))
	for i, m := range rows {
		data[i] = []any{m.ID, m.EntityID, m.IndicatorID, int32(m.Year), m.Value}
	}
	t.counts.Measurements = len(rows)
	return t.copy(ctx, store.InsertMeasurement, data)
}

func (t *writeTx) Commit(ctx context.Context) (string, error) {
	_, err := t.tx.Exec(ctx,
		`UPDATE public.etl_snapshots SET geografia = $2, indicadores = $3, datos_medicion = $4 WHERE run_id = $1`,
		t.meta.RunID, t.counts.Entities, t.counts.Indicators, t.counts.Measurements)
	if err != nil {
		return "", err
	}
	if err := t.tx.Commit(ctx); err != nil {
		return "", err
	}
	return t.schema, nil
}

func (t *writeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// =============================================================================
// Verify / Publish / Discard
// =============================================================================

// Verify runs the quality checks inside a read-only transaction scoped to the run's schema.
func (s *Store) Verify(ctx context.Context, runID string) (snapshot.Quality, error) {
	return s.inspect(ctx, SchemaName(runID))
}

// LatestQuality runs the quality checks against the published views.
func (s *Store) LatestQuality(ctx context.Context) (snapshot.Quality, error) {
	if _, err := s.Latest(ctx); err != nil {
		return snapshot.Quality{}, err
	}
	return s.inspect(ctx, latestSchema)
}

func (s *Store) inspect(ctx context.Context, schema string) (q snapshot.Quality, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return q, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL search_path TO `+quote(schema)); err != nil {
		return q, err
	}

	checks := []struct {
		query string
		dst   *int
	}{
		{store.CountEntities, &q.Counts.Entities},
		{store.CountIndicators, &q.Counts.Indicators},
		{store.CountMeasurements, &q.Counts.Measurements},
		{store.OrphanEntities, &q.OrphanEntities},
		{store.OrphanIndicators, &q.OrphanIndicators},
		{store.OrphanParents, &q.OrphanParents},
		{store.NullValues, &q.NullValues},
		{store.Duplicates, &q.Duplicates},
	}
	for _, c := range checks {
		if err := tx.QueryRow(ctx, c.query).Scan(c.dst); err != nil {
			return q, fmt.Errorf("quality check: %w", err)
		}
	}

	rows, err := tx.Query(ctx, store.LevelSummary)
	if err != nil {
		return q, fmt.Errorf("level summary: %w", err)
	}
	q.ByLevel, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (snapshot.LevelSummary, error) {
		var ls snapshot.LevelSummary
		err := row.Scan(&ls.Level, &ls.Entities, &ls.Measurements)
		return ls, err
	})
	return q, err
}

// Publish points every latest view at the run's schema and flips the registry
// flag in one transaction.
func (s *Store) Publish(ctx context.Context, runID string) error {
	schema := SchemaName(runID)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range publishedTables {
			stmt := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s`,
				pgx.Identifier{latestSchema, table}.Sanitize(),
				pgx.Identifier{schema, table}.Sanitize())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("view %s: %w", table, err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE etl_snapshots SET is_latest = false WHERE is_latest AND run_id <> $1`, runID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE etl_snapshots SET is_latest = true WHERE run_id = $1`, runID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("run %s is not registered", runID)
		}
		return nil
	})
}

// Discard drops the run's schema unless it is the published one.
func (s *Store) Discard(ctx context.Context, runID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var latest bool
		err := tx.QueryRow(ctx, `SELECT is_latest FROM etl_snapshots WHERE run_id = $1`, runID).Scan(&latest)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if latest {
			return fmt.Errorf("refusing to discard published run %s", runID)
		}
		if _, err := tx.Exec(ctx, `DROP SCHEMA IF EXISTS `+quote(SchemaName(runID))+` CASCADE`); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM etl_snapshots WHERE run_id = $1`, runID)
		return err
	})
}

// =============================================================================
// Read
// =============================================================================

const selectInfo = `SELECT run_id, correlation_id, schema_name, created_at, is_latest,
	geografia, indicadores, datos_medicion FROM etl_snapshots`

func scanInfo(row pgx.CollectableRow) (snapshot.Info, error) {
	var info snapshot.Info
	err := row.Scan(&info.RunID, &info.CorrelationID, &info.Location, &info.CreatedAt, &info.Latest,
		&info.Counts.Entities, &info.Counts.Indicators, &info.Counts.Measurements)
	return info, err
}

func (s *Store) Latest(ctx context.Context) (snapshot.Info, error) {
	rows, err := s.pool.Query(ctx, selectInfo+` WHERE is_latest`)
	if err != nil {
		return snapshot.Info{}, err
	}
	info, err := pgx.CollectOneRow(rows, scanInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Info{}, snapshot.ErrNoSnapshot
	}
	return info, err
}

func (s *Store) List(ctx context.Context) ([]snapshot.Info, error) {
	rows, err := s.pool.Query(ctx, selectInfo+` ORDER BY run_id DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanInfo)
}

// =============================================================================
// Errors
// =============================================================================

// Classify maps SQLSTATE codes onto loader behavior.
func (s *Store) Classify(err error) snapshot.ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53300", // too_many_connections
			"57P01": // admin_shutdown
			return snapshot.ClassTransient
		}
		if strings.HasPrefix(pgErr.Code, "23") {
			return snapshot.ClassConstraint
		}
		return snapshot.ClassPermanent
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return snapshot.ClassTransient
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return snapshot.ClassTransient
	}
	return snapshot.ClassPermanent
}
