// Package sqlite stores each run as its own database file and publishes the
// latest one under a fixed name:
//
//	<dir>/<prefix>_<run>.db      immutable artifact of one run
//	<dir>/<prefix>_latest.db     copy of the last published artifact
//	<dir>/<prefix>.lock          single-writer lock held during Load
//
// The latest file is replaced by rename, so a reader opening it sees either
// the previous snapshot or the new one.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/store"
)

const busyTimeout = 5 * time.Second

var ddl = []string{
	`CREATE TABLE geografia (
		id_geografia INTEGER PRIMARY KEY,
		nivel TEXT NOT NULL,
		nombre TEXT NOT NULL,
		id_padre INTEGER,
		codigo_dane TEXT,
		FOREIGN KEY (id_padre) REFERENCES geografia (id_geografia),
		UNIQUE (nivel, nombre, id_padre)
	)`,
	`CREATE TABLE indicadores (
		id_indicador INTEGER PRIMARY KEY,
		nombre_indicador TEXT NOT NULL,
		tipo_dato TEXT NOT NULL,
		tipo_de_medida TEXT NOT NULL,
		UNIQUE (nombre_indicador, tipo_dato, tipo_de_medida)
	)`,
	`CREATE TABLE datos_medicion (
		id_medicion INTEGER PRIMARY KEY,
		id_geografia INTEGER NOT NULL,
		id_indicador INTEGER NOT NULL,
		año INTEGER NOT NULL,
		valor REAL NOT NULL,
		FOREIGN KEY (id_geografia) REFERENCES geografia (id_geografia),
		FOREIGN KEY (id_indicador) REFERENCES indicadores (id_indicador),
		UNIQUE (id_geografia, id_indicador, año)
	)`,
	`CREATE TABLE snapshot_meta (
		run_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_geografia_nivel ON geografia (nivel)`,
	`CREATE INDEX idx_geografia_nombre ON geografia (nombre)`,
	`CREATE INDEX idx_medicion_geografia ON datos_medicion (id_geografia)`,
	`CREATE INDEX idx_medicion_indicador ON datos_medicion (id_indicador)`,
	`CREATE INDEX idx_medicion_año ON datos_medicion (año)`,
}

// Store implements snapshot.Store on a directory of SQLite files.
type Store struct {
	dir    string
	prefix string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir, prefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return &Store{dir: dir, prefix: prefix}, nil
}

func (s *Store) Driver() string { return "sqlite" }

func (s *Store) Close() error { return nil }

// Path returns the artifact file of runID.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.dir, s.prefix+"_"+runID+".db")
}

// LatestPath returns the published alias.
func (s *Store) LatestPath() string {
	return filepath.Join(s.dir, s.prefix+"_latest.db")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, s.prefix+".lock")
}

func open(path string, readOnly bool) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate",
		filepath.ToSlash(path), busyTimeout.Milliseconds())
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// =============================================================================
// Lock
// =============================================================================

// Lock takes an exclusive advisory lock on the lock file, polling until ctx
// is done. The kernel drops the lock when the holder exits, so a crashed
// writer leaves no stale lock behind.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	path := s.lockPath()
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock held by another writer (%s): %w", filepath.Base(path), ctx.Err())
	}
	return func() { _ = fl.Unlock() }, nil
}

// =============================================================================
// Write
// =============================================================================

// Begin creates the run's database file. An existing artifact is never reused.
func (s *Store) Begin(ctx context.Context, meta snapshot.Meta) (snapshot.Tx, error) {
	path := s.Path(meta.RunID)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), snapshot.ErrArtifactExists)
	}
	db, err := open(path, false)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &writeTx{db: db, tx: tx, path: path, meta: meta}, nil
}

type writeTx struct {
	db   *sql.DB
	tx   *sql.Tx
	path string
	meta snapshot.Meta
	done bool
}

func (t *writeTx) CreateSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (run_id, correlation_id, created_at) VALUES (?, ?, ?)`,
		t.meta.RunID, t.meta.CorrelationID, t.meta.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (t *writeTx) insert(ctx context.Context, st store.Statement, n int, args func(i int) []any) error {
	stmt, err := t.tx.PrepareContext(ctx, st.SQL(func(int) string { return "?" }))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

func (t *writeTx) InsertEntities(ctx context.Context, rows []core.GeographicEntity) error {
	return t.insert(ctx, store.InsertEntity, len(rows), func(i int) []any {
		e := rows[i]
		var parent, code any
		if e.ParentID != nil {
			parent = *e.ParentID
		}
		if e.ExternalCode != "" {
			code = e.ExternalCode
		}
		return []any{e.ID, e.Level.String(), e.Name, parent, code}
	})
}

func (t *writeTx) InsertIndicators(ctx context.Context, rows []core.IndicatorDefinition) error {
	return t.insert(ctx, store.InsertIndicator, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.ID, r.Name, r.ValueType, r.MeasureType}
	})
}

func (t *writeTx) InsertMeasurements(ctx context.Context, rows []core.Measurement) error {
	return t.insert(ctx, store.InsertMeasurement, len(rows), func(i int) []any {
		m := rows[i]
		return []any{m.ID, m.EntityID, m.IndicatorID, m.Year, m.Value}
	})
}

func (t *writeTx) Commit(ctx context.Context) (string, error) {
	err := t.tx.Commit()
	t.done = true
	if cerr := t.db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	return t.path, nil
}

func (t *writeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	t.db.Close()
	return err
}

// =============================================================================
// Verify / Publish / Discard
// =============================================================================

// Verify runs the quality checks on the run's artifact.
func (s *Store) Verify(ctx context.Context, runID string) (snapshot.Quality, error) {
	return inspect(ctx, s.Path(runID))
}

func inspect(ctx context.Context, path string) (snapshot.Quality, error) {
	var q snapshot.Quality
	if _, err := os.Stat(path); err != nil {
		return q, err
	}
	db, err := open(path, true)
	if err != nil {
		return q, err
	}
	defer db.Close()

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
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return q, fmt.Errorf("quality check: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, store.LevelSummary)
	if err != nil {
		return q, fmt.Errorf("level summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ls snapshot.LevelSummary
		if err := rows.Scan(&ls.Level, &ls.Entities, &ls.Measurements); err != nil {
			return q, err
		}
		q.ByLevel = append(q.ByLevel, ls)
	}
	return q, rows.Err()
}

// Publish copies the artifact next to the alias, syncs it and renames it over
// the alias.
func (s *Store) Publish(ctx context.Context, runID string) error {
	src, err := os.Open(s.Path(runID))
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.dir, "."+s.prefix+"_latest-*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.LatestPath()); err != nil {
		return fmt.Errorf("swap latest: %w", err)
	}
	return nil
}

// Discard removes the run's database and its journal files.
func (s *Store) Discard(ctx context.Context, runID string) error {
	var errs []error
	base := s.Path(runID)
	for _, p := range []string{base, base + "-journal", base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Read
// =============================================================================

func readInfo(ctx context.Context, path string) (snapshot.Info, error) {
	var info snapshot.Info
	db, err := open(path, true)
	if err != nil {
		return info, err
	}
	defer db.Close()

	var created string
	err = db.QueryRowContext(ctx, `SELECT run_id, correlation_id, created_at FROM snapshot_meta LIMIT 1`).
		Scan(&info.RunID, &info.CorrelationID, &created)
	if err != nil {
		return info, fmt.Errorf("read snapshot_meta from %s: %w", filepath.Base(path), err)
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	for _, c := range []struct {
		query string
		dst   *int
	}{
		{store.CountEntities, &info.Counts.Entities},
		{store.CountIndicators, &info.Counts.Indicators},
		{store.CountMeasurements, &info.Counts.Measurements},
	} {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return info, err
		}
	}
	info.Location = path
	return info, nil
}

// Latest reads the published alias.
func (s *Store) Latest(ctx context.Context) (snapshot.Info, error) {
	path := s.LatestPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return snapshot.Info{}, snapshot.ErrNoSnapshot
	}
	info, err := readInfo(ctx, path)
	if err != nil {
		return info, err
	}
	info.Latest = true
	return info, nil
}

// LatestQuality runs the quality queries against the published alias.
func (s *Store) LatestQuality(ctx context.Context) (snapshot.Quality, error) {
	if _, err := os.Stat(s.LatestPath()); errors.Is(err, fs.ErrNotExist) {
		return snapshot.Quality{}, snapshot.ErrNoSnapshot
	}
	return inspect(ctx, s.LatestPath())
}

// List describes every artifact in the directory, newest first.
func (s *Store) List(ctx context.Context) ([]snapshot.Info, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.prefix+"_*.db"))
	if err != nil {
		return nil, err
	}
	latest, err := s.Latest(ctx)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}

	var infos []snapshot.Info
	for _, path := range matches {
		if path == s.LatestPath() {
			continue
		}
		info, err := readInfo(ctx, path)
		if err != nil {
			continue // partially written or foreign file
		}
		info.Latest = info.RunID == latest.RunID
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RunID > infos[j].RunID })
	return infos, nil
}

// =============================================================================
// Errors
// =============================================================================

// Classify maps SQLite result codes onto loader behavior.
func (s *Store) Classify(err error) snapshot.ErrorClass {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return snapshot.ClassTransient
		case sqlite3.SQLITE_CONSTRAINT:
			return snapshot.ClassConstraint
		}
		return snapshot.ClassPermanent
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return snapshot.ClassTransient
	}
	return snapshot.ClassPermanent
}
