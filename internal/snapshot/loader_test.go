package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

var (
	errBusy       = errors.New("database is locked")
	errConstraint = errors.New("FOREIGN KEY constraint failed")
	errDisk       = errors.New("disk full")
)

// fakeStore records the protocol calls the loader makes. writeErrs[i] is
// returned by the i-th attempt's measurement insert.
type fakeStore struct {
	writeErrs  []error
	lockErr    error
	publishErr error
	quality    *Quality

	attempts   int
	locked     bool
	released   bool
	committed  map[string]bool
	discarded  []string
	published  string
	rolledBack int
}

func newFakeStore() *fakeStore {
	return &fakeStore{committed: make(map[string]bool)}
}

func (s *fakeStore) Lock(ctx context.Context) (func(), error) {
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locked = true
	return func() { s.released = true }, nil
}

func (s *fakeStore) Begin(ctx context.Context, meta Meta) (Tx, error) {
	s.attempts++
	var err error
	if s.attempts <= len(s.writeErrs) {
		err = s.writeErrs[s.attempts-1]
	}
	return &fakeTx{store: s, runID: meta.RunID, err: err}, nil
}

func (s *fakeStore) Verify(ctx context.Context, runID string) (Quality, error) {
	if s.quality != nil {
		return *s.quality, nil
	}
	return Quality{Counts: Counts{Entities: 2, Indicators: 1, Measurements: 1}}, nil
}

func (s *fakeStore) Publish(ctx context.Context, runID string) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = runID
	return nil
}

func (s *fakeStore) Discard(ctx context.Context, runID string) error {
	delete(s.committed, runID)
	s.discarded = append(s.discarded, runID)
	return nil
}

func (s *fakeStore) Latest(ctx context.Context) (Info, error) {
	if s.published == "" {
		return Info{}, ErrNoSnapshot
	}
	return Info{RunID: s.published, Latest: true}, nil
}

func (s *fakeStore) List(ctx context.Context) ([]Info, error) { return nil, nil }

func (s *fakeStore) Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, errBusy):
		return ClassTransient
	case errors.Is(err, errConstraint):
		return ClassConstraint
	}
	return ClassPermanent
}

func (s *fakeStore) Driver() string { return "fake" }
func (s *fakeStore) Close() error   { return nil }

type fakeTx struct {
	store *fakeStore
	runID string
	err   error
}

func (t *fakeTx) CreateSchema(ctx context.Context) error { return nil }
func (t *fakeTx) InsertEntities(ctx context.Context, rows []core.GeographicEntity) error {
	return nil
}
func (t *fakeTx) InsertIndicators(ctx context.Context, rows []core.IndicatorDefinition) error {
	return nil
}
func (t *fakeTx) InsertMeasurements(ctx context.Context, rows []core.Measurement) error {
	return t.err
}
func (t *fakeTx) Commit(ctx context.Context) (string, error) {
	t.store.committed[t.runID] = true
	return "fake://" + t.runID, nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	t.store.rolledBack++
	return nil
}

func testDataset() core.Dataset {
	parent := int64(1)
	return core.Dataset{
		Entities: []core.GeographicEntity{
			{ID: 1, Level: core.LevelNational, Name: "Colombia"},
			{ID: 2, Level: core.LevelDepartmental, Name: "Antioquia", ParentID: &parent},
		},
		Indicators:   []core.IndicatorDefinition{{ID: 1, Name: "Grave", ValueType: core.ValuePercentage, MeasureType: "Prevalencia"}},
		Measurements: []core.Measurement{{ID: 1, EntityID: 2, IndicatorID: 1, Year: 2022, Value: 0.03}},
	}
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, LockTimeout: time.Second}
}

var meta = Meta{RunID: "20240101_000000_000", CorrelationID: "c1"}

// =============================================================================
// Commit
// =============================================================================

func TestCommit_Success(t *testing.T) {
	s := newFakeStore()
	h, err := NewLoader(s, fastOptions()).Commit(context.Background(), meta, testDataset())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if s.published != meta.RunID || !h.Latest {
		t.Errorf("published = %q, Latest = %v", s.published, h.Latest)
	}
	if h.Attempts != 1 || h.Location != "fake://"+meta.RunID || h.Quality == nil {
		t.Errorf("handle = %+v", h)
	}
	if !s.locked || !s.released {
		t.Error("lock should be taken and released")
	}
	if h.Counts != (Counts{Entities: 2, Indicators: 1, Measurements: 1}) {
		t.Errorf("Counts = %+v", h.Counts)
	}
}

func TestCommit_RetriesTransient(t *testing.T) {
	s := newFakeStore()
	s.writeErrs = []error{errBusy, errBusy}

	l := NewLoader(s, fastOptions())
	var retries int
	l.OnRetry = func(int, error) { retries++ }

	h, err := l.Commit(context.Background(), meta, testDataset())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if h.Attempts != 3 || retries != 2 {
		t.Errorf("attempts = %d, retries = %d; want 3, 2", h.Attempts, retries)
	}
	if len(s.discarded) != 2 || s.rolledBack != 2 {
		t.Errorf("discarded = %v, rolledBack = %d", s.discarded, s.rolledBack)
	}
}

func TestCommit_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeStore)
		want     error
		attempts int
	}{
		{
			name:     "retries exhausted",
			setup:    func(s *fakeStore) { s.writeErrs = []error{errBusy, errBusy, errBusy} },
			want:     core.ErrStorageWrite,
			attempts: 3,
		},
		{
			name:     "permanent error not retried",
			setup:    func(s *fakeStore) { s.writeErrs = []error{errDisk} },
			want:     core.ErrStorageWrite,
			attempts: 1,
		},
		{
			name:     "constraint is an integrity violation",
			setup:    func(s *fakeStore) { s.writeErrs = []error{errConstraint} },
			want:     core.ErrIntegrityViolation,
			attempts: 1,
		},
		{
			name:  "lock unavailable",
			setup: func(s *fakeStore) { s.lockErr = errors.New("lock held") },
			want:  core.ErrStorageWrite,
		},
		{
			name: "quality check fails",
			setup: func(s *fakeStore) {
				s.quality = &Quality{Duplicates: 1, Counts: Counts{Entities: 2, Indicators: 1, Measurements: 1}}
			},
			want:     core.ErrIntegrityViolation,
			attempts: 1,
		},
		{
			name:     "stored counts differ",
			setup:    func(s *fakeStore) { s.quality = &Quality{Counts: Counts{Entities: 2, Indicators: 1}} },
			want:     core.ErrIntegrityViolation,
			attempts: 1,
		},
		{
			name:     "publish fails",
			setup:    func(s *fakeStore) { s.publishErr = errors.New("rename failed") },
			want:     core.ErrStorageWrite,
			attempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeStore()
			s.published = "previous"
			tt.setup(s)

			_, err := NewLoader(s, fastOptions()).Commit(context.Background(), meta, testDataset())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Commit() error = %v, want %v", err, tt.want)
			}
			if s.attempts != tt.attempts {
				t.Errorf("attempts = %d, want %d", s.attempts, tt.attempts)
			}
			if s.published != "previous" {
				t.Errorf("published = %q, previous snapshot should stay latest", s.published)
			}
			if s.committed[meta.RunID] {
				t.Error("failed run should leave no committed artifact")
			}
		})
	}
}

func TestCommit_SkipChecks(t *testing.T) {
	s := newFakeStore()
	s.quality = &Quality{Duplicates: 5}
	opts := fastOptions()
	opts.SkipChecks = true

	h, err := NewLoader(s, opts).Commit(context.Background(), meta, testDataset())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if h.Quality != nil {
		t.Error("Quality should be nil when checks are skipped")
	}
}

func TestQuality_NullValuesDoNotFail(t *testing.T) {
	q := Quality{NullValues: 3}
	if v := q.Violations(); len(v) != 0 {
		t.Errorf("Violations() = %v, want none", v)
	}
}
