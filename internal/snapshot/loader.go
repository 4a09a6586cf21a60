package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/logging"
)

// Options configures a Loader.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	LockTimeout  time.Duration
	SkipChecks   bool
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		LockTimeout:  30 * time.Second,
	}
}

// Loader commits datasets to a Store.
type Loader struct {
	store Store
	opts  Options

	// OnRetry is called before each retry, for metrics.
	OnRetry func(attempt int, err error)
}

// NewLoader returns a loader for store.
func NewLoader(store Store, opts Options) *Loader {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Loader{store: store, opts: opts}
}

// Commit writes ds as the artifact of meta.RunID and publishes it.
//
// On any failure the run's artifact is discarded and the previously published
// snapshot is left untouched. Write failures surface as *core.StorageWriteError;
// failed post-load checks as *core.IntegrityViolationError.
func (l *Loader) Commit(ctx context.Context, meta Meta, ds core.Dataset) (Handle, error) {
	log := logging.FromContext(ctx).With("driver", l.store.Driver())
	start := time.Now()

	lockCtx := ctx
	if l.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, l.opts.LockTimeout)
		defer cancel()
	}
	release, err := l.store.Lock(lockCtx)
	if err != nil {
		return Handle{}, &core.StorageWriteError{Op: "lock", Attempts: 1, Err: err}
	}
	defer release()

	attempts := 0
	write := func() (string, error) {
		attempts++
		loc, err := l.write(ctx, meta, ds)
		if err == nil {
			return loc, nil
		}
		if errors.Is(err, ErrArtifactExists) {
			return "", backoff.Permanent(err)
		}
		if derr := l.store.Discard(context.WithoutCancel(ctx), meta.RunID); derr != nil {
			log.Warn("discard after failed write", "error", derr)
		}
		if l.store.Classify(err) != ClassTransient {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.InitialDelay
	eb.MaxInterval = l.opts.MaxDelay

	loc, err := backoff.Retry(ctx, write,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(l.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("load attempt failed, retrying", "attempt", attempts, "next", next, "error", err)
			if l.OnRetry != nil {
				l.OnRetry(attempts, err)
			}
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if l.store.Classify(err) == ClassConstraint {
			return Handle{}, &core.IntegrityViolationError{Violations: []string{"rejected by store constraint"}, Err: err}
		}
		return Handle{}, &core.StorageWriteError{Op: "write", Attempts: attempts, Err: err}
	}

	h := Handle{
		Info: Info{
			RunID:         meta.RunID,
			CorrelationID: meta.CorrelationID,
			Location:      loc,
			CreatedAt:     meta.CreatedAt,
			Counts:        CountsOf(ds),
		},
		Attempts: attempts,
	}
	log.Info("snapshot written", "location", loc, "attempts", attempts)

	if !l.opts.SkipChecks {
		q, err := l.verify(ctx, meta.RunID, h.Counts)
		if err != nil {
			l.discard(ctx, meta.RunID)
			return Handle{}, err
		}
		h.Quality = &q
	}

	if err := l.store.Publish(ctx, meta.RunID); err != nil {
		l.discard(ctx, meta.RunID)
		return Handle{}, &core.StorageWriteError{Op: "publish", Attempts: 1, Err: err}
	}
	h.Latest = true
	h.Duration = time.Since(start)
	log.Info("snapshot published", "run_id", meta.RunID, "duration", h.Duration)
	return h, nil
}

// write runs one attempt inside a single transaction.
func (l *Loader) write(ctx context.Context, meta Meta, ds core.Dataset) (loc string, err error) {
	tx, err := l.store.Begin(ctx, meta)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = tx.CreateSchema(ctx); err != nil {
		return "", fmt.Errorf("create schema: %w", err)
	}
	if err = tx.InsertEntities(ctx, ds.Entities); err != nil {
		return "", fmt.Errorf("insert geografia: %w", err)
	}
	if err = tx.InsertIndicators(ctx, ds.Indicators); err != nil {
		return "", fmt.Errorf("insert indicadores: %w", err)
	}
	if err = tx.InsertMeasurements(ctx, ds.Measurements); err != nil {
		return "", fmt.Errorf("insert datos_medicion: %w", err)
	}
	return tx.Commit(ctx)
}

func (l *Loader) verify(ctx context.Context, runID string, want Counts) (Quality, error) {
	q, err := l.store.Verify(ctx, runID)
	if err != nil {
		return q, &core.StorageWriteError{Op: "verify", Attempts: 1, Err: err}
	}
	violations := append(q.Violations(), q.Compare(want)...)
	if len(violations) > 0 {
		return q, &core.IntegrityViolationError{Violations: violations}
	}
	if q.NullValues > 0 {
		logging.FromContext(ctx).Warn("snapshot has null values", "count", q.NullValues)
	}
	return q, nil
}

func (l *Loader) discard(ctx context.Context, runID string) {
	if err := l.store.Discard(context.WithoutCancel(ctx), runID); err != nil {
		logging.FromContext(ctx).Warn("discard failed", "run_id", runID, "error", err)
	}
}
