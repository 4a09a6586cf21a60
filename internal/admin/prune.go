// Package admin provides retention operations over stored runs.
package admin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/blob"
	"github.com/JonMunkholm/inseguridad/internal/logging"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	"github.com/JonMunkholm/inseguridad/internal/tabular"
)

// PruneTimeout is the maximum duration of a prune.
const PruneTimeout = 5 * time.Minute

// Pruner discards old runs. The published snapshot is never removed.
type Pruner struct {
	Store snapshot.Store
	Blobs blob.Store // Optional
}

type discardFn func(ctx context.Context) error

// Prune keeps the published snapshot plus the keep most recent others and
// discards the rest. It holds the writer lock so no load runs concurrently.
// Returns the discarded run ids.
func (p *Pruner) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	ctx, cancel := context.WithTimeout(ctx, PruneTimeout)
	defer cancel()

	release, err := p.Store.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	defer release()

	infos, err := p.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune: list: %w", err)
	}

	var (
		victims []string
		fns     []discardFn
		kept    int
	)
	for _, info := range infos {
		if info.Latest {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		runID := info.RunID
		victims = append(victims, runID)
		fns = append(fns, func(ctx context.Context) error { return p.Store.Discard(ctx, runID) })
	}

	if err := runDiscards(ctx, fns); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("snapshots pruned", "discarded", len(victims), "kept", kept)
	return victims, nil
}

// PruneBlobs removes curated and processed blobs of every run except the keep
// most recent under each prefix, by run id order.
func (p *Pruner) PruneBlobs(ctx context.Context, keep int) (int, error) {
	if p.Blobs == nil {
		return 0, nil
	}
	removed := 0
	for _, prefix := range []string{tabular.CuratedPrefix, tabular.ProcessedPrefix} {
		runs, err := tabular.Runs(ctx, p.Blobs, prefix)
		if err != nil {
			return removed, err
		}
		sort.Sort(sort.Reverse(sort.StringSlice(runs)))
		if len(runs) <= keep {
			continue
		}
		for _, run := range runs[keep:] {
			infos, err := p.Blobs.List(ctx, prefix+"/"+run+"/")
			if err != nil {
				return removed, err
			}
			for _, info := range infos {
				if _, err := p.Blobs.Delete(ctx, info.Key); err != nil {
					return removed, fmt.Errorf("delete %s: %w", info.Key, err)
				}
				removed++
			}
		}
	}
	return removed, nil
}

func runDiscards(ctx context.Context, fns []discardFn) error {
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}
