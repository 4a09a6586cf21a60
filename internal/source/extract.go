package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/inseguridad/internal/core"
	"github.com/JonMunkholm/inseguridad/internal/logging"
)

// Opener opens the named source for reading.
type Opener func(ctx context.Context, def Definition) (name string, rc io.ReadCloser, err error)

// DirOpener opens sources from dir using each definition's File.
func DirOpener(dir string) Opener {
	return func(_ context.Context, def Definition) (string, io.ReadCloser, error) {
		path := filepath.Join(dir, def.File)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return def.File, nil, &core.SourceFormatError{Source: path, Detail: "source not found"}
			}
			return def.File, nil, fmt.Errorf("open %s: %w", path, err)
		}
		return def.File, f, nil
	}
}

// CheckDir verifies every definition's file exists under dir before a run starts.
func CheckDir(dir string, defs []Definition) error {
	var missing []string
	for _, def := range defs {
		if _, err := os.Stat(filepath.Join(dir, def.File)); err != nil {
			missing = append(missing, def.File)
		}
	}
	if len(missing) > 0 {
		return &core.SourceFormatError{Source: dir, Missing: missing, Detail: "source not found"}
	}
	return nil
}

// Extract parses every definition in parallel. Parsing shares no state, so
// each source gets its own goroutine; the first failure cancels the rest.
// Tables are returned in the order of defs.
func Extract(ctx context.Context, open Opener, defs []Definition, opts Options) ([]*Table, error) {
	tables := make([]*Table, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, rc, err := open(gctx, def)
			if err != nil {
				return err
			}
			defer rc.Close()

			t, err := Parse(def, name, rc, opts)
			if err != nil {
				return err
			}
			logging.FromContext(gctx).Debug("source parsed",
				"level", def.Level.String(), "source", name,
				"rows", len(t.Rows), "null_primary", t.NullPrimary(), "bytes", t.Bytes)
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Rows concatenates the canonical rows of tables in order.
func Rows(tables []*Table) []core.CanonicalRow {
	n := 0
	for _, t := range tables {
		n += len(t.Rows)
	}
	rows := make([]core.CanonicalRow, 0, n)
	for _, t := range tables {
		rows = append(rows, t.Rows...)
	}
	return rows
}
