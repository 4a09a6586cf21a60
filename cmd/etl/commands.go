package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/inseguridad/internal/admin"
	"github.com/JonMunkholm/inseguridad/internal/metrics"
	"github.com/JonMunkholm/inseguridad/internal/pipeline"
	"github.com/JonMunkholm/inseguridad/internal/web"
)

// =============================================================================
// Pipeline commands
// =============================================================================

func (a *app) newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract, transform, validate and load, then publish the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), true, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Summary, error) {
				return r.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&a.flags.skipChecks, "skip-checks", false, "skip the post-load quality checks (LOAD_SKIP_CHECKS)")
	return cmd
}

func (a *app) newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Read the source files and store their curated form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), false, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Summary, error) {
				return r.Extract(ctx)
			})
		},
	}
}

func (a *app) newTransformCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "transform --from <run-id>",
		Short: "Build and validate the normalized tables from a stored curated run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), false, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Summary, error) {
				return r.Transform(ctx, from)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "run id whose curated files are read")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func (a *app) newLoadCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "load --from <run-id>",
		Short: "Load a stored processed run into a new snapshot and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), true, func(ctx context.Context, r *pipeline.Runner) (*pipeline.Summary, error) {
				return r.Load(ctx, from)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "run id whose processed tables are read")
	cmd.Flags().BoolVar(&a.flags.skipChecks, "skip-checks", false, "skip the post-load quality checks (LOAD_SKIP_CHECKS)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

type command func(ctx context.Context, r *pipeline.Runner) (*pipeline.Summary, error)

// runPipeline builds a runner, executes fn and prints the summary. needStore
// opens the snapshot store; stage commands that stop before Load skip it.
func (a *app) runPipeline(ctx context.Context, needStore bool, fn command) error {
	blobs, err := openBlobs(ctx, a.cfg)
	if err != nil {
		return err
	}

	var store snapshotStore
	if needStore {
		if store, err = openStore(ctx, a.cfg); err != nil {
			return err
		}
		defer store.Close()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Load.Timeout)
		defer cancel()
	}

	rec := metrics.New(false)
	r := pipeline.NewRunner(pipelineOptions(a.cfg), blobs, store, rec)

	sum, runErr := fn(ctx, r)
	if sum != nil {
		if err := a.printSummary(sum); err != nil {
			slog.Error("print summary", "error", err)
		}
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			slog.Error("write metrics textfile", "path", path, "error", err)
		}
	}
	return runErr
}

func (a *app) printSummary(sum *pipeline.Summary) error {
	if a.flags.output == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	sum.WriteText(a.stdout)
	return nil
}

// =============================================================================
// Snapshots
// =============================================================================

func (a *app) newSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.flags.output == "json" {
				return json.NewEncoder(a.stdout).Encode(infos)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tLATEST\tCREATED\tGEOGRAFIA\tINDICADORES\tDATOS_MEDICION\tLOCATION")
			for _, info := range infos {
				latest := ""
				if info.Latest {
					latest = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", info.RunID, latest,
					info.CreatedAt.Format("2006-01-02 15:04:05"),
					info.Counts.Entities, info.Counts.Indicators, info.Counts.Measurements, info.Location)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(a.newPruneCommand())
	return cmd
}

func (a *app) newPruneCommand() *cobra.Command {
	var (
		keep  int
		blobs bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Discard all but the published snapshot and the --keep most recent others",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			p := &admin.Pruner{Store: store}
			if blobs {
				if p.Blobs, err = openBlobs(ctx, a.cfg); err != nil {
					return err
				}
			}

			discarded, err := p.Prune(ctx, keep)
			if err != nil {
				return err
			}
			for _, id := range discarded {
				fmt.Fprintln(a.stdout, "discarded", id)
			}
			if blobs {
				// Blobs have no published flag; keep one extra run for it
				n, err := p.PruneBlobs(ctx, keep+1)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "removed %d blob(s)\n", n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of unpublished snapshots to keep")
	cmd.Flags().BoolVar(&blobs, "blobs", false, "also prune curated and processed blobs")
	return cmd
}

// =============================================================================
// Serve
// =============================================================================

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec := metrics.New(true)
			srv := web.NewServer(a.cfg.Server, store, rec.Handler())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
}
