// Command etl runs the food-insecurity Transform and Load pipeline and serves
// the published snapshot for inspection.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/inseguridad/internal/config"
	"github.com/JonMunkholm/inseguridad/internal/logging"
	"github.com/JonMunkholm/inseguridad/internal/pipeline"
)

func main() {
	// Overload so a checked-in .env wins over stale shell exports
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		// Stage failures carry their own status; config and usage errors exit 1
		os.Exit(pipeline.ExitCode(err))
	}
}

// flags holds the command-line overrides shared by every command.
type flags struct {
	sourceDir       string
	storeDriver     string
	skipChecks      bool
	implicitParents bool
	output          string
}

// app is the state built once the configuration is loaded.
type app struct {
	cfg    *config.Config
	flags  flags
	stdout io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Food-insecurity indicators ETL",
		Long: `
Builds a normalized dataset of geographic entities, indicators and
measurements from the Regional, Departmental and Municipal source files and
publishes it as the latest relational snapshot.

Configuration comes from the environment (and a .env file); flags override it.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.sourceDir, "source-dir", "", "directory holding the source files (ETL_SOURCE_DIR)")
	pf.StringVar(&a.flags.storeDriver, "store", "", "snapshot store driver: sqlite or postgres (STORE_DRIVER)")
	pf.BoolVar(&a.flags.implicitParents, "implicit-parents", false, "create unseen parents instead of rejecting the row")
	pf.StringVarP(&a.flags.output, "output", "o", "text", "summary format: text or json")

	root.AddCommand(
		a.newRunCommand(),
		a.newExtractCommand(),
		a.newTransformCommand(),
		a.newLoadCommand(),
		a.newSnapshotsCommand(),
		a.newServeCommand(),
	)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// configure loads the environment, applies flag overrides, then validates.
func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("source-dir") {
		cfg.Pipeline.SourceDir = a.flags.sourceDir
	}
	if f.Changed("store") {
		cfg.Store.Driver = a.flags.storeDriver
	}
	if f.Changed("implicit-parents") {
		cfg.Pipeline.ImplicitParents = a.flags.implicitParents
	}
	if f.Lookup("skip-checks") != nil && f.Changed("skip-checks") {
		cfg.Load.SkipChecks = a.flags.skipChecks
	}
	if a.flags.output != "text" && a.flags.output != "json" {
		return fmt.Errorf("--output must be text or json, got %q", a.flags.output)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())
	a.cfg = cfg
	return nil
}
