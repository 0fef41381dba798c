// Command pipelake runs an incremental batch-processing pipeline: a fixed
// set of steps reading from and writing to the configured backends, driven
// either as a full recompute or from a seeded change list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/pipelake/internal/config"
	"github.com/malbeclabs/pipelake/internal/driver"
	"github.com/malbeclabs/pipelake/internal/httpapi"
	"github.com/malbeclabs/pipelake/internal/notify"
	"github.com/malbeclabs/pipelake/internal/pipelog"
	"github.com/malbeclabs/pipelake/internal/store/pgstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pipelake-cmd", flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true // backend flags live in internal/config's FlagSet

	runFlag := fs.Bool("run", false, "run every step once, full recompute")
	runChangeListFlag := fs.Bool("run-changelist", false, "run steps to a fixed point, starting from an empty change list")
	fillMetadataFlag := fs.Bool("fill-metadata", false, "mark every currently-stale key as already processed, without running transforms")
	resetMetadataFlag := fs.Bool("reset-metadata", false, "clear transform metadata for every step, forcing a full reprocess next run")
	serveFlag := fs.Bool("serve", false, "run the health/metrics/status HTTP server and block")
	migrateFlag := fs.Bool("migrate", false, "apply pending Postgres sidecar-table migrations and exit")
	syncExternalFlag := fs.Bool("sync-external", false, "reconcile every configured external-table source against its row-meta")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log := pipelog.New(cfg.Verbose)
	if err := pipelog.InitSentry(cfg.SentryDSN, cfg.SentryEnvironment); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}

	if *migrateFlag {
		if err := cfg.RequirePostgres(); err != nil {
			return err
		}
		return pgstore.MigrateUp(log, cfg.PostgresDSN())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	notifier := notifierFor(cfg, log)

	pl, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		pipelog.ReportFatal(log, err)
		return err
	}

	drv := driver.New(log, notifier)

	switch {
	case *runFlag:
		return drv.RunSteps(ctx, pl.steps)

	case *runChangeListFlag:
		return drv.RunStepsChangeList(ctx, pl.steps, nil)

	case *fillMetadataFlag:
		for _, s := range pl.steps {
			if err := s.FillMetadata(ctx); err != nil {
				return fmt.Errorf("fill-metadata %s: %w", s.DeclaredName, err)
			}
		}
		return nil

	case *resetMetadataFlag:
		for _, s := range pl.steps {
			if err := s.ResetMetadata(ctx); err != nil {
				return fmt.Errorf("reset-metadata %s: %w", s.DeclaredName, err)
			}
		}
		return nil

	case *serveFlag:
		status := httpapi.TransformMetaStatusSource{Tables: pl.transformMetaByStepName}
		srv := httpapi.New(cfg.HTTPAddr, status, log)
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.ListenAndServe()

	case *syncExternalFlag:
		if len(pl.externalSyncs) == 0 {
			log.Info("no external-table sources configured, nothing to sync")
			return nil
		}
		now := float64(clockwork.NewRealClock().Now().UnixNano()) / 1e9
		for _, sync := range pl.externalSyncs {
			log.Info("syncing external table", "table", sync.name)
			if err := sync.table.SyncExternal(ctx, sync.store, cfg.ChunkSize, now); err != nil {
				return fmt.Errorf("sync-external %s: %w", sync.name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("no command given: pass one of --run, --run-changelist, --fill-metadata, --reset-metadata, --serve, --migrate, --sync-external")
	}
}

func notifierFor(cfg *config.Config, log *slog.Logger) notify.Notifier {
	if cfg.SlackBotToken == "" {
		return notify.Noop{}
	}
	return notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, log)
}
