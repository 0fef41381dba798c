package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"

	chgo "github.com/ClickHouse/clickhouse-go/v2"
	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oschwald/geoip2-golang"

	"github.com/malbeclabs/pipelake/internal/catalog"
	"github.com/malbeclabs/pipelake/internal/config"
	"github.com/malbeclabs/pipelake/internal/enrich/geoip"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/step"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/chstore"
	"github.com/malbeclabs/pipelake/internal/store/filestore"
	"github.com/malbeclabs/pipelake/internal/store/fluxstore"
	"github.com/malbeclabs/pipelake/internal/store/memstore"
	"github.com/malbeclabs/pipelake/internal/store/pgstore"
)

// externalSync pairs a DataTable backed by an authoritative external source
// with that source, so cmd/pipelake's --sync-external can reconcile it.
type externalSync struct {
	name  string
	table *catalog.DataTable
	store store.ExternalTableStore
}

// pipeline bundles the steps a run needs plus enough bookkeeping for the
// HTTP status endpoint.
type pipeline struct {
	steps                   []*step.Step
	transformMetaByStepName map[string]*metastore.TransformMetaTable
	externalSyncs           []externalSync
}

// buildPipeline wires the one illustrative pipeline this binary ships: raw
// request events (ip, pk=request_id) enriched with GeoIP fields into a
// downstream table. Tables land in ClickHouse when configured, Postgres or
// a filestore directory as fallbacks, and an in-process store otherwise, so
// the binary runs end-to-end without any backend configured. When InfluxDB
// is configured, an additional read-only "requests_external" table is
// wired for --sync-external to reconcile.
func buildPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	backend, err := backendFor(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	requestsSchema := []store.Column{{Name: "request_id", Type: store.ColumnText}}
	requestsCols := []string{"request_id", "ip"}
	requestsStore, err := backend.table("requests", requestsSchema, requestsCols, true)
	if err != nil {
		return nil, err
	}
	requestsMeta, err := backend.table("requests_meta", requestsSchema, metastore.MetaColumns([]string{"request_id"}), false)
	if err != nil {
		return nil, err
	}

	enrichedCols := geoip.OutputColumns([]string{"request_id"})
	enrichedStore, err := backend.table("requests_enriched", requestsSchema, enrichedCols, false)
	if err != nil {
		return nil, err
	}
	enrichedMeta, err := backend.table("requests_enriched_meta", requestsSchema, metastore.MetaColumns([]string{"request_id"}), false)
	if err != nil {
		return nil, err
	}
	enrichedTransformMeta, err := backend.table("requests_enriched_xform", requestsSchema, metastore.TransformMetaColumns([]string{"request_id"}), false)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(map[string]catalog.Table{
		"requests":          {Store: requestsStore},
		"requests_enriched": {Store: enrichedStore},
	})

	requestsTable, err := cat.GetDataTable("requests", func([]string) store.TableStore { return requestsMeta })
	if err != nil {
		return nil, err
	}
	enrichedTable, err := cat.GetDataTable("requests_enriched", func([]string) store.TableStore { return enrichedMeta })
	if err != nil {
		return nil, err
	}

	tm := metastore.NewTransformMetaTable([]string{"request_id"}, enrichedTransformMeta)

	resolver, err := geoipResolverFor(cfg)
	if err != nil {
		return nil, err
	}
	enricher := &geoip.Enricher{Resolver: resolver}

	enrichStep, err := step.New(
		"enrich_requests_geoip",
		[]*catalog.DataTable{requestsTable},
		[]*catalog.DataTable{enrichedTable},
		nil,
		tm,
		cfg.ChunkSize,
		func(ctx context.Context, inputs []*frame.Frame, kwargs map[string]any) ([]*frame.Frame, error) {
			out, err := enricher.Transform(inputs[0])
			if err != nil {
				return nil, err
			}
			return []*frame.Frame{out}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if err := enrichStep.Validate(); err != nil {
		return nil, err
	}

	var syncs []externalSync
	if cfg.InfluxURL != "" {
		extSync, err := externalRequestsSync(backend, cat, cfg)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, extSync)
	}

	return &pipeline{
		steps: []*step.Step{enrichStep},
		transformMetaByStepName: map[string]*metastore.TransformMetaTable{
			enrichStep.Name(): tm,
		},
		externalSyncs: syncs,
	}, nil
}

// externalRequestsSync wires an InfluxDB measurement, read through fluxstore,
// as an authoritative external source for a "requests_external" table: its
// row-meta sidecar lives on the regular backend, but its data side is the
// InfluxDB client itself, reconciled by SyncExternal rather than a step.
func externalRequestsSync(backend *backend, cat *catalog.Catalog, cfg *config.Config) (externalSync, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.InfluxURL,
		Token:    cfg.InfluxToken,
		Database: cfg.InfluxBucket,
	})
	if err != nil {
		return externalSync{}, fmt.Errorf("connecting to influxdb: %w", err)
	}

	schema := []store.Column{{Name: "request_id", Type: store.ColumnText}}
	extStore := fluxstore.New(client, cfg.InfluxBucket, "requests", []string{"request_id"}, []string{"ip"})
	extMeta, err := backend.table("requests_external_meta", schema, metastore.MetaColumns([]string{"request_id"}), false)
	if err != nil {
		return externalSync{}, err
	}

	cat.Add("requests_external", catalog.Table{Store: extStore})
	table, err := cat.GetDataTable("requests_external", func([]string) store.TableStore { return extMeta })
	if err != nil {
		return externalSync{}, err
	}

	return externalSync{name: "requests_external", table: table, store: extStore}, nil
}

func geoipResolverFor(cfg *config.Config) (geoip.Resolver, error) {
	if cfg.GeoIPDatabasePath == "" {
		return noopResolver{}, nil
	}
	reader, err := geoip2.Open(cfg.GeoIPDatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	return reader, nil
}

type noopResolver struct{}

func (noopResolver) City(ip net.IP) (*geoip2.City, error) { return &geoip2.City{}, nil }

// backend picks where engine-owned tables live: ClickHouse when configured,
// Postgres as a fallback, a directory of JSON files if only that is
// configured, and otherwise an in-process store so the pipeline still runs
// without any backend configured at all.
type backend struct {
	ch      chstore.Connection
	pool    *pgxpool.Pool
	fileDir string
}

func backendFor(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	if cfg.ClickHouseAddr != "" {
		conn, err := chgo.Open(&chgo.Options{
			Addr: []string{cfg.ClickHouseAddr},
			Auth: chgo.Auth{
				Database: cfg.ClickHouseDatabase,
				Username: cfg.ClickHouseUsername,
				Password: cfg.ClickHousePassword,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to clickhouse: %w", err)
		}
		log.Info("using clickhouse backend", "addr", cfg.ClickHouseAddr, "database", cfg.ClickHouseDatabase)
		return &backend{ch: conn}, nil
	}

	if cfg.PostgresDatabase != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		log.Info("using postgres backend", "host", cfg.PostgresHost, "database", cfg.PostgresDatabase)
		return &backend{pool: pool}, nil
	}

	if cfg.FileStoreDir != "" {
		log.Info("using filestore backend", "dir", cfg.FileStoreDir)
		return &backend{fileDir: cfg.FileStoreDir}, nil
	}

	log.Info("using in-process backend (no ClickHouse, Postgres, or filestore dir configured)")
	return &backend{}, nil
}

func (b *backend) table(name string, schema []store.Column, columns []string, readOnly bool) (store.TableStore, error) {
	switch {
	case b.ch != nil:
		return chstore.New(b.ch, name, schema, columns, readOnly), nil
	case b.pool != nil:
		return pgstore.New(b.pool, name, schema, columns, readOnly), nil
	case b.fileDir != "":
		return filestore.New(filestorePattern(b.fileDir, name, schema), schema, columns, &readOnly)
	default:
		return memstore.New(schema, columns, readOnly), nil
	}
}

// filestorePattern builds a filestore path template rooted at dir, one
// "{column}" placeholder per PK column, matching the {field}-per-path-segment
// convention filestore.New expects.
func filestorePattern(dir, name string, schema []store.Column) string {
	segments := make([]string, len(schema))
	for i, c := range schema {
		segments[i] = fmt.Sprintf("{%s}", c.Name)
	}
	return filepath.Join(append([]string{dir, name}, segments...)...) + ".json"
}
