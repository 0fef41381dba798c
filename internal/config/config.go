// Package config loads runtime configuration from pflag flags overridden
// by environment variables, in the flat-pflag-plus-env-override style
// common across the pack's CLI entrypoints.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/pipelake/internal/errs"
)

// Config is the full set of runtime knobs for cmd/pipelake.
type Config struct {
	Verbose bool

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseSecure   bool

	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresUsername string
	PostgresPassword string
	PostgresSSLMode  string

	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string

	InfluxURL    string
	InfluxToken  string
	InfluxBucket string

	GeoIPDatabasePath string

	FileStoreDir string

	SlackBotToken string
	SlackChannel  string

	SentryDSN         string
	SentryEnvironment string

	HTTPAddr string

	ChunkSize   int
	Concurrency int
}

// Load parses flags from args, applies .env and then real environment
// variable overrides (env wins over .env, matching godotenv's documented
// precedence when loaded before os.Getenv reads), and validates the
// minimal required fields for the chosen command.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load() // optional .env file; missing file is not an error

	fs := flag.NewFlagSet("pipelake", flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true // command flags (--run, --serve, ...) live in cmd/pipelake's own FlagSet

	verbose := fs.Bool("verbose", false, "enable verbose (debug) logging")

	chAddr := fs.String("clickhouse-addr", "", "ClickHouse address (host:port)")
	chDatabase := fs.String("clickhouse-database", "default", "ClickHouse database name")
	chUsername := fs.String("clickhouse-username", "default", "ClickHouse username")
	chPassword := fs.String("clickhouse-password", "", "ClickHouse password")
	chSecure := fs.Bool("clickhouse-secure", false, "enable TLS for ClickHouse Cloud")

	pgHost := fs.String("postgres-host", "localhost", "Postgres host")
	pgPort := fs.String("postgres-port", "5432", "Postgres port")
	pgDatabase := fs.String("postgres-db", "", "Postgres database")
	pgUsername := fs.String("postgres-user", "", "Postgres username")
	pgPassword := fs.String("postgres-password", "", "Postgres password")
	pgSSLMode := fs.String("postgres-sslmode", "disable", "Postgres sslmode")

	neo4jURI := fs.String("neo4j-uri", "", "Neo4j bolt URI")
	neo4jUsername := fs.String("neo4j-username", "neo4j", "Neo4j username")
	neo4jPassword := fs.String("neo4j-password", "", "Neo4j password")

	influxURL := fs.String("influx-url", "", "InfluxDB URL")
	influxToken := fs.String("influx-token", "", "InfluxDB token")
	influxBucket := fs.String("influx-bucket", "", "InfluxDB bucket")

	geoipPath := fs.String("geoip-db", "", "path to a GeoLite2 City .mmdb file")

	fileStoreDir := fs.String("filestore-dir", "", "directory for filestore-backed tables (used when ClickHouse/Postgres are unconfigured)")

	slackToken := fs.String("slack-bot-token", "", "Slack bot token for run notifications")
	slackChannel := fs.String("slack-channel", "", "Slack channel for run notifications")

	sentryDSN := fs.String("sentry-dsn", "", "Sentry DSN for fatal error reporting")
	sentryEnv := fs.String("sentry-environment", "development", "Sentry environment tag")

	httpAddr := fs.String("http-addr", ":8080", "address for the health/metrics HTTP server")

	chunkSize := fs.Int("chunk-size", 1000, "planner batch size")
	concurrency := fs.Int("concurrency", 1, "worker pool concurrency (1 = single-threaded)")

	if err := fs.Parse(args); err != nil {
		return nil, &errs.ConfigError{Msg: err.Error()}
	}

	envOverride(chAddr, "CLICKHOUSE_ADDR_TCP")
	envOverride(chDatabase, "CLICKHOUSE_DATABASE")
	envOverride(chUsername, "CLICKHOUSE_USERNAME")
	envOverride(chPassword, "CLICKHOUSE_PASSWORD")
	envOverrideBool(chSecure, "CLICKHOUSE_SECURE")

	envOverride(pgHost, "POSTGRES_HOST")
	envOverride(pgPort, "POSTGRES_PORT")
	envOverride(pgDatabase, "POSTGRES_DB")
	envOverride(pgUsername, "POSTGRES_USER")
	envOverride(pgPassword, "POSTGRES_PASSWORD")
	envOverride(pgSSLMode, "POSTGRES_SSLMODE")

	envOverride(neo4jURI, "NEO4J_URI")
	envOverride(neo4jUsername, "NEO4J_USERNAME")
	envOverride(neo4jPassword, "NEO4J_PASSWORD")

	envOverride(influxURL, "INFLUX_URL")
	envOverride(influxToken, "INFLUX_TOKEN")
	envOverride(influxBucket, "INFLUX_BUCKET")

	envOverride(geoipPath, "GEOIP_DB_PATH")
	envOverride(fileStoreDir, "FILESTORE_DIR")
	envOverride(slackToken, "SLACK_BOT_TOKEN")
	envOverride(slackChannel, "SLACK_CHANNEL")
	envOverride(sentryDSN, "SENTRY_DSN")
	envOverride(sentryEnv, "SENTRY_ENVIRONMENT")

	return &Config{
		Verbose:            *verbose,
		ClickHouseAddr:     *chAddr,
		ClickHouseDatabase: *chDatabase,
		ClickHouseUsername: *chUsername,
		ClickHousePassword: *chPassword,
		ClickHouseSecure:   *chSecure,
		PostgresHost:       *pgHost,
		PostgresPort:       *pgPort,
		PostgresDatabase:   *pgDatabase,
		PostgresUsername:   *pgUsername,
		PostgresPassword:   *pgPassword,
		PostgresSSLMode:    *pgSSLMode,
		Neo4jURI:           *neo4jURI,
		Neo4jUsername:      *neo4jUsername,
		Neo4jPassword:      *neo4jPassword,
		InfluxURL:          *influxURL,
		InfluxToken:        *influxToken,
		InfluxBucket:       *influxBucket,
		GeoIPDatabasePath:  *geoipPath,
		FileStoreDir:       *fileStoreDir,
		SlackBotToken:      *slackToken,
		SlackChannel:       *slackChannel,
		SentryDSN:          *sentryDSN,
		SentryEnvironment:  *sentryEnv,
		HTTPAddr:           *httpAddr,
		ChunkSize:          *chunkSize,
		Concurrency:        *concurrency,
	}, nil
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideBool(dst *bool, key string) {
	if os.Getenv(key) == "true" {
		*dst = true
	}
}

// PostgresDSN builds the libpq-style connection string used by both
// pgxpool and goose's database/sql migration runner.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUsername, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDatabase, c.PostgresSSLMode)
}

// RequirePostgres validates the fields PostgreSQL needs, for commands that
// use it.
func (c *Config) RequirePostgres() error {
	if c.PostgresDatabase == "" {
		return &errs.ConfigError{Msg: "POSTGRES_DB (or --postgres-db) is required"}
	}
	if c.PostgresUsername == "" {
		return &errs.ConfigError{Msg: "POSTGRES_USER (or --postgres-user) is required"}
	}
	return nil
}

// RequireClickHouse validates the fields ClickHouse needs, for commands
// that use it.
func (c *Config) RequireClickHouse() error {
	if c.ClickHouseAddr == "" {
		return &errs.ConfigError{Msg: "CLICKHOUSE_ADDR_TCP (or --clickhouse-addr) is required"}
	}
	return nil
}
