package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/mimetype"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/objectkey"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/repo/memory"
	repopg "github.com/tendant/resource-builder/pkg/resourcebuilder/repo/postgres"
	fsstorage "github.com/tendant/resource-builder/pkg/resourcebuilder/storage/fs"
	memorystorage "github.com/tendant/resource-builder/pkg/resourcebuilder/storage/memory"
	s3storage "github.com/tendant/resource-builder/pkg/resourcebuilder/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:              "8080",
		Environment:       "development",
		DatabaseType:      "memory",
		StorageURL:        "memory://",
		ObjectKeyStrategy: "git-like",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// ServerConfig represents configuration for the resource server and CLI
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema, created when missing (default: search_path of the role)

	// Storage configuration: memory://, file:///dir or
	// s3://bucket?region=..&endpoint=..&path_style=true&create_bucket=true
	StorageURL        string
	ObjectKeyStrategy string // git-like, hashed, legacy

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json

	EnableEventLogging bool

	// APIKeySHA256 is the hex SHA-256 of the API key required by the server.
	// Empty disables API key checks.
	APIKeySHA256 string
}

// StorageConfig is the parsed form of StorageURL
type StorageConfig struct {
	Type string // "memory", "fs", "s3"

	BaseDir string

	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	CreateBucket bool
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if _, err := c.Storage(); err != nil {
		return err
	}

	if _, err := objectkey.ByName(c.ObjectKeyStrategy); err != nil {
		return err
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.LogFormat)
	}

	return nil
}

// Storage parses StorageURL
func (c *ServerConfig) Storage() (StorageConfig, error) {
	raw := c.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageConfig{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return StorageConfig{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageConfig{Type: "fs", BaseDir: u.Path}, nil

	case "s3":
		if u.Host == "" {
			return StorageConfig{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		sc := StorageConfig{
			Type:     "s3",
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if sc.UsePathStyle, err = queryBool(q, "path_style"); err != nil {
			return StorageConfig{}, err
		}
		if sc.CreateBucket, err = queryBool(q, "create_bucket"); err != nil {
			return StorageConfig{}, err
		}
		return sc, nil
	}

	return StorageConfig{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

func queryBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s in STORAGE_URL: %w", key, err)
	}
	return b, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger returns a logger writing to w in the configured format and level
func (c *ServerConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// BuildFactory creates the builder factory with the default MIME type table
func (c *ServerConfig) BuildFactory() *rb.Factory {
	return rb.NewFactory(mimetype.New())
}

// BuildResolverFactory wires repository, blob store, object keys and event
// sink. The returned cleanup releases database connections.
func (c *ServerConfig) BuildResolverFactory(ctx context.Context, logger *slog.Logger) (*rb.ResolverFactory, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := func() {}

	repo, closeRepo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to build repository: %w", err)
	}
	cleanup = closeRepo

	store, err := c.buildBlobStore(ctx)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to build storage backend: %w", err)
	}

	keys, err := objectkey.ByName(c.ObjectKeyStrategy)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	options := []rb.Option{
		rb.WithRepository(repo),
		rb.WithBlobStore(store),
		rb.WithKeyGenerator(keys),
		rb.WithLogger(logger),
	}
	if c.EnableEventLogging {
		options = append(options, rb.WithEventSink(rb.NewLoggingEventSink(logger)))
	}

	factory, err := rb.NewResolverFactory(options...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return factory, cleanup, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (rb.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		repo := repopg.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		ident := pgx.Identifier{schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
				return err
			}
			_, err := conn.Exec(ctx, "SET search_path TO "+ident)
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildBlobStore creates a BlobStore based on StorageURL
func (c *ServerConfig) buildBlobStore(ctx context.Context) (rb.BlobStore, error) {
	sc, err := c.Storage()
	if err != nil {
		return nil, err
	}

	switch sc.Type {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: sc.BaseDir})
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			AccessKeyID:            lookupEnvDefault("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:        lookupEnvDefault("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:               sc.Endpoint,
			UsePathStyle:           sc.UsePathStyle,
			CreateBucketIfNotExist: sc.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", sc.Type)
	}
}
