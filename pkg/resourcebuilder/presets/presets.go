package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/config"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/mimetype"
	memoryrepo "github.com/tendant/resource-builder/pkg/resourcebuilder/repo/memory"
	fsstorage "github.com/tendant/resource-builder/pkg/resourcebuilder/storage/fs"
	memorystorage "github.com/tendant/resource-builder/pkg/resourcebuilder/storage/memory"
)

// Configuration Presets
//
// Presets assemble a resolver factory and a builder factory for common
// situations without going through the full configuration system.

// Stack is what callers need to build and read resources.
type Stack struct {
	Resolvers *rb.ResolverFactory
	Builders  *rb.Factory
}

// Builder opens a new session and returns a builder for its root.
func (s *Stack) Builder(ctx context.Context) (*rb.Builder, error) {
	return s.Builders.ForResolver(ctx, s.Resolvers.Open())
}

// NewDevelopment creates a stack for local development.
//
// Features:
//   - In-memory repository (instant startup, no setup required)
//   - Filesystem storage at ./dev-data/
//   - Committed changes logged through slog
//
// The returned cleanup function removes the storage directory.
//
// Example:
//
//	stack, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*Stack, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{
		BaseDir: cfg.storageDir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	resolvers, err := rb.NewResolverFactory(
		rb.WithRepository(memoryrepo.New()),
		rb.WithBlobStore(fsBackend),
		rb.WithEventSink(rb.NewLoggingEventSink(cfg.logger)),
		rb.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resolver factory: %w", err)
	}

	cleanup := func() {
		os.RemoveAll(cfg.storageDir)
	}
	return &Stack{Resolvers: resolvers, Builders: rb.NewFactory(mimetype.New())}, cleanup, nil
}

// NewTesting creates a stack for unit and integration tests.
//
// Features:
//   - In-memory repository and storage (isolated per test)
//   - No event logging (cleaner test output)
//   - Optional fixture tree, see WithTestFixtures
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    stack := presets.NewTesting(t)
//	    // Use stack in test...
//	}
func NewTesting(t testing.TB, opts ...TestingOption) *Stack {
	t.Helper()
	cfg := &testConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	resolvers, err := rb.NewResolverFactory(
		rb.WithRepository(memoryrepo.New()),
		rb.WithBlobStore(memorystorage.New()),
	)
	if err != nil {
		t.Fatalf("failed to create test resolver factory: %v", err)
	}
	stack := &Stack{Resolvers: resolvers, Builders: rb.NewFactory(mimetype.New())}

	if cfg.fixtures {
		if err := seedFixtures(context.Background(), stack); err != nil {
			t.Fatalf("failed to create test fixtures: %v", err)
		}
	}
	return stack
}

// Fixture paths created by WithTestFixtures
const (
	FixtureRoot = "/fixtures"
	FixtureFile = "/fixtures/docs/readme.txt"
)

// FixtureFileContent is the payload of FixtureFile
const FixtureFileContent = "fixture file"

func seedFixtures(ctx context.Context, stack *Stack) error {
	b, err := stack.Builder(ctx)
	if err != nil {
		return err
	}
	return b.Resource(strings.TrimPrefix(FixtureRoot, "/"), "title", "Fixtures").
		Resource("docs", "title", "Documents").
		File("readme.txt", strings.NewReader(FixtureFileContent), rb.WithLastModified(time.Unix(0, 0).UTC())).
		SiblingResource("images", "title", "Images").
		Commit()
}

// NewProduction creates a stack for production deployment from the
// environment, see config.FromEnv.
//
// Required Environment Variables:
//   - DATABASE_URL: PostgreSQL connection string
//   - STORAGE_URL: file:// or s3:// location of binary payloads
//
// The returned cleanup function releases database connections.
//
// Example:
//
//	stack, cleanup, err := presets.NewProduction()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewProduction(ctx context.Context, opts ...config.Option) (*Stack, func(), error) {
	cfg, err := config.Load(append([]config.Option{config.FromEnv(), config.WithEventLogging(true)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	if cfg.DatabaseType != "postgres" {
		return nil, nil, fmt.Errorf("production preset requires a postgres DATABASE_URL (memory not allowed in production)")
	}
	storage, err := cfg.Storage()
	if err != nil {
		return nil, nil, err
	}
	if storage.Type == "memory" {
		return nil, nil, fmt.Errorf("production preset requires persistent storage (s3 or fs, not memory)")
	}

	resolvers, cleanup, err := cfg.BuildResolverFactory(ctx, cfg.NewLogger(os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	return &Stack{Resolvers: resolvers, Builders: cfg.BuildFactory()}, cleanup, nil
}

// devConfig holds development preset configuration
type devConfig struct {
	storageDir string
	logger     *slog.Logger
}

// testConfig holds testing preset configuration
type testConfig struct {
	fixtures bool
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevLogger sets the logger for commits and change events
func WithDevLogger(logger *slog.Logger) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.logger = logger
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestFixtures creates a small tree below FixtureRoot
func WithTestFixtures() TestingOption {
	return func(cfg *testConfig) {
		cfg.fixtures = true
	}
}
