// Package server wires the index server together: record store, data tree,
// blob backend, registries and the gRPC endpoint, with signal-driven
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/logging"
	"github.com/dmitrijs2005/pkgindex/internal/server/config"
	"github.com/dmitrijs2005/pkgindex/internal/server/description"
	"github.com/dmitrijs2005/pkgindex/internal/server/keyfs"
	"github.com/dmitrijs2005/pkgindex/internal/server/models"
	"github.com/dmitrijs2005/pkgindex/internal/server/releasefile"
	"github.com/dmitrijs2005/pkgindex/internal/server/services"

	"github.com/hashicorp/go-multierror"

	gs "github.com/dmitrijs2005/pkgindex/internal/server/grpc"
)

// Root user and mirror every fresh installation starts with.
const (
	RootUser    = "root"
	RootMirror  = "pypi"
	rootPwBytes = 16
)

// openPostgres is replaced in tests.
var openPostgres = func(ctx context.Context, dsn string) (keyfs.Store, func() error, error) {
	s, err := keyfs.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// newS3Store is replaced in tests.
var newS3Store = func(ctx context.Context, o releasefile.S3Options) (releasefile.Store, error) {
	return releasefile.NewS3Store(ctx, o)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	kfs     *keyfs.KeyFS
	users   *services.UserService
	indexes *services.IndexService
	closers []func() error
}

// NewApp builds every component from c. The record store is PostgreSQL
// when a DSN is configured and in-memory otherwise.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))
	}
	app := &App{config: c, logger: logger}

	var store keyfs.Store
	if c.DatabaseDSN != "" {
		pg, closeFn, err := openPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		store = pg
		app.closers = append(app.closers, closeFn)
	} else {
		logger.Warn(ctx, "no database configured, records are kept in memory")
		store = keyfs.NewMemoryStore()
	}

	kfs, err := keyfs.NewOnDisk(store, c.DataDir)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("data dir init error: %w", err)
	}
	app.kfs = kfs

	var blobs releasefile.Store
	switch c.BlobBackend {
	case config.BlobBackendS3:
		blobs, err = newS3Store(ctx, releasefile.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
	default:
		blobs = releasefile.NewFSStore(kfs.FS())
	}

	app.users = services.NewUserService(kfs, c, logger)
	app.indexes = services.NewIndexService(kfs, blobs, description.NewRenderer(), c, logger)
	return app, nil
}

func (app *App) Users() *services.UserService    { return app.users }
func (app *App) Indexes() *services.IndexService { return app.indexes }
func (app *App) Logger() logging.Logger          { return app.logger }

// Close releases the record store.
func (app *App) Close() error {
	var result *multierror.Error
	for _, c := range app.closers {
		result = multierror.Append(result, c())
	}
	app.closers = nil
	return result.ErrorOrNil()
}

// Bootstrap creates the root user and its mirror index on a fresh
// installation. The generated root password is not shown anywhere; set
// one with the admin tool.
func (app *App) Bootstrap(ctx context.Context) error {
	exists, err := app.users.Exists(ctx, RootUser)
	if err != nil {
		return err
	}
	if !exists {
		pw, err := common.MakeRandHexString(rootPwBytes)
		if err != nil {
			return err
		}
		if _, err := app.users.Create(ctx, RootUser, pw, ""); err != nil && !errors.Is(err, common.ErrConflict) {
			return fmt.Errorf("create root user: %w", err)
		}
		app.logger.Warn(ctx, "created root user with a random password, set one with 'stagectl user passwd root'")
	}

	_, err = app.indexes.GetIndexConfig(ctx, RootUser, RootMirror)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	mirrorType := common.IndexTypeMirror
	volatile := false
	if _, err := app.indexes.SetIndexConfig(ctx, RootUser, RootMirror, models.IndexConfigUpdate{Type: &mirrorType, Volatile: &volatile}); err != nil {
		return fmt.Errorf("create %s/%s: %w", RootUser, RootMirror, err)
	}
	app.logger.Info(ctx, "created mirror index", "index", models.StageName(RootUser, RootMirror))
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger)
	s.SetServing(true)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run bootstraps the store and serves until a signal arrives or ctx ends.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	return app.Close()
}
