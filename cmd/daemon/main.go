package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/coverled/internal/artwork"
	"github.com/genricoloni/coverled/internal/config"
	"github.com/genricoloni/coverled/internal/display"
	"github.com/genricoloni/coverled/internal/domain"
	"github.com/genricoloni/coverled/internal/engine"
	"github.com/genricoloni/coverled/internal/fetcher"
	"github.com/genricoloni/coverled/internal/processor"
	"github.com/genricoloni/coverled/internal/session"
	"github.com/genricoloni/coverled/internal/transport"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const stopTimeout = 15 * time.Second

// AppOptions wires every component of the daemon
var AppOptions = fx.Options(
	// Provide dependencies
	fx.Provide(
		newLogger,
		config.NewAppConfig,
		newHTTPClient,
		session.NewBackend,
		fx.Annotate(
			session.NewClient,
			fx.As(fx.Self()),
			fx.As(new(domain.SessionClient)),
			fx.As(new(domain.CoverArtSource)),
		),
		fx.Annotate(
			fetcher.NewHTTPFetcher,
			fx.As(new(domain.Fetcher)),
		),
		newArtworkResolver,
		newFramer,
		display.NewSink,
		engine.NewEngine,
	),

	// Lifecycle hooks
	fx.Invoke(registerHooks),
)

func main() {
	os.Exit(run())
}

func run() int {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		// Login may walk several endpoints, each bounded by the HTTP timeout
		fx.StartTimeout(time.Minute),
		AppOptions,
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "coverled: %v\n", err)
		return 1
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "coverled: shutdown: %v\n", err)
		return 1
	}
	return 0
}

// newLogger creates the production logger; COVERLED_LOG_LEVEL overrides the level
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl := os.Getenv("COVERLED_LOG_LEVEL"); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("COVERLED_LOG_LEVEL: %w", err)
		}
		cfg.Level = level
	}
	return cfg.Build()
}

func newHTTPClient(logger *zap.Logger, cfg *config.AppConfig) *retryablehttp.Client {
	return transport.NewHTTPClient(logger, cfg.HTTPTimeout())
}

func newArtworkResolver(
	logger *zap.Logger,
	cfg *config.AppConfig,
	covers domain.CoverArtSource,
	urls domain.Fetcher,
) domain.ArtworkResolver {
	return artwork.NewFetcher(
		logger.Named("artwork"),
		cfg.Artwork.MountPoint,
		cfg.Artwork.ServerPathPrefix,
		covers,
		urls,
		cfg.Panel.Resolution(),
	)
}

func newFramer(logger *zap.Logger, cfg *config.AppConfig) (domain.Framer, error) {
	matte, err := processor.ParseMatte(cfg.Display.Matte)
	if err != nil {
		return nil, err
	}
	return processor.NewComposer(logger, cfg.Panel.Resolution(), matte).
		WithBlurRadius(float64(cfg.Display.BlurRadius)), nil
}

// registerHooks ties the engine and the session client to the application lifecycle
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, eng *engine.Engine, client *session.Client) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := eng.Start(ctx); err != nil {
				return err
			}
			logger.Info("coverled daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return multierr.Append(eng.Stop(ctx), client.Close())
		},
	})
}
