package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Tomyleexrp/xrplmeta/internal/cache"
	"github.com/Tomyleexrp/xrplmeta/internal/config"
	"github.com/Tomyleexrp/xrplmeta/internal/exchanges"
	"github.com/Tomyleexrp/xrplmeta/internal/feed"
	"github.com/Tomyleexrp/xrplmeta/internal/ingest"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/ranked"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/service"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
	"github.com/Tomyleexrp/xrplmeta/internal/tokens"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// NativeToken returns the pricing-reference asset.
func (a *App) NativeToken() ledger.Token {
	return ledger.Token{Currency: a.Config.Ledger.NativeCurrency}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running indexing service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the indexer")
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	if a.Config.Ledger.FeedPath == "" {
		return errors.New("ledger.feed_path is required to run the indexer")
	}
	source, err := feed.OpenFile(a.Config.Ledger.FeedPath)
	if err != nil {
		return err
	}
	defer source.Close()

	diff := tokens.NewProcessor(store, store, a.Logger)
	extractor := exchanges.NewExtractor(store, a.Logger)
	ingester := ingest.New(store, diff, extractor, a.Config.Ingest.Workers, a.Logger)
	defer ingester.Close()

	computer := cache.NewComputer(store, store, store, store, a.NativeToken(), a.Logger)
	rankSync := ranked.NewSynchronizer(store, a.Logger)
	tracker := scope.NewTracker()

	svc := service.New(a.Config, source, ingester, tracker, computer, rankSync, store, store, store, a.Logger)

	a.Logger.Info().Msg("starting indexing service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("indexing service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a token's trade history.
type ExportOptions struct {
	Currency  string
	Issuer    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command. A non-empty Currency switches from
// the top-by-volume listing to a single-token detail view.
type ShowOptions struct {
	Limit    int
	Currency string
	Issuer   string
}
