package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tickettoken/ticket-indexer/boff"
	"github.com/tickettoken/ticket-indexer/config"
	"github.com/tickettoken/ticket-indexer/database"
	"github.com/tickettoken/ticket-indexer/indexer"
	"github.com/tickettoken/ticket-indexer/ledger"
	"github.com/tickettoken/ticket-indexer/logger"
	"github.com/tickettoken/ticket-indexer/metrics"
	"github.com/tickettoken/ticket-indexer/onchain"
	"github.com/tickettoken/ticket-indexer/reconciliation"
	"github.com/tickettoken/ticket-indexer/server"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type app struct {
	store      *database.Store
	indexer    *indexer.Indexer
	reconciler *reconciliation.Engine
	server     *server.Server
}

func main() {
	flag.Parse()

	cfg, err := config.BuildConfig()
	if err != nil {
		fmt.Println("Config error: ", err)
		os.Exit(1)
	}
	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s, program: %s",
		cfg.Chain.NodeURL, cfg.DB.Database, cfg.Indexer.ProgramAddress)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Run error: %s", err)
	}
	logger.Info("Shut down")
	logger.Sync()
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.ConnectAndInitialize(ctx, &cfg.DB, cfg.Indexer.Version)
	if err != nil {
		return errors.Wrap(err, "Database connect and initialize error")
	}

	solanaClient, err := ledger.NewSolanaClient(cfg.Chain)
	if err != nil {
		return errors.Wrap(err, "Ledger client init error")
	}

	a, err := newApp(ctx, cfg, db, solanaClient, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.indexer.Run(ctx)
	})
	g.Go(func() error {
		return a.server.Run(ctx, cfg.Server.ListenAddress)
	})
	if cfg.Reconciliation.Enabled {
		g.Go(func() error {
			return a.reconciler.Schedule(ctx, cfg.Reconciliation.Interval())
		})
	}
	return g.Wait()
}

// newApp wires the components on top of an initialized database and a raw
// ledger client.
func newApp(
	ctx context.Context, cfg *config.Config, db *gorm.DB, client ledger.Client, registerer prometheus.Registerer,
) (*app, error) {
	sink := metrics.NewPrometheus(registerer)
	store := database.NewStore(db, boff.DatabaseOptions().WithOverrides(cfg.Retry.Database))
	chain := ledger.NewRetryingClient(client, boff.RPCOptions().WithOverrides(cfg.Retry.RPC), sink)

	state, err := store.LoadIndexerState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Indexer state load error")
	}
	progress := indexer.NewProgressFromState(state)

	ingestor := indexer.NewIngestor(chain, store, database.NewAuditLog(store), sink)
	ix, err := indexer.CreateIndexer(cfg.Indexer, chain, ingestor, store, progress)
	if err != nil {
		return nil, errors.Wrap(err, "Indexer init error")
	}

	reader := onchain.NewReader(chain)
	engine := reconciliation.NewEngine(store, reader, cfg.Reconciliation, sink)
	if err := engine.RecoverStaleRuns(ctx); err != nil {
		return nil, err
	}

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	srv := server.New(server.Deps{
		Store:      store,
		Ledger:     chain,
		Progress:   progress,
		Ingestion:  ix,
		Reconciler: engine,
		Tokens:     reader,
		Gatherer:   gatherer,
	})

	return &app{store: store, indexer: ix, reconciler: engine, server: srv}, nil
}
