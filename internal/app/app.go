// Package app wires the exchange engine from a Config. Both binaries build
// the same graph; only their entrypoints differ.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/dataspace-exchange/internal/aws"
	"github.com/imrishuroy/dataspace-exchange/internal/config"
	"github.com/imrishuroy/dataspace-exchange/internal/db"
	"github.com/imrishuroy/dataspace-exchange/internal/edc"
	"github.com/imrishuroy/dataspace-exchange/internal/exchange"
	"github.com/imrishuroy/dataspace-exchange/internal/handlers"
	"github.com/imrishuroy/dataspace-exchange/internal/ledger"
	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/metrics"
	"github.com/imrishuroy/dataspace-exchange/internal/partners"
	"github.com/imrishuroy/dataspace-exchange/internal/poll"
	"github.com/imrishuroy/dataspace-exchange/internal/stock"
	"github.com/imrishuroy/dataspace-exchange/internal/tokenstore"
)

// App is the wired engine.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Orchestrator *exchange.Orchestrator
	Tokens       tokenstore.Store
	Partners     masterdata.PartnerDirectory
	Registrar    *partners.Registrar

	clients *aws.AWSClients
	pool    *pgxpool.Pool
	mgmt    *edc.ManagementClient
}

// Build connects every backend cfg names. AWS clients are only created when
// a component needs them.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if cfg.LedgerBackend == "dynamodb" || cfg.QueueURL != "" || cfg.MetricsNamespace != "" {
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: aws clients: %w", err)
		}
		a.clients = clients
	}

	var lg ledger.Ledger
	if cfg.LedgerBackend == "memory" {
		if cfg.QueueURL != "" {
			logger.Warn("memory ledger is not shared with the worker; queued exchanges will not find their records")
		}
		lg = ledger.NewMemoryLedger()
	} else {
		lg = ledger.NewDynamoLedger(a.clients.DynamoDB, cfg.LedgerTable)
	}

	if cfg.RedisAddr != "" {
		a.Tokens = tokenstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.TokenTTL)
	} else {
		a.Tokens = tokenstore.NewMemoryStore(cfg.TokenTTL)
	}

	var (
		materials masterdata.MaterialDirectory
		own       stock.OwnRepository
		reported  stock.ReportedRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		dir := masterdata.NewPGDirectory(pool)
		repo := stock.NewPGRepository(pool)
		a.Partners, materials = dir, dir
		own, reported = repo, repo
	} else {
		logger.Warn("no database configured, master data and stock are kept in memory")
		dir := masterdata.NewMemoryDirectory()
		repo := stock.NewMemoryRepository()
		a.Partners, materials = dir, dir
		own, reported = repo, repo
	}

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.MetricsNamespace != "" {
		rec = aws.NewMetricsRecorder(a.clients.CloudWatch, cfg.MetricsNamespace)
	}

	mgmt := edc.NewManagementClient(cfg.EDCManagementURL, cfg.EDCAPIKey, &http.Client{Timeout: 30 * time.Second})
	mgmt.FrameworkAgreement = cfg.FrameworkAgreement
	a.mgmt = mgmt
	engine := edc.NewEngine(mgmt, a.Tokens, edc.Options{
		FrameworkAgreement:        cfg.FrameworkAgreement,
		RequireFrameworkAgreement: cfg.RequireFrameworkAgreement,
		Poll:                      poll.Policy{Interval: cfg.PollInterval, Attempts: cfg.PollAttempts},
		Metrics:                   rec,
		Logger:                    logger,
	})

	a.Orchestrator = exchange.NewOrchestrator(exchange.Deps{
		OwnBPNL:    cfg.OwnBPNL,
		Ledger:     lg,
		Partners:   a.Partners,
		Materials:  materials,
		OwnStock:   own,
		Reported:   reported,
		Negotiator: engine,
		Metrics:    rec,
		Logger:     logger,
	})
	a.Registrar = partners.NewRegistrar(cfg.OwnBPNL, mgmt, logger)
	return a, nil
}

// Dispatcher returns the queue dispatcher when a queue is configured and an
// in-process pool running under base otherwise.
func (a *App) Dispatcher(base context.Context) exchange.Dispatcher {
	if a.Config.QueueURL != "" {
		return exchange.NewSQSDispatcher(aws.NewPublisher(a.clients.SQS, a.Config.QueueURL))
	}
	return exchange.NewPoolDispatcher(base, a.Orchestrator, a.Config.WorkerPoolSize, a.Logger)
}

// RegisterAssets registers the request and response APIs on the own
// connector under PublicBaseURL.
func (a *App) RegisterAssets(ctx context.Context) {
	base := strings.TrimRight(a.Config.PublicBaseURL, "/")
	if base == "" {
		a.Logger.Warn("public_base_url not set; exchange assets are not registered")
		return
	}
	err := a.mgmt.RegisterAPIAssets(ctx, []edc.APIEndpoint{
		{API: edc.ItemStockRequestAPI, URL: base + handlers.RequestPath},
		{API: edc.ItemStockResponseAPI, URL: base + handlers.ResponsePath},
	})
	if err != nil {
		a.Logger.Error("register exchange assets", "error", err)
		return
	}
	a.Logger.Info("exchange assets registered", "base_url", base)
}

// RegisterPartners runs the asset registration for every known partner.
func (a *App) RegisterPartners(ctx context.Context) {
	res, err := a.Registrar.RegisterAll(ctx, a.Partners)
	if err != nil {
		a.Logger.Error("list partners for registration", "error", err)
		return
	}
	a.Logger.Info("partner registration finished",
		"registered", len(res.Registered), "failed", len(res.Failed), "skipped", len(res.Skipped))
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
