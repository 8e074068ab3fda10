package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/dataspace-exchange/internal/app"
	"github.com/imrishuroy/dataspace-exchange/internal/config"
	"github.com/imrishuroy/dataspace-exchange/internal/handlers"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterExchangeRoutes(r, cfg)

	return r
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go func() {
		a.RegisterAssets(ctx)
		a.RegisterPartners(ctx)
	}()

	r := setupRouter(handlers.HandlerConfig{
		Dispatcher:   a.Dispatcher(ctx),
		Tokens:       a.Tokens,
		InboundRPS:   cfg.InboundRPS,
		InboundBurst: cfg.InboundBurst,
		Logger:       logger,
	})

	// RUN_LOCAL runs a plain HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", "addr", cfg.ListenAddr)
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Error("local server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
