package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/dataspace-exchange/internal/app"
	"github.com/imrishuroy/dataspace-exchange/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	p := NewProcessor(a.Orchestrator, logger)

	// If RUN_LOCAL=true, process a single envelope from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: os.Getenv("LOCAL_SQS_BODY")}},
		}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			logger.Error("local envelope failed")
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
