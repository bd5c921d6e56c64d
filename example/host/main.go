package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
	"github.com/kiaplayer/go-editor-rpc/internal/config"
	"github.com/kiaplayer/go-editor-rpc/internal/logger"
	"github.com/kiaplayer/go-editor-rpc/internal/window"
	"github.com/kiaplayer/go-editor-rpc/workflow"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "editor-rpc.yaml", "path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config file] save|publish|generate\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if flag.Arg(0) == "generate" {
		log.Info("Generating document...", "communicationId", cfg.Publish.CommunicationID)
		generator := &workflow.FormGenerator{
			URL:             cfg.Publish.GenerateURL,
			CommunicationID: cfg.Publish.CommunicationID,
		}
		if err := generator.SubmitGenerate(ctx); err != nil {
			log.Error("generate failed", "error", err)
			return 1
		}
		return 0
	}

	port, err := window.DialHost(ctx, cfg.Window)
	if err != nil {
		log.Error("editor window", "error", err)
		return 1
	}
	defer func() {
		if err := port.Close(); err != nil {
			log.Warn("window close error", "error", err)
		}
	}()

	var opts []editorapi.Option
	if cfg.Window.CheckOrigin {
		opts = append(opts, editorapi.WithOriginCheck())
	}
	instance := editorapi.GetInstance(port, cfg.Window.TargetOrigin, log, opts...)

	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	go func() {
		if err := instance.Listen(listenCtx, port); err != nil && listenCtx.Err() == nil {
			log.Error("editor listener stopped", "error", err)
		}
	}()

	integration := workflow.NewIntegration(instance, &workflow.FormPublisher{
		URL:             cfg.Publish.URL,
		CommunicationID: cfg.Publish.CommunicationID,
		DocumentID:      cfg.Publish.DocumentID,
	}, log)

	callCtx, cancel := context.WithTimeout(ctx, cfg.Window.CallTimeout)
	defer cancel()

	start := time.Now()
	var outcome workflow.Outcome
	switch flag.Arg(0) {
	case "save":
		outcome, err = integration.Save(callCtx)
	case "publish":
		outcome, err = integration.Publish(callCtx)
	default:
		flag.Usage()
		return 2
	}
	if err != nil {
		log.Error(flag.Arg(0)+" failed", "error", err)
		return 1
	}
	log.Info(flag.Arg(0)+" finished", "outcome", outcome.String(), "elapsed", time.Since(start).String())
	return 0
}
