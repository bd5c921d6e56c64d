package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/kiaplayer/go-editor-rpc/editor"
	"github.com/kiaplayer/go-editor-rpc/editorapi"
	"github.com/kiaplayer/go-editor-rpc/internal/config"
	"github.com/kiaplayer/go-editor-rpc/internal/logger"
	"github.com/kiaplayer/go-editor-rpc/internal/window"
	"github.com/kiaplayer/go-editor-rpc/transport/wswin"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "editor-rpc.yaml", "path to the config file")
	flag.Parse()

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

	// Every connected host edits its own document.
	serve := func(ctx context.Context, port editorapi.Port) error {
		var opts []editor.Option
		if cfg.Editor.RateLimit > 0 {
			opts = append(opts, editor.WithRateLimit(cfg.Editor.RateLimit, cfg.Editor.RateBurst))
		}
		server, err := editor.NewServer(port, cfg.Editor.TargetOrigin, cfg.Editor.HandlerTimeout, log, opts...)
		if err != nil {
			return err
		}
		doc := editor.NewDocument(cfg.Editor.RequiredAreas...)
		doc.Edit(false)
		doc.Register(server)
		return server.ProcessRequests(ctx)
	}

	log.Info("Editor started...", "transport", cfg.Window.Transport)

	switch cfg.Window.Transport {
	case "amqp":
		err = serveBroker(ctx, cfg, log, serve)
	default:
		err = serveWebSocket(ctx, cfg, log, serve)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("process requests error", "error", err)
		return 1
	}
	return 0
}

func serveBroker(ctx context.Context, cfg *config.Config, log *slog.Logger, serve func(context.Context, editorapi.Port) error) error {
	port, err := window.DialEditor(cfg.Window)
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Close(); err != nil {
			log.Warn("editor shutdown error", "error", err)
		}
	}()
	return serve(ctx, port)
}

func serveWebSocket(ctx context.Context, cfg *config.Config, log *slog.Logger, serve func(context.Context, editorapi.Port) error) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/editor", func(w http.ResponseWriter, r *http.Request) {
		port, err := wswin.Accept(w, r, wswin.Options{OriginPatterns: cfg.Editor.OriginPatterns})
		if err != nil {
			log.Warn("websocket accept failed", "error", err)
			return
		}
		defer port.Close()
		log.Info("host connected", "origin", port.PeerOrigin())
		if err := serve(r.Context(), port); err != nil && r.Context().Err() == nil {
			log.Warn("host session ended", "error", err)
		}
	})

	srv := &http.Server{Addr: cfg.Editor.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("editor serve: %w", err)
	}
	return nil
}
