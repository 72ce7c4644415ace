package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/config"
	"github.com/leapmux/claimsync/internal/console"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/logging"
	"github.com/leapmux/claimsync/internal/notify"
	"github.com/leapmux/claimsync/internal/realtime"
	"github.com/leapmux/claimsync/internal/unread"
)

// runAgent runs a headless agent session: it keeps the claim cache in sync
// and logs every notice until interrupted.
func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		return err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.PrintBanner("agent", version, cfg.ServerURL)

	store, err := unread.OpenSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cache, err := claims.NewCache(store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	bridge := notify.NewBridge(notify.LogSink{})
	sub := cache.Subscribe()
	defer cache.Unsubscribe(sub)
	go bridge.Run(ctx, sub)

	ch := realtime.NewChannel(newTransport(cfg), cache.ApplyPush)
	con := console.New(gateway.New(cfg.ServerURL, cfg.H2C), cache, ch, console.Options{
		MessagePollInterval: cfg.MessagePollInterval,
		CountPollInterval:   cfg.CountPollInterval,
	})
	ch.OnConnect = con.Resync
	ch.OnUnauthorized = func() {
		slog.Error("push channel rejected the agent token")
		stop()
	}
	con.OnTicketChange = func(ticketID string) {
		slog.Info("active ticket changed", "ticket_id", ticketID)
	}

	if err := con.SignIn(ctx, cfg.AgentID, cfg.Token); err != nil {
		return err
	}
	defer con.SignOut()

	<-ctx.Done()
	slog.Info("agent shutting down...")
	return nil
}

func newTransport(cfg *config.Config) realtime.Transport {
	if cfg.Transport == config.TransportAMQP {
		return realtime.NewAMQPTransport(cfg.AMQPURL)
	}
	return realtime.NewWebSocketTransport(cfg.EventsURL)
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics listener failed", "error", err)
	}
}
