package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/config"
	"github.com/leapmux/claimsync/internal/devserver"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/logging"
	"github.com/leapmux/claimsync/internal/realtime"
)

// demoAgents are registered on every dev server next to the configured agent.
var demoAgents = []string{"agent-demo-1", "agent-demo-2"}

func runDevServer(args []string) error {
	fs := flag.NewFlagSet("devserver", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", "", "listen address (overrides devserver_addr)")
	compress := fs.Bool("compress", false, "send pushes as zstd-compressed binary frames")
	publish := fs.Bool("amqp", false, "also publish pushes to the broker at amqp_url")
	seed := fs.Int("seed", 5, "number of unclaimed conversations to create")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.DevServerAddr
	}

	logging.PrintBanner("devserver", version, *addr)

	dc := devserver.Config{Addr: *addr, Compress: *compress}
	if *publish {
		pub, err := realtime.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		dc.Publisher = pub
	}

	srv := devserver.New(dc)
	if err := seedStore(srv.Store(), cfg, *seed); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

func seedStore(store *devserver.Store, cfg *config.Config, n int) error {
	if cfg.AgentID != "" {
		store.AddAgent(cfg.AgentID, cfg.Token)
		slog.Info("registered agent", "agent_id", cfg.AgentID)
	}
	for _, agentID := range demoAgents {
		token := store.AddAgent(agentID, "")
		slog.Info("registered agent", "agent_id", agentID, "token", token)
	}
	for i := range n {
		c := gateway.Claim{
			Key:          claims.Key(fmt.Sprintf("+1555000%04d", i)),
			CustomerID:   fmt.Sprintf("cust-%d", i),
			CustomerName: fmt.Sprintf("Customer %d", i),
		}
		if i%2 == 1 {
			c.OrderID = fmt.Sprintf("order-%d", i)
		}
		if err := store.AddConversation(c); err != nil {
			return fmt.Errorf("seed conversation: %w", err)
		}
	}
	return nil
}
