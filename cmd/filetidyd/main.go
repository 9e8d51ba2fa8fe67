// cmd/filetidyd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/filetidy/filetidy/internal/agentmgr"
	"github.com/filetidy/filetidy/internal/config"
	"github.com/filetidy/filetidy/internal/events"
	"github.com/filetidy/filetidy/internal/inference"
	"github.com/filetidy/filetidy/internal/journal"
	"github.com/filetidy/filetidy/internal/natsbridge"
	"github.com/filetidy/filetidy/internal/notify"
	"github.com/filetidy/filetidy/internal/server"
	"github.com/filetidy/filetidy/internal/suggest"
	"github.com/filetidy/filetidy/internal/sysmonitor"
	"github.com/filetidy/filetidy/internal/tasks"
	"github.com/filetidy/filetidy/internal/txfile"
	"github.com/filetidy/filetidy/internal/validator"
)

func main() {
	configPath := flag.String("config", "filetidy.yaml", "Daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.FileManager.BackupDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create backup dir: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FileManager.JournalPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create journal dir: %v\n", err)
		os.Exit(1)
	}

	printBanner()

	store, err := journal.Open(cfg.FileManager.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	fmt.Printf("  Journal opened at %s\n", cfg.FileManager.JournalPath)

	j := journal.New(store)
	tfm := txfile.NewManager(cfg.FileManager.BackupDir, j)
	v := validator.New(nil, nil)

	bus := events.NewBus(nil)
	queue := tasks.NewQueue(cfg.AgentManager.MaxResultHistory)

	infClient := inference.NewClient(
		cfg.Inference.BaseURL,
		time.Duration(cfg.Inference.RequestTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Inference.RetryBaseDelayMs)*time.Millisecond,
		cfg.Inference.RetryMaxAttempts,
		cfg.Inference.BreakerMaxFailures,
		time.Duration(cfg.Inference.BreakerOpenTimeoutMs)*time.Millisecond,
	)

	agentMgr := agentmgr.NewManager(cfg.AgentManager, queue, infClient, bus, cfg.Inference.DefaultModel)
	monitor := sysmonitor.NewMonitor(cfg.AgentManager.OSReservedMemoryMB, cfg.AgentManager.SoftThreshold, bus)
	pipeline := suggest.New(v, tfm, bus)

	notifier := notify.NewManager(notify.Config{
		AppID:          "filetidy",
		DashboardURL:   fmt.Sprintf("http://%s", cfg.Server.ListenAddr),
		EnableToast:    true,
		EnableTerminal: true,
		EnableBanner:   true,
	})

	fmt.Println("  Components initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx, cfg.AgentManager.SlotRecomputeInterval(), 1*time.Second)
	go feedAgentManagerHealth(ctx, monitor, agentMgr, cfg.AgentManager.SlotRecomputeInterval())
	agentMgr.Start(ctx)
	notifier.Subscribe(ctx, bus)

	if cfg.NATS.Enabled {
		natsSrv, err := natsbridge.NewEmbeddedServer(natsbridge.EmbeddedServerConfig{
			Port:          cfg.NATS.Port,
			WebSocketPort: cfg.NATS.WebSocketPort,
			JetStream:     true,
			DataDir:       cfg.NATS.DataDir,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure nats: %v\n", err)
			os.Exit(1)
		}
		if err := natsSrv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start nats: %v\n", err)
			os.Exit(1)
		}
		defer natsSrv.Shutdown()

		natsClient, err := natsbridge.NewClient(natsSrv.URL(), func(format string, args ...interface{}) {
			fmt.Printf(format+"\n", args...)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect nats client: %v\n", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		streamMgr, err := natsbridge.NewStreamManager(natsClient.RawConn())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create nats stream manager: %v\n", err)
			os.Exit(1)
		}
		if err := streamMgr.SetupStreams(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set up nats streams: %v\n", err)
			os.Exit(1)
		}

		bridge := natsbridge.NewBridge(natsClient, bus, nil)
		go bridge.Run(ctx)
		fmt.Printf("  NATS bridge listening at %s\n", natsSrv.URL())
	}

	srv := server.New(cfg.Server.ListenAddr, agentMgr, queue, pipeline, notifier, bus, cfg.FileManager)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	fmt.Printf("  Control surface listening at http://%s\n", cfg.Server.ListenAddr)
	fmt.Println()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("shutting down (signal received)...")
	}

	cancel()
	agentMgr.Stop()

	if err := srv.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}

	fmt.Println("goodbye")
}

// feedAgentManagerHealth polls the System Monitor's latest snapshot and
// pushes it into the Agent Manager's slot-recompute input, since the two
// components are wired through direct state rather than the event bus
// (Monitor's published events carry only a pressure summary, not the full
// snapshot the Agent Manager needs to size slots).
func feedAgentManagerHealth(ctx context.Context, monitor *sysmonitor.Monitor, mgr *agentmgr.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if health, ok := monitor.Latest(); ok {
				mgr.OnHealthUpdate(health)
			}
		}
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                    filetidy daemon                    ║")
	fmt.Println("  ║       Safe, automated file organization engine       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()
}
