package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perpscalp/engine/internal/exchange/okx"
	"github.com/perpscalp/engine/internal/orchestrator"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/pkg/config"
)

const (
	exitOK                = 0
	exitConfigError       = 1
	exitExchangeUnreach   = 2
	exitInterrupted       = 130
	startupBalanceTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

// run wires config -> gateway -> orchestrator and blocks until ctx is
// cancelled by SIGINT/SIGTERM, returning the process exit code spec.md §6
// names: 0 normal, 1 config error, 2 exchange unreachable at startup, 130
// on interrupt.
func run() int {
	var (
		configPath = flag.String("config", "config.yml", "path to the engine's YAML config file")
		envFile    = flag.String("env", ".env", "path to a .env file overlaying exchange credentials")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Printf("config error: %v", err)
		return exitConfigError
	}

	logger, err := telemetry.New(cfg.Telemetry.LogDir, "scalper", cfg.Telemetry.Debug)
	if err != nil {
		log.Printf("config error: %v", err)
		return exitConfigError
	}
	defer logger.Close()

	printStartupTable(cfg)

	gw := okx.NewClient(okx.Credentials{
		APIKey: cfg.Exchange.ApiKey, APISecret: cfg.Exchange.ApiSecret, Passphrase: cfg.Exchange.Passphrase,
	}, okx.Config{
		BaseURL: cfg.Exchange.RESTURL, WSPublicURL: cfg.Exchange.WSPublic, WSPrivateURL: cfg.Exchange.WSPrivate,
		CircuitFailureLimit: cfg.Safety.CircuitBreakerFailureThreshold, CircuitResetSeconds: cfg.Safety.CircuitBreakerResetSeconds,
	})

	probeCtx, probeCancel := context.WithTimeout(context.Background(), startupBalanceTimeout)
	defer probeCancel()
	if _, err := gw.GetBalance(probeCtx); err != nil {
		logger.Error("exchange unreachable at startup", err)
		return exitExchangeUnreach
	}

	health := telemetry.NewHealthChecker()
	go serveMonitoring(cfg, health, logger)

	orch, err := orchestrator.NewOrchestrator(cfg, gw, logger, health)
	if err != nil {
		logger.Error("build orchestrator", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
		<-runErr
		return exitInterrupted
	case err := <-runErr:
		if err != nil {
			logger.Error("orchestrator exited", err)
			return exitExchangeUnreach
		}
		return exitOK
	}
}

// serveMonitoring starts the Prometheus and health-check HTTP endpoints on
// their own mux, mirroring the teacher's separate-goroutine HTTP server
// pattern rather than sharing one mux with any trading-facing surface.
func serveMonitoring(cfg *config.EngineConfig, health *telemetry.HealthChecker, logger *telemetry.Logger) {
	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", health)
	go func() {
		if err := http.ListenAndServe(cfg.Telemetry.HealthAddr, healthMux); err != nil {
			logger.Error("health server stopped", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(cfg.Telemetry.MetricsAddr, metricsMux); err != nil {
		logger.Error("metrics server stopped", err)
	}
}

// printStartupTable renders the loaded config as a one-time console banner,
// redacting credentials the same way config.Redact does for log lines.
func printStartupTable(cfg *config.EngineConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PERP SCALPER STARTING")
	t.SetStyle(table.StyleRounded)

	symbols := ""
	for i, sc := range cfg.Symbols {
		if !sc.Enabled {
			continue
		}
		if symbols != "" {
			symbols += ", "
		}
		symbols += sc.Symbol
		if i > 12 {
			symbols += ", ..."
			break
		}
	}

	t.AppendRows([]table.Row{
		{"Exchange", cfg.Exchange.Name},
		{"REST endpoint", cfg.Exchange.RESTURL},
		{"Testnet", cfg.Exchange.Testnet},
		{"Symbols", symbols},
		{"API key", config.Redact("api_key", cfg.Exchange.ApiKey)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}
