// Leagueflow entry point.
//
// Usage:
//
//	leagueflow coordinator [--config config.yaml]
//	leagueflow official    --id o1 [--config config.yaml]
//	leagueflow participant --id p1 [--strategy adaptive] [--config config.yaml]
//	leagueflow health      [--addr http://localhost:8080]
//	leagueflow version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/config"
	"github.com/BaSui01/leagueflow/coordinator"
	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/official"
	"github.com/BaSui01/leagueflow/participant"
	"github.com/BaSui01/leagueflow/resilience"
	"github.com/BaSui01/leagueflow/store"
	"github.com/BaSui01/leagueflow/strategy"
	"github.com/BaSui01/leagueflow/transport"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "coordinator":
		runCoordinator(os.Args[2:])
	case "official":
		runOfficial(os.Args[2:])
	case "participant":
		runParticipant(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runtime bundles the pieces every role needs.
type runtime struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	collector  *metrics.Collector
	caller     *resilience.Caller
	server     *transport.Server
}

func setup(role string, configPath string) *runtime {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With(zap.String("role", role))

	logger.Info("starting leagueflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	collector := metrics.NewCollector("leagueflow", logger)
	caller := resilience.NewCaller(cfg.Caller, cfg.Breaker, logger,
		resilience.WithMetrics(collector))

	return &runtime{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		collector:  collector,
		caller:     caller,
	}
}

// watchConfig logs when the config file changes on disk. Restart to
// apply; hot apply only covers what the roles re-read per call.
func (rt *runtime) watchConfig() *config.Watcher {
	if rt.configPath == "" {
		return nil
	}
	w := config.NewWatcher(rt.configPath, 0, rt.logger, func() {
		rt.logger.Info("config file changed on disk, restart to apply",
			zap.String("path", rt.configPath))
	})
	w.Start()
	return w
}

func (rt *runtime) shutdown(w *config.Watcher) {
	if w != nil {
		w.Stop()
	}
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.logger.Warn("server shutdown failed", zap.Error(err))
		}
	}
	rt.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCoordinator(args []string) {
	fs := flag.NewFlagSet("coordinator", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	rt := setup("coordinator", *configPath)
	watcher := rt.watchConfig()
	defer rt.shutdown(watcher)

	db, err := store.Open(rt.cfg.Store.Path, rt.logger)
	if err != nil {
		rt.logger.Fatal("store open failed", zap.Error(err))
	}
	defer db.Close()

	authority := agent.NewTokenAuthority([]byte(rt.cfg.League.AuthSecret), rt.cfg.League.ID)
	coord := coordinator.New(coordinator.Config{
		LeagueID:           rt.cfg.League.ID,
		GameType:           rt.cfg.League.GameType,
		MinParticipants:    rt.cfg.League.MinParticipants,
		MaxParticipants:    rt.cfg.League.MaxParticipants,
		RoundsPerMatchup:   rt.cfg.League.RoundsPerMatchup,
		RegistrationWindow: rt.cfg.League.RegistrationWindow,
	}, rt.caller, authority, rt.logger,
		coordinator.WithMetrics(rt.collector),
		coordinator.WithStore(db),
	)

	rt.server = transport.NewServer(rt.cfg.Server, rt.logger,
		transport.WithAuthenticator(authority),
		transport.WithServerMetrics(rt.collector),
	)
	coord.RegisterHandlers(rt.server)
	if err := rt.server.Start(); err != nil {
		rt.logger.Fatal("server start failed", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := coord.Run(ctx); err != nil {
		rt.logger.Error("league run failed", zap.Error(err))
		os.Exit(1)
	}
	rt.logger.Info("league finished")
}

func runOfficial(args []string) {
	fs := flag.NewFlagSet("official", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	id := fs.String("id", "", "Official id (required)")
	fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "official: --id is required")
		os.Exit(1)
	}

	rt := setup("official", *configPath)
	watcher := rt.watchConfig()
	defer rt.shutdown(watcher)

	ctx, cancel := signalContext()
	defer cancel()

	off := official.New(*id, rt.cfg.League.CoordinatorEndpoint, rt.caller, rt.logger,
		official.WithMatchConfig(rt.cfg.Match),
		official.WithMetrics(rt.collector),
		official.WithBaseContext(ctx),
	)

	rt.server = transport.NewServer(rt.cfg.Server, rt.logger,
		transport.WithServerMetrics(rt.collector),
	)
	off.RegisterHandlers(rt.server)
	if err := rt.server.Start(); err != nil {
		rt.logger.Fatal("server start failed", zap.Error(err))
	}

	if err := off.Register(ctx, rt.server.Endpoint()); err != nil {
		rt.logger.Fatal("registration failed", zap.Error(err))
	}

	<-ctx.Done()
	off.Close()
	rt.logger.Info("official stopped")
}

func runParticipant(args []string) {
	fs := flag.NewFlagSet("participant", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	id := fs.String("id", "", "Participant id (required)")
	name := fs.String("name", "", "Display name shown in standings")
	strategyName := fs.String("strategy", "random", "Choice strategy: random, deterministic_even, deterministic_odd, alternating, adaptive")
	fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "participant: --id is required")
		os.Exit(1)
	}

	rt := setup("participant", *configPath)
	watcher := rt.watchConfig()
	defer rt.shutdown(watcher)

	opts := []participant.Option{
		participant.WithStrategy(strategy.New(*strategyName)),
		participant.WithMetrics(rt.collector),
	}
	if *name != "" {
		opts = append(opts, participant.WithDisplayName(*name))
	}
	p := participant.New(*id, rt.cfg.League.CoordinatorEndpoint, rt.caller, rt.logger, opts...)

	rt.server = transport.NewServer(rt.cfg.Server, rt.logger,
		transport.WithServerMetrics(rt.collector),
	)
	p.RegisterHandlers(rt.server)
	if err := rt.server.Start(); err != nil {
		rt.logger.Fatal("server start failed", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := p.Register(ctx, rt.server.Endpoint()); err != nil {
		rt.logger.Fatal("registration failed", zap.Error(err))
	}

	// Play until the completion broadcast lands or the process is told
	// to stop.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rt.logger.Info("participant stopped")
			return
		case <-ticker.C:
			if p.LeagueOver() {
				stats := p.State().Stats()
				rt.logger.Info("league over",
					zap.Int("wins", stats.Wins),
					zap.Int("draws", stats.Draws),
					zap.Int("losses", stats.Losses),
				)
				return
			}
		}
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("leagueflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`leagueflow - even/odd league agents

Usage:
  leagueflow <command> [options]

Commands:
  coordinator   Run the league coordinator
  official      Run a match official
  participant   Run a playing participant
  health        Check a running agent's health endpoint
  version       Show version information
  help          Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'official':
  --id <id>         Official id (required)

Options for 'participant':
  --id <id>         Participant id (required)
  --name <name>     Display name shown in standings
  --strategy <s>    random | deterministic_even | deterministic_odd |
                    alternating | adaptive (default random)

Environment:
  LEAGUEFLOW_LEAGUE_ID, LEAGUEFLOW_AUTH_SECRET,
  LEAGUEFLOW_COORDINATOR_ENDPOINT, LEAGUEFLOW_SERVER_ADDR,
  LEAGUEFLOW_STORE_PATH, LEAGUEFLOW_LOG_LEVEL, LEAGUEFLOW_LOG_FORMAT
  override file and default values.`)
}
