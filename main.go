package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/werewolfserver/config"
	"github.com/wfunc/werewolfserver/game"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/monitor"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/recorder"
	"github.com/wfunc/werewolfserver/rpc"
	"github.com/wfunc/werewolfserver/runner"
	"github.com/wfunc/werewolfserver/server"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/state"
)

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"players":  "game.players",
	"win-rule": "game.win_rule",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
	}
	return nil
}

func main() {
	configPath := pflag.String("config", ".", "directory containing config.yaml")
	pflag.Int("players", 6, "number of players (6, 9 or 12)")
	pflag.String("win-rule", "side", "win rule: side or total")
	pflag.Parse()

	v := viper.New()
	if err := bindFlags(v, pflag.CommandLine); err != nil {
		logger.Init()
		logger.Log.Fatalf("Failed to bind flags: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(v, *configPath)
	if err != nil {
		logger.Init()
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.InitWithLevel(cfg.Log.Level)
	defer logger.Sync()

	preset, err := game.PresetFor(cfg.Game.Players)
	if err != nil {
		logger.Log.Fatalf("Unsupported player count: %v", err)
	}
	rule, err := game.ParseWinRule(cfg.Game.WinRule)
	if err != nil {
		logger.Log.Fatalf("Invalid win rule: %v", err)
	}
	g, err := game.New(preset, game.WithWinRule(rule))
	if err != nil {
		logger.Log.Fatalf("Failed to create game: %v", err)
	}

	recOpts := []recorder.Option{recorder.WithDir(cfg.Recorder.Dir), recorder.WithWinRule(rule)}
	if cfg.Database.Driver != "" {
		pg := cfg.Database.Postgres
		db, err := persistence.Open(persistence.Options{
			Driver:   cfg.Database.Driver,
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
		})
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Log.Infof("Database connection successful (driver %s).", cfg.Database.Driver)
		recOpts = append(recOpts, recorder.WithSaver(services.NewStatsService(db)))
	}
	rec := recorder.New(recOpts...)

	mon := monitor.NewMonitor("werewolf")
	mon.StartServer(cfg.Server.MetricsAddress)

	agents := server.NewAgentServer(server.Options{
		Address:          cfg.Server.AgentAddress,
		Transport:        cfg.Server.Transport,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		NotifyTimeout:    cfg.Timeouts.Notify,
		Players:          preset.PlayerCount,
	}, mon)

	health, err := rpc.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to start health server: %v", err)
	}
	go health.Start()
	defer health.Stop()

	r := runner.New(g, agents, rec,
		runner.WithTimeouts(cfg.Timeouts.Action, cfg.Timeouts.Speech, cfg.Timeouts.Notify),
		runner.WithPollInterval(cfg.Game.PollInterval),
		runner.WithObserver(mon),
		runner.WithPhaseListener(func(phase state.Phase) {
			health.SetServing(phase == state.PhaseNight || phase == state.PhaseDay)
		}),
	)

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to start RPC server: %v", err)
	}
	if err := rpcServer.Register(rpc.NewGameService(r)); err != nil {
		logger.Log.Fatalf("Failed to register game service: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start agent server
	logger.Log.Infof("Starting werewolf server on %s (%s), %d players, win rule %s",
		cfg.Server.AgentAddress, cfg.Server.Transport, preset.PlayerCount, rule)
	serveErr := make(chan error, 1)
	go func() { serveErr <- agents.ListenAndServe(ctx) }()

	go func() {
		if err := <-serveErr; err != nil {
			logger.Log.Errorf("Agent server stopped: %v", err)
			stop()
		}
	}()

	result, err := r.Run(ctx)
	agents.Shutdown()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Log.Info("Game cancelled.")
			return
		}
		logger.Log.Errorf("Game aborted: %v", err)
		return
	}
	logger.Log.Infof("Game over: %s (game %s)", result, rec.GameID())
}
