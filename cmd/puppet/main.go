// Package main provides the headless participant binary: it loads a scene,
// joins a relay and drives its hands from Lua scripts at a fixed rate.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/config"
	"github.com/cory-johannsen/vrsync/internal/observability"
	"github.com/cory-johannsen/vrsync/internal/puppet"
	"github.com/cory-johannsen/vrsync/internal/scene"
	"github.com/cory-johannsen/vrsync/internal/server"
	"github.com/cory-johannsen/vrsync/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	sceneFile := flag.String("scene", "", "scene YAML file; overrides client.scene_file")
	scriptDir := flag.String("scripts", "", "puppet Lua script directory; overrides client.script_dir")
	host := flag.Bool("host", false, "join with the host role; overrides client.host")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *sceneFile != "" {
		cfg.Client.SceneFile = *sceneFile
	}
	if *scriptDir != "" {
		cfg.Client.ScriptDir = *scriptDir
	}
	if *host {
		cfg.Client.Host = true
	}

	logger, err := observability.NewLogger(cfg.Logging, "puppet")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting puppet",
		zap.String("server_url", cfg.Client.ServerURL),
		zap.Bool("host", cfg.Client.Host),
		zap.Bool("regist", cfg.Client.Regist),
		zap.Int("tick_hz", cfg.Client.TickHz),
	)

	sceneStart := time.Now()
	def, err := scene.LoadFromFile(cfg.Client.SceneFile)
	if err != nil {
		logger.Fatal("loading scene", zap.String("file", cfg.Client.SceneFile), zap.Error(err))
	}
	logger.Info("scene loaded",
		zap.String("scene", def.ID),
		zap.Int("grabbables", len(def.Grabbables)),
		zap.Int("animators", len(def.Animators)),
		zap.Duration("elapsed", time.Since(sceneStart)),
	)

	tr := transport.NewClient(transport.Options{
		URL:         cfg.Client.ServerURL,
		DialTimeout: cfg.Client.DialTimeout,
		SendBuffer:  cfg.Client.SendBuffer,
		EventBuffer: cfg.Client.InboxSize,
	}, logger.Named("transport"))

	p, err := puppet.New(cfg.Client, def, tr, logger)
	if err != nil {
		logger.Fatal("creating puppet", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("puppet", server.NewLoopService(p.Run))

	logger.Info("puppet initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("scripts", cfg.Client.ScriptDir),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("puppet error", zap.Error(err))
	}
}
