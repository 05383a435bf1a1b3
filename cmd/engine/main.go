package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/agentforge/engine/internal/config"
	"github.com/agentforge/engine/internal/model/groq"
	"github.com/agentforge/engine/internal/secret"
	"github.com/agentforge/engine/internal/server"
	"github.com/agentforge/engine/internal/settlement"
	"github.com/agentforge/engine/internal/storage/sqlite"
	"github.com/agentforge/engine/internal/telemetry"
	"github.com/agentforge/engine/internal/tokens"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Groq.APIKey == "" {
		log.Fatal("FORGE_GROQ_API_KEY is required")
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("agent-engine", logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	var storeOpts []sqlite.Option
	if cfg.Secrets.EncryptionKey != "" {
		cipher, err := secret.NewCipher(cfg.Secrets.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to load encryption key: %v", err)
		}
		storeOpts = append(storeOpts, sqlite.WithCipher(cipher))
	}

	store, err := sqlite.New(cfg.Database.Path, storeOpts...)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	var providerOpts []groq.ProviderOption
	if cfg.Groq.BaseURL != "" {
		providerOpts = append(providerOpts, groq.WithProviderBaseURL(cfg.Groq.BaseURL))
	}
	provider := groq.New(cfg.Groq.APIKey, providerOpts...)

	pipeline := settlement.New(store, provider,
		settlement.WithEstimator(tokens.NewCounter()),
		settlement.WithMaxRounds(cfg.Agent.MaxToolRounds),
		settlement.WithLogger(logger),
	)

	srv := server.New(cfg.Server.Port, logger, server.NewHandlers(store, pipeline, logger))
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
