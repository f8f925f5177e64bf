package main

import (
	"log"
	"log/slog"

	"github.com/serpscope/serpscope/internal/config"
	"github.com/serpscope/serpscope/internal/llm"
	"github.com/serpscope/serpscope/internal/orchestrator"
	"github.com/serpscope/serpscope/internal/server"
	"github.com/serpscope/serpscope/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	docs, err := store.Open(cfg.Store.IndexPath)
	if err != nil {
		log.Fatalf("failed to open document store: %v", err)
	}
	defer docs.Close()

	llmProvider, err := llm.NewOpenAI(&cfg.OpenAI)
	if err != nil {
		log.Fatalf("failed to create LLM provider: %v", err)
	}

	orch, err := orchestrator.New(llmProvider, store.WithTimeout(docs, cfg.Store.Timeout), cfg.OpenAI, cfg.Orchestrator)
	if err != nil {
		log.Fatalf("failed to create orchestrator: %v", err)
	}

	srv := server.New(cfg.Server, orch)
	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
