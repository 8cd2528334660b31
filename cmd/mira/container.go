package main

import (
	"fmt"
	"os"

	"mira/internal/config"
	"mira/internal/interview/extract"
	"mira/internal/interview/router"
	"mira/internal/interview/symptoms"
	"mira/internal/llm"
	"mira/internal/logging"
	"mira/internal/modulebank"
	"mira/internal/orchestrator"
	"mira/internal/prompts"
	"mira/internal/store"
)

// Container wraps the wired interview runtime for CLI use.
type Container struct {
	Config       config.Config
	Bank         *modulebank.Bank
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Logger       logging.Logger
}

func buildContainer(cfg config.Config) (*Container, error) {
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.EchoToStderr(cfg.LogEchoStderr)
	logger := logging.New("cli")

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	loader, err := prompts.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	bank := modulebank.Load(logging.New("modulebank"))
	if bank.Len() == 0 {
		return nil, fmt.Errorf("no interview modules loaded")
	}

	st := buildStore(cfg, logger)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Modules:  bank.Modules(),
		Store:    st,
		Pipeline: extract.NewPipeline(client, loader, cfg.Extraction, logging.New("extract")),
		Router:   router.New(logging.New("router")),
		Ledger:   symptoms.NewLedger(cfg.Interview.SymptomSnippetLimit, logging.New("symptoms")),
		Client:   client,
		Prompts:  loader,
		Config:   cfg,
		Logger:   logging.New("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	for _, id := range orch.Degraded() {
		logger.Warn("module %s is unavailable this run", id)
	}

	return &Container{
		Config:       cfg,
		Bank:         bank,
		Store:        st,
		Orchestrator: orch,
		Logger:       logger,
	}, nil
}

// buildStore prefers the durable file store under the configured session
// directory. If the directory cannot be created the interview still runs,
// just without persistence across restarts.
func buildStore(cfg config.Config, logger logging.Logger) store.Store {
	dir := cfg.SessionDirResolved()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("session dir %s unusable (%v), sessions will not persist", dir, err)
		return store.NewMemory()
	}
	return store.WithRetry(
		store.NewFile(dir),
		cfg.Persistence.RetryAttempts,
		cfg.Persistence.RetryBackoff,
		logging.New("store"),
	)
}

// Cleanup flushes and closes process-wide resources.
func (c *Container) Cleanup() error {
	return logging.Close()
}
