package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/devflow/pkg/eventbus"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/persistence"
	"github.com/dukex/devflow/pkg/watchdog"
)

type EngineManager struct {
	id               string
	logger           *slog.Logger
	engine           *orchestrator.Engine
	eventBus         eventbus.EventBus
	persistence      persistence.Persistence
	runDeadline      time.Duration
	watchdogSchedule string
}

func NewEngineManager(
	id string,
	logger *slog.Logger,
	engine *orchestrator.Engine,
	eventBus eventbus.EventBus,
	persistence persistence.Persistence,
	runDeadline time.Duration,
	watchdogSchedule string,
) *EngineManager {
	return &EngineManager{
		id:               id,
		logger:           logger.With("module", "devflow-engine", "engine_id", id),
		engine:           engine,
		eventBus:         eventBus,
		persistence:      persistence,
		runDeadline:      runDeadline,
		watchdogSchedule: watchdogSchedule,
	}
}

func (m *EngineManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting engine manager", "engine_id", m.id)

	err := m.engine.RegisterHandlers()
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = m.engine.Resume(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to resume pending runs", "error", err)

		return err
	}

	var dog *watchdog.Watchdog
	if m.runDeadline > 0 {
		dog, err = watchdog.New(m.logger, m.persistence, m.engine, m.runDeadline, m.watchdogSchedule)
		if err != nil {
			return err
		}

		err = dog.Start(ctx)
		if err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down engine...")

	if dog != nil {
		dog.Stop()
	}

	m.engine.Stop()

	return nil
}
