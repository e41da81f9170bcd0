package services

import (
	"errors"
	"sync"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/history"
	"deploy-keeper/internal/logger"
)

var (
	keeperLock   sync.Mutex
	orchestrator *Orchestrator
	historyStore *history.Store
	dispatcher   *executor.Dispatcher
)

/**
 * Get the process wide orchestrator, built from config.Get() on first use
 * @returns {*Orchestrator} Orchestrator over SSH/local transports with history recording
 * @description
 * - History is optional: an unusable history database is logged and runs go unrecorded
 * - Call Shutdown before exiting to close SSH connections and the database
 */
func GetOrchestrator() *Orchestrator {
	keeperLock.Lock()
	defer keeperLock.Unlock()
	if orchestrator != nil {
		return orchestrator
	}
	cfg := config.Get()
	dispatcher = executor.NewDispatcher()
	opts := Options{Config: cfg, Executor: dispatcher}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Warnf("history disabled: %v", err)
		} else {
			historyStore = store
			opts.Recorder = store
		}
	}
	orchestrator = NewOrchestrator(opts)
	return orchestrator
}

// GetHistory returns the history store, nil when history is disabled.
func GetHistory() *history.Store {
	GetOrchestrator()
	keeperLock.Lock()
	defer keeperLock.Unlock()
	return historyStore
}

// Shutdown releases what GetOrchestrator opened. The next GetOrchestrator builds a new one.
func Shutdown() error {
	keeperLock.Lock()
	defer keeperLock.Unlock()
	var errs []error
	if dispatcher != nil {
		errs = append(errs, dispatcher.Close())
	}
	if historyStore != nil {
		errs = append(errs, historyStore.Close())
	}
	orchestrator, historyStore, dispatcher = nil, nil, nil
	return errors.Join(errs...)
}
