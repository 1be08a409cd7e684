// Package jobs provides background dispatch of page loads for search sessions.
package jobs

import (
	"context"
	"errors"
	"sync"

	"cinebrowse/controllers"

	"github.com/rs/zerolog/log"
)

// Loader loads the next page of a session
type Loader interface {
	LoadMore(ctx context.Context) (controllers.Snapshot, error)
}

// LoadManager runs page loads in the background so scroll events never
// wait on the network. Stopping the manager cancels loads in flight.
type LoadManager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewLoadManager creates a stopped load manager
func NewLoadManager() *LoadManager {
	return &LoadManager{}
}

// Start begins accepting loads
func (lm *LoadManager) Start() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.running {
		log.Debug().Msg("Load manager is already running")
		return
	}

	lm.ctx, lm.cancel = context.WithCancel(context.Background())
	lm.running = true
	log.Info().Msg("Load manager started")
}

// Stop cancels loads in flight and waits for them to return
func (lm *LoadManager) Stop() {
	lm.mu.Lock()
	if !lm.running {
		lm.mu.Unlock()
		return
	}
	lm.cancel()
	lm.running = false
	lm.mu.Unlock()

	// Wait for all loads to finish
	lm.wg.Wait()
	log.Info().Msg("Load manager stopped")
}

// IsRunning returns whether the load manager is currently running
func (lm *LoadManager) IsRunning() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.running
}

// Trigger starts loader.LoadMore in the background and reports whether it
// was dispatched. Overlapping triggers for one session collapse into a
// single fetch inside the session itself.
func (lm *LoadManager) Trigger(loader Loader) bool {
	if loader == nil {
		log.Warn().Msg("Cannot trigger load: no loader")
		return false
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if !lm.running {
		log.Debug().Msg("Load manager not running, dropping load")
		return false
	}

	ctx := lm.ctx
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		snap, err := loader.LoadMore(ctx)
		switch {
		case errors.Is(err, controllers.ErrSessionClosed), errors.Is(err, context.Canceled):
			log.Debug().Err(err).Msg("Background load abandoned")
		case err != nil:
			log.Warn().Err(err).Str("query", snap.Query).Msg("Background load failed")
		default:
			log.Debug().Str("query", snap.Query).Int("results", len(snap.Results)).Msg("Background load finished")
		}
	}()
	return true
}

// Wait blocks until every dispatched load has returned
func (lm *LoadManager) Wait() {
	lm.wg.Wait()
}
