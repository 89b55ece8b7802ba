// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/node"
)

// RosterHolder holds the node roster with atomic hot reloading. A reload
// that fails to load or validate keeps the previous roster untouched.
type RosterHolder struct {
	mu      sync.RWMutex
	current []node.Config

	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	changeMu sync.RWMutex
	onChange []func([]node.Config)
}

// NewRosterHolder creates a holder seeded with the initial roster.
func NewRosterHolder(path string, initial []node.Config) *RosterHolder {
	return &RosterHolder{
		current: initial,
		path:    path,
		logger:  log.WithComponent("config"),
	}
}

// Current returns the roster as of the last successful load.
func (h *RosterHolder) Current() []node.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]node.Config, len(h.current))
	copy(out, h.current)
	return out
}

// OnChange registers a callback invoked with the new roster after each
// successful reload. Callbacks run on the watcher goroutine.
func (h *RosterHolder) OnChange(fn func([]node.Config)) {
	h.changeMu.Lock()
	defer h.changeMu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload re-reads the roster file and swaps it in atomically.
func (h *RosterHolder) Reload(_ context.Context) error {
	nodes, err := LoadRoster(h.path)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "roster.reload_failed").
			Msg("keeping previous node roster")
		return err
	}

	h.mu.Lock()
	old := h.current
	h.current = nodes
	h.mu.Unlock()

	h.logger.Info().
		Str("event", "roster.reload_success").
		Int("old_nodes", len(old)).
		Int("new_nodes", len(nodes)).
		Msg("node roster reloaded")

	h.changeMu.RLock()
	defer h.changeMu.RUnlock()
	for _, fn := range h.onChange {
		fn(nodes)
	}
	return nil
}

// StartWatcher watches the roster file and reloads on change. Changes are
// debounced so editors that write in several steps trigger one reload.
func (h *RosterHolder) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch roster file: %w", err)
	}

	h.logger.Info().
		Str("event", "roster.watcher_started").
		Str("path", h.path).
		Msg("watching node roster for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *RosterHolder) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "roster.watcher_stopped").Msg("roster watcher stopped")
			_ = h.watcher.Close()
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover vim, nano, and plain truncating writes.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "roster.auto_reload_failed").
							Msg("automatic roster reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "roster.watcher_error").
				Msg("roster watcher error")
		}
	}
}

// Stop closes the watcher if running.
func (h *RosterHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
