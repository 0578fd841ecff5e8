package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prosescan/prosescan/internal/runtime/engine"
)

// RulesetWatcher monitors the configured ruleset file and invokes the supplied
// callback whenever the document changes. Stop must be called to release
// filesystem resources.
type RulesetWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *RulesetWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchRuleset wires fsnotify around the ruleset file and reloads the document
// on any relevant change. The initial load happens synchronously so callers
// start with a usable ruleset before the watcher goroutine takes over.
func WatchRuleset(ctx context.Context, path string, onChange func(engine.Ruleset), onError func(error)) (*RulesetWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch ruleset requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no ruleset file configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch ruleset: %w", err)
	}

	ruleset, err := LoadRuleset(path)
	if err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch ruleset close: %w", closeErr))
		}
		cancel()
		return nil, err
	}
	onChange(ruleset)

	done := make(chan struct{})
	watch := &RulesetWatcher{cancel: cancel, done: done}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch ruleset close: %w", err))
			}
		}()
		defer signalReady()

		var reloadMu sync.Mutex
		reload := func() {
			reloadMu.Lock()
			defer reloadMu.Unlock()
			select {
			case <-watchCtx.Done():
				return
			default:
			}
			ruleset, err := LoadRuleset(path)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(ruleset)
		}

		targetFile := path
		if resolved, err := filepath.Abs(path); err == nil {
			targetFile = resolved
		} else if onError != nil {
			onError(fmt.Errorf("config: resolve ruleset file: %w", err))
		}
		targetFile = filepath.Clean(targetFile)
		if err := watcher.Add(filepath.Dir(targetFile)); err != nil {
			if onError != nil {
				onError(fmt.Errorf("config: watch add %s: %w", filepath.Dir(targetFile), err))
			}
		}

		signalReady()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if name != targetFile {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if onError != nil {
						onError(fmt.Errorf("config: ruleset file %s removed", targetFile))
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	<-ready

	return watch, nil
}
