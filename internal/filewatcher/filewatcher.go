// Package filewatcher provides a service that watches the configuration and
// the files it references and issues a debounced event on changes
package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	cfg                  *config.Config
	stateMu              sync.RWMutex
	watchedDirs          map[string]bool
	trackedFiles         map[string]bool
	events               chan interface{}
	watcher              *fsnotify.Watcher
	disableAutoHotReload *bool
	debouncer            *utils.Debouncer
}

func NewService(cfg *config.Config, disableAutoHotReload *bool) *Service {
	return &Service{
		cfg: cfg, stateMu: sync.RWMutex{}, watchedDirs: make(map[string]bool),
		trackedFiles: make(map[string]bool), events: make(chan interface{}, 1),
		disableAutoHotReload: disableAutoHotReload,
		debouncer:            utils.NewDebouncer(),
	}
}

// trackedPaths lists the files whose changes trigger a reload. Runs write
// the signatures file, so it is never tracked.
func (s *Service) trackedPaths() []string {
	raw := s.cfg.Get()
	paths := []string{raw.ConfigPath}
	if raw.SyntheticMST != nil && raw.SyntheticMST.IdentityFile != nil && *raw.SyntheticMST.IdentityFile != "" {
		paths = append(paths, filepath.Clean(*raw.SyntheticMST.IdentityFile))
	}
	return paths
}

func (s *Service) Update() error {
	logrus.Debug("Updating watcher")

	if s.disableAutoHotReload != nil && *s.disableAutoHotReload {
		logrus.Info("Hot reload disabled, not updating filewatcher")
		return nil
	}

	if s.watcher == nil {
		return errors.New("no watcher assigned")
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	files := s.trackedPaths()
	s.trackedFiles = make(map[string]bool, len(files))
	wantDirs := map[string]bool{}
	for _, file := range files {
		s.trackedFiles[file] = true
		wantDirs[filepath.Dir(file)] = true
	}

	if s.checkIfAllDirsAreAlreadyWatched(wantDirs) {
		logrus.Info("All paths are tracked already, no update needed")
		return nil
	}

	if err := s.removeStaleDirs(wantDirs); err != nil {
		return fmt.Errorf("cant remove currently tracked paths: %w", err)
	}

	if err := s.addWatchedDirs(wantDirs); err != nil {
		return fmt.Errorf("cant add new tracked paths: %w", err)
	}

	logrus.Debug("Watcher update done")

	return nil
}

func (s *Service) addWatchedDirs(want map[string]bool) error {
	logrus.Debug("(Re)adding new tracked paths")
	for dir := range want {
		if _, ok := s.watchedDirs[dir]; ok {
			continue
		}
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("cant add %s to watcher: %w", dir, err)
		}
		s.watchedDirs[dir] = true
		logrus.WithFields(logrus.Fields{"path": dir}).Debug("Added watched path")
	}
	return nil
}

func (s *Service) removeStaleDirs(want map[string]bool) error {
	logrus.Debug("Removing stale tracked paths")
	for dir := range s.watchedDirs {
		if want[dir] {
			continue
		}
		if err := s.watcher.Remove(dir); err != nil &&
			!errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("cant remove %s from watcher: %w", dir, err)
		}
		delete(s.watchedDirs, dir)
		logrus.WithFields(logrus.Fields{"path": dir}).Debug("Removed watched path")
	}
	return nil
}

func (s *Service) checkIfAllDirsAreAlreadyWatched(want map[string]bool) bool {
	if len(want) != len(s.watchedDirs) {
		return false
	}
	for dir := range want {
		if !s.watchedDirs[dir] {
			return false
		}
	}
	return true
}

func (s *Service) isTracked(name string) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.trackedFiles[filepath.Clean(name)]
}

func (s *Service) Listen() <-chan interface{} {
	return s.events
}

func (s *Service) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		logrus.Debug("Context cancelled for filewatcher, shutting down")
		return context.Cause(ctx)
	})

	if s.disableAutoHotReload != nil && *s.disableAutoHotReload {
		logrus.Info("Disabling filewatcher")
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("bg tasks failed in filewatcher: %w", err)
		}
		return nil
	}

	logrus.Debug("starting watcher")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cant create watcher: %w", err)
	}
	s.watcher = watcher

	eg.Go(func() error {
		return s.debouncer.Run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.debouncer.Cancel()
		logrus.Debug("Context cancelled, shutting watcher down")
		if err := watcher.Close(); err != nil {
			logrus.WithError(err).Error("Cant close watcher on exit")
		}
		return context.Cause(ctx)
	})

	eg.Go(func() error {
		logrus.Debug("Initialized watcher")
		if err := s.runServiceLoop(ctx, watcher); err != nil {
			return fmt.Errorf("cant run service loop: %w", err)
		}
		logrus.Debug("Exiting watcher")
		return nil
	})

	if err := s.Update(); err != nil {
		return fmt.Errorf("cant initialize watcher: %w", err)
	}

	return eg.Wait()
}

func (s *Service) runServiceLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	logrus.Debug("Starting filewatcher goroutine")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher channel is closed")
			}

			fields := logrus.Fields{"name": event.Name, "operation": event.Op}
			if !s.isTracked(event.Name) {
				logrus.WithFields(fields).Debug("Ignoring event for untracked file")
				continue
			}
			logrus.WithFields(fields).Debug("Received filewatcher event")

			s.debouncer.Do(ctx, time.Duration(*s.cfg.Get().HotReload.DebounceTimeMs)*time.Millisecond, s.updateProcessor)
			logrus.Debug("Scheduled debounced update")
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel is closed")
			}
			if err != nil {
				return fmt.Errorf("watcher error received: %w", err)
			}
		case <-ctx.Done():
			logrus.Debug("Context cancelled, shutting fswatcher down")
			return context.Cause(ctx)
		}
	}
}

func (s *Service) updateProcessor(ctx context.Context) error {
	select {
	case <-ctx.Done():
		logrus.Debug("Config update processor context cancelled, shutting down")
		return context.Cause(ctx)
	case s.events <- true:
		logrus.Debug("Sent update event")
		return nil
	}
}
