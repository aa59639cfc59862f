// Package reloader provides a service that listens to file change notifications
// and issues an application-wide reload
package reloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type IRunner interface {
	UpdateOnce(context.Context) error
}

type IFilewatcher interface {
	Update() error
	Listen() <-chan interface{}
}

type Service struct {
	cfg                  *config.Config
	filewatcher          IFilewatcher
	runner               IRunner
	disableAutoHotReload *bool
}

func NewService(cfg *config.Config, filewatcher IFilewatcher, runner IRunner, disableAutoHotReload bool) *Service {
	return &Service{
		cfg,
		filewatcher,
		runner,
		&disableAutoHotReload,
	}
}

func (s *Service) Handle(ctx context.Context) error {
	return s.Reload(ctx)
}

func (s *Service) Reload(ctx context.Context) error {
	updates := []struct {
		Fun  func() error
		Name string
		Err  string
	}{
		{Fun: s.cfg.Reload, Name: "config reload", Err: "cant reload configuration"},
		{Fun: s.filewatcher.Update, Name: "update filewatcher", Err: "cant update filewatcher"},
		{
			Fun:  func() error { return s.runner.UpdateOnce(ctx) },
			Name: "re-running scenario", Err: "cant re-run scenario",
		},
	}

	for _, update := range updates {
		logrus.Debug("Executing " + update.Name)
		if err := update.Fun(); err != nil {
			return fmt.Errorf("%s: %w", update.Err, err)
		}
	}

	return nil
}

func (s *Service) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		logrus.Debug("Context cancelled for reloader, shutting down")
		return context.Cause(ctx)
	})

	if s.disableAutoHotReload != nil && *s.disableAutoHotReload {
		logrus.Info("Disabling reloader, no files will be watched")
		return eg.Wait()
	}

	watcherEventsChannel := s.filewatcher.Listen()

	eg.Go(func() error {
		logrus.Debug("Reloader event processor starting")
		for {
			select {
			case _, ok := <-watcherEventsChannel:
				if !ok {
					return errors.New("watcher event channel closed")
				}
				logrus.Debug("Watcher event received")
				// a broken edit keeps the previous configuration until the next save
				if err := s.Reload(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					logrus.WithError(err).Error("Reload failed, keeping previous configuration")
				}

			case <-ctx.Done():
				logrus.Debug("Reloader event processor context cancelled, shutting down")
				return context.Cause(ctx)

			}
		}
	})

	return eg.Wait()
}
