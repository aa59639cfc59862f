// Package app provides an application runner.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/filewatcher"
	"github.com/fiffeek/modesetcfg/internal/notifications"
	"github.com/fiffeek/modesetcfg/internal/reloader"
	"github.com/fiffeek/modesetcfg/internal/runner"
	"github.com/fiffeek/modesetcfg/internal/signal"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Application struct {
	cfg           *config.Config
	fswatcher     *filewatcher.Service
	notifications *notifications.Service
	runner        *runner.Service
	reloader      *reloader.Service
	signal        *signal.Handler
}

func NewApplication(
	configPath *string, cancel context.CancelCauseFunc, disableAutoHotReload *bool, out io.Writer,
) (*Application, error) {
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	fswatcher := filewatcher.NewService(cfg, disableAutoHotReload)
	notifications := notifications.NewService(cfg)
	runner := runner.NewService(cfg, notifications, runner.SimulatedPlatform, out)
	reloader := reloader.NewService(cfg, fswatcher, runner, *disableAutoHotReload)
	signalHandler := signal.NewHandler(cancel, runner)

	return &Application{
		cfg:           cfg,
		fswatcher:     fswatcher,
		notifications: notifications,
		runner:        runner,
		reloader:      reloader,
		signal:        signalHandler,
	}, nil
}

func (a *Application) Runner() *runner.Service {
	return a.runner
}

func (a *Application) RunOnce(ctx context.Context) error {
	logrus.Info("Will run the scenario once")
	if err := a.runner.RunOnce(ctx); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	logrus.Info("Run succeeded, exiting")
	return nil
}

func (a *Application) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	backgroundGoroutines := []struct {
		Fun  func(context.Context) error
		Name string
	}{
		{Fun: a.signal.Run, Name: "signal handler"},
		{Fun: a.fswatcher.Run, Name: "filewatcher"},
		{Fun: a.reloader.Run, Name: "reloader"},
		{Fun: a.runner.Run, Name: "scenario runner"},
	}
	for _, bg := range backgroundGoroutines {
		eg.Go(func() error {
			fields := logrus.Fields{"name": bg.Name, "fun": utils.GetFunctionName(bg.Fun)}
			logrus.WithFields(fields).Debug("Starting")
			if err := bg.Fun(ctx); err != nil {
				logrus.WithFields(fields).WithError(err).Errorf("Service failed %s", bg.Name)
				return fmt.Errorf("%s failed: %w", bg.Name, err)
			}
			logrus.WithFields(fields).Debug("Finished")
			return nil
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		logrus.Debug("Context cancelled, shutting down")
		return context.Cause(ctx)
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("main eg failed: %w", err)
	}

	logrus.Info("Shutdown complete")
	return nil
}
