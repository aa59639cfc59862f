// Package runner drives every enumerated panel through the configured
// pipeline scenario and reports the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/catalog"
	"github.com/fiffeek/modesetcfg/internal/color"
	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/modeset"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/platform/sim"
	"github.com/fiffeek/modesetcfg/internal/report"
	"github.com/fiffeek/modesetcfg/internal/signatures"
	"github.com/sirupsen/logrus"
)

type INotifier interface {
	NotifyRunFinished(summary *report.Summary) error
}

// PlatformFactory builds the display platform for one run.
type PlatformFactory func(cfg *config.RawConfig) platform.Platform

// SimulatedPlatform builds the platform described by the simulator section.
func SimulatedPlatform(cfg *config.RawConfig) platform.Platform {
	return sim.New(cfg.Simulator.PlatformConfig())
}

type Service struct {
	config      *config.Config
	notifier    INotifier
	newPlatform PlatformFactory
	out         io.Writer

	// runs never overlap, a re-run waits for the current one
	runMu sync.Mutex
}

func NewService(cfg *config.Config, notifier INotifier, newPlatform PlatformFactory, out io.Writer) *Service {
	if newPlatform == nil {
		newPlatform = SimulatedPlatform
	}
	if out == nil {
		out = io.Discard
	}
	return &Service{config: cfg, notifier: notifier, newPlatform: newPlatform, out: out}
}

// run is the world-view of a single execution.
type run struct {
	cfg      *config.RawConfig
	platform platform.Platform
	store    *signatures.Store
}

func newDeps(cfg *config.RawConfig, plat platform.Platform) modeset.Deps {
	alloc := allocator.NewAllocator(cfg.Simulator.Capacity(), plat)
	return modeset.Deps{
		Platform:   plat,
		Allocator:  alloc,
		Negotiator: link.NewNegotiator(plat, plat, plat, cfg.Timeouts.LinkTraining()),
		Color:      color.NewProgrammer(plat, alloc),
		Timeouts:   modeset.Timeouts{Commit: cfg.Timeouts.Commit()},
	}
}

func catalogOptions(cfg *config.RawConfig) catalog.Options {
	return catalog.Options{
		Filter:           cfg.General.Filter(),
		IncludeSynthetic: *cfg.General.IncludeSynthetic,
		MultiStream: catalog.MultiStreamOptions{
			SinkCount: *cfg.SyntheticMST.SinkCount,
			Identity:  cfg.SyntheticMST.Identity,
			ByteCount: *cfg.SyntheticMST.ByteCount,
		},
	}
}

// Enumerate lists the panels of the current configuration without touching
// any pipeline resource. The caller closes the result.
func (s *Service) Enumerate(ctx context.Context) (*catalog.Result, error) {
	cfg := s.config.Get()
	plat := s.newPlatform(cfg)
	result, err := catalog.NewCatalog(newDeps(cfg, plat)).Enumerate(ctx, catalogOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("cant enumerate panels: %w", err)
	}
	return result, nil
}

// Execute runs the scenario once against every matching panel, and every
// dual-stream pair when enabled. Panel failures are recorded in the summary,
// the returned error only covers failures of the run itself.
func (s *Service) Execute(ctx context.Context) (summary *report.Summary, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	// grab latest config and pass along for the same world-view
	cfg := s.config.Get()
	started := time.Now()

	store, err := signatures.Load(*cfg.General.SignaturesPath)
	if err != nil {
		return nil, fmt.Errorf("cant load signatures: %w", err)
	}

	plat := s.newPlatform(cfg)
	result, err := catalog.NewCatalog(newDeps(cfg, plat)).Enumerate(ctx, catalogOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("cant enumerate panels: %w", err)
	}
	defer func() {
		if closeErr := result.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("cant release synthetic identities: %w", closeErr))
		}
	}()

	controllers := make([]*modeset.Controller, 0, len(result.Panels)+len(result.Pairs))
	for _, entry := range result.Panels {
		controllers = append(controllers, entry.Controller)
	}
	if *cfg.General.DualStream {
		for _, pair := range result.Pairs {
			controllers = append(controllers, pair.Controller)
		}
	}

	r := &run{cfg: cfg, platform: plat, store: store}
	summary = &report.Summary{}
	for _, controller := range controllers {
		if ctx.Err() != nil {
			summary.Aborted = true
			return summary, context.Cause(ctx)
		}
		panelResult := s.runPanel(ctx, r, controller)
		summary.Add(panelResult)
		if panelResult.Outcome == report.OutcomeFailed && !*cfg.General.ContinueOnError {
			logrus.WithField("panel", panelResult.Name).Warn("Aborting run after the first failure")
			summary.Aborted = true
			break
		}
	}
	summary.Duration = time.Since(started)

	logrus.WithFields(logrus.Fields{
		"passed":   summary.Count(report.OutcomePassed),
		"failed":   summary.Count(report.OutcomeFailed),
		"skipped":  summary.Count(report.OutcomeSkipped),
		"duration": summary.Duration.String(),
	}).Info("Run finished")
	return summary, nil
}

// RunOnce executes the scenario, publishes the summary and fails when any
// panel failed.
func (s *Service) RunOnce(ctx context.Context) error {
	summary, err := s.Execute(ctx)
	if summary != nil {
		s.publish(summary)
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if err := summary.Err(); err != nil {
		return fmt.Errorf("%s: %w", summary.Headline(), err)
	}
	return nil
}

// UpdateOnce is RunOnce for long running modes: panel failures are
// reported but do not fail the call.
func (s *Service) UpdateOnce(ctx context.Context) error {
	summary, err := s.Execute(ctx)
	if summary != nil {
		s.publish(summary)
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if summary.Err() != nil {
		logrus.WithField("result", summary.Headline()).Warn("Some panels failed, will keep running")
	}
	return nil
}

func (s *Service) Handle(ctx context.Context) error {
	return s.UpdateOnce(ctx)
}

// Run executes the scenario once and then stays up so reloads and signals
// can trigger further runs.
func (s *Service) Run(ctx context.Context) error {
	if err := s.UpdateOnce(ctx); err != nil {
		return fmt.Errorf("unable to run scenario on start: %w", err)
	}
	logrus.Info("Waiting for configuration changes or SIGUSR1...")
	<-ctx.Done()
	logrus.Debug("Context cancelled for runner, shutting down")
	return context.Cause(ctx)
}

func (s *Service) publish(summary *report.Summary) {
	if _, err := io.WriteString(s.out, report.Render(summary)); err != nil {
		logrus.WithError(err).Error("cant write run summary")
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRunFinished(summary); err != nil {
		logrus.WithError(err).Error("swallowing notification error")
	}
}
