package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/modeset"
	"github.com/fiffeek/modesetcfg/internal/report"
	"github.com/fiffeek/modesetcfg/internal/signatures"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/fiffeek/modesetcfg/internal/vrr"
	"github.com/sirupsen/logrus"
)

// runPanel walks the configured rasters in order. Only an infeasible link
// moves on to the next raster, every other failure ends the panel.
func (s *Service) runPanel(ctx context.Context, r *run, c *modeset.Controller) report.PanelResult {
	result := report.PanelResult{
		Name:      c.Name(),
		Protocol:  c.Panel().Protocol.Value(),
		Family:    c.Family().String(),
		Synthetic: c.Panel().Synthetic || (c.Secondary() != nil && c.Secondary().Synthetic),
		Pair:      c.Secondary() != nil,
	}
	fields := logrus.Fields{"panel": result.Name, "protocol": result.Protocol}
	logrus.WithFields(fields).Info("Configuring panel")

	rasters := r.cfg.Scenario.RasterList()
	for i, raster := range rasters {
		result.Raster = raster.String()
		result.Frames, result.Underflows, result.BaselineCreated = 0, 0, false

		err := s.attempt(ctx, r, c, raster, &result)

		if err == nil {
			result.Err = nil
			result.Outcome = report.OutcomePassed
			logrus.WithFields(utils.NewLogrusCustomFields(fields).WithLogID(utils.PanelPassedLogID)).
				WithField("raster", result.Raster).Info("Panel passed")
			return result
		}

		result.Err = err
		if !errors.Is(err, errs.ErrNoFeasibleLink) {
			result.Outcome = report.OutcomeFailed
			logrus.WithFields(fields).WithError(err).Error("Panel failed")
			return result
		}
		if i < len(rasters)-1 {
			logrus.WithFields(utils.NewLogrusCustomFields(fields).WithLogID(utils.RasterFallbackLogID)).
				WithFields(logrus.Fields{"raster": raster.String(), "next_raster": rasters[i+1].String()}).
				Warn("No feasible link, falling back to the next raster")
		}
	}

	result.Outcome = report.OutcomeSkipped
	logrus.WithFields(utils.NewLogrusCustomFields(fields).WithLogID(utils.PanelSkippedLogID)).
		WithError(result.Err).Warn("No raster could be driven, skipping panel")
	return result
}

// attempt runs one full sequence for raster. Once initialized the pipeline
// is always detached, even when the run is being cancelled. The result
// records the state reached before teardown.
func (s *Service) attempt(ctx context.Context, r *run, c *modeset.Controller, raster display.Raster,
	result *report.PanelResult,
) (err error) {
	if err := c.Initialize(ctx); err != nil {
		recordReached(c, result)
		return err
	}
	defer func() {
		if detachErr := c.Detach(context.WithoutCancel(ctx)); detachErr != nil {
			err = errors.Join(err, detachErr)
		}
	}()
	defer recordReached(c, result)

	scenario := r.cfg.Scenario
	steps := []struct {
		Fun  func() error
		Name string
	}{
		{Fun: func() error { return c.SetRaster(raster) }, Name: "set raster"},
		{Fun: func() error { return c.AllocateResources(scenario.WindowRequests()) }, Name: "allocate resources"},
		{Fun: func() error { return s.negotiate(ctx, r, c) }, Name: "negotiate link"},
		{Fun: func() error { return c.ProgramColor(ctx, *scenario.DynamicRange, scenario.CurveSet()) }, Name: "program color"},
		{Fun: func() error { return c.Commit(ctx) }, Name: "commit"},
		{Fun: func() error { return s.verify(ctx, r, c, result) }, Name: "verify"},
		{Fun: func() error { return s.exerciseVRR(ctx, r, c, result) }, Name: "vrr"},
	}

	for _, step := range steps {
		logrus.WithFields(logrus.Fields{"panel": c.Name(), "step": step.Name}).Debug("Executing step")
		if err := step.Fun(); err != nil {
			return err
		}
	}
	return nil
}

func recordReached(c *modeset.Controller, result *report.PanelResult) {
	result.State = c.State().String()
	result.Link = ""
	if c.TrainsLink() {
		result.Link = c.Link().String()
	}
}

func (s *Service) negotiate(ctx context.Context, r *run, c *modeset.Controller) error {
	if !c.TrainsLink() {
		return c.NegotiateLink(ctx, nil, false)
	}
	protocol, err := link.ProtocolFor(c.Panel().Protocol)
	if err != nil {
		return err
	}
	return c.NegotiateLink(ctx, r.cfg.Scenario.Candidates(protocol), *r.cfg.Scenario.ForwardErrorCorrection)
}

func (s *Service) verify(ctx context.Context, r *run, c *modeset.Controller, result *report.PanelResult) error {
	key := signatures.Key{
		Protocol:     c.Panel().Protocol,
		Raster:       c.Raster(),
		Link:         c.Link(),
		DynamicRange: c.DynamicRange(),
	}
	captured, err := c.Verify(ctx, r.store.Lookup(key))
	if err == nil || !errors.Is(err, errs.ErrVerificationBaselineMissing) || !*r.cfg.General.CreateBaseline {
		return err
	}

	if err := r.store.Store(key, captured); err != nil {
		return fmt.Errorf("cant store baseline for %s: %w", key, err)
	}
	result.BaselineCreated = true
	logrus.WithFields(utils.NewLogrusCustomFields(logrus.Fields{
		"panel": c.Name(), "key": key.String(), "signature": string(captured), "path": r.store.Path(),
	}).WithLogID(utils.BaselineCreatedLogID)).Info("Baseline signature created")
	return nil
}

// exerciseVRR presents the configured number of frames in one-shot mode.
// Underflows are counted, any other frame failure stops the loop.
func (s *Service) exerciseVRR(ctx context.Context, r *run, c *modeset.Controller, result *report.PanelResult) error {
	if !*r.cfg.VRR.Enabled {
		return nil
	}
	controller := vrr.NewController(r.platform, c, r.cfg.Timeouts.Frame())
	if err := controller.Arm(ctx, *r.cfg.VRR.Legacy); err != nil {
		if errors.Is(err, errs.ErrVrrUnsupported) {
			logrus.WithField("panel", c.Name()).WithError(err).Warn("VRR not supported, skipping frames")
			return nil
		}
		return err
	}

	var frameErr error
	for frame := 0; frame < *r.cfg.VRR.Frames; frame++ {
		if err := controller.PresentFrame(ctx); errs.IsFatal(err) {
			frameErr = fmt.Errorf("frame %d: %w", frame, err)
			break
		}
	}
	result.Frames = controller.Frames()
	result.Underflows = controller.Underflows()
	return errors.Join(frameErr, controller.Disarm(ctx))
}
