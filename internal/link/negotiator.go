// Package link negotiates a serial link configuration by walking a
// descending list of rate/lane candidates.
package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
)

var validFRL = map[Candidate]bool{
	{Rate: RateFRL3G, Lanes: 3}:  true,
	{Rate: RateFRL6G, Lanes: 3}:  true,
	{Rate: RateFRL6G, Lanes: 4}:  true,
	{Rate: RateFRL8G, Lanes: 4}:  true,
	{Rate: RateFRL10G, Lanes: 4}: true,
	{Rate: RateFRL12G, Lanes: 4}: true,
}

// ProtocolFor returns the link protocol a panel protocol trains.
func ProtocolFor(p display.Protocol) (platform.LinkProtocol, error) {
	switch {
	case p == display.ProtocolHDMIFRL:
		return platform.LinkFRL, nil
	case p.IsDisplayPort() && p.NeedsLinkTraining():
		return platform.LinkDisplayPort, nil
	}
	return platform.LinkNone, fmt.Errorf("%w: protocol %s does not train a link", errs.ErrInvalidLinkParameter, p)
}

// Validate checks every candidate before any hardware is touched.
func Validate(protocol platform.LinkProtocol, candidates []Candidate) error {
	for _, c := range candidates {
		if c.Rate.Protocol() != protocol {
			return fmt.Errorf("%w: rate %s is not a %s rate", errs.ErrInvalidLinkParameter, c.Rate, protocol)
		}
		switch protocol {
		case platform.LinkDisplayPort:
			if c.Lanes != 1 && c.Lanes != 2 && c.Lanes != 4 {
				return fmt.Errorf("%w: %d lanes, expected one of [1, 2, 4]", errs.ErrInvalidLinkParameter, c.Lanes)
			}
		case platform.LinkFRL:
			if !validFRL[c] {
				return fmt.Errorf("%w: %s is not a valid FRL combination", errs.ErrInvalidLinkParameter, c)
			}
		}
	}
	return nil
}

type Negotiator struct {
	trainer platform.LinkTrainer
	oracle  platform.FeasibilityOracle
	env     platform.Environment
	timeout time.Duration
}

func NewNegotiator(trainer platform.LinkTrainer, oracle platform.FeasibilityOracle,
	env platform.Environment, timeout time.Duration,
) *Negotiator {
	return &Negotiator{trainer: trainer, oracle: oracle, env: env, timeout: timeout}
}

// Negotiate returns the highest bandwidth candidate that both trains and
// can deliver timing. Each candidate is attempted once.
func (n *Negotiator) Negotiate(ctx context.Context, panel display.PanelDescriptor, timing platform.Timing,
	candidates []Candidate, fec bool,
) (Configuration, error) {
	protocol, err := ProtocolFor(panel.Protocol)
	if err != nil {
		return Configuration{}, err
	}
	if err := Validate(protocol, candidates); err != nil {
		return Configuration{}, err
	}

	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b Candidate) int {
		return b.BandwidthMbps() - a.BandwidthMbps()
	})

	// forced training on simulated environments, best effort on hardware
	force := n.env.Simulated()
	fields := logrus.Fields{"panel": panel.Name(), "raster": timing.Raster.String()}
	attempted := []Candidate{}

	for _, candidate := range ordered {
		candidateFields := logrus.Fields{"panel": panel.Name(), "rate": candidate.Rate.Value(), "lanes": candidate.Lanes}

		assessed, err := n.trainer.LinkAssessedMax(ctx, panel.Display)
		if err != nil {
			return Configuration{}, fmt.Errorf("cant query link-assessed maximum: %w", err)
		}
		if candidate.Rate.Mbps() > assessed.RateMbps || candidate.Lanes > assessed.Lanes {
			logrus.WithFields(candidateFields).Debug("Candidate exceeds link-assessed maximum, skipping")
			continue
		}

		attempted = append(attempted, candidate)
		setting := candidate.setting(fec)
		ok, err := n.attempt(ctx, panel, timing, setting, force)
		if err != nil {
			return Configuration{}, err
		}
		if ok {
			config := Configuration{Rate: candidate.Rate, Lanes: candidate.Lanes, FEC: setting.FEC}
			logrus.WithFields(fields).WithField("link", config.String()).Info("Link negotiated")
			return config, nil
		}

		logrus.WithFields(utils.NewLogrusCustomFields(candidateFields).WithLogID(utils.LinkFallbackLogID)).
			Info("Candidate rejected, trying next lower bandwidth")
	}

	return Configuration{}, fmt.Errorf("%w for %s, tried %s", errs.ErrNoFeasibleLink,
		timing.Raster, utils.FormatList(attempted))
}

func (n *Negotiator) attempt(ctx context.Context, panel display.PanelDescriptor, timing platform.Timing,
	setting platform.LinkSetting, force bool,
) (bool, error) {
	steps := []platform.LinkSetting{platform.Baseline(setting.Protocol), setting}
	for _, step := range steps {
		err := platform.Blocking(ctx, n.timeout, func(ctx context.Context) error {
			return n.trainer.TrainLink(ctx, panel.Display, step, force)
		})
		if errors.Is(err, errs.ErrHardwareTimeout) {
			return false, fmt.Errorf("training %s: %w", step, err)
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{"panel": panel.Name(), "link": step.String()}).
				WithError(err).Debug("Link training failed")
			return false, nil
		}
	}

	feasible, err := n.oracle.IsRasterLinkCombinationFeasible(ctx, panel.Display, timing, setting)
	if err != nil {
		return false, fmt.Errorf("feasibility query for %s: %w", setting, err)
	}
	return feasible, nil
}

// Reset drops the panel's link back to the "no link" baseline.
func (n *Negotiator) Reset(ctx context.Context, panel display.PanelDescriptor) error {
	if !panel.Protocol.NeedsLinkTraining() {
		return nil
	}
	protocol, err := ProtocolFor(panel.Protocol)
	if err != nil {
		return err
	}
	return platform.Blocking(ctx, n.timeout, func(ctx context.Context) error {
		return n.trainer.TrainLink(ctx, panel.Display, platform.Baseline(protocol), n.env.Simulated())
	})
}
