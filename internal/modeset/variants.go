package modeset

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/sirupsen/logrus"
)

// variant is the per protocol family behavior of a Controller.
type variant interface {
	family() Family
	initialize(ctx context.Context, c *Controller) error
	commit(ctx context.Context, c *Controller) error
	detach(ctx context.Context, c *Controller) error
	sendsMetadata() bool
}

// linkVariant is implemented by the families that train a serial link.
type linkVariant interface {
	variant
	negotiateLink(ctx context.Context, c *Controller, candidates []link.Candidate, fec bool) (link.Configuration, error)
}

func variantFor(p display.Protocol) (variant, error) {
	switch p {
	case display.ProtocolTMDS:
		return tmds{}, nil
	case display.ProtocolHDMI:
		return hdmi{}, nil
	case display.ProtocolHDMIFRL:
		return hdmiFRL{}, nil
	case display.ProtocolEmbeddedDP, display.ProtocolDSI:
		return embedded{}, nil
	case display.ProtocolDPSingleStream, display.ProtocolDPMultiStream,
		display.ProtocolDPDualSingleStream, display.ProtocolDPDualMultiStream:
		return displayPort{}, nil
	}
	return nil, fmt.Errorf("%w: no controller for protocol %s", errs.ErrProtocolResolution, p)
}

// plain drives a single head with no link and no side channel.
type plain struct{}

func (plain) initialize(context.Context, *Controller) error { return nil }

func (plain) commit(ctx context.Context, c *Controller) error {
	return c.setMode(ctx)
}

func (plain) detach(ctx context.Context, c *Controller) error {
	return c.releaseHead(ctx)
}

func (plain) sendsMetadata() bool { return false }

type tmds struct{ plain }

func (tmds) family() Family { return FamilyTMDS }

type embedded struct{ plain }

func (embedded) family() Family { return FamilyEmbedded }

type hdmi struct{ plain }

func (hdmi) family() Family { return FamilyHDMI }

func (hdmi) initialize(_ context.Context, c *Controller) error {
	if !c.caps.HDMIExtended {
		logrus.WithField("panel", c.panel.Name()).Debug("Panel has no extended HDMI mode, driving plain HDMI")
	}
	return nil
}

func (hdmi) sendsMetadata() bool { return true }

type hdmiFRL struct{ hdmi }

func (hdmiFRL) family() Family { return FamilyHDMIFRL }

func (v hdmiFRL) initialize(ctx context.Context, c *Controller) error {
	if !c.caps.FRL {
		return fmt.Errorf("%w: panel reports no fixed rate link support", errs.ErrCapabilityProbe)
	}
	return v.hdmi.initialize(ctx, c)
}

func (hdmiFRL) negotiateLink(ctx context.Context, c *Controller, candidates []link.Candidate,
	fec bool,
) (link.Configuration, error) {
	return c.deps.Negotiator.Negotiate(ctx, c.panel, c.timing, candidates, fec)
}

func (hdmiFRL) detach(ctx context.Context, c *Controller) error {
	return errors.Join(c.releaseHead(ctx), c.resetLink(ctx, c.panel))
}

type displayPort struct{}

func (displayPort) family() Family { return FamilyDisplayPort }

func (displayPort) initialize(ctx context.Context, c *Controller) error {
	if !c.caps.DisplayPort {
		return fmt.Errorf("%w: panel reports no DisplayPort capability", errs.ErrCapabilityProbe)
	}
	return c.enableSimulatedDevice(ctx, c.panel)
}

func (displayPort) negotiateLink(ctx context.Context, c *Controller, candidates []link.Candidate,
	fec bool,
) (link.Configuration, error) {
	return c.deps.Negotiator.Negotiate(ctx, c.panel, c.timing, candidates, fec)
}

func (displayPort) commit(ctx context.Context, c *Controller) error {
	return c.setMode(ctx)
}

func (displayPort) detach(ctx context.Context, c *Controller) error {
	return errors.Join(
		c.releaseHead(ctx),
		c.resetLink(ctx, c.panel),
		c.disableSimulatedDevices(ctx),
	)
}

func (displayPort) sendsMetadata() bool { return true }

// displayPortDual drives two panels from one head in single-head
// multi-stream mode. The secondary gets its own allocation sharing the
// primary's OR.
type displayPortDual struct{ displayPort }

func (displayPortDual) family() Family { return FamilyDisplayPortDual }

func (v displayPortDual) initialize(ctx context.Context, c *Controller) error {
	if err := v.displayPort.initialize(ctx, c); err != nil {
		return err
	}
	secondary, err := c.deps.Platform.ProbeCapabilities(ctx, c.secondary.Display)
	if err != nil {
		return fmt.Errorf("%w: secondary %s: %w", errs.ErrCapabilityProbe, c.secondary.Name(), err)
	}
	if !secondary.DisplayPort {
		return fmt.Errorf("%w: secondary %s reports no DisplayPort capability", errs.ErrCapabilityProbe,
			c.secondary.Name())
	}
	return c.enableSimulatedDevice(ctx, *c.secondary)
}

func (displayPortDual) commit(ctx context.Context, c *Controller) error {
	if err := c.deps.Platform.ConfigureSingleHeadMultiStream(ctx, c.panel.Display, c.secondary.Display,
		true); err != nil {
		return fmt.Errorf("cant pair %s with %s: %w", c.panel.Name(), c.secondary.Name(), err)
	}
	c.paired = true
	return c.setMode(ctx)
}

func (v displayPortDual) detach(ctx context.Context, c *Controller) error {
	var unpair error
	if c.paired {
		unpair = c.deps.Platform.ConfigureSingleHeadMultiStream(ctx, c.panel.Display, c.secondary.Display, false)
		c.paired = false
	}
	return errors.Join(
		unpair,
		c.releaseHead(ctx),
		c.resetLink(ctx, c.panel),
		c.disableSimulatedDevices(ctx),
	)
}
