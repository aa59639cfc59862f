// Package modeset drives one panel (or dual-stream pair) through resource
// allocation, link training, color programming, commit, verification and
// teardown.
package modeset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/color"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/sirupsen/logrus"
)

// Raster defaults used when no raster is selected before allocation.
const (
	DefaultDepth     = 24
	DefaultRefreshHz = 60
)

type Timeouts struct {
	Commit time.Duration
}

// Deps are shared by every controller of a run.
type Deps struct {
	Platform   platform.Platform
	Allocator  *allocator.Allocator
	Negotiator *link.Negotiator
	Color      *color.Programmer
	Timeouts   Timeouts
}

type Controller struct {
	deps      Deps
	variant   variant
	panel     display.PanelDescriptor
	secondary *display.PanelDescriptor

	state          State
	caps           platform.Capabilities
	alloc          *allocator.Allocation
	secondaryAlloc *allocator.Allocation
	raster         display.Raster
	timing         platform.Timing
	link           link.Configuration
	mode           display.DynamicRangeMode
	curves         display.ColorCurveSet

	// failed is set by a fatal error; only Detach is accepted until then
	failed      bool
	linkTouched bool
	headActive  bool
	paired      bool
	simulated   []display.DisplayID
}

// New returns a controller for a single panel, picking the variant from the
// panel's protocol.
func New(panel display.PanelDescriptor, deps Deps) (*Controller, error) {
	v, err := variantFor(panel.Protocol)
	if err != nil {
		return nil, err
	}
	return &Controller{deps: deps, variant: v, panel: panel}, nil
}

// NewDual returns a controller driving primary and secondary from one head.
func NewDual(primary, secondary display.PanelDescriptor, deps Deps) (*Controller, error) {
	if !primary.Protocol.IsDualStream() || !secondary.Protocol.IsDualStream() {
		return nil, fmt.Errorf("%w: %s and %s are not dual-stream panels", errs.ErrProtocolResolution,
			primary.Name(), secondary.Name())
	}
	if primary.Protocol.IsMultiStream() != secondary.Protocol.IsMultiStream() {
		return nil, fmt.Errorf("%w: cant pair single-stream with multi-stream panel", errs.ErrProtocolResolution)
	}
	return &Controller{deps: deps, variant: displayPortDual{}, panel: primary, secondary: &secondary}, nil
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Family() Family {
	return c.variant.family()
}

func (c *Controller) Panel() display.PanelDescriptor {
	return c.panel
}

func (c *Controller) Secondary() *display.PanelDescriptor {
	return c.secondary
}

// Name identifies the panel, or both panels of a pair.
func (c *Controller) Name() string {
	if c.secondary != nil {
		return c.panel.Name() + "+" + c.secondary.Name()
	}
	return c.panel.Name()
}

func (c *Controller) Allocation() *allocator.Allocation {
	return c.alloc
}

func (c *Controller) Link() link.Configuration {
	return c.link
}

func (c *Controller) Raster() display.Raster {
	return c.raster
}

func (c *Controller) DynamicRange() display.DynamicRangeMode {
	return c.mode
}

// TrainsLink reports whether NegotiateLink does any work for this panel.
func (c *Controller) TrainsLink() bool {
	_, ok := c.variant.(linkVariant)
	return ok
}

func (c *Controller) attempt() string {
	attempt := "state=" + c.state.String()
	if !c.raster.IsZero() {
		attempt += " raster=" + c.raster.String()
	}
	if c.TrainsLink() {
		attempt += " link=" + c.link.String()
	}
	if c.alloc != nil {
		attempt += " " + c.alloc.String()
	}
	return attempt
}

// fail wraps err with the attempt. Fatal errors leave the controller
// failed; a missing baseline and an illegal call do not touch the pipeline.
func (c *Controller) fail(op string, err error) error {
	if errs.IsFatal(err) && !errors.Is(err, errs.ErrVerificationBaselineMissing) {
		c.failed = true
	}
	return errs.NewPanelError(c.Name(), op, c.attempt(), err)
}

func (c *Controller) illegal(op string) error {
	from := c.state.String()
	if c.failed {
		from = "failed " + from
	}
	return errs.NewPanelError(c.Name(), op, c.attempt(),
		fmt.Errorf("%w: %s from %s", errs.ErrIllegalTransition, op, from))
}

// accepts reports whether an operation may run from the current state.
func (c *Controller) accepts(states ...State) bool {
	return !c.failed && c.state.in(states...)
}

// Failed reports whether a fatal error requires Detach before a retry.
func (c *Controller) Failed() bool {
	return c.failed
}

func (c *Controller) transition(to State) {
	logrus.WithFields(logrus.Fields{
		"panel": c.Name(), "family": c.Family().String(), "from": c.state.String(), "to": to.String(),
	}).Debug("Modeset state transition")
	c.state = to
}

// Initialize probes capabilities and starts a new attempt. It is accepted
// from Detached so a failed attempt can be retried.
func (c *Controller) Initialize(ctx context.Context) error {
	const op = "initialize"
	if !c.state.in(StateUninitialized, StateDetached) {
		return c.illegal(op)
	}
	c.reset()

	caps, err := c.deps.Platform.ProbeCapabilities(ctx, c.panel.Display)
	if err != nil {
		return c.fail(op, fmt.Errorf("%w: %w", errs.ErrCapabilityProbe, err))
	}
	c.caps = caps

	if err := c.variant.initialize(ctx, c); err != nil {
		// a partially enabled simulated device must not leak
		cleanup := c.disableSimulatedDevices(ctx)
		return c.fail(op, errors.Join(err, cleanup))
	}
	c.transition(StateInitialized)
	return nil
}

func (c *Controller) reset() {
	c.caps = platform.Capabilities{}
	c.alloc = nil
	c.secondaryAlloc = nil
	c.raster = display.Raster{}
	c.timing = platform.Timing{}
	c.link = link.Configuration{}
	c.mode = display.DynamicRangeBypass
	c.curves = display.ColorCurveSet{}
	c.linkTouched = false
	c.headActive = false
	c.paired = false
	c.simulated = nil
	c.failed = false
}

// SetRaster selects the raster the commit will drive. It must be chosen
// before the link is negotiated since feasibility depends on it.
func (c *Controller) SetRaster(raster display.Raster) error {
	const op = "set raster"
	if !c.accepts(StateInitialized, StateResourcesAllocated) {
		return c.illegal(op)
	}
	if err := c.useRaster(raster); err != nil {
		return c.fail(op, err)
	}
	return nil
}

func (c *Controller) useRaster(raster display.Raster) error {
	timing, err := c.deps.Platform.ComputeTimingForResolution(raster)
	if err != nil {
		return err
	}
	c.raster = raster
	c.timing = timing
	return nil
}

// AllocateResources reserves a head, an OR and the requested windows. A
// dual-stream pair also reserves a head for the secondary sharing the OR.
// Without a selected raster the first window's size is driven at
// DefaultDepth and DefaultRefreshHz.
func (c *Controller) AllocateResources(windows []allocator.WindowRequest) error {
	const op = "allocate resources"
	if !c.accepts(StateInitialized) {
		return c.illegal(op)
	}
	if c.raster.IsZero() && len(windows) > 0 {
		raster := display.Raster{
			Width: windows[0].Width, Height: windows[0].Height, Depth: DefaultDepth, RefreshHz: DefaultRefreshHz,
		}
		if err := c.useRaster(raster); err != nil {
			return c.fail(op, err)
		}
	}

	alloc, err := c.deps.Allocator.Allocate(c.panel, allocator.Request{Windows: windows})
	if err != nil {
		return c.fail(op, err)
	}
	if c.secondary != nil {
		secondary, err := c.deps.Allocator.Allocate(*c.secondary, allocator.Request{ShareOR: alloc})
		if err != nil {
			c.deps.Allocator.Release(alloc)
			return c.fail(op, err)
		}
		c.secondaryAlloc = secondary
	}
	c.alloc = alloc

	logrus.WithFields(logrus.Fields{"panel": c.Name(), "head": alloc.Head, "or": alloc.OR}).
		Debug("Pipeline allocated")
	c.transition(StateResourcesAllocated)
	return nil
}

// NegotiateLink trains the serial link. Protocols without link training
// stay in ResourcesAllocated.
func (c *Controller) NegotiateLink(ctx context.Context, candidates []link.Candidate, fec bool) error {
	const op = "negotiate link"
	if !c.accepts(StateResourcesAllocated) {
		return c.illegal(op)
	}
	trainer, ok := c.variant.(linkVariant)
	if !ok {
		logrus.WithField("panel", c.Name()).Debug("Protocol does not train a link, skipping negotiation")
		return nil
	}
	if c.raster.IsZero() {
		return c.fail(op, fmt.Errorf("%w: no raster selected", errs.ErrInvalidLinkParameter))
	}

	if len(candidates) > 0 {
		c.linkTouched = true
	}
	config, err := trainer.negotiateLink(ctx, c, candidates, fec)
	if err != nil {
		return c.fail(op, err)
	}
	c.link = config
	c.transition(StateLinkTrained)
	return nil
}

// ProgramColor writes the curves for mode. Curves become visible at commit.
// Protocols that train a link must have a trained link first.
func (c *Controller) ProgramColor(ctx context.Context, mode display.DynamicRangeMode,
	curves display.ColorCurveSet,
) error {
	const op = "program color"
	from := []State{StateResourcesAllocated}
	if c.TrainsLink() {
		from = []State{StateLinkTrained}
	}
	if !c.accepts(from...) {
		return c.illegal(op)
	}
	if err := c.deps.Color.Program(ctx, c.alloc, mode, curves); err != nil {
		return c.fail(op, err)
	}
	c.mode = mode
	c.curves = curves
	c.transition(StateColorProgrammed)
	return nil
}

// Commit programs the raster and output serializer in one operation and
// sends the dynamic-range metadata where the protocol carries it. It is
// never retried.
func (c *Controller) Commit(ctx context.Context) error {
	const op = "commit"
	if !c.accepts(StateColorProgrammed) {
		return c.illegal(op)
	}
	if c.raster.IsZero() {
		return c.fail(op, fmt.Errorf("%w: no raster selected", errs.ErrCommitFailed))
	}

	err := platform.Blocking(ctx, c.deps.Timeouts.Commit, func(ctx context.Context) error {
		return c.variant.commit(ctx, c)
	})
	if err != nil {
		return c.fail(op, fmt.Errorf("%w: %w", errs.ErrCommitFailed, err))
	}

	if c.variant.sendsMetadata() && c.mode.NeedsCurves() {
		if c.deps.Platform.Simulated() {
			logrus.WithField("panel", c.Name()).Debug("Simulated environment, skipping dynamic-range metadata")
		} else if err := c.deps.Platform.SendDynamicRangeMetadata(ctx, c.panel.Display, c.mode,
			c.curves.Gamut); err != nil {
			return c.fail(op, fmt.Errorf("%w: metadata packet: %w", errs.ErrCommitFailed, err))
		}
	}

	// dirty curve state was latched by the commit
	for i := range c.alloc.Windows {
		c.alloc.Windows[i].CurveDirty = false
	}
	c.alloc.OutputCurveDirty = false

	logrus.WithFields(logrus.Fields{
		"panel": c.Name(), "raster": c.raster.String(), "head": c.alloc.Head, "link": c.link.String(),
	}).Info("Modeset committed")
	c.transition(StateCommitted)
	return nil
}

// Verify captures the output signature and compares it with expected. A nil
// expected signature reports ErrVerificationBaselineMissing together with
// the captured signature so the caller can store it.
func (c *Controller) Verify(ctx context.Context, expected *display.Signature) (display.Signature, error) {
	const op = "verify"
	if !c.accepts(StateCommitted) {
		return "", c.illegal(op)
	}
	captured, err := c.deps.Platform.CaptureSignature(ctx, c.alloc.Head)
	if err != nil {
		return "", c.fail(op, fmt.Errorf("cant capture signature: %w", err))
	}
	if expected == nil {
		return captured, c.fail(op, errs.ErrVerificationBaselineMissing)
	}
	if *expected != captured {
		return captured, c.fail(op, fmt.Errorf("%w: expected %s, captured %s", errs.ErrVerificationMismatch,
			*expected, captured))
	}
	c.transition(StateVerified)
	return captured, nil
}

// Detach tears the pipeline down and releases every resource. Every cleanup
// step runs even when an earlier one fails. Detaching twice is a no-op.
func (c *Controller) Detach(ctx context.Context) error {
	const op = "detach"
	switch c.state {
	case StateDetached:
		return nil
	case StateUninitialized:
		return c.illegal(op)
	}

	var cleanup []error
	if c.alloc != nil {
		cleanup = append(cleanup, c.deps.Color.Clear(ctx, c.alloc))
	}
	cleanup = append(cleanup, c.variant.detach(ctx, c))
	c.deps.Allocator.Release(c.secondaryAlloc)
	c.deps.Allocator.Release(c.alloc)

	c.transition(StateDetached)
	if err := errors.Join(cleanup...); err != nil {
		return c.fail(op, err)
	}
	return nil
}

func (c *Controller) setMode(ctx context.Context) error {
	req := platform.ModeRequest{
		Display: c.panel.Display,
		Head:    c.alloc.Head,
		OR:      c.alloc.OR,
		Timing:  c.timing,
		Link:    c.link.Setting(),
		Windows: c.alloc.PhysicalWindows(),
	}
	if err := c.deps.Platform.SetMode(ctx, req); err != nil {
		return err
	}
	c.headActive = true
	return nil
}

func (c *Controller) releaseHead(ctx context.Context) error {
	if !c.headActive {
		return nil
	}
	c.headActive = false
	if err := c.deps.Platform.ReleaseHead(ctx, c.alloc.Head); err != nil {
		return fmt.Errorf("cant release head %d: %w", c.alloc.Head, err)
	}
	return nil
}

func (c *Controller) resetLink(ctx context.Context, panel display.PanelDescriptor) error {
	if !c.linkTouched {
		return nil
	}
	c.linkTouched = false
	if err := c.deps.Negotiator.Reset(ctx, panel); err != nil {
		return fmt.Errorf("cant reset link of %s: %w", panel.Name(), err)
	}
	return nil
}

func (c *Controller) enableSimulatedDevice(ctx context.Context, panel display.PanelDescriptor) error {
	if !panel.Synthetic {
		return nil
	}
	if err := c.deps.Platform.EnableSimulatedDevice(ctx, panel.Display, panel.Identity); err != nil {
		return fmt.Errorf("cant enable simulated device for %s: %w", panel.Name(), err)
	}
	c.simulated = append(c.simulated, panel.Display)
	return nil
}

func (c *Controller) disableSimulatedDevices(ctx context.Context) error {
	var errList []error
	for _, id := range c.simulated {
		if err := c.deps.Platform.DisableSimulatedDevice(ctx, id); err != nil {
			errList = append(errList, fmt.Errorf("cant disable simulated device %s: %w", id, err))
		}
	}
	c.simulated = nil
	return errors.Join(errList...)
}
