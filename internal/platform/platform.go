// Package platform defines the boundary between the pipeline configurator
// and the display hardware (or its simulation).
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
)

type Output struct {
	Display   display.DisplayID
	Connector string
	// Protocol is the connector protocol token, e.g. SINGLE_TMDS_A or DP_B.
	Protocol    string
	MultiStream bool
}

type Discovery interface {
	GetDetectedOutputs(ctx context.Context) ([]Output, error)
	GetSupportedConnectors(ctx context.Context) ([]Output, error)
}

type IdentityInjector interface {
	SetSyntheticIdentity(ctx context.Context, id display.DisplayID, identity []byte) error
	// AddSyntheticSink exposes one more sink behind the multi-stream
	// connector of id and returns the sink's display id.
	AddSyntheticSink(ctx context.Context, id display.DisplayID) (display.DisplayID, error)
	RemoveSyntheticSink(ctx context.Context, sink display.DisplayID) error
}

type Timing struct {
	Raster        display.Raster
	HTotal        int
	VTotal        int
	PixelClockKHz int
}

// RequiredMbps is the payload bandwidth needed to scan out this timing.
func (t Timing) RequiredMbps() int {
	return t.PixelClockKHz * t.Raster.Depth / 1000
}

type TimingCalculator interface {
	ComputeTimingForResolution(raster display.Raster) (Timing, error)
}

type LinkProtocol int

const (
	LinkNone LinkProtocol = iota
	LinkDisplayPort
	LinkFRL
)

func (l LinkProtocol) String() string {
	switch l {
	case LinkDisplayPort:
		return "dp"
	case LinkFRL:
		return "frl"
	}
	return "none"
}

type LinkSetting struct {
	Protocol LinkProtocol
	RateMbps int
	Lanes    int
	FEC      bool
}

// Baseline is the "no link" configuration training starts from.
func Baseline(protocol LinkProtocol) LinkSetting {
	return LinkSetting{Protocol: protocol}
}

func (l LinkSetting) IsBaseline() bool {
	return l.RateMbps == 0 && l.Lanes == 0
}

func (l LinkSetting) BandwidthMbps() int {
	return l.RateMbps * l.Lanes
}

func (l LinkSetting) String() string {
	if l.IsBaseline() {
		return l.Protocol.String() + ":baseline"
	}
	return fmt.Sprintf("%s:%dx%d", l.Protocol, l.RateMbps, l.Lanes)
}

type FeasibilityOracle interface {
	IsRasterLinkCombinationFeasible(ctx context.Context, id display.DisplayID, timing Timing, link LinkSetting) (bool, error)
}

type Capabilities struct {
	DisplayPort  bool
	HDMIExtended bool
	FRL          bool
	VRR          bool
}

type CapabilityProber interface {
	ProbeCapabilities(ctx context.Context, id display.DisplayID) (Capabilities, error)
}

type LinkTrainer interface {
	LinkAssessedMax(ctx context.Context, id display.DisplayID) (LinkSetting, error)
	// TrainLink blocks until training settles or ctx expires.
	TrainLink(ctx context.Context, id display.DisplayID, link LinkSetting, force bool) error
}

type Layer struct {
	Physical        int
	FullToneMapping bool
}

type LayerResolver interface {
	ResolveWindow(logical int) (Layer, error)
}

type CurveStage int

const (
	InputCurveStage CurveStage = iota
	ToneMappingCurveStage
	OutputCurveStage
)

func (s CurveStage) String() string {
	switch s {
	case InputCurveStage:
		return "input"
	case ToneMappingCurveStage:
		return "tone-mapping"
	case OutputCurveStage:
		return "output"
	}
	return "unknown"
}

// CurveTarget names a curve slot; Window is the physical layer, or -1 for
// the head's output curve.
type CurveTarget struct {
	Stage  CurveStage
	Head   int
	Window int
}

type CurveProgrammer interface {
	ProgramCurve(ctx context.Context, target CurveTarget, curve display.Curve) error
	ClearCurves(ctx context.Context, head int, windows []int) error
}

type ModeRequest struct {
	Display display.DisplayID
	Head    int
	OR      int
	Timing  Timing
	Link    LinkSetting
	Windows []int
}

type RasterProgrammer interface {
	SetMode(ctx context.Context, req ModeRequest) error
	ReleaseHead(ctx context.Context, head int) error
	ConfigureSingleHeadMultiStream(ctx context.Context, primary, secondary display.DisplayID, enable bool) error
	SendDynamicRangeMetadata(ctx context.Context, id display.DisplayID, mode display.DynamicRangeMode, gamut display.Gamut) error
	CaptureSignature(ctx context.Context, head int) (display.Signature, error)
}

type SimulatedDevices interface {
	EnableSimulatedDevice(ctx context.Context, id display.DisplayID, identity []byte) error
	DisableSimulatedDevice(ctx context.Context, id display.DisplayID) error
}

type VRR interface {
	VRRSupported(ctx context.Context, head int) (bool, error)
	ConfigureOneShot(ctx context.Context, head int, enable bool) error
	RegisterFrameSemaphore(ctx context.Context, head int) error
	UnregisterFrameSemaphore(ctx context.Context, head int) error
	// InterlockedUpdate blocks until the frame is latched or ctx expires.
	InterlockedUpdate(ctx context.Context, head int) error
	ReadLoadVCounter(ctx context.Context, head int) (uint32, error)
	// ReadUnderflow returns and clears the head's underflow flag.
	ReadUnderflow(ctx context.Context, head int) (bool, error)
}

type Environment interface {
	Simulated() bool
}

type Platform interface {
	Environment
	Discovery
	IdentityInjector
	TimingCalculator
	FeasibilityOracle
	CapabilityProber
	LinkTrainer
	LayerResolver
	CurveProgrammer
	RasterProgrammer
	SimulatedDevices
	VRR
}

// Blocking runs fn under a deadline and reports expiry as ErrHardwareTimeout.
func Blocking(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errs.ErrHardwareTimeout) {
		return fmt.Errorf("%w after %s: %w", errs.ErrHardwareTimeout, timeout, err)
	}
	return err
}
