// Package sim provides an in-process simulated display platform. It keeps
// enough hardware state to exercise every pipeline operation
// deterministically and exposes hooks to script failures.
package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Detected  []platform.Output
	Supported []platform.Output
	// Simulated marks the execution environment as non-hardware, which
	// forces link training and skips metadata packets.
	Simulated          bool
	Windows            int
	ToneMappingWindows []int
	MaxLinkRateMbps    int
	MaxLanes           int
	// MaxBandwidthMbps caps the link bandwidth the oracle accepts, 0 = unlimited.
	MaxBandwidthMbps int
	VRRSupported     bool
	TrainDelay       time.Duration
	FrameDelay       time.Duration
}

type Platform struct {
	mu  sync.Mutex
	cfg Config

	identities map[display.DisplayID][]byte
	sinks      map[display.DisplayID]platform.Output
	enabled    map[display.DisplayID]bool
	links      map[display.DisplayID]platform.LinkSetting
	paired     map[display.DisplayID]display.DisplayID
	modes      map[int]platform.ModeRequest
	curves     map[platform.CurveTarget]display.Curve
	oneShot    map[int]bool
	semaphores map[int]bool
	loadV      map[int]uint32
	underflow  map[int]bool
	calls      []string

	// Feasible overrides the bandwidth based feasibility oracle.
	Feasible func(id display.DisplayID, timing platform.Timing, link platform.LinkSetting) bool
	// TrainErr, when set, is returned by TrainLink for non-baseline settings.
	TrainErr func(id display.DisplayID, link platform.LinkSetting) error
	// LoadVStep, when set, decides how far the load-V counter moves on a frame.
	LoadVStep func(head int, frame int) uint32
	frames    map[int]int

	ProbeErr    error
	SetModeErr  error
	CurveErr    error
	DiscoverErr error
}

func New(cfg Config) *Platform {
	if cfg.Windows == 0 {
		cfg.Windows = 8
	}
	if cfg.MaxLinkRateMbps == 0 {
		cfg.MaxLinkRateMbps = 8100
	}
	if cfg.MaxLanes == 0 {
		cfg.MaxLanes = 4
	}
	return &Platform{
		cfg:        cfg,
		identities: make(map[display.DisplayID][]byte),
		sinks:      make(map[display.DisplayID]platform.Output),
		enabled:    make(map[display.DisplayID]bool),
		links:      make(map[display.DisplayID]platform.LinkSetting),
		paired:     make(map[display.DisplayID]display.DisplayID),
		modes:      make(map[int]platform.ModeRequest),
		curves:     make(map[platform.CurveTarget]display.Curve),
		oneShot:    make(map[int]bool),
		semaphores: make(map[int]bool),
		loadV:      make(map[int]uint32),
		underflow:  make(map[int]bool),
		frames:     make(map[int]int),
	}
}

func (p *Platform) record(format string, args ...any) {
	call := fmt.Sprintf(format, args...)
	p.calls = append(p.calls, call)
	logrus.WithField("call", call).Debug("sim platform call")
}

// Calls returns the hardware calls issued so far.
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

func (p *Platform) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *Platform) Simulated() bool {
	return p.cfg.Simulated
}

func (p *Platform) GetDetectedOutputs(ctx context.Context) ([]platform.Output, error) {
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	return slices.Clone(p.cfg.Detected), nil
}

func (p *Platform) GetSupportedConnectors(ctx context.Context) ([]platform.Output, error) {
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	return slices.Clone(p.cfg.Supported), nil
}

func (p *Platform) lookup(id display.DisplayID) (platform.Output, bool) {
	for _, o := range p.cfg.Detected {
		if o.Display == id {
			return o, true
		}
	}
	for _, o := range p.cfg.Supported {
		if o.Display == id {
			return o, true
		}
	}
	o, ok := p.sinks[id]
	return o, ok
}

func (p *Platform) SetSyntheticIdentity(ctx context.Context, id display.DisplayID, identity []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lookup(id); !ok {
		return fmt.Errorf("display %s is not a supported connector", id)
	}
	p.record("set-identity %s %d", id, len(identity))
	p.identities[id] = slices.Clone(identity)
	return nil
}

// AddSyntheticSink allocates the sink id above every known display.
func (p *Platform) AddSyntheticSink(ctx context.Context, id display.DisplayID) (display.DisplayID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.lookup(id)
	if !ok {
		return 0, fmt.Errorf("display %s is not a supported connector", id)
	}
	next := display.DisplayID(0)
	for _, outputs := range [][]platform.Output{p.cfg.Detected, p.cfg.Supported} {
		for _, o := range outputs {
			next = max(next, o.Display)
		}
	}
	for sink := range p.sinks {
		next = max(next, sink)
	}
	next++

	out.Display = next
	out.MultiStream = true
	p.sinks[next] = out
	p.record("add-sink %s on %s", next, out.Connector)
	return next, nil
}

func (p *Platform) RemoveSyntheticSink(ctx context.Context, sink display.DisplayID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sinks[sink]; !ok {
		return fmt.Errorf("display %s is not a synthetic sink", sink)
	}
	p.record("remove-sink %s", sink)
	delete(p.sinks, sink)
	delete(p.identities, sink)
	return nil
}

// Sinks lists the synthetic sinks currently exposed.
func (p *Platform) Sinks() []display.DisplayID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]display.DisplayID, 0, len(p.sinks))
	for id := range p.sinks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *Platform) Identity(id display.DisplayID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[id]
}

func (p *Platform) ComputeTimingForResolution(raster display.Raster) (platform.Timing, error) {
	if raster.Width <= 0 || raster.Height <= 0 || raster.RefreshHz <= 0 || raster.Depth <= 0 {
		return platform.Timing{}, fmt.Errorf("invalid raster %s", raster)
	}
	// reduced blanking: fixed horizontal blank, ~3% vertical blank
	hTotal := raster.Width + 160
	vTotal := raster.Height + max(raster.Height*3/100, 8)
	return platform.Timing{
		Raster:        raster,
		HTotal:        hTotal,
		VTotal:        vTotal,
		PixelClockKHz: hTotal * vTotal * raster.RefreshHz / 1000,
	}, nil
}

func (p *Platform) IsRasterLinkCombinationFeasible(ctx context.Context, id display.DisplayID,
	timing platform.Timing, link platform.LinkSetting,
) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("feasible %s %s %s", id, timing.Raster, link)
	if p.Feasible != nil {
		return p.Feasible(id, timing, link), nil
	}
	if link.IsBaseline() {
		return true, nil
	}
	if p.cfg.MaxBandwidthMbps > 0 && link.BandwidthMbps() > p.cfg.MaxBandwidthMbps {
		return false, nil
	}
	payload := link.BandwidthMbps() * 8 / 10
	if link.Protocol == platform.LinkFRL {
		payload = link.BandwidthMbps() * 16 / 18
	}
	return payload >= timing.RequiredMbps(), nil
}

func (p *Platform) ProbeCapabilities(ctx context.Context, id display.DisplayID) (platform.Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("probe %s", id)
	if p.ProbeErr != nil {
		return platform.Capabilities{}, p.ProbeErr
	}
	out, ok := p.lookup(id)
	if !ok {
		return platform.Capabilities{}, fmt.Errorf("unknown display %s", id)
	}
	return platform.Capabilities{
		DisplayPort:  strings.HasPrefix(out.Protocol, "DP") || out.Protocol == "EDP",
		HDMIExtended: strings.Contains(out.Protocol, "HDMI"),
		FRL:          out.Protocol == "HDMI_FRL",
		VRR:          p.cfg.VRRSupported,
	}, nil
}

func (p *Platform) LinkAssessedMax(ctx context.Context, id display.DisplayID) (platform.LinkSetting, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.lookup(id)
	if !ok {
		return platform.LinkSetting{}, fmt.Errorf("unknown display %s", id)
	}
	protocol := platform.LinkDisplayPort
	rate := p.cfg.MaxLinkRateMbps
	if out.Protocol == "HDMI_FRL" {
		protocol = platform.LinkFRL
		rate = 12000
	}
	return platform.LinkSetting{Protocol: protocol, RateMbps: rate, Lanes: p.cfg.MaxLanes}, nil
}

func (p *Platform) TrainLink(ctx context.Context, id display.DisplayID, link platform.LinkSetting, force bool) error {
	if p.cfg.TrainDelay > 0 && !link.IsBaseline() {
		select {
		case <-time.After(p.cfg.TrainDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("train %s %s force=%t", id, link, force)
	if p.TrainErr != nil && !link.IsBaseline() {
		if err := p.TrainErr(id, link); err != nil {
			return err
		}
	}
	p.links[id] = link
	return nil
}

func (p *Platform) Link(id display.DisplayID) platform.LinkSetting {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links[id]
}

func (p *Platform) ResolveWindow(logical int) (platform.Layer, error) {
	if logical < 0 || logical >= p.cfg.Windows {
		return platform.Layer{}, fmt.Errorf("window %d out of range [0, %d)", logical, p.cfg.Windows)
	}
	return platform.Layer{
		Physical:        logical,
		FullToneMapping: slices.Contains(p.cfg.ToneMappingWindows, logical),
	}, nil
}

func (p *Platform) ProgramCurve(ctx context.Context, target platform.CurveTarget, curve display.Curve) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("curve head=%d window=%d %s=%s", target.Head, target.Window, target.Stage, curve)
	if p.CurveErr != nil {
		return p.CurveErr
	}
	p.curves[target] = curve
	return nil
}

func (p *Platform) ClearCurves(ctx context.Context, head int, windows []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("clear-curves head=%d", head)
	for target := range p.curves {
		if target.Head == head {
			delete(p.curves, target)
		}
	}
	return nil
}

// Curves returns the curves currently programmed on head.
func (p *Platform) Curves(head int) map[platform.CurveTarget]display.Curve {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[platform.CurveTarget]display.Curve)
	for target, curve := range p.curves {
		if target.Head == head {
			out[target] = curve
		}
	}
	return out
}

func (p *Platform) SetMode(ctx context.Context, req platform.ModeRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-mode %s head=%d or=%d %s", req.Display, req.Head, req.OR, req.Timing.Raster)
	if p.SetModeErr != nil {
		return p.SetModeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.modes[req.Head] = req
	return nil
}

func (p *Platform) ReleaseHead(ctx context.Context, head int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("release-head %d", head)
	delete(p.modes, head)
	delete(p.loadV, head)
	delete(p.frames, head)
	return nil
}

// Mode returns the raster programmed on head.
func (p *Platform) Mode(head int) (platform.ModeRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.modes[head]
	return m, ok
}

func (p *Platform) ConfigureSingleHeadMultiStream(ctx context.Context, primary, secondary display.DisplayID, enable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("dual-stream %s+%s enable=%t", primary, secondary, enable)
	if enable {
		p.paired[primary] = secondary
	} else {
		delete(p.paired, primary)
	}
	return nil
}

func (p *Platform) SendDynamicRangeMetadata(ctx context.Context, id display.DisplayID,
	mode display.DynamicRangeMode, gamut display.Gamut,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("metadata %s %s %s", id, mode, gamut.Value())
	return nil
}

func (p *Platform) CaptureSignature(ctx context.Context, head int) (display.Signature, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mode, ok := p.modes[head]
	if !ok {
		return "", fmt.Errorf("head %d is not driving a raster", head)
	}
	// the checksum covers what is scanned out, not which display or head drives it
	content := fmt.Sprintf("%s|%v", mode.Timing.Raster, mode.Windows)
	targets := []platform.CurveTarget{}
	for target := range p.curves {
		if target.Head == head {
			targets = append(targets, target)
		}
	}
	slices.SortFunc(targets, func(a, b platform.CurveTarget) int {
		if a.Window != b.Window {
			return a.Window - b.Window
		}
		return int(a.Stage) - int(b.Stage)
	})
	for _, target := range targets {
		content += fmt.Sprintf("|%d:%d=%s", target.Window, target.Stage, p.curves[target])
	}
	return display.Signature(fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(content)))), nil
}

func (p *Platform) EnableSimulatedDevice(ctx context.Context, id display.DisplayID, identity []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("enable-sim %s", id)
	p.enabled[id] = true
	return nil
}

func (p *Platform) DisableSimulatedDevice(ctx context.Context, id display.DisplayID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("disable-sim %s", id)
	if !p.enabled[id] {
		return errors.New("simulated device not enabled")
	}
	delete(p.enabled, id)
	return nil
}

func (p *Platform) SimulatedDeviceEnabled(id display.DisplayID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[id]
}

func (p *Platform) VRRSupported(ctx context.Context, head int) (bool, error) {
	return p.cfg.VRRSupported, nil
}

func (p *Platform) ConfigureOneShot(ctx context.Context, head int, enable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("one-shot head=%d enable=%t", head, enable)
	p.oneShot[head] = enable
	return nil
}

func (p *Platform) OneShot(head int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.oneShot[head]
}

func (p *Platform) RegisterFrameSemaphore(ctx context.Context, head int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("semaphore head=%d register", head)
	p.semaphores[head] = true
	return nil
}

func (p *Platform) UnregisterFrameSemaphore(ctx context.Context, head int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("semaphore head=%d unregister", head)
	delete(p.semaphores, head)
	return nil
}

func (p *Platform) SemaphoreRegistered(head int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.semaphores[head]
}

func (p *Platform) InterlockedUpdate(ctx context.Context, head int) error {
	if p.cfg.FrameDelay > 0 {
		select {
		case <-time.After(p.cfg.FrameDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.modes[head]; !ok {
		return fmt.Errorf("head %d is not driving a raster", head)
	}
	step := uint32(1)
	if p.LoadVStep != nil {
		step = p.LoadVStep(head, p.frames[head])
	}
	p.frames[head]++
	p.loadV[head] += step
	return nil
}

func (p *Platform) ReadLoadVCounter(ctx context.Context, head int) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadV[head], nil
}

func (p *Platform) ReadUnderflow(ctx context.Context, head int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	flag := p.underflow[head]
	delete(p.underflow, head)
	return flag, nil
}

// InjectUnderflow raises the underflow flag of head until it is next read.
func (p *Platform) InjectUnderflow(head int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.underflow[head] = true
}

var _ platform.Platform = (*Platform)(nil)
