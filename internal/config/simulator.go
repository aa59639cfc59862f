package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/catalog"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/platform/sim"
	"github.com/fiffeek/modesetcfg/internal/utils"
)

// SimulatorSection describes the simulated display platform the pipeline
// runs against.
type SimulatorSection struct {
	Detected           []*Output `toml:"detected"`
	Supported          []*Output `toml:"supported"`
	Heads              *int      `toml:"heads"`
	ORs                *int      `toml:"output_serializers"`
	Windows            *int      `toml:"windows"`
	ToneMappingWindows []int     `toml:"tone_mapping_windows"`
	CurveSlots         *int      `toml:"curve_slots"`
	MaxLinkRateMbps    *int      `toml:"max_link_rate_mbps"`
	MaxLanes           *int      `toml:"max_lanes"`
	MaxBandwidthMbps   *int      `toml:"max_bandwidth_mbps"`
	VRRSupported       *bool     `toml:"vrr_supported"`
	Simulated          *bool     `toml:"simulated"`
}

type Output struct {
	Connector   string  `toml:"connector"`
	Protocol    string  `toml:"protocol"`
	MultiStream bool    `toml:"multi_stream"`
	Display     *uint32 `toml:"display"`
}

func (s *SimulatorSection) Validate() error {
	defaults := []struct {
		field **int
		value int
	}{
		{&s.Heads, 4},
		{&s.ORs, 4},
		{&s.Windows, 8},
		{&s.CurveSlots, 0},
		{&s.MaxLinkRateMbps, 8100},
		{&s.MaxLanes, 4},
		{&s.MaxBandwidthMbps, 0},
	}
	for _, d := range defaults {
		if *d.field == nil {
			*d.field = utils.IntPtr(d.value)
		}
		if **d.field < 0 {
			return errors.New("simulator capacities cant be negative")
		}
	}
	if *s.Heads == 0 || *s.ORs == 0 || *s.Windows == 0 {
		return errors.New("heads, output_serializers and windows need to be > 0")
	}
	if s.ToneMappingWindows == nil {
		s.ToneMappingWindows = []int{}
		for window := 0; window < *s.Windows; window += 2 {
			s.ToneMappingWindows = append(s.ToneMappingWindows, window)
		}
	}
	for _, window := range s.ToneMappingWindows {
		if window < 0 || window >= *s.Windows {
			return fmt.Errorf("tone mapping window %d out of range", window)
		}
	}
	if s.VRRSupported == nil {
		s.VRRSupported = utils.BoolPtr(true)
	}
	if s.Simulated == nil {
		s.Simulated = utils.BoolPtr(true)
	}

	ids := map[string]uint32{}
	next := uint32(1)
	for _, out := range append(append([]*Output{}, s.Detected...), s.Supported...) {
		if out.Display != nil && *out.Display >= next {
			next = *out.Display + 1
		}
	}
	for i, out := range s.Detected {
		if err := out.Validate(); err != nil {
			return fmt.Errorf("detected[%d] validation failed: %w", i, err)
		}
	}
	for i, out := range s.Supported {
		if err := out.Validate(); err != nil {
			return fmt.Errorf("supported[%d] validation failed: %w", i, err)
		}
	}
	// ids are assigned per connector so a detected output and its supported
	// connector entry agree
	for _, outputs := range [][]*Output{s.Detected, s.Supported} {
		for _, out := range outputs {
			if out.Display != nil {
				ids[out.Connector] = *out.Display
				continue
			}
			if id, ok := ids[out.Connector]; ok {
				out.Display = utils.JustPtr(id)
				continue
			}
			ids[out.Connector] = next
			out.Display = utils.JustPtr(next)
			next++
		}
	}
	return nil
}

func (o *Output) Validate() error {
	if o.Connector == "" {
		return errors.New("connector is required")
	}
	o.Protocol = strings.ToUpper(strings.TrimSpace(o.Protocol))
	if _, err := catalog.ResolveProtocol(o.Protocol, o.MultiStream); err != nil {
		return fmt.Errorf("cant resolve protocol: %w", err)
	}
	if o.Display != nil && *o.Display == 0 {
		return errors.New("display id 0 is reserved")
	}
	return nil
}

func toPlatformOutputs(outputs []*Output) []platform.Output {
	result := make([]platform.Output, 0, len(outputs))
	for _, o := range outputs {
		result = append(result, platform.Output{
			Display:     display.DisplayID(*o.Display),
			Connector:   o.Connector,
			Protocol:    o.Protocol,
			MultiStream: o.MultiStream,
		})
	}
	return result
}

func (s *SimulatorSection) PlatformConfig() sim.Config {
	return sim.Config{
		Detected:           toPlatformOutputs(s.Detected),
		Supported:          toPlatformOutputs(s.Supported),
		Simulated:          *s.Simulated,
		Windows:            *s.Windows,
		ToneMappingWindows: s.ToneMappingWindows,
		MaxLinkRateMbps:    *s.MaxLinkRateMbps,
		MaxLanes:           *s.MaxLanes,
		MaxBandwidthMbps:   *s.MaxBandwidthMbps,
		VRRSupported:       *s.VRRSupported,
	}
}

func (s *SimulatorSection) Capacity() allocator.Capacity {
	return allocator.Capacity{Heads: *s.Heads, ORs: *s.ORs, CurveSlots: *s.CurveSlots}
}
