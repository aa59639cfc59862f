package config

import (
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/utils"
)

type ScenarioSection struct {
	DynamicRange           *display.DynamicRangeMode `toml:"dynamic_range"`
	Gamut                  *display.Gamut            `toml:"gamut"`
	InputCurve             *display.Curve            `toml:"input_curve"`
	ToneMappingCurve       *display.Curve            `toml:"tone_mapping_curve"`
	OutputCurve            *display.Curve            `toml:"output_curve"`
	Windows                []*Window                 `toml:"windows"`
	Rasters                []*Raster                 `toml:"rasters"`
	LinkCandidates         []*LinkCandidate          `toml:"link_candidates"`
	ForwardErrorCorrection *bool                     `toml:"forward_error_correction"`
}

// Window is a window request; a missing head uses the window/2 mapping.
// The curve fields override the scenario-wide input and tone-mapping curves.
type Window struct {
	Head             *int           `toml:"head"`
	Window           int            `toml:"window"`
	Width            int            `toml:"width"`
	Height           int            `toml:"height"`
	InputCurve       *display.Curve `toml:"input_curve"`
	ToneMappingCurve *display.Curve `toml:"tone_mapping_curve"`
}

type Raster struct {
	Width     int `toml:"width"`
	Height    int `toml:"height"`
	Depth     int `toml:"depth"`
	RefreshHz int `toml:"refresh_hz"`
}

type LinkCandidate struct {
	Rate  link.Rate `toml:"rate"`
	Lanes int       `toml:"lanes"`
}

func (s *ScenarioSection) Validate() error {
	if s.DynamicRange == nil {
		s.DynamicRange = utils.JustPtr(display.DynamicRangeBypass)
	}
	if s.Gamut == nil {
		s.Gamut = utils.JustPtr(display.GamutREC709)
	}
	for _, curve := range []**display.Curve{&s.InputCurve, &s.ToneMappingCurve, &s.OutputCurve} {
		if *curve == nil {
			*curve = utils.JustPtr(display.CurveNone)
		}
	}

	if len(s.Windows) == 0 {
		s.Windows = []*Window{{Window: 0, Width: 1920, Height: 1080}}
	}
	for i, window := range s.Windows {
		if err := window.Validate(); err != nil {
			return fmt.Errorf("windows[%d] validation failed: %w", i, err)
		}
	}

	if len(s.Rasters) == 0 {
		first := s.Windows[0]
		s.Rasters = []*Raster{{Width: first.Width, Height: first.Height}}
	}
	for i, raster := range s.Rasters {
		if err := raster.Validate(); err != nil {
			return fmt.Errorf("rasters[%d] validation failed: %w", i, err)
		}
	}

	if len(s.LinkCandidates) == 0 {
		s.LinkCandidates = defaultLinkCandidates()
	}
	for i, candidate := range s.LinkCandidates {
		if err := candidate.Validate(); err != nil {
			return fmt.Errorf("link_candidates[%d] validation failed: %w", i, err)
		}
	}

	if s.ForwardErrorCorrection == nil {
		s.ForwardErrorCorrection = utils.BoolPtr(false)
	}
	return nil
}

func (w *Window) Validate() error {
	if w.Window < 0 {
		return errors.New("window cant be negative")
	}
	if w.Head != nil && *w.Head < 0 {
		return errors.New("head cant be negative")
	}
	if w.Width <= 0 || w.Height <= 0 {
		return errors.New("width and height need to be > 0")
	}
	return nil
}

func (r *Raster) Validate() error {
	if r.Depth == 0 {
		r.Depth = 24
	}
	if r.RefreshHz == 0 {
		r.RefreshHz = 60
	}
	if r.Width <= 0 || r.Height <= 0 || r.Depth < 0 || r.RefreshHz < 0 {
		return errors.New("width, height, depth and refresh_hz need to be > 0")
	}
	return nil
}

func (l *LinkCandidate) Validate() error {
	if l.Rate == link.RateUnset {
		return errors.New("rate is required")
	}
	if l.Lanes <= 0 {
		return errors.New("lanes need to be > 0")
	}
	return nil
}

func (s *ScenarioSection) WindowRequests() []allocator.WindowRequest {
	requests := make([]allocator.WindowRequest, 0, len(s.Windows))
	for _, w := range s.Windows {
		head := allocator.ImplicitHead
		if w.Head != nil {
			head = *w.Head
		}
		requests = append(requests, allocator.WindowRequest{
			Head: head, Window: w.Window, Width: w.Width, Height: w.Height,
		})
	}
	return requests
}

func (s *ScenarioSection) CurveSet() display.ColorCurveSet {
	set := display.ColorCurveSet{
		Input:       *s.InputCurve,
		ToneMapping: *s.ToneMappingCurve,
		Output:      *s.OutputCurve,
		Gamut:       *s.Gamut,
	}
	for _, w := range s.Windows {
		if w.InputCurve == nil && w.ToneMappingCurve == nil {
			continue
		}
		override := display.WindowCurves{Input: set.Input, ToneMapping: set.ToneMapping}
		if w.InputCurve != nil {
			override.Input = *w.InputCurve
		}
		if w.ToneMappingCurve != nil {
			override.ToneMapping = *w.ToneMappingCurve
		}
		if set.Windows == nil {
			set.Windows = map[int]display.WindowCurves{}
		}
		set.Windows[w.Window] = override
	}
	return set
}

// RasterList returns the rasters in fallback order.
func (s *ScenarioSection) RasterList() []display.Raster {
	rasters := make([]display.Raster, 0, len(s.Rasters))
	for _, r := range s.Rasters {
		rasters = append(rasters, display.Raster{
			Width: r.Width, Height: r.Height, Depth: r.Depth, RefreshHz: r.RefreshHz,
		})
	}
	return rasters
}

// Candidates returns the configured link candidates for one link protocol.
func (s *ScenarioSection) Candidates(protocol platform.LinkProtocol) []link.Candidate {
	candidates := []link.Candidate{}
	for _, c := range s.LinkCandidates {
		if c.Rate.Protocol() == protocol {
			candidates = append(candidates, link.Candidate{Rate: c.Rate, Lanes: c.Lanes})
		}
	}
	return candidates
}

func defaultLinkCandidates() []*LinkCandidate {
	return []*LinkCandidate{
		{Rate: link.RateHBR3, Lanes: 4},
		{Rate: link.RateHBR2, Lanes: 4},
		{Rate: link.RateHBR, Lanes: 4},
		{Rate: link.RateRBR, Lanes: 4},
		{Rate: link.RateFRL12G, Lanes: 4},
		{Rate: link.RateFRL10G, Lanes: 4},
		{Rate: link.RateFRL8G, Lanes: 4},
		{Rate: link.RateFRL6G, Lanes: 4},
		{Rate: link.RateFRL6G, Lanes: 3},
		{Rate: link.RateFRL3G, Lanes: 3},
	}
}
