package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffeek/modesetcfg/internal/allocator"
	"github.com/fiffeek/modesetcfg/internal/catalog"
	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/link"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		configFile    string
		expectError   bool
		errorContains string
		validate      func(*testing.T, *RawConfig)
	}{
		{
			name:       "valid full config",
			configFile: "valid_full.toml",
			validate: func(t *testing.T, c *RawConfig) {
				assert.Equal(t, catalog.Filter{"DP_A", "DP_B"}, c.General.Filter())
				assert.True(t, *c.General.IncludeSynthetic)
				assert.Equal(t, "/tmp/modesetcfg-signatures.toml", *c.General.SignaturesPath)
				assert.True(t, *c.General.CreateBaseline)
				assert.False(t, *c.General.ContinueOnError)
				assert.True(t, *c.General.DualStream)

				assert.Equal(t, 2, *c.SyntheticMST.SinkCount)
				assert.Equal(t, 256, *c.SyntheticMST.ByteCount)
				assert.Equal(t, []byte("MSC-IDENTITY"), c.SyntheticMST.Identity)
				assert.True(t, filepath.IsAbs(*c.SyntheticMST.IdentityFile))

				assert.Equal(t, 250*time.Millisecond, c.Timeouts.LinkTraining())
				assert.Equal(t, 2*time.Second, c.Timeouts.Commit())
				assert.Equal(t, 50*time.Millisecond, c.Timeouts.Frame())

				assert.Equal(t, display.DynamicRangeHDR, *c.Scenario.DynamicRange)
				assert.Equal(t, display.GamutBT2020, *c.Scenario.Gamut)
				assert.True(t, *c.Scenario.ForwardErrorCorrection)
				assert.Equal(t, []display.Raster{
					{Width: 3840, Height: 2160, Depth: 30, RefreshHz: 120},
					{Width: 3840, Height: 2160, Depth: 24, RefreshHz: 60},
				}, c.Scenario.RasterList())
				assert.Equal(t, []link.Candidate{
					{Rate: link.RateHBR3, Lanes: 4},
					{Rate: link.RateHBR2, Lanes: 2},
				}, c.Scenario.Candidates(platform.LinkDisplayPort))
				assert.Equal(t, []link.Candidate{{Rate: link.RateFRL12G, Lanes: 4}},
					c.Scenario.Candidates(platform.LinkFRL))

				curves := c.Scenario.CurveSet()
				assert.Equal(t, display.CurvePQ, curves.Input)
				assert.Equal(t, display.CurveBT2390, curves.ToneMapping)
				assert.Equal(t, display.WindowCurves{Input: display.CurveSRGB, ToneMapping: display.CurveBT2390},
					curves.ForWindow(1))
				assert.Equal(t, display.WindowCurves{Input: display.CurvePQ, ToneMapping: display.CurveBT2390},
					curves.ForWindow(0))

				assert.True(t, *c.VRR.Enabled)
				assert.True(t, *c.VRR.Legacy)
				assert.Equal(t, 10, *c.VRR.Frames)
				assert.False(t, *c.Notifications.Disabled)
				assert.Equal(t, int32(3000), *c.Notifications.TimeoutMs)
				assert.Equal(t, 200, *c.HotReload.DebounceTimeMs)

				assert.Equal(t, allocator.Capacity{Heads: 2, ORs: 3, CurveSlots: 6}, c.Simulator.Capacity())
				sim := c.Simulator.PlatformConfig()
				assert.False(t, sim.Simulated)
				assert.False(t, sim.VRRSupported)
				assert.Equal(t, 4, sim.Windows)
				assert.Equal(t, []int{0}, sim.ToneMappingWindows)
				assert.Equal(t, 5400, sim.MaxLinkRateMbps)
				assert.Equal(t, 2, sim.MaxLanes)
				require.Len(t, sim.Detected, 1)
				require.Len(t, sim.Supported, 3)
				assert.Equal(t, "DP_A", sim.Detected[0].Protocol)
				assert.Equal(t, sim.Detected[0].Display, sim.Supported[0].Display, "same connector, same display id")
				assert.Equal(t, display.DisplayID(10), sim.Supported[0].Display)
				assert.Equal(t, display.DisplayID(9), sim.Supported[1].Display)
				assert.Equal(t, display.DisplayID(11), sim.Supported[2].Display)
			},
		},
		{
			name:       "minimal config gets defaults",
			configFile: "minimal.toml",
			validate: func(t *testing.T, c *RawConfig) {
				assert.Empty(t, c.General.Filter())
				assert.False(t, *c.General.IncludeSynthetic)
				assert.Contains(t, *c.General.SignaturesPath, ".config/modesetcfg/signatures.toml")
				assert.True(t, *c.General.ContinueOnError)
				assert.False(t, *c.General.DualStream)
				assert.Equal(t, 0, *c.SyntheticMST.SinkCount)
				assert.Equal(t, 128, *c.SyntheticMST.ByteCount)
				assert.Nil(t, c.SyntheticMST.Identity)

				assert.Equal(t, 500*time.Millisecond, c.Timeouts.LinkTraining())
				assert.Equal(t, time.Second, c.Timeouts.Commit())
				assert.Equal(t, 100*time.Millisecond, c.Timeouts.Frame())

				assert.Equal(t, display.DynamicRangeBypass, *c.Scenario.DynamicRange)
				assert.Equal(t, []allocator.WindowRequest{allocator.Shorthand(0, 1920, 1080)},
					c.Scenario.WindowRequests())
				assert.Equal(t, []display.Raster{{Width: 1920, Height: 1080, Depth: 24, RefreshHz: 60}},
					c.Scenario.RasterList())
				assert.Len(t, c.Scenario.Candidates(platform.LinkDisplayPort), 4)
				assert.Len(t, c.Scenario.Candidates(platform.LinkFRL), 6)
				assert.False(t, *c.Scenario.ForwardErrorCorrection)

				assert.False(t, *c.VRR.Enabled)
				assert.Equal(t, 5, *c.VRR.Frames)
				assert.True(t, *c.Notifications.Disabled)
				assert.Equal(t, 1000, *c.HotReload.DebounceTimeMs)

				assert.Equal(t, allocator.Capacity{Heads: 4, ORs: 4}, c.Simulator.Capacity())
				sim := c.Simulator.PlatformConfig()
				assert.True(t, sim.Simulated)
				assert.True(t, sim.VRRSupported)
				assert.Equal(t, []int{0, 2, 4, 6}, sim.ToneMappingWindows)
			},
		},
		{
			name:          "unknown protocol in filter",
			configFile:    "invalid_filter.toml",
			expectError:   true,
			errorContains: "VGA",
		},
		{
			name:          "unknown link rate",
			configFile:    "invalid_rate.toml",
			expectError:   true,
			errorContains: "invalid link rate HBR9",
		},
		{
			name:          "zero sized window",
			configFile:    "invalid_window.toml",
			expectError:   true,
			errorContains: "windows[0] validation failed",
		},
		{
			name:          "unknown simulator protocol",
			configFile:    "invalid_simulator.toml",
			expectError:   true,
			errorContains: "detected[0] validation failed",
		},
		{
			name:          "identity file missing",
			configFile:    "missing_identity.toml",
			expectError:   true,
			errorContains: "cant read identity_file",
		},
		{
			name:          "broken toml",
			configFile:    "invalid_toml.toml",
			expectError:   true,
			errorContains: "failed to decode TOML",
		},
		{
			name:          "file does not exist",
			configFile:    "nope.toml",
			expectError:   true,
			errorContains: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join("testdata", tt.configFile)
			cfg, err := Load(configPath)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestScenarioSection_Validate(t *testing.T) {
	tests := []struct {
		name        string
		scenario    *ScenarioSection
		expectError bool
		validate    func(*testing.T, *ScenarioSection)
	}{
		{
			name: "rasters default to the first window",
			scenario: &ScenarioSection{Windows: []*Window{
				{Window: 2, Width: 1280, Height: 720},
				{Window: 3, Width: 640, Height: 480},
			}},
			validate: func(t *testing.T, s *ScenarioSection) {
				assert.Equal(t, []display.Raster{{Width: 1280, Height: 720, Depth: 24, RefreshHz: 60}}, s.RasterList())
			},
		},
		{
			name: "explicit head is kept",
			scenario: &ScenarioSection{Windows: []*Window{
				{Head: utils.IntPtr(3), Window: 0, Width: 800, Height: 600},
			}},
			validate: func(t *testing.T, s *ScenarioSection) {
				assert.Equal(t, []allocator.WindowRequest{{Head: 3, Window: 0, Width: 800, Height: 600}},
					s.WindowRequests())
			},
		},
		{
			name:     "no overrides means no per window curves",
			scenario: &ScenarioSection{},
			validate: func(t *testing.T, s *ScenarioSection) {
				assert.Nil(t, s.CurveSet().Windows)
			},
		},
		{
			name: "negative head",
			scenario: &ScenarioSection{Windows: []*Window{
				{Head: utils.IntPtr(-2), Window: 0, Width: 800, Height: 600},
			}},
			expectError: true,
		},
		{
			name:        "negative raster depth",
			scenario:    &ScenarioSection{Rasters: []*Raster{{Width: 800, Height: 600, Depth: -1}}},
			expectError: true,
		},
		{
			name:        "candidate without lanes",
			scenario:    &ScenarioSection{LinkCandidates: []*LinkCandidate{{Rate: link.RateHBR}}},
			expectError: true,
		},
		{
			name:        "candidate without rate",
			scenario:    &ScenarioSection{LinkCandidates: []*LinkCandidate{{Lanes: 4}}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scenario.Validate()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, tt.scenario)
			}
		})
	}
}

func TestSimulatorSection_Validate(t *testing.T) {
	tests := []struct {
		name        string
		simulator   *SimulatorSection
		expectError bool
	}{
		{name: "defaults", simulator: &SimulatorSection{}},
		{name: "zero heads", simulator: &SimulatorSection{Heads: utils.IntPtr(0)}, expectError: true},
		{name: "negative curve slots", simulator: &SimulatorSection{CurveSlots: utils.IntPtr(-1)}, expectError: true},
		{
			name:        "tone mapping window out of range",
			simulator:   &SimulatorSection{Windows: utils.IntPtr(2), ToneMappingWindows: []int{2}},
			expectError: true,
		},
		{
			name:        "missing connector",
			simulator:   &SimulatorSection{Detected: []*Output{{Protocol: "DP_A"}}},
			expectError: true,
		},
		{
			name: "reserved display id",
			simulator: &SimulatorSection{Detected: []*Output{
				{Connector: "DP-1", Protocol: "DP_A", Display: utils.JustPtr(uint32(0))},
			}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.simulator.Validate()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[vrr]\nframes = 3\n"), 0o600))

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	before := cfg.Get()
	assert.Equal(t, 3, *before.VRR.Frames)

	require.NoError(t, os.WriteFile(path, []byte("[vrr]\nframes = 7\n"), 0o600))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, 7, *cfg.Get().VRR.Frames)
	assert.Equal(t, 3, *before.VRR.Frames, "old snapshots stay untouched")

	require.NoError(t, os.WriteFile(path, []byte("[vrr]\nframes = 0\n"), 0o600))
	require.Error(t, cfg.Reload())
	assert.Equal(t, 7, *cfg.Get().VRR.Frames, "failed reload keeps the last good config")
}
