package test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/testutils"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func Test__Run_Binary(t *testing.T) {
	tests := []struct {
		name                string
		description         string
		config              *testutils.TestConfig
		extraArgs           []string
		expectError         bool
		expectErrorContains string
		expectOutput        []string
		expectLogs          []utils.LogID
		validateSideEffects func(*testing.T, *config.RawConfig)
	}{
		{
			name:        "baseline is recorded on the first run",
			description: "a detected hdmi panel passes and its signature is stored",
			config:      testutils.NewTestConfig(t),
			expectLogs:  []utils.LogID{utils.BaselineCreatedLogID, utils.PanelPassedLogID},
			expectOutput: []string{
				"HDMI_A#1", "passed (baseline)", "1 passed, 0 failed, 0 skipped",
			},
			validateSideEffects: func(t *testing.T, cfg *config.RawConfig) {
				testutils.AssertFileExists(t, *cfg.General.SignaturesPath)
			},
		},
		{
			name:        "missing baseline fails the run",
			description: "without create_baseline and no stored signature verification is fatal",
			config: testutils.NewTestConfig(t).
				WithGeneral(&config.GeneralSection{CreateBaseline: utils.BoolPtr(false)}),
			expectError:         true,
			expectErrorContains: "verification baseline missing",
			validateSideEffects: func(t *testing.T, cfg *config.RawConfig) {
				testutils.AssertFileDoesNotExist(t, *cfg.General.SignaturesPath)
			},
		},
		{
			name:        "raster fallback",
			description: "an infeasible raster exhausts the link candidates and the next raster is tried",
			config: testutils.NewTestConfig(t).
				WithScenario(&config.ScenarioSection{Rasters: []*config.Raster{
					{Width: 7680, Height: 4320, RefreshHz: 120},
					{Width: 1920, Height: 1080},
				}}).
				WithSimulator(&config.SimulatorSection{
					Detected: []*config.Output{{Connector: "DP-1", Protocol: "DP_A"}},
				}),
			expectLogs: []utils.LogID{
				utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID,
				utils.RasterFallbackLogID, utils.BaselineCreatedLogID, utils.PanelPassedLogID,
			},
			expectOutput: []string{"DP_A#1", "HBR3x4", "1920x1080x24@60"},
		},
		{
			name:        "empty catalog",
			description: "a filter matching no panel fails enumeration",
			config: testutils.NewTestConfig(t).
				WithGeneral(&config.GeneralSection{ProtocolFilter: utils.StringPtr("DSI")}),
			expectError:         true,
			expectErrorContains: "no panels matched",
		},
		{
			name:         "validate only",
			description:  "validate does not touch any pipeline",
			config:       testutils.NewTestConfig(t),
			extraArgs:    []string{"validate"},
			expectOutput: []string{"Configuration is valid"},
			validateSideEffects: func(t *testing.T, cfg *config.RawConfig) {
				testutils.AssertFileDoesNotExist(t, *cfg.General.SignaturesPath)
			},
		},
		{
			name:        "enumerate synthetic pairs",
			description: "synthetic dual-stream panels are listed together with their pair",
			config: testutils.NewTestConfig(t).
				WithGeneral(&config.GeneralSection{
					IncludeSynthetic: utils.BoolPtr(true),
					DualStream:       utils.BoolPtr(true),
				}).
				WithSimulator(&config.SimulatorSection{
					Supported: []*config.Output{
						{Connector: "DP-1", Protocol: "DP_DUAL_SST"},
						{Connector: "DP-2", Protocol: "DP_DUAL_SST"},
					},
				}),
			extraArgs:    []string{"enumerate", "--no-color"},
			expectOutput: []string{"pair DP_DUAL_SST#1+DP_DUAL_SST#2 (single-stream)", "2 panels, 1 pairs"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Log(tt.description)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			rawConfig := tt.config.Get().Get()

			args := []string{"--config", rawConfig.ConfigPath, "--enable-json-logs-format"}
			if *debug {
				args = append(args, "--debug")
			}
			args = append(args, tt.extraArgs...)

			out, err := runBinary(ctx, args)
			t.Log(string(out))
			require.NoError(t, ctx.Err(), "timeout while running")

			if tt.expectError {
				require.Error(t, err, "expected run to fail but it succeeded")
				assert.Contains(t, string(out), tt.expectErrorContains)
			} else {
				require.NoError(t, err, "expected run to succeed")
			}
			for _, expected := range tt.expectOutput {
				assert.Contains(t, string(out), expected)
			}
			testutils.AssertLogsPresent(t, out, tt.expectLogs)
			if tt.validateSideEffects != nil {
				tt.validateSideEffects(t, rawConfig)
			}
		})
	}
}

func Test__Watch_Binary(t *testing.T) {
	tests := []struct {
		name             string
		disableHotReload bool
		configUpdates    func(*testutils.TestConfig) []*testutils.TestConfig
		sendSignal       bool
		expectLogs       []utils.LogID
	}{
		{
			name:       "SIGUSR1 re-runs against the recorded baseline",
			sendSignal: true,
			expectLogs: []utils.LogID{
				utils.BaselineCreatedLogID, utils.PanelPassedLogID, utils.PanelPassedLogID,
			},
		},
		{
			name: "configuration change triggers a re-run",
			configUpdates: func(base *testutils.TestConfig) []*testutils.TestConfig {
				return []*testutils.TestConfig{
					base.WithVRR(&config.VRRSection{Enabled: utils.BoolPtr(false), Frames: utils.IntPtr(3)}),
				}
			},
			expectLogs: []utils.LogID{
				utils.BaselineCreatedLogID, utils.PanelPassedLogID, utils.PanelPassedLogID,
			},
		},
		{
			name:             "configuration change ignored without hot reload",
			disableHotReload: true,
			configUpdates: func(base *testutils.TestConfig) []*testutils.TestConfig {
				return []*testutils.TestConfig{
					base.WithVRR(&config.VRRSection{Enabled: utils.BoolPtr(false), Frames: utils.IntPtr(3)}),
				}
			},
			expectLogs: []utils.LogID{utils.BaselineCreatedLogID, utils.PanelPassedLogID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			base := testutils.NewTestConfig(t).
				WithHotReload(&config.HotReloadSection{DebounceTimeMs: utils.IntPtr(50)})
			rawConfig := base.Get().Get()

			args := []string{"--config", rawConfig.ConfigPath, "--enable-json-logs-format", "run", "--watch"}
			if tt.disableHotReload {
				args = append(args, "--disable-auto-hot-reload")
			}
			if *debug {
				args = append(args, "--debug")
			}

			var out bytes.Buffer
			cmd := prepBinaryRun(ctx, args)
			cmd.Stdout = &out
			cmd.Stderr = &out
			require.NoError(t, cmd.Start())

			binaryStarting := make(chan struct{})
			close(binaryStarting)

			var updatesDone chan struct{}
			if tt.configUpdates != nil {
				updatesDone = testutils.SetupFakeConfigUpdater(t, tt.configUpdates(base),
					500*time.Millisecond, 100*time.Millisecond, binaryStarting, rawConfig.ConfigPath)
			}
			if tt.sendSignal {
				time.Sleep(500 * time.Millisecond)
				require.NoError(t, cmd.Process.Signal(unix.SIGUSR1))
			}
			if updatesDone != nil {
				<-updatesDone
			}

			// leave time for the debounced reload and the re-run
			time.Sleep(500 * time.Millisecond)
			require.NoError(t, cmd.Process.Signal(unix.SIGTERM))

			err := cmd.Wait()
			t.Log(out.String())
			require.NoError(t, ctx.Err(), "timeout while running")
			assert.NoError(t, err, "termination signal should exit cleanly")
			testutils.AssertLogsPresent(t, out.Bytes(), tt.expectLogs)
			_, statErr := os.Stat(*rawConfig.General.SignaturesPath)
			assert.NoError(t, statErr, "baseline stored by the first run")
		})
	}
}
