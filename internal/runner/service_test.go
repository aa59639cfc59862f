package runner_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/fiffeek/modesetcfg/internal/platform/sim"
	"github.com/fiffeek/modesetcfg/internal/report"
	"github.com/fiffeek/modesetcfg/internal/runner"
	"github.com/fiffeek/modesetcfg/internal/testutils"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var debug = flag.Bool("debug", false, "enable debug logging")

func TestMain(m *testing.M) {
	flag.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	os.Exit(m.Run())
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	logrus.SetOutput(buf)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})
	return buf
}

type fakeNotifier struct {
	summaries []*report.Summary
}

func (f *fakeNotifier) NotifyRunFinished(summary *report.Summary) error {
	f.summaries = append(f.summaries, summary)
	return nil
}

func fixedPlatform(p platform.Platform) runner.PlatformFactory {
	return func(*config.RawConfig) platform.Platform { return p }
}

// underflowingPlatform raises the underflow flag after the given frame.
type underflowingPlatform struct {
	*sim.Platform
	at     int
	frames int
}

func (u *underflowingPlatform) InterlockedUpdate(ctx context.Context, head int) error {
	err := u.Platform.InterlockedUpdate(ctx, head)
	if u.frames == u.at {
		u.InjectUnderflow(head)
	}
	u.frames++
	return err
}

func TestService_BaselineThenVerify(t *testing.T) {
	cfg := testutils.NewTestConfig(t).Get()
	notifier := &fakeNotifier{}
	out := &bytes.Buffer{}
	svc := runner.NewService(cfg, notifier, nil, out)

	logs := captureLogs(t)
	require.NoError(t, svc.RunOnce(context.Background()))
	require.Len(t, notifier.summaries, 1)
	first := notifier.summaries[0]
	require.Len(t, first.Results, 1)
	assert.Equal(t, "HDMI_A#1", first.Results[0].Name)
	assert.Equal(t, report.OutcomePassed, first.Results[0].Outcome)
	assert.True(t, first.Results[0].BaselineCreated)
	assert.Equal(t, "committed", first.Results[0].State, "state reached before teardown")
	assert.Equal(t, "hdmi", first.Results[0].Family)
	assert.Contains(t, out.String(), "passed (baseline)")
	testutils.AssertFileExists(t, *cfg.Get().General.SignaturesPath)
	testutils.AssertLogsPresent(t, logs.Bytes(), []utils.LogID{utils.BaselineCreatedLogID, utils.PanelPassedLogID})

	logs.Reset()
	require.NoError(t, svc.RunOnce(context.Background()))
	second := notifier.summaries[1]
	require.Len(t, second.Results, 1)
	assert.Equal(t, report.OutcomePassed, second.Results[0].Outcome)
	assert.False(t, second.Results[0].BaselineCreated, "stored baseline is verified against")
	assert.Equal(t, "verified", second.Results[0].State)
	testutils.AssertLogsPresent(t, logs.Bytes(), []utils.LogID{utils.PanelPassedLogID})
}

func TestService_MissingBaselineFails(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{CreateBaseline: utils.BoolPtr(false)}).
		Get()
	svc := runner.NewService(cfg, nil, nil, nil)

	summary, err := svc.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, report.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, errs.ErrVerificationBaselineMissing)
	assert.Equal(t, "committed", result.State, "the panel failed after commit")

	err = svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrVerificationBaselineMissing)
	assert.NoError(t, svc.UpdateOnce(context.Background()), "long running mode only reports panel failures")
}

func TestService_RasterFallback(t *testing.T) {
	tests := []struct {
		name         string
		rasters      []*config.Raster
		outcome      report.Outcome
		raster       string
		link         string
		state        string
		expectedLogs []utils.LogID
	}{
		{
			name: "falls back to the next raster",
			rasters: []*config.Raster{
				{Width: 7680, Height: 4320, RefreshHz: 120},
				{Width: 1920, Height: 1080},
			},
			outcome: report.OutcomePassed,
			raster:  "1920x1080x24@60",
			link:    "HBR3x4",
			state:   "committed",
			expectedLogs: []utils.LogID{
				utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID,
				utils.RasterFallbackLogID, utils.BaselineCreatedLogID, utils.PanelPassedLogID,
			},
		},
		{
			name:    "skipped when every raster is infeasible",
			rasters: []*config.Raster{{Width: 7680, Height: 4320, RefreshHz: 120}},
			outcome: report.OutcomeSkipped,
			raster:  "7680x4320x24@120",
			link:    "assessed-max",
			state:   "resources-allocated",
			expectedLogs: []utils.LogID{
				utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID, utils.LinkFallbackLogID,
				utils.PanelSkippedLogID,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutils.NewTestConfig(t).
				WithScenario(&config.ScenarioSection{Rasters: tt.rasters}).
				WithSimulator(&config.SimulatorSection{
					Detected: []*config.Output{{Connector: "DP-1", Protocol: "DP_A"}},
				}).
				Get()
			svc := runner.NewService(cfg, nil, nil, nil)

			logs := captureLogs(t)
			summary, err := svc.Execute(context.Background())
			require.NoError(t, err)
			require.Len(t, summary.Results, 1)
			result := summary.Results[0]
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.raster, result.Raster)
			assert.Equal(t, tt.link, result.Link)
			assert.Equal(t, tt.state, result.State)
			if tt.outcome == report.OutcomeSkipped {
				assert.ErrorIs(t, result.Err, errs.ErrNoFeasibleLink)
				assert.NoError(t, summary.Err(), "skipped panels do not fail the run")
			}
			testutils.AssertLogsPresent(t, logs.Bytes(), tt.expectedLogs)
		})
	}
}

func TestService_ContinueOnError(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		results         int
		aborted         bool
	}{
		{name: "keeps going", continueOnError: true, results: 2},
		{name: "aborts on first failure", continueOnError: false, results: 1, aborted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutils.NewTestConfig(t).
				WithGeneral(&config.GeneralSection{
					CreateBaseline:  utils.BoolPtr(false),
					ContinueOnError: utils.BoolPtr(tt.continueOnError),
				}).
				WithSimulator(&config.SimulatorSection{Detected: []*config.Output{
					{Connector: "HDMI-A-1", Protocol: "HDMI_A"},
					{Connector: "HDMI-A-2", Protocol: "HDMI_B"},
				}}).
				Get()

			summary, err := runner.NewService(cfg, nil, nil, nil).Execute(context.Background())
			require.NoError(t, err)
			assert.Len(t, summary.Results, tt.results)
			assert.Equal(t, tt.aborted, summary.Aborted)
			assert.Equal(t, tt.results, summary.Count(report.OutcomeFailed))
		})
	}
}

func TestService_VRR(t *testing.T) {
	tests := []struct {
		name         string
		vrrSupported bool
		legacy       bool
		underflowAt  int
		frames       int
		underflows   int
		expectedLogs []utils.LogID
	}{
		{
			name: "clean frames", vrrSupported: true, underflowAt: -1, frames: 5,
			expectedLogs: []utils.LogID{utils.BaselineCreatedLogID, utils.PanelPassedLogID},
		},
		{
			name: "underflow is counted", vrrSupported: true, legacy: true, underflowAt: 2, frames: 5, underflows: 1,
			expectedLogs: []utils.LogID{utils.BaselineCreatedLogID, utils.UnderflowLogID, utils.PanelPassedLogID},
		},
		{
			name: "unsupported vrr is skipped", vrrSupported: false, underflowAt: -1,
			expectedLogs: []utils.LogID{utils.BaselineCreatedLogID, utils.PanelPassedLogID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutils.NewTestConfig(t).
				WithVRR(&config.VRRSection{
					Enabled: utils.BoolPtr(true), Legacy: utils.BoolPtr(tt.legacy), Frames: utils.IntPtr(5),
				}).
				WithSimulator(&config.SimulatorSection{
					Detected:     []*config.Output{{Connector: "eDP-1", Protocol: "EDP"}},
					VRRSupported: utils.BoolPtr(tt.vrrSupported),
				}).
				Get()
			hw := &underflowingPlatform{Platform: sim.New(cfg.Get().Simulator.PlatformConfig()), at: tt.underflowAt}
			svc := runner.NewService(cfg, nil, fixedPlatform(hw), nil)

			logs := captureLogs(t)
			summary, err := svc.Execute(context.Background())
			require.NoError(t, err)
			require.Len(t, summary.Results, 1)
			result := summary.Results[0]
			assert.Equal(t, report.OutcomePassed, result.Outcome)
			assert.Equal(t, tt.frames, result.Frames)
			assert.Equal(t, tt.underflows, result.Underflows)
			assert.False(t, hw.OneShot(0), "one-shot mode is disabled again")
			assert.False(t, hw.SemaphoreRegistered(0))
			testutils.AssertLogsPresent(t, logs.Bytes(), tt.expectedLogs)
		})
	}
}

// vrrQueryFailing fails every VRR support query.
type vrrQueryFailing struct {
	*sim.Platform
}

func (v *vrrQueryFailing) VRRSupported(context.Context, int) (bool, error) {
	return false, errors.New("mailbox busy")
}

func TestService_VRRQueryErrorFailsPanel(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithVRR(&config.VRRSection{
			Enabled: utils.BoolPtr(true), Legacy: utils.BoolPtr(false), Frames: utils.IntPtr(5),
		}).
		WithSimulator(&config.SimulatorSection{
			Detected:     []*config.Output{{Connector: "eDP-1", Protocol: "EDP"}},
			VRRSupported: utils.BoolPtr(true),
		}).
		Get()
	hw := &vrrQueryFailing{Platform: sim.New(cfg.Get().Simulator.PlatformConfig())}
	svc := runner.NewService(cfg, nil, fixedPlatform(hw), nil)

	summary, err := svc.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, report.OutcomeFailed, result.Outcome, "a failed query is never a silent pass")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "mailbox busy")
	assert.NotErrorIs(t, result.Err, errs.ErrVrrUnsupported)
	assert.Zero(t, result.Frames)
	assert.False(t, hw.OneShot(0))
	assert.Error(t, summary.Err())
}

func TestService_DualStreamPairs(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{DualStream: utils.BoolPtr(true)}).
		WithSimulator(&config.SimulatorSection{Detected: []*config.Output{
			{Connector: "DP-1", Protocol: "DP_DUAL_SST"},
			{Connector: "DP-2", Protocol: "DP_DUAL_SST"},
		}}).
		Get()

	summary, err := runner.NewService(cfg, nil, nil, nil).Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)
	assert.False(t, summary.Results[0].Pair)
	assert.False(t, summary.Results[1].Pair)
	pair := summary.Results[2]
	assert.True(t, pair.Pair)
	assert.Equal(t, "DP_DUAL_SST#1+DP_DUAL_SST#2", pair.Name)
	assert.Equal(t, "dp-dual", pair.Family)
	for _, result := range summary.Results {
		assert.Equal(t, report.OutcomePassed, result.Outcome, result.Name)
	}
}

func TestService_SyntheticIdentitiesReleased(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{IncludeSynthetic: utils.BoolPtr(true)}).
		WithSimulator(&config.SimulatorSection{Supported: []*config.Output{
			{Connector: "HDMI-A-1", Protocol: "SINGLE_TMDS_A"},
		}}).
		Get()
	hw := sim.New(cfg.Get().Simulator.PlatformConfig())

	summary, err := runner.NewService(cfg, nil, fixedPlatform(hw), nil).Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Synthetic)
	assert.Equal(t, report.OutcomePassed, summary.Results[0].Outcome)
	assert.Nil(t, hw.Identity(1), "identity is freed once the run ends")
}

func TestService_MultiStreamSinks(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{IncludeSynthetic: utils.BoolPtr(true)}).
		WithSyntheticMST(&config.SyntheticMSTSection{SinkCount: utils.IntPtr(2)}).
		WithSimulator(&config.SimulatorSection{Supported: []*config.Output{
			{Connector: "DP-1", Protocol: "DP_A"},
		}}).
		Get()
	hw := sim.New(cfg.Get().Simulator.PlatformConfig())

	summary, err := runner.NewService(cfg, nil, fixedPlatform(hw), nil).Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2, "one panel per sink")
	assert.Equal(t, "DP_A#1", summary.Results[0].Name)
	assert.Equal(t, "DP_A#2", summary.Results[1].Name)
	for _, result := range summary.Results {
		assert.Equal(t, "DP_MST", result.Protocol)
		assert.True(t, result.Synthetic)
		assert.Equal(t, report.OutcomePassed, result.Outcome, result.Name)
	}
	assert.Empty(t, hw.Sinks(), "sinks are removed once the run ends")
}

func TestService_EnumerateErrors(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{ProtocolFilter: utils.StringPtr("DSI")}).
		Get()
	svc := runner.NewService(cfg, nil, nil, nil)

	_, err := svc.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEmptyResult)
	assert.Error(t, svc.UpdateOnce(context.Background()))
}

func TestService_Enumerate(t *testing.T) {
	cfg := testutils.NewTestConfig(t).
		WithGeneral(&config.GeneralSection{
			IncludeSynthetic: utils.BoolPtr(true),
			SignaturesPath:   utils.StringPtr(filepath.Join(t.TempDir(), "unused.toml")),
		}).
		WithSimulator(&config.SimulatorSection{
			Detected:  []*config.Output{{Connector: "DP-1", Protocol: "DP_A"}},
			Supported: []*config.Output{{Connector: "DP-1", Protocol: "DP_A"}, {Connector: "DP-2", Protocol: "DP_B"}},
		}).
		Get()

	result, err := runner.NewService(cfg, nil, nil, nil).Enumerate(context.Background())
	require.NoError(t, err)
	defer func() { assert.NoError(t, result.Close(context.Background())) }()
	require.Len(t, result.Panels, 2)
	assert.False(t, result.Panels[0].Panel.Synthetic)
	assert.True(t, result.Panels[1].Panel.Synthetic)
	testutils.AssertFileDoesNotExist(t, *cfg.Get().General.SignaturesPath)
}
