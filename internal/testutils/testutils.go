// Package testutils provides utils for testing
// should not be imported by any other app packages
package testutils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type TestConfig struct {
	cfg     *config.RawConfig
	t       *testing.T
	cfgFile *string
}

func NewTestConfig(t *testing.T) *TestConfig {
	return &TestConfig{cfg: &config.RawConfig{}, t: t}
}

func (t *TestConfig) WithGeneral(general *config.GeneralSection) *TestConfig {
	t.cfg.General = general
	return t
}

func (t *TestConfig) WithSyntheticMST(mst *config.SyntheticMSTSection) *TestConfig {
	t.cfg.SyntheticMST = mst
	return t
}

func (t *TestConfig) WithTimeouts(timeouts *config.TimeoutsSection) *TestConfig {
	t.cfg.Timeouts = timeouts
	return t
}

func (t *TestConfig) WithScenario(scenario *config.ScenarioSection) *TestConfig {
	t.cfg.Scenario = scenario
	return t
}

func (t *TestConfig) WithVRR(vrr *config.VRRSection) *TestConfig {
	t.cfg.VRR = vrr
	return t
}

func (t *TestConfig) WithNotifications(n *config.NotificationsSection) *TestConfig {
	t.cfg.Notifications = n
	return t
}

func (t *TestConfig) WithHotReload(h *config.HotReloadSection) *TestConfig {
	t.cfg.HotReload = h
	return t
}

func (t *TestConfig) WithSimulator(s *config.SimulatorSection) *TestConfig {
	t.cfg.Simulator = s
	return t
}

func (t *TestConfig) WithConfigDir(dir string) *TestConfig {
	require.NoError(t.t, os.MkdirAll(dir, 0o750))

	cfgFile := filepath.Join(dir, "config.toml")
	// nolint:gosec
	if _, err := os.Create(cfgFile); err != nil {
		t.t.Fatalf("Failed to create file: %v", err)
	}
	t.cfgFile = &cfgFile

	return t
}

func (t *TestConfig) WithConfigPath(path string) *TestConfig {
	t.cfgFile = &path
	return t
}

func (t *TestConfig) ConfigPath() string {
	require.NotNil(t.t, t.cfgFile, "cfgFile cant be nil")
	return *t.cfgFile
}

func (t *TestConfig) SaveToFile() *TestConfig {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(t.cfg); err != nil {
		t.t.Fatalf("cant encode config: %v", err)
	}
	require.NotNil(t.t, t.cfgFile, "cfgFile cant be nil")
	if err := utils.WriteAtomic(*t.cfgFile, buf.Bytes()); err != nil {
		t.t.Fatalf("cant write config: %v", err)
	}
	return t
}

func (t *TestConfig) createConfig() *config.Config {
	logrus.WithFields(logrus.Fields{"path": *t.cfgFile}).Debug("Creating config")
	cfg, err := config.NewConfig(*t.cfgFile)
	require.NoError(t.t, err, "cant create config")

	return cfg
}

// FillDefaults keeps signatures inside the test's temp dir and gives the
// simulator one detected HDMI output unless told otherwise.
func (t *TestConfig) FillDefaults() *TestConfig {
	if t.cfgFile == nil {
		t = t.WithConfigDir(t.t.TempDir())
	}
	if t.cfg.General == nil {
		t.cfg.General = &config.GeneralSection{}
	}
	if t.cfg.General.SignaturesPath == nil {
		t.cfg.General.SignaturesPath = utils.StringPtr(filepath.Join(filepath.Dir(*t.cfgFile), "signatures.toml"))
	}
	if t.cfg.General.CreateBaseline == nil {
		t.cfg.General.CreateBaseline = utils.BoolPtr(true)
	}
	if t.cfg.Simulator == nil {
		t.cfg.Simulator = &config.SimulatorSection{
			Detected: []*config.Output{{Connector: "HDMI-A-1", Protocol: "HDMI_A"}},
		}
	}
	return t
}

func (t *TestConfig) Get() *config.Config {
	return t.FillDefaults().SaveToFile().createConfig()
}
