// Package config handles loading and validation of TOML configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fiffeek/modesetcfg/internal/catalog"
	"github.com/fiffeek/modesetcfg/internal/utils"
	"github.com/sirupsen/logrus"
)

// Config guards the currently loaded configuration so it can be swapped on
// hot reload.
type Config struct {
	mu   sync.RWMutex
	path string
	raw  *RawConfig
}

type RawConfig struct {
	ConfigPath    string                `toml:"-"`
	ConfigDirPath string                `toml:"-"`
	General       *GeneralSection       `toml:"general"`
	SyntheticMST  *SyntheticMSTSection  `toml:"synthetic_mst"`
	Timeouts      *TimeoutsSection      `toml:"timeouts"`
	Scenario      *ScenarioSection      `toml:"scenario"`
	VRR           *VRRSection           `toml:"vrr"`
	Notifications *NotificationsSection `toml:"notifications"`
	HotReload     *HotReloadSection     `toml:"hot_reload"`
	Simulator     *SimulatorSection     `toml:"simulator"`
}

type GeneralSection struct {
	ProtocolFilter   *string `toml:"protocol_filter"`
	IncludeSynthetic *bool   `toml:"include_synthetic"`
	SignaturesPath   *string `toml:"signatures_path"`
	CreateBaseline   *bool   `toml:"create_baseline"`
	ContinueOnError  *bool   `toml:"continue_on_error"`
	DualStream       *bool   `toml:"dual_stream"`
}

type SyntheticMSTSection struct {
	SinkCount    *int    `toml:"sink_count"`
	IdentityFile *string `toml:"identity_file"`
	ByteCount    *int    `toml:"byte_count"`
	Identity     []byte  `toml:"-"`
}

type TimeoutsSection struct {
	LinkTrainingMs *int `toml:"link_training_ms"`
	CommitMs       *int `toml:"commit_ms"`
	FrameMs        *int `toml:"frame_ms"`
}

type VRRSection struct {
	Enabled *bool `toml:"enabled"`
	Legacy  *bool `toml:"legacy"`
	Frames  *int  `toml:"frames"`
}

type NotificationsSection struct {
	Disabled  *bool  `toml:"disabled"`
	TimeoutMs *int32 `toml:"timeout_ms"`
}

type HotReloadSection struct {
	DebounceTimeMs *int `toml:"debounce_time_ms"`
}

func NewConfig(configPath string) (*Config, error) {
	raw, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	return &Config{path: configPath, raw: raw}, nil
}

// Get returns the current snapshot. Callers keep using one snapshot for a
// whole run.
func (c *Config) Get() *RawConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raw
}

func (c *Config) Reload() error {
	raw, err := Load(c.path)
	if err != nil {
		return fmt.Errorf("cant reload config: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = raw
	logrus.WithField("path", raw.ConfigPath).Info("Configuration reloaded")
	return nil
}

func Load(configPath string) (*RawConfig, error) {
	configPath = os.ExpandEnv(configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file %s not found", configPath)
	}

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("cant convert config path to abs %w", err)
	}

	var config RawConfig
	config.ConfigPath = absConfig
	config.ConfigDirPath = filepath.Dir(absConfig)
	if _, err := toml.DecodeFile(absConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *RawConfig) Validate() error {
	if c.General == nil {
		c.General = &GeneralSection{}
	}
	if err := c.General.Validate(); err != nil {
		return fmt.Errorf("general section validation failed: %w", err)
	}

	if c.SyntheticMST == nil {
		c.SyntheticMST = &SyntheticMSTSection{}
	}
	if err := c.SyntheticMST.Validate(c.ConfigDirPath); err != nil {
		return fmt.Errorf("synthetic_mst section validation failed: %w", err)
	}

	if c.Timeouts == nil {
		c.Timeouts = &TimeoutsSection{}
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts section validation failed: %w", err)
	}

	if c.Scenario == nil {
		c.Scenario = &ScenarioSection{}
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario section validation failed: %w", err)
	}

	if c.VRR == nil {
		c.VRR = &VRRSection{}
	}
	if err := c.VRR.Validate(); err != nil {
		return fmt.Errorf("vrr section validation failed: %w", err)
	}

	if c.Notifications == nil {
		c.Notifications = &NotificationsSection{}
	}
	if err := c.Notifications.Validate(); err != nil {
		return fmt.Errorf("notifications section validation failed: %w", err)
	}

	if c.HotReload == nil {
		c.HotReload = &HotReloadSection{}
	}
	if err := c.HotReload.Validate(); err != nil {
		return fmt.Errorf("hot_reload section validation failed: %w", err)
	}

	if c.Simulator == nil {
		c.Simulator = &SimulatorSection{}
	}
	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator section validation failed: %w", err)
	}

	return nil
}

func (g *GeneralSection) Validate() error {
	if g.ProtocolFilter == nil {
		g.ProtocolFilter = utils.StringPtr("")
	}
	for _, token := range catalog.ParseFilter(*g.ProtocolFilter) {
		if _, err := catalog.ResolveProtocol(token, false); err != nil {
			return fmt.Errorf("protocol_filter: %w", err)
		}
	}
	if g.IncludeSynthetic == nil {
		g.IncludeSynthetic = utils.BoolPtr(false)
	}
	if g.SignaturesPath == nil {
		g.SignaturesPath = utils.StringPtr("$HOME/.config/modesetcfg/signatures.toml")
	}
	g.SignaturesPath = utils.StringPtr(os.ExpandEnv(*g.SignaturesPath))
	if g.CreateBaseline == nil {
		g.CreateBaseline = utils.BoolPtr(false)
	}
	if g.ContinueOnError == nil {
		g.ContinueOnError = utils.BoolPtr(true)
	}
	if g.DualStream == nil {
		g.DualStream = utils.BoolPtr(false)
	}
	return nil
}

// Filter returns the parsed protocol filter.
func (g *GeneralSection) Filter() catalog.Filter {
	return catalog.ParseFilter(*g.ProtocolFilter)
}

func (s *SyntheticMSTSection) Validate(configDir string) error {
	if s.SinkCount == nil {
		s.SinkCount = utils.IntPtr(0)
	}
	if *s.SinkCount < 0 {
		return errors.New("sink_count cant be negative")
	}
	if s.ByteCount == nil {
		s.ByteCount = utils.IntPtr(128)
	}
	if *s.ByteCount <= 0 {
		return errors.New("byte_count needs to be > 0")
	}
	if s.IdentityFile == nil || *s.IdentityFile == "" {
		return nil
	}

	path := os.ExpandEnv(*s.IdentityFile)
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	s.IdentityFile = &path
	// nolint:gosec
	identity, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cant read identity_file: %w", err)
	}
	s.Identity = identity
	return nil
}

func (t *TimeoutsSection) Validate() error {
	if t.LinkTrainingMs == nil {
		t.LinkTrainingMs = utils.IntPtr(500)
	}
	if t.CommitMs == nil {
		t.CommitMs = utils.IntPtr(1000)
	}
	if t.FrameMs == nil {
		t.FrameMs = utils.IntPtr(100)
	}
	fields := []struct {
		name  string
		value int
	}{
		{"link_training_ms", *t.LinkTrainingMs},
		{"commit_ms", *t.CommitMs},
		{"frame_ms", *t.FrameMs},
	}
	for _, field := range fields {
		if field.value <= 0 {
			return fmt.Errorf("%s needs to be > 0", field.name)
		}
	}
	return nil
}

func (t *TimeoutsSection) LinkTraining() time.Duration {
	return time.Duration(*t.LinkTrainingMs) * time.Millisecond
}

func (t *TimeoutsSection) Commit() time.Duration {
	return time.Duration(*t.CommitMs) * time.Millisecond
}

func (t *TimeoutsSection) Frame() time.Duration {
	return time.Duration(*t.FrameMs) * time.Millisecond
}

func (v *VRRSection) Validate() error {
	if v.Enabled == nil {
		v.Enabled = utils.BoolPtr(false)
	}
	if v.Legacy == nil {
		v.Legacy = utils.BoolPtr(false)
	}
	if v.Frames == nil {
		v.Frames = utils.IntPtr(5)
	}
	if *v.Frames < 1 {
		return errors.New("frames needs to be >= 1")
	}
	return nil
}

func (n *NotificationsSection) Validate() error {
	if n.Disabled == nil {
		n.Disabled = utils.BoolPtr(true)
	}
	if n.TimeoutMs == nil {
		n.TimeoutMs = utils.JustPtr(int32(10000))
	}
	return nil
}

func (h *HotReloadSection) Validate() error {
	if h.DebounceTimeMs == nil {
		h.DebounceTimeMs = utils.IntPtr(1000)
	}
	if *h.DebounceTimeMs < 0 {
		return errors.New("debounce_time_ms cant be negative")
	}
	return nil
}
