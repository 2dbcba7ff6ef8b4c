package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"it8951ctl/internal/it8951"
	appLog "it8951ctl/internal/log"
	"it8951ctl/internal/schedule"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/it8951ctl/config.yaml"

// SPIConfig selects the bus.
type SPIConfig struct {
	// Port is a periph SPI port name; empty picks the first one.
	Port string `yaml:"port" json:"port"`
	// MaxHz is the SPI clock, at most 24 MHz.
	MaxHz int64 `yaml:"max_hz" json:"max_hz"`
}

// PinsConfig names the GPIO lines, e.g. "GPIO8".
type PinsConfig struct {
	CS   string `yaml:"cs" json:"cs"`
	HRDY string `yaml:"hrdy" json:"hrdy"`
	// RST is optional.
	RST string `yaml:"rst" json:"rst"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	SPI  SPIConfig  `yaml:"spi" json:"spi"`
	Pins PinsConfig `yaml:"pins" json:"pins"`

	// VCOMmV is the panel VCOM printed on its flex cable, in mV (negative).
	// Zero keeps whatever the controller has.
	VCOMmV int `yaml:"vcom_mv" json:"vcom_mv"`

	ReadyTimeout   time.Duration `yaml:"ready_timeout" json:"ready_timeout"`
	DisplayTimeout time.Duration `yaml:"display_timeout" json:"display_timeout"`

	// Rotation in degrees counter-clockwise applied to shown images.
	Rotation int `yaml:"rotation" json:"rotation"`
	// DisplayMode is the default waveform for shown images.
	DisplayMode string `yaml:"display_mode" json:"display_mode"`
	// BitsPerPixel loaded into the controller, 4 or 8.
	BitsPerPixel int  `yaml:"bits_per_pixel" json:"bits_per_pixel"`
	Dither       bool `yaml:"dither" json:"dither"`

	// Refresh is a cron expression for the periodic anti-ghosting redraw.
	// Empty disables it.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the wiring of the common Raspberry Pi HAT.
func DefaultConfig() *Config {
	return &Config{
		SPI:            SPIConfig{MaxHz: 12_000_000},
		Pins:           PinsConfig{CS: "GPIO8", HRDY: "GPIO24", RST: "GPIO17"},
		ReadyTimeout:   3 * time.Second,
		DisplayTimeout: 30 * time.Second,
		DisplayMode:    "GC16",
		BitsPerPixel:   4,
		Dither:         true,
		Refresh:        "0 */6 * * *",
		Listen:         "127.0.0.1:8951",
		LogLevel:       "info",
	}
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.SPI.MaxHz <= 0 {
		c.SPI.MaxHz = d.SPI.MaxHz
	}
	if c.Pins.CS == "" {
		c.Pins.CS = d.Pins.CS
	}
	if c.Pins.HRDY == "" {
		c.Pins.HRDY = d.Pins.HRDY
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.DisplayTimeout <= 0 {
		c.DisplayTimeout = d.DisplayTimeout
	}
	if c.DisplayMode == "" {
		c.DisplayMode = d.DisplayMode
	}
	if c.BitsPerPixel == 0 {
		c.BitsPerPixel = d.BitsPerPixel
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.VCOMmV > 0 {
		return fmt.Errorf("config: vcom_mv must be negative or 0, got %d", c.VCOMmV)
	}
	if c.SPI.MaxHz > 24_000_000 {
		return fmt.Errorf("config: spi.max_hz %d exceeds 24MHz", c.SPI.MaxHz)
	}
	if c.Rotation%90 != 0 {
		return fmt.Errorf("config: rotation %d is not a multiple of 90", c.Rotation)
	}
	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("config: display_mode: %w", err)
	}
	if c.BitsPerPixel != 4 && c.BitsPerPixel != 8 {
		return fmt.Errorf("config: bits_per_pixel must be 4 or 8, got %d", c.BitsPerPixel)
	}
	if c.Refresh != "" {
		if err := schedule.Validate(c.Refresh); err != nil {
			return fmt.Errorf("config: refresh: %w", err)
		}
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Mode parses DisplayMode.
func (c *Config) Mode() (it8951.DisplayMode, error) {
	return it8951.ParseDisplayMode(c.DisplayMode)
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written there with 0600
// permissions and returned. Otherwise the file is read, normalized and
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename, creating
// the parent directory (0700) if needed. The file ends up with 0600
// permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".it8951ctl-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
