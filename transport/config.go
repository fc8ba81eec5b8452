package transport

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config carries every tunable knob spec.md §6 names. Listen fills
// zero-value fields from DefaultConfig via applyDefaults.
type Config struct {
	MaxWindow    uint32        `yaml:"max_window"`
	RcvWndCap    uint32        `yaml:"rcv_wnd_cap"`
	RTOInitial   time.Duration `yaml:"rto_initial"`
	RTOMin       time.Duration `yaml:"rto_min"`
	RTOMax       time.Duration `yaml:"rto_max"`
	MaxRetries   int           `yaml:"max_retries"`
	MaxPayload   int           `yaml:"max_payload"`
	DelayedACK   time.Duration `yaml:"delayed_ack"`
	PayloadPool  int           `yaml:"payload_pool_size"`
	PoolDebug    bool          `yaml:"pool_debug"`
}

// DefaultConfig mirrors the defaults in spec.md §3, following the
// DefaultPcpCoreConfig() constructor pattern.
func DefaultConfig() *Config {
	return &Config{
		MaxWindow:   10,
		RcvWndCap:   10,
		RTOInitial:  1 * time.Second,
		RTOMin:      200 * time.Millisecond,
		RTOMax:      60 * time.Second,
		MaxRetries:  10,
		MaxPayload:  MaxPayload,
		DelayedACK:  0,
		PayloadPool: 256,
		PoolDebug:   false,
	}
}

// ReadConfig loads YAML config from path, filling any field the file
// omits with DefaultConfig's value.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxWindow == 0 {
		c.MaxWindow = d.MaxWindow
	}
	if c.RcvWndCap == 0 {
		c.RcvWndCap = d.RcvWndCap
	}
	if c.RTOInitial == 0 {
		c.RTOInitial = d.RTOInitial
	}
	if c.RTOMin == 0 {
		c.RTOMin = d.RTOMin
	}
	if c.RTOMax == 0 {
		c.RTOMax = d.RTOMax
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = d.MaxPayload
	}
	if c.PayloadPool == 0 {
		c.PayloadPool = d.PayloadPool
	}
}
