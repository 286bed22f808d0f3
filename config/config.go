// Package config loads the updater settings from a YAML file, TIMONEL_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "TIMONEL"

// Defaults taken from the reference multi-slave demo.
const (
	DefaultBaudRate   = 115200
	DefaultMaxTwiDevs = twi.HighBootloaderAddr - twi.LowBootloaderAddr + 1
	DefaultLoopCount  = 3
	DefaultSignature  = protocol.SignatureTimonel
	DefaultBoard      = "esp8266"
)

// Board describes the I2C pins of a master board.
type Board struct {
	Name string `mapstructure:"name" yaml:"name"`
	SDA  int    `mapstructure:"sda" yaml:"sda"`
	SCL  int    `mapstructure:"scl" yaml:"scl"`
}

func (b Board) String() string {
	return fmt.Sprintf("%s (SDA=%d SCL=%d)", b.Name, b.SDA, b.SCL)
}

var boards = map[string]Board{
	"esp8266": {Name: "esp8266", SDA: 2, SCL: 0},
	"esp32":   {Name: "esp32", SDA: 21, SCL: 22},
}

// LookupBoard returns the pin profile of a known board.
func LookupBoard(name string) (Board, error) {
	b, ok := boards[strings.ToLower(name)]
	if !ok {
		return Board{}, fmt.Errorf("unknown board %q (known: %s)", name, strings.Join(BoardNames(), ", "))
	}
	return b, nil
}

// BoardNames lists the known board profiles.
func BoardNames() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SerialConfig selects the console output.
type SerialConfig struct {
	// Port is the serial device; empty writes the console to stdout
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// I2CConfig selects the bus.
type I2CConfig struct {
	// Bus is a periph.io bus name; empty selects the first bus
	Bus string `mapstructure:"bus"`

	// SpeedHz is the clock rate; 0 keeps the driver default
	SpeedHz int64 `mapstructure:"speed_hz"`
}

// PayloadConfig describes the application image to deploy.
type PayloadConfig struct {
	Path string `mapstructure:"path"`

	// Force uploads even when the slave already holds the image
	Force bool `mapstructure:"force"`

	// VersionOffset locates two version bytes in the image (-1 disables)
	VersionOffset int `mapstructure:"version_offset"`
}

// TimingConfig holds delays and retry limits.
type TimingConfig struct {
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	PageWriteDelay time.Duration `mapstructure:"page_write_delay"`
	DeleteDelay    time.Duration `mapstructure:"delete_delay"`
	ScanDelay      time.Duration `mapstructure:"scan_delay"`
	StarDelay      time.Duration `mapstructure:"star_delay"`
	Verify         bool          `mapstructure:"verify"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// SimulateConfig replaces the hardware bus with simulated slaves.
type SimulateConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Addrs   []int `mapstructure:"addrs"`
}

// Config is the complete updater configuration.
type Config struct {
	Board      string         `mapstructure:"board"`
	Serial     SerialConfig   `mapstructure:"serial"`
	I2C        I2CConfig      `mapstructure:"i2c"`
	MaxTwiDevs int            `mapstructure:"max_twi_devs"`
	LoopCount  int            `mapstructure:"loop_count"`
	Signature  int            `mapstructure:"signature"`
	Payload    PayloadConfig  `mapstructure:"payload"`
	Timing     TimingConfig   `mapstructure:"timing"`
	Log        LogConfig      `mapstructure:"log"`
	Simulate   SimulateConfig `mapstructure:"simulate"`
}

// BoardProfile resolves the configured board.
func (c *Config) BoardProfile() (Board, error) {
	return LookupBoard(c.Board)
}

// SimulatedAddrs returns the configured simulator addresses.
func (c *Config) SimulatedAddrs() []uint16 {
	addrs := make([]uint16, 0, len(c.Simulate.Addrs))
	for _, a := range c.Simulate.Addrs {
		addrs = append(addrs, uint16(a))
	}
	return addrs
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("board", DefaultBoard)
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", DefaultBaudRate)
	v.SetDefault("i2c.bus", "")
	v.SetDefault("i2c.speed_hz", 100000)
	v.SetDefault("max_twi_devs", DefaultMaxTwiDevs)
	v.SetDefault("loop_count", DefaultLoopCount)
	v.SetDefault("signature", DefaultSignature)
	v.SetDefault("payload.path", "")
	v.SetDefault("payload.force", false)
	v.SetDefault("payload.version_offset", -1)
	v.SetDefault("timing.retries", 3)
	v.SetDefault("timing.retry_delay", 10*time.Millisecond)
	v.SetDefault("timing.page_write_delay", 20*time.Millisecond)
	v.SetDefault("timing.delete_delay", 750*time.Millisecond)
	v.SetDefault("timing.scan_delay", time.Second)
	v.SetDefault("timing.star_delay", 250*time.Millisecond)
	v.SetDefault("timing.verify", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("simulate.enabled", false)
	v.SetDefault("simulate.addrs", []int{0x0B, 0x0D})
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"board":     "board",
	"port":      "serial.port",
	"bus":       "i2c.bus",
	"payload":   "payload.path",
	"force":     "payload.force",
	"loops":     "loop_count",
	"log-level": "log.level",
	"simulate":  "simulate.enabled",
}

// Load reads the configuration. path may be empty, in which case only
// defaults, environment and flags apply. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	if _, e := c.BoardProfile(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Serial.Baud <= 0 {
		err = multierr.Append(err, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.I2C.SpeedHz < 0 {
		err = multierr.Append(err, fmt.Errorf("i2c.speed_hz must not be negative, got %d", c.I2C.SpeedHz))
	}
	if c.MaxTwiDevs < 1 || c.MaxTwiDevs > DefaultMaxTwiDevs {
		err = multierr.Append(err, fmt.Errorf("max_twi_devs must be 1-%d, got %d", DefaultMaxTwiDevs, c.MaxTwiDevs))
	}
	if c.LoopCount < 1 {
		err = multierr.Append(err, fmt.Errorf("loop_count must be at least 1, got %d", c.LoopCount))
	}
	if c.Signature < 0 || c.Signature > 0xFF {
		err = multierr.Append(err, fmt.Errorf("signature must be a byte, got %d", c.Signature))
	}
	if c.Payload.VersionOffset < -1 || c.Payload.VersionOffset >= protocol.FlashSize-1 {
		err = multierr.Append(err, fmt.Errorf("payload.version_offset %d is outside flash", c.Payload.VersionOffset))
	}
	if c.Timing.Retries < 0 {
		err = multierr.Append(err, fmt.Errorf("timing.retries must not be negative, got %d", c.Timing.Retries))
	}
	for _, a := range c.Simulate.Addrs {
		if !twi.IsBootloaderAddr(uint16(a)) || a < 0 {
			err = multierr.Append(err, fmt.Errorf("simulate.addrs: 0x%02X is not a bootloader address", a))
		}
	}
	if c.Simulate.Enabled && len(c.Simulate.Addrs) == 0 {
		err = multierr.Append(err, errors.New("simulate.addrs must not be empty when simulating"))
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
