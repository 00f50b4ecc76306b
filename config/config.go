// Package config holds the run parameters of brakecal.
//
// Values are layered, later layers winning:
//  1. built-in defaults
//  2. the YAML config file
//  3. BRAKECAL_* environment variables, e.g. BRAKECAL_MAX_CURRENT=35
//  4. command line flags that were set explicitly
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/treadmill/brakecal/calibrate"
	"github.com/treadmill/brakecal/util"
)

const (
	// FileName is the config file looked for in the working directory
	FileName = "brakecal.yml"

	// EnvPrefix prefixes environment overrides
	EnvPrefix = "BRAKECAL_"
)

// Config is the complete set of run parameters.  Durations are in seconds.
type Config struct {
	// Port is the serial port of the sensor and brake board
	Port string `koanf:"port" yaml:"port"`

	// Baud is the serial baud rate
	Baud int `koanf:"baud" yaml:"baud"`

	// ReadTimeout bounds every read from the board
	ReadTimeout float64 `koanf:"read_timeout" yaml:"read_timeout"`

	// Jrk2Cmd is the path to Pololu's jrk2cmd utility
	Jrk2Cmd string `koanf:"jrk2cmd" yaml:"jrk2cmd"`

	// ControllerSerial selects the motor controller when several are attached
	ControllerSerial string `koanf:"controller_serial" yaml:"controller_serial"`

	MinCurrent         float64 `koanf:"min_current" yaml:"min_current"`
	MaxCurrent         float64 `koanf:"max_current" yaml:"max_current"`
	SampleAverageCount int     `koanf:"sample_average_count" yaml:"sample_average_count"`
	TimeDelta          float64 `koanf:"time_delta" yaml:"time_delta"`
	Reverse            bool    `koanf:"reverse" yaml:"reverse"`
	SettleDelay        float64 `koanf:"settle_delay" yaml:"settle_delay"`
	SpinUpDelay        float64 `koanf:"spin_up_delay" yaml:"spin_up_delay"`
	ShutdownTimeout    float64 `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`

	// OutputFile, FITSFile and PlotFile are written when not empty
	OutputFile string `koanf:"output_file" yaml:"output_file"`
	FITSFile   string `koanf:"fits_file" yaml:"fits_file"`
	PlotFile   string `koanf:"plot_file" yaml:"plot_file"`

	// Listen is the address of the status server, none if empty
	Listen string `koanf:"listen" yaml:"listen"`

	// Mock runs against simulated hardware
	Mock bool `koanf:"mock" yaml:"mock"`

	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Default returns the built-in defaults
func Default() Config {
	p := calibrate.DefaultParams()
	return Config{
		Port:               "/dev/ttyACM0",
		Baud:               1000000,
		ReadTimeout:        1,
		Jrk2Cmd:            "jrk2cmd",
		MinCurrent:         p.MinCurrent,
		MaxCurrent:         p.MaxCurrent,
		SampleAverageCount: p.SampleAverageCount,
		TimeDelta:          p.TimeDelta.Seconds(),
		Reverse:            p.Reverse,
		SettleDelay:        p.SettleDelay.Seconds(),
		SpinUpDelay:        p.SpinUpDelay.Seconds(),
		ShutdownTimeout:    p.ShutdownTimeout.Seconds(),
		LogLevel:           "info",
	}
}

// Load layers the defaults, the file at path, the environment and flags.
// A missing file is an error only if required is set.  flags may be nil.
func Load(path string, required bool, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load defaults")
	}
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return Config{}, errors.Wrapf(err, "load config file %s", path)
			}
		case os.IsNotExist(err) && !required:
		default:
			return Config{}, errors.Wrap(err, "config file")
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "load environment")
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, errors.Wrap(err, "load flags")
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return c, nil
}

// Params converts the sweep settings for the calibration engine
func (c Config) Params() calibrate.Params {
	return calibrate.Params{
		MinCurrent:         c.MinCurrent,
		MaxCurrent:         c.MaxCurrent,
		SampleAverageCount: c.SampleAverageCount,
		TimeDelta:          util.SecsToDuration(c.TimeDelta),
		Reverse:            c.Reverse,
		SettleDelay:        util.SecsToDuration(c.SettleDelay),
		SpinUpDelay:        util.SecsToDuration(c.SpinUpDelay),
		ShutdownTimeout:    util.SecsToDuration(c.ShutdownTimeout),
	}
}

// Validate reports the first unusable value
func (c Config) Validate() error {
	if !c.Mock && c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %g", c.ReadTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return c.Params().Validate()
}

// WriteYAML writes c as a config file
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
