package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	ErrNoSources      = errors.New("no source directories configured")
	ErrNoDestinations = errors.New("no destinations configured")
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "rsync"
)

type RsyncTarget struct {
	Host string `mapstructure:"host" validate:"required"`
	Dir  string `mapstructure:"dir" validate:"required"`
}

type NotifyConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
	Key string `mapstructure:"key"`
}

type Config struct {
	Sources               []string      `mapstructure:"source" validate:"dive,required"`
	Dests                 []string      `mapstructure:"dest" validate:"dive,required"`
	Rsync                 []RsyncTarget `mapstructure:"rsync" validate:"dive"`
	Debounce              time.Duration `mapstructure:"debounce" validate:"min=0"`                 // Wait after discovery before acting
	Sleep                 time.Duration `mapstructure:"sleep" validate:"min=0"`                    // Backoff when idle or no destination
	MinSize               string        `mapstructure:"min_size" validate:"required"`              // e.g. "83GB"
	Extension             string        `mapstructure:"extension" validate:"required,startswith=."` // Plot file suffix
	DBPath                string        `mapstructure:"db_path"`
	RsyncBinary           string        `mapstructure:"rsync_binary"`
	RsyncArgs             []string      `mapstructure:"rsync_args"` // Appended after -a --remove-source-files
	CheckRemoteDuplicates bool          `mapstructure:"check_remote_duplicates"`
	DisableFsnotify       bool          `mapstructure:"disable_fsnotify"`
	Notify                NotifyConfig  `mapstructure:"notify"`

	MinSizeBytes int64 `mapstructure:"-"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debounce", "30s")
	v.SetDefault("sleep", "60s")
	v.SetDefault("min_size", humanize.Bytes(uint64(plot.MinK32Size)))
	v.SetDefault("extension", ".plot")
	v.SetDefault("rsync_binary", "rsync")
	v.SetDefault("db_path", DefaultDBPath())
}

// DefaultDBPath follows the standard per-OS data locations.
// Windows: %PROGRAMDATA%\CleverData\PlotMover
// Linux: /var/lib/plotmover
func DefaultDBPath() string {
	var dataDir string
	if os.Getenv("OS") == "Windows_NT" {
		dataDir = filepath.Join(os.Getenv("ProgramData"), "CleverData", "PlotMover")
	} else {
		dataDir = "/var/lib/plotmover"
	}
	return filepath.Join(dataDir, "journal.db")
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	// The single-target form `rsync: {host, dir}` is still accepted.
	if m, ok := v.Get("rsync").(map[string]interface{}); ok {
		v.Set("rsync", []interface{}{m})
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and fills MinSizeBytes.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	if len(c.Dests) == 0 && len(c.Rsync) == 0 {
		return ErrNoDestinations
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	size, err := humanize.ParseBytes(c.MinSize)
	if err != nil {
		return fmt.Errorf("invalid min_size %q: %w", c.MinSize, err)
	}
	c.MinSizeBytes = int64(size)
	return nil
}

// Mode is decided once: any rsync target switches the whole agent to
// remote sync and local destinations are ignored.
func (c *Config) Mode() Mode {
	if len(c.Rsync) > 0 {
		return ModeRemote
	}
	return ModeLocal
}

// Destinations returns the targets for the active mode in configured order.
func (c *Config) Destinations() []dest.Destination {
	var out []dest.Destination
	if c.Mode() == ModeRemote {
		for _, r := range c.Rsync {
			out = append(out, dest.Remote(r.Host, r.Dir))
		}
		return out
	}
	for _, d := range c.Dests {
		out = append(out, dest.Local(d))
	}
	return out
}

// secondsToDurationHook reads bare numbers as seconds, as in older configs
// (`debounce: 60`).
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		}
		return data, nil
	}
}
