// Package config loads application configuration from file and environment
// and wires the global logger.
package config

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Access   AccessConfig   `yaml:"access" mapstructure:"access"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// AccessConfig configures the accessibility computation. SearchDistance and
// DecayFunction have no defaults: a run that omits them must fail loudly
// rather than silently assume a radius or a decay family.
type AccessConfig struct {
	SearchDistance  float64            `yaml:"search_distance" mapstructure:"search_distance"`
	DecayFunction   string             `yaml:"decay_function" mapstructure:"decay_function"`
	NormalizeKernel bool               `yaml:"normalize_kernel" mapstructure:"normalize_kernel"`
	SupplyMap       map[string]float64 `yaml:"land_cover_to_supply_map" mapstructure:"land_cover_to_supply_map"`
	Tolerance       float64            `yaml:"conservation_tolerance" mapstructure:"conservation_tolerance"`
	BlockRows       int                `yaml:"block_rows" mapstructure:"block_rows"`
	Workers         int                `yaml:"workers" mapstructure:"workers"`
}

// RegistryConfig configures the run registry database.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ReportConfig configures summary report generation.
type ReportConfig struct {
	Quantiles []float64 `yaml:"quantiles" mapstructure:"quantiles"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GREENACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("access.conservation_tolerance", 1e-3)
	v.SetDefault("access.block_rows", 256)
	v.SetDefault("access.workers", 1)
	v.SetDefault("registry.path", "greenaccess-runs.db")
	v.SetDefault("report.quantiles", []float64{0.25, 0.5, 0.75, 0.9})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ParseSupplyMap converts the configured class→supply mapping, keyed by
// land-cover class code, into numeric form.
func ParseSupplyMap(m map[string]float64) (map[int]float64, error) {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		code, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, eris.Wrapf(err, "config: land-cover class code %q", k)
		}
		out[code] = v
	}
	return out, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
