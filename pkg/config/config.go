// Package config loads and validates the database configuration.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-tracedb/pkg/logging"
)

// Config is the complete database configuration.
type Config struct {
	// DataDir holds pages.db and catalog.bin; unused in memory.
	DataDir  string `yaml:"data_dir" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory"`

	PageSize int `yaml:"page_size" validate:"min=256,max=65536,pow2"`
	// IndexFanout caps tuples per index page; 0 fills pages.
	IndexFanout      int   `yaml:"index_fanout" validate:"omitempty,min=2"`
	ObjectIndexParts []int `yaml:"object_index_parts" validate:"min=1,max=8,dive,min=1,max=63"`
	ArrayIndexParts  []int `yaml:"array_index_parts" validate:"min=1,max=8,dive,min=1,max=63"`

	// ReorderWindow is the number of events held back to restore
	// timestamp order; 0 disables reordering.
	ReorderWindow int  `yaml:"reorder_window" validate:"min=0,max=1000000"`
	FastCounts    bool `yaml:"fast_counts"`

	LogLevel string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		v := fl.Field().Int()
		return v > 0 && bits.OnesCount64(uint64(v)) == 1
	})
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:          "./data",
		PageSize:         4096,
		ObjectIndexParts: []int{16, 16},
		ArrayIndexParts:  []int{14, 14},
		ReorderWindow:    0,
		FastCounts:       true,
		LogLevel:         "info",
		Metrics:          MetricsConfig{ListenAddr: "127.0.0.1:9464"},
	}
}

// Memory returns the default configuration of an in-memory database.
func Memory() Config {
	c := Default()
	c.InMemory = true
	c.DataDir = ""
	return c
}

// Parse decodes YAML on top of the defaults, applies the environment and
// validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Save writes c as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if s := os.Getenv(logging.LevelEnv); s != "" {
		c.LogLevel = strings.ToLower(logging.ParseLevel(s).String())
	}
}

// Level returns the configured log level.
func (c Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// Validate checks struct tags, then the constraints spanning fields. Every
// violation is reported.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	var errs []error
	for name, parts := range map[string][]int{
		"object_index_parts": c.ObjectIndexParts,
		"array_index_parts":  c.ArrayIndexParts,
	} {
		total := 0
		for _, b := range parts {
			total += b
		}
		if total > 64 {
			errs = append(errs, fmt.Errorf("config.%s: %d bits exceed 64", name, total))
		}
	}
	// a leaf tuple with roles takes 124 bits, the page trailer 64
	if c.IndexFanout > 0 && c.IndexFanout > (c.PageSize*8-64)/124 {
		errs = append(errs, fmt.Errorf("config.index_fanout: %d tuples do not fit a %d byte page", c.IndexFanout, c.PageSize))
	}
	return errors.Join(errs...)
}

// formatValidationError converts validator errors to a readable form
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	errs := make([]error, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required", "required_if", "required_unless":
			errs = append(errs, fmt.Errorf("%s: field is required", field))
		case "min":
			errs = append(errs, fmt.Errorf("%s: must be at least %s", field, e.Param()))
		case "max":
			errs = append(errs, fmt.Errorf("%s: must not exceed %s", field, e.Param()))
		case "oneof":
			errs = append(errs, fmt.Errorf("%s: must be one of %s", field, e.Param()))
		case "pow2":
			errs = append(errs, fmt.Errorf("%s: must be a power of two", field))
		default:
			errs = append(errs, fmt.Errorf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return errors.Join(errs...)
}
