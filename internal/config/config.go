// Package config loads the pipeline configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/mailprospect/internal/rows"
)

// Duration wraps time.Duration so YAML values like "60s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServiceConfig configures the verification service client.
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIKey is the key value, or a path to a file holding it.
	APIKey         string   `yaml:"api_key"`
	CAPath         string   `yaml:"ca_path"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ColumnsConfig names the source columns holding each contact role. Empty
// names skip the role for every file.
type ColumnsConfig struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Domain    string `yaml:"domain"`
}

// Config is the full immutable run configuration. It is resolved once in main
// and passed into components explicitly; nothing reads it ambiently.
type Config struct {
	Service   ServiceConfig `yaml:"service"`
	InputDir  string        `yaml:"input_dir"`
	OutputDir string        `yaml:"output_dir"`
	StateFile string        `yaml:"state_file"`
	Templates []string      `yaml:"templates"`
	Columns   ColumnsConfig `yaml:"columns"`
}

// ColumnNames converts the configured names to the rows package's mapping.
func (c Config) ColumnNames() rows.ColumnNames {
	return rows.ColumnNames{
		FirstName: c.Columns.FirstName,
		LastName:  c.Columns.LastName,
		Domain:    c.Columns.Domain,
	}
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg, err = applyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("VERIFIER_BASE_URL")); v != "" {
		cfg.Service.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VERIFIER_API_KEY")); v != "" {
		cfg.Service.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("INPUT_DIR")); v != "" {
		cfg.InputDir = v
	}
	if v := strings.TrimSpace(os.Getenv("OUTPUT_DIR")); v != "" {
		cfg.OutputDir = v
	}
	if v := strings.TrimSpace(os.Getenv("STATE_FILE")); v != "" {
		cfg.StateFile = v
	}
	if v := strings.TrimSpace(os.Getenv("VERIFIER_RATE_LIMIT_RPS")); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VERIFIER_RATE_LIMIT_RPS=%q: %w", v, err)
		}
		cfg.Service.RateLimitRPS = rps
	}
	if v := strings.TrimSpace(os.Getenv("VERIFIER_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VERIFIER_REQUEST_TIMEOUT=%q: %w", v, err)
		}
		cfg.Service.RequestTimeout = Duration(d)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Service.BaseURL) == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if strings.TrimSpace(c.Service.APIKey) == "" {
		return fmt.Errorf("service.api_key is required")
	}
	if strings.TrimSpace(c.InputDir) == "" {
		return fmt.Errorf("input_dir is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir is required")
	}
	if strings.TrimSpace(c.StateFile) == "" {
		return fmt.Errorf("state_file is required")
	}
	if len(c.Templates) == 0 {
		return fmt.Errorf("at least one template is required")
	}
	for _, tpl := range c.Templates {
		if strings.TrimSpace(tpl) == "" {
			return fmt.Errorf("templates must not be blank")
		}
	}
	return nil
}
