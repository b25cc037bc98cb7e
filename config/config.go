package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration. Every section has defaults, so an
// empty file (or none at all) yields a runnable relay-only setup.
type Config struct {
	ServerAddr string        `json:"server_addr,omitempty" yaml:"server_addr"`
	LogMode    string        `json:"log_mode,omitempty" yaml:"log_mode"`
	Timeout    Duration      `json:"timeout,omitempty" yaml:"timeout"`
	LLM        *LLMConfig    `json:"llm,omitempty" yaml:"llm"`
	Vision     VisionConfig  `json:"vision" yaml:"vision"`
	Commons    CommonsConfig `json:"commons" yaml:"commons"`
	Admission  Admission     `json:"admission" yaml:"admission"`

	// Concurrency caps in-flight requests during the search and detail fan-out.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency"`

	// CORSOrigins restricts browser origins; empty allows all.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins"`

	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
}

// LLMConfig selects the term-generation model. When Provider is empty the
// vision model is used for terms too.
type LLMConfig struct {
	Provider string `json:"provider,omitempty" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url"`
}

type VisionConfig struct {
	Model    string `json:"model,omitempty" yaml:"model"`
	RelayURL string `json:"relay_url,omitempty" yaml:"relay_url"`
	// APIKey is the server-side credential for the direct path. Callers may
	// supply their own per request.
	APIKey string `json:"api_key,omitempty" yaml:"api_key"`
	// DirectOnly disables the relay path.
	DirectOnly bool `json:"direct_only,omitempty" yaml:"direct_only"`
}

type CommonsConfig struct {
	APIURL         string `json:"api_url,omitempty" yaml:"api_url"`
	UserAgent      string `json:"user_agent,omitempty" yaml:"user_agent"`
	ResultsPerTerm int    `json:"results_per_term,omitempty" yaml:"results_per_term"`
	MaxCandidates  int    `json:"max_candidates,omitempty" yaml:"max_candidates"`
}

type Admission struct {
	MaxImageBytes int64 `json:"max_image_bytes,omitempty" yaml:"max_image_bytes"`
	MaxTotalBytes int64 `json:"max_total_bytes,omitempty" yaml:"max_total_bytes"`
	MaxImages     int   `json:"max_images,omitempty" yaml:"max_images"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn,omitempty" yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled,omitempty" yaml:"enabled"`
	ServiceName string `json:"service_name,omitempty" yaml:"service_name"`
}

const (
	DefaultVisionModel    = "gemini-2.5-flash"
	DefaultCommonsAPIURL  = "https://commons.wikimedia.org/w/api.php"
	DefaultUserAgent      = "illustrated-answer/0.1 (https://github.com/illustrated-answer)"
	DefaultResultsPerTerm = 3
	DefaultMaxCandidates  = 15
	DefaultMaxImageBytes  = 1 << 20
	DefaultMaxTotalBytes  = 4 << 20
	DefaultMaxImages      = 8
	DefaultConcurrency    = 8
	DefaultTimeout        = 120 * time.Second
)

// Load reads a JSON or YAML (by extension) config file, then applies defaults
// and environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := decode(path, data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Vision.Model == "" {
		c.Vision.Model = DefaultVisionModel
	}
	if c.Commons.APIURL == "" {
		c.Commons.APIURL = DefaultCommonsAPIURL
	}
	if c.Commons.UserAgent == "" {
		c.Commons.UserAgent = DefaultUserAgent
	}
	if c.Commons.ResultsPerTerm <= 0 {
		c.Commons.ResultsPerTerm = DefaultResultsPerTerm
	}
	if c.Commons.MaxCandidates <= 0 {
		c.Commons.MaxCandidates = DefaultMaxCandidates
	}
	if c.Admission.MaxImageBytes <= 0 {
		c.Admission.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.Admission.MaxTotalBytes <= 0 {
		c.Admission.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if c.Admission.MaxImages <= 0 {
		c.Admission.MaxImages = DefaultMaxImages
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "illustrated-answer"
	}
}

func applyEnv(c *Config) {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.LogMode = getEnv("LOG_MODE", c.LogMode)
	c.Vision.APIKey = getEnv("GEMINI_API_KEY", c.Vision.APIKey)
	c.Vision.RelayURL = getEnv("VISION_RELAY_URL", c.Vision.RelayURL)
	c.Vision.Model = getEnv("VISION_MODEL", c.Vision.Model)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Concurrency = getEnvInt("FANOUT_CONCURRENCY", c.Concurrency)
	if v := strings.TrimSpace(os.Getenv("VISION_DIRECT_ONLY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Vision.DirectOnly = b
		}
	}
	if c.LLM != nil {
		c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Duration accepts "90s" style strings or plain seconds in config files.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
