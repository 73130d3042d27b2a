package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config models statusline.yml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Twilio  TwilioConfig  `yaml:"twilio"`
	Trigger TriggerConfig `yaml:"trigger"`
	Model   ModelConfig   `yaml:"model"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Week    WeekConfig    `yaml:"week"`
}

// ServerConfig holds listener settings. PublicURL is the externally visible
// origin used for webhook signatures; when empty it is rebuilt from
// X-Forwarded-Proto/Host.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	PublicURL string `yaml:"public_url"`
}

type StoreConfig struct {
	Workspace string `yaml:"workspace"`
}

type TwilioConfig struct {
	AuthToken     string `yaml:"auth_token"`
	AllowUnsigned bool   `yaml:"allow_unsigned"`
}

type TriggerConfig struct {
	Secret string `yaml:"secret"`
}

type ModelConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Name           string `yaml:"name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	DedupeTTLSeconds int    `yaml:"dedupe_ttl_seconds"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type WeekConfig struct {
	Timezone string `yaml:"timezone"`
}

const (
	ProviderOpenAI = "openai"
	ProviderRules  = "rules"
)

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "statusline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Load reads and validates the workspace config.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with stl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.PublicURL != "" && !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("config.server.public_url must be an http(s) URL")
	}
	switch c.Model.Provider {
	case ProviderOpenAI, ProviderRules:
	default:
		return fmt.Errorf("config.model.provider must be %q or %q", ProviderOpenAI, ProviderRules)
	}
	if c.Model.TimeoutSeconds < 0 {
		return fmt.Errorf("config.model.timeout_seconds must not be negative")
	}
	if c.Redis.Addr != "" && c.Redis.DedupeTTLSeconds <= 0 {
		return fmt.Errorf("config.redis.dedupe_ttl_seconds must be positive when redis.addr is set")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateServe adds the checks that only matter when serving webhooks.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Twilio.AuthToken == "" && !c.Twilio.AllowUnsigned {
		return fmt.Errorf("twilio.auth_token is required unless twilio.allow_unsigned is set")
	}
	if c.Model.Provider == ProviderOpenAI && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for the openai provider")
	}
	return nil
}

// Location resolves week.timezone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Week.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Week.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.week.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.Redis.DedupeTTLSeconds) * time.Second
}

type envBinding struct {
	key  string
	envs []string
	str  *string
	flag *bool
	num  *int
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{key: "server.addr", envs: []string{"STATUSLINE_SERVER_ADDR"}, str: &c.Server.Addr},
		{key: "server.public_url", envs: []string{"STATUSLINE_SERVER_PUBLIC_URL"}, str: &c.Server.PublicURL},
		{key: "store.workspace", envs: []string{"STATUSLINE_STORE_WORKSPACE"}, str: &c.Store.Workspace},
		{key: "twilio.auth_token", envs: []string{"STATUSLINE_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN"}, str: &c.Twilio.AuthToken},
		{key: "twilio.allow_unsigned", envs: []string{"STATUSLINE_TWILIO_ALLOW_UNSIGNED"}, flag: &c.Twilio.AllowUnsigned},
		{key: "trigger.secret", envs: []string{"STATUSLINE_TRIGGER_SECRET", "BOT_SECRET"}, str: &c.Trigger.Secret},
		{key: "model.provider", envs: []string{"STATUSLINE_MODEL_PROVIDER"}, str: &c.Model.Provider},
		{key: "model.api_key", envs: []string{"STATUSLINE_MODEL_API_KEY", "OPENAI_API_KEY"}, str: &c.Model.APIKey},
		{key: "model.base_url", envs: []string{"STATUSLINE_MODEL_BASE_URL"}, str: &c.Model.BaseURL},
		{key: "model.name", envs: []string{"STATUSLINE_MODEL_NAME"}, str: &c.Model.Name},
		{key: "redis.addr", envs: []string{"STATUSLINE_REDIS_ADDR"}, str: &c.Redis.Addr},
		{key: "redis.password", envs: []string{"STATUSLINE_REDIS_PASSWORD"}, str: &c.Redis.Password},
		{key: "redis.db", envs: []string{"STATUSLINE_REDIS_DB"}, num: &c.Redis.DB},
		{key: "log.level", envs: []string{"STATUSLINE_LOG_LEVEL"}, str: &c.Log.Level},
		{key: "week.timezone", envs: []string{"STATUSLINE_WEEK_TIMEZONE"}, str: &c.Week.Timezone},
	}
}

// ApplyEnv overrides fields from the environment. Secrets also accept their
// conventional unprefixed names (TWILIO_AUTH_TOKEN, OPENAI_API_KEY, BOT_SECRET).
func (c *Config) ApplyEnv(v *viper.Viper) error {
	for _, b := range c.envBindings() {
		if err := v.BindEnv(append([]string{b.key}, b.envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", b.key, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		switch {
		case b.str != nil:
			*b.str = v.GetString(b.key)
		case b.flag != nil:
			*b.flag = v.GetBool(b.key)
		case b.num != nil:
			*b.num = v.GetInt(b.key)
		}
	}
	return c.Validate()
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /api
  # public_url: https://bot.example.com

store:
  workspace: .

twilio:
  auth_token: ""
  # Accept webhooks without a signature check. Local development only.
  allow_unsigned: false

trigger:
  secret: ""

model:
  provider: openai
  api_key: ""
  base_url: ""
  name: gpt-4o-mini
  timeout_seconds: 20

redis:
  addr: ""
  password: ""
  db: 0
  dedupe_ttl_seconds: 86400

log:
  level: info
  development: false

week:
  timezone: UTC
`
