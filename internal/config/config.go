package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var SupportedLanguages = []string{"fr", "en"}

var alwaysSafe = []string{"127.0.0.1", "::1"}

type Config struct {
	HomeAssistant  HomeAssistantConfig `yaml:"home_assistant"`
	App            AppConfig           `yaml:"app"`
	Whitelist      []string            `yaml:"whitelist"`
	Blacklist      []string            `yaml:"blacklist"`
	SafeIPs        []string            `yaml:"safe_ips"`
	Database       DatabaseConfig      `yaml:"database"`
	BanStore       BanStoreConfig      `yaml:"ban_store"`
	AdminSocket    string              `yaml:"admin_socket"`
	TrustProxy     bool                `yaml:"trust_proxy"`
	Log            LogConfig           `yaml:"log"`
	BootstrapAdmin BootstrapConfig     `yaml:"bootstrap_admin"`

	// Warnings collects non-fatal problems found while loading.
	Warnings []string `yaml:"-"`
}

type HomeAssistantConfig struct {
	URL      string `yaml:"url"`
	APIToken string `yaml:"api_token"`
}

type AppConfig struct {
	Language           string `yaml:"language"`
	DefaultHistoryDays int    `yaml:"default_history_days"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	SecretKey          string `yaml:"secret_key"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BanStoreConfig struct {
	Backend       string   `yaml:"backend"`
	File          string   `yaml:"file"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EtcdPrefix    string   `yaml:"etcd_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type BootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr is the listen address built from app.host and app.port.
func (c *Config) Addr() string {
	host := c.App.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, c.App.Port)
}

func (c *Config) applyDefaults() {
	c.HomeAssistant.URL = strings.TrimRight(strings.TrimSpace(c.HomeAssistant.URL), "/")

	lang := strings.ToLower(strings.TrimSpace(c.App.Language))
	switch {
	case lang == "":
		lang = "fr"
	case !slices.Contains(SupportedLanguages, lang):
		c.Warnings = append(c.Warnings, fmt.Sprintf("unsupported language %q, falling back to fr", c.App.Language))
		lang = "fr"
	}
	c.App.Language = lang

	if c.App.DefaultHistoryDays <= 0 {
		c.App.DefaultHistoryDays = 4
	}
	if c.App.Host == "" {
		c.App.Host = "0.0.0.0"
	}
	if c.App.Port == 0 {
		c.App.Port = 5000
	}

	for _, addr := range alwaysSafe {
		if !slices.Contains(c.SafeIPs, addr) {
			c.SafeIPs = append(c.SafeIPs, addr)
		}
	}

	if c.Database.Path == "" {
		c.Database.Path = "explorer.db"
	}
	if c.BanStore.Backend == "" {
		c.BanStore.Backend = "sqlite"
	}
	if c.BanStore.File == "" {
		c.BanStore.File = "ip_bans.yaml"
	}
	if c.BanStore.EtcdPrefix == "" {
		c.BanStore.EtcdPrefix = "/ha-explorer/bans"
	}
	if c.AdminSocket == "" {
		c.AdminSocket = "/tmp/ha-explorer.sock"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.BootstrapAdmin.Username == "" {
		c.BootstrapAdmin.Username = "admin"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.HomeAssistant.URL == "" {
		errs = append(errs, errors.New("home_assistant.url is required"))
	} else if u, err := url.Parse(c.HomeAssistant.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("home_assistant.url %q is not an absolute url", c.HomeAssistant.URL))
	}
	if c.HomeAssistant.APIToken == "" {
		errs = append(errs, errors.New("home_assistant.api_token is required"))
	}
	if c.App.Port < 1 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port %d out of range", c.App.Port))
	}
	switch c.BanStore.Backend {
	case "sqlite", "file":
	case "etcd":
		if len(c.BanStore.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("ban_store.etcd_endpoints is required for the etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ban_store.backend %q must be sqlite, file or etcd", c.BanStore.Backend))
	}
	return errors.Join(errs...)
}
