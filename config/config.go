package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/gebv/tbcpay/provider/tbc"
)

// Config is the runtime configuration of the installment service and CLI.
type Config struct {
	Environment string `mapstructure:"environment"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	MerchantKey string `mapstructure:"merchant_key"`
	CampaignID  string `mapstructure:"campaign_id"`
	// BaseURL overrides the host selected by Environment.
	BaseURL string `mapstructure:"base_url"`

	Redis RedisConfig `mapstructure:"redis"`
	NATS  NATSConfig  `mapstructure:"nats"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	Debug DebugConfig `mapstructure:"debug"`
	Trace TraceConfig `mapstructure:"trace"`
}

// RedisConfig enables the shared token store when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig enables publishing audit records when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	AccessToken string `mapstructure:"access_token"`
}

type DebugConfig struct {
	Addr string `mapstructure:"addr"`
}

// TraceConfig enables span logging when SampleRate is above zero.
type TraceConfig struct {
	SampleRate float64 `mapstructure:"sample_rate"`
}

var envs = map[string]string{
	"environment":       "TBC_ENVIRONMENT",
	"api_key":           "TBC_INSTALLMENT_API_KEY",
	"api_secret":        "TBC_INSTALLMENT_API_SECRET",
	"merchant_key":      "TBC_INSTALLMENT_MERCHANT_KEY",
	"campaign_id":       "TBC_INSTALLMENT_CAMPAIGN_ID",
	"base_url":          "TBC_INSTALLMENT_BASE_URL",
	"redis.addr":        "REDIS_ADDR",
	"redis.password":    "REDIS_PASSWORD",
	"redis.db":          "REDIS_DB",
	"nats.url":          "NATS_URL",
	"nats.subject":      "NATS_SUBJECT",
	"http.addr":         "HTTP_ADDR",
	"http.access_token": "HTTP_ACCESS_TOKEN",
	"debug.addr":        "DEBUG_ADDR",
	"trace.sample_rate": "TRACE_SAMPLE_RATE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", tbc.EnvTesting)
	v.SetDefault("campaign_id", "191")
	v.SetDefault("nats.subject", "provider_tbc_audit")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("debug.addr", ":8081")
}

// Load reads the YAML file at path, if any, and then the environment.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envs {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "Failed bind env %s", env)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "Failed stat config file")
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "Failed read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "Failed unmarshal config")
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	return cfg, nil
}

// EntrypointURL returns BaseURL or the host of the configured environment.
func (c *Config) EntrypointURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return tbc.BaseURLFor(c.Environment)
}

func (c *Config) Provider() tbc.Config {
	return tbc.Config{
		EntrypointURL: c.EntrypointURL(),
		APIKey:        c.APIKey,
		APISecret:     c.APISecret,
		MerchantKey:   c.MerchantKey,
		CampaignID:    c.CampaignID,
	}
}

// Validate checks the bank credentials. Everything else has usable defaults.
func (c *Config) Validate() error {
	return c.Provider().Validate()
}
