package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	DB          struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Slack struct {
		SigningSecret string `mapstructure:"signing_secret"`
		BotToken      string `mapstructure:"bot_token"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		APIURL        string `mapstructure:"api_url"`
	} `mapstructure:"slack"`
	Agent struct {
		URL          string        `mapstructure:"url"`
		Model        string        `mapstructure:"model"`
		MaxTokens    int           `mapstructure:"max_tokens"`
		StageTimeout time.Duration `mapstructure:"stage_timeout"`
	} `mapstructure:"agent"`
	Bluesky struct {
		APIURL   string `mapstructure:"api_url"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"bluesky"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("slack.api_url", "https://slack.com/api")
	viper.SetDefault("bluesky.api_url", "https://bsky.social/xrpc")
	viper.SetDefault("agent.max_tokens", 4096)
	viper.SetDefault("agent.stage_timeout", 2*time.Minute)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "postgres")
	viper.SetDefault("db.name", "socialtracker")
	viper.SetDefault("db.sslmode", "disable")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// env-only configuration is fine
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Slack.APIURL = strings.TrimRight(config.Slack.APIURL, "/")
	config.Bluesky.APIURL = strings.TrimRight(config.Bluesky.APIURL, "/")
	config.Agent.URL = strings.TrimRight(config.Agent.URL, "/")

	return &config, nil
}

// Validate checks that the fields required for serving Slack traffic are set.
func (c *Config) Validate() error {
	if c.Slack.SigningSecret == "" {
		return errors.New("slack.signing_secret is required")
	}
	if c.Agent.URL == "" {
		return errors.New("agent.url is required")
	}
	return nil
}
