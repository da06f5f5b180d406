package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// MQTT connection
	BrokerURL string `mapstructure:"broker-url"`
	ClientID  string `mapstructure:"client-id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`

	// Topics
	AdvertiseTopic string `mapstructure:"advertise-topic"`
	ReportTopic    string `mapstructure:"report-topic"`

	// Running image
	Software    string `mapstructure:"software"`
	VersionFile string `mapstructure:"version-file"`

	// Update engine
	UpdateTimeout  time.Duration `mapstructure:"update-timeout"`
	CheckInterval  time.Duration `mapstructure:"check-interval"`
	ReportInterval time.Duration `mapstructure:"report-interval"`
	FragmentSize   int           `mapstructure:"fragment-size"`
	Settle         time.Duration `mapstructure:"settle"`

	// Flash emulation
	FlashDir      string `mapstructure:"flash-dir"`
	PartitionSize int64  `mapstructure:"partition-size"`
	RebootSystem  bool   `mapstructure:"reboot-system"`

	// Database paths
	JournalPath  string `mapstructure:"journal-path"`
	CommitDBPath string `mapstructure:"commit-db-path"`

	// S3 configuration
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`

	// Development broker
	BrokerListen string `mapstructure:"broker-listen"`

	LogLevel string `mapstructure:"log-level"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("broker-url", "tcp://localhost:1883")
	viper.SetDefault("client-id", "logger")
	viper.SetDefault("advertise-topic", "home/ota/advertise")
	viper.SetDefault("report-topic", "home/ota/report")
	viper.SetDefault("software", "logger")
	viper.SetDefault("version-file", "version.txt")
	viper.SetDefault("update-timeout", 60*time.Second)
	viper.SetDefault("check-interval", 10*time.Second)
	viper.SetDefault("report-interval", 10*time.Second)
	viper.SetDefault("fragment-size", 1024)
	viper.SetDefault("settle", 2*time.Second)
	viper.SetDefault("flash-dir", ".artifacts/flash")
	viper.SetDefault("partition-size", 0x180000)
	viper.SetDefault("reboot-system", false)
	viper.SetDefault("journal-path", ".artifacts/journal.db")
	viper.SetDefault("commit-db-path", ".artifacts/commit")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("broker-listen", ":1883")
	viper.SetDefault("log-level", "info")

	// Environment variables (will be LOGGER_BROKER_URL, etc.)
	viper.SetEnvPrefix("LOGGER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.logger")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker-url cannot be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client-id cannot be empty")
	}
	if c.AdvertiseTopic == "" {
		return fmt.Errorf("advertise-topic cannot be empty")
	}
	if strings.ContainsAny(c.AdvertiseTopic, "+#") {
		return fmt.Errorf("advertise-topic must not contain wildcards")
	}
	if c.ReportTopic == "" {
		return fmt.Errorf("report-topic cannot be empty")
	}
	if c.Software == "" {
		return fmt.Errorf("software cannot be empty")
	}
	if c.UpdateTimeout <= 0 {
		return fmt.Errorf("update-timeout must be positive")
	}
	if c.CheckInterval <= 0 || c.CheckInterval > c.UpdateTimeout {
		return fmt.Errorf("check-interval must be positive and no longer than update-timeout")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be positive")
	}
	if c.FragmentSize < 0 {
		return fmt.Errorf("fragment-size must be non-negative")
	}
	if c.PartitionSize <= 0 {
		return fmt.Errorf("partition-size must be positive")
	}
	if c.FlashDir == "" {
		return fmt.Errorf("flash-dir cannot be empty")
	}
	if c.JournalPath == "" {
		return fmt.Errorf("journal-path cannot be empty")
	}
	if c.CommitDBPath == "" {
		return fmt.Errorf("commit-db-path cannot be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return level, nil
}
