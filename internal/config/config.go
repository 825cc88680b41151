package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                          string        `mapstructure:"PORT"`
	DatabaseDriver                string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseDSN                   string        `mapstructure:"DATABASE_DSN"`
	ConferencesFile               string        `mapstructure:"CONFERENCES_FILE"`
	GatewayBaseURL                string        `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAccessToken            string        `mapstructure:"GATEWAY_ACCESS_TOKEN"`
	GatewayLocationID             string        `mapstructure:"GATEWAY_LOCATION_ID"`
	GatewayMaxRetries             int           `mapstructure:"GATEWAY_MAX_RETRIES"`
	GatewayTimeout                time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	WebhookSignatureKey           string        `mapstructure:"WEBHOOK_SIGNATURE_KEY"`
	WebhookNotificationURL        string        `mapstructure:"WEBHOOK_NOTIFICATION_URL"`
	PendingTTL                    time.Duration `mapstructure:"PENDING_TTL"`
	SweepInterval                 time.Duration `mapstructure:"SWEEP_INTERVAL"`
	AdminJWTSecret                string        `mapstructure:"ADMIN_JWT_SECRET"`
	DiscordBotToken               string        `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string        `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	LogLevel                      string        `mapstructure:"LOG_LEVEL"`
	EnableCORS                    bool          `mapstructure:"ENABLE_CORS"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "confreg.db")
	v.SetDefault("CONFERENCES_FILE", "conferences.yaml")
	v.SetDefault("GATEWAY_BASE_URL", "https://connect.squareupsandbox.com")
	v.SetDefault("GATEWAY_MAX_RETRIES", 3)
	v.SetDefault("GATEWAY_TIMEOUT", 10*time.Second)
	v.SetDefault("PENDING_TTL", 24*time.Hour)
	v.SetDefault("SWEEP_INTERVAL", 15*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")

	v.BindEnv("GATEWAY_ACCESS_TOKEN")
	v.BindEnv("GATEWAY_LOCATION_ID")
	v.BindEnv("WEBHOOK_SIGNATURE_KEY")
	v.BindEnv("WEBHOOK_NOTIFICATION_URL")
	v.BindEnv("ADMIN_JWT_SECRET")
	v.BindEnv("DISCORD_BOT_TOKEN")
	v.BindEnv("DISCORD_NOTIFICATIONS_CHANNEL_ID")
	v.BindEnv("ENABLE_CORS")

	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &config, nil
}

// ValidateServe checks the settings the HTTP server cannot start without.
// Webhook verification is not optional, so a missing key is fatal.
func (c *Config) ValidateServe() error {
	if c.WebhookSignatureKey == "" {
		return fmt.Errorf("WEBHOOK_SIGNATURE_KEY is required")
	}
	if c.WebhookNotificationURL == "" {
		return fmt.Errorf("WEBHOOK_NOTIFICATION_URL is required")
	}
	if c.GatewayAccessToken == "" {
		return fmt.Errorf("GATEWAY_ACCESS_TOKEN is required")
	}
	if c.GatewayLocationID == "" {
		return fmt.Errorf("GATEWAY_LOCATION_ID is required")
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("PENDING_TTL must be positive")
	}
	return nil
}
