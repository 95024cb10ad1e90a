package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
		Mode string
	}
	Database struct {
		// Driver is "sqlite" or "memory".
		Driver    string
		Path      string
		OpTimeout time.Duration `mapstructure:"op_timeout"`
	}
	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	}
	Policy struct {
		// Path is empty to use the built-in policy.
		Path string
	}
	Scheduler struct {
		Interval          time.Duration
		Workers           int
		EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`
		States            []string
	}
	Extractor struct {
		ProductivityWindow time.Duration `mapstructure:"productivity_window"`
		ActivityWindow     time.Duration `mapstructure:"activity_window"`
	}
	Persistence struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	}
	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
		TTL      time.Duration
	}
	Notify struct {
		MinSeverity string `mapstructure:"min_severity"`
		// DeliveryTimeout bounds event delivery after each commit.
		DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
		Slack           struct {
			Enabled bool
			Token   string
			Channel string
		}
		Email struct {
			Enabled     bool
			SMTPHost    string `mapstructure:"smtp_host"`
			SMTPPort    int    `mapstructure:"smtp_port"`
			From        string
			Password    string
			ToReceivers []string `mapstructure:"to_receivers"`
		}
		Webhook struct {
			Enabled bool
			URL     string
			Timeout time.Duration
		}
		AMQP struct {
			Enabled    bool
			URL        string
			Exchange   string
			RoutingKey string `mapstructure:"routing_key"`
		}
		Kafka struct {
			Enabled bool
			Brokers []string
			Topic   string
		}
	}
	Log struct {
		Level       string
		Development bool
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/projectpulse.db")
	v.SetDefault("database.op_timeout", 5*time.Second)
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("policy.path", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.token", "")
	v.SetDefault("notify.slack.channel", "")
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.amqp.enabled", false)
	v.SetDefault("notify.amqp.url", "")
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("scheduler.interval", 15*time.Minute)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.evaluation_timeout", 30*time.Second)
	v.SetDefault("scheduler.states", []string{"active", "review"})
	v.SetDefault("extractor.productivity_window", 30*24*time.Hour)
	v.SetDefault("extractor.activity_window", 14*24*time.Hour)
	v.SetDefault("persistence.max_attempts", 4)
	v.SetDefault("persistence.base_backoff", 100*time.Millisecond)
	v.SetDefault("persistence.max_backoff", 2*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("notify.min_severity", "warning")
	v.SetDefault("notify.delivery_timeout", 10*time.Second)
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.webhook.timeout", 5*time.Second)
	v.SetDefault("notify.amqp.exchange", "events")
	v.SetDefault("notify.amqp.routing_key", "pulse.alert")
	v.SetDefault("notify.kafka.topic", "pulse.alerts")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from the given file, or from "." and
// "./config" when path is empty. A missing file is not an error; defaults
// and PULSE_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Scheduler.Workers < 1 {
		return errors.New("scheduler.workers must be at least 1")
	}
	if c.Persistence.MaxAttempts < 1 {
		return errors.New("persistence.max_attempts must be at least 1")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set PULSE_AUTH_JWT_SECRET)")
	}
	return nil
}
