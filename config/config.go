package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerDNS      string `env:"SERVER_DNS" envDefault:"http://localhost:8080"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"fencewatch.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	Scraper struct {
		IntervalMinutes int  `env:"SCRAPER_INTERVAL_MINUTES" envDefault:"30"`
		RunOnStartup    bool `env:"SCRAPER_RUN_ON_STARTUP" envDefault:"true"`
		MaxFailures     int  `env:"SCRAPER_MAX_FAILURES" envDefault:"3"`
	}

	Digest struct {
		CronSpec      string `env:"DIGEST_CRON" envDefault:"0 9 * * *"`
		LookbackHours int    `env:"DIGEST_LOOKBACK_HOURS" envDefault:"24"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "production" {
			cfg.log.Sugar().Infof("%s (auth will be disabled outside production)", err)
			creds = nil
		} else {
			return nil, err
		}
	}
	cfg.creds = creds

	return cfg, nil
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
