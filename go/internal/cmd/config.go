package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/sketchparty/go/internal/jobs"
)

// AppConfig is the service configuration: a YAML file for the optional
// surfaces, environment variables for operational flags. Env wins over file.
type AppConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Scheduler struct {
		MissedPolicy string `yaml:"missed_policy"`
	} `yaml:"scheduler"`
	Season struct {
		AllowUndersized bool `yaml:"allow_undersized"`
	} `yaml:"season"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`
	Gateway struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"gateway"`
	Notify struct {
		Enabled          bool   `yaml:"enabled"`
		CompletedChannel string `yaml:"completed_channel"`
		AdminChannel     string `yaml:"admin_channel"`
	} `yaml:"notify"`
}

func loadConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	cfg.Server.Port = "8080"
	cfg.Scheduler.MissedPolicy = string(jobs.MissedPolicyMarkFailed)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Scheduler.MissedPolicy = getEnv("SCHEDULER_MISSED_POLICY", cfg.Scheduler.MissedPolicy)
	cfg.Season.AllowUndersized = getEnvAsBool("SEASON_ALLOW_UNDERSIZED", cfg.Season.AllowUndersized)
	cfg.NATS.Enabled = getEnvAsBool("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Gateway.Enabled = getEnvAsBool("GATEWAY_ENABLED", cfg.Gateway.Enabled)
	cfg.Notify.Enabled = getEnvAsBool("NOTIFY_ENABLED", cfg.Notify.Enabled)
	cfg.Notify.CompletedChannel = getEnv("NOTIFY_COMPLETED_CHANNEL", cfg.Notify.CompletedChannel)
	cfg.Notify.AdminChannel = getEnv("NOTIFY_ADMIN_CHANNEL", cfg.Notify.AdminChannel)

	return &cfg, nil
}

// missedPolicy validates the configured policy, falling back to mark-failed.
func (c *AppConfig) missedPolicy() jobs.MissedPolicy {
	switch jobs.MissedPolicy(c.Scheduler.MissedPolicy) {
	case jobs.MissedPolicyExecuteImmediately:
		return jobs.MissedPolicyExecuteImmediately
	default:
		return jobs.MissedPolicyMarkFailed
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
