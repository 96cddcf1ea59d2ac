package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type QueryConfig struct {
	DefaultLimit       int           `mapstructure:"default_limit"`
	MaxLimit           int           `mapstructure:"max_limit"`
	LongRunningMinutes int           `mapstructure:"long_running_minutes"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

type RetentionConfig struct {
	CleanupDays int `mapstructure:"cleanup_days"`
	BatchSize   int `mapstructure:"batch_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
}

// JobPolicyConfig carries the externally supplied per-job SLA and timeout.
// Both are optional: a job without an SLA is never evaluated for breach, and
// a job without a timeout is never reported as timed out.
type JobPolicyConfig struct {
	SLASeconds     *float64 `mapstructure:"sla_seconds"`
	TimeoutSeconds *float64 `mapstructure:"timeout_seconds"`
}

type AnalyticsConfig struct {
	OutlierZScore   float64 `mapstructure:"outlier_z_score"`
	AnomalyZScore   float64 `mapstructure:"anomaly_z_score"`
	MemoryIssueMB   float64 `mapstructure:"memory_issue_mb"`
	CPUIssuePercent float64 `mapstructure:"cpu_issue_percent"`
}

type Config struct {
	DatabaseURL    string                     `mapstructure:"database_url"`
	ServerPort     string                     `mapstructure:"server_port"`
	JWTSecret      string                     `mapstructure:"jwt_secret"`
	AllowedOrigins []string                   `mapstructure:"allowed_origins"`
	Query          QueryConfig                `mapstructure:"query"`
	Retention      RetentionConfig            `mapstructure:"retention"`
	Redis          RedisConfig                `mapstructure:"redis"`
	Temporal       TemporalConfig             `mapstructure:"temporal"`
	Analytics      AnalyticsConfig            `mapstructure:"analytics"`
	JobPolicies    map[string]JobPolicyConfig `mapstructure:"job_policies"`
	DefaultPolicy  JobPolicyConfig            `mapstructure:"default_policy"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	ApplyDefaults(&config)

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	return &config
}

// ApplyDefaults fills zero-valued fields with the shipped fallbacks.
func ApplyDefaults(config *Config) {
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if config.Query.DefaultLimit <= 0 {
		config.Query.DefaultLimit = 50
	}
	if config.Query.MaxLimit <= 0 {
		config.Query.MaxLimit = 200
	}
	if config.Query.LongRunningMinutes <= 0 {
		config.Query.LongRunningMinutes = 60
	}
	if config.Query.CacheTTL <= 0 {
		config.Query.CacheTTL = 5 * time.Second
	}
	if config.Retention.CleanupDays <= 0 {
		config.Retention.CleanupDays = 365
	}
	if config.Retention.BatchSize <= 0 {
		config.Retention.BatchSize = 500
	}
	if config.Temporal.Namespace == "" {
		config.Temporal.Namespace = "default"
	}
	if config.Analytics.OutlierZScore <= 0 {
		config.Analytics.OutlierZScore = 3.0
	}
	if config.Analytics.AnomalyZScore <= 0 {
		config.Analytics.AnomalyZScore = 2.5
	}
	if config.Analytics.MemoryIssueMB <= 0 {
		config.Analytics.MemoryIssueMB = 4096
	}
	if config.Analytics.CPUIssuePercent <= 0 {
		config.Analytics.CPUIssuePercent = 95
	}
}

// PolicyFor returns the SLA/timeout policy for a job, falling back to the
// global default policy for fields the job does not override.
func (c *Config) PolicyFor(jobID string) JobPolicyConfig {
	policy := c.DefaultPolicy
	if override, ok := c.JobPolicies[jobID]; ok {
		if override.SLASeconds != nil {
			policy.SLASeconds = override.SLASeconds
		}
		if override.TimeoutSeconds != nil {
			policy.TimeoutSeconds = override.TimeoutSeconds
		}
	}
	return policy
}
