package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Server holds the HTTP front door configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		GitLabPath     string `yaml:"gitlab_path"`
		GitLabSecret   string `yaml:"gitlab_secret"`
		NotifyPath     string `yaml:"notify_path"`
		BuildPath      string `yaml:"build_path"`
	} `yaml:"server"`

	// Jenkins configures the job system client.
	Jenkins JenkinsConfig `yaml:"jenkins"`

	// GitLab configures the source-control host API client, used to resolve
	// project URLs for merge-request events that omit them.
	GitLab GitLabConfig `yaml:"gitlab"`

	// Hooks holds the dispatch and lifecycle settings.
	Hooks HooksConfig `yaml:"hooks"`

	// Notifier configures the outbound notification bus.
	Notifier NotifierConfig `yaml:"notifier"`

	// Storage configures the audit store for auto-created jobs.
	Storage StorageConfig `yaml:"storage"`

	// Filters are evaluated against each inbound event before matching;
	// a matching filter skips the event.
	Filters       []Filter `yaml:"filters"`
	FiltersStrict bool     `yaml:"filters_strict"`
}

// JenkinsConfig holds connection settings for the build host.
type JenkinsConfig struct {
	URL         string `yaml:"url"`
	User        string `yaml:"user"`
	Token       string `yaml:"token"`
	SystemUser  string `yaml:"system_user"`
	SystemToken string `yaml:"system_token"`
	TimeoutMS   int64  `yaml:"timeout_ms"`
}

// GitLabConfig holds connection settings for the source-control host API.
type GitLabConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// HooksConfig is the explicit settings value injected into the matching,
// dispatch and lifecycle components.
type HooksConfig struct {
	MasterBranch      string `yaml:"master_branch"`
	AutoCreate        bool   `yaml:"auto_create"`
	AnyBranchPattern  string `yaml:"any_branch_pattern"`
	DescriptionMarker string `yaml:"description_marker"`
	// UseMasterJobName bases clone names on the master job name instead of
	// the repository name.
	UseMasterJobName bool `yaml:"use_master_job_name"`
	// BranchParameter names the build parameter that receives the pushed
	// branch when a parameterized job is triggered.
	BranchParameter string `yaml:"branch_parameter"`
}

// NotifierConfig selects and configures the notification drivers.
type NotifierConfig struct {
	Driver     string             `yaml:"driver"`
	Drivers    []string           `yaml:"drivers"`
	GoChannel  GoChannelConfig    `yaml:"gochannel"`
	NATS       NATSConfig         `yaml:"nats"`
	AMQP       AMQPConfig         `yaml:"amqp"`
	Kafka      KafkaConfig        `yaml:"kafka"`
	SQL        SQLNotifierConfig  `yaml:"sql"`
	HTTP       HTTPNotifierConfig `yaml:"http"`
	RiverQueue RiverQueueConfig   `yaml:"riverqueue"`
}

// GoChannelConfig holds configuration for the in-process pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// NATSConfig holds configuration for the NATS streaming driver.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	// Durable names the durable subscription used by consumers.
	Durable string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP driver.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// KafkaConfig holds configuration for the Kafka driver.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// SQLNotifierConfig holds configuration for the SQL outbox driver.
type SQLNotifierConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Dialect          string `yaml:"dialect"`
	InitializeSchema bool   `yaml:"initialize_schema"`
	ConsumerGroup    string `yaml:"consumer_group"`
}

// HTTPNotifierConfig holds configuration for the HTTP driver.
type HTTPNotifierConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the river job queue driver.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

// StorageConfig holds configuration for the audit store.
type StorageConfig struct {
	Dialect     string `yaml:"dialect"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Filter is one event filter rule.
type Filter struct {
	When   string `yaml:"when"`
	Reason string `yaml:"reason"`
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables and applies default values.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := normalizeFilters(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.GitLabPath == "" {
		cfg.Server.GitLabPath = "/webhooks/gitlab"
	}
	if cfg.Server.NotifyPath == "" {
		cfg.Server.NotifyPath = "/webhooks/notify"
	}
	if cfg.Server.BuildPath == "" {
		cfg.Server.BuildPath = "/webhooks/build"
	}
	if cfg.Jenkins.TimeoutMS == 0 {
		cfg.Jenkins.TimeoutMS = 10000
	}
	if cfg.Hooks.MasterBranch == "" {
		cfg.Hooks.MasterBranch = "master"
	}
	if cfg.Hooks.AnyBranchPattern == "" {
		cfg.Hooks.AnyBranchPattern = "**"
	}
	if cfg.Hooks.DescriptionMarker == "" {
		cfg.Hooks.DescriptionMarker = "Automatically created by buildhook"
	}
	if cfg.Hooks.BranchParameter == "" {
		cfg.Hooks.BranchParameter = "BRANCH"
	}
	if cfg.Notifier.Driver == "" && len(cfg.Notifier.Drivers) == 0 {
		cfg.Notifier.Driver = "gochannel"
	}
	if cfg.Notifier.GoChannel.OutputChannelBuffer == 0 {
		cfg.Notifier.GoChannel.OutputChannelBuffer = 64
	}
	// base_url is the usable default here: topics are fixed names, not
	// URLs, so topic_url mode only fits drivers given literal target URLs.
	if cfg.Notifier.HTTP.Mode == "" {
		cfg.Notifier.HTTP.Mode = "base_url"
	}
	if cfg.Notifier.RiverQueue.Table == "" {
		cfg.Notifier.RiverQueue.Table = "river_job"
	}
	if cfg.Notifier.RiverQueue.Queue == "" {
		cfg.Notifier.RiverQueue.Queue = "default"
	}
	if cfg.Notifier.RiverQueue.Kind == "" {
		cfg.Notifier.RiverQueue.Kind = "buildhook.notification"
	}
	if cfg.Notifier.RiverQueue.MaxAttempts == 0 {
		cfg.Notifier.RiverQueue.MaxAttempts = 25
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "buildhook_clones"
	}
}

func normalizeFilters(cfg *Config) error {
	for i := range cfg.Filters {
		cfg.Filters[i].When = strings.TrimSpace(cfg.Filters[i].When)
		cfg.Filters[i].Reason = strings.TrimSpace(cfg.Filters[i].Reason)
		if cfg.Filters[i].When == "" {
			return fmt.Errorf("filter %d is missing when", i)
		}
	}
	return nil
}
