// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/site"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Auth       AuthConfig            `mapstructure:"auth"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Telemetry  TelemetryConfig       `mapstructure:"telemetry"`
	Redis      RedisConfig           `mapstructure:"redis"`
	Lock       LockConfig            `mapstructure:"lock"`
	Database   DatabaseConfig        `mapstructure:"database"`
	Queue      QueueConfig           `mapstructure:"queue"`
	Worker     WorkerConfig          `mapstructure:"worker"`
	Scheduler  SchedulerConfig       `mapstructure:"scheduler"`
	Tasks      map[string]TaskConfig `mapstructure:"tasks"`
	Enrichment EnrichmentConfig      `mapstructure:"enrichment"`
	Search     SearchConfig          `mapstructure:"search"`
	Storage    StorageConfig         `mapstructure:"storage"`
	RateLimit  RateLimitConfig       `mapstructure:"ratelimit"`
	Headless   HeadlessConfig        `mapstructure:"headless"`
	Sites      []SiteConfig          `mapstructure:"sites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls the tracer provider.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RedisConfig locates the Redis server backing the distributed lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig selects the lock backend.
type LockConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
}

// DatabaseConfig selects and configures the entry and run stores.
type DatabaseConfig struct {
	Backend             string `mapstructure:"backend"`
	DSN                 string `mapstructure:"dsn"`
	EntriesTable        string `mapstructure:"entries_table"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	ConnLifetimeSeconds int    `mapstructure:"conn_lifetime_seconds"`
	Migrate             bool   `mapstructure:"migrate"`
}

// QueueConfig selects the job queue.
type QueueConfig struct {
	Backend string       `mapstructure:"backend"`
	Depth   int          `mapstructure:"depth"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the Pub/Sub resources of the job queue.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// WorkerConfig governs job execution and outbound HTTP.
type WorkerConfig struct {
	Concurrency           int    `mapstructure:"concurrency"`
	UserAgent             string `mapstructure:"user_agent"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
}

// SchedulerConfig holds the producer cron specs.
type SchedulerConfig struct {
	CrawlSchedule     string  `mapstructure:"crawl_schedule"`
	EnrichSchedule    string  `mapstructure:"enrich_schedule"`
	ExpiresMultiplier float64 `mapstructure:"expires_multiplier"`
}

// TaskConfig is the timeout triple of one task, in seconds.
type TaskConfig struct {
	SoftSeconds  int `mapstructure:"soft_seconds"`
	HardSeconds  int `mapstructure:"hard_seconds"`
	LeaseSeconds int `mapstructure:"lease_seconds"`
}

// EnrichmentConfig tunes the enrichment stages.
type EnrichmentConfig struct {
	BatchSize           int      `mapstructure:"batch_size"`
	SimilarityThreshold float64  `mapstructure:"similarity_threshold"`
	SearchLimit         int      `mapstructure:"search_limit"`
	BlockedHosts        []string `mapstructure:"blocked_hosts"`
	SkippedExtensions   []string `mapstructure:"skipped_extensions"`
}

// SearchConfig locates the Elasticsearch news index.
type SearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// StorageConfig selects where raw article snapshots are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// RateLimitConfig sets per-host politeness.
type RateLimitConfig struct {
	RPS     float64            `mapstructure:"rps"`
	Burst   int                `mapstructure:"burst"`
	Domains map[string]float64 `mapstructure:"domains"`
}

// HeadlessConfig configures the browser used by headless sites.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	RemoteURL     string `mapstructure:"remote_url"`
	ExecPath      string `mapstructure:"exec_path"`
}

// SiteConfig describes one news site.
type SiteConfig struct {
	URL         string          `mapstructure:"url"`
	Sections    []string        `mapstructure:"sections"`
	Adapter     string          `mapstructure:"adapter"`
	PageURL     string          `mapstructure:"page_url"`
	Selectors   SelectorsConfig `mapstructure:"selectors"`
	DateLayouts []string        `mapstructure:"date_layouts"`
	Locale      string          `mapstructure:"locale"`
	Timezone    string          `mapstructure:"timezone"`
}

// SelectorsConfig are the CSS selectors of a site.
type SelectorsConfig struct {
	Item     string `mapstructure:"item"`
	Link     string `mapstructure:"link"`
	Date     string `mapstructure:"date"`
	LastPage string `mapstructure:"last_page"`
	Title    string `mapstructure:"title"`
	Content  string `mapstructure:"content"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "newswatch")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.prefix", "newswatch:lock:")
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.entries_table", "entries")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_seconds", 1800)
	v.SetDefault("database.migrate", true)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.pubsub.topic", "newswatch-jobs")
	v.SetDefault("queue.pubsub.subscription", "newswatch-workers")
	v.SetDefault("queue.pubsub.max_outstanding", 10)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.user_agent", "newswatch-bot/0.1")
	v.SetDefault("worker.request_timeout_seconds", 10)
	v.SetDefault("worker.respect_robots", true)
	v.SetDefault("scheduler.crawl_schedule", "@every 15m")
	v.SetDefault("scheduler.enrich_schedule", "@every 1h")
	v.SetDefault("scheduler.expires_multiplier", 2.0)
	for task, t := range defaultTasks {
		v.SetDefault("tasks."+task+".soft_seconds", t.SoftSeconds)
		v.SetDefault("tasks."+task+".hard_seconds", t.HardSeconds)
		v.SetDefault("tasks."+task+".lease_seconds", t.LeaseSeconds)
	}
	v.SetDefault("enrichment.batch_size", 100)
	v.SetDefault("enrichment.similarity_threshold", 0.5)
	v.SetDefault("enrichment.search_limit", 10)
	v.SetDefault("search.addresses", []string{"http://localhost:9200"})
	v.SetDefault("search.index", "news")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "./snapshots")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.wait_selector", "body")
}

var defaultTasks = map[string]TaskConfig{
	string(crawler.TaskCrawl):    {SoftSeconds: 600, HardSeconds: 660, LeaseSeconds: 720},
	string(crawler.TaskSearch):   {SoftSeconds: 3000, HardSeconds: 3300, LeaseSeconds: 3600},
	string(crawler.TaskComplete): {SoftSeconds: 3000, HardSeconds: 3300, LeaseSeconds: 3600},
	string(crawler.TaskScore):    {SoftSeconds: 6000, HardSeconds: 6600, LeaseSeconds: 7200},
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.request_timeout_seconds must be > 0")
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if c.Scheduler.CrawlSchedule == "" || c.Scheduler.EnrichSchedule == "" {
		return fmt.Errorf("scheduler.crawl_schedule and scheduler.enrich_schedule are required")
	}
	if c.Scheduler.ExpiresMultiplier <= 0 {
		return fmt.Errorf("scheduler.expires_multiplier must be > 0")
	}
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be > 0")
	}
	if c.Enrichment.SimilarityThreshold < 0 || c.Enrichment.SimilarityThreshold > 1 {
		return fmt.Errorf("enrichment.similarity_threshold must be within [0, 1]")
	}
	if len(c.Search.Addresses) == 0 || c.Search.Index == "" {
		return fmt.Errorf("search.addresses and search.index are required")
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	headlessNeeded := false
	for _, def := range c.Definitions() {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("sites: %w", err)
		}
		headlessNeeded = headlessNeeded || def.Adapter == site.AdapterHeadless
	}
	if headlessNeeded && !c.Headless.Enabled {
		return fmt.Errorf("headless.enabled must be true when a site uses the headless adapter")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("lock.backend %q must be memory or redis", c.Lock.Backend)
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
		if c.Database.Migrate && c.Database.EntriesTable != "" && c.Database.EntriesTable != "entries" {
			return fmt.Errorf("database.entries_table must be \"entries\" when database.migrate is enabled")
		}
	default:
		return fmt.Errorf("database.backend %q must be memory or postgres", c.Database.Backend)
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		p := c.Queue.PubSub
		if p.ProjectID == "" || p.Topic == "" || p.Subscription == "" {
			return fmt.Errorf("queue.pubsub project_id, topic and subscription are required")
		}
	default:
		return fmt.Errorf("queue.backend %q must be memory or pubsub", c.Queue.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory, local or gcs", c.Storage.Backend)
	}
	return nil
}

// Policies returns the validated timeout policy of every task.
func (c Config) Policies() (map[crawler.TaskName]crawler.TaskPolicy, error) {
	out := make(map[crawler.TaskName]crawler.TaskPolicy, len(defaultTasks))
	for _, task := range append([]crawler.TaskName{crawler.TaskCrawl}, crawler.EnrichmentTasks...) {
		tc, ok := c.Tasks[string(task)]
		if !ok {
			return nil, fmt.Errorf("tasks.%s is not configured", task)
		}
		policy := crawler.TaskPolicy{
			Soft:  time.Duration(tc.SoftSeconds) * time.Second,
			Hard:  time.Duration(tc.HardSeconds) * time.Second,
			Lease: time.Duration(tc.LeaseSeconds) * time.Second,
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("tasks.%s: %w", task, err)
		}
		out[task] = policy
	}
	return out, nil
}

// Leases maps each task to its lock lease. It assumes a validated config.
func (c Config) Leases() map[crawler.TaskName]time.Duration {
	policies, err := c.Policies()
	if err != nil {
		return nil
	}
	out := make(map[crawler.TaskName]time.Duration, len(policies))
	for task, p := range policies {
		out[task] = p.Lease
	}
	return out
}

// Definitions converts the configured sites.
func (c Config) Definitions() []site.Definition {
	out := make([]site.Definition, 0, len(c.Sites))
	for _, s := range c.Sites {
		adapter := site.Adapter(s.Adapter)
		if adapter == "" {
			adapter = site.AdapterSelector
		}
		out = append(out, site.Definition{
			SiteURL:  strings.TrimRight(s.URL, "/"),
			Sections: s.Sections,
			Adapter:  adapter,
			PageURL:  s.PageURL,
			Selectors: site.Selectors{
				Item:     s.Selectors.Item,
				Link:     s.Selectors.Link,
				Date:     s.Selectors.Date,
				LastPage: s.Selectors.LastPage,
				Title:    s.Selectors.Title,
				Content:  s.Selectors.Content,
			},
			DateLayouts: s.DateLayouts,
			Locale:      s.Locale,
			Timezone:    s.Timezone,
		})
	}
	return out
}

// RequestTimeout is the per-request timeout of outbound fetches.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Worker.RequestTimeoutSeconds) * time.Second
}

// NavTimeout is the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// ConnLifetime is the maximum lifetime of a pooled database connection.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.Database.ConnLifetimeSeconds) * time.Second
}
