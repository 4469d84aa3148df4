// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Archiver ArchiverConfig `mapstructure:"archiver"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ArchiverConfig holds the scheduler options and the archive layout.
type ArchiverConfig struct {
	BaseDir             string `mapstructure:"base_dir"`
	Workers             int    `mapstructure:"workers"`
	UseSSL              bool   `mapstructure:"use_ssl"`
	Silent              bool   `mapstructure:"silent"`
	ThumbsOnly          bool   `mapstructure:"thumbs_only"`
	SkipThumbs          bool   `mapstructure:"skip_thumbs"`
	SkipCSS             bool   `mapstructure:"skip_css"`
	SkipJS              bool   `mapstructure:"skip_js"`
	FollowChildThreads  bool   `mapstructure:"follow_child_threads"`
	FollowToOtherBoards bool   `mapstructure:"follow_to_other_boards"`
	RunOnce             bool   `mapstructure:"run_once"`
	ThreadCheckDelaySec int    `mapstructure:"thread_check_delay_seconds"`
}

// HTTPConfig configures outbound requests to the boards.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
}

// ServerConfig controls the HTTP control API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls the optional thread event store. An empty DSN disables it.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	StatusTable string `mapstructure:"status_table"`
}

// PubSubConfig holds metadata for status notifications. Both fields empty
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the status event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
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
	v.SetDefault("archiver.base_dir", "archive")
	v.SetDefault("archiver.workers", 4)
	v.SetDefault("archiver.use_ssl", true)
	v.SetDefault("archiver.silent", false)
	v.SetDefault("archiver.thumbs_only", false)
	v.SetDefault("archiver.skip_thumbs", false)
	v.SetDefault("archiver.skip_css", false)
	v.SetDefault("archiver.skip_js", false)
	v.SetDefault("archiver.follow_child_threads", false)
	v.SetDefault("archiver.follow_to_other_boards", false)
	v.SetDefault("archiver.run_once", false)
	v.SetDefault("archiver.thread_check_delay_seconds", 20)
	v.SetDefault("http.user_agent", "board-archiver/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.per_host_rps", 2.0)
	v.SetDefault("http.per_host_burst", 4)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.table", "thread_events")
	v.SetDefault("db.status_table", "thread_status")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 200)
	v.SetDefault("progress.max_batch_wait_ms", 1000)
	v.SetDefault("progress.sink_timeout_ms", 2000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Archiver.BaseDir) == "" {
		return fmt.Errorf("archiver.base_dir must be set")
	}
	if c.Archiver.Workers <= 0 {
		return fmt.Errorf("archiver.workers must be > 0")
	}
	if c.Archiver.ThreadCheckDelaySec <= 0 {
		return fmt.Errorf("archiver.thread_check_delay_seconds must be > 0")
	}
	if c.Archiver.ThumbsOnly && c.Archiver.SkipThumbs {
		return fmt.Errorf("archiver.thumbs_only and archiver.skip_thumbs are mutually exclusive")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PerHostRPS < 0 {
		return fmt.Errorf("http.per_host_rps must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.DB.DSN != "" && (strings.TrimSpace(c.DB.Table) == "" || strings.TrimSpace(c.DB.StatusTable) == "") {
		return fmt.Errorf("db.table and db.status_table must be set when db.dsn is set")
	}
	return nil
}

// Options converts the archiver section into scheduler options.
func (c Config) Options() archiver.Options {
	a := c.Archiver
	return archiver.Options{
		UseSSL:              a.UseSSL,
		Silent:              a.Silent,
		ThumbsOnly:          a.ThumbsOnly,
		SkipThumbs:          a.SkipThumbs,
		SkipCSS:             a.SkipCSS,
		SkipJS:              a.SkipJS,
		FollowChildThreads:  a.FollowChildThreads,
		FollowToOtherBoards: a.FollowToOtherBoards,
		RunOnce:             a.RunOnce,
		ThreadCheckDelay:    time.Duration(a.ThreadCheckDelaySec) * time.Second,
	}
}

// HTTPTimeout returns the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
