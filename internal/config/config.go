package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPath 指定配置文件路径的环境变量。
	EnvPath = "AWE_CONFIG"
	// DefaultPath 是未设置环境变量时使用的配置文件。
	DefaultPath = "configs/awe.yaml"
)

// Config 描述 awed 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Lock     LockConfig     `json:"lock" yaml:"lock" toml:"lock"`
	Events   EventsConfig   `json:"events" yaml:"events" toml:"events"`
	Program  ProgramConfig  `json:"program" yaml:"program" toml:"program"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" toml:"logging"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting" toml:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime" toml:"runtime"`
}

// ServerConfig 控制 HTTP API。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address" toml:"address"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address" toml:"metrics_address"`
	// AirdropLimit 为单次空投的 lamports 上限，0 表示关闭空投接口。
	AirdropLimit uint64 `json:"airdrop_limit" yaml:"airdrop_limit" toml:"airdrop_limit"`
}

// StorageConfig 描述账本存储。
type StorageConfig struct {
	Ledger LedgerConfig `json:"ledger" yaml:"ledger" toml:"ledger"`
}

// LedgerConfig 支持 memory 与 mysql 两种驱动。
type LedgerConfig struct {
	Driver          string   `json:"driver" yaml:"driver" toml:"driver"`
	DSN             string   `json:"dsn" yaml:"dsn" toml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" toml:"conn_max_idle_time"`
}

// LockConfig 选择账户锁实现：memory 或 redis。
type LockConfig struct {
	Driver  string      `json:"driver" yaml:"driver" toml:"driver"`
	Timeout Duration    `json:"timeout" yaml:"timeout" toml:"timeout"`
	Redis   RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// RedisConfig 描述分布式锁使用的 Redis。
type RedisConfig struct {
	Address       string   `json:"address" yaml:"address" toml:"address"`
	Password      string   `json:"password" yaml:"password" toml:"password"`
	DB            int      `json:"db" yaml:"db" toml:"db"`
	Prefix        string   `json:"prefix" yaml:"prefix" toml:"prefix"`
	TTL           Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
	RetryInterval Duration `json:"retry_interval" yaml:"retry_interval" toml:"retry_interval"`
}

// EventsConfig 选择事件驱动：memory、rabbitmq 或 none。
// AuditTrail 开启后 awed 自身消费事件流并写入审计日志；
// rabbitmq 驱动下它与其他消费者竞争同一队列，应配合专用队列使用。
type EventsConfig struct {
	Driver     string         `json:"driver" yaml:"driver" toml:"driver"`
	History    int            `json:"history" yaml:"history" toml:"history"`
	AuditTrail bool           `json:"audit_trail" yaml:"audit_trail" toml:"audit_trail"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" toml:"rabbitmq"`
}

// RabbitMQConfig 描述事件队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url" toml:"url"`
	Queue      string `json:"queue" yaml:"queue" toml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch" toml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable" toml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete" toml:"auto_delete"`
}

// ProgramConfig 控制 awe 程序的可选行为。
type ProgramConfig struct {
	// OverflowPolicy 为 reject（默认）或 wrap。
	OverflowPolicy string `json:"overflow_policy" yaml:"overflow_policy" toml:"overflow_policy"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level     string      `json:"level" yaml:"level" toml:"level"`
	Format    string      `json:"format" yaml:"format" toml:"format"`
	Outputs   []string    `json:"outputs" yaml:"outputs" toml:"outputs"`
	AddSource bool        `json:"add_source" yaml:"add_source" toml:"add_source"`
	Audit     AuditConfig `json:"audit" yaml:"audit" toml:"audit"`
}

// AuditConfig 控制交易审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path       string `json:"path" yaml:"path" toml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

// AlertingConfig 配置交易失败告警。
type AlertingConfig struct {
	// MinSeverity 为 info、warning 或 critical（默认）。
	MinSeverity string          `json:"min_severity" yaml:"min_severity" toml:"min_severity"`
	Webhooks    []WebhookConfig `json:"webhooks" yaml:"webhooks" toml:"webhooks"`
}

// WebhookConfig 描述一个告警回调。Channel 为 slack、dingtalk 或 webhook。
type WebhookConfig struct {
	Channel string `json:"channel" yaml:"channel" toml:"channel"`
	URL     string `json:"url" yaml:"url" toml:"url"`
}

// RuntimeConfig 放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir      string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	MaxCallDepth int    `json:"max_call_depth" yaml:"max_call_depth" toml:"max_call_depth"`
}

// Duration 支持以 "30s" 形式书写的时长。
type Duration time.Duration

// Std 转换为 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText 实现 encoding.TextMarshaler。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("无效的时长 %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Path 返回 AWE_CONFIG 指定的路径，未设置时返回 DefaultPath。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Default 返回全部使用默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Load 按扩展名解析 JSON、YAML 或 TOML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	case ".toml":
		err = toml.Unmarshal(content, &cfg)
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = Duration(5 * time.Second)
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.History <= 0 {
		c.Events.History = 256
	}

	if c.Program.OverflowPolicy == "" {
		c.Program.OverflowPolicy = "reject"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.MaxCallDepth <= 0 {
		c.Runtime.MaxCallDepth = 4
	}

	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}
}

// Validate 检查枚举字段与驱动所需的连接信息。
func (c *Config) Validate() error {
	switch c.Storage.Ledger.Driver {
	case "memory":
	case "mysql":
		if c.Storage.Ledger.DSN == "" {
			return errors.New("mysql 账本需要配置 storage.ledger.dsn")
		}
	default:
		return fmt.Errorf("不支持的账本驱动: %s", c.Storage.Ledger.Driver)
	}

	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if c.Lock.Redis.Address == "" {
			return errors.New("redis 锁需要配置 lock.redis.address")
		}
	default:
		return fmt.Errorf("不支持的锁驱动: %s", c.Lock.Driver)
	}

	switch c.Events.Driver {
	case "memory", "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件驱动需要配置 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}

	for i, hook := range c.Alerting.Webhooks {
		switch hook.Channel {
		case "slack", "dingtalk", "webhook":
		default:
			return fmt.Errorf("alerting.webhooks[%d] 渠道不支持: %s", i, hook.Channel)
		}
		if hook.URL == "" {
			return fmt.Errorf("alerting.webhooks[%d] 缺少 url", i)
		}
	}

	switch strings.ToLower(c.Program.OverflowPolicy) {
	case "reject", "wrap":
	default:
		return fmt.Errorf("不支持的计数溢出策略: %s", c.Program.OverflowPolicy)
	}
	return nil
}
