// Package config 定义服务核心的配置结构，支持 YAML 文件、环境变量覆盖与校验。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrTTLOrder 表示 TTL 不满足 list_ttl > compat_ttl > profile_ttl。
var ErrTTLOrder = errors.New("config: cache ttls must satisfy list_ttl > compat_ttl > profile_ttl")

// Config 是服务核心的完整配置。
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	ProfileStore ProfileStoreConfig `yaml:"profile_store"`
	Feast        FeastConfig        `yaml:"feast"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Ranker       RankerConfig       `yaml:"ranker"`
	Precompute   PrecomputeConfig   `yaml:"precompute"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// CacheConfig 是缓存层配置。
// 三种 TTL 的顺序由 Validate 保证：排序结果 > 匹配度 > 画像。
type CacheConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis tiered"`
	ProfileTTL    time.Duration `yaml:"profile_ttl" validate:"gt=0"`
	CompatTTL     time.Duration `yaml:"compat_ttl" validate:"gt=0"`
	ListTTL       time.Duration `yaml:"list_ttl" validate:"gt=0"`
	LocalCapacity int           `yaml:"local_capacity" validate:"gte=0"`
	LocalTTL      time.Duration `yaml:"local_ttl" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size" validate:"gte=0"`
	Enabled  bool   `yaml:"-"`
}

// ProfileStoreConfig 是画像存储配置。连接池上下限对应 max_open_conns / max_idle_conns。
type ProfileStoreConfig struct {
	Driver         string        `yaml:"driver" validate:"oneof=memory postgres feast"`
	DSN            string        `yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns   int           `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns   int           `yaml:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
	ActiveWindow   time.Duration `yaml:"active_window" validate:"gt=0"`
}

type FeastConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port" validate:"gte=0,lte=65535"`
	Project     string `yaml:"project"`
	FeatureView string `yaml:"feature_view"`
	Entity      string `yaml:"entity"`
}

type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio" validate:"gte=0,lte=1"`
}

type ScoringConfig struct {
	Model       string        `yaml:"model" validate:"oneof=hybrid lr rpc"`
	Symmetry    string        `yaml:"symmetry" validate:"oneof=trust average"`
	RPCEndpoint string        `yaml:"rpc_endpoint" validate:"required_if=Model rpc"`
	RPCTimeout  time.Duration `yaml:"rpc_timeout" validate:"gte=0"`
	LRWeights   string        `yaml:"lr_weights" validate:"required_if=Model lr"`
}

type RankerConfig struct {
	MaxCandidates    int           `yaml:"max_candidates" validate:"gte=1"`
	Concurrency      int           `yaml:"concurrency" validate:"gte=1"`
	RetainedLength   int           `yaml:"retained_length" validate:"gte=1"`
	DefaultTopK      int           `yaml:"default_top_k" validate:"gte=1"`
	CandidateTimeout time.Duration `yaml:"candidate_timeout" validate:"gte=0"`
}

type PrecomputeConfig struct {
	TopK       int           `yaml:"top_k" validate:"gte=1"`
	BatchDelay time.Duration `yaml:"batch_delay" validate:"gte=0"`
	QueueSize  int           `yaml:"queue_size" validate:"gte=1"`
	History    int           `yaml:"history" validate:"gte=1"`
}

// Default 返回一份可直接使用的配置（内存缓存 + 内存画像存储 + hybrid 模型）。
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Cache: CacheConfig{
			Backend:       "memory",
			ProfileTTL:    time.Hour,
			CompatTTL:     2 * time.Hour,
			ListTTL:       6 * time.Hour,
			LocalCapacity: 100000,
			LocalTTL:      time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 20},
		ProfileStore: ProfileStoreConfig{
			Driver:         "memory",
			MaxOpenConns:   20,
			MaxIdleConns:   1,
			AcquireTimeout: 200 * time.Millisecond,
			ActiveWindow:   7 * 24 * time.Hour,
		},
		Feast: FeastConfig{
			Host:        "localhost",
			Port:        6565,
			Project:     "planted",
			FeatureView: "user_profile",
			Entity:      "user_id",
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
		Scoring: ScoringConfig{
			Model:      "hybrid",
			Symmetry:   "trust",
			RPCTimeout: 50 * time.Millisecond,
		},
		Ranker: RankerConfig{
			MaxCandidates:    1000,
			Concurrency:      16,
			RetainedLength:   50,
			DefaultTopK:      10,
			CandidateTimeout: 80 * time.Millisecond,
		},
		Precompute: PrecomputeConfig{
			TopK:       50,
			BatchDelay: 100 * time.Millisecond,
			QueueSize:  128,
			History:    256,
		},
	}
}

// Load 从 YAML 文件加载配置：未出现的字段保留默认值，随后应用环境变量并校验。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(data)
}

// Parse 从 YAML 内容解析配置，语义同 Load。
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// 环境变量覆盖
const (
	EnvRedisAddr   = "MATCH_REDIS_ADDR"
	EnvPostgresDSN = "MATCH_POSTGRES_DSN"
	EnvLogLevel    = "MATCH_LOG_LEVEL"
	EnvConcurrency = "MATCH_RANKER_CONCURRENCY"
)

// ApplyEnv 用环境变量覆盖部分字段（部署时常用的连接串与并发度）。
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.ProfileStore.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvConcurrency, err)
		}
		c.Ranker.Concurrency = n
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验字段取值与 TTL 顺序。
func (c *Config) Validate() error {
	c.Redis.Enabled = c.Cache.Backend != "memory"
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.Cache.CheckTTLOrder()
}

// CheckTTLOrder 检查 list_ttl > compat_ttl > profile_ttl。
func (c CacheConfig) CheckTTLOrder() error {
	if c.ListTTL > c.CompatTTL && c.CompatTTL > c.ProfileTTL {
		return nil
	}
	return fmt.Errorf("%w (profile=%s compat=%s list=%s)", ErrTTLOrder, c.ProfileTTL, c.CompatTTL, c.ListTTL)
}
