package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// SchedulerConfig holds the scheduler's own process-wide settings (spec §6:
// "scheduler identity defaults to hostname+pid").
type SchedulerConfig struct {
	Identity              string  `mapstructure:"identity"`
	PathPrefix            string  `mapstructure:"path_prefix"`
	WorkerDeviation       float64 `mapstructure:"worker_deviation"`
	TickInterval          int     `mapstructure:"tick_interval_seconds"`
	ForcedRefreshInterval int     `mapstructure:"forced_refresh_interval_seconds"`
	CatalogRefreshInterval int    `mapstructure:"catalog_refresh_interval_seconds"`
}

// EtcdConfig holds the coordination store's connection settings (spec §6's
// ZOO_HOSTS, generalized to an etcd endpoint list).
type EtcdConfig struct {
	Endpoints         []string `mapstructure:"endpoints"`
	DialTimeoutMillis int      `mapstructure:"dial_timeout_ms"`
	SessionTTLSeconds int      `mapstructure:"session_ttl_seconds"`
}

// AdminConfig configures the read-only HTTP/websocket admin surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// Load reads configuration for serviceName from ./configs or /etc/streamfleet,
// layering in SCHED_-prefixed environment variables and sane defaults.
func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/streamfleet")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("SCHED")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(&config)

	if config.Scheduler.Identity == "" {
		config.Scheduler.Identity = defaultIdentity()
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("scheduler.path_prefix", "/streamfleet/processing")
	viper.SetDefault("scheduler.worker_deviation", 0.1)
	viper.SetDefault("scheduler.tick_interval_seconds", 1)
	viper.SetDefault("scheduler.forced_refresh_interval_seconds", 30)
	viper.SetDefault("scheduler.catalog_refresh_interval_seconds", 30)

	viper.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	viper.SetDefault("etcd.dial_timeout_ms", 5000)
	viper.SetDefault("etcd.session_ttl_seconds", 60)

	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.port", 8080)
	viper.SetDefault("admin.host", "0.0.0.0")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "scheduler")
	viper.SetDefault("database.password", "scheduler")
	viper.SetDefault("database.name", "streamfleet")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.consumer_group", "streamfleet-scheduler")
	viper.SetDefault("kafka.topic", "scheduler-events")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	viper.SetDefault("telemetry.service_name", "streamfleet-scheduler")
	viper.SetDefault("telemetry.sampling_rate", 1.0)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
	viper.SetDefault("logger.stacktrace", false)
}

func overrideFromEnv(cfg *Config) {
	if hosts := viper.GetString("ETCD_HOSTS"); hosts != "" {
		cfg.Etcd.Endpoints = strings.Split(hosts, ",")
	}

	if host := viper.GetString("DATABASE_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := viper.GetInt("DATABASE_PORT"); port != 0 {
		cfg.Database.Port = port
	}
	if user := viper.GetString("DATABASE_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := viper.GetString("DATABASE_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := viper.GetString("DATABASE_NAME"); name != "" {
		cfg.Database.Name = name
	}

	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := viper.GetInt("REDIS_PORT"); redisPort != 0 {
		cfg.Redis.Port = redisPort
	}

	if brokers := viper.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if identity := viper.GetString("SCHEDULER_IDENTITY"); identity != "" {
		cfg.Scheduler.Identity = identity
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *EtcdConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMillis) * time.Millisecond
}

func (c *EtcdConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}
