// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	IPLookup IPLookupConfig `mapstructure:"ip_lookup"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 元数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig 存储变更事件流相关的 Kafka 配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// IPLookupConfig 存储外部公网 IP 查询服务的配置。
type IPLookupConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	PrefixSegments int    `mapstructure:"prefix_segments"`
}

// LimitsConfig 存储共享空间的配额限制。
// 这些值同时被上传校验、过期清理和 /limits 接口使用，保证各处口径一致。
type LimitsConfig struct {
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`
	MaxFilesPerScope int   `mapstructure:"max_files_per_scope"`
	MaxTextLength    int   `mapstructure:"max_text_length"`
	RetentionDays    int   `mapstructure:"retention_days"`
	ListLimit        int   `mapstructure:"list_limit"`
}

// RetentionWindow 返回过期保留窗口对应的时长。
func (l LimitsConfig) RetentionWindow() time.Duration {
	return time.Duration(l.RetentionDays) * 24 * time.Hour
}

// SweeperConfig 存储过期清理任务的配置。
// Timezone 必须是一个 IANA 时区名，写入方与清理方用同一基准计算过期时间。
type SweeperConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setDefaults 设置配额与清理相关的默认值，配置文件可覆盖。
func setDefaults() {
	viper.SetDefault("limits.max_file_size_bytes", 50*1024*1024)
	viper.SetDefault("limits.max_files_per_scope", 20)
	viper.SetDefault("limits.max_text_length", 5000)
	viper.SetDefault("limits.retention_days", 2)
	viper.SetDefault("limits.list_limit", 50)
	viper.SetDefault("ip_lookup.timeout_seconds", 5)
	viper.SetDefault("ip_lookup.max_attempts", 3)
	viper.SetDefault("ip_lookup.prefix_segments", 3)
	viper.SetDefault("sweeper.timezone", "UTC")
	viper.SetDefault("kafka.group_id", "bridgespace-notifier")
}
