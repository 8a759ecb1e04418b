package config

import (
	"time"

	"vaultgate/pkg/types"
)

// Config 是 viper 反序列化的目标；校验规则由 validator 标签声明
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Hashing  HashingConfig  `mapstructure:"hashing"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Presign  PresignConfig  `mapstructure:"presign"`
	Database DatabaseConfig `mapstructure:"database"`
	Client   ClientConfig   `mapstructure:"client"`

	// ConfigFile 是实际使用的配置文件，空表示只用了默认值和环境变量
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type StorageConfig struct {
	Type            string        `mapstructure:"type" validate:"oneof=disk s3"`
	Path            string        `mapstructure:"path" validate:"required_if=Type disk"`
	Bucket          string        `mapstructure:"bucket" validate:"required_if=Type s3"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	InitAttempts    uint          `mapstructure:"init_attempts" validate:"gte=1"`
	InitBackoff     time.Duration `mapstructure:"init_backoff" validate:"gte=0"`
}

type CacheConfig struct {
	// RedisURL 为空表示关闭缓存
	RedisURL string        `mapstructure:"redis_url" validate:"omitempty,url"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type ScannerConfig struct {
	Mode     string        `mapstructure:"mode" validate:"oneof=clamd command none"`
	Address  string        `mapstructure:"address" validate:"required_if=Mode clamd"`
	Command  string        `mapstructure:"command" validate:"required_if=Mode command"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Required bool          `mapstructure:"required"`
}

type HashingConfig struct {
	Primary string   `mapstructure:"primary" validate:"oneof=sha256 blake3"`
	Extra   []string `mapstructure:"extra" validate:"dive,oneof=sha256 blake3"`
}

type IngestConfig struct {
	MaxBytes   int64  `mapstructure:"max_bytes" validate:"gt=0"`
	SpoolDir   string `mapstructure:"spool_dir"`
	SniffBytes int    `mapstructure:"sniff_bytes" validate:"gt=0"`
	ChunkSize  int    `mapstructure:"chunk_size" validate:"gt=0"`
	QueueDepth int    `mapstructure:"queue_depth" validate:"gt=0"`
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type PresignConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0,lte=168h"`
}

type DatabaseConfig struct {
	// Driver 为空表示不记账
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_with=Driver"`
}

// ClientConfig 只被 vg 命令行使用
type ClientConfig struct {
	Remote  string        `mapstructure:"remote" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Algorithms 返回 primary 在首位的算法集合
func (c HashingConfig) Algorithms() (types.AlgorithmSet, error) {
	primary, err := types.ParseAlgorithm(c.Primary)
	if err != nil {
		return nil, err
	}
	extra := make([]types.Algorithm, 0, len(c.Extra))
	for _, s := range c.Extra {
		a, err := types.ParseAlgorithm(s)
		if err != nil {
			return nil, err
		}
		extra = append(extra, a)
	}
	return types.AlgorithmSet{primary}.With(extra...), nil
}
