package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "VG"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load 读取配置：默认值 < 配置文件 < 环境变量 (VG_STORAGE_TYPE 等) < 已绑定的命令行参数
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) (*Config, error) {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(".vaultgate")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".vaultgate"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量；嵌套 key 的 "." 映射为 "_"
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	// 只是没找到文件不算错 (可能全部来自环境变量)；文件格式错才是错
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	// 5. 反序列化并校验
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = viper.ConfigFileUsed()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 运行结构体校验，并检查 validator 无法表达的约束
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Hashing.Algorithms(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// 存储默认值
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".vaultgate", "objects"))
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access_key_id", "")
	viper.SetDefault("storage.secret_access_key", "")
	viper.SetDefault("storage.init_attempts", 5)
	viper.SetDefault("storage.init_backoff", "2s")

	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "24h")

	viper.SetDefault("scanner.mode", "clamd")
	viper.SetDefault("scanner.address", "tcp://localhost:3310")
	viper.SetDefault("scanner.command", "clamdscan")
	viper.SetDefault("scanner.timeout", "60s")
	viper.SetDefault("scanner.required", true)

	viper.SetDefault("hashing.primary", "sha256")
	viper.SetDefault("hashing.extra", []string{})

	viper.SetDefault("ingest.max_bytes", int64(1<<30))
	viper.SetDefault("ingest.spool_dir", "")
	viper.SetDefault("ingest.sniff_bytes", 3072)
	viper.SetDefault("ingest.chunk_size", 32*1024)
	viper.SetDefault("ingest.queue_depth", 4)

	viper.SetDefault("fetch.timeout", "30s")
	viper.SetDefault("presign.ttl", "15m")

	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.dsn", "")

	viper.SetDefault("client.remote", "localhost:8080")
	viper.SetDefault("client.timeout", "10m")
}
