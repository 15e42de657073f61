package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Match    MatchConfig    `mapstructure:"match"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress   string `mapstructure:"http_address"`
	RPCAddress    string `mapstructure:"rpc_address"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	// Driver 是 postgres 或 memory
	Driver          string         `mapstructure:"driver"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
	MigrationsPath  string         `mapstructure:"migrations_path"`
	AutoMigrate     bool           `mapstructure:"auto_migrate"`
	MaxIdleConns    int            `mapstructure:"max_idle_conns"`
	MaxOpenConns    int            `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn_max_lifetime"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type StorageConfig struct {
	Dir        string `mapstructure:"dir"`
	PublicPath string `mapstructure:"public_path"`
}

type MatchConfig struct {
	HandSize          int           `mapstructure:"hand_size"`
	RoundCount        int           `mapstructure:"round_count"`
	RoundDuration     time.Duration `mapstructure:"round_duration"`
	DisplayDelay      time.Duration `mapstructure:"display_delay"`
	FreeRoundLimit    int           `mapstructure:"free_round_limit"`
	AllowVoteChange   bool          `mapstructure:"allow_vote_change"`
	RejectSelfVote    bool          `mapstructure:"reject_self_vote"`
	Readiness         string        `mapstructure:"readiness"`
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.public_base_url", "http://localhost:8080")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "postgres")
	v.SetDefault("database.postgres.dbname", "picklo")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.migrations_path", "db/migrations")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.dir", "data/blobs")
	v.SetDefault("storage.public_path", "/blobs")

	v.SetDefault("match.hand_size", 10)
	v.SetDefault("match.round_count", 10)
	v.SetDefault("match.round_duration", 60*time.Second)
	v.SetDefault("match.display_delay", 3*time.Second)
	v.SetDefault("match.free_round_limit", 5)
	v.SetDefault("match.allow_vote_change", true)
	v.SetDefault("match.reject_self_vote", true)
	v.SetDefault("match.readiness", "frozen")
	v.SetDefault("match.upload_concurrency", 3)

	v.SetDefault("log.level", "info")
}

// LoadConfig 读取 path 下的 config.yaml；文件不存在时只使用默认值和环境变量。
// 环境变量使用下划线，例如 DATABASE_POSTGRES_HOST。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查明显错误的配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return errors.New("database.driver must be postgres or memory")
	}
	switch c.Match.Readiness {
	case "frozen", "live":
	default:
		return errors.New("match.readiness must be frozen or live")
	}
	if c.Match.HandSize <= 0 || c.Match.RoundCount <= 0 {
		return errors.New("match.hand_size and match.round_count must be positive")
	}
	return nil
}
