package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Database   struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Summarizer struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		Model   string        `mapstructure:"MODEL"`
		ApiKey  string        `mapstructure:"API_KEY"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"SUMMARIZER"`
	Jobs struct {
		DailyHour   int           `mapstructure:"DAILY_HOUR"`
		DailyMinute int           `mapstructure:"DAILY_MINUTE"`
		StaleAfter  time.Duration `mapstructure:"STALE_AFTER"`
		CacheTTL    time.Duration `mapstructure:"CACHE_TTL"`
		Retention   time.Duration `mapstructure:"RETENTION"`
	} `mapstructure:"JOBS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		// env-only deployments run without a config file
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if p.Vault != nil {
		// START - Vault
		client := p.Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
		cfg.Summarizer.ApiKey = get("summarizer_api_key")
		// END - Vault
	}

	configHolder.Store(&cfg)

	config.OnConfigChange(func(e fsnotify.Event) {
		var newcfg Config
		if err := config.Unmarshal(&newcfg); err != nil {
			zap.L().Error("failed to reload config", zap.Error(err))
			return
		}
		configHolder.Store(&newcfg)
		zap.L().Info("config reloaded", zap.String("file", e.Name))
	})
	config.WatchConfig()

	return &cfg
}

// Current returns the latest loaded config, including file-watch reloads.
// The fx-provided *Config stays the boot-time snapshot.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}

// Refresh re-reads the config file and replaces the current snapshot.
func Refresh() (*Config, error) {
	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	configHolder.Store(&cfg)
	return &cfg, nil
}

func setDefaults() {
	config.SetDefault("APP_NAME", "newsbrief")
	config.SetDefault("APP_ENV", "development")
	config.SetDefault("DATABASE.TYPE", "postgres")
	config.SetDefault("DATABASE.SSLMODE", "disable")
	config.SetDefault("DATABASE.TIMEZONE", "UTC")
	config.SetDefault("SUMMARIZER.MODEL", "gpt-4o-mini")
	config.SetDefault("SUMMARIZER.TIMEOUT", "60s")
	config.SetDefault("JOBS.DAILY_HOUR", 6)
	config.SetDefault("JOBS.DAILY_MINUTE", 0)
	config.SetDefault("JOBS.STALE_AFTER", "10m")
	config.SetDefault("JOBS.CACHE_TTL", "12h")
	config.SetDefault("JOBS.RETENTION", "168h")
}
