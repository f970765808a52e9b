package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var v = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Database struct {
		Type               string        `mapstructure:"TYPE"`
		Host               string        `mapstructure:"HOST"`
		Port               string        `mapstructure:"PORT"`
		DBNAME             string        `mapstructure:"DBNAME"`
		User               string        `mapstructure:"USER"`
		Password           string        `mapstructure:"PASSWORD"`
		SSLMode            string        `mapstructure:"SSLMODE"`
		Timezone           string        `mapstructure:"TIMEZONE"`
		SlowQueryThreshold time.Duration `mapstructure:"SLOW_QUERY_THRESHOLD"`
		Otel               bool          `mapstructure:"OTEL"`
		Metrics            bool          `mapstructure:"METRICS"`
		ConnectionPool     struct {
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

	Chain struct {
		RPCURL          string        `mapstructure:"RPC_URL"`
		ChainID         int64         `mapstructure:"CHAIN_ID"`
		RegistryAddress string        `mapstructure:"REGISTRY_ADDRESS"`
		TokenAddress    string        `mapstructure:"TOKEN_ADDRESS"`
		SignerKey       string        `mapstructure:"SIGNER_KEY"`
		GasLimit        uint64        `mapstructure:"GAS_LIMIT"`
		SubmitTimeout   time.Duration `mapstructure:"SUBMIT_TIMEOUT"`
	} `mapstructure:"CHAIN"`

	Settlement struct {
		Interval       time.Duration `mapstructure:"INTERVAL"`
		Debounce       time.Duration `mapstructure:"DEBOUNCE"`
		BatchSize      int           `mapstructure:"BATCH_SIZE"`
		MaxRetries     int           `mapstructure:"MAX_RETRIES"`
		FastPathBuffer int           `mapstructure:"FAST_PATH_BUFFER"`
	} `mapstructure:"SETTLEMENT"`

	Rewards struct {
		ConfigTTL time.Duration `mapstructure:"CONFIG_TTL"`
	} `mapstructure:"REWARDS"`

	Stats struct {
		TTL         time.Duration `mapstructure:"TTL"`
		StaleTTL    time.Duration `mapstructure:"STALE_TTL"`
		ReadTimeout time.Duration `mapstructure:"READ_TIMEOUT"`
	} `mapstructure:"STATS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Database.SlowQueryThreshold <= 0 {
		cfg.Database.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.Settlement.Interval <= 0 {
		cfg.Settlement.Interval = 5 * time.Minute
	}
	if cfg.Settlement.Debounce <= 0 {
		cfg.Settlement.Debounce = 30 * time.Second
	}
	if cfg.Settlement.BatchSize <= 0 {
		cfg.Settlement.BatchSize = 50
	}
	if cfg.Settlement.MaxRetries <= 0 {
		cfg.Settlement.MaxRetries = 3
	}
	if cfg.Settlement.FastPathBuffer <= 0 {
		cfg.Settlement.FastPathBuffer = 256
	}
	if cfg.Rewards.ConfigTTL <= 0 {
		cfg.Rewards.ConfigTTL = time.Minute
	}
	if cfg.Stats.TTL <= 0 {
		cfg.Stats.TTL = 5 * time.Minute
	}
	if cfg.Stats.StaleTTL <= 0 {
		cfg.Stats.StaleTTL = time.Hour
	}
	if cfg.Stats.ReadTimeout <= 0 {
		cfg.Stats.ReadTimeout = 3 * time.Second
	}
	if cfg.Chain.GasLimit == 0 {
		cfg.Chain.GasLimit = 300000
	}
	if cfg.Chain.SubmitTimeout <= 0 {
		cfg.Chain.SubmitTimeout = 15 * time.Second
	}
}
