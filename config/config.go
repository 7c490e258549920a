package config

import (
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/llmproxy/credpool/internal/credential"
	"github.com/llmproxy/credpool/internal/pool"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type VerifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Interval string `mapstructure:"interval"`
}

// PoolSettings carries the operator-tunable scheduling knobs in their wire
// form; PoolConfig converts them into a validated pool.Config snapshot.
type PoolSettings struct {
	Mode            string            `mapstructure:"mode"`
	ErrorRetryCount int               `mapstructure:"error_retry_count"`
	DayResetHour    int               `mapstructure:"day_reset_hour"`
	ForceDonate     bool              `mapstructure:"force_donate"`
	LockDonate      bool              `mapstructure:"lock_donate"`
	NoCredQuota     map[string]int64  `mapstructure:"no_cred_quota"`
	UploadReward    map[string]int64  `mapstructure:"upload_reward"`
	Cooldown        map[string]string `mapstructure:"cooldown"`
	BaseRPM         map[string]int    `mapstructure:"base_rpm"`
	ContributorRPM  map[string]int    `mapstructure:"contributor_rpm"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Verify  VerifyConfig  `mapstructure:"verify"`
	Pool    PoolSettings  `mapstructure:"pool"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("storage.driver", StorageSQLite)
	viper.SetDefault("storage.path", "./data/credpool.db")
	viper.SetDefault("verify.enabled", false)
	viper.SetDefault("verify.interval", "5m")
	viper.SetDefault("pool.mode", string(pool.ModePrivate))
	viper.SetDefault("pool.error_retry_count", 1)
	viper.SetDefault("pool.day_reset_hour", 7)
	viper.SetDefault("pool.force_donate", false)
	viper.SetDefault("pool.lock_donate", false)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Storage,
			validation.Required,
			validation.By(func(value interface{}) error {
				st, ok := value.(StorageConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StorageConfig")
				}
				return validation.ValidateStruct(&st,
					validation.Field(&st.Driver,
						validation.Required,
						validation.In(StorageMemory, StorageSQLite),
					),
					validation.Field(&st.Path,
						validation.Required.When(st.Driver == StorageSQLite),
					),
				)
			}),
		),
		validation.Field(&c.Verify,
			validation.By(func(value interface{}) error {
				vc, ok := value.(VerifyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a VerifyConfig")
				}
				if !vc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&vc,
					validation.Field(&vc.Endpoint,
						validation.Required,
						is.URL,
					),
					validation.Field(&vc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Pool,
			validation.Required,
			validation.By(func(value interface{}) error {
				ps, ok := value.(PoolSettings)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PoolSettings")
				}
				return validation.ValidateStruct(&ps,
					validation.Field(&ps.Mode,
						validation.Required,
						validation.In(
							string(pool.ModePrivate),
							string(pool.ModeTier3Shared),
							string(pool.ModeFullShared),
						),
					),
					validation.Field(&ps.ErrorRetryCount,
						validation.Min(0),
					),
					validation.Field(&ps.DayResetHour,
						validation.Min(0),
						validation.Max(23),
					),
					validation.Field(&ps.Cooldown,
						validation.By(validateDurationMap),
					),
				)
			}),
		),
	)
}

// PoolConfig converts the wire-form pool settings into a runtime snapshot.
// Map keys name model groups or providers and must be known.
func (c *Config) PoolConfig() (pool.Config, error) {
	out := pool.Config{
		Mode:            pool.Mode(c.Pool.Mode),
		ErrorRetryCount: c.Pool.ErrorRetryCount,
		DayResetHour:    c.Pool.DayResetHour,
		ForceDonate:     c.Pool.ForceDonate,
		LockDonate:      c.Pool.LockDonate,
		NoCredQuota:     make(map[credential.ModelGroup]int64, len(c.Pool.NoCredQuota)),
		UploadReward:    make(map[credential.ModelGroup]int64, len(c.Pool.UploadReward)),
		Cooldown:        make(map[credential.ModelGroup]time.Duration, len(c.Pool.Cooldown)),
		BaseRPM:         make(map[credential.Provider]int, len(c.Pool.BaseRPM)),
		ContributorRPM:  make(map[credential.Provider]int, len(c.Pool.ContributorRPM)),
	}

	for name, v := range c.Pool.NoCredQuota {
		g := credential.ModelGroup(name)
		if !g.Valid() {
			return pool.Config{}, validation.NewError("validation_unknown_group", "unknown model group "+name)
		}
		out.NoCredQuota[g] = v
	}

	for name, v := range c.Pool.UploadReward {
		g := credential.ModelGroup(name)
		if !g.Valid() {
			return pool.Config{}, validation.NewError("validation_unknown_group", "unknown model group "+name)
		}
		out.UploadReward[g] = v
	}

	for name, v := range c.Pool.Cooldown {
		g := credential.ModelGroup(name)
		if !g.Valid() {
			return pool.Config{}, validation.NewError("validation_unknown_group", "unknown model group "+name)
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return pool.Config{}, validation.NewError("validation_invalid_duration", "invalid cooldown for "+name)
		}
		out.Cooldown[g] = d
	}

	for name, v := range c.Pool.BaseRPM {
		p := credential.Provider(name)
		if !p.Valid() {
			return pool.Config{}, validation.NewError("validation_unknown_provider", "unknown provider "+name)
		}
		out.BaseRPM[p] = v
	}

	for name, v := range c.Pool.ContributorRPM {
		p := credential.Provider(name)
		if !p.Valid() {
			return pool.Config{}, validation.NewError("validation_unknown_provider", "unknown provider "+name)
		}
		out.ContributorRPM[p] = v
	}

	if err := out.Validate(); err != nil {
		return pool.Config{}, err
	}

	return out, nil
}

// VerifyInterval parses the configured probe interval.
func (c *Config) VerifyInterval() (time.Duration, error) {
	return time.ParseDuration(c.Verify.Interval)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateDurationMap(value interface{}) error {
	m, ok := value.(map[string]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration map")
	}

	for name, v := range m {
		if _, err := time.ParseDuration(v); err != nil {
			return validation.NewError("validation_invalid_duration", "invalid duration for "+name)
		}
	}

	return nil
}
