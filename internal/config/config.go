package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "TENDERCRM"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	BucketReports string
	UseSSL        bool
	Region        string
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
}

// BootstrapConfig describes the configured administrator that can log in
// without a user row.
type BootstrapConfig struct {
	Enabled  bool
	Email    string
	Password string
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

type QueueConfig struct {
	ClaimInterval time.Duration
	MinIdle       time.Duration
}

type JobsConfig struct {
	SessionReportSpec string
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Store            StoreConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Bootstrap        BootstrapConfig
	RateLimit        RateLimitConfig
	Queues           QueueConfig
	Jobs             JobsConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Bootstrap.Email = strings.ToLower(strings.TrimSpace(cfg.Bootstrap.Email))

	return &cfg, nil
}

// Validate reports every problem that must stop the process from starting.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres store"))
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlitepath is required for the sqlite store"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if err := c.ValidateSecrets(); err != nil {
		errs = append(errs, err)
	}

	if c.Bootstrap.Enabled {
		if c.Bootstrap.Email == "" || !strings.Contains(c.Bootstrap.Email, "@") {
			errs = append(errs, errors.New("bootstrap.email must be a valid address when bootstrap is enabled"))
		}
		if c.Bootstrap.Password == "" {
			errs = append(errs, errors.New("bootstrap.password is required when bootstrap is enabled"))
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			errs = append(errs, errors.New("ratelimit.requests must be positive"))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("ratelimit.window must be positive"))
		}
	}

	return errors.Join(errs...)
}

func (c *AppConfig) ValidateSecrets() error {
	switch {
	case c.Security.JWTAccessSecret == "" || c.Security.JWTRefreshSecret == "":
		return errors.New("security.jwtaccesssecret and security.jwtrefreshsecret are required")
	case c.Security.JWTAccessSecret == c.Security.JWTRefreshSecret:
		return errors.New("access and refresh secrets must differ")
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"security.jwtaccesssecret":  {envPrefix + "_SECURITY_JWTACCESSSECRET", "JWT_ACCESS_SECRET"},
		"security.jwtrefreshsecret": {envPrefix + "_SECURITY_JWTREFRESHSECRET", "JWT_REFRESH_SECRET"},
		"bootstrap.password":        {envPrefix + "_BOOTSTRAP_PASSWORD"},
		"postgres.dsn":              {envPrefix + "_POSTGRES_DSN", "DATABASE_URL"},
		"redis.password":            {envPrefix + "_REDIS_PASSWORD"},
		"storage.accesskey":         {envPrefix + "_STORAGE_ACCESSKEY"},
		"storage.secretkey":         {envPrefix + "_STORAGE_SECRETKEY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3001)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("store.driver", StoreDriverSQLite)
	v.SetDefault("store.sqlitepath", "data/tendercrm.db")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "auth:events")
	v.SetDefault("redis.group", "auth-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucketreports", "tendercrm-reports")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("bootstrap.enabled", false)
	v.SetDefault("bootstrap.email", "")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("queues.claiminterval", "10s")
	v.SetDefault("queues.minidle", "2m")

	v.SetDefault("jobs.sessionreportspec", "0 0 0 * * *")

	v.SetDefault("logging.level", "info")

	v.SetDefault("allowcorsorigins", []string{"http://localhost:5173"})
}
