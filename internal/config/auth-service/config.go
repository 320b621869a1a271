package auth_service_config

import (
	"time"

	"github.com/NordCoder/sessiongate/internal/obs"
	pg "github.com/NordCoder/sessiongate/internal/repository/postgres"
	rds "github.com/NordCoder/sessiongate/internal/repository/redis"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	MinSecretLen = 32
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig(version string) *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
		Version:     version,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Auth struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
	RefreshTTL   time.Duration `mapstructure:"refresh_ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	CookiePath   string        `mapstructure:"cookie_path"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

type Sweep struct {
	Enable   bool          `mapstructure:"enable"`
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

type Outbox struct {
	Enable        bool          `mapstructure:"enable"`
	Workers       int           `mapstructure:"workers"`
	Batch         int           `mapstructure:"batch"`
	Wait          time.Duration `mapstructure:"wait"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	Attempts      int           `mapstructure:"attempts"`
}

type Kafka struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Partitions  int      `mapstructure:"partitions"`
	Replication int      `mapstructure:"replication"`
}

type Redis struct {
	Enable     bool `mapstructure:"enable"`
	rds.Config `mapstructure:",squash"`
}

type Config struct {
	App    App       `mapstructure:"app"`
	Server Server    `mapstructure:"server"`
	DB     pg.Config `mapstructure:"db"`
	Store  Store     `mapstructure:"store"`
	Auth   Auth      `mapstructure:"auth"`
	Sweep  Sweep     `mapstructure:"sweep"`
	Outbox Outbox    `mapstructure:"outbox"`
	Kafka  Kafka     `mapstructure:"kafka"`
	Redis  Redis     `mapstructure:"redis"`
	OTEL   OTEL      `mapstructure:"otel"`
	Log    Log       `mapstructure:"log"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case len(c.Auth.JWTSecret) < MinSecretLen:
		return ErrConfig("auth.jwt_secret must be at least 32 bytes")
	case c.Auth.AccessTTL <= 0:
		return ErrConfig("auth.access_ttl must be positive")
	case c.Auth.RefreshTTL <= 0:
		return ErrConfig("auth.refresh_ttl must be positive")
	case c.Auth.RefreshTTL <= c.Auth.AccessTTL:
		return ErrConfig("auth.refresh_ttl must be longer than auth.access_ttl")
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			return ErrConfig("db.dsn is required for the postgres driver")
		}
	case DriverMemory:
		if c.Outbox.Enable {
			return ErrConfig("outbox needs the postgres driver")
		}
	default:
		return ErrConfig("store.driver must be postgres or memory")
	}

	if c.Outbox.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return ErrConfig("outbox needs kafka.brokers and kafka.topic")
	}
	if c.Redis.Enable && c.Redis.Addr == "" {
		return ErrConfig("redis.addr is required when redis is enabled")
	}
	return nil
}
