package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the service.
type Config struct {
	Service struct {
		Name        string `mapstructure:"name"`
		Version     string `mapstructure:"version"`
		Environment string `mapstructure:"environment"`
		LogLevel    string `mapstructure:"log_level"`
	} `mapstructure:"service"`

	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		CORSOrigins     []string      `mapstructure:"cors_origins"`
		// RateLimit is requests per second per client IP; 0 disables limiting.
		RateLimit       float64       `mapstructure:"rate_limit"`
		RateBurst       int           `mapstructure:"rate_burst"`
	} `mapstructure:"server"`

	GRPC struct {
		Port       int  `mapstructure:"port"`
		Reflection bool `mapstructure:"reflection"`
	} `mapstructure:"grpc"`

	// Store selects the persistence backend: "postgres" or "memory".
	Store struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"store"`

	Database struct {
		Host        string        `mapstructure:"host"`
		Port        int           `mapstructure:"port"`
		User        string        `mapstructure:"user"`
		Password    string        `mapstructure:"password"`
		Database    string        `mapstructure:"database"`
		SSLMode     string        `mapstructure:"sslmode"`
		MaxConns    int32         `mapstructure:"max_conns"`
		MinConns    int32         `mapstructure:"min_conns"`
		MaxConnTime time.Duration `mapstructure:"max_conn_time"`
		MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
		HealthCheck time.Duration `mapstructure:"health_check"`
		AutoMigrate bool          `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`

	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Output  string `mapstructure:"output"`
	} `mapstructure:"tracing"`

	Authz struct {
		// Mode is "static" (assignments below) or "grpc" (identity service).
		Mode         string           `mapstructure:"mode"`
		IdentityAddr string           `mapstructure:"identity_addr"`
		AdminRole    string           `mapstructure:"admin_role"`
		Assignments  []RoleAssignment `mapstructure:"assignments"`
	} `mapstructure:"authz"`
}

// RoleAssignment grants roles to a user within one company. Only used by the
// static authorization gate.
type RoleAssignment struct {
	UserID    string   `mapstructure:"user_id"`
	CompanyID string   `mapstructure:"company_id"`
	Roles     []string `mapstructure:"roles"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-qms-documents")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("grpc.port", 9086)
	v.SetDefault("grpc.reflection", true)

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "qms_documents")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "qms.documents")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")

	v.SetDefault("authz.mode", "static")
	v.SetDefault("authz.identity_addr", "localhost:9081")
	v.SetDefault("authz.admin_role", "document_admin")
}

// Load reads configuration from the given file (or config.yaml in the
// working directory and ./config when path is empty) and the environment.
// Environment variables use the QMS_ prefix, e.g. QMS_DATABASE_HOST.
// A missing config file is not an error; every key has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("QMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	switch c.Authz.Mode {
	case "static", "grpc":
	default:
		return fmt.Errorf("authz.mode must be static or grpc, got %q", c.Authz.Mode)
	}
	if c.Authz.AdminRole == "" {
		return fmt.Errorf("authz.admin_role is required")
	}
	return nil
}

// DatabaseURL renders the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Database, c.Database.SSLMode)
}
