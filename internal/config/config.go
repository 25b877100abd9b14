package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Client   ClientConfig   `yaml:"client"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
}

// ClientConfig configures the session core talking to the backend.
type ClientConfig struct {
	BaseURL string `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080/api"`
	// RefreshLead is how long before expiry the access token is renewed.
	RefreshLead time.Duration `yaml:"refresh_lead" env:"REFRESH_LEAD" env-default:"5m"`
	// RequestTimeout of zero leaves requests without a client-side deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"0s"`
}

// StorageConfig selects where the token pair survives restarts.
type StorageConfig struct {
	Driver         string `yaml:"driver" env:"TOKEN_STORAGE" env-default:"bolt" validate:"oneof=bolt redis memory"`
	BoltPath       string `yaml:"bolt_path" env:"TOKEN_STORAGE_PATH" env-default:"librarian-session.db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix" env:"TOKEN_STORAGE_PREFIX" env-default:"librarian:session:"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT" env-default:"8080" validate:"required,numeric"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
}

// BackendConfig selects the persistence used by the development backend.
type BackendConfig struct {
	UserStore  string `yaml:"user_store" env:"BACKEND_USER_STORE" env-default:"memory" validate:"oneof=memory dynamodb"`
	TokenStore string `yaml:"token_store" env:"BACKEND_TOKEN_STORE" env-default:"memory" validate:"oneof=memory redis"`

	// An admin account is seeded at startup when AdminPassword is set.
	AdminUserName string `yaml:"admin_user_name" env:"BACKEND_ADMIN_USER_NAME" env-default:"admin"`
	AdminEmail    string `yaml:"admin_email" env:"BACKEND_ADMIN_EMAIL" env-default:"admin@library.local"`
	AdminPassword string `yaml:"admin_password" env:"BACKEND_ADMIN_PASSWORD"`
}

type DynamoDBConfig struct {
	Endpoint  string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"`
	Region    string `yaml:"region" env:"DYNAMODB_REGION" env-default:"us-east-1"`
	TableName string `yaml:"table_name" env:"DYNAMODB_TABLE_NAME" env-default:"LibrarianUsers"`
}

type RedisConfig struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"gte=0,lte=15"`
}

type JWTConfig struct {
	SecretKey     string        `yaml:"secret_key" env:"JWT_SECRET_KEY"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"librarian"`
	AccessExpiry  time.Duration `yaml:"access_expiry" env:"JWT_ACCESS_EXPIRY" env-default:"15m"`
	RefreshExpiry time.Duration `yaml:"refresh_expiry" env:"JWT_REFRESH_EXPIRY" env-default:"168h"`
}

// Validate checks the signing settings; only the backend needs them.
func (c JWTConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}
	if len(c.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}
	if c.AccessExpiry <= 0 || c.RefreshExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	return nil
}

// Load reads the YAML file at path, falling back to CONFIG_PATH, and then
// the environment. With neither file set only the environment is used.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Client.RefreshLead < 0 {
		return fmt.Errorf("refresh lead must not be negative")
	}
	return nil
}
