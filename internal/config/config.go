package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	_ "embed"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
)

//go:embed schema/config-v1.json
var configSchemaJSON string

type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Station   StationConfig   `mapstructure:"station" json:"station"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port" json:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port" json:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// StationConfig describes the Modbus node of the transport station.
type StationConfig struct {
	Address      string        `mapstructure:"address" json:"address"`
	Port         int           `mapstructure:"port" json:"port"`
	UnitID       int           `mapstructure:"unit_id" json:"unit_id"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	Retry        RetryConfig   `mapstructure:"retry" json:"retry"`
}

// RetryConfig: max_attempts 0 and timeout 0 retry until the request is
// cancelled.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" json:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
}

func (s *StationConfig) Endpoint() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	Host           string `mapstructure:"host" json:"host"`
	Port           int    `mapstructure:"port" json:"port"`
	Database       string `mapstructure:"database" json:"database"`
	User           string `mapstructure:"user" json:"user"`
	Password       string `mapstructure:"password" json:"password"`
	MaxConnections int    `mapstructure:"max_connections" json:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool           `mapstructure:"enabled" json:"enabled"`
	JWTSecretEnv   string         `mapstructure:"jwt_secret_env" json:"jwt_secret_env"`
	AccessTokenTTL time.Duration  `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	Clients        []ClientConfig `mapstructure:"clients" json:"clients,omitempty"`
}

// ClientConfig is a machine client allowed to request access tokens.
// SecretHash is an argon2id hash as printed by cmd/tokenhash.
type ClientConfig struct {
	Name       string `mapstructure:"name" json:"name"`
	SecretHash string `mapstructure:"secret_hash" json:"secret_hash"`
	Role       string `mapstructure:"role" json:"role"`
}

type TelemetryConfig struct {
	RootTopic      string       `mapstructure:"root_topic" json:"root_topic"`
	BufferSize     int          `mapstructure:"buffer_size" json:"buffer_size"`
	RegisterEvents bool         `mapstructure:"register_events" json:"register_events"`
	MQTT           MQTTConfig   `mapstructure:"mqtt" json:"mqtt"`
	Valkey         ValkeyConfig `mapstructure:"valkey" json:"valkey"`
	Kafka          KafkaConfig  `mapstructure:"kafka" json:"kafka"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" json:"broker"`
	Port     int    `mapstructure:"port" json:"port"`
	ClientID string `mapstructure:"client_id" json:"client_id"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	UseTLS   bool   `mapstructure:"use_tls" json:"use_tls"`
	QoS      int    `mapstructure:"qos" json:"qos"`
	Retain   bool   `mapstructure:"retain" json:"retain"`
}

type ValkeyConfig struct {
	Enabled   bool          `mapstructure:"enabled" json:"enabled"`
	Address   string        `mapstructure:"address" json:"address"`
	Password  string        `mapstructure:"password" json:"password"`
	Database  int           `mapstructure:"database" json:"database"`
	UseTLS    bool          `mapstructure:"use_tls" json:"use_tls"`
	KeyPrefix string        `mapstructure:"key_prefix" json:"key_prefix"`
	KeyTTL    time.Duration `mapstructure:"key_ttl" json:"key_ttl"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	Brokers      []string      `mapstructure:"brokers" json:"brokers,omitempty"`
	Topic        string        `mapstructure:"topic" json:"topic"`
	RequiredAcks int           `mapstructure:"required_acks" json:"required_acks"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" json:"batch_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	// Station Defaults
	v.SetDefault("station.address", "")
	v.SetDefault("station.port", 502)
	v.SetDefault("station.unit_id", 1)
	v.SetDefault("station.timeout", "1s")
	v.SetDefault("station.poll_interval", "100ms")
	v.SetDefault("station.retry.max_attempts", 5)
	v.SetDefault("station.retry.backoff", "50ms")
	v.SetDefault("station.retry.timeout", "2s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("telemetry.root_topic", "Transport_out")
	v.SetDefault("telemetry.buffer_size", 256)
	v.SetDefault("telemetry.mqtt.port", 1883)
	v.SetDefault("telemetry.mqtt.client_id", "opentransportcore")
	v.SetDefault("telemetry.valkey.key_prefix", "transport")
	v.SetDefault("telemetry.kafka.topic", "transport-events")
	v.SetDefault("telemetry.kafka.required_acks", 1)
	v.SetDefault("telemetry.kafka.batch_timeout", "10ms")
}

// Load reads the YAML file at path, applies defaults and OTC_ environment
// overrides and validates the result against the config schema.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment Variables mit Prefix OTC_, z.B. OTC_STATION_ADDRESS
	v.SetEnvPrefix("OTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate checks the decoded config against the embedded schema. The
// decoded struct is used instead of the raw settings so values from
// environment variables are already typed.
func validate(config *Config) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config-v1.json", strings.NewReader(configSchemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("config-v1.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devJWTSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
