package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"serverAddress"`
	Environment   string `yaml:"environment"`

	// Storage configuration
	StorageBackend string `yaml:"storageBackend"`
	AWSRegion      string `yaml:"awsRegion"`
	TableName      string `yaml:"tableName"`
	EventBusName   string `yaml:"eventBusName"`

	// Lambda configuration
	IsLambda           bool   `yaml:"isLambda"`
	LambdaFunctionName string `yaml:"-"`

	// Realtime configuration
	RedisAddr           string `yaml:"redisAddr"`
	WSMaxMessageBytes   int64  `yaml:"wsMaxMessageBytes"`
	WSSendBuffer        int    `yaml:"wsSendBuffer"`
	WSMessagesPerSecond int    `yaml:"wsMessagesPerSecond"`

	// HTTP configuration
	AllowedOrigins       []string `yaml:"allowedOrigins"`
	RequestsPerMinute    int      `yaml:"requestsPerMinute"`
	MaxRequestBodyBytes  int64    `yaml:"maxRequestBodyBytes"`
	DocumentCacheTTLSecs int      `yaml:"documentCacheTtlSeconds"`

	// Logging
	LogLevel string `yaml:"logLevel"`

	// Authentication
	JWTSecret   string   `yaml:"jwtSecret"`
	JWTIssuer   string   `yaml:"jwtIssuer"`
	JWTAudience []string `yaml:"jwtAudience"`

	// Feature flags
	EnableMetrics    bool   `yaml:"enableMetrics"`
	EnableTracing    bool   `yaml:"enableTracing"`
	MetricsNamespace string `yaml:"metricsNamespace"`
}

// LoadConfig loads configuration from environment variables, then overlays
// the YAML file named by CONFIG_FILE when set.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StorageBackend: getEnv("STORAGE_BACKEND", StorageMemory),
		AWSRegion:      getEnv("AWS_REGION", "us-west-2"),
		TableName:      getEnv("TABLE_NAME", "diagrams"),
		EventBusName:   getEnv("EVENT_BUS_NAME", ""),

		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		WSMaxMessageBytes:   int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 4<<20)),
		WSSendBuffer:        getEnvInt("WS_SEND_BUFFER", 256),
		WSMessagesPerSecond: getEnvInt("WS_MESSAGES_PER_SECOND", 50),

		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RequestsPerMinute:    getEnvInt("REQUESTS_PER_MINUTE", 300),
		MaxRequestBodyBytes:  int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 8<<20)),
		DocumentCacheTTLSecs: getEnvInt("DOCUMENT_CACHE_TTL_SECONDS", 30),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "diagramsync"),
		JWTAudience: getEnvList("JWT_AUDIENCE", []string{"diagramsync-api"}),

		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "diagramsync"),
	}
	if cfg.LambdaFunctionName != "" {
		cfg.IsLambda = true
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// overlay decodes the YAML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) overlay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageDynamoDB:
		if c.TableName == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StorageBackend == StorageMemory {
			return fmt.Errorf("the memory backend is not allowed in production")
		}
	}

	if c.WSMaxMessageBytes <= 0 || c.WSSendBuffer <= 0 || c.WSMessagesPerSecond <= 0 {
		return fmt.Errorf("websocket limits must be positive")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must be positive")
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DevIdentityAllowed reports whether unauthenticated header identities
// are accepted.
func (c *Config) DevIdentityAllowed() bool {
	return c.JWTSecret == "" && !c.IsProduction()
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
