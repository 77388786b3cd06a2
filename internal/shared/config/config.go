package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration for both services.
type Config struct {
	Database DBConfig
	RabbitMQ MQConfig
	Services ServicesConfig
	JWT      JWTConfig
	Policy   PolicyConfig
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type MQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

type ServicesConfig struct {
	OrderServicePort  int
	DriverServicePort int
}

type JWTConfig struct {
	Secret        string
	ExpiryMinutes int
}

// PolicyConfig holds fulfillment policy knobs.
type PolicyConfig struct {
	// RequirePIN gates the final delivered transition on the order PIN.
	RequirePIN bool
	// LocationMinInterval is the minimum time between position updates
	// accepted from a single driver.
	LocationMinInterval time.Duration
	// TaxRate is applied to the order subtotal at checkout.
	TaxRate float64
}

// Load reads configuration from the environment. A local .env file is
// loaded first if present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Database: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "marketfleet_user"),
			Password: getEnv("DB_PASSWORD", "marketfleet_pass"),
			Database: getEnv("DB_NAME", "marketfleet_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RabbitMQ: MQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnvInt("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
		},
		Services: ServicesConfig{
			OrderServicePort:  getEnvInt("ORDER_SERVICE_PORT", 3000),
			DriverServicePort: getEnvInt("DRIVER_SERVICE_PORT", 3001),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", "dev_secret"),
			ExpiryMinutes: getEnvInt("JWT_EXPIRY_MINUTES", 60),
		},
		Policy: PolicyConfig{
			RequirePIN:          getEnvBool("REQUIRE_PIN", true),
			LocationMinInterval: time.Duration(getEnvInt("LOCATION_MIN_INTERVAL_SEC", 3)) * time.Second,
			TaxRate:             getEnvFloat("TAX_RATE", 0.18),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// AMQPURL returns the RabbitMQ connection URL.
func (c MQConfig) AMQPURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}
