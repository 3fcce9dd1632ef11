package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MinConns int    `mapstructure:"min_conns"`
	MaxConns int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Workers int      `mapstructure:"workers"`
}

type GatewayConfig struct {
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	WelcomeText     string `mapstructure:"welcome_text"`
}

type AnalysisConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type SimulatorConfig struct {
	Products []string `mapstructure:"products"`
	Markets  []string `mapstructure:"markets"`
	Vendors  []string `mapstructure:"vendors"`
	UserID   string   `mapstructure:"user_id"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "pricewire")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.name", "pricewire")
	v.SetDefault("postgres.ssl_mode", "prefer")
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "price_submissions")
	v.SetDefault("kafka.group_id", "pricewire-gateway-group")
	v.SetDefault("kafka.workers", 4)

	v.SetDefault("gateway.rate_limit_per_min", 60)
	v.SetDefault("gateway.welcome_text", "مرحباً بك في منصة الأسواق الجزائرية - متصل بالخدمة الفورية!")

	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.model", "glm-4.5-flash")

	v.SetDefault("simulator.products", []string{"tomato", "potato", "onion"})
	v.SetDefault("simulator.markets", []string{"m1", "m2"})
	v.SetDefault("simulator.vendors", []string{"v1", "v2"})
	v.SetDefault("simulator.user_id", "simulator")

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "postgres.host", "postgres.port", "postgres.user", "postgres.password",
		"postgres.name", "postgres.ssl_mode", "postgres.min_conns", "postgres.max_conns")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.workers")
	bindEnv(v, "gateway.rate_limit_per_min", "gateway.welcome_text")
	bindEnv(v, "analysis.base_url", "analysis.api_key", "analysis.model")
	bindEnv(v, "simulator.products", "simulator.markets", "simulator.vendors", "simulator.user_id")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Kafka.Workers <= 0 {
		return nil, fmt.Errorf("kafka workers must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
