package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Auth        AuthConfig
	Matchmaking MatchmakingConfig
}

type ServerConfig struct {
	HTTPPort string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

type MatchmakingConfig struct {
	ProcessInterval time.Duration
	SweepInterval   time.Duration
	EntryTimeout    time.Duration
	BaseTolerance   int
	RelaxInterval   time.Duration
	RelaxStep       int
}

func Load() *Config {
	// .env is optional; deployments set real environment variables.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			HTTPPort: getEnv("HTTP_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trivia"),
			Password: getEnv("DB_PASSWORD", "trivia_password"),
			DBName:   getEnv("DB_NAME", "trivia"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "redis"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "rabbitmq"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Matchmaking: MatchmakingConfig{
			ProcessInterval: getEnvAsDuration("MATCHMAKING_PROCESS_INTERVAL", 2*time.Second),
			SweepInterval:   getEnvAsDuration("MATCHMAKING_SWEEP_INTERVAL", 10*time.Second),
			EntryTimeout:    getEnvAsDuration("MATCHMAKING_ENTRY_TIMEOUT", 60*time.Second),
			BaseTolerance:   getEnvAsInt("MATCHMAKING_BASE_TOLERANCE", 100),
			RelaxInterval:   getEnvAsDuration("MATCHMAKING_RELAX_INTERVAL", 10*time.Second),
			RelaxStep:       getEnvAsInt("MATCHMAKING_RELAX_STEP", 100),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
