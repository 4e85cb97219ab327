package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Store        StoreConfig
	Database     DatabaseConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	HTTP         HTTPConfig
	Log          LogConfig
	SMTP         SMTPConfig
	Digest       DigestConfig
	Reconcile    ReconcileConfig
	SeedDemoData bool
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicReviews string
	Partitions   int
}

type HTTPConfig struct {
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	RateLimitPerMin  int
	RateLimitEnabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// DigestConfig controls how the notifier batches review events into one mail.
type DigestConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	ConsumerGroup string
}

type ReconcileConfig struct {
	Interval time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "calmcorners"),
			Password:      getEnv("DB_PASSWORD", "calmcorners"),
			DBName:        getEnv("DB_NAME", "calmcorners"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: getEnv("MONGO_DATABASE", "calmcorners"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_LOCATIONS_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:      getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicReviews: getEnv("KAFKA_TOPIC_REVIEWS", "calmcorners.reviews"),
			Partitions:   getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
		},
		HTTP: HTTPConfig{
			Port:             getEnvAsInt("PORT", 5000),
			ReadTimeout:      getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:     getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:  getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:      getEnvAsList("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			RateLimitPerMin:  getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
			RateLimitEnabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "calmcorners@example.com"),
			To:       getEnv("SMTP_TO", "moderators@example.com"),
		},
		Digest: DigestConfig{
			BatchSize:     getEnvAsInt("DIGEST_BATCH_SIZE", 20),
			FlushInterval: getEnvAsDuration("DIGEST_FLUSH_INTERVAL", 15*time.Minute),
			ConsumerGroup: getEnv("DIGEST_CONSUMER_GROUP", "review-digest-group"),
		},
		Reconcile: ReconcileConfig{
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", time.Hour),
		},
		SeedDemoData: getEnvAsBool("SEED_DEMO_DATA", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the processes cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want %s, %s or %s)",
			c.Store.Backend, BackendMemory, BackendPostgres, BackendMongo)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.HTTP.Port)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_ENABLED requires KAFKA_BROKERS")
	}
	if c.Digest.BatchSize <= 0 {
		return fmt.Errorf("DIGEST_BATCH_SIZE must be positive, got %d", c.Digest.BatchSize)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", c.Reconcile.Interval)
	}
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
