package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	CatalogPath string

	Payment   PaymentConfig
	Scheduler SchedulerConfig
	Email     EmailConfig
	Telemetry TelemetryConfig

	MetricsPush MetricsPushConfig
}

// PaymentConfig configures the processor client and its webhooks.
type PaymentConfig struct {
	Provider          string
	BaseURL           string
	AccessToken       string
	Endpoints         []string
	EndpointTimeout   time.Duration
	SimulationEnabled bool
	SubmitLockTTL     time.Duration
	SubmitRate        float64
	SubmitBurst       int

	WebhookSignatureKey    string
	WebhookNotificationURL string
}

// SchedulerConfig configures the background sweep of stale change requests.
type SchedulerConfig struct {
	Enabled           bool
	RunInterval       time.Duration
	BatchSize         int
	PendingTimeout    time.Duration
	ProcessingTimeout time.Duration
}

// EmailConfig configures outbound operator alerts.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	OpsAlertTo   []string
}

// TelemetryConfig holds raw logging and tracing settings. Empty values and a
// negative sampling ratio mean the environment default.
type TelemetryConfig struct {
	LogLevel        string
	LogFormat       string
	TracingEnabled  bool
	TracingProtocol string
	SamplingRatio   float64
	SlowQuery       time.Duration
}

// MetricsPushConfig configures pushing metrics from unscraped processes.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// DefaultPaymentEndpoints lists the capture endpoints in the order they are tried.
var DefaultPaymentEndpoints = []string{
	"/api/payments",
	"/api/payments/process",
	"/payments",
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	endpoints := parseList(getenv("PAYMENT_PROCESSOR_ENDPOINTS", ""))
	if len(endpoints) == 0 {
		endpoints = append([]string(nil), DefaultPaymentEndpoints...)
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "rosterpay"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  strings.ToLower(getenv("ENVIRONMENT", "development")),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "rosterpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		KafkaBrokers: parseList(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "change-request-events"),

		CatalogPath: strings.TrimSpace(getenv("CATALOG_PATH", "")),

		Payment: PaymentConfig{
			Provider:               strings.ToLower(getenv("PAYMENT_PROVIDER", "square")),
			BaseURL:                strings.TrimRight(strings.TrimSpace(getenv("PAYMENT_PROCESSOR_BASE_URL", "http://localhost:3001")), "/"),
			AccessToken:            strings.TrimSpace(getenv("PAYMENT_PROCESSOR_ACCESS_TOKEN", "")),
			Endpoints:              endpoints,
			EndpointTimeout:        time.Duration(getenvInt("PAYMENT_ENDPOINT_TIMEOUT_MS", 5000)) * time.Millisecond,
			SimulationEnabled:      getenvBool("PAYMENT_SIMULATION_ENABLED", false),
			SubmitLockTTL:          time.Duration(getenvInt("PAYMENT_SUBMIT_LOCK_TTL_SECONDS", 60)) * time.Second,
			SubmitRate:             getenvFloat("PAYMENT_SUBMIT_RATE", 0.2),
			SubmitBurst:            getenvInt("PAYMENT_SUBMIT_BURST", 5),
			WebhookSignatureKey:    strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SIGNATURE_KEY", "")),
			WebhookNotificationURL: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_NOTIFICATION_URL", "")),
		},

		Scheduler: SchedulerConfig{
			Enabled:           getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:       time.Duration(getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize:         getenvInt("SCHEDULER_BATCH_SIZE", 50),
			PendingTimeout:    time.Duration(getenvInt("CHANGE_REQUEST_PENDING_TIMEOUT_MINUTES", 30)) * time.Minute,
			ProcessingTimeout: time.Duration(getenvInt("CHANGE_REQUEST_PROCESSING_TIMEOUT_MINUTES", 15)) * time.Minute,
		},

		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "rosterpay@localhost"),
			OpsAlertTo:   parseList(getenv("OPS_ALERT_EMAILS", "")),
		},

		Telemetry: TelemetryConfig{
			LogLevel:        strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:       strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", ""))),
			TracingEnabled:  getenvBool("OTEL_ENABLED", true),
			TracingProtocol: strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio:   getenvFloat("OTEL_SAMPLING_RATIO", -1),
			SlowQuery:       time.Duration(getenvInt("DATABASE_SLOW_QUERY_MS", 200)) * time.Millisecond,
		},

		MetricsPush: MetricsPushConfig{
			Exporter:  strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

const EnvironmentProduction = "production"

// IsProduction reports whether the service runs against live money.
func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case EnvironmentProduction, "prod":
		return true
	default:
		return false
	}
}

// SimulationAllowed reports whether the capture client may synthesize a
// payment after every endpoint failed. Never true in production.
func (c Config) SimulationAllowed() bool {
	return c.Payment.SimulationEnabled && !c.IsProduction()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		log.Println("empty list value ignored")
	}
	return out
}
