package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	MonCash      MonCashConfig
	Settlement   SettlementConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	SMTP         SMTPConfig
	Eventing     EventingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.MonCash.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"TISHOP_APP_ENV" required:"true"`
	Port         string   `envconfig:"TISHOP_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"TISHOP_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"TISHOP_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"TISHOP_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"TISHOP_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"TISHOP_SERVICE_KIND" default:"api"`
	MetricsAddr string `envconfig:"TISHOP_METRICS_ADDR"`
	OTelName    string `envconfig:"TISHOP_OTEL_SERVICE_NAME" default:"tishop-api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TISHOP_DB_DSN"`
	Driver string `envconfig:"TISHOP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TISHOP_DB_HOST"`
	Port     int    `envconfig:"TISHOP_DB_PORT" default:"5432"`
	User     string `envconfig:"TISHOP_DB_USER"`
	Password string `envconfig:"TISHOP_DB_PASSWORD"`
	Name     string `envconfig:"TISHOP_DB_NAME"`
	SSLMode  string `envconfig:"TISHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TISHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TISHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TISHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TISHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TISHOP_REDIS_URL"`
	Address      string        `envconfig:"TISHOP_REDIS_ADDR"`
	Password     string        `envconfig:"TISHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TISHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TISHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TISHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TISHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TISHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TISHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies the bearer tokens issued to sellers and admins by the auth service.
type JWTConfig struct {
	Secret            string `envconfig:"TISHOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TISHOP_JWT_ISSUER" default:"tishop"`
	ExpirationMinutes int    `envconfig:"TISHOP_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TISHOP_AUTO_MIGRATE" default:"false"`
}

// MonCashConfig configures the Digicel MonCash button integration.
type MonCashConfig struct {
	ClientID       string        `envconfig:"TISHOP_MONCASH_CLIENT_ID"`
	ClientSecret   string        `envconfig:"TISHOP_MONCASH_CLIENT_SECRET"`
	Mode           string        `envconfig:"TISHOP_MONCASH_MODE" default:"sandbox"`
	Timeout        time.Duration `envconfig:"TISHOP_MONCASH_TIMEOUT" default:"20s"`
	TokenTTL       time.Duration `envconfig:"TISHOP_MONCASH_TOKEN_TTL" default:"50s"`
	ReturnURL      string        `envconfig:"TISHOP_MONCASH_RETURN_URL"`
	ConfirmPageURL string        `envconfig:"TISHOP_FRONTEND_ORDER_CONFIRMATION_URL" default:"http://localhost:3000/order-confirmation"`
}

// IsLive reports whether payments hit the production gateway.
func (m MonCashConfig) IsLive() bool {
	return strings.EqualFold(strings.TrimSpace(m.Mode), MonCashModeLive)
}

func (m MonCashConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(m.Mode))
	if mode != MonCashModeSandbox && mode != MonCashModeLive {
		return fmt.Errorf("%s must be %q or %q", EnvMonCashMode, MonCashModeSandbox, MonCashModeLive)
	}
	if m.Timeout <= 0 || m.Timeout > MaxGatewayTimeout {
		return fmt.Errorf("%s must be within (0, %s]", EnvMonCashTimeout, MaxGatewayTimeout)
	}
	return nil
}

// SettlementConfig holds the money-release and delivery-proof policy knobs.
type SettlementConfig struct {
	HoldingPeriod        time.Duration `envconfig:"TISHOP_SETTLEMENT_HOLDING_PERIOD" default:"24h"`
	MaxDeliveryAttempts  int           `envconfig:"TISHOP_SETTLEMENT_MAX_DELIVERY_ATTEMPTS" default:"3"`
	PendingOrderTTL      time.Duration `envconfig:"TISHOP_SETTLEMENT_PENDING_ORDER_TTL" default:"72h"`
	CronInterval         time.Duration `envconfig:"TISHOP_CRON_INTERVAL" default:"1h"`
	OutboxRetentionDays  int           `envconfig:"TISHOP_OUTBOX_RETENTION_DAYS" default:"30"`
	WebhookGuardTTL      time.Duration `envconfig:"TISHOP_WEBHOOK_GUARD_TTL" default:"24h"`
	OrderNumberAttempts  int           `envconfig:"TISHOP_ORDER_NUMBER_ATTEMPTS" default:"5"`
	DeliveryCodeAttempts int           `envconfig:"TISHOP_DELIVERY_CODE_DRAW_ATTEMPTS" default:"10"`
}

type OutboxConfig struct {
	Broker         string `envconfig:"TISHOP_OUTBOX_BROKER" default:"pubsub"`
	BatchSize      int    `envconfig:"TISHOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"TISHOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"TISHOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Broker)) {
	case BrokerPubSub, BrokerKafka:
		return nil
	}
	return fmt.Errorf("%s must be %q or %q", EnvOutboxBroker, BrokerPubSub, BrokerKafka)
}

// UsesKafka reports whether outbox events are shipped to Kafka instead of Pub/Sub.
func (o OutboxConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(o.Broker), BrokerKafka)
}

type GCPConfig struct {
	ProjectID string `envconfig:"TISHOP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"TISHOP_PUBSUB_ORDERS_TOPIC" default:"tishop-order-events"`
	OrdersSubscription string `envconfig:"TISHOP_PUBSUB_ORDERS_SUBSCRIPTION" default:"tishop-order-notifications"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"TISHOP_KAFKA_BROKERS"`
	Topic   string   `envconfig:"TISHOP_KAFKA_ORDERS_TOPIC" default:"tishop-order-events"`
	GroupID string   `envconfig:"TISHOP_KAFKA_GROUP_ID" default:"tishop-notification-worker"`
}

type SMTPConfig struct {
	Host     string        `envconfig:"TISHOP_SMTP_HOST"`
	Port     int           `envconfig:"TISHOP_SMTP_PORT" default:"587"`
	Username string        `envconfig:"TISHOP_SMTP_USER"`
	Password string        `envconfig:"TISHOP_SMTP_PASSWORD"`
	From     string        `envconfig:"TISHOP_SMTP_FROM" default:"Tishop <no-reply@tishop.ht>"`
	Timeout  time.Duration `envconfig:"TISHOP_SMTP_TIMEOUT" default:"10s"`
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"TISHOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
