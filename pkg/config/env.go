package config

import "time"

// EnvPrefix is handed to envconfig; every tag above already spells out the full name.
const EnvPrefix = "TISHOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	MonCashModeSandbox = "sandbox"
	MonCashModeLive    = "live"

	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"

	MaxGatewayTimeout = 20 * time.Second
)

const (
	EnvAppEnv    = "TISHOP_APP_ENV"
	EnvPort      = "TISHOP_APP_PORT"
	EnvLogLevel  = "TISHOP_LOG_LEVEL"
	EnvLogFormat = "TISHOP_LOG_FORMAT"

	EnvDBDSN  = "TISHOP_DB_DSN"
	EnvDBHost = "TISHOP_DB_HOST"
	EnvDBUser = "TISHOP_DB_USER"
	EnvDBName = "TISHOP_DB_NAME"

	EnvRedisURL  = "TISHOP_REDIS_URL"
	EnvJWTSecret = "TISHOP_JWT_SECRET"

	EnvMonCashMode    = "TISHOP_MONCASH_MODE"
	EnvMonCashTimeout = "TISHOP_MONCASH_TIMEOUT"

	EnvOutboxBroker = "TISHOP_OUTBOX_BROKER"
	EnvKafkaBrokers = "TISHOP_KAFKA_BROKERS"

	EnvHoldingPeriod = "TISHOP_SETTLEMENT_HOLDING_PERIOD"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
