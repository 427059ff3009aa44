package config

const EnvPrefix = "PORTAL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PORTAL_APP_ENV"
	EnvPort     = "PORTAL_APP_PORT"
	EnvLogLevel = "PORTAL_LOG_LEVEL"

	EnvDBDSN  = "PORTAL_DB_DSN"
	EnvDBHost = "PORTAL_DB_HOST"
	EnvDBUser = "PORTAL_DB_USER"
	EnvDBName = "PORTAL_DB_NAME"

	EnvRedisURL = "PORTAL_REDIS_URL"

	EnvJWTSecret  = "PORTAL_JWT_SECRET"
	EnvJWTIssuer  = "PORTAL_JWT_ISSUER"
	EnvJWTExpMins = "PORTAL_JWT_EXPIRATION_MINUTES"

	EnvStoreLimitWindow      = "PORTAL_STORE_LIMIT_WINDOW"
	EnvStorePlaceMaxAttempts = "PORTAL_STORE_PLACE_MAX_ATTEMPTS"

	EnvGCPProjectID            = "PORTAL_GCP_PROJECT_ID"
	EnvPubSubStoreTopic        = "PORTAL_PUBSUB_STORE_TOPIC"
	EnvPubSubStoreSubscription = "PORTAL_PUBSUB_STORE_SUBSCRIPTION"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
