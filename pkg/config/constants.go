package config

// EnvPrefix scopes every environment variable consumed by the service.
const EnvPrefix = "estatelink"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "ESTATELINK_DB_DSN"
	EnvDBHost = "ESTATELINK_DB_HOST"
	EnvDBUser = "ESTATELINK_DB_USER"
	EnvDBName = "ESTATELINK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
