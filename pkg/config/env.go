package config

// EnvPrefix is intentionally empty: every variable already carries the
// INALTERA_ prefix in its envconfig tag.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "INALTERA_DB_DSN"
	EnvDBHost = "INALTERA_DB_HOST"
	EnvDBUser = "INALTERA_DB_USER"
	EnvDBName = "INALTERA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
