package config

import (
	"strings"
)

// Environment identifies the runtime environment where carte operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// GuardDriver names the backend persisting once-per-day rating markers.
type GuardDriver string

const (
	GuardMemory   GuardDriver = "memory"
	GuardFile     GuardDriver = "file"
	GuardSQLite   GuardDriver = "sqlite"
	GuardPostgres GuardDriver = "postgres"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
