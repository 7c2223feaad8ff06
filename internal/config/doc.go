// Package config loads the application configuration from environment
// variables and an optional YAML file, with environment variables taking
// precedence. All environment variables are namespaced POSCORE_*:
//
//	POSCORE_SERVER_PORT=8080
//	POSCORE_DATABASE_EMBEDDED=true
//	POSCORE_AUTH_JWT_SECRET=...
//	POSCORE_ENTITLEMENT_DEFAULT_TRIAL_CREDITS=50
//
// The optional file defaults to config.yaml next to the binary and can be
// pointed elsewhere with POSCORE_CONFIG. Configuration is validated at
// load time; the server refuses to start on a missing JWT secret or a
// non-embedded database without credentials.
package config
