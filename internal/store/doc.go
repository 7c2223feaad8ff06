// Package store provides the two Store implementations the entitlement
// engine runs on: an embedded in-memory store for tests and single-node
// deployments, and the production PostgreSQL store backed by pgx.
package store
