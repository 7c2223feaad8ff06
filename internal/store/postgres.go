package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"poscore/internal/entitlement"
)

// PostgresConfig holds connection parameters for the PostgreSQL store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Postgres is the production Store, backed by a pgx connection pool.
// Serialization of credit decrements relies on SELECT ... FOR UPDATE on
// the owning registration or license row.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection and returns the store.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the schema. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trial_registrations (
		id UUID PRIMARY KEY,
		device_fingerprint TEXT UNIQUE NOT NULL,
		hardware_signature TEXT NOT NULL,
		state VARCHAR(16) NOT NULL,
		credits_allocated INTEGER NOT NULL,
		credits_used INTEGER NOT NULL,
		credits_remaining INTEGER NOT NULL CHECK (credits_remaining >= 0),
		is_suspicious BOOLEAN NOT NULL DEFAULT false,
		reinstall_attempts INTEGER NOT NULL DEFAULT 0,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		exhausted_at TIMESTAMPTZ,
		activated_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_registrations_state ON trial_registrations(state);
	CREATE INDEX IF NOT EXISTS idx_registrations_hw ON trial_registrations(hardware_signature);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		registration_id UUID REFERENCES trial_registrations(id),
		license_id UUID,
		entry_type VARCHAR(16) NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		action TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_registration ON ledger_entries(registration_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_license ON ledger_entries(license_id, created_at);

	CREATE TABLE IF NOT EXISTS licenses (
		id UUID PRIMARY KEY,
		license_key VARCHAR(32) UNIQUE NOT NULL,
		client_instance_id UUID NOT NULL,
		license_type VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		max_credits INTEGER NOT NULL,
		current_credits INTEGER NOT NULL,
		activation_count INTEGER NOT NULL DEFAULT 0,
		max_activations INTEGER NOT NULL,
		features JSONB NOT NULL DEFAULT '[]',
		device_fingerprint TEXT,
		hardware_signature TEXT,
		issued_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		last_activated_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		revoke_reason TEXT,
		revoked_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_licenses_client ON licenses(client_instance_id);

	CREATE TABLE IF NOT EXISTS license_activations (
		id UUID PRIMARY KEY,
		license_id UUID NOT NULL REFERENCES licenses(id),
		device_fingerprint TEXT NOT NULL,
		hardware_signature TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		activated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activations_license ON license_activations(license_id);

	CREATE TABLE IF NOT EXISTS suspicious_activity (
		id UUID PRIMARY KEY,
		registration_id UUID,
		activity_type VARCHAR(32) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		description TEXT NOT NULL,
		action_taken TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_registration ON suspicious_activity(registration_id);

	CREATE TABLE IF NOT EXISTS client_instances (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// WithTransaction implements Store.
func (p *Postgres) WithTransaction(ctx context.Context, fn func(tx entitlement.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements Store.
func (p *Postgres) Close() { p.pool.Close() }

// mapPgError converts unique-violation errors to entitlement.ErrDuplicateRecord and leaves
// everything else untouched.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return entitlement.ErrDuplicateRecord
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Registrations() entitlement.RegistrationRepo { return (*pgRegistrations)(t) }
func (t *pgTx) Ledger() entitlement.LedgerRepo              { return (*pgLedger)(t) }
func (t *pgTx) Licenses() entitlement.LicenseRepo           { return (*pgLicenses)(t) }
func (t *pgTx) Activations() entitlement.ActivationRepo     { return (*pgActivations)(t) }
func (t *pgTx) Activity() entitlement.ActivityRepo          { return (*pgActivity)(t) }
func (t *pgTx) Clients() entitlement.ClientRepo             { return (*pgClients)(t) }

type pgRegistrations pgTx

const registrationColumns = `id, device_fingerprint, hardware_signature, state,
	credits_allocated, credits_used, credits_remaining, is_suspicious,
	reinstall_attempts, first_seen_at, last_seen_at, exhausted_at, activated_at, revoked_at`

func scanRegistration(row pgx.Row) (*entitlement.TrialRegistration, error) {
	var reg entitlement.TrialRegistration
	err := row.Scan(
		&reg.ID, &reg.DeviceFingerprint, &reg.HardwareSignature, &reg.State,
		&reg.CreditsAllocated, &reg.CreditsUsed, &reg.CreditsRemaining, &reg.IsSuspicious,
		&reg.ReinstallAttempts, &reg.FirstSeenAt, &reg.LastSeenAt, &reg.ExhaustedAt,
		&reg.ActivatedAt, &reg.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *pgRegistrations) FindByIdentity(ctx context.Context, id entitlement.Identity) (*entitlement.TrialRegistration, error) {
	// Fingerprint match wins over signature match; among signature-only
	// matches the most recently seen row wins. FOR UPDATE serializes
	// concurrent consumers of the same registration.
	query := `SELECT ` + registrationColumns + `
		FROM trial_registrations
		WHERE (device_fingerprint = $1 AND $1 <> '') OR (hardware_signature = $2 AND $2 <> '')
		ORDER BY (device_fingerprint = $1) DESC, last_seen_at DESC
		LIMIT 1
		FOR UPDATE`
	return scanRegistration(r.tx.QueryRow(ctx, query, id.DeviceFingerprint, id.HardwareSignature))
}

func (r *pgRegistrations) FindByHardwareSignature(ctx context.Context, hw string) (*entitlement.TrialRegistration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM trial_registrations
		WHERE hardware_signature = $1 AND $1 <> ''
		ORDER BY last_seen_at DESC
		LIMIT 1
		FOR UPDATE`
	return scanRegistration(r.tx.QueryRow(ctx, query, hw))
}

func (r *pgRegistrations) Create(ctx context.Context, reg *entitlement.TrialRegistration) error {
	query := `INSERT INTO trial_registrations (` + registrationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.tx.Exec(ctx, query,
		reg.ID, reg.DeviceFingerprint, reg.HardwareSignature, reg.State,
		reg.CreditsAllocated, reg.CreditsUsed, reg.CreditsRemaining, reg.IsSuspicious,
		reg.ReinstallAttempts, reg.FirstSeenAt, reg.LastSeenAt, reg.ExhaustedAt,
		reg.ActivatedAt, reg.RevokedAt,
	)
	return mapPgError(err)
}

func (r *pgRegistrations) Update(ctx context.Context, reg *entitlement.TrialRegistration) error {
	query := `UPDATE trial_registrations SET
		state = $2, credits_allocated = $3, credits_used = $4, credits_remaining = $5,
		is_suspicious = $6, reinstall_attempts = $7, last_seen_at = $8,
		exhausted_at = $9, activated_at = $10, revoked_at = $11
		WHERE id = $1`
	tag, err := r.tx.Exec(ctx, query,
		reg.ID, reg.State, reg.CreditsAllocated, reg.CreditsUsed, reg.CreditsRemaining,
		reg.IsSuspicious, reg.ReinstallAttempts, reg.LastSeenAt,
		reg.ExhaustedAt, reg.ActivatedAt, reg.RevokedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrRecordNotFound
	}
	return nil
}

func (r *pgRegistrations) ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*entitlement.TrialRegistration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM trial_registrations
		WHERE state IN ('ACTIVE','EXHAUSTED') AND first_seen_at < $1
		FOR UPDATE`
	rows, err := r.tx.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.TrialRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

type pgLedger pgTx

func (l *pgLedger) Append(ctx context.Context, entry *entitlement.LedgerEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal ledger metadata: %w", err)
	}
	query := `INSERT INTO ledger_entries
		(id, registration_id, license_id, entry_type, amount, balance_before,
		 balance_after, action, reference_id, idempotency_key, metadata, created_at)
		VALUES ($1, NULLIF($2,'')::uuid, NULLIF($3,'')::uuid, $4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = l.tx.Exec(ctx, query,
		entry.ID, entry.RegistrationID, entry.LicenseID, entry.EntryType,
		entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.Action,
		entry.ReferenceID, entry.IdempotencyKey, meta, entry.CreatedAt,
	)
	return mapPgError(err)
}

const ledgerColumns = `id, COALESCE(registration_id::text,''), COALESCE(license_id::text,''),
	entry_type, amount, balance_before, balance_after, action,
	COALESCE(reference_id,''), idempotency_key, metadata, created_at`

func scanLedgerEntry(row pgx.Row) (*entitlement.LedgerEntry, error) {
	var entry entitlement.LedgerEntry
	var meta []byte
	err := row.Scan(
		&entry.ID, &entry.RegistrationID, &entry.LicenseID, &entry.EntryType,
		&entry.Amount, &entry.BalanceBefore, &entry.BalanceAfter, &entry.Action,
		&entry.ReferenceID, &entry.IdempotencyKey, &meta, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal ledger metadata: %w", err)
		}
	}
	return &entry, nil
}

func (l *pgLedger) FindByIdempotencyKey(ctx context.Context, key string) (*entitlement.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE idempotency_key = $1`
	return scanLedgerEntry(l.tx.QueryRow(ctx, query, key))
}

func (l *pgLedger) listBy(ctx context.Context, column, id string) ([]*entitlement.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE ` + column + ` = $1 ORDER BY created_at, id`
	rows, err := l.tx.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (l *pgLedger) ListByRegistration(ctx context.Context, registrationID string) ([]*entitlement.LedgerEntry, error) {
	return l.listBy(ctx, "registration_id", registrationID)
}

func (l *pgLedger) ListByLicense(ctx context.Context, licenseID string) ([]*entitlement.LedgerEntry, error) {
	return l.listBy(ctx, "license_id", licenseID)
}

type pgLicenses pgTx

const licenseColumns = `id, license_key, client_instance_id, license_type, status,
	max_credits, current_credits, activation_count, max_activations, features,
	COALESCE(device_fingerprint,''), COALESCE(hardware_signature,''),
	issued_at, expires_at, last_activated_at, revoked_at,
	COALESCE(revoke_reason,''), COALESCE(revoked_by,'')`

func scanLicense(row pgx.Row) (*entitlement.License, error) {
	var lic entitlement.License
	var features []byte
	err := row.Scan(
		&lic.ID, &lic.LicenseKey, &lic.ClientInstanceID, &lic.LicenseType, &lic.Status,
		&lic.MaxCredits, &lic.CurrentCredits, &lic.ActivationCount, &lic.MaxActivations, &features,
		&lic.DeviceFingerprint, &lic.HardwareSignature,
		&lic.IssuedAt, &lic.ExpiresAt, &lic.LastActivatedAt, &lic.RevokedAt,
		&lic.RevokeReason, &lic.RevokedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &lic.Features); err != nil {
			return nil, fmt.Errorf("unmarshal license features: %w", err)
		}
	}
	return &lic, nil
}

func (l *pgLicenses) Create(ctx context.Context, lic *entitlement.License) error {
	features, err := json.Marshal(lic.Features)
	if err != nil {
		return fmt.Errorf("marshal license features: %w", err)
	}
	query := `INSERT INTO licenses
		(id, license_key, client_instance_id, license_type, status, max_credits,
		 current_credits, activation_count, max_activations, features,
		 device_fingerprint, hardware_signature, issued_at, expires_at,
		 last_activated_at, revoked_at, revoke_reason, revoked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13,$14,$15,$16,NULLIF($17,''),NULLIF($18,''))`
	_, err = l.tx.Exec(ctx, query,
		lic.ID, lic.LicenseKey, lic.ClientInstanceID, lic.LicenseType, lic.Status,
		lic.MaxCredits, lic.CurrentCredits, lic.ActivationCount, lic.MaxActivations, features,
		lic.DeviceFingerprint, lic.HardwareSignature, lic.IssuedAt, lic.ExpiresAt,
		lic.LastActivatedAt, lic.RevokedAt, lic.RevokeReason, lic.RevokedBy,
	)
	return mapPgError(err)
}

func (l *pgLicenses) Update(ctx context.Context, lic *entitlement.License) error {
	query := `UPDATE licenses SET
		status = $2, current_credits = $3, activation_count = $4,
		device_fingerprint = NULLIF($5,''), hardware_signature = NULLIF($6,''),
		last_activated_at = $7, revoked_at = $8,
		revoke_reason = NULLIF($9,''), revoked_by = NULLIF($10,'')
		WHERE id = $1`
	tag, err := l.tx.Exec(ctx, query,
		lic.ID, lic.Status, lic.CurrentCredits, lic.ActivationCount,
		lic.DeviceFingerprint, lic.HardwareSignature,
		lic.LastActivatedAt, lic.RevokedAt, lic.RevokeReason, lic.RevokedBy,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrRecordNotFound
	}
	return nil
}

func (l *pgLicenses) FindByKey(ctx context.Context, key string) (*entitlement.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1 FOR UPDATE`
	return scanLicense(l.tx.QueryRow(ctx, query, key))
}

func (l *pgLicenses) FindByID(ctx context.Context, id string) (*entitlement.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1 FOR UPDATE`
	return scanLicense(l.tx.QueryRow(ctx, query, id))
}

func (l *pgLicenses) list(ctx context.Context, query string, args ...any) ([]*entitlement.License, error) {
	rows, err := l.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	return out, rows.Err()
}

func (l *pgLicenses) ListByClient(ctx context.Context, clientInstanceID string) ([]*entitlement.License, error) {
	return l.list(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE client_instance_id = $1 ORDER BY issued_at`, clientInstanceID)
}

func (l *pgLicenses) ListAll(ctx context.Context) ([]*entitlement.License, error) {
	return l.list(ctx, `SELECT `+licenseColumns+` FROM licenses ORDER BY issued_at`)
}

type pgActivations pgTx

func (a *pgActivations) Append(ctx context.Context, rec *entitlement.ActivationRecord) error {
	query := `INSERT INTO license_activations
		(id, license_id, device_fingerprint, hardware_signature, idempotency_key, activated_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)`
	_, err := a.tx.Exec(ctx, query,
		rec.ID, rec.LicenseID, rec.DeviceFingerprint, rec.HardwareSignature,
		rec.IdempotencyKey, rec.ActivatedAt,
	)
	return mapPgError(err)
}

func (a *pgActivations) FindByIdempotencyKey(ctx context.Context, key string) (*entitlement.ActivationRecord, error) {
	query := `SELECT id, license_id, device_fingerprint, hardware_signature,
		COALESCE(idempotency_key,''), activated_at
		FROM license_activations WHERE idempotency_key = $1`
	var rec entitlement.ActivationRecord
	err := a.tx.QueryRow(ctx, query, key).Scan(
		&rec.ID, &rec.LicenseID, &rec.DeviceFingerprint, &rec.HardwareSignature,
		&rec.IdempotencyKey, &rec.ActivatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (a *pgActivations) ListByLicense(ctx context.Context, licenseID string) ([]*entitlement.ActivationRecord, error) {
	query := `SELECT id, license_id, device_fingerprint, hardware_signature,
		COALESCE(idempotency_key,''), activated_at
		FROM license_activations WHERE license_id = $1 ORDER BY activated_at`
	rows, err := a.tx.Query(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.ActivationRecord
	for rows.Next() {
		var rec entitlement.ActivationRecord
		if err := rows.Scan(
			&rec.ID, &rec.LicenseID, &rec.DeviceFingerprint, &rec.HardwareSignature,
			&rec.IdempotencyKey, &rec.ActivatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type pgActivity pgTx

func (a *pgActivity) Append(ctx context.Context, rec *entitlement.SuspiciousActivityRecord) error {
	query := `INSERT INTO suspicious_activity
		(id, registration_id, activity_type, severity, description, action_taken, detected_at)
		VALUES ($1, NULLIF($2,'')::uuid, $3,$4,$5,$6,$7)`
	_, err := a.tx.Exec(ctx, query,
		rec.ID, rec.RegistrationID, rec.ActivityType, rec.Severity,
		rec.Description, rec.ActionTaken, rec.DetectedAt,
	)
	return mapPgError(err)
}

func (a *pgActivity) ListByRegistration(ctx context.Context, registrationID string) ([]*entitlement.SuspiciousActivityRecord, error) {
	query := `SELECT id, COALESCE(registration_id::text,''), activity_type, severity,
		description, action_taken, detected_at
		FROM suspicious_activity WHERE registration_id = $1 ORDER BY detected_at`
	rows, err := a.tx.Query(ctx, query, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.SuspiciousActivityRecord
	for rows.Next() {
		var rec entitlement.SuspiciousActivityRecord
		if err := rows.Scan(
			&rec.ID, &rec.RegistrationID, &rec.ActivityType, &rec.Severity,
			&rec.Description, &rec.ActionTaken, &rec.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type pgClients pgTx

func (c *pgClients) Create(ctx context.Context, client *entitlement.ClientInstance) error {
	query := `INSERT INTO client_instances (id, name, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := c.tx.Exec(ctx, query, client.ID, client.Name, client.Status, client.CreatedAt, client.UpdatedAt)
	return mapPgError(err)
}

func (c *pgClients) FindByID(ctx context.Context, id string) (*entitlement.ClientInstance, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM client_instances WHERE id = $1 FOR UPDATE`
	var client entitlement.ClientInstance
	err := c.tx.QueryRow(ctx, query, id).Scan(
		&client.ID, &client.Name, &client.Status, &client.CreatedAt, &client.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (c *pgClients) UpdateStatus(ctx context.Context, id string, status entitlement.ClientStatus, at time.Time) error {
	tag, err := c.tx.Exec(ctx,
		`UPDATE client_instances SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrRecordNotFound
	}
	return nil
}
