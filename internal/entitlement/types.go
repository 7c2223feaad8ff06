package entitlement

import (
	"time"
)

// TrialState represents the lifecycle position of a trial registration.
type TrialState string

const (
	TrialActive    TrialState = "ACTIVE"
	TrialExhausted TrialState = "EXHAUSTED"
	TrialExpired   TrialState = "EXPIRED"
	TrialActivated TrialState = "ACTIVATED"
	TrialRevoked   TrialState = "REVOKED"
)

// LicenseStatus represents the lifecycle position of a paid license.
type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "ACTIVE"
	LicenseRevoked LicenseStatus = "REVOKED"
	LicenseExpired LicenseStatus = "EXPIRED"
)

// ClientStatus is the engine-visible status of a client installation.
// The full client lifecycle (onboarding, contacts) is owned elsewhere.
type ClientStatus string

const (
	ClientTrial     ClientStatus = "TRIAL"
	ClientActive    ClientStatus = "ACTIVE"
	ClientSuspended ClientStatus = "SUSPENDED"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryConsume  EntryType = "CONSUME"
	EntryPurchase EntryType = "PURCHASE"
	EntryGrant    EntryType = "GRANT"
)

// ActivityType classifies a suspicious-activity record.
type ActivityType string

const (
	ActivityTrialReset     ActivityType = "TRIAL_RESET"
	ActivityMultipleTrials ActivityType = "MULTIPLE_TRIALS"
	ActivityTrialRevoked   ActivityType = "TRIAL_REVOKED"
)

// Severity grades a suspicious-activity record.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Identity is the pair of opaque identifiers a client installation presents.
// Lookups match on either field; see Registry.CheckEligibility for why.
type Identity struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	HardwareSignature string `json:"hardware_signature"`
}

// IsZero reports whether neither identifier is set.
func (id Identity) IsZero() bool {
	return id.DeviceFingerprint == "" && id.HardwareSignature == ""
}

// TrialRegistration is one record per physical device. Registrations are
// never physically deleted; exhausted and revoked rows stay behind for
// audit and abuse detection.
type TrialRegistration struct {
	ID                string     `json:"id" db:"id"`
	DeviceFingerprint string     `json:"device_fingerprint" db:"device_fingerprint"`
	HardwareSignature string     `json:"hardware_signature" db:"hardware_signature"`
	State             TrialState `json:"state" db:"state"`
	CreditsAllocated  int        `json:"credits_allocated" db:"credits_allocated"`
	CreditsUsed       int        `json:"credits_used" db:"credits_used"`
	CreditsRemaining  int        `json:"credits_remaining" db:"credits_remaining"`
	IsSuspicious      bool       `json:"is_suspicious" db:"is_suspicious"`
	ReinstallAttempts int        `json:"reinstall_attempts" db:"reinstall_attempts"`
	FirstSeenAt       time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at" db:"last_seen_at"`
	ExhaustedAt       *time.Time `json:"exhausted_at,omitempty" db:"exhausted_at"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Identity returns the registration's identifier pair.
func (r *TrialRegistration) Identity() Identity {
	return Identity{
		DeviceFingerprint: r.DeviceFingerprint,
		HardwareSignature: r.HardwareSignature,
	}
}

// MetadataVersion is the current schema version for ledger entry metadata.
const MetadataVersion = 1

// Metadata is the structured, versioned context attached to a ledger
// entry. Entries written by older engine versions carry a lower Version;
// readers must tolerate unknown Extra keys but never untyped blobs.
type Metadata struct {
	Version    int               `json:"version"`
	Origin     string            `json:"origin,omitempty"` // network address of the caller
	AppVersion string            `json:"app_version,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// NewMetadata returns Metadata at the current schema version.
func NewMetadata(origin string) Metadata {
	return Metadata{Version: MetadataVersion, Origin: origin}
}

// LedgerEntry is one immutable record of a balance-changing event. It is
// owned by exactly one trial registration or one license, never both.
type LedgerEntry struct {
	ID             string    `json:"id" db:"id"`
	RegistrationID string    `json:"registration_id,omitempty" db:"registration_id"`
	LicenseID      string    `json:"license_id,omitempty" db:"license_id"`
	EntryType      EntryType `json:"entry_type" db:"entry_type"`
	Amount         int       `json:"amount" db:"amount"` // signed delta
	BalanceBefore  int       `json:"balance_before" db:"balance_before"`
	BalanceAfter   int       `json:"balance_after" db:"balance_after"`
	Action         string    `json:"action" db:"action"`
	ReferenceID    string    `json:"reference_id,omitempty" db:"reference_id"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	Metadata       Metadata  `json:"metadata" db:"metadata"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// License is one paid entitlement bound to a client instance. The device
// binding is set on first activation and never silently overwritten.
type License struct {
	ID                string        `json:"id" db:"id"`
	LicenseKey        string        `json:"license_key" db:"license_key"`
	ClientInstanceID  string        `json:"client_instance_id" db:"client_instance_id"`
	LicenseType       string        `json:"license_type" db:"license_type"`
	Status            LicenseStatus `json:"status" db:"status"`
	MaxCredits        int           `json:"max_credits" db:"max_credits"`
	CurrentCredits    int           `json:"current_credits" db:"current_credits"`
	ActivationCount   int           `json:"activation_count" db:"activation_count"`
	MaxActivations    int           `json:"max_activations" db:"max_activations"`
	Features          []string      `json:"features" db:"features"`
	DeviceFingerprint string        `json:"device_fingerprint,omitempty" db:"device_fingerprint"`
	HardwareSignature string        `json:"hardware_signature,omitempty" db:"hardware_signature"`
	IssuedAt          time.Time     `json:"issued_at" db:"issued_at"`
	ExpiresAt         time.Time     `json:"expires_at" db:"expires_at"`
	LastActivatedAt   *time.Time    `json:"last_activated_at,omitempty" db:"last_activated_at"`
	RevokedAt         *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokeReason      string        `json:"revoke_reason,omitempty" db:"revoke_reason"`
	RevokedBy         string        `json:"revoked_by,omitempty" db:"revoked_by"`
}

// IsExpired reports whether the license has passed its time bound.
func (l *License) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// IsBound reports whether the license has been bound to a device.
func (l *License) IsBound() bool {
	return l.DeviceFingerprint != ""
}

// ActivationRecord is one row of license activation history, keyed by
// idempotency token so a retried activation is applied at most once.
type ActivationRecord struct {
	ID                string    `json:"id" db:"id"`
	LicenseID         string    `json:"license_id" db:"license_id"`
	DeviceFingerprint string    `json:"device_fingerprint" db:"device_fingerprint"`
	HardwareSignature string    `json:"hardware_signature" db:"hardware_signature"`
	IdempotencyKey    string    `json:"idempotency_key" db:"idempotency_key"`
	ActivatedAt       time.Time `json:"activated_at" db:"activated_at"`
}

// SuspiciousActivityRecord is an append-only log entry produced by the
// fraud heuristics. Records are never mutated or deleted.
type SuspiciousActivityRecord struct {
	ID             string       `json:"id" db:"id"`
	RegistrationID string       `json:"registration_id,omitempty" db:"registration_id"`
	ActivityType   ActivityType `json:"activity_type" db:"activity_type"`
	Severity       Severity     `json:"severity" db:"severity"`
	Description    string       `json:"description" db:"description"`
	ActionTaken    string       `json:"action_taken" db:"action_taken"`
	DetectedAt     time.Time    `json:"detected_at" db:"detected_at"`
}

// ClientInstance is the engine's view of one deployed installation. Only
// Status is written by the engine; everything else belongs to the
// onboarding workflow.
type ClientInstance struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Status    ClientStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// BillingSummary aggregates the billing position of one client instance.
type BillingSummary struct {
	ClientInstanceID string           `json:"client_instance_id"`
	ClientStatus     ClientStatus     `json:"client_status"`
	Licenses         []LicenseBalance `json:"licenses"`
	TotalPurchased   int              `json:"total_purchased"`
	TotalConsumed    int              `json:"total_consumed"`
	TotalRemaining   int              `json:"total_remaining"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// LicenseBalance is one license line within a billing summary.
type LicenseBalance struct {
	LicenseID      string        `json:"license_id"`
	LicenseKey     string        `json:"license_key"`
	Status         LicenseStatus `json:"status"`
	MaxCredits     int           `json:"max_credits"`
	CurrentCredits int           `json:"current_credits"`
	ExpiresAt      time.Time     `json:"expires_at"`
}
