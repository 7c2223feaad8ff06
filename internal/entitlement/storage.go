package entitlement

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Store implementations. The engine maps
// these to its typed error kinds; store callers branch with errors.Is.
var (
	ErrRecordNotFound  = errors.New("storage: record not found")
	ErrDuplicateRecord = errors.New("storage: unique constraint violated")
)

// Store is the durable storage contract the engine runs against.
//
// Every mutating engine operation runs inside WithTransaction. The
// transaction boundary is the unit of atomicity: concurrent credit
// consumers against the same registration serialize on the registration
// row, so lost-update races on the balance are impossible.
type Store interface {
	// WithTransaction runs fn inside one atomic unit. If fn returns an
	// error the transaction rolls back and no partial state is visible.
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	Close()
}

// Tx exposes the per-entity repositories scoped to one transaction.
type Tx interface {
	Registrations() RegistrationRepo
	Ledger() LedgerRepo
	Licenses() LicenseRepo
	Activations() ActivationRepo
	Activity() ActivityRepo
	Clients() ClientRepo
}

// RegistrationRepo stores trial registrations. Rows are never deleted.
type RegistrationRepo interface {
	// FindByIdentity matches on device fingerprint OR hardware signature,
	// preferring an exact fingerprint match. Implementations must lock
	// the returned row for the remainder of the transaction.
	FindByIdentity(ctx context.Context, id Identity) (*TrialRegistration, error)

	// FindByHardwareSignature matches on the hardware signature alone.
	FindByHardwareSignature(ctx context.Context, hw string) (*TrialRegistration, error)

	Create(ctx context.Context, reg *TrialRegistration) error
	Update(ctx context.Context, reg *TrialRegistration) error

	// ListActiveBefore returns ACTIVE and EXHAUSTED registrations first
	// seen before the cutoff, for the expiry sweep.
	ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*TrialRegistration, error)
}

// LedgerRepo stores append-only balance deltas. Entries are never
// updated or deleted; Append fails ErrDuplicateRecord on a reused
// idempotency key.
type LedgerRepo interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	FindByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]*LedgerEntry, error)
	ListByLicense(ctx context.Context, licenseID string) ([]*LedgerEntry, error)
}

// LicenseRepo stores paid licenses.
type LicenseRepo interface {
	Create(ctx context.Context, lic *License) error
	Update(ctx context.Context, lic *License) error

	// FindByKey locks the returned row for the remainder of the
	// transaction, serializing concurrent activations of one license.
	FindByKey(ctx context.Context, key string) (*License, error)

	FindByID(ctx context.Context, id string) (*License, error)
	ListByClient(ctx context.Context, clientInstanceID string) ([]*License, error)
	ListAll(ctx context.Context) ([]*License, error)
}

// ActivationRepo stores license activation history.
type ActivationRepo interface {
	Append(ctx context.Context, rec *ActivationRecord) error
	FindByIdempotencyKey(ctx context.Context, key string) (*ActivationRecord, error)
	ListByLicense(ctx context.Context, licenseID string) ([]*ActivationRecord, error)
}

// ActivityRepo stores the append-only suspicious activity log.
type ActivityRepo interface {
	Append(ctx context.Context, rec *SuspiciousActivityRecord) error
	ListByRegistration(ctx context.Context, registrationID string) ([]*SuspiciousActivityRecord, error)
}

// ClientRepo stores the engine-visible slice of client instances.
type ClientRepo interface {
	Create(ctx context.Context, c *ClientInstance) error
	FindByID(ctx context.Context, id string) (*ClientInstance, error)
	UpdateStatus(ctx context.Context, id string, status ClientStatus, at time.Time) error
}
