package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"poscore/internal/notify"
)

// keyGenerationAttempts bounds retries on the astronomically unlikely
// license key collision.
const keyGenerationAttempts = 5

// IssueLicenseRequest carries the administrative parameters for a new
// license.
type IssueLicenseRequest struct {
	ClientInstanceID string   `json:"client_instance_id" validate:"required,uuid"`
	LicenseType      string   `json:"license_type" validate:"required"`
	DurationMonths   int      `json:"duration_months" validate:"required,gt=0"`
	MaxCredits       int      `json:"max_credits" validate:"required,gt=0"`
	MaxActivations   int      `json:"max_activations" validate:"gte=0"`
	Features         []string `json:"features,omitempty"`
}

// IssueLicense creates a paid license for a client instance, grants its
// initial credit balance as a GRANT ledger entry, and moves the client
// instance to ACTIVE. The generated key is returned exactly once.
func (e *Engine) IssueLicense(ctx context.Context, req IssueLicenseRequest, actorID string) (*License, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.issue_license")
	defer span.End()
	start := e.now()

	if req.ClientInstanceID == "" {
		return nil, validation("issue_license", "client instance id is required")
	}
	if req.DurationMonths <= 0 {
		return nil, validation("issue_license", "duration must be at least one month")
	}
	if req.MaxCredits <= 0 {
		return nil, validation("issue_license", "max credits must be positive")
	}
	if req.MaxActivations <= 0 {
		req.MaxActivations = e.cfg.DefaultMaxActivations
	}

	var lic *License
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		client, err := tx.Clients().FindByID(ctx, req.ClientInstanceID)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("issue_license", "client instance %s not found", req.ClientInstanceID)
		}
		if err != nil {
			return fmt.Errorf("lookup client instance: %w", err)
		}

		lic = &License{
			ID:               uuid.New().String(),
			ClientInstanceID: client.ID,
			LicenseType:      req.LicenseType,
			Status:           LicenseActive,
			MaxCredits:       req.MaxCredits,
			CurrentCredits:   req.MaxCredits,
			MaxActivations:   req.MaxActivations,
			Features:         req.Features,
			IssuedAt:         now,
			ExpiresAt:        now.AddDate(0, req.DurationMonths, 0),
		}
		for attempt := 0; ; attempt++ {
			key, err := GenerateLicenseKey()
			if err != nil {
				return err
			}
			lic.LicenseKey = key
			err = tx.Licenses().Create(ctx, lic)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrDuplicateRecord) {
				return fmt.Errorf("create license: %w", err)
			}
			if attempt+1 >= keyGenerationAttempts {
				return fmt.Errorf("create license: could not generate a unique key")
			}
		}

		grant := &LedgerEntry{
			ID:             uuid.New().String(),
			LicenseID:      lic.ID,
			EntryType:      EntryGrant,
			Amount:         req.MaxCredits,
			BalanceBefore:  0,
			BalanceAfter:   req.MaxCredits,
			Action:         "license_issued",
			IdempotencyKey: uuid.New().String(),
			Metadata:       NewMetadata(""),
			CreatedAt:      now,
		}
		if err := tx.Ledger().Append(ctx, grant); err != nil {
			return fmt.Errorf("append grant entry: %w", err)
		}

		if client.Status != ClientActive {
			if err := tx.Clients().UpdateStatus(ctx, client.ID, ClientActive, now); err != nil {
				return fmt.Errorf("activate client instance: %w", err)
			}
		}
		return nil
	})
	e.logOperation(ctx, "issue_license", start, err,
		attribute.String("client_instance_id", req.ClientInstanceID),
		attribute.String("actor", actorID))
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, notify.Event{
		Type:             notify.EventLicenseIssued,
		ClientInstanceID: lic.ClientInstanceID,
		LicenseKey:       lic.LicenseKey,
		Message:          "a license has been issued for this installation",
		At:               e.now(),
	})
	return lic, nil
}

// ActivationResult is the outcome of one license activation.
type ActivationResult struct {
	License           *License `json:"license"`
	TrialTransitioned bool     `json:"trial_transitioned"`
	Replayed          bool     `json:"replayed"`
}

// ActivateLicense binds a license key to a device, consuming one unit of
// its activation quota. Validation order: key exists, status ACTIVE, not
// expired, under the activation cap, fingerprint binding matches. A
// binding mismatch is a Conflict and never silently overwrites the
// original binding. A live trial registration for the same identity is
// moved to ACTIVATED in the same transaction.
func (e *Engine) ActivateLicense(ctx context.Context, licenseKey string, id Identity, idempotencyKey string) (*ActivationResult, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.activate_license")
	defer span.End()
	start := e.now()

	if err := ValidateKeyFormat(licenseKey); err != nil {
		return nil, err
	}
	key := NormalizeKey(licenseKey)
	if id.DeviceFingerprint == "" || id.HardwareSignature == "" {
		return nil, validation("activate_license", "device fingerprint and hardware signature are both required")
	}

	var result *ActivationResult
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		lic, err := tx.Licenses().FindByKey(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("activate_license", "license key not found")
		}
		if err != nil {
			return fmt.Errorf("lookup license: %w", err)
		}

		if idempotencyKey != "" {
			prior, err := tx.Activations().FindByIdempotencyKey(ctx, idempotencyKey)
			if err == nil {
				if prior.LicenseID != lic.ID || prior.DeviceFingerprint != id.DeviceFingerprint {
					return conflict("activate_license", "idempotency key was already used by another activation")
				}
				result = &ActivationResult{License: lic, Replayed: true}
				return nil
			}
			if !errors.Is(err, ErrRecordNotFound) {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
		}

		switch lic.Status {
		case LicenseActive:
			// proceed
		case LicenseRevoked:
			return invalidState("activate_license", "license has been revoked")
		case LicenseExpired:
			return expired("activate_license", "license has expired; renew to activate")
		}
		if lic.IsExpired(now) {
			return expired("activate_license", "license expired on %s; renew to activate",
				lic.ExpiresAt.Format(time.RFC3339))
		}
		if lic.ActivationCount >= lic.MaxActivations {
			return conflict("activate_license",
				"activation limit reached (%d of %d used)", lic.ActivationCount, lic.MaxActivations)
		}
		if lic.IsBound() && lic.DeviceFingerprint != id.DeviceFingerprint {
			return conflict("activate_license", "license is bound to a different device")
		}

		if !lic.IsBound() {
			lic.DeviceFingerprint = id.DeviceFingerprint
			lic.HardwareSignature = id.HardwareSignature
		}
		lic.ActivationCount++
		t := now
		lic.LastActivatedAt = &t
		if err := tx.Licenses().Update(ctx, lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		rec := &ActivationRecord{
			ID:                uuid.New().String(),
			LicenseID:         lic.ID,
			DeviceFingerprint: id.DeviceFingerprint,
			HardwareSignature: id.HardwareSignature,
			IdempotencyKey:    idempotencyKey,
			ActivatedAt:       now,
		}
		if err := tx.Activations().Append(ctx, rec); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				return conflict("activate_license", "idempotency key was already used")
			}
			return fmt.Errorf("record activation: %w", err)
		}

		result = &ActivationResult{License: lic}

		// A live trial for this device graduates to ACTIVATED. Absence of
		// a trial is normal for direct license purchases.
		reg, err := tx.Registrations().FindByIdentity(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup registration: %w", err)
		}
		if reg.State != TrialActivated && CanTransition(reg.State, TrialActivated) {
			if err := transition(reg, TrialActivated, now); err != nil {
				return err
			}
			reg.LastSeenAt = now
			if err := tx.Registrations().Update(ctx, reg); err != nil {
				return fmt.Errorf("activate trial registration: %w", err)
			}
			result.TrialTransitioned = true
		}
		return nil
	})
	e.logOperation(ctx, "activate_license", start, err,
		attribute.String("device_fingerprint", id.DeviceFingerprint))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokeLicense sets a license to REVOKED, suspends the bound client
// instance, and notifies it. Revocation is recorded with reason, actor
// and timestamp; it is not reversible.
func (e *Engine) RevokeLicense(ctx context.Context, licenseID, reason, actorID string) (*License, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.revoke_license")
	defer span.End()
	start := e.now()

	if reason == "" {
		return nil, validation("revoke_license", "a revocation reason is required")
	}

	var lic *License
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		var err error
		lic, err = tx.Licenses().FindByID(ctx, licenseID)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("revoke_license", "license %s not found", licenseID)
		}
		if err != nil {
			return fmt.Errorf("lookup license: %w", err)
		}
		if lic.Status == LicenseRevoked {
			return invalidState("revoke_license", "license is already revoked")
		}

		lic.Status = LicenseRevoked
		t := now
		lic.RevokedAt = &t
		lic.RevokeReason = reason
		lic.RevokedBy = actorID
		if err := tx.Licenses().Update(ctx, lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		if err := tx.Clients().UpdateStatus(ctx, lic.ClientInstanceID, ClientSuspended, now); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("suspend client instance: %w", err)
		}
		return nil
	})
	e.logOperation(ctx, "revoke_license", start, err,
		attribute.String("license_id", licenseID),
		attribute.String("actor", actorID))
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, notify.Event{
		Type:             notify.EventLicenseRevoked,
		ClientInstanceID: lic.ClientInstanceID,
		LicenseKey:       lic.LicenseKey,
		Message:          "the license for this installation has been revoked: " + reason,
		At:               e.now(),
	})
	return lic, nil
}

// LicenseStatusView is the administrative view of one client's licenses.
type LicenseStatusView struct {
	ClientInstanceID string       `json:"client_instance_id"`
	ClientStatus     ClientStatus `json:"client_status"`
	Licenses         []*License   `json:"licenses"`
}

// GetLicenseStatus reports a client instance's licenses and status.
func (e *Engine) GetLicenseStatus(ctx context.Context, clientInstanceID string) (*LicenseStatusView, error) {
	var view *LicenseStatusView
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		client, err := tx.Clients().FindByID(ctx, clientInstanceID)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("get_license_status", "client instance %s not found", clientInstanceID)
		}
		if err != nil {
			return fmt.Errorf("lookup client instance: %w", err)
		}
		licenses, err := tx.Licenses().ListByClient(ctx, clientInstanceID)
		if err != nil {
			return fmt.Errorf("list licenses: %w", err)
		}
		view = &LicenseStatusView{
			ClientInstanceID: client.ID,
			ClientStatus:     client.Status,
			Licenses:         licenses,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// GetBillingSummary aggregates a client's ledger into a billing position.
func (e *Engine) GetBillingSummary(ctx context.Context, clientInstanceID string) (*BillingSummary, error) {
	var summary *BillingSummary
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		client, err := tx.Clients().FindByID(ctx, clientInstanceID)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("get_billing_summary", "client instance %s not found", clientInstanceID)
		}
		if err != nil {
			return fmt.Errorf("lookup client instance: %w", err)
		}
		licenses, err := tx.Licenses().ListByClient(ctx, clientInstanceID)
		if err != nil {
			return fmt.Errorf("list licenses: %w", err)
		}

		summary = &BillingSummary{
			ClientInstanceID: client.ID,
			ClientStatus:     client.Status,
			GeneratedAt:      e.now(),
		}
		for _, lic := range licenses {
			summary.Licenses = append(summary.Licenses, LicenseBalance{
				LicenseID:      lic.ID,
				LicenseKey:     lic.LicenseKey,
				Status:         lic.Status,
				MaxCredits:     lic.MaxCredits,
				CurrentCredits: lic.CurrentCredits,
				ExpiresAt:      lic.ExpiresAt,
			})
			summary.TotalRemaining += lic.CurrentCredits

			entries, err := tx.Ledger().ListByLicense(ctx, lic.ID)
			if err != nil {
				return fmt.Errorf("list ledger for license %s: %w", lic.ID, err)
			}
			for _, entry := range entries {
				switch entry.EntryType {
				case EntryPurchase, EntryGrant:
					summary.TotalPurchased += entry.Amount
				case EntryConsume:
					summary.TotalConsumed += -entry.Amount
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// GetAllLicenses lists every license in the directory.
func (e *Engine) GetAllLicenses(ctx context.Context) ([]*License, error) {
	var licenses []*License
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		var err error
		licenses, err = tx.Licenses().ListAll(ctx)
		return err
	})
	return licenses, err
}

// GetActivationHistory lists a license's activations, oldest first.
func (e *Engine) GetActivationHistory(ctx context.Context, licenseID string) ([]*ActivationRecord, error) {
	var recs []*ActivationRecord
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		if _, err := tx.Licenses().FindByID(ctx, licenseID); errors.Is(err, ErrRecordNotFound) {
			return notFound("get_activation_history", "license %s not found", licenseID)
		} else if err != nil {
			return fmt.Errorf("lookup license: %w", err)
		}
		var err error
		recs, err = tx.Activations().ListByLicense(ctx, licenseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// RegisterClientInstance records a client installation so licenses can be
// issued against it. Full client onboarding lives outside the engine.
func (e *Engine) RegisterClientInstance(ctx context.Context, name string) (*ClientInstance, error) {
	if name == "" {
		return nil, validation("register_client", "client instance name is required")
	}
	now := e.now()
	client := &ClientInstance{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    ClientTrial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		return tx.Clients().Create(ctx, client)
	})
	if err != nil {
		return nil, fmt.Errorf("create client instance: %w", err)
	}
	return client, nil
}
