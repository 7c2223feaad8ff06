package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Eligibility reason codes returned by CheckEligibility.
const (
	ReasonTrialActive     = "TRIAL_ACTIVE"
	ReasonTrialStarted    = "TRIAL_STARTED"
	ReasonTrialExhausted  = "TRIAL_EXHAUSTED"
	ReasonTrialExpired    = "TRIAL_EXPIRED"
	ReasonAlreadyLicensed = "ALREADY_LICENSED"
	ReasonTrialRevoked    = "TRIAL_REVOKED"
)

// EligibilityResult is the outcome of one eligibility check.
type EligibilityResult struct {
	Eligible         bool       `json:"eligible"`
	Reason           string     `json:"reason"`
	CreditsRemaining int        `json:"credits_remaining"`
	State            TrialState `json:"state"`
	RegistrationID   string     `json:"registration_id"`
}

// CheckEligibility decides whether the presented identity may perform
// credit-consuming trial actions. It creates a registration on the first
// sighting of a device; for every other sighting it updates last_seen_at
// and reports the registration's standing.
//
// Lookup matches on fingerprint OR hardware signature deliberately: a
// device that changed one identifier but kept the other is still
// recognized, which is the primary trial-reset signal. A hardware match
// against a spent registration does not block the new device (hardware
// re-imaging is legitimate) but is flagged by the fraud heuristics.
func (e *Engine) CheckEligibility(ctx context.Context, id Identity, meta Metadata) (*EligibilityResult, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.check_eligibility")
	defer span.End()
	start := e.now()

	if id.DeviceFingerprint == "" || id.HardwareSignature == "" {
		return nil, validation("check_eligibility", "device fingerprint and hardware signature are both required")
	}

	var result *EligibilityResult
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		reg, err := tx.Registrations().FindByIdentity(ctx, id)
		switch {
		case err == nil:
			result, err = e.recheckExisting(ctx, tx, reg, id, meta, now)
			return err
		case errors.Is(err, ErrRecordNotFound):
			result, err = e.register(ctx, tx, id, meta, now)
			return err
		default:
			return fmt.Errorf("lookup registration: %w", err)
		}
	})
	e.logOperation(ctx, "check_eligibility", start, err,
		attribute.String("device_fingerprint", id.DeviceFingerprint))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recheckExisting handles a device the registry already knows. When only
// the hardware signature matched and the known registration is spent,
// the request is treated as a fresh device (flagged, not blocked).
func (e *Engine) recheckExisting(ctx context.Context, tx Tx, reg *TrialRegistration, id Identity, meta Metadata, now time.Time) (*EligibilityResult, error) {
	if reg.DeviceFingerprint != id.DeviceFingerprint && IsTerminal(reg.State) {
		// Same hardware, new fingerprint, spent trial: the identity-split
		// heuristic flags the old registration and a new one is created so
		// legitimate re-imaged hardware is not locked out.
		if err := e.flagIdentitySplit(ctx, tx, reg, id, now); err != nil {
			return nil, err
		}
		return e.register(ctx, tx, id, meta, now)
	}

	reg.LastSeenAt = now
	if err := tx.Registrations().Update(ctx, reg); err != nil {
		return nil, fmt.Errorf("touch registration: %w", err)
	}
	return eligibilityOf(reg), nil
}

// register creates a brand-new ACTIVE registration with the default
// credit allocation and runs the volume heuristic against its origin.
func (e *Engine) register(ctx context.Context, tx Tx, id Identity, meta Metadata, now time.Time) (*EligibilityResult, error) {
	reg := &TrialRegistration{
		ID:                uuid.New().String(),
		DeviceFingerprint: id.DeviceFingerprint,
		HardwareSignature: id.HardwareSignature,
		State:             TrialActive,
		CreditsAllocated:  e.cfg.DefaultTrialCredits,
		CreditsUsed:       0,
		CreditsRemaining:  e.cfg.DefaultTrialCredits,
		FirstSeenAt:       now,
		LastSeenAt:        now,
	}
	if err := tx.Registrations().Create(ctx, reg); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, conflict("check_eligibility", "device fingerprint is already registered")
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}

	if err := e.checkRegistrationVolume(ctx, tx, reg, meta.Origin, now); err != nil {
		return nil, err
	}

	res := eligibilityOf(reg)
	res.Reason = ReasonTrialStarted
	return res, nil
}

// eligibilityOf maps a registration's standing to a result. Devices in
// EXHAUSTED, EXPIRED, ACTIVATED or REVOKED never regain trial credits.
func eligibilityOf(reg *TrialRegistration) *EligibilityResult {
	res := &EligibilityResult{
		CreditsRemaining: reg.CreditsRemaining,
		State:            reg.State,
		RegistrationID:   reg.ID,
	}
	switch reg.State {
	case TrialActive:
		res.Eligible = reg.CreditsRemaining > 0
		res.Reason = ReasonTrialActive
		if !res.Eligible {
			res.Reason = ReasonTrialExhausted
		}
	case TrialExhausted:
		res.Reason = ReasonTrialExhausted
	case TrialExpired:
		res.Reason = ReasonTrialExpired
	case TrialActivated:
		res.Reason = ReasonAlreadyLicensed
	case TrialRevoked:
		res.Reason = ReasonTrialRevoked
	}
	return res
}

// ExpireStaleTrials moves ACTIVE and EXHAUSTED registrations first seen
// before the cutoff to EXPIRED. The expiry clock is owned by the caller
// (a scheduled administrative sweep); the engine only executes the
// transition. Returns the number of registrations expired.
func (e *Engine) ExpireStaleTrials(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.expire_stale_trials")
	defer span.End()
	start := e.now()

	var expired int
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		regs, err := tx.Registrations().ListActiveBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list stale registrations: %w", err)
		}
		now := e.now()
		for _, reg := range regs {
			if err := transition(reg, TrialExpired, now); err != nil {
				return err
			}
			if err := tx.Registrations().Update(ctx, reg); err != nil {
				return fmt.Errorf("expire registration %s: %w", reg.ID, err)
			}
			expired++
		}
		return nil
	})
	e.logOperation(ctx, "expire_stale_trials", start, err,
		attribute.Int("expired", expired))
	if err != nil {
		return 0, err
	}
	return expired, nil
}
