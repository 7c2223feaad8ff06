package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Fraud heuristics are advisory: they flag and log, they never block a
// request on their own. Hard denials come from the state machine;
// escalation (auto-revoke after N flags) is an administrative decision
// layered on top via RevokeTrial.

// flagIdentitySplit records a TRIAL_RESET flag against an existing
// registration whose hardware signature was re-presented under a new
// device fingerprint after the trial was spent. The existing row keeps
// the evidence; the new request proceeds.
func (e *Engine) flagIdentitySplit(ctx context.Context, tx Tx, existing *TrialRegistration, attempted Identity, now time.Time) error {
	existing.ReinstallAttempts++
	existing.IsSuspicious = true
	if err := tx.Registrations().Update(ctx, existing); err != nil {
		return fmt.Errorf("flag registration: %w", err)
	}

	rec := &SuspiciousActivityRecord{
		ID:             uuid.New().String(),
		RegistrationID: existing.ID,
		ActivityType:   ActivityTrialReset,
		Severity:       SeverityHigh,
		Description: fmt.Sprintf(
			"hardware signature re-registered under a new fingerprint while trial is %s (attempt %d)",
			existing.State, existing.ReinstallAttempts),
		ActionTaken: "flagged; new registration permitted",
		DetectedAt:  now,
	}
	if err := tx.Activity().Append(ctx, rec); err != nil {
		return fmt.Errorf("record trial reset: %w", err)
	}
	observeFraudFlag(ActivityTrialReset)

	e.logger.WarnContext(ctx, "trial reset attempt detected",
		slog.String("registration_id", existing.ID),
		slog.String("attempted_fingerprint", attempted.DeviceFingerprint),
		slog.Int("reinstall_attempts", existing.ReinstallAttempts),
	)
	return nil
}

// checkRegistrationVolume counts distinct registrations per origin
// network address in the rolling window and logs MULTIPLE_TRIALS when the
// threshold is crossed. With no origin metadata the heuristic has nothing
// to correlate and is skipped.
func (e *Engine) checkRegistrationVolume(ctx context.Context, tx Tx, reg *TrialRegistration, origin string, now time.Time) error {
	if origin == "" || e.window == nil {
		return nil
	}

	count, err := e.window.Record(ctx, origin, reg.ID, now)
	if err != nil {
		// The window backend being down must not block registration.
		e.logger.ErrorContext(ctx, "registration volume window unavailable",
			slog.String("error", err.Error()))
		return nil
	}
	if count <= e.cfg.VolumeThreshold {
		return nil
	}

	rec := &SuspiciousActivityRecord{
		ID:             uuid.New().String(),
		RegistrationID: reg.ID,
		ActivityType:   ActivityMultipleTrials,
		Severity:       SeverityMedium,
		Description: fmt.Sprintf(
			"%d distinct trial registrations from origin %s within %s",
			count, origin, e.cfg.VolumeWindow),
		ActionTaken: "flagged",
		DetectedAt:  now,
	}
	if err := tx.Activity().Append(ctx, rec); err != nil {
		return fmt.Errorf("record volume flag: %w", err)
	}
	observeFraudFlag(ActivityMultipleTrials)

	e.logger.WarnContext(ctx, "registration volume threshold exceeded",
		slog.String("origin", origin),
		slog.Int("count", count),
	)
	return nil
}

// RevokeTrial forcibly moves a registration to REVOKED. This is the only
// path that blocks a flagged trial, and it always leaves a CRITICAL
// activity record behind for traceability.
func (e *Engine) RevokeTrial(ctx context.Context, id Identity, reason, actorID string) (*TrialRegistration, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.revoke_trial")
	defer span.End()
	start := e.now()

	if reason == "" {
		return nil, validation("revoke_trial", "a revocation reason is required")
	}

	var revoked *TrialRegistration
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		reg, err := tx.Registrations().FindByIdentity(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("revoke_trial", "no trial registration for this identity")
		}
		if err != nil {
			return fmt.Errorf("lookup registration: %w", err)
		}
		if reg.State == TrialRevoked {
			return invalidState("revoke_trial", "trial registration is already revoked")
		}

		if err := transition(reg, TrialRevoked, now); err != nil {
			return err
		}
		if err := tx.Registrations().Update(ctx, reg); err != nil {
			return fmt.Errorf("revoke registration: %w", err)
		}

		rec := &SuspiciousActivityRecord{
			ID:             uuid.New().String(),
			RegistrationID: reg.ID,
			ActivityType:   ActivityTrialRevoked,
			Severity:       SeverityCritical,
			Description:    fmt.Sprintf("trial revoked by %s: %s", actorID, reason),
			ActionTaken:    "trial_revoked",
			DetectedAt:     now,
		}
		if err := tx.Activity().Append(ctx, rec); err != nil {
			return fmt.Errorf("record revocation: %w", err)
		}
		observeFraudFlag(ActivityTrialRevoked)

		revoked = reg
		return nil
	})
	e.logOperation(ctx, "revoke_trial", start, err,
		attribute.String("actor", actorID))
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// ActivityForRegistration returns the suspicious-activity log for a
// registration, oldest first.
func (e *Engine) ActivityForRegistration(ctx context.Context, registrationID string) ([]*SuspiciousActivityRecord, error) {
	var recs []*SuspiciousActivityRecord
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		var err error
		recs, err = tx.Activity().ListByRegistration(ctx, registrationID)
		return err
	})
	return recs, err
}
