package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ConsumeResult is the outcome of one credit consumption.
type ConsumeResult struct {
	RegistrationID   string       `json:"registration_id"`
	CreditsRemaining int          `json:"credits_remaining"`
	State            TrialState   `json:"state"`
	Entry            *LedgerEntry `json:"entry"`
	Replayed         bool         `json:"replayed"`
}

// ConsumeCredit charges one trial credit for a business action. The
// read-modify-write runs as a single transaction against the locked
// registration row, so two concurrent calls can never both decrement
// past zero. A retried call carrying the same idempotency key returns
// the originally committed result without a second decrement.
//
// When the decrement brings the balance to zero the registration moves
// to EXHAUSTED within the same transaction.
func (e *Engine) ConsumeCredit(ctx context.Context, id Identity, action, referenceID, idempotencyKey string, meta Metadata) (*ConsumeResult, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.consume_credit")
	defer span.End()
	start := e.now()

	if id.IsZero() {
		return nil, validation("consume_credit", "a device identity is required")
	}
	if action == "" {
		return nil, validation("consume_credit", "action is required")
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	var result *ConsumeResult
	var deferredErr error // business failure committed alongside a state change
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		reg, err := tx.Registrations().FindByIdentity(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("consume_credit", "no trial registration for this device; run an eligibility check first")
		}
		if err != nil {
			return fmt.Errorf("lookup registration: %w", err)
		}

		// Replay detection must precede the state checks: the original
		// call may have exhausted the trial, and its retry must still see
		// the original success.
		prior, err := tx.Ledger().FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			if prior.RegistrationID != reg.ID {
				return conflict("consume_credit", "idempotency key was already used by another registration")
			}
			result = &ConsumeResult{
				RegistrationID:   reg.ID,
				CreditsRemaining: prior.BalanceAfter,
				State:            reg.State,
				Entry:            prior,
				Replayed:         true,
			}
			return nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		switch reg.State {
		case TrialActive:
			// proceed
		case TrialExhausted:
			return exhausted("consume_credit",
				"trial credits are used up; activate a license to continue")
		default:
			return invalidState("consume_credit",
				"trial registration is %s and cannot consume credits", reg.State)
		}

		if reg.CreditsRemaining <= 0 {
			// Defensive: an ACTIVE registration at zero is out of band with
			// the transition table. Commit the EXHAUSTED transition, then
			// surface the exhaustion to the caller.
			if err := transition(reg, TrialExhausted, now); err != nil {
				return err
			}
			reg.LastSeenAt = now
			if err := tx.Registrations().Update(ctx, reg); err != nil {
				return fmt.Errorf("exhaust registration: %w", err)
			}
			deferredErr = exhausted("consume_credit",
				"trial credits are used up; activate a license to continue")
			return nil
		}

		before := reg.CreditsRemaining
		reg.CreditsRemaining--
		reg.CreditsUsed++
		reg.LastSeenAt = now

		entry := &LedgerEntry{
			ID:             uuid.New().String(),
			RegistrationID: reg.ID,
			EntryType:      EntryConsume,
			Amount:         -1,
			BalanceBefore:  before,
			BalanceAfter:   reg.CreditsRemaining,
			Action:         action,
			ReferenceID:    referenceID,
			IdempotencyKey: idempotencyKey,
			Metadata:       meta,
			CreatedAt:      now,
		}
		if err := tx.Ledger().Append(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				return conflict("consume_credit", "idempotency key was already used")
			}
			return fmt.Errorf("append ledger entry: %w", err)
		}

		if reg.CreditsRemaining == 0 {
			if err := transition(reg, TrialExhausted, now); err != nil {
				return err
			}
		}
		if err := tx.Registrations().Update(ctx, reg); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}

		result = &ConsumeResult{
			RegistrationID:   reg.ID,
			CreditsRemaining: reg.CreditsRemaining,
			State:            reg.State,
			Entry:            entry,
		}
		return nil
	})
	if err == nil {
		err = deferredErr
	}
	e.logOperation(ctx, "consume_credit", start, err,
		attribute.String("action", action))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PurchaseResult is the outcome of a credit purchase.
type PurchaseResult struct {
	License  *License     `json:"license"`
	Entry    *LedgerEntry `json:"entry"`
	Replayed bool         `json:"replayed"`
}

// PurchaseCredits adds purchased credits to a license. Purchases are only
// valid against a license; a trial registration never has its balance
// restored (an exhausted trial must go through license activation).
func (e *Engine) PurchaseCredits(ctx context.Context, licenseID, pack string, amount int, referenceID, idempotencyKey string) (*PurchaseResult, error) {
	ctx, span := e.tracer.Start(ctx, "entitlement.purchase_credits")
	defer span.End()
	start := e.now()

	if licenseID == "" {
		return nil, validation("purchase_credits", "license id is required")
	}
	if amount <= 0 {
		return nil, validation("purchase_credits", "purchase amount must be positive")
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	var result *PurchaseResult
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		now := e.now()

		lic, err := tx.Licenses().FindByID(ctx, licenseID)
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("purchase_credits", "license %s not found", licenseID)
		}
		if err != nil {
			return fmt.Errorf("lookup license: %w", err)
		}

		prior, err := tx.Ledger().FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			if prior.LicenseID != lic.ID {
				return conflict("purchase_credits", "idempotency key was already used by another license")
			}
			result = &PurchaseResult{License: lic, Entry: prior, Replayed: true}
			return nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		switch lic.Status {
		case LicenseActive:
			// proceed
		case LicenseRevoked:
			return invalidState("purchase_credits", "license has been revoked")
		case LicenseExpired:
			return expired("purchase_credits", "license has expired; renew before purchasing credits")
		}
		if lic.IsExpired(now) {
			return expired("purchase_credits", "license has expired; renew before purchasing credits")
		}

		before := lic.CurrentCredits
		lic.CurrentCredits += amount

		entry := &LedgerEntry{
			ID:             uuid.New().String(),
			LicenseID:      lic.ID,
			EntryType:      EntryPurchase,
			Amount:         amount,
			BalanceBefore:  before,
			BalanceAfter:   lic.CurrentCredits,
			Action:         "credit_purchase:" + pack,
			ReferenceID:    referenceID,
			IdempotencyKey: idempotencyKey,
			Metadata:       NewMetadata(""),
			CreatedAt:      now,
		}
		if err := tx.Ledger().Append(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				return conflict("purchase_credits", "idempotency key was already used")
			}
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := tx.Licenses().Update(ctx, lic); err != nil {
			return fmt.Errorf("update license: %w", err)
		}

		result = &PurchaseResult{License: lic, Entry: entry}
		return nil
	})
	e.logOperation(ctx, "purchase_credits", start, err,
		attribute.Int("amount", amount))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LedgerForRegistration returns a registration's ledger in commit order.
func (e *Engine) LedgerForRegistration(ctx context.Context, registrationID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.Ledger().ListByRegistration(ctx, registrationID)
		return err
	})
	return entries, err
}

// LedgerForLicense returns a license's ledger in commit order.
func (e *Engine) LedgerForLicense(ctx context.Context, licenseID string) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	err := e.store.WithTransaction(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.Ledger().ListByLicense(ctx, licenseID)
		return err
	})
	return entries, err
}
