// Package services contains the application service layer sitting
// between the HTTP transport and the entitlement engine. Services own
// response shaping (trace IDs, timestamps, human-readable messages) and
// request-scoped logging; business rules live in the engine.
package services

import (
	"context"
	"log/slog"
	"time"

	"poscore/internal/entitlement"
	"poscore/internal/infrastructure"
)

// EntitlementService exposes the client-facing operations: eligibility,
// credit consumption and license activation.
type EntitlementService interface {
	CheckEligibility(ctx context.Context, actor entitlement.Actor, id entitlement.Identity, meta entitlement.Metadata) (*EligibilityResponse, error)
	ConsumeCredit(ctx context.Context, actor entitlement.Actor, req ConsumeRequest) (*ConsumeResponse, error)
	ActivateLicense(ctx context.Context, actor entitlement.Actor, req ActivateRequest) (*ActivateResponse, error)
}

// ConsumeRequest carries one credit consumption attempt.
type ConsumeRequest struct {
	Identity       entitlement.Identity
	Action         string
	ReferenceID    string
	IdempotencyKey string
	Metadata       entitlement.Metadata
}

// ActivateRequest carries one activation attempt.
type ActivateRequest struct {
	LicenseKey     string
	Identity       entitlement.Identity
	IdempotencyKey string
}

// EligibilityResponse is the API shape of an eligibility decision.
type EligibilityResponse struct {
	Eligible         bool      `json:"eligible"`
	Reason           string    `json:"reason"`
	Message          string    `json:"message"`
	RegistrationID   string    `json:"registration_id,omitempty"`
	State            string    `json:"state,omitempty"`
	CreditsRemaining int       `json:"credits_remaining"`
	TraceID          string    `json:"trace_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// ConsumeResponse is the API shape of a committed (or replayed) charge.
type ConsumeResponse struct {
	RegistrationID   string                   `json:"registration_id"`
	CreditsRemaining int                      `json:"credits_remaining"`
	State            string                   `json:"state"`
	Entry            *entitlement.LedgerEntry `json:"entry"`
	Replayed         bool                     `json:"replayed"`
	TraceID          string                   `json:"trace_id"`
	Timestamp        time.Time                `json:"timestamp"`
}

// ActivateResponse is the API shape of a license activation.
type ActivateResponse struct {
	License           *entitlement.License `json:"license"`
	TrialTransitioned bool                 `json:"trial_transitioned"`
	Replayed          bool                 `json:"replayed"`
	Message           string               `json:"message"`
	TraceID           string               `json:"trace_id"`
	Timestamp         time.Time            `json:"timestamp"`
}

type entitlementService struct {
	gateway *entitlement.Gateway
	logger  *slog.Logger
}

// NewEntitlementService creates the client-facing service.
func NewEntitlementService(gateway *entitlement.Gateway, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		gateway: gateway,
		logger:  logger.With(slog.String("service", "entitlement")),
	}
}

func (s *entitlementService) CheckEligibility(ctx context.Context, actor entitlement.Actor, id entitlement.Identity, meta entitlement.Metadata) (*EligibilityResponse, error) {
	res, err := s.gateway.CheckEligibility(ctx, actor, id, meta)
	if err != nil {
		return nil, err
	}
	return &EligibilityResponse{
		Eligible:         res.Eligible,
		Reason:           res.Reason,
		Message:          eligibilityMessage(res),
		RegistrationID:   res.RegistrationID,
		State:            string(res.State),
		CreditsRemaining: res.CreditsRemaining,
		TraceID:          infrastructure.GetTraceID(ctx),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// eligibilityMessage turns a machine reason code into text a cashier
// could read off the terminal.
func eligibilityMessage(res *entitlement.EligibilityResult) string {
	switch res.Reason {
	case entitlement.ReasonTrialStarted:
		return "Trial started. Credits are available for business actions."
	case entitlement.ReasonTrialActive:
		return "Trial is active."
	case entitlement.ReasonTrialExhausted:
		return "Trial credits are used up. Purchase a license to continue."
	case entitlement.ReasonTrialExpired:
		return "Trial period has ended. Purchase a license to continue."
	case entitlement.ReasonTrialRevoked:
		return "Trial access has been revoked. Contact support."
	case entitlement.ReasonAlreadyLicensed:
		return "This device is covered by an active license."
	default:
		return res.Reason
	}
}

func (s *entitlementService) ConsumeCredit(ctx context.Context, actor entitlement.Actor, req ConsumeRequest) (*ConsumeResponse, error) {
	res, err := s.gateway.ConsumeCredit(ctx, actor, req.Identity, req.Action, req.ReferenceID, req.IdempotencyKey, req.Metadata)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		infrastructure.LoggerWithContext(ctx).DebugContext(ctx, "consume replayed",
			slog.String("registration_id", res.RegistrationID),
			slog.String("idempotency_key", req.IdempotencyKey),
		)
	}
	return &ConsumeResponse{
		RegistrationID:   res.RegistrationID,
		CreditsRemaining: res.CreditsRemaining,
		State:            string(res.State),
		Entry:            res.Entry,
		Replayed:         res.Replayed,
		TraceID:          infrastructure.GetTraceID(ctx),
		Timestamp:        time.Now().UTC(),
	}, nil
}

func (s *entitlementService) ActivateLicense(ctx context.Context, actor entitlement.Actor, req ActivateRequest) (*ActivateResponse, error) {
	res, err := s.gateway.ActivateLicense(ctx, actor, req.LicenseKey, req.Identity, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	msg := "License activated on this device."
	if res.Replayed {
		msg = "License was already activated on this device."
	}
	return &ActivateResponse{
		License:           res.License,
		TrialTransitioned: res.TrialTransitioned,
		Replayed:          res.Replayed,
		Message:           msg,
		TraceID:           infrastructure.GetTraceID(ctx),
		Timestamp:         time.Now().UTC(),
	}, nil
}
