package services

import (
	"context"
	"log/slog"
	"time"

	"poscore/internal/entitlement"
	"poscore/internal/infrastructure"
)

// AdminService exposes the administrative operations: license issuance
// and revocation, credit purchases, directory queries and the trial
// expiry sweep.
type AdminService interface {
	IssueLicense(ctx context.Context, actor entitlement.Actor, req entitlement.IssueLicenseRequest) (*IssueLicenseResponse, error)
	RevokeLicense(ctx context.Context, actor entitlement.Actor, licenseID, reason string) (*entitlement.License, error)
	RevokeTrial(ctx context.Context, actor entitlement.Actor, id entitlement.Identity, reason string) (*entitlement.TrialRegistration, error)
	PurchaseCredits(ctx context.Context, actor entitlement.Actor, req PurchaseRequest) (*PurchaseResponse, error)
	GetLicenseStatus(ctx context.Context, actor entitlement.Actor, clientInstanceID string) (*entitlement.LicenseStatusView, error)
	GetBillingSummary(ctx context.Context, actor entitlement.Actor, clientInstanceID string) (*entitlement.BillingSummary, error)
	GetAllLicenses(ctx context.Context, actor entitlement.Actor) ([]*entitlement.License, error)
	GetActivationHistory(ctx context.Context, actor entitlement.Actor, licenseID string) ([]*entitlement.ActivationRecord, error)
	ExpireStaleTrials(ctx context.Context, actor entitlement.Actor, cutoff time.Time) (*ExpireResponse, error)
	RegisterClientInstance(ctx context.Context, actor entitlement.Actor, name string) (*entitlement.ClientInstance, error)
}

// IssueLicenseResponse carries the issued license. The raw key appears
// here and nowhere else; subsequent reads return the license without it.
type IssueLicenseResponse struct {
	License   *entitlement.License `json:"license"`
	Message   string               `json:"message"`
	TraceID   string               `json:"trace_id"`
	Timestamp time.Time            `json:"timestamp"`
}

// PurchaseRequest carries one credit pack purchase.
type PurchaseRequest struct {
	LicenseID      string `json:"license_id" validate:"required"`
	Pack           string `json:"pack" validate:"required"`
	Amount         int    `json:"amount" validate:"required,gt=0"`
	ReferenceID    string `json:"reference_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PurchaseResponse is the API shape of a committed purchase.
type PurchaseResponse struct {
	License   *entitlement.License     `json:"license"`
	Entry     *entitlement.LedgerEntry `json:"entry"`
	Replayed  bool                     `json:"replayed"`
	TraceID   string                   `json:"trace_id"`
	Timestamp time.Time                `json:"timestamp"`
}

// ExpireResponse reports one expiry sweep.
type ExpireResponse struct {
	Expired   int       `json:"expired"`
	Cutoff    time.Time `json:"cutoff"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

type adminService struct {
	gateway *entitlement.Gateway
	logger  *slog.Logger
}

// NewAdminService creates the administrative service.
func NewAdminService(gateway *entitlement.Gateway, logger *slog.Logger) AdminService {
	return &adminService{
		gateway: gateway,
		logger:  logger.With(slog.String("service", "admin")),
	}
}

func (s *adminService) IssueLicense(ctx context.Context, actor entitlement.Actor, req entitlement.IssueLicenseRequest) (*IssueLicenseResponse, error) {
	lic, err := s.gateway.IssueLicense(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.String("client_instance_id", lic.ClientInstanceID),
		slog.String("actor_id", actor.ID),
	)
	return &IssueLicenseResponse{
		License:   lic,
		Message:   "License issued. Store the key securely; it is not shown again.",
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *adminService) RevokeLicense(ctx context.Context, actor entitlement.Actor, licenseID, reason string) (*entitlement.License, error) {
	lic, err := s.gateway.RevokeLicense(ctx, actor, licenseID, reason)
	if err != nil {
		return nil, err
	}
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "license revoked",
		slog.String("license_id", licenseID),
		slog.String("reason", reason),
		slog.String("actor_id", actor.ID),
	)
	return lic, nil
}

func (s *adminService) RevokeTrial(ctx context.Context, actor entitlement.Actor, id entitlement.Identity, reason string) (*entitlement.TrialRegistration, error) {
	reg, err := s.gateway.RevokeTrial(ctx, actor, id, reason)
	if err != nil {
		return nil, err
	}
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "trial revoked",
		slog.String("registration_id", reg.ID),
		slog.String("reason", reason),
		slog.String("actor_id", actor.ID),
	)
	return reg, nil
}

func (s *adminService) PurchaseCredits(ctx context.Context, actor entitlement.Actor, req PurchaseRequest) (*PurchaseResponse, error) {
	res, err := s.gateway.PurchaseCredits(ctx, actor, req.LicenseID, req.Pack, req.Amount, req.ReferenceID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return &PurchaseResponse{
		License:   res.License,
		Entry:     res.Entry,
		Replayed:  res.Replayed,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *adminService) GetLicenseStatus(ctx context.Context, actor entitlement.Actor, clientInstanceID string) (*entitlement.LicenseStatusView, error) {
	return s.gateway.GetLicenseStatus(ctx, actor, clientInstanceID)
}

func (s *adminService) GetBillingSummary(ctx context.Context, actor entitlement.Actor, clientInstanceID string) (*entitlement.BillingSummary, error) {
	return s.gateway.GetBillingSummary(ctx, actor, clientInstanceID)
}

func (s *adminService) GetAllLicenses(ctx context.Context, actor entitlement.Actor) ([]*entitlement.License, error) {
	return s.gateway.GetAllLicenses(ctx, actor)
}

func (s *adminService) GetActivationHistory(ctx context.Context, actor entitlement.Actor, licenseID string) ([]*entitlement.ActivationRecord, error) {
	return s.gateway.GetActivationHistory(ctx, actor, licenseID)
}

func (s *adminService) ExpireStaleTrials(ctx context.Context, actor entitlement.Actor, cutoff time.Time) (*ExpireResponse, error) {
	n, err := s.gateway.ExpireStaleTrials(ctx, actor, cutoff)
	if err != nil {
		return nil, err
	}
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "trial expiry sweep completed",
		slog.Int("expired", n),
		slog.Time("cutoff", cutoff),
	)
	return &ExpireResponse{
		Expired:   n,
		Cutoff:    cutoff,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *adminService) RegisterClientInstance(ctx context.Context, actor entitlement.Actor, name string) (*entitlement.ClientInstance, error) {
	client, err := s.gateway.RegisterClientInstance(ctx, actor, name)
	if err != nil {
		return nil, err
	}
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "client instance registered",
		slog.String("client_instance_id", client.ID),
		slog.String("name", name),
	)
	return client, nil
}
