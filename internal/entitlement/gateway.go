package entitlement

import (
	"context"
	"time"
)

// Gateway is the single public entry point to the entitlement engine. It
// enforces role-based authorization and delegates to the engine; no
// caller reaches the registry, ledger or directory except through it.
//
// Authorization failures are KindUnauthorized, distinct from the
// business-rule kinds, so callers can tell "you may not do this" apart
// from "this would violate an invariant".
type Gateway struct {
	engine *Engine
	auth   Authorizer
}

// NewGateway wraps an engine with an authorization policy.
func NewGateway(engine *Engine, auth Authorizer) *Gateway {
	if auth == nil {
		auth = NewPolicyAuthorizer()
	}
	return &Gateway{engine: engine, auth: auth}
}

func (g *Gateway) authorize(actor Actor, action Action) error {
	if !g.auth.Permits(actor.Role, action) {
		return unauthorized(string(action), "role %q may not perform %s", actor.Role, action)
	}
	return nil
}

// CheckEligibility is invoked by the client installation itself.
func (g *Gateway) CheckEligibility(ctx context.Context, actor Actor, id Identity, meta Metadata) (*EligibilityResult, error) {
	if err := g.authorize(actor, ActionCheckEligibility); err != nil {
		return nil, err
	}
	return g.engine.CheckEligibility(ctx, id, meta)
}

// ConsumeCredit is invoked by the client installation on every
// credit-consuming business action.
func (g *Gateway) ConsumeCredit(ctx context.Context, actor Actor, id Identity, action, referenceID, idempotencyKey string, meta Metadata) (*ConsumeResult, error) {
	if err := g.authorize(actor, ActionConsumeCredit); err != nil {
		return nil, err
	}
	return g.engine.ConsumeCredit(ctx, id, action, referenceID, idempotencyKey, meta)
}

// ActivateLicense is invoked by the client installation.
func (g *Gateway) ActivateLicense(ctx context.Context, actor Actor, licenseKey string, id Identity, idempotencyKey string) (*ActivationResult, error) {
	if err := g.authorize(actor, ActionActivateLicense); err != nil {
		return nil, err
	}
	return g.engine.ActivateLicense(ctx, licenseKey, id, idempotencyKey)
}

// IssueLicense is administrative.
func (g *Gateway) IssueLicense(ctx context.Context, actor Actor, req IssueLicenseRequest) (*License, error) {
	if err := g.authorize(actor, ActionIssueLicense); err != nil {
		return nil, err
	}
	return g.engine.IssueLicense(ctx, req, actor.ID)
}

// RevokeLicense is administrative.
func (g *Gateway) RevokeLicense(ctx context.Context, actor Actor, licenseID, reason string) (*License, error) {
	if err := g.authorize(actor, ActionRevokeLicense); err != nil {
		return nil, err
	}
	return g.engine.RevokeLicense(ctx, licenseID, reason, actor.ID)
}

// RevokeTrial is administrative.
func (g *Gateway) RevokeTrial(ctx context.Context, actor Actor, id Identity, reason string) (*TrialRegistration, error) {
	if err := g.authorize(actor, ActionRevokeTrial); err != nil {
		return nil, err
	}
	return g.engine.RevokeTrial(ctx, id, reason, actor.ID)
}

// PurchaseCredits is administrative.
func (g *Gateway) PurchaseCredits(ctx context.Context, actor Actor, licenseID, pack string, amount int, referenceID, idempotencyKey string) (*PurchaseResult, error) {
	if err := g.authorize(actor, ActionPurchaseCredits); err != nil {
		return nil, err
	}
	return g.engine.PurchaseCredits(ctx, licenseID, pack, amount, referenceID, idempotencyKey)
}

// GetLicenseStatus is administrative.
func (g *Gateway) GetLicenseStatus(ctx context.Context, actor Actor, clientInstanceID string) (*LicenseStatusView, error) {
	if err := g.authorize(actor, ActionGetLicenseStatus); err != nil {
		return nil, err
	}
	return g.engine.GetLicenseStatus(ctx, clientInstanceID)
}

// GetBillingSummary is administrative.
func (g *Gateway) GetBillingSummary(ctx context.Context, actor Actor, clientInstanceID string) (*BillingSummary, error) {
	if err := g.authorize(actor, ActionGetBillingSummary); err != nil {
		return nil, err
	}
	return g.engine.GetBillingSummary(ctx, clientInstanceID)
}

// GetAllLicenses is administrative.
func (g *Gateway) GetAllLicenses(ctx context.Context, actor Actor) ([]*License, error) {
	if err := g.authorize(actor, ActionListLicenses); err != nil {
		return nil, err
	}
	return g.engine.GetAllLicenses(ctx)
}

// GetActivationHistory is administrative.
func (g *Gateway) GetActivationHistory(ctx context.Context, actor Actor, licenseID string) ([]*ActivationRecord, error) {
	if err := g.authorize(actor, ActionGetActivationHistory); err != nil {
		return nil, err
	}
	return g.engine.GetActivationHistory(ctx, licenseID)
}

// ExpireStaleTrials is administrative; the caller owns the expiry clock.
func (g *Gateway) ExpireStaleTrials(ctx context.Context, actor Actor, cutoff time.Time) (int, error) {
	if err := g.authorize(actor, ActionExpireTrials); err != nil {
		return 0, err
	}
	return g.engine.ExpireStaleTrials(ctx, cutoff)
}

// RegisterClientInstance is administrative.
func (g *Gateway) RegisterClientInstance(ctx context.Context, actor Actor, name string) (*ClientInstance, error) {
	if err := g.authorize(actor, ActionRegisterClient); err != nil {
		return nil, err
	}
	return g.engine.RegisterClientInstance(ctx, name)
}
