package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"poscore/internal/entitlement"
	apierrors "poscore/internal/errors"
	"poscore/internal/exporter"
	"poscore/internal/infrastructure"
	mw "poscore/internal/middleware"
	"poscore/internal/services"
)

// AdminHandler handles the administrative endpoints: license issuance,
// revocation, purchases, directory queries, billing export and the trial
// expiry sweep. Every route requires an authenticated master admin.
type AdminHandler struct {
	service  services.AdminService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(service services.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the chi router for admin endpoints. JWT auth is applied
// by the caller so tests can mount the routes with a fake actor.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/licenses", h.IssueLicense)
	r.Get("/licenses", h.ListLicenses)
	r.Post("/licenses/{licenseID}/revoke", h.RevokeLicense)
	r.Post("/licenses/{licenseID}/purchase", h.PurchaseCredits)
	r.Get("/licenses/{licenseID}/activations", h.ActivationHistory)

	r.Get("/clients/{clientInstanceID}/status", h.LicenseStatus)
	r.Get("/clients/{clientInstanceID}/billing", h.BillingSummary)
	r.Get("/clients/{clientInstanceID}/billing/export", h.ExportBilling)
	r.Post("/clients", h.RegisterClient)

	r.Post("/trials/revoke", h.RevokeTrial)
	r.Post("/trials/expire", h.ExpireTrials)

	return r
}

// IssueLicense handles POST /api/v1/admin/licenses.
func (h *AdminHandler) IssueLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req entitlement.IssueLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	res, err := h.service.IssueLicense(ctx, mw.ActorFromContext(ctx), req)
	if err != nil {
		h.renderError(w, r, "issue_license", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// ListLicenses handles GET /api/v1/admin/licenses.
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenses, err := h.service.GetAllLicenses(ctx, mw.ActorFromContext(ctx))
	if err != nil {
		h.renderError(w, r, "list_licenses", err)
		return
	}
	render.JSON(w, r, map[string]any{
		"licenses": licenses,
		"count":    len(licenses),
		"trace_id": infrastructure.GetTraceID(ctx),
	})
}

// RevokePayload carries a revocation reason.
type RevokePayload struct {
	Reason string `json:"reason"`
}

// Bind implements render.Binder.
func (p *RevokePayload) Bind(r *http.Request) error {
	if p.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// RevokeLicense handles POST /api/v1/admin/licenses/{licenseID}/revoke.
func (h *AdminHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	payload := &RevokePayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	lic, err := h.service.RevokeLicense(ctx, mw.ActorFromContext(ctx), licenseID, payload.Reason)
	if err != nil {
		h.renderError(w, r, "revoke_license", err)
		return
	}
	render.JSON(w, r, lic)
}

// PurchaseCredits handles POST /api/v1/admin/licenses/{licenseID}/purchase.
func (h *AdminHandler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.PurchaseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}
	req.LicenseID = chi.URLParam(r, "licenseID")
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	res, err := h.service.PurchaseCredits(ctx, mw.ActorFromContext(ctx), req)
	if err != nil {
		h.renderError(w, r, "purchase_credits", err)
		return
	}
	render.JSON(w, r, res)
}

// ActivationHistory handles GET /api/v1/admin/licenses/{licenseID}/activations.
func (h *AdminHandler) ActivationHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseID := chi.URLParam(r, "licenseID")

	records, err := h.service.GetActivationHistory(ctx, mw.ActorFromContext(ctx), licenseID)
	if err != nil {
		h.renderError(w, r, "activation_history", err)
		return
	}
	render.JSON(w, r, map[string]any{
		"license_id":  licenseID,
		"activations": records,
		"count":       len(records),
	})
}

// LicenseStatus handles GET /api/v1/admin/clients/{clientInstanceID}/status.
func (h *AdminHandler) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientInstanceID := chi.URLParam(r, "clientInstanceID")

	view, err := h.service.GetLicenseStatus(ctx, mw.ActorFromContext(ctx), clientInstanceID)
	if err != nil {
		h.renderError(w, r, "license_status", err)
		return
	}
	render.JSON(w, r, view)
}

// BillingSummary handles GET /api/v1/admin/clients/{clientInstanceID}/billing.
func (h *AdminHandler) BillingSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientInstanceID := chi.URLParam(r, "clientInstanceID")

	summary, err := h.service.GetBillingSummary(ctx, mw.ActorFromContext(ctx), clientInstanceID)
	if err != nil {
		h.renderError(w, r, "billing_summary", err)
		return
	}
	render.JSON(w, r, summary)
}

// ExportBilling handles GET /api/v1/admin/clients/{clientInstanceID}/billing/export
// and streams the billing summary as an xlsx workbook.
func (h *AdminHandler) ExportBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientInstanceID := chi.URLParam(r, "clientInstanceID")

	summary, err := h.service.GetBillingSummary(ctx, mw.ActorFromContext(ctx), clientInstanceID)
	if err != nil {
		h.renderError(w, r, "export_billing", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="billing-`+clientInstanceID+`.xlsx"`)
	if err := exporter.WriteBillingWorkbook(w, summary); err != nil {
		h.logger.ErrorContext(ctx, "billing export failed",
			slog.String("client_instance_id", clientInstanceID),
			slog.String("error", err.Error()),
		)
	}
}

// RegisterClientPayload carries a new client instance registration.
type RegisterClientPayload struct {
	Name string `json:"name"`
}

// Bind implements render.Binder.
func (p *RegisterClientPayload) Bind(r *http.Request) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// RegisterClient handles POST /api/v1/admin/clients.
func (h *AdminHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &RegisterClientPayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	client, err := h.service.RegisterClientInstance(ctx, mw.ActorFromContext(ctx), payload.Name)
	if err != nil {
		h.renderError(w, r, "register_client", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, client)
}

// RevokeTrialPayload identifies the trial registration to revoke.
type RevokeTrialPayload struct {
	Identity identityPayload `json:"identity"`
	Reason   string          `json:"reason"`
}

// Bind implements render.Binder.
func (p *RevokeTrialPayload) Bind(r *http.Request) error {
	if p.Identity.DeviceFingerprint == "" && p.Identity.HardwareSignature == "" {
		return errors.New("identity is required")
	}
	if p.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// RevokeTrial handles POST /api/v1/admin/trials/revoke.
func (h *AdminHandler) RevokeTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &RevokeTrialPayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	reg, err := h.service.RevokeTrial(ctx, mw.ActorFromContext(ctx), payload.Identity.toIdentity(), payload.Reason)
	if err != nil {
		h.renderError(w, r, "revoke_trial", err)
		return
	}
	render.JSON(w, r, reg)
}

// ExpireTrialsPayload controls the expiry sweep cutoff.
type ExpireTrialsPayload struct {
	MaxAgeDays int `json:"max_age_days"`
}

// Bind implements render.Binder.
func (p *ExpireTrialsPayload) Bind(r *http.Request) error {
	if p.MaxAgeDays <= 0 {
		return errors.New("max_age_days must be positive")
	}
	return nil
}

// ExpireTrials handles POST /api/v1/admin/trials/expire.
func (h *AdminHandler) ExpireTrials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &ExpireTrialsPayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -payload.MaxAgeDays)
	res, err := h.service.ExpireStaleTrials(ctx, mw.ActorFromContext(ctx), cutoff)
	if err != nil {
		h.renderError(w, r, "expire_trials", err)
		return
	}
	render.JSON(w, r, res)
}

func (h *AdminHandler) renderError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	apiErr := apierrors.FromEngine(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "admin request failed",
			slog.String("operation", operation),
			slog.String("trace_id", infrastructure.GetTraceID(ctx)),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.InfoContext(ctx, "admin request denied",
			slog.String("operation", operation),
			slog.String("error_code", apiErr.ErrorCode),
		)
	}
	render.Render(w, r, apierrors.NewErrorResponse(apiErr)) //nolint:errcheck
}
