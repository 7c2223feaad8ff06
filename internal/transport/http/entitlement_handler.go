package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"poscore/internal/entitlement"
	apierrors "poscore/internal/errors"
	"poscore/internal/infrastructure"
	mw "poscore/internal/middleware"
	"poscore/internal/notify"
	"poscore/internal/services"
)

// EntitlementHandler handles the client-facing endpoints: trial
// eligibility, credit consumption, license activation and the
// notification stream.
type EntitlementHandler struct {
	service services.EntitlementService
	hub     *notify.Hub
	logger  *slog.Logger
}

// NewEntitlementHandler creates a new entitlement handler. hub may be
// nil when WebSocket notifications are disabled.
func NewEntitlementHandler(service services.EntitlementService, hub *notify.Hub, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service: service,
		hub:     hub,
		logger:  logger.With(slog.String("handler", "entitlement")),
	}
}

// Routes returns the chi router for client endpoints.
func (h *EntitlementHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/eligibility", h.CheckEligibility)
	r.Post("/consume", h.ConsumeCredit)
	r.Post("/activate", h.ActivateLicense)
	if h.hub != nil {
		r.Get("/notifications/{clientInstanceID}", h.Notifications)
	}
	return r
}

// identityPayload is the wire form of a device identity.
type identityPayload struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	HardwareSignature string `json:"hardware_signature"`
}

func (p identityPayload) toIdentity() entitlement.Identity {
	return entitlement.Identity{
		DeviceFingerprint: p.DeviceFingerprint,
		HardwareSignature: p.HardwareSignature,
	}
}

// metadataPayload is the optional request metadata block.
type metadataPayload struct {
	Origin     string            `json:"origin,omitempty"`
	AppVersion string            `json:"app_version,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

func (p metadataPayload) toMetadata() entitlement.Metadata {
	meta := entitlement.NewMetadata(p.Origin)
	meta.AppVersion = p.AppVersion
	meta.Extra = p.Extra
	return meta
}

// EligibilityPayload is the eligibility check request body.
type EligibilityPayload struct {
	Identity identityPayload `json:"identity"`
	Metadata metadataPayload `json:"metadata"`
}

// Bind implements render.Binder.
func (p *EligibilityPayload) Bind(r *http.Request) error {
	if p.Identity.DeviceFingerprint == "" {
		return errors.New("identity.device_fingerprint is required")
	}
	if p.Identity.HardwareSignature == "" {
		return errors.New("identity.hardware_signature is required")
	}
	return nil
}

// CheckEligibility handles POST /api/v1/entitlement/eligibility.
func (h *EntitlementHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &EligibilityPayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	res, err := h.service.CheckEligibility(ctx, mw.ActorFromContext(ctx), payload.Identity.toIdentity(), payload.Metadata.toMetadata())
	if err != nil {
		h.renderError(w, r, "check_eligibility", err)
		return
	}
	render.JSON(w, r, res)
}

// ConsumePayload is the credit consumption request body.
type ConsumePayload struct {
	Identity       identityPayload `json:"identity"`
	Action         string          `json:"action"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       metadataPayload `json:"metadata"`
}

// Bind implements render.Binder.
func (p *ConsumePayload) Bind(r *http.Request) error {
	if p.Identity.DeviceFingerprint == "" {
		return errors.New("identity.device_fingerprint is required")
	}
	if p.Action == "" {
		return errors.New("action is required")
	}
	return nil
}

// ConsumeCredit handles POST /api/v1/entitlement/consume.
func (h *EntitlementHandler) ConsumeCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &ConsumePayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	res, err := h.service.ConsumeCredit(ctx, mw.ActorFromContext(ctx), services.ConsumeRequest{
		Identity:       payload.Identity.toIdentity(),
		Action:         payload.Action,
		ReferenceID:    payload.ReferenceID,
		IdempotencyKey: payload.IdempotencyKey,
		Metadata:       payload.Metadata.toMetadata(),
	})
	if err != nil {
		h.renderError(w, r, "consume_credit", err)
		return
	}
	render.JSON(w, r, res)
}

// ActivatePayload is the license activation request body.
type ActivatePayload struct {
	LicenseKey     string          `json:"license_key"`
	Identity       identityPayload `json:"identity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Bind implements render.Binder.
func (p *ActivatePayload) Bind(r *http.Request) error {
	if p.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	if err := entitlement.ValidateKeyFormat(p.LicenseKey); err != nil {
		return errors.New("invalid license key format, expected POS-XXXX-XXXX-XXXX-XXXX")
	}
	if p.Identity.DeviceFingerprint == "" {
		return errors.New("identity.device_fingerprint is required")
	}
	return nil
}

// ActivateLicense handles POST /api/v1/entitlement/activate.
func (h *EntitlementHandler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload := &ActivatePayload{}
	if err := render.Bind(r, payload); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err))) //nolint:errcheck
		return
	}

	res, err := h.service.ActivateLicense(ctx, mw.ActorFromContext(ctx), services.ActivateRequest{
		LicenseKey:     payload.LicenseKey,
		Identity:       payload.Identity.toIdentity(),
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		h.renderError(w, r, "activate_license", err)
		return
	}
	render.JSON(w, r, res)
}

// Notifications handles GET /api/v1/entitlement/notifications/{clientInstanceID}
// by upgrading to a WebSocket event stream.
func (h *EntitlementHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	clientInstanceID := chi.URLParam(r, "clientInstanceID")
	if clientInstanceID == "" {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInvalidRequest)) //nolint:errcheck
		return
	}
	h.hub.ServeWS(w, r, clientInstanceID)
}

func (h *EntitlementHandler) renderError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	apiErr := apierrors.FromEngine(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "entitlement request failed",
			slog.String("operation", operation),
			slog.String("trace_id", infrastructure.GetTraceID(ctx)),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.InfoContext(ctx, "entitlement request denied",
			slog.String("operation", operation),
			slog.String("error_code", apiErr.ErrorCode),
		)
	}
	render.Render(w, r, apierrors.NewErrorResponse(apiErr)) //nolint:errcheck
}
