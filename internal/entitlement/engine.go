package entitlement

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"poscore/internal/notify"
	"poscore/internal/window"
)

// Config tunes the engine's policy knobs.
type Config struct {
	// DefaultTrialCredits is the allocation granted to a never-before-seen
	// device.
	DefaultTrialCredits int

	// VolumeThreshold is the number of distinct registrations from one
	// origin network address within VolumeWindow above which the
	// MULTIPLE_TRIALS heuristic fires.
	VolumeThreshold int
	VolumeWindow    time.Duration

	// DefaultMaxActivations caps how many devices one license key can be
	// activated on when the issue request does not say otherwise.
	DefaultMaxActivations int
}

// DefaultConfig returns the reference policy values.
func DefaultConfig() Config {
	return Config{
		DefaultTrialCredits:   50,
		VolumeThreshold:       3,
		VolumeWindow:          24 * time.Hour,
		DefaultMaxActivations: 3,
	}
}

// Engine implements the entitlement state machines over a transactional
// store. All public methods are safe for concurrent use; each performs
// its read-modify-write as one store transaction.
type Engine struct {
	store    Store
	window   window.Counter
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      Config

	now func() time.Time // test seam
}

// NewEngine wires an engine. notifier may be nil (notifications dropped).
func NewEngine(st Store, win window.Counter, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.DefaultTrialCredits <= 0 {
		cfg.DefaultTrialCredits = DefaultConfig().DefaultTrialCredits
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = DefaultConfig().VolumeThreshold
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = DefaultConfig().VolumeWindow
	}
	if cfg.DefaultMaxActivations <= 0 {
		cfg.DefaultMaxActivations = DefaultConfig().DefaultMaxActivations
	}
	return &Engine{
		store:    st,
		window:   win,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "entitlement_engine")),
		tracer:   otel.Tracer("entitlement-engine"),
		cfg:      cfg,
		now:      time.Now,
	}
}
