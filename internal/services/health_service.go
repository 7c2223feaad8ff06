package services

import (
	"context"
	"log/slog"
	"time"

	"poscore/internal/entitlement"
)

// HealthService reports process liveness and dependency readiness.
type HealthService struct {
	store     entitlement.Store
	logger    *slog.Logger
	version   string
	startedAt time.Time
}

// NewHealthService creates a health service backed by the given store.
func NewHealthService(st entitlement.Store, version string, logger *slog.Logger) *HealthService {
	return &HealthService{
		store:     st,
		logger:    logger.With(slog.String("service", "health")),
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

// HealthStatus is the health endpoint response.
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	UptimeSec int64             `json:"uptime_seconds"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// LivenessCheck reports that the process is running. It never touches
// dependencies; a wedged database must not get the process restarted.
func (s *HealthService) LivenessCheck(ctx context.Context) *HealthStatus {
	return &HealthStatus{
		Status:    "ok",
		Version:   s.version,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	}
}

// ReadinessCheck pings the store. A failed ping marks the instance
// not-ready so the load balancer drains it.
func (s *HealthService) ReadinessCheck(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := s.LivenessCheck(ctx)
	status.Checks = map[string]string{"store": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.ErrorContext(ctx, "store ping failed", slog.String("error", err.Error()))
		status.Status = "degraded"
		status.Checks["store"] = err.Error()
	}
	return status
}
