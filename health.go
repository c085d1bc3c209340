package tornago

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus represents the health state of a Tor connection or service.
type HealthStatus string

const (
	// HealthStatusHealthy indicates the service is functioning normally.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates the service is operational but experiencing issues.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates the service is not functioning.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck contains the result of a health check operation.
// It is an immutable value object that provides methods to query health status.
type HealthCheck struct {
	status    HealthStatus
	message   string
	timestamp time.Time
	latency   time.Duration
}

// IsHealthy returns true if all components are functioning normally.
func (h HealthCheck) IsHealthy() bool {
	return h.status == HealthStatusHealthy
}

// IsDegraded returns true if the service is operational but experiencing issues.
func (h HealthCheck) IsDegraded() bool {
	return h.status == HealthStatusDegraded
}

// IsUnhealthy returns true if the service is not functioning.
func (h HealthCheck) IsUnhealthy() bool {
	return h.status == HealthStatusUnhealthy
}

// Status returns the overall health status.
func (h HealthCheck) Status() HealthStatus {
	return h.status
}

// Message provides human-readable context about the health status.
func (h HealthCheck) Message() string {
	return h.message
}

// Timestamp returns when the health check was performed.
func (h HealthCheck) Timestamp() time.Time {
	return h.timestamp
}

// Latency returns how long the health check took.
func (h HealthCheck) Latency() time.Duration {
	return h.latency
}

// String returns a human-readable representation of the health check.
func (h HealthCheck) String() string {
	return fmt.Sprintf("Health: %s (%s) - latency: %v",
		h.status, h.message, h.latency.Round(time.Millisecond))
}

// CheckEngine performs a health check against a live Engine by issuing
// GETINFO version. The check includes a timeout to prevent hanging on an
// unresponsive daemon.
//
// Example:
//
//	engine, _ := tornago.Dial(context.Background(), addr)
//	health := tornago.CheckEngine(context.Background(), engine)
//	if !health.IsHealthy() {
//	    log.Printf("Tor unhealthy: %s", health.Message())
//	}
func CheckEngine(ctx context.Context, engine *Engine) HealthCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info, err := engine.GetInfo(checkCtx, "version")
	latency := time.Since(start)
	version := info["version"]

	switch {
	case err != nil:
		return HealthCheck{
			status:    HealthStatusUnhealthy,
			message:   fmt.Sprintf("GetInfo failed: %v", err),
			timestamp: start,
			latency:   latency,
		}
	case version == "":
		return HealthCheck{
			status:    HealthStatusDegraded,
			message:   "no version returned",
			timestamp: start,
			latency:   latency,
		}
	default:
		return HealthCheck{
			status:    HealthStatusHealthy,
			message:   "All checks passed",
			timestamp: start,
			latency:   latency,
		}
	}
}

// CheckTorDaemon performs a health check on a TorProcess.
// It verifies that:
//   - The Tor process is running
//   - ControlPort is responsive (the SOCKS port is not probed)
//
// Example:
//
//	torProcess, _ := tornago.StartTorDaemon(cfg)
//	health := tornago.CheckTorDaemon(context.Background(), torProcess)
//	if !health.IsHealthy() {
//	    log.Printf("Tor daemon unhealthy: %s", health.Message())
//	}
func CheckTorDaemon(ctx context.Context, proc *TorProcess) HealthCheck {
	start := time.Now()

	// Check if process is running
	if proc.cmd == nil || proc.cmd.Process == nil {
		return HealthCheck{
			status:    HealthStatusUnhealthy,
			message:   "Tor process not running",
			timestamp: start,
			latency:   time.Since(start),
		}
	}

	// Try to get control auth
	auth, _, err := ControlAuthFromTor(proc.ControlAddr(), 5*time.Second)
	if err != nil {
		return HealthCheck{
			status:    HealthStatusDegraded,
			message:   fmt.Sprintf("Cannot get control auth: %v", err),
			timestamp: start,
			latency:   time.Since(start),
		}
	}

	engine, err := Dial(ctx, proc.ControlAddr(), WithEngineDialTimeout(5*time.Second))
	if err != nil {
		return HealthCheck{
			status:    HealthStatusDegraded,
			message:   fmt.Sprintf("Cannot connect to control port: %v", err),
			timestamp: start,
			latency:   time.Since(start),
		}
	}
	defer engine.Close()

	if err := engine.Authenticate(ctx, auth); err != nil {
		return HealthCheck{
			status:    HealthStatusDegraded,
			message:   fmt.Sprintf("Authentication failed: %v", err),
			timestamp: start,
			latency:   time.Since(start),
		}
	}

	if _, err := engine.GetInfo(ctx, "version"); err != nil {
		return HealthCheck{
			status:    HealthStatusDegraded,
			message:   fmt.Sprintf("GetInfo failed: %v", err),
			timestamp: start,
			latency:   time.Since(start),
		}
	}

	return HealthCheck{
		status:    HealthStatusHealthy,
		message:   "Tor daemon is healthy",
		timestamp: start,
		latency:   time.Since(start),
	}
}
