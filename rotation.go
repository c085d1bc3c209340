package tornago

import (
	"context"
	"sync"
	"time"
)

// opCircuitManager labels errors originating from CircuitManager operations.
const opCircuitManager = "CircuitManager"

// CircuitManager manages Tor circuit rotation: automatic rotation on a
// schedule, prewarming, and manual rotation, all via SIGNAL NEWNYM against an
// authenticated Engine.
//
// Example usage:
//
//	manager := tornago.NewCircuitManager(engine)
//	manager.StartAutoRotation(ctx, 10*time.Minute)
//	defer manager.Stop()
type CircuitManager struct {
	engine           *Engine
	logger           Logger
	rotationInterval time.Duration
	rotationTimer    *time.Timer
	stopCh           chan struct{}
	mu               sync.Mutex
	running          bool
}

// NewCircuitManager creates a CircuitManager bound to engine.
func NewCircuitManager(engine *Engine) *CircuitManager {
	return &CircuitManager{
		engine: engine,
		logger: noopLogger{},
		stopCh: make(chan struct{}),
	}
}

// WithLogger sets a logger for circuit management operations.
func (m *CircuitManager) WithLogger(logger Logger) *CircuitManager {
	m.logger = logger
	return m
}

// StartAutoRotation begins automatic circuit rotation at the given interval,
// signaling NEWNYM until Stop is called or ctx is canceled.
func (m *CircuitManager) StartAutoRotation(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return newError(ErrInvalidConfig, opCircuitManager, "auto-rotation already running", nil)
	}
	if interval <= 0 {
		return newError(ErrInvalidConfig, opCircuitManager, "rotation interval must be positive", nil)
	}

	m.rotationInterval = interval
	m.running = true
	m.logger.Log("info", "starting auto-rotation", "interval", interval)

	go m.autoRotateLoop(ctx)
	return nil
}

func (m *CircuitManager) autoRotateLoop(ctx context.Context) {
	m.rotationTimer = time.NewTimer(m.rotationInterval)
	defer m.rotationTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Log("info", "auto-rotation stopped", "reason", "context canceled")
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return

		case <-m.stopCh:
			m.logger.Log("info", "auto-rotation stopped", "reason", "stop requested")
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return

		case <-m.rotationTimer.C:
			m.logger.Log("debug", "rotating circuits", "interval", m.rotationInterval)
			if err := m.engine.Signal(ctx, "NEWNYM"); err != nil {
				m.logger.Log("error", "circuit rotation failed", "error", err)
			} else {
				m.logger.Log("info", "circuits rotated successfully")
			}
			m.rotationTimer.Reset(m.rotationInterval)
		}
	}
}

// Stop stops automatic circuit rotation if it's running.
func (m *CircuitManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.logger.Log("info", "stopping circuit manager")
	close(m.stopCh)
	m.running = false
}

// IsRunning returns true if automatic rotation is currently active.
func (m *CircuitManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RotateNow immediately signals NEWNYM, outside of any automatic schedule.
func (m *CircuitManager) RotateNow(ctx context.Context) error {
	m.logger.Log("debug", "manual circuit rotation requested")
	if err := m.engine.Signal(ctx, "NEWNYM"); err != nil {
		m.logger.Log("error", "manual circuit rotation failed", "error", err)
		return err
	}
	m.logger.Log("info", "manual circuit rotation completed")
	return nil
}

// PrewarmCircuits signals NEWNYM to encourage Tor to build fresh circuits in
// advance of an anticipated burst of requests. Callers should wait a few
// seconds afterward for the new circuits to build.
func (m *CircuitManager) PrewarmCircuits(ctx context.Context) error {
	m.logger.Log("info", "prewarming circuits")
	if err := m.engine.Signal(ctx, "NEWNYM"); err != nil {
		m.logger.Log("error", "circuit prewarming failed", "error", err)
		return err
	}
	m.logger.Log("info", "circuit prewarming initiated", "wait_time", "5-10 seconds recommended")
	return nil
}

// CircuitStats reports current circuit-rotation manager state.
type CircuitStats struct {
	AutoRotationEnabled bool
	RotationInterval    time.Duration
}

// Stats returns current statistics about circuit rotation management.
func (m *CircuitManager) Stats() CircuitStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CircuitStats{
		AutoRotationEnabled: m.running,
		RotationInterval:    m.rotationInterval,
	}
}
