package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Service represents a lifecycle-managed component. Every long-running part
// of a node implements this interface so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]bool
	started  int
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]bool)}
}

// Register adds a service. Names must be unique. Registering after Start is
// an error.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc == nil {
		return errors.New("system: nil service")
	}
	if m.started > 0 {
		return fmt.Errorf("system: register %s after start", svc.Name())
	}
	if m.names[svc.Name()] {
		return fmt.Errorf("system: service %s already registered", svc.Name())
	}
	m.names[svc.Name()] = true
	m.services = append(m.services, svc)
	return nil
}

// Start starts every service. If one fails, those already started are
// stopped and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := m.started; i < len(m.services); i++ {
		svc := m.services[i]
		if err := svc.Start(ctx); err != nil {
			stopErr := m.stopLocked(ctx)
			return errors.Join(fmt.Errorf("start %s: %w", svc.Name(), err), stopErr)
		}
		m.started = i + 1
	}
	return nil
}

// Stop stops started services in reverse order and returns every error.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// Names lists registered services in start order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.services))
	for i, svc := range m.services {
		out[i] = svc.Name()
	}
	return out
}
