package vault

import (
	"errors"
	"sync"
)

var (
	// ErrManagerRegistered is returned by Register when a manager is already registered.
	ErrManagerRegistered = errors.New("vault manager already registered")
	// ErrManagerNotRegistered is returned by Registered before Register has succeeded.
	ErrManagerNotRegistered = errors.New("vault manager not registered")
)

var registry struct {
	mu sync.Mutex
	m  *Manager
}

// Register installs m as the process-wide manager. It succeeds once; later calls fail
// without replacing the registered instance.
func Register(m *Manager) error {
	if m == nil {
		return errors.New("vault: cannot register nil manager")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.m != nil {
		return ErrManagerRegistered
	}
	registry.m = m
	return nil
}

// Registered returns the process-wide manager.
func Registered() (*Manager, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.m == nil {
		return nil, ErrManagerNotRegistered
	}
	return registry.m, nil
}
