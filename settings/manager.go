package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Manager owns the process-wide settings. It is loaded once and persists
// every committed change.
type Manager struct {
	logger shared.LoggerAdapter
	store  Store

	mu      sync.Mutex
	current Settings
}

func NewManager(logger shared.LoggerAdapter, store Store) (*Manager, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if store == nil {
		return nil, shared.ErrNoStore
	}
	return &Manager{logger: logger, store: store, current: Defaults()}, nil
}

// Load reads the stored entry. Absent or unparseable entries fall back to
// the defaults.
func (m *Manager) Load(ctx context.Context) Settings {
	loaded := m.read(ctx)
	m.mu.Lock()
	m.current = loaded
	m.mu.Unlock()
	return loaded
}

func (m *Manager) read(ctx context.Context) Settings {
	raw, ok, err := m.store.Get(ctx, Key)
	if err != nil {
		m.logger.Error("reading settings", err)
		return Defaults()
	}
	if !ok {
		m.logger.Debug("no stored settings, using defaults")
		return Defaults()
	}
	var s Settings
	if err := sonic.Unmarshal(raw, &s); err != nil {
		m.logger.Warn("stored settings unparseable, using defaults", zap.Error(err))
		return Defaults()
	}
	return s.normalized()
}

func (m *Manager) Snapshot() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Update commits fn applied to the latest settings and writes them through
// in commit order. A failed write keeps the in-memory change.
func (m *Manager) Update(ctx context.Context, fn func(Settings) (Settings, error)) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.current)
	if err != nil {
		return m.current, err
	}
	m.current = next

	raw, err := sonic.Marshal(next)
	if err != nil {
		return next, fmt.Errorf("encoding settings: %w", err)
	}
	if err := m.store.Put(ctx, Key, raw); err != nil {
		m.logger.Error("persisting settings", err)
		return next, fmt.Errorf("persisting settings: %w", err)
	}
	return next, nil
}
