// Package queue implements named, optionally bounded and persistent FIFO
// queues with session-scoped transactions.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Info is a point-in-time view of a materialized queue.
type Info struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Persistent bool   `json:"persistent"`
}

// Manager owns named queues and their configurations. Queues are
// materialized on first lookup; persistent queues load their content from
// the durable backend at that point.
type Manager struct {
	log     zerolog.Logger
	memory  Backend
	durable Backend

	mu         sync.Mutex
	running    bool
	defaultCfg Config
	configs    map[string]Config
	queues     map[string]*boundedQueue
}

// Option configures a Manager.
type Option func(*Manager)

// WithDurableBackend sets the backend used by persistent queues.
func WithDurableBackend(b Backend) Option {
	return func(m *Manager) { m.durable = b }
}

// WithMemoryBackend replaces the backend used by non-persistent queues.
func WithMemoryBackend(b Backend) Option {
	return func(m *Manager) { m.memory = b }
}

// WithDefaultConfig sets the configuration for names without their own.
func WithDefaultConfig(cfg Config) Option {
	return func(m *Manager) { m.defaultCfg = cfg }
}

// NewManager creates a stopped manager. Call Start before using queues.
func NewManager(log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:        log.With().Str("component", "queue_manager").Logger(),
		memory:     NewMemoryBackend(),
		defaultCfg: DefaultConfig(),
		configs:    make(map[string]Config),
		queues:     make(map[string]*boundedQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start makes queues usable. Content of queues materialized before a Stop is
// kept, so Stop followed by Start is a warm restart.
func (m *Manager) Start(ctx context.Context) error {
	if m.durable != nil {
		if err := m.durable.Ping(ctx); err != nil {
			return fmt.Errorf("durable backend ping: %w", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	for _, q := range m.queues {
		q.setStopped(false)
	}
	m.log.Info().Int("queues", len(m.queues)).Msg("Queue manager started")
	return nil
}

// Stop fails every blocked and future queue operation with ErrStopped until
// the next Start. Backends stay open; their owner closes them.
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	for _, q := range m.queues {
		q.setStopped(true)
	}
	m.log.Info().Msg("Queue manager stopped")
	return nil
}

// Running reports whether the manager is started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Ping reports ErrStopped while the manager is stopped and otherwise checks
// the durable backend, if any.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.Running() {
		return ErrStopped
	}
	if m.durable == nil {
		return nil
	}
	return m.durable.Ping(ctx)
}

// Session creates a session for one unit of work.
func (m *Manager) Session() *Session {
	id := uuid.NewString()
	return &Session{
		id:  id,
		mgr: m,
		log: m.log.With().Str("session_id", id).Logger(),
	}
}

// SetDefaultConfig sets the configuration applied to names materialized
// later without their own configuration. Materialized queues keep theirs.
func (m *Manager) SetDefaultConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultCfg = cfg
	return nil
}

// SetQueueConfig sets the configuration for name. It returns
// ErrQueueMaterialized if name is in use with a different configuration.
func (m *Manager) SetQueueConfig(name string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok && q.cfg != cfg {
		return fmt.Errorf("%w: %q", ErrQueueMaterialized, name)
	}
	m.configs[name] = cfg
	return nil
}

// ResetQueueConfig drops the configuration set for name. A materialized
// queue keeps the configuration it was created with.
func (m *Manager) ResetQueueConfig(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, name)
}

// QueueConfig returns the configuration name has or would get.
func (m *Manager) QueueConfig(name string) Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configForLocked(name)
}

func (m *Manager) configForLocked(name string) Config {
	if q, ok := m.queues[name]; ok {
		return q.cfg
	}
	if cfg, ok := m.configs[name]; ok {
		return cfg
	}
	return m.defaultCfg
}

// Lookup returns information on a materialized queue without materializing it.
func (m *Manager) Lookup(name string) (Info, bool) {
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return Info{
		Name:       name,
		Size:       q.committedSize(),
		Capacity:   q.cfg.Capacity,
		Persistent: q.cfg.Persistent,
	}, true
}

// Names returns the names of materialized queues in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) lookup(ctx context.Context, name string) (*boundedQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q, nil
	}

	cfg := m.configForLocked(name)
	backend := m.memory
	if cfg.Persistent {
		if m.durable == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoDurableBackend, name)
		}
		backend = m.durable
	}
	storage, err := backend.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open queue %q: %w", name, err)
	}
	q, err := newBoundedQueue(ctx, name, cfg, storage, m.log)
	if err != nil {
		return nil, err
	}
	q.stopped = !m.running
	m.queues[name] = q
	m.log.Debug().
		Str("queue", name).
		Bool("persistent", cfg.Persistent).
		Int("capacity", cfg.Capacity).
		Int("size", q.size).
		Msg("Queue materialized")
	return q, nil
}

func (m *Manager) lookupExisting(name string) (*boundedQueue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	return q, ok
}

func (m *Manager) dispose(ctx context.Context, name string, q *boundedQueue) error {
	m.mu.Lock()
	if cur, ok := m.queues[name]; ok && cur == q {
		delete(m.queues, name)
	}
	m.mu.Unlock()
	return q.dispose(ctx)
}
